// Package telemetry publishes the robot's periodic status samples.
package telemetry

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/autopeer-io/pathrunner/internal/pkg/protocol"
	"github.com/autopeer-io/pathrunner/internal/robot/core"
	"github.com/autopeer-io/pathrunner/pkg/log"
	"github.com/autopeer-io/pathrunner/pkg/mqtt"
	"github.com/autopeer-io/pathrunner/pkg/mqtt/topic"
)

const (
	cruiseSpeed  = 0.5
	batteryBase  = 85.0
	batterySpan  = 5.0
	maxDeviation = 0.02
)

// Source supplies the state a sample is built from.
type Source interface {
	// ExecutionID is the execution of the most recent command taken.
	ExecutionID() string
	// HeadSeq is the seq at the head of the command queue.
	HeadSeq() (int, bool)
	Pose() core.Pose
}

type Reporter struct {
	robotID   string
	publisher mqtt.Publisher
	topics    *topic.Builder
	source    Source
	interval  time.Duration
	random    func() float64
	log       log.Logger
}

func NewReporter(robotID string, publisher mqtt.Publisher, topics *topic.Builder, source Source, interval time.Duration) *Reporter {
	return &Reporter{
		robotID:   robotID,
		publisher: publisher,
		topics:    topics,
		source:    source,
		interval:  interval,
		random:    rand.Float64,
		log:       log.WithName("telemetry").WithValues("robotID", robotID),
	}
}

// Run publishes a sample every interval until ctx is done.
func (r *Reporter) Run(ctx context.Context) {
	wait.UntilWithContext(ctx, r.Publish, r.interval)
}

// Publish sends one sample at QoS 0. Failures are logged and dropped.
func (r *Reporter) Publish(ctx context.Context) {
	data, err := protocol.Encode(r.Sample())
	if err != nil {
		r.log.Error(err, "Failed to encode telemetry")
		return
	}
	if err := r.publisher.Publish(ctx, r.topics.Telemetry(r.robotID), mqtt.AtMostOnce, false, data); err != nil {
		r.log.Debug("Dropped telemetry sample", "error", err.Error())
	}
}

// Sample builds the current status.
func (r *Reporter) Sample() *protocol.Telemetry {
	pose := r.source.Pose()
	seq, ok := r.source.HeadSeq()
	if !ok {
		seq = 0
	}

	x, y := round3(pose.X), round3(pose.Y)
	theta, speed := 0.0, cruiseSpeed
	nozzle := pose.NozzleState
	battery := batteryBase + r.random()*batterySpan
	deviation := r.random() * maxDeviation

	return &protocol.Telemetry{
		Type:        protocol.TypeTelemetry,
		ExecID:      r.source.ExecutionID(),
		SeqCurrent:  &seq,
		X:           &x,
		Y:           &y,
		Theta:       &theta,
		Speed:       &speed,
		NozzleState: &nozzle,
		BatteryPct:  &battery,
		DeviationM:  &deviation,
		TimestampMs: time.Now().UnixMilli(),
	}
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
