// Package robot is the simulated spraying robot: it queues WAYPOINT
// commands, executes them in order and reports progress.
package robot

import (
	"context"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/autopeer-io/pathrunner/internal/pkg/metrics"
	"github.com/autopeer-io/pathrunner/internal/pkg/protocol"
	"github.com/autopeer-io/pathrunner/internal/pkg/server"
	"github.com/autopeer-io/pathrunner/internal/robot/command"
	"github.com/autopeer-io/pathrunner/internal/robot/core"
	"github.com/autopeer-io/pathrunner/internal/robot/queue"
	"github.com/autopeer-io/pathrunner/internal/robot/telemetry"
	"github.com/autopeer-io/pathrunner/pkg/log"
	"github.com/autopeer-io/pathrunner/pkg/mqtt"
	"github.com/autopeer-io/pathrunner/pkg/mqtt/topic"
)

type Robot struct {
	id       string
	client   mqtt.Client
	topics   *topic.Builder
	actuator core.Actuator
	queue    *queue.Queue[*protocol.WaypointCommand]
	handler  *command.Handler
	reporter *telemetry.Reporter
	servers  []server.Server
	log      log.Logger

	mu     sync.RWMutex
	execID string
}

func NewRobot(id string, client mqtt.Client, topics *topic.Builder, actuator core.Actuator, queueLimit int, telemetryInterval time.Duration) *Robot {
	r := &Robot{
		id:       id,
		client:   client,
		topics:   topics,
		actuator: actuator,
		queue:    queue.New[*protocol.WaypointCommand](queueLimit, queue.WithDepthGauge(metrics.RobotQueueDepth)),
		log:      log.WithName("robot").WithValues("robotID", id),
	}
	r.handler = command.NewHandler(id, client, topics, r.queue)
	if telemetryInterval > 0 {
		r.reporter = telemetry.NewReporter(id, client, topics, r, telemetryInterval)
	}
	return r
}

// WithServers adds servers that run alongside the robot, such as probes.
func (r *Robot) WithServers(servers ...server.Server) *Robot {
	r.servers = append(r.servers, servers...)
	return r
}

// Run connects, subscribes to cmd/{robotId} and executes commands until
// ctx is done.
func (r *Robot) Run(ctx context.Context) error {
	r.log.Info("Starting robot simulator")

	if err := r.client.Start(ctx); err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		r.client.Disconnect(shutdownCtx)
		metrics.BrokerConnected.Set(0)
	}()

	if err := r.client.AwaitConnection(ctx); err != nil {
		return err
	}
	metrics.BrokerConnected.Set(1)

	cmdTopic := r.topics.Command(r.id)
	if err := r.client.Subscribe(ctx, cmdTopic, mqtt.AtLeastOnce, r.handler.Handle); err != nil {
		return err
	}
	r.log.Info("Listening for commands", "topic", cmdTopic)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return r.queue.Run(ctx, r.execute)
	})
	if r.reporter != nil {
		g.Go(func() error {
			r.reporter.Run(ctx)
			return nil
		})
	}
	for _, srv := range r.servers {
		g.Go(func() error { return srv.Start(ctx) })
	}

	err := g.Wait()
	r.log.Info("Robot shutting down", "queued", r.queue.Len())
	return err
}

// execute runs one command and reports it reached.
func (r *Robot) execute(ctx context.Context, cmd *protocol.WaypointCommand) {
	wp := cmd.Payload
	logger := r.log.WithValues("execID", cmd.ExecID, "seq", wp.Seq)
	logger.Info("Processing waypoint", "x", wp.X, "y", wp.Y)

	r.mu.Lock()
	r.execID = cmd.ExecID
	r.mu.Unlock()

	pose, err := r.actuator.Execute(ctx, wp)
	if err != nil {
		logger.Warn("Motion interrupted", "error", err.Error())
		return
	}

	nozzle := wp.NozzleOn
	data, err := protocol.Encode(&protocol.WaypointReached{
		Type:        protocol.TypeWaypointReached,
		ExecID:      cmd.ExecID,
		Seq:         wp.Seq,
		X:           round3(pose.X),
		Y:           round3(pose.Y),
		NozzleState: &nozzle,
		TimestampMs: time.Now().UnixMilli(),
	})
	if err != nil {
		logger.Error(err, "Failed to encode WAYPOINT_REACHED")
		return
	}
	if err := r.client.Publish(ctx, r.topics.Events(r.id), mqtt.AtLeastOnce, false, data); err != nil {
		logger.Error(err, "Failed to publish WAYPOINT_REACHED")
		return
	}
	logger.Info("Waypoint reached", "queueLen", r.queue.Len())
}

// ExecutionID returns the execution of the command most recently taken.
func (r *Robot) ExecutionID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.execID
}

// HeadSeq returns the seq of the next queued command.
func (r *Robot) HeadSeq() (int, bool) {
	cmd, ok := r.queue.Peek()
	if !ok {
		return 0, false
	}
	return cmd.Payload.Seq, true
}

func (r *Robot) Pose() core.Pose {
	return r.actuator.Pose()
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
