package hal

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/autopeer-io/pathrunner/internal/pkg/protocol"
	"github.com/autopeer-io/pathrunner/internal/robot/core"
	"github.com/autopeer-io/pathrunner/pkg/log"
)

// Timing is the simulated motion profile.
type Timing struct {
	Travel time.Duration
	Jitter time.Duration
	Settle time.Duration
}

// Simulator is the development Actuator. It reaches every target exactly.
type Simulator struct {
	timing Timing
	clock  clock.Clock
	jitter func() float64
	log    log.Logger

	mu   sync.RWMutex
	pose core.Pose
}

var _ core.Actuator = (*Simulator)(nil)

// SimOption configures a Simulator.
type SimOption func(*Simulator)

// WithClock sets the clock motion waits on.
func WithClock(c clock.Clock) SimOption {
	return func(s *Simulator) { s.clock = c }
}

// WithJitter replaces the [0,1) jitter source.
func WithJitter(fn func() float64) SimOption {
	return func(s *Simulator) { s.jitter = fn }
}

func NewSimulator(timing Timing, opts ...SimOption) *Simulator {
	s := &Simulator{
		timing: timing,
		clock:  clock.RealClock{},
		jitter: rand.Float64,
		log:    log.WithName("hal-sim"),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Execute travels, updates the pose, then settles and dwells.
func (s *Simulator) Execute(ctx context.Context, wp protocol.WaypointPayload) (core.Pose, error) {
	travel := s.timing.Travel + time.Duration(float64(s.timing.Jitter)*s.jitter())
	s.log.Debug("Travelling", "seq", wp.Seq, "x", wp.X, "y", wp.Y, "speed", wp.Speed, "duration", travel)
	if err := s.sleep(ctx, travel); err != nil {
		return s.Pose(), err
	}

	s.mu.Lock()
	s.pose = core.Pose{X: wp.X, Y: wp.Y, NozzleState: wp.NozzleOn}
	pose := s.pose
	s.mu.Unlock()

	hold := s.timing.Settle + time.Duration(wp.DwellMs)*time.Millisecond
	if err := s.sleep(ctx, hold); err != nil {
		return pose, err
	}
	return pose, nil
}

func (s *Simulator) Pose() core.Pose {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pose
}

func (s *Simulator) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.clock.After(d):
		return nil
	}
}
