package stream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/utils/clock"

	"github.com/autopeer-io/pathrunner/internal/executor/core/model"
	"github.com/autopeer-io/pathrunner/internal/executor/waiter"
	"github.com/autopeer-io/pathrunner/internal/pkg/metrics"
	"github.com/autopeer-io/pathrunner/internal/pkg/protocol"
	"github.com/autopeer-io/pathrunner/pkg/log"
	"github.com/autopeer-io/pathrunner/pkg/mqtt"
	"github.com/autopeer-io/pathrunner/pkg/mqtt/topic"
)

var (
	// ErrAckFailed means every attempt for a waypoint expired.
	ErrAckFailed = errors.New("ACK_FAILED")

	// ErrReachedTimeout means strict mode saw no WAYPOINT_REACHED in time.
	ErrReachedTimeout = errors.New("REACHED_TIMEOUT")

	// ErrOutOfOrder means the waypoint list is not strictly increasing by seq.
	ErrOutOfOrder = errors.New("waypoints out of order")
)

// ReachedChecker answers whether a WAYPOINT_REACHED record has been stored.
type ReachedChecker interface {
	HasReached(ctx context.Context, executionID string, seq int) (bool, error)
}

// Config tunes delivery. Zero durations fall back to defaults.
type Config struct {
	AckTimeout           time.Duration
	Attempts             int
	StrictWaitForReached bool
	StrictTimeout        time.Duration
	PollInterval         time.Duration
	SendInterval         time.Duration
}

func (c *Config) setDefaults() {
	if c.AckTimeout <= 0 {
		c.AckTimeout = 2 * time.Second
	}
	if c.Attempts <= 0 {
		c.Attempts = 3
	}
	if c.StrictTimeout <= 0 {
		c.StrictTimeout = 10 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 100 * time.Millisecond
	}
}

// Option configures a Streamer.
type Option func(*Streamer)

// WithClock sets the clock used for the pause between waypoints.
func WithClock(c clock.Clock) Option {
	return func(s *Streamer) { s.clock = c }
}

// WithIDGenerator replaces the message id source.
func WithIDGenerator(fn func() string) Option {
	return func(s *Streamer) { s.newID = fn }
}

// Streamer delivers waypoints one at a time and waits for each to be
// acknowledged before sending the next.
type Streamer struct {
	cfg       Config
	publisher mqtt.Publisher
	topics    *topic.Builder
	registry  *waiter.Registry[protocol.Message]
	reached   ReachedChecker
	clock     clock.Clock
	newID     func() string
	log       log.Logger
}

// New creates a Streamer. reached may be nil when strict mode is off.
func New(cfg Config, publisher mqtt.Publisher, topics *topic.Builder, registry *waiter.Registry[protocol.Message], reached ReachedChecker, opts ...Option) *Streamer {
	cfg.setDefaults()
	s := &Streamer{
		cfg:       cfg,
		publisher: publisher,
		topics:    topics,
		registry:  registry,
		reached:   reached,
		clock:     clock.RealClock{},
		newID:     uuid.NewString,
		log:       log.WithName("streamer"),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Stream sends waypoints in order. It stops at the first failure.
func (s *Streamer) Stream(ctx context.Context, robotID, executionID string, waypoints []model.Waypoint) error {
	for i, wp := range waypoints {
		if i > 0 && wp.Seq <= waypoints[i-1].Seq {
			return fmt.Errorf("%w: seq=%d after seq=%d", ErrOutOfOrder, wp.Seq, waypoints[i-1].Seq)
		}

		if _, err := s.Send(ctx, robotID, executionID, wp); err != nil {
			return err
		}

		if s.cfg.SendInterval > 0 && i < len(waypoints)-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-s.clock.After(s.cfg.SendInterval):
			}
		}
	}
	return nil
}

// Send publishes wp until a correlated response arrives, making at most
// Attempts attempts of AckTimeout each. Every attempt carries a new msg_id.
func (s *Streamer) Send(ctx context.Context, robotID, executionID string, wp model.Waypoint) (protocol.Message, error) {
	key := waiter.Key{ExecutionID: executionID, Seq: wp.Seq}
	logger := s.log.WithValues("execID", executionID, "robotID", robotID, "seq", wp.Seq)
	cmdTopic := s.topics.Command(robotID)

	for attempt := 1; attempt <= s.cfg.Attempts; attempt++ {
		// Registered before publishing so a fast response always finds it.
		w, err := s.registry.Register(key, s.cfg.AckTimeout)
		if err != nil {
			return nil, err
		}

		cmd := &protocol.WaypointCommand{
			Type:     protocol.TypeWaypoint,
			MsgID:    s.newID(),
			ExecID:   executionID,
			Payload:  toPayload(wp),
			SentAtMs: time.Now().UnixMilli(),
		}
		data, err := protocol.Encode(cmd)
		if err != nil {
			s.registry.Discard(key)
			return nil, fmt.Errorf("encode waypoint seq=%d: %w", wp.Seq, err)
		}

		sentAt := time.Now()
		if err := s.publish(ctx, cmdTopic, data); err != nil {
			// The attempt is still charged its full deadline.
			metrics.DeliveryAttemptsTotal.WithLabelValues("publish_error").Inc()
			logger.Warn("Failed to publish waypoint", "attempt", attempt, "msgID", cmd.MsgID, "error", err.Error())
		} else {
			logger.Debug("Published waypoint", "attempt", attempt, "msgID", cmd.MsgID)
		}

		resp, err := w.Wait(ctx)
		switch {
		case err == nil:
			metrics.DeliveryAttemptsTotal.WithLabelValues(resultLabel(resp)).Inc()
			metrics.AckLatency.Observe(time.Since(sentAt).Seconds())
			if s.cfg.StrictWaitForReached {
				if err := s.awaitReached(ctx, executionID, wp.Seq, resp); err != nil {
					return nil, err
				}
			}
			return resp, nil

		case errors.Is(err, waiter.ErrTimeout):
			metrics.DeliveryAttemptsTotal.WithLabelValues("timeout").Inc()
			logger.Warn("No acknowledgment within deadline", "attempt", attempt, "attempts", s.cfg.Attempts, "timeout", s.cfg.AckTimeout)

		default:
			metrics.DeliveryAttemptsTotal.WithLabelValues("cancelled").Inc()
			return nil, err
		}
	}

	return nil, fmt.Errorf("%w seq=%d", ErrAckFailed, wp.Seq)
}

func (s *Streamer) publish(ctx context.Context, dst string, data []byte) error {
	// bounded so a broker outage cannot stretch an attempt
	ctx, cancel := context.WithTimeout(ctx, s.cfg.AckTimeout)
	defer cancel()
	return s.publisher.Publish(ctx, dst, mqtt.AtLeastOnce, false, data)
}

// awaitReached polls the event log until the seq is reported reached.
func (s *Streamer) awaitReached(ctx context.Context, executionID string, seq int, resp protocol.Message) error {
	if resp != nil && resp.Kind() == protocol.TypeWaypointReached {
		return nil
	}
	if s.reached == nil {
		return fmt.Errorf("strict wait requires an event log")
	}

	err := wait.PollUntilContextTimeout(ctx, s.cfg.PollInterval, s.cfg.StrictTimeout, true, func(ctx context.Context) (bool, error) {
		ok, err := s.reached.HasReached(ctx, executionID, seq)
		if err != nil {
			s.log.Warn("Failed to query reached state", "execID", executionID, "seq", seq, "error", err.Error())
			return false, nil
		}
		return ok, nil
	})
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	case wait.Interrupted(err):
		return fmt.Errorf("%w seq=%d", ErrReachedTimeout, seq)
	default:
		return err
	}
}

func toPayload(wp model.Waypoint) protocol.WaypointPayload {
	nozzle := 0
	if wp.NozzleOn {
		nozzle = 1
	}
	dwell := wp.DwellMs
	if dwell < 0 {
		dwell = 0
	}
	return protocol.WaypointPayload{
		Seq:      wp.Seq,
		X:        wp.X,
		Y:        wp.Y,
		Speed:    wp.EffectiveSpeed(),
		NozzleOn: nozzle,
		DwellMs:  dwell,
	}
}

func resultLabel(resp protocol.Message) string {
	if resp != nil && resp.Kind() == protocol.TypeWaypointReached {
		return "reached"
	}
	return "acked"
}
