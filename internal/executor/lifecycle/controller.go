// Package lifecycle owns execution state: it loads a PENDING execution,
// streams its trajectory to the robot and records the outcome.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/looplab/fsm"

	"github.com/autopeer-io/pathrunner/internal/executor/core"
	"github.com/autopeer-io/pathrunner/internal/executor/core/model"
	"github.com/autopeer-io/pathrunner/internal/pkg/metrics"
	"github.com/autopeer-io/pathrunner/pkg/log"
)

var (
	// ErrUnknownExecution is returned for an id with no stored execution.
	ErrUnknownExecution = errors.New("unknown execution")

	// ErrTerminal is returned when starting a COMPLETED or ERROR execution.
	ErrTerminal = errors.New("execution already finished")

	// ErrNoRobot is returned when neither the request nor the record names a robot.
	ErrNoRobot = errors.New("execution has no robot")

	// ErrShuttingDown is returned by Start after Shutdown.
	ErrShuttingDown = errors.New("controller is shutting down")
)

const (
	reasonStopped     = "stopped"
	reasonInterrupted = "interrupted"

	persistTimeout = 5 * time.Second
)

// Streamer delivers a trajectory to a robot.
type Streamer interface {
	Stream(ctx context.Context, robotID, executionID string, waypoints []model.Waypoint) error
}

// Option configures a Controller.
type Option func(*Controller)

// WithArchiver uploads a report after every terminal transition.
func WithArchiver(a core.Archiver, events core.EventRepository) Option {
	return func(c *Controller) {
		c.archiver = a
		c.events = events
	}
}

// WithNow overrides the timestamp source.
func WithNow(fn func() time.Time) Option {
	return func(c *Controller) { c.now = fn }
}

type run struct {
	execID    string
	robotID   string
	waypoints []model.Waypoint

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once

	mu     sync.Mutex
	reason string
}

func (r *run) stop(reason string) {
	r.mu.Lock()
	if r.reason == "" {
		r.reason = reason
	}
	r.mu.Unlock()
	r.cancel()
}

func (r *run) stopReason() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reason
}

// Controller runs executions. At most one stream exists per execution id.
type Controller struct {
	executions core.ExecutionRepository
	streamer   Streamer
	archiver   core.Archiver
	events     core.EventRepository
	now        func() time.Time
	log        log.Logger

	mu     sync.Mutex
	runs   map[string]*run
	closed bool
	wg     sync.WaitGroup
}

func NewController(executions core.ExecutionRepository, streamer Streamer, opts ...Option) *Controller {
	c := &Controller{
		executions: executions,
		streamer:   streamer,
		now:        time.Now,
		log:        log.WithName("lifecycle"),
		runs:       make(map[string]*run),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Start begins streaming the execution to robotID, or to the robot stored
// on the execution when robotID is empty. It returns once the execution is
// RUNNING; delivery continues in the background.
//
// Starting an execution that is already running is a no-op.
func (c *Controller) Start(ctx context.Context, executionID, robotID string) error {
	logger := c.log.WithValues("execID", executionID)

	r, err := c.reserve(executionID)
	if err != nil {
		return err
	}
	if r == nil {
		logger.Info("Execution already running, ignoring start")
		return nil
	}

	exec, err := c.executions.Get(ctx, executionID)
	if err != nil {
		c.release(r)
		if errors.Is(err, core.ErrNotFound) {
			metrics.ExecutionsTotal.WithLabelValues("unknown").Inc()
			logger.Warn("Start requested for unknown execution")
			return fmt.Errorf("%w: %s", ErrUnknownExecution, executionID)
		}
		return fmt.Errorf("load execution %s: %w", executionID, err)
	}

	switch {
	case exec.Status == model.ExecutionRunning:
		c.release(r)
		logger.Info("Execution is RUNNING, ignoring start")
		return nil
	case exec.Status.Terminal():
		c.release(r)
		metrics.ExecutionsTotal.WithLabelValues("rejected").Inc()
		logger.Warn("Start requested for finished execution", "status", exec.Status)
		return fmt.Errorf("%w: %s is %s", ErrTerminal, executionID, exec.Status)
	}

	r.robotID = robotID
	if r.robotID == "" {
		r.robotID = exec.RobotID
	}

	machine := NewExecutionStateMachine(exec.Status, c.executions, c.now)

	if r.robotID == "" {
		c.finish(r, machine, ErrNoRobot)
		return ErrNoRobot
	}

	r.waypoints, err = c.executions.Waypoints(ctx, executionID)
	if err != nil {
		c.finish(r, machine, fmt.Errorf("load waypoints: %w", err))
		return err
	}

	if err := r.ctx.Err(); err != nil {
		c.finish(r, machine, errors.New(r.stopReason()))
		return err
	}

	if err := machine.Event(ctx, EventStart, r); err != nil {
		var canceled fsm.CanceledError
		if errors.As(err, &canceled) && canceled.Err != nil {
			err = canceled.Err
		}
		c.finish(r, machine, err)
		return err
	}

	logger.Info("Execution started", "robotID", r.robotID, "waypoints", len(r.waypoints))
	metrics.ActiveExecutions.Inc()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer metrics.ActiveExecutions.Dec()

		err := c.streamer.Stream(r.ctx, r.robotID, r.execID, r.waypoints)
		if err != nil {
			if reason := r.stopReason(); reason != "" && r.ctx.Err() != nil {
				err = errors.New(reason)
			}
		}
		c.finish(r, machine, err)
	}()

	return nil
}

// Stop cancels the stream of a running execution and records it as ERROR.
// A RUNNING execution with no live stream, such as one left behind by a
// previous process, is failed directly. Stopping a finished execution is a
// no-op.
func (c *Controller) Stop(ctx context.Context, executionID string) error {
	c.mu.Lock()
	r, ok := c.runs[executionID]
	c.mu.Unlock()

	if ok {
		r.stop(reasonStopped)
		select {
		case <-r.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	exec, err := c.executions.Get(ctx, executionID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrUnknownExecution, executionID)
		}
		return err
	}
	if exec.Status.Terminal() {
		return nil
	}

	stale := &run{execID: executionID, robotID: exec.RobotID}
	machine := NewExecutionStateMachine(exec.Status, c.executions, c.now)
	if err := machine.Event(ctx, EventFail, stale, reasonStopped); err != nil {
		return err
	}
	metrics.ExecutionsTotal.WithLabelValues(string(model.ExecutionError)).Inc()
	c.archive(ctx, executionID)
	return nil
}

// Active reports whether a stream is live for executionID.
func (c *Controller) Active(executionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.runs[executionID]
	return ok
}

// Shutdown interrupts every live stream and waits for their outcomes to be
// recorded. Further starts are refused.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	runs := make([]*run, 0, len(c.runs))
	for _, r := range c.runs {
		runs = append(runs, r)
	}
	c.mu.Unlock()

	for _, r := range runs {
		r.stop(reasonInterrupted)
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// reserve claims executionID. A nil run means it is already claimed.
func (c *Controller) reserve(executionID string) (*run, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrShuttingDown
	}
	if _, ok := c.runs[executionID]; ok {
		return nil, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &run{
		execID: executionID,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	c.runs[executionID] = r
	return r, nil
}

func (c *Controller) release(r *run) {
	c.mu.Lock()
	if c.runs[r.execID] == r {
		delete(c.runs, r.execID)
	}
	c.mu.Unlock()

	r.once.Do(func() {
		r.cancel()
		close(r.done)
	})
}

// finish records the outcome of r. A nil cause completes the execution.
func (c *Controller) finish(r *run, machine *ExecutionStateMachine, cause error) {
	defer c.release(r)

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	logger := c.log.WithValues("execID", r.execID, "robotID", r.robotID)

	if cause == nil {
		if err := machine.Event(ctx, EventComplete, r); err != nil {
			logger.Error(err, "Failed to record completion")
			return
		}
		metrics.ExecutionsTotal.WithLabelValues(string(model.ExecutionCompleted)).Inc()
		logger.Info("Execution completed")
	} else {
		if err := machine.Event(ctx, EventFail, r, cause); err != nil {
			logger.Error(err, "Failed to record failure", "cause", cause.Error())
			return
		}
		metrics.ExecutionsTotal.WithLabelValues(string(model.ExecutionError)).Inc()
		logger.Warn("Execution failed", "error", cause.Error())
	}

	c.archive(ctx, r.execID)
}

// archive uploads the report of a finished execution. Failures are logged
// only; the stored status is authoritative.
func (c *Controller) archive(ctx context.Context, executionID string) {
	if c.archiver == nil {
		return
	}

	exec, err := c.executions.Get(ctx, executionID)
	if err != nil {
		c.log.Error(err, "Failed to load execution for report", "execID", executionID)
		return
	}

	report := &model.Report{Execution: exec, ArchivedAt: c.now()}
	if c.events != nil {
		if report.Events, err = c.events.Events(ctx, executionID); err != nil {
			c.log.Error(err, "Failed to load events for report", "execID", executionID)
			return
		}
	}

	if err := c.archiver.Archive(ctx, report); err != nil {
		c.log.Error(err, "Failed to archive execution report", "execID", executionID)
	}
}
