package lifecycle

import (
	"context"
	"errors"
	"time"

	"github.com/looplab/fsm"

	"github.com/autopeer-io/pathrunner/internal/executor/core"
	"github.com/autopeer-io/pathrunner/internal/executor/core/model"
	fsmutil "github.com/autopeer-io/pathrunner/internal/pkg/util/fsm"
)

const (
	// EventStart begins streaming a PENDING execution.
	EventStart = "event_start"
	// EventComplete records that every waypoint was delivered.
	EventComplete = "event_complete"
	// EventFail aborts the execution.
	EventFail = "event_fail"
)

// ErrNoWaypoints is the start guard's rejection for an empty trajectory.
var ErrNoWaypoints = errors.New("execution has no waypoints")

// ExecutionStateMachine drives one execution and persists every state it
// enters.
type ExecutionStateMachine struct {
	*fsm.FSM

	repo core.ExecutionRepository
	now  func() time.Time
}

func NewExecutionStateMachine(initial model.ExecutionStatus, repo core.ExecutionRepository, now func() time.Time) *ExecutionStateMachine {
	f := &ExecutionStateMachine{repo: repo, now: now}

	pending := string(model.ExecutionPending)
	running := string(model.ExecutionRunning)
	completed := string(model.ExecutionCompleted)
	failed := string(model.ExecutionError)

	events := fsm.Events{
		{Name: EventStart, Src: []string{pending}, Dst: running},
		{Name: EventComplete, Src: []string{running}, Dst: completed},
		{Name: EventFail, Src: []string{pending, running}, Dst: failed},
	}

	callbacks := fsm.Callbacks{
		// Guards
		"before_" + EventStart: fsmutil.Guard(f.GuardHasWaypoints),

		// Side-Effects
		"enter_" + running:   fsmutil.WrapEvent(f.ActionEnterRunning),
		"enter_" + completed: fsmutil.WrapEvent(f.ActionEnterCompleted),
		"enter_" + failed:    fsmutil.WrapEvent(f.ActionEnterError),
	}

	f.FSM = fsm.NewFSM(string(initial), events, callbacks)
	return f
}

// Status returns the current state.
func (f *ExecutionStateMachine) Status() model.ExecutionStatus {
	return model.ExecutionStatus(f.Current())
}

// GuardHasWaypoints cancels the start of an execution with nothing to send.
func (f *ExecutionStateMachine) GuardHasWaypoints(ctx context.Context, e *fsm.Event) error {
	r := e.Args[0].(*run)
	if len(r.waypoints) == 0 {
		return ErrNoWaypoints
	}
	return nil
}

func (f *ExecutionStateMachine) ActionEnterRunning(ctx context.Context, e *fsm.Event) error {
	r := e.Args[0].(*run)
	started := f.now()
	return f.repo.UpdateStatus(ctx, r.execID, model.StatusUpdate{
		Status:    model.ExecutionRunning,
		RobotID:   r.robotID,
		StartedAt: &started,
	})
}

func (f *ExecutionStateMachine) ActionEnterCompleted(ctx context.Context, e *fsm.Event) error {
	r := e.Args[0].(*run)
	ended := f.now()
	return f.repo.UpdateStatus(ctx, r.execID, model.StatusUpdate{
		Status:  model.ExecutionCompleted,
		EndedAt: &ended,
	})
}

func (f *ExecutionStateMachine) ActionEnterError(ctx context.Context, e *fsm.Event) error {
	r := e.Args[0].(*run)
	reason := "unknown error"
	if err, ok := fsmutil.Arg[error](e, 1); ok && err != nil {
		reason = err.Error()
	} else if s, ok := fsmutil.Arg[string](e, 1); ok {
		reason = s
	}
	ended := f.now()
	return f.repo.UpdateStatus(ctx, r.execID, model.StatusUpdate{
		Status:    model.ExecutionError,
		RobotID:   r.robotID,
		EndedAt:   &ended,
		LastError: reason,
	})
}
