// Package fsm adapts plain error-returning functions to looplab/fsm callbacks.
package fsm

import (
	"context"

	"github.com/looplab/fsm"
)

// WrapEvent turns fn into a side-effect callback. A returned error is
// attached to the event, so FSM.Event reports it after the transition.
func WrapEvent(fn func(ctx context.Context, event *fsm.Event) error) fsm.Callback {
	return func(ctx context.Context, event *fsm.Event) {
		if err := fn(ctx, event); err != nil {
			event.Err = err
		}
	}
}

// Guard turns fn into a before_ callback. A returned error cancels the
// transition and is surfaced as fsm.CanceledError.
func Guard(fn func(ctx context.Context, event *fsm.Event) error) fsm.Callback {
	return func(ctx context.Context, event *fsm.Event) {
		if err := fn(ctx, event); err != nil {
			event.Cancel(err)
		}
	}
}

// Arg returns the i-th event argument as T.
func Arg[T any](event *fsm.Event, i int) (T, bool) {
	var zero T
	if i < 0 || i >= len(event.Args) {
		return zero, false
	}
	v, ok := event.Args[i].(T)
	return v, ok
}
