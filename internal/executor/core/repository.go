package core

import (
	"context"
	"errors"

	"github.com/autopeer-io/pathrunner/internal/executor/core/model"
)

// ErrNotFound is returned by repositories for a missing record.
var ErrNotFound = errors.New("not found")

// ExecutionRepository defines the interface for reading executions and
// persisting their lifecycle transitions.
type ExecutionRepository interface {
	// Get retrieves an execution by its ID.
	Get(ctx context.Context, id string) (*model.Execution, error)

	// Waypoints returns the execution's trajectory ordered by ascending seq.
	Waypoints(ctx context.Context, executionID string) ([]model.Waypoint, error)

	// UpdateStatus persists a lifecycle transition.
	UpdateStatus(ctx context.Context, id string, update model.StatusUpdate) error
}

// EventRepository defines the interface for the robot event log.
type EventRepository interface {
	AppendEvent(ctx context.Context, event *model.Event) error

	AppendTelemetry(ctx context.Context, sample *model.Telemetry) error

	// HasReached reports whether a WAYPOINT_REACHED record exists for
	// (executionID, seq).
	HasReached(ctx context.Context, executionID string, seq int) (bool, error)

	// Events lists an execution's events in insertion order.
	Events(ctx context.Context, executionID string) ([]model.Event, error)
}
