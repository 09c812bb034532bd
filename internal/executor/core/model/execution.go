package model

import "time"

// ExecutionStatus is the lifecycle phase of an execution.
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "PENDING"
	ExecutionRunning   ExecutionStatus = "RUNNING"
	ExecutionCompleted ExecutionStatus = "COMPLETED"
	ExecutionError     ExecutionStatus = "ERROR"
)

// Terminal reports whether no further transitions are allowed.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionCompleted || s == ExecutionError
}

// Execution is one run of a trajectory on one robot.
type Execution struct {
	ID           string          `json:"id" yaml:"id"`
	TrajectoryID string          `json:"trajectory_id" yaml:"trajectory_id"`
	RobotID      string          `json:"robot_id" yaml:"robot_id"`
	Status       ExecutionStatus `json:"status" yaml:"status"`
	CreatedAt    time.Time       `json:"created_at" yaml:"created_at"`
	StartedAt    *time.Time      `json:"started_at,omitempty" yaml:"started_at,omitempty"`
	EndedAt      *time.Time      `json:"ended_at,omitempty" yaml:"ended_at,omitempty"`
	LastError    string          `json:"last_error,omitempty" yaml:"last_error,omitempty"`
}

// StatusUpdate is a lifecycle transition to persist. Nil times are left
// unchanged; RobotID is only written when not empty.
type StatusUpdate struct {
	Status    ExecutionStatus
	RobotID   string
	StartedAt *time.Time
	EndedAt   *time.Time
	LastError string
}
