package model

import (
	"encoding/json"
	"time"
)

// Event is a persisted inbound robot message.
type Event struct {
	ID          int64           `json:"id"`
	ExecutionID string          `json:"exec_id"`
	RobotID     string          `json:"robot_id"`
	Type        string          `json:"type"`
	Seq         *int            `json:"seq,omitempty"`
	MsgID       string          `json:"msg_id,omitempty"`
	Status      string          `json:"status,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Telemetry is a persisted robot status sample.
type Telemetry struct {
	ExecutionID string   `json:"exec_id"`
	RobotID     string   `json:"robot_id"`
	SeqCurrent  int      `json:"seq_current"`
	X           *float64 `json:"x,omitempty"`
	Y           *float64 `json:"y,omitempty"`
	Theta       *float64 `json:"theta,omitempty"`
	Speed       *float64 `json:"speed,omitempty"`
	NozzleState *int     `json:"nozzle_state,omitempty"`
	BatteryPct  *float64 `json:"battery_pct,omitempty"`
	DeviationM  *float64 `json:"deviation_m,omitempty"`
	TimestampMs int64    `json:"timestamp_ms"`
}

// Report is the archived summary of a finished execution.
type Report struct {
	Execution  *Execution `json:"execution"`
	Events     []Event    `json:"events"`
	ArchivedAt time.Time  `json:"archived_at"`
}
