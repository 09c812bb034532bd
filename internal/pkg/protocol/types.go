// Package protocol defines the JSON messages exchanged between the executor
// and robots, and decodes inbound payloads into exactly one typed message.
package protocol

// Type is the discriminator carried in every message's "type" field.
type Type string

const (
	TypeWaypoint        Type = "WAYPOINT"
	TypeAck             Type = "ACK"
	TypeNack            Type = "NACK"
	TypeWaypointReached Type = "WAYPOINT_REACHED"
	TypeTelemetry       Type = "TELEMETRY"
	TypeStartExecution  Type = "START_EXECUTION"
)

// Ack statuses.
const (
	StatusReceived  = "RECEIVED"
	StatusDuplicate = "DUPLICATE"
	StatusQueueFull = "QUEUE_FULL"
)

// Message is implemented by every decoded message.
type Message interface {
	Kind() Type
	ExecutionID() string
}

// WaypointPayload is the waypoint as sent on the wire. NozzleOn is 0 or 1.
type WaypointPayload struct {
	Seq      int     `json:"seq"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Speed    float64 `json:"speed"`
	NozzleOn int     `json:"nozzle_on"`
	DwellMs  int64   `json:"dwell_ms"`
}

// WaypointCommand is published by the executor on cmd/{robotId}.
type WaypointCommand struct {
	Type     Type            `json:"type"`
	MsgID    string          `json:"msg_id"`
	ExecID   string          `json:"exec_id"`
	Payload  WaypointPayload `json:"payload"`
	SentAtMs int64           `json:"sent_at_ms"`
}

func (m *WaypointCommand) Kind() Type          { return TypeWaypoint }
func (m *WaypointCommand) ExecutionID() string { return m.ExecID }

// Ack is both ACK and NACK; Type tells them apart.
type Ack struct {
	Type        Type   `json:"type"`
	MsgID       string `json:"msg_id"`
	ExecID      string `json:"exec_id"`
	Seq         int    `json:"seq"`
	Status      string `json:"status"`
	TimestampMs int64  `json:"timestamp_ms,omitempty"`
}

func (m *Ack) Kind() Type          { return m.Type }
func (m *Ack) ExecutionID() string { return m.ExecID }

// Rejected reports whether the robot refused the command.
func (m *Ack) Rejected() bool { return m.Type == TypeNack }

// WaypointReached is published by the robot after the motion completed.
type WaypointReached struct {
	Type        Type    `json:"type"`
	ExecID      string  `json:"exec_id"`
	Seq         int     `json:"seq"`
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	NozzleState *int    `json:"nozzle_state,omitempty"`
	TimestampMs int64   `json:"timestamp_ms"`
}

func (m *WaypointReached) Kind() Type          { return TypeWaypointReached }
func (m *WaypointReached) ExecutionID() string { return m.ExecID }

// Telemetry is a best-effort status sample. Every field but the timestamp
// is optional.
type Telemetry struct {
	Type        Type     `json:"type"`
	ExecID      string   `json:"exec_id"`
	SeqCurrent  *int     `json:"seq_current,omitempty"`
	X           *float64 `json:"x,omitempty"`
	Y           *float64 `json:"y,omitempty"`
	Theta       *float64 `json:"theta,omitempty"`
	Speed       *float64 `json:"speed,omitempty"`
	NozzleState *int     `json:"nozzle_state,omitempty"`
	BatteryPct  *float64 `json:"battery_pct,omitempty"`
	DeviationM  *float64 `json:"deviation_m,omitempty"`
	TimestampMs int64    `json:"timestamp_ms"`
}

func (m *Telemetry) Kind() Type          { return TypeTelemetry }
func (m *Telemetry) ExecutionID() string { return m.ExecID }

// StartExecution asks the executor to run an execution on a robot.
type StartExecution struct {
	Type          Type   `json:"type"`
	ExecID        string `json:"exec_id"`
	RobotID       string `json:"robot_id"`
	RequestedAtMs int64  `json:"requested_at_ms,omitempty"`
}

func (m *StartExecution) Kind() Type          { return TypeStartExecution }
func (m *StartExecution) ExecutionID() string { return m.ExecID }

// Unknown is a well-formed JSON object of an unrecognised type.
type Unknown struct {
	Type   Type   `json:"type"`
	ExecID string `json:"exec_id"`
	Raw    []byte `json:"-"`
}

func (m *Unknown) Kind() Type          { return m.Type }
func (m *Unknown) ExecutionID() string { return m.ExecID }
