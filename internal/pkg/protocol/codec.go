package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// DefaultSpeed is applied to waypoints whose speed is absent or not positive.
const DefaultSpeed = 0.4

var (
	// ErrMalformed is returned for payloads that are not valid JSON objects
	// or miss a field their type requires.
	ErrMalformed = errors.New("malformed message")

	// ErrUnexpectedType is returned when a payload decodes fine but is not
	// the type the caller asked for.
	ErrUnexpectedType = errors.New("unexpected message type")
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// report json names in validation errors
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

type header struct {
	Type   Type   `json:"type"`
	ExecID string `json:"exec_id"`
}

type ackWire struct {
	Type        Type   `json:"type"`
	MsgID       string `json:"msg_id"`
	ExecID      string `json:"exec_id" validate:"required"`
	Seq         *int   `json:"seq" validate:"required,gte=0"`
	Status      string `json:"status" validate:"required"`
	TimestampMs *int64 `json:"timestamp_ms"`
}

type reachedWire struct {
	ExecID      string   `json:"exec_id" validate:"required"`
	Seq         *int     `json:"seq" validate:"required,gte=0"`
	X           *float64 `json:"x" validate:"required"`
	Y           *float64 `json:"y" validate:"required"`
	NozzleState *int     `json:"nozzle_state" validate:"omitempty,min=0,max=1"`
	TimestampMs *int64   `json:"timestamp_ms" validate:"required"`
}

type telemetryWire struct {
	Telemetry
	NozzleState *int   `json:"nozzle_state" validate:"omitempty,min=0,max=1"`
	TimestampMs *int64 `json:"timestamp_ms" validate:"required"`
}

type startWire struct {
	Type            Type   `json:"type"`
	ExecID          string `json:"exec_id"`
	ExecIDAlt       string `json:"execId"`
	RobotID         string `json:"robot_id"`
	RobotIDAlt      string `json:"robotId"`
	Robot           string `json:"robot"`
	RequestedAtMs   *int64 `json:"requested_at_ms"`
	RequestedAtMsV2 *int64 `json:"requestedAtMs"`
}

type payloadWire struct {
	Seq      *int     `json:"seq" validate:"required,gte=0"`
	X        *float64 `json:"x" validate:"required"`
	Y        *float64 `json:"y" validate:"required"`
	Speed    *float64 `json:"speed"`
	NozzleOn *int     `json:"nozzle_on" validate:"omitempty,min=0,max=1"`
	DwellMs  *int64   `json:"dwell_ms" validate:"omitempty,min=0"`
}

type commandWire struct {
	Type     Type         `json:"type"`
	MsgID    string       `json:"msg_id"`
	ExecID   string       `json:"exec_id" validate:"required"`
	Payload  *payloadWire `json:"payload" validate:"required"`
	SentAtMs int64        `json:"sent_at_ms"`
}

// Decode parses an inbound robot payload into *Ack, *WaypointReached,
// *Telemetry or *Unknown. START_EXECUTION is decoded with DecodeStart.
func Decode(data []byte) (Message, error) {
	var h header
	if err := unmarshal(data, &h); err != nil {
		return nil, err
	}

	switch h.Type {
	case TypeAck, TypeNack:
		var w ackWire
		if err := decodeInto(data, &w); err != nil {
			return nil, err
		}
		ack := &Ack{Type: h.Type, MsgID: w.MsgID, ExecID: w.ExecID, Seq: *w.Seq, Status: w.Status}
		if w.TimestampMs != nil {
			ack.TimestampMs = *w.TimestampMs
		}
		return ack, nil

	case TypeWaypointReached:
		var w reachedWire
		if err := decodeInto(data, &w); err != nil {
			return nil, err
		}
		return &WaypointReached{
			Type:        TypeWaypointReached,
			ExecID:      w.ExecID,
			Seq:         *w.Seq,
			X:           *w.X,
			Y:           *w.Y,
			NozzleState: w.NozzleState,
			TimestampMs: *w.TimestampMs,
		}, nil

	case TypeTelemetry:
		var w telemetryWire
		if err := decodeInto(data, &w); err != nil {
			return nil, err
		}
		t := w.Telemetry
		t.Type = TypeTelemetry
		t.NozzleState = w.NozzleState
		t.TimestampMs = *w.TimestampMs
		return &t, nil

	case TypeStartExecution:
		return DecodeStart(data)

	default:
		return &Unknown{Type: h.Type, ExecID: h.ExecID, Raw: append([]byte(nil), data...)}, nil
	}
}

// DecodeStart parses a START_EXECUTION request. The camelCase spellings
// execId, robotId and requestedAtMs, and the short key robot, are accepted;
// a missing type defaults to START_EXECUTION.
func DecodeStart(data []byte) (*StartExecution, error) {
	var w startWire
	if err := unmarshal(data, &w); err != nil {
		return nil, err
	}

	start := &StartExecution{
		Type:    w.Type,
		ExecID:  firstNonEmpty(w.ExecID, w.ExecIDAlt),
		RobotID: firstNonEmpty(w.RobotID, w.RobotIDAlt, w.Robot),
	}
	if start.Type == "" {
		start.Type = TypeStartExecution
	}
	switch {
	case w.RequestedAtMs != nil:
		start.RequestedAtMs = *w.RequestedAtMs
	case w.RequestedAtMsV2 != nil:
		start.RequestedAtMs = *w.RequestedAtMsV2
	}

	if start.Type != TypeStartExecution {
		return nil, fmt.Errorf("%w: %q", ErrUnexpectedType, start.Type)
	}
	if start.ExecID == "" || start.RobotID == "" {
		return nil, fmt.Errorf("%w: exec_id and robot_id are required", ErrMalformed)
	}
	return start, nil
}

// DecodeCommand parses a WAYPOINT command as received by a robot. Speed
// defaults to DefaultSpeed and the nozzle defaults to on.
func DecodeCommand(data []byte) (*WaypointCommand, error) {
	var h header
	if err := unmarshal(data, &h); err != nil {
		return nil, err
	}
	if h.Type != TypeWaypoint {
		return nil, fmt.Errorf("%w: %q", ErrUnexpectedType, h.Type)
	}

	var w commandWire
	if err := decodeInto(data, &w); err != nil {
		return nil, err
	}

	p := w.Payload
	cmd := &WaypointCommand{
		Type:     TypeWaypoint,
		MsgID:    w.MsgID,
		ExecID:   w.ExecID,
		SentAtMs: w.SentAtMs,
		Payload: WaypointPayload{
			Seq:      *p.Seq,
			X:        *p.X,
			Y:        *p.Y,
			Speed:    DefaultSpeed,
			NozzleOn: 1,
		},
	}
	if p.Speed != nil && *p.Speed > 0 {
		cmd.Payload.Speed = *p.Speed
	}
	if p.NozzleOn != nil {
		cmd.Payload.NozzleOn = *p.NozzleOn
	}
	if p.DwellMs != nil {
		cmd.Payload.DwellMs = *p.DwellMs
	}
	return cmd, nil
}

// Encode serialises a message for publishing.
func Encode(m Message) ([]byte, error) {
	return json.Marshal(m)
}

func unmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

func decodeInto(data []byte, v any) error {
	if err := unmarshal(data, v); err != nil {
		return err
	}
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
