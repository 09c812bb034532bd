package mqtt

import (
	"context"
	"encoding/json"
	"time"

	"github.com/autopeer-io/pathrunner/internal/executor/core/model"
	"github.com/autopeer-io/pathrunner/internal/executor/waiter"
	"github.com/autopeer-io/pathrunner/internal/pkg/metrics"
	"github.com/autopeer-io/pathrunner/internal/pkg/protocol"
)

const storeTimeout = 5 * time.Second

// defaultSeqCurrent is stored when a telemetry sample carries no seq.
const defaultSeqCurrent = 1

// handleInbound decodes a robot message, records it and wakes the waiting
// streamer. Malformed payloads are dropped here and never reach a streamer.
func (s *Server) handleInbound(ctx context.Context, topicName string, payload []byte) {
	_, robotID, ok := s.topics.Parse(topicName)
	if !ok {
		s.log.Debug("Ignoring message on foreign topic", "topic", topicName)
		return
	}

	msg, err := protocol.Decode(payload)
	if err != nil {
		metrics.MalformedMessagesTotal.Inc()
		s.log.Warn("Dropping malformed message", "topic", topicName, "error", err.Error())
		return
	}
	metrics.InboundMessagesTotal.WithLabelValues(string(msg.Kind())).Inc()

	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	logger := s.log.WithValues("robotID", robotID, "execID", msg.ExecutionID(), "type", msg.Kind())

	switch m := msg.(type) {
	case *protocol.Ack:
		// resolved before the store write so a slow store cannot eat the deadline
		if m.Rejected() {
			// the attempt times out and is retried
			logger.Warn("Robot rejected waypoint", "seq", m.Seq, "status", m.Status)
		} else if !s.registry.Resolve(waiter.Key{ExecutionID: m.ExecID, Seq: m.Seq}, m) {
			logger.Debug("No waiter for acknowledgment", "seq", m.Seq, "msgID", m.MsgID)
		}
		s.appendEvent(ctx, robotID, m, &m.Seq, m.MsgID, m.Status, payload)

	case *protocol.WaypointReached:
		// stored before resolving so strict-mode polling sees it
		s.appendEvent(ctx, robotID, m, &m.Seq, "", "", payload)
		if s.registry.Resolve(waiter.Key{ExecutionID: m.ExecID, Seq: m.Seq}, m) {
			logger.Debug("Waypoint reached before acknowledgment", "seq", m.Seq)
		}

	case *protocol.Telemetry:
		if m.ExecID == "" {
			// idle robot
			return
		}
		s.appendTelemetry(ctx, robotID, m)

	case *protocol.StartExecution:
		logger.Warn("START_EXECUTION on robot topic ignored", "topic", topicName)

	default:
		logger.Debug("Recording unrecognised message")
		s.appendEvent(ctx, robotID, m, nil, "", "", payload)
	}
}

// handleStart runs a START_EXECUTION request. The stream itself continues
// after this returns.
func (s *Server) handleStart(ctx context.Context, topicName string, payload []byte) {
	req, err := protocol.DecodeStart(payload)
	if err != nil {
		metrics.MalformedMessagesTotal.Inc()
		s.log.Warn("Dropping malformed start request", "topic", topicName, "error", err.Error())
		return
	}
	metrics.InboundMessagesTotal.WithLabelValues(string(protocol.TypeStartExecution)).Inc()

	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	if err := s.starter.Start(ctx, req.ExecID, req.RobotID); err != nil {
		s.log.Error(err, "Failed to start execution", "execID", req.ExecID, "robotID", req.RobotID)
	}
}

func (s *Server) appendEvent(ctx context.Context, robotID string, msg protocol.Message, seq *int, msgID, status string, payload []byte) {
	if s.events == nil {
		return
	}
	event := &model.Event{
		ExecutionID: msg.ExecutionID(),
		RobotID:     robotID,
		Type:        string(msg.Kind()),
		Seq:         seq,
		MsgID:       msgID,
		Status:      status,
		Payload:     json.RawMessage(payload),
		CreatedAt:   time.Now(),
	}
	if err := s.events.AppendEvent(ctx, event); err != nil {
		s.log.Error(err, "Failed to persist event", "execID", event.ExecutionID, "type", event.Type)
	}
}

func (s *Server) appendTelemetry(ctx context.Context, robotID string, m *protocol.Telemetry) {
	if s.events == nil {
		return
	}
	sample := &model.Telemetry{
		ExecutionID: m.ExecID,
		RobotID:     robotID,
		SeqCurrent:  defaultSeqCurrent,
		X:           m.X,
		Y:           m.Y,
		Theta:       m.Theta,
		Speed:       m.Speed,
		NozzleState: m.NozzleState,
		BatteryPct:  m.BatteryPct,
		DeviationM:  m.DeviationM,
		TimestampMs: m.TimestampMs,
	}
	if m.SeqCurrent != nil {
		sample.SeqCurrent = *m.SeqCurrent
	}
	if sample.TimestampMs == 0 {
		sample.TimestampMs = time.Now().UnixMilli()
	}
	if err := s.events.AppendTelemetry(ctx, sample); err != nil {
		s.log.Error(err, "Failed to persist telemetry", "execID", m.ExecID)
	}
}
