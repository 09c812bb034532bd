// Package command turns WAYPOINT commands into queued motion, answering
// each with ACK or NACK.
package command

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/autopeer-io/pathrunner/internal/pkg/metrics"
	"github.com/autopeer-io/pathrunner/internal/pkg/protocol"
	"github.com/autopeer-io/pathrunner/internal/robot/queue"
	"github.com/autopeer-io/pathrunner/pkg/log"
	"github.com/autopeer-io/pathrunner/pkg/mqtt"
	"github.com/autopeer-io/pathrunner/pkg/mqtt/topic"
)

// Handler accepts commands for one robot.
type Handler struct {
	robotID   string
	publisher mqtt.Publisher
	topics    *topic.Builder
	queue     *queue.Queue[*protocol.WaypointCommand]
	log       log.Logger

	// mu serializes dedupe, reservation and acknowledgment, so a command
	// redelivered concurrently is still queued once.
	mu sync.Mutex
	// accepted holds the highest seq queued per execution.
	accepted map[string]int
}

func NewHandler(robotID string, publisher mqtt.Publisher, topics *topic.Builder, q *queue.Queue[*protocol.WaypointCommand]) *Handler {
	return &Handler{
		robotID:   robotID,
		publisher: publisher,
		topics:    topics,
		queue:     q,
		log:       log.WithName("command").WithValues("robotID", robotID),
		accepted:  make(map[string]int),
	}
}

// Handle processes one payload received on cmd/{robotId}.
func (h *Handler) Handle(ctx context.Context, _ string, payload []byte) {
	cmd, err := protocol.DecodeCommand(payload)
	if err != nil {
		metrics.RobotCommandsTotal.WithLabelValues("invalid").Inc()
		if errors.Is(err, protocol.ErrUnexpectedType) {
			h.log.Debug("Ignoring non-waypoint command", "error", err.Error())
		} else {
			h.log.Warn("Invalid WAYPOINT payload, ignoring", "error", err.Error())
		}
		return
	}

	seq := cmd.Payload.Seq
	logger := h.log.WithValues("execID", cmd.ExecID, "seq", seq, "msgID", cmd.MsgID)

	h.mu.Lock()
	defer h.mu.Unlock()

	if last, ok := h.accepted[cmd.ExecID]; ok && seq <= last {
		// A retry of a command whose ack was lost. It is queued already.
		metrics.RobotCommandsTotal.WithLabelValues("duplicate").Inc()
		logger.Info("Duplicate waypoint, acknowledging without enqueue", "highestAccepted", last)
		h.reply(ctx, cmd, protocol.TypeAck, protocol.StatusDuplicate)
		return
	}

	slot, err := h.queue.Reserve()
	if err != nil {
		metrics.RobotCommandsTotal.WithLabelValues("queue_full").Inc()
		logger.Warn("Queue full, rejecting waypoint", "queueLen", h.queue.Len())
		h.reply(ctx, cmd, protocol.TypeNack, protocol.StatusQueueFull)
		return
	}

	h.reply(ctx, cmd, protocol.TypeAck, protocol.StatusReceived)
	h.accepted[cmd.ExecID] = seq
	slot.Commit(cmd)

	metrics.RobotCommandsTotal.WithLabelValues("accepted").Inc()
	logger.Info("Enqueued waypoint", "queueLen", h.queue.Len())
}

// reply publishes ACK or NACK. A failed publish is logged; the executor
// retries and the retry is answered as a duplicate.
func (h *Handler) reply(ctx context.Context, cmd *protocol.WaypointCommand, typ protocol.Type, status string) {
	data, err := protocol.Encode(&protocol.Ack{
		Type:        typ,
		MsgID:       cmd.MsgID,
		ExecID:      cmd.ExecID,
		Seq:         cmd.Payload.Seq,
		Status:      status,
		TimestampMs: time.Now().UnixMilli(),
	})
	if err != nil {
		h.log.Error(err, "Failed to encode acknowledgment")
		return
	}
	if err := h.publisher.Publish(ctx, h.topics.Ack(h.robotID), mqtt.AtLeastOnce, false, data); err != nil {
		h.log.Error(err, "Failed to publish acknowledgment", "type", typ, "seq", cmd.Payload.Seq)
	}
}
