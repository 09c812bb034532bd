package stream

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autopeer-io/pathrunner/internal/executor/core/model"
	"github.com/autopeer-io/pathrunner/internal/executor/waiter"
	"github.com/autopeer-io/pathrunner/internal/pkg/protocol"
	"github.com/autopeer-io/pathrunner/pkg/mqtt"
	"github.com/autopeer-io/pathrunner/pkg/mqtt/topic"
)

type harness struct {
	broker   *mqtt.MemoryBroker
	client   mqtt.Client
	registry *waiter.Registry[protocol.Message]
	topics   *topic.Builder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		broker:   mqtt.NewMemoryBroker(),
		registry: waiter.New[protocol.Message](),
		topics:   topic.NewBuilder(""),
	}
	h.client = h.broker.Client()
	require.NoError(t, h.client.Start(context.Background()))
	return h
}

// ackEveryCommand resolves each published command, skipping the first n.
func (h *harness) ackEveryCommand(t *testing.T, skip int) {
	t.Helper()
	var seen atomic.Int32
	robot := h.broker.Client()
	require.NoError(t, robot.Start(context.Background()))
	require.NoError(t, robot.Subscribe(context.Background(), "cmd/+", mqtt.AtLeastOnce, func(_ context.Context, _ string, payload []byte) {
		if int(seen.Add(1)) <= skip {
			return
		}
		cmd, err := protocol.DecodeCommand(payload)
		if err != nil {
			return
		}
		h.registry.Resolve(waiter.Key{ExecutionID: cmd.ExecID, Seq: cmd.Payload.Seq}, &protocol.Ack{
			Type: protocol.TypeAck, MsgID: cmd.MsgID, ExecID: cmd.ExecID, Seq: cmd.Payload.Seq, Status: protocol.StatusReceived,
		})
	}))
}

func (h *harness) commands(t *testing.T) []*protocol.WaypointCommand {
	t.Helper()
	var out []*protocol.WaypointCommand
	for _, m := range h.broker.Published("cmd/+") {
		cmd, err := protocol.DecodeCommand(m.Payload)
		require.NoError(t, err)
		out = append(out, cmd)
	}
	return out
}

func (h *harness) streamer(cfg Config, reached ReachedChecker) *Streamer {
	return New(cfg, h.client, h.topics, h.registry, reached)
}

func TestSendAckedFirstAttempt(t *testing.T) {
	h := newHarness(t)
	h.ackEveryCommand(t, 0)

	s := h.streamer(Config{AckTimeout: time.Second, Attempts: 3}, nil)
	resp, err := s.Send(context.Background(), "r1", "e1", model.Waypoint{Seq: 1, X: 1, Y: 2, NozzleOn: true})
	require.NoError(t, err)

	ack := resp.(*protocol.Ack)
	assert.Equal(t, protocol.StatusReceived, ack.Status)

	cmds := h.commands(t)
	require.Len(t, cmds, 1)
	assert.Equal(t, protocol.WaypointPayload{Seq: 1, X: 1, Y: 2, Speed: model.DefaultSpeed, NozzleOn: 1}, cmds[0].Payload)
	assert.Equal(t, 0, h.registry.Len())
}

func TestSendFailsAfterExactlyAttempts(t *testing.T) {
	h := newHarness(t)

	s := h.streamer(Config{AckTimeout: 20 * time.Millisecond, Attempts: 3}, nil)
	_, err := s.Send(context.Background(), "r1", "e1", model.Waypoint{Seq: 4})
	require.ErrorIs(t, err, ErrAckFailed)
	assert.EqualError(t, err, "ACK_FAILED seq=4")

	cmds := h.commands(t)
	require.Len(t, cmds, 3)
	ids := map[string]bool{}
	for _, c := range cmds {
		assert.Equal(t, 4, c.Payload.Seq)
		ids[c.MsgID] = true
	}
	assert.Len(t, ids, 3, "every attempt carries a fresh msg_id")
	assert.Equal(t, 0, h.registry.Len())
}

func TestSendRetriesAfterLostAck(t *testing.T) {
	h := newHarness(t)
	h.ackEveryCommand(t, 1)

	s := h.streamer(Config{AckTimeout: 50 * time.Millisecond, Attempts: 3}, nil)
	_, err := s.Send(context.Background(), "r1", "e1", model.Waypoint{Seq: 1})
	require.NoError(t, err)
	assert.Len(t, h.commands(t), 2)
}

func TestSendPublishErrorCountsAsAttempt(t *testing.T) {
	h := newHarness(t)
	h.client.Disconnect(context.Background())

	s := h.streamer(Config{AckTimeout: 10 * time.Millisecond, Attempts: 2}, nil)
	_, err := s.Send(context.Background(), "r1", "e1", model.Waypoint{Seq: 1})
	assert.ErrorIs(t, err, ErrAckFailed)
}

func TestSendDiscardStopsWithoutValue(t *testing.T) {
	h := newHarness(t)
	s := h.streamer(Config{AckTimeout: time.Minute, Attempts: 3}, nil)

	errCh := make(chan error, 1)
	go func() {
		_, err := s.Send(context.Background(), "r1", "e1", model.Waypoint{Seq: 1})
		errCh <- err
	}()

	require.Eventually(t, func() bool { return h.registry.Len() == 1 }, time.Second, time.Millisecond)
	require.True(t, h.registry.Discard(waiter.Key{ExecutionID: "e1", Seq: 1}))

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, waiter.ErrDiscarded)
	case <-time.After(time.Second):
		t.Fatal("send did not return after discard")
	}
	assert.Len(t, h.commands(t), 1)
}

func TestSendContextCancel(t *testing.T) {
	h := newHarness(t)
	s := h.streamer(Config{AckTimeout: time.Minute, Attempts: 3}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := s.Send(ctx, "r1", "e1", model.Waypoint{Seq: 1})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, h.registry.Len())
}

type fakeReached struct {
	mu      sync.Mutex
	after   int
	calls   int
	failing bool
}

func (f *fakeReached) HasReached(context.Context, string, int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failing {
		return false, errors.New("db down")
	}
	return f.after >= 0 && f.calls > f.after, nil
}

func TestStrictWaitPollsUntilReached(t *testing.T) {
	h := newHarness(t)
	h.ackEveryCommand(t, 0)
	reached := &fakeReached{after: 2}

	s := h.streamer(Config{AckTimeout: time.Second, Attempts: 1, StrictWaitForReached: true, PollInterval: 5 * time.Millisecond}, reached)
	_, err := s.Send(context.Background(), "r1", "e1", model.Waypoint{Seq: 1})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, reached.calls, 3)
}

func TestStrictWaitTimesOut(t *testing.T) {
	h := newHarness(t)
	h.ackEveryCommand(t, 0)
	reached := &fakeReached{failing: true}

	s := h.streamer(Config{
		AckTimeout:           time.Second,
		Attempts:             1,
		StrictWaitForReached: true,
		StrictTimeout:        30 * time.Millisecond,
		PollInterval:         5 * time.Millisecond,
	}, reached)
	_, err := s.Send(context.Background(), "r1", "e1", model.Waypoint{Seq: 1})
	assert.ErrorIs(t, err, ErrReachedTimeout)
}

func TestStrictWaitSkippedWhenResolvedByReached(t *testing.T) {
	h := newHarness(t)
	robot := h.broker.Client()
	require.NoError(t, robot.Start(context.Background()))
	require.NoError(t, robot.Subscribe(context.Background(), "cmd/+", mqtt.AtLeastOnce, func(_ context.Context, _ string, payload []byte) {
		cmd, _ := protocol.DecodeCommand(payload)
		h.registry.Resolve(waiter.Key{ExecutionID: cmd.ExecID, Seq: cmd.Payload.Seq}, &protocol.WaypointReached{
			Type: protocol.TypeWaypointReached, ExecID: cmd.ExecID, Seq: cmd.Payload.Seq,
		})
	}))
	reached := &fakeReached{failing: true}

	s := h.streamer(Config{AckTimeout: time.Second, Attempts: 1, StrictWaitForReached: true}, reached)
	_, err := s.Send(context.Background(), "r1", "e1", model.Waypoint{Seq: 1})
	require.NoError(t, err)
	assert.Equal(t, 0, reached.calls)
}

func TestStreamInOrder(t *testing.T) {
	h := newHarness(t)
	h.ackEveryCommand(t, 0)

	s := h.streamer(Config{AckTimeout: time.Second, Attempts: 3, SendInterval: time.Millisecond}, nil)
	err := s.Stream(context.Background(), "r1", "e1", []model.Waypoint{{Seq: 1}, {Seq: 2, X: 1, Y: 1}, {Seq: 5}})
	require.NoError(t, err)

	var seqs []int
	for _, c := range h.commands(t) {
		seqs = append(seqs, c.Payload.Seq)
	}
	assert.Equal(t, []int{1, 2, 5}, seqs)
}

func TestStreamRejectsOutOfOrder(t *testing.T) {
	h := newHarness(t)
	h.ackEveryCommand(t, 0)

	s := h.streamer(Config{AckTimeout: time.Second, Attempts: 3}, nil)
	err := s.Stream(context.Background(), "r1", "e1", []model.Waypoint{{Seq: 2}, {Seq: 2}})
	assert.ErrorIs(t, err, ErrOutOfOrder)
	assert.Len(t, h.commands(t), 1)
}

func TestStreamStopsAtFirstFailure(t *testing.T) {
	h := newHarness(t)

	s := h.streamer(Config{AckTimeout: 10 * time.Millisecond, Attempts: 2}, nil)
	err := s.Stream(context.Background(), "r1", "e1", []model.Waypoint{{Seq: 1}, {Seq: 2}})
	assert.ErrorIs(t, err, ErrAckFailed)

	for _, c := range h.commands(t) {
		assert.Equal(t, 1, c.Payload.Seq, "seq 2 is never published")
	}
}
