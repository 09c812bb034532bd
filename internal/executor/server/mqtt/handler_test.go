package mqtt

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autopeer-io/pathrunner/internal/executor/core/model"
	"github.com/autopeer-io/pathrunner/internal/executor/waiter"
	"github.com/autopeer-io/pathrunner/internal/pkg/protocol"
	pkgmqtt "github.com/autopeer-io/pathrunner/pkg/mqtt"
	"github.com/autopeer-io/pathrunner/pkg/mqtt/topic"
)

type memEvents struct {
	mu        sync.Mutex
	events    []model.Event
	telemetry []model.Telemetry

	// onAppend, if set, runs before an event is stored.
	onAppend func(e *model.Event)
}

func (m *memEvents) AppendEvent(_ context.Context, e *model.Event) error {
	if m.onAppend != nil {
		m.onAppend(e)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, *e)
	return nil
}

func (m *memEvents) AppendTelemetry(_ context.Context, t *model.Telemetry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.telemetry = append(m.telemetry, *t)
	return nil
}

func (m *memEvents) HasReached(_ context.Context, execID string, seq int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.events {
		if e.ExecutionID == execID && e.Type == string(protocol.TypeWaypointReached) && e.Seq != nil && *e.Seq == seq {
			return true, nil
		}
	}
	return false, nil
}

func (m *memEvents) Events(context.Context, string) ([]model.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.Event(nil), m.events...), nil
}

func (m *memEvents) eventTypes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, e := range m.events {
		out = append(out, e.Type)
	}
	return out
}

type startCall struct{ execID, robotID string }

type recordingStarter struct {
	calls chan startCall
}

func (r *recordingStarter) Start(_ context.Context, execID, robotID string) error {
	r.calls <- startCall{execID, robotID}
	return nil
}

type fixture struct {
	server   *Server
	registry *waiter.Registry[protocol.Message]
	events   *memEvents
	starter  *recordingStarter
}

func newFixture() *fixture {
	f := &fixture{
		registry: waiter.New[protocol.Message](),
		events:   &memEvents{},
		starter:  &recordingStarter{calls: make(chan startCall, 4)},
	}
	topics := topic.NewBuilder("")
	f.server = NewServer(pkgmqtt.NewMemoryBroker().Client(), topics, f.registry, f.events, f.starter)
	return f
}

func TestAckResolvesWaiter(t *testing.T) {
	f := newFixture()
	w, err := f.registry.Register(waiter.Key{ExecutionID: "e1", Seq: 1}, time.Second)
	require.NoError(t, err)

	f.server.handleInbound(context.Background(), "ack/robot_1",
		[]byte(`{"type":"ACK","msg_id":"m1","exec_id":"e1","seq":1,"status":"RECEIVED"}`))

	got, err := w.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, protocol.TypeAck, got.Kind())
	assert.Equal(t, []string{"ACK"}, f.events.eventTypes())
	assert.Equal(t, "robot_1", f.events.events[0].RobotID)
	assert.Equal(t, "m1", f.events.events[0].MsgID)
}

func TestNackDoesNotResolve(t *testing.T) {
	f := newFixture()
	w, err := f.registry.Register(waiter.Key{ExecutionID: "e1", Seq: 1}, 30*time.Millisecond)
	require.NoError(t, err)

	f.server.handleInbound(context.Background(), "ack/robot_1",
		[]byte(`{"type":"NACK","msg_id":"m1","exec_id":"e1","seq":1,"status":"QUEUE_FULL"}`))

	_, err = w.Wait(context.Background())
	assert.ErrorIs(t, err, waiter.ErrTimeout)
	assert.Equal(t, []string{"NACK"}, f.events.eventTypes())
}

func TestReachedStoredThenResolves(t *testing.T) {
	f := newFixture()
	w, err := f.registry.Register(waiter.Key{ExecutionID: "e1", Seq: 2}, time.Second)
	require.NoError(t, err)

	f.server.handleInbound(context.Background(), "events/robot_1",
		[]byte(`{"type":"WAYPOINT_REACHED","exec_id":"e1","seq":2,"x":1,"y":2,"timestamp_ms":10}`))

	got, err := w.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, protocol.TypeWaypointReached, got.Kind())

	ok, err := f.events.HasReached(context.Background(), "e1", 2)
	require.NoError(t, err)
	assert.True(t, ok)
}

func isDone(w *waiter.Waiter[protocol.Message]) bool {
	select {
	case <-w.Done():
		return true
	default:
		return false
	}
}

func TestAckResolvesBeforeStoreWrite(t *testing.T) {
	f := newFixture()
	w, err := f.registry.Register(waiter.Key{ExecutionID: "e1", Seq: 1}, time.Second)
	require.NoError(t, err)

	var doneAtWrite bool
	f.events.onAppend = func(*model.Event) { doneAtWrite = isDone(w) }

	f.server.handleInbound(context.Background(), "ack/robot_1",
		[]byte(`{"type":"ACK","msg_id":"m1","exec_id":"e1","seq":1,"status":"RECEIVED"}`))

	assert.True(t, doneAtWrite, "waiter should settle before the event is stored")
	assert.Equal(t, []string{"ACK"}, f.events.eventTypes())
}

func TestReachedStoredBeforeResolve(t *testing.T) {
	f := newFixture()
	w, err := f.registry.Register(waiter.Key{ExecutionID: "e1", Seq: 3}, time.Second)
	require.NoError(t, err)

	doneAtWrite := true
	f.events.onAppend = func(*model.Event) { doneAtWrite = isDone(w) }

	f.server.handleInbound(context.Background(), "events/robot_1",
		[]byte(`{"type":"WAYPOINT_REACHED","exec_id":"e1","seq":3,"x":1,"y":2,"timestamp_ms":10}`))

	assert.False(t, doneAtWrite, "event should be stored before the waiter settles")
	assert.True(t, isDone(w))
}

func TestLateAckIsDropped(t *testing.T) {
	f := newFixture()
	f.server.handleInbound(context.Background(), "ack/robot_1",
		[]byte(`{"type":"ACK","msg_id":"m1","exec_id":"e1","seq":9,"status":"RECEIVED"}`))
	assert.Zero(t, f.registry.Len())
	assert.Equal(t, []string{"ACK"}, f.events.eventTypes())
}

func TestMalformedIsDropped(t *testing.T) {
	f := newFixture()
	w, err := f.registry.Register(waiter.Key{ExecutionID: "e1", Seq: 1}, 30*time.Millisecond)
	require.NoError(t, err)

	for _, payload := range []string{`not json`, `{"type":"ACK","exec_id":"e1"}`, `{"type":"WAYPOINT_REACHED","exec_id":"e1","seq":1}`} {
		f.server.handleInbound(context.Background(), "ack/robot_1", []byte(payload))
	}

	_, err = w.Wait(context.Background())
	assert.ErrorIs(t, err, waiter.ErrTimeout)
	assert.Empty(t, f.events.eventTypes())
}

func TestTelemetryDefaults(t *testing.T) {
	f := newFixture()
	f.server.handleInbound(context.Background(), "telemetry/robot_1",
		[]byte(`{"type":"TELEMETRY","exec_id":"e1","x":0.5,"timestamp_ms":1000}`))
	f.server.handleInbound(context.Background(), "telemetry/robot_1",
		[]byte(`{"type":"TELEMETRY","exec_id":"e1","seq_current":4,"timestamp_ms":1500}`))

	f.server.handleInbound(context.Background(), "telemetry/robot_1",
		[]byte(`{"type":"TELEMETRY","exec_id":"","seq_current":0,"timestamp_ms":2000}`))

	require.Len(t, f.events.telemetry, 2)
	assert.Equal(t, 1, f.events.telemetry[0].SeqCurrent)
	assert.Equal(t, 0.5, *f.events.telemetry[0].X)
	assert.Equal(t, 4, f.events.telemetry[1].SeqCurrent)
	assert.Empty(t, f.events.eventTypes())
}

func TestUnknownIsRecorded(t *testing.T) {
	f := newFixture()
	f.server.handleInbound(context.Background(), "events/robot_1", []byte(`{"type":"BATTERY_LOW","exec_id":"e1"}`))
	assert.Equal(t, []string{"BATTERY_LOW"}, f.events.eventTypes())
}

func TestForeignTopicIgnored(t *testing.T) {
	f := newFixture()
	f.server.handleInbound(context.Background(), "ack/robot_1/extra",
		[]byte(`{"type":"ACK","msg_id":"m1","exec_id":"e1","seq":1,"status":"RECEIVED"}`))
	assert.Empty(t, f.events.eventTypes())
}

func TestStartOverBroker(t *testing.T) {
	broker := pkgmqtt.NewMemoryBroker()
	f := newFixture()
	f.server.client = broker.Client()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- f.server.Start(ctx) }()

	external := broker.Client()
	require.NoError(t, external.Start(ctx))

	require.Eventually(t, func() bool {
		_ = external.Publish(ctx, "executor/start", pkgmqtt.AtLeastOnce, false, []byte(`{"execId":"e7","robot":"robot_2"}`))
		select {
		case call := <-f.starter.calls:
			assert.Equal(t, startCall{"e7", "robot_2"}, call)
			return true
		case <-time.After(20 * time.Millisecond):
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("server did not stop")
	}
}

func TestReachedStoredInArrivalOrder(t *testing.T) {
	const n = 8
	broker := pkgmqtt.NewMemoryBroker()
	f := newFixture()
	f.server.client = broker.Client()
	f.events.onAppend = func(e *model.Event) {
		// earlier seqs are slower to store
		if e.Seq != nil {
			time.Sleep(time.Duration(n-*e.Seq) * time.Millisecond)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, f.server.client.Start(ctx))
	require.NoError(t, f.server.Subscribe(ctx))

	robot := broker.Client()
	require.NoError(t, robot.Start(ctx))
	for seq := 1; seq <= n; seq++ {
		payload := fmt.Sprintf(`{"type":"WAYPOINT_REACHED","exec_id":"e1","seq":%d,"x":0,"y":0,"timestamp_ms":%d}`, seq, seq)
		require.NoError(t, robot.Publish(ctx, "events/robot_1", pkgmqtt.AtLeastOnce, false, []byte(payload)))
	}

	require.Eventually(t, func() bool {
		return len(f.events.eventTypes()) == n
	}, 2*time.Second, 5*time.Millisecond)

	events, err := f.events.Events(ctx, "e1")
	require.NoError(t, err)
	var seqs []int
	for _, e := range events {
		seqs = append(seqs, *e.Seq)
	}
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6, 7, 8}, seqs)
}
