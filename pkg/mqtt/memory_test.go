package mqtt

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopicsMatch(t *testing.T) {
	tests := []struct {
		filter, topic string
		want          bool
	}{
		{"ack/robot_1", "ack/robot_1", true},
		{"ack/+", "ack/robot_1", true},
		{"ack/+", "ack/robot_1/x", false},
		{"ack/#", "ack/robot_1/x", true},
		{"+/robot_1", "events/robot_1", true},
		{"ack/+", "events/robot_1", false},
		{"executor/start", "executor/stop", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, topicsMatch(tt.filter, tt.topic), "%s ~ %s", tt.filter, tt.topic)
	}
	assert.Equal(t, "ack/+", topicFilter("$share/grp/ack/+"))
}

func TestClientConfigValidate(t *testing.T) {
	cfg := &ClientConfig{BrokerURL: "mqtt://localhost:1883", ClientID: "executor-1"}
	require.NoError(t, cfg.Validate())

	cfg.BrokerURL = "http://localhost"
	assert.Error(t, cfg.Validate())

	cfg = &ClientConfig{BrokerURL: "tcp://localhost:1883"}
	assert.Error(t, cfg.Validate())

	_, err := NewClient(nil)
	assert.Error(t, err)
}

func TestMemoryBrokerRouting(t *testing.T) {
	ctx := context.Background()
	broker := NewMemoryBroker()

	pub := broker.Client()
	sub := broker.Client()
	require.NoError(t, pub.Start(ctx))
	require.NoError(t, sub.Start(ctx))

	var (
		mu  sync.Mutex
		got []string
	)
	done := make(chan struct{}, 4)
	require.NoError(t, sub.Subscribe(ctx, "ack/+", AtLeastOnce, func(_ context.Context, topic string, payload []byte) {
		mu.Lock()
		got = append(got, topic+"="+string(payload))
		mu.Unlock()
		done <- struct{}{}
	}))

	require.NoError(t, pub.Publish(ctx, "ack/r1", AtLeastOnce, false, []byte("a")))
	require.NoError(t, pub.Publish(ctx, "events/r1", AtLeastOnce, false, []byte("b")))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}

	mu.Lock()
	assert.Equal(t, []string{"ack/r1=a"}, got)
	mu.Unlock()
	assert.Len(t, broker.Published(""), 2)
	assert.Len(t, broker.Published("events/+"), 1)
}

func TestMemoryBrokerInterceptorDrops(t *testing.T) {
	ctx := context.Background()
	broker := NewMemoryBroker()
	c := broker.Client()
	require.NoError(t, c.Start(ctx))

	delivered := make(chan struct{}, 1)
	require.NoError(t, c.Subscribe(ctx, "cmd/+", AtLeastOnce, func(context.Context, string, []byte) {
		delivered <- struct{}{}
	}))

	broker.SetInterceptor(func(Message) bool { return false })
	require.NoError(t, c.Publish(ctx, "cmd/r1", AtLeastOnce, false, []byte("x")))

	select {
	case <-delivered:
		t.Fatal("dropped message was delivered")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Len(t, broker.Published("cmd/r1"), 1)
}

func TestMemoryClientRequiresStart(t *testing.T) {
	c := NewMemoryBroker().Client()
	assert.ErrorIs(t, c.Publish(context.Background(), "x/y", 0, false, nil), ErrNotStarted)
	assert.False(t, c.IsConnected())
}
