package mqtt

import (
	"context"
	"sync"
	"sync/atomic"
)

// Message is a publish observed by a MemoryBroker.
type Message struct {
	Topic   string
	QoS     int
	Payload []byte
}

// Interceptor inspects a publish before delivery; returning false drops it.
type Interceptor func(msg Message) bool

// MemoryBroker is an in-process broker used by tests and local simulations.
// Delivery follows the same per-topic ordered dispatch as the paho client.
type MemoryBroker struct {
	mu          sync.RWMutex
	clients     []*memoryClient
	history     []Message
	interceptor Interceptor
}

// NewMemoryBroker returns an empty broker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{}
}

// Client returns a new client attached to the broker.
func (b *MemoryBroker) Client() Client {
	c := &memoryClient{broker: b}
	b.mu.Lock()
	b.clients = append(b.clients, c)
	b.mu.Unlock()
	return c
}

// SetInterceptor installs fn for all subsequent publishes. nil removes it.
func (b *MemoryBroker) SetInterceptor(fn Interceptor) {
	b.mu.Lock()
	b.interceptor = fn
	b.mu.Unlock()
}

// Published returns every publish on topic, including dropped ones, in order.
func (b *MemoryBroker) Published(topic string) []Message {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []Message
	for _, m := range b.history {
		if topic == "" || topicsMatch(topic, m.Topic) {
			out = append(out, m)
		}
	}
	return out
}

func (b *MemoryBroker) publish(msg Message) {
	b.mu.Lock()
	b.history = append(b.history, msg)
	fn := b.interceptor
	clients := append([]*memoryClient(nil), b.clients...)
	b.mu.Unlock()

	if fn != nil && !fn(msg) {
		return
	}

	for _, c := range clients {
		if !c.started.Load() {
			continue
		}
		dispatch(&c.subscriptions, &c.lanes, msg.Topic, msg.Payload)
	}
}

type memoryClient struct {
	broker        *MemoryBroker
	started       atomic.Bool
	subscriptions sync.Map
	lanes         laneSet
}

var _ Client = (*memoryClient)(nil)

func (c *memoryClient) Start(context.Context) error {
	c.started.Store(true)
	return nil
}

func (c *memoryClient) Disconnect(context.Context) {
	c.started.Store(false)
}

func (c *memoryClient) Publish(_ context.Context, topic string, qos int, _ bool, payload []byte) error {
	if !c.started.Load() {
		return ErrNotStarted
	}
	cp := append([]byte(nil), payload...)
	c.broker.publish(Message{Topic: topic, QoS: qos, Payload: cp})
	return nil
}

func (c *memoryClient) Subscribe(_ context.Context, topic string, qos int, handler MessageHandler) error {
	if !c.started.Load() {
		return ErrNotStarted
	}
	c.subscriptions.Store(topic, subscriptionEntry{topic: topic, qos: qos, handler: handler})
	return nil
}

func (c *memoryClient) Unsubscribe(_ context.Context, topic string) error {
	c.subscriptions.Delete(topic)
	return nil
}

func (c *memoryClient) AwaitConnection(ctx context.Context) error {
	if !c.started.Load() {
		return ErrNotStarted
	}
	return ctx.Err()
}

func (c *memoryClient) IsConnected() bool {
	return c.started.Load()
}
