// Package waiter correlates outbound commands with their inbound responses.
//
// A Waiter is registered for a Key before the command is published and is
// settled exactly once: resolved with a value, expired by its deadline, or
// discarded by cancellation. Entries are removed from the registry before the
// waiter is woken, so a late duplicate response finds nothing and is dropped.
package waiter

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"k8s.io/utils/clock"
)

var (
	// ErrTimeout is returned by Wait when the deadline passed first.
	ErrTimeout = errors.New("waiter timed out")

	// ErrDiscarded is returned by Wait when the waiter was cancelled.
	ErrDiscarded = errors.New("waiter discarded")

	// ErrAlreadyRegistered is returned by Register when the key is pending.
	ErrAlreadyRegistered = errors.New("waiter already registered")
)

const shardCount = 32

// Key identifies one in-flight command.
type Key struct {
	ExecutionID string
	Seq         int
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%d", k.ExecutionID, k.Seq)
}

// Option configures a Registry.
type Option func(*options)

type options struct {
	clock   clock.WithDelayedExecution
	pending prometheus.Gauge
}

// WithClock sets the timer source. Defaults to the real clock.
func WithClock(c clock.WithDelayedExecution) Option {
	return func(o *options) { o.clock = c }
}

// WithPendingGauge tracks the number of pending waiters.
func WithPendingGauge(g prometheus.Gauge) Option {
	return func(o *options) { o.pending = g }
}

// Registry maps keys to pending waiters. Keys are spread over shards, each
// with its own lock, so unrelated executions never contend.
type Registry[V any] struct {
	opts   options
	shards [shardCount]shard[V]
}

type shard[V any] struct {
	mu      sync.Mutex
	entries map[Key]*Waiter[V]
}

// New creates an empty registry.
func New[V any](opts ...Option) *Registry[V] {
	o := options{clock: clock.RealClock{}}
	for _, fn := range opts {
		fn(&o)
	}
	r := &Registry[V]{opts: o}
	for i := range r.shards {
		r.shards[i].entries = make(map[Key]*Waiter[V])
	}
	return r
}

func (r *Registry[V]) shardFor(key Key) *shard[V] {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key.ExecutionID))
	return &r.shards[(h.Sum32()+uint32(key.Seq))%shardCount]
}

// Register creates a pending waiter for key that expires after timeout.
func (r *Registry[V]) Register(key Key, timeout time.Duration) (*Waiter[V], error) {
	s := r.shardFor(key)
	w := &Waiter[V]{key: key, registry: r, done: make(chan struct{})}

	s.mu.Lock()
	if _, ok := s.entries[key]; ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrAlreadyRegistered, key)
	}
	s.entries[key] = w
	s.mu.Unlock()
	if r.opts.pending != nil {
		r.opts.pending.Inc()
	}

	// The timer is armed outside the shard lock; a fake clock fires
	// callbacks while holding its own lock.
	t := r.opts.clock.AfterFunc(timeout, func() {
		var zero V
		r.settle(w, zero, ErrTimeout, false)
	})

	s.mu.Lock()
	w.timer = t
	settled := w.settled
	s.mu.Unlock()
	if settled {
		t.Stop()
	}
	return w, nil
}

// Resolve settles the pending waiter for key with v. It returns false when
// no waiter is pending, which includes keys that already resolved or expired.
func (r *Registry[V]) Resolve(key Key, v V) bool {
	return r.settleKey(key, v, nil)
}

// Expire fails the pending waiter for key with ErrTimeout.
func (r *Registry[V]) Expire(key Key) bool {
	var zero V
	return r.settleKey(key, zero, ErrTimeout)
}

// Discard fails the pending waiter for key with ErrDiscarded. No value is
// delivered.
func (r *Registry[V]) Discard(key Key) bool {
	var zero V
	return r.settleKey(key, zero, ErrDiscarded)
}

// Len returns the number of pending waiters.
func (r *Registry[V]) Len() int {
	n := 0
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.Lock()
		n += len(s.entries)
		s.mu.Unlock()
	}
	return n
}

func (r *Registry[V]) settleKey(key Key, v V, err error) bool {
	s := r.shardFor(key)
	s.mu.Lock()
	w, ok := s.entries[key]
	s.mu.Unlock()
	if !ok {
		return false
	}
	return r.settle(w, v, err, true)
}

// settle applies the first outcome for w. Only the caller that removes w
// from its shard wins. The timer's own callback passes stopTimer=false.
func (r *Registry[V]) settle(w *Waiter[V], v V, err error, stopTimer bool) bool {
	s := r.shardFor(w.key)

	s.mu.Lock()
	if cur, ok := s.entries[w.key]; !ok || cur != w {
		s.mu.Unlock()
		return false
	}
	delete(s.entries, w.key)
	w.settled = true
	w.value, w.err = v, err
	t := w.timer
	s.mu.Unlock()

	if r.opts.pending != nil {
		r.opts.pending.Dec()
	}
	close(w.done)
	if t != nil && stopTimer {
		t.Stop()
	}
	return true
}

// Waiter is a single-resolution slot for one key.
type Waiter[V any] struct {
	key      Key
	registry *Registry[V]
	done     chan struct{}

	// guarded by the shard lock until done is closed
	timer   clock.Timer
	settled bool
	value   V
	err     error
}

// Key returns the key the waiter was registered for.
func (w *Waiter[V]) Key() Key { return w.key }

// Done is closed once the waiter is settled.
func (w *Waiter[V]) Done() <-chan struct{} { return w.done }

// Wait blocks until the waiter is settled or ctx ends. A cancelled ctx
// discards the waiter and returns ctx.Err().
func (w *Waiter[V]) Wait(ctx context.Context) (V, error) {
	select {
	case <-w.done:
		return w.value, w.err
	case <-ctx.Done():
	}

	var zero V
	if w.registry.settle(w, zero, ErrDiscarded, true) {
		return zero, ctx.Err()
	}
	// settled concurrently by someone else
	<-w.done
	return w.value, w.err
}
