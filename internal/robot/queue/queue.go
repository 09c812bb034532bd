// Package queue is the robot's bounded command FIFO.
//
// Enqueueing is two-phase: Reserve claims capacity atomically and the
// caller then Commits the entry or Cancels the claim. This lets the caller
// acknowledge a command only once it is certain to be queued.
package queue

import (
	"context"
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// ErrFull is returned by Reserve when no capacity is left.
	ErrFull = errors.New("queue full")

	// ErrWorkerRunning is returned by Run when a worker is already draining.
	ErrWorkerRunning = errors.New("queue worker already running")
)

// Queue is a bounded FIFO drained by a single worker.
type Queue[T any] struct {
	limit int
	depth prometheus.Gauge

	mu       sync.Mutex
	items    []T
	reserved int
	running  bool

	ready chan struct{}
}

// Option configures a Queue.
type Option func(*options)

type options struct {
	depth prometheus.Gauge
}

// WithDepthGauge reports the number of committed entries.
func WithDepthGauge(g prometheus.Gauge) Option {
	return func(o *options) { o.depth = g }
}

// New returns a queue holding at most limit entries, reservations included.
func New[T any](limit int, opts ...Option) *Queue[T] {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if limit <= 0 {
		limit = 1
	}
	return &Queue[T]{
		limit: limit,
		depth: o.depth,
		ready: make(chan struct{}, 1),
	}
}

// Reservation is claimed capacity for exactly one entry.
type Reservation[T any] struct {
	q    *Queue[T]
	once sync.Once
}

// Reserve claims one slot or returns ErrFull.
func (q *Queue[T]) Reserve() (*Reservation[T], error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items)+q.reserved >= q.limit {
		return nil, ErrFull
	}
	q.reserved++
	return &Reservation[T]{q: q}, nil
}

// Commit appends item in the reserved slot. Later calls are no-ops.
func (r *Reservation[T]) Commit(item T) {
	r.once.Do(func() {
		q := r.q
		q.mu.Lock()
		q.reserved--
		q.items = append(q.items, item)
		q.observe()
		q.mu.Unlock()

		select {
		case q.ready <- struct{}{}:
		default:
		}
	})
}

// Cancel returns the reserved slot. Later calls are no-ops.
func (r *Reservation[T]) Cancel() {
	r.once.Do(func() {
		r.q.mu.Lock()
		r.q.reserved--
		r.q.mu.Unlock()
	})
}

// Len returns the number of committed entries not yet taken by the worker.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Peek returns the head entry without removing it.
func (q *Queue[T]) Peek() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	return q.items[0], true
}

// Run takes entries in FIFO order and hands each to fn, one at a time,
// until ctx is done. Only one Run may be active per queue.
func (q *Queue[T]) Run(ctx context.Context, fn func(ctx context.Context, item T)) error {
	q.mu.Lock()
	if q.running {
		q.mu.Unlock()
		return ErrWorkerRunning
	}
	q.running = true
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		q.running = false
		q.mu.Unlock()
	}()

	for {
		item, ok := q.pop()
		if !ok {
			select {
			case <-ctx.Done():
				return nil
			case <-q.ready:
				continue
			}
		}
		if ctx.Err() != nil {
			return nil
		}
		fn(ctx, item)
	}
}

func (q *Queue[T]) pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	item := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	q.observe()
	return item, true
}

func (q *Queue[T]) observe() {
	if q.depth != nil {
		q.depth.Set(float64(len(q.items)))
	}
}
