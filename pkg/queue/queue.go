package queue

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	ErrClosed  = errors.New("queue closed")
	ErrTimeout = errors.New("queue pop timed out")
)

// Queue is an unbounded FIFO safe for many producers and many consumers.
// Push never blocks.
type Queue[T any] struct {
	mu      sync.Mutex
	items   []T
	head    int
	waiters int
	ready   chan struct{} // closed when an item arrives or the queue closes
	closed  bool
}

func New[T any]() *Queue[T] {
	return &Queue[T]{ready: make(chan struct{})}
}

// Push appends v. It fails only once the queue is closed.
func (q *Queue[T]) Push(v T) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}
	q.items = append(q.items, v)
	q.wakeLocked()
	return nil
}

// PushEvict appends v and then drops the oldest items until at most limit
// remain. A limit of zero or less keeps everything. It returns how many
// items were dropped.
func (q *Queue[T]) PushEvict(v T, limit int) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return 0, ErrClosed
	}
	q.items = append(q.items, v)
	dropped := 0
	for limit > 0 && len(q.items)-q.head > limit {
		q.takeLocked()
		dropped++
	}
	q.wakeLocked()
	return dropped, nil
}

// Pop removes the oldest item, waiting until one is available, the queue is
// closed or ctx ends. Items pushed before Close are still delivered.
func (q *Queue[T]) Pop(ctx context.Context) (T, error) {
	for {
		q.mu.Lock()
		if v, ok := q.takeLocked(); ok {
			q.mu.Unlock()
			return v, nil
		}
		if q.closed {
			q.mu.Unlock()
			var zero T
			return zero, ErrClosed
		}
		q.waiters++
		ready := q.ready
		q.mu.Unlock()

		select {
		case <-ready:
			q.mu.Lock()
			q.waiters--
			q.mu.Unlock()
		case <-ctx.Done():
			q.mu.Lock()
			q.waiters--
			q.mu.Unlock()
			var zero T
			return zero, ctx.Err()
		}
	}
}

// PopTimeout is Pop bounded by d; it returns ErrTimeout when d elapses.
func (q *Queue[T]) PopTimeout(d time.Duration) (T, error) {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()

	v, err := q.Pop(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		return v, ErrTimeout
	}
	return v, err
}

// TryPop removes the oldest item without waiting.
func (q *Queue[T]) TryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.takeLocked()
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}

// Close rejects further pushes and releases every waiting consumer once the
// remaining items are drained.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.ready)
}

func (q *Queue[T]) takeLocked() (T, bool) {
	var zero T
	if q.head == len(q.items) {
		return zero, false
	}
	v := q.items[q.head]
	q.items[q.head] = zero
	q.head++

	// compact once the consumed prefix dominates the backing array
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	} else if q.head > 64 && q.head*2 > len(q.items) {
		n := copy(q.items, q.items[q.head:])
		clear(q.items[n:])
		q.items = q.items[:n]
		q.head = 0
	}
	return v, true
}

func (q *Queue[T]) wakeLocked() {
	if q.waiters == 0 {
		return
	}
	close(q.ready)
	q.ready = make(chan struct{})
}
