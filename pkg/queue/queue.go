// Package queue provides the unbounded FIFOs that hand work between the
// network goroutines and the host tick.
package queue

import "sync"

// Queue is an unbounded, goroutine-safe FIFO.
type Queue[T any] struct {
	mu    sync.Mutex
	items []T
	head  int
	ready chan struct{}
}

// New constructs an empty queue.
func New[T any]() *Queue[T] {
	return &Queue[T]{ready: make(chan struct{}, 1)}
}

// Enqueue appends v and wakes a waiting consumer.
func (q *Queue[T]) Enqueue(v T) {
	q.mu.Lock()
	q.items = append(q.items, v)
	q.mu.Unlock()
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// TryDequeue removes the oldest item. It reports false when the queue is empty.
func (q *Queue[T]) TryDequeue() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var zero T
	if q.head >= len(q.items) {
		return zero, false
	}
	v := q.items[q.head]
	q.items[q.head] = zero
	q.head++
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	} else if q.head > 64 && q.head*2 > len(q.items) {
		q.items = append(q.items[:0:0], q.items[q.head:]...)
		q.head = 0
	}
	return v, true
}

// Count returns the number of queued items.
func (q *Queue[T]) Count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}

// Clear drops every queued item. Only used during shutdown.
func (q *Queue[T]) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	dropped := len(q.items) - q.head
	q.items = nil
	q.head = 0
	return dropped
}

// Ready fires after at least one Enqueue since the last receive. Consumers
// should drain with TryDequeue after it fires since signals coalesce.
func (q *Queue[T]) Ready() <-chan struct{} {
	return q.ready
}
