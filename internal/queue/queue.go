// Package queue provides a fixed-capacity FIFO for handing records from one
// worker to another.
//
// Sends never block: when the queue is full the new record is rejected and
// the records already queued are left untouched. Receives block the single
// consumer until a record arrives.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
)

var (
	// ErrFull is returned by TrySend when the queue is at capacity.
	ErrFull = errors.New("queue: full")

	// ErrNotCreated is returned when operating on a queue that was never created.
	ErrNotCreated = errors.New("queue: not created")

	// ErrInvalidCapacity is returned by New for a non-positive capacity.
	ErrInvalidCapacity = errors.New("queue: capacity must be positive")
)

// Queue is a bounded FIFO of values of type T.
type Queue[T any] struct {
	ch    chan T
	drops atomic.Uint64
}

// New creates a queue holding at most capacity records.
func New[T any](capacity int) (*Queue[T], error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCapacity, capacity)
	}
	return &Queue[T]{ch: make(chan T, capacity)}, nil
}

// TrySend enqueues v without blocking. Returns ErrFull if there is no room.
func (q *Queue[T]) TrySend(v T) error {
	if q == nil {
		return ErrNotCreated
	}
	select {
	case q.ch <- v:
		return nil
	default:
		q.drops.Add(1)
		return ErrFull
	}
}

// Receive blocks until a record is available or ctx is done.
// A nil queue returns ErrNotCreated immediately.
func (q *Queue[T]) Receive(ctx context.Context) (T, error) {
	var zero T
	if q == nil {
		return zero, ErrNotCreated
	}
	select {
	case v := <-q.ch:
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Len returns the number of queued records.
func (q *Queue[T]) Len() int {
	if q == nil {
		return 0
	}
	return len(q.ch)
}

// Cap returns the queue capacity.
func (q *Queue[T]) Cap() int {
	if q == nil {
		return 0
	}
	return cap(q.ch)
}

// Drops returns how many sends were rejected because the queue was full.
func (q *Queue[T]) Drops() uint64 {
	if q == nil {
		return 0
	}
	return q.drops.Load()
}
