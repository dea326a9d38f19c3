// Package queue provides the bounded multi-producer/multi-consumer FIFO used for every
// registry queue.
package queue

import (
	"context"
	"errors"
	"time"
)

// ErrInterrupted is returned when a blocking put or poll is interrupted before it could
// complete. Callers may retry.
var ErrInterrupted = errors.New("queue: interrupted")

// Queue is a bounded FIFO backed by a buffered channel. The zero value is not usable.
type Queue[T any] struct {
	ch chan T
}

// New returns an empty queue holding at most capacity items.
func New[T any](capacity int) *Queue[T] {
	if capacity <= 0 {
		capacity = 1
	}

	return &Queue[T]{ch: make(chan T, capacity)}
}

// Put blocks until there is room for v or ctx is done. A done ctx surfaces as
// ErrInterrupted joined with the context error.
func (q *Queue[T]) Put(ctx context.Context, v T) error {
	select {
	case q.ch <- v:
		return nil
	default:
	}

	select {
	case q.ch <- v:
		return nil
	case <-ctx.Done():
		return errors.Join(ErrInterrupted, ctx.Err())
	}
}

// Offer adds v without blocking and reports whether it fit.
func (q *Queue[T]) Offer(v T) bool {
	select {
	case q.ch <- v:
		return true
	default:
		return false
	}
}

// Take blocks until an item is available or ctx is done.
func (q *Queue[T]) Take(ctx context.Context) (T, error) {
	select {
	case v := <-q.ch:
		return v, nil
	case <-ctx.Done():
		var zero T
		return zero, errors.Join(ErrInterrupted, ctx.Err())
	}
}

// Poll waits at most timeout for an item. It returns false when the timeout elapses
// or ctx is done first.
func (q *Queue[T]) Poll(ctx context.Context, timeout time.Duration) (T, bool) {
	select {
	case v := <-q.ch:
		return v, true
	default:
	}

	t := time.NewTimer(timeout)
	defer t.Stop()

	select {
	case v := <-q.ch:
		return v, true
	case <-t.C:
	case <-ctx.Done():
	}

	var zero T

	return zero, false
}

// Drain removes and returns everything currently queued.
func (q *Queue[T]) Drain() []T {
	var out []T

	for {
		select {
		case v := <-q.ch:
			out = append(out, v)
		default:
			return out
		}
	}
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int { return len(q.ch) }

// Cap returns the queue capacity.
func (q *Queue[T]) Cap() int { return cap(q.ch) }
