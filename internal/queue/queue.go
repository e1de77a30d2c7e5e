package queue

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Enqueue and Dequeue once the queue is closed and
// drained.
var ErrClosed = errors.New("queue closed")

// Producer is the narrow enqueue surface handed to components that emit work.
type Producer interface {
	Enqueue(ctx context.Context, env Envelope) error
}

// Queue is a bounded FIFO channel of job envelopes with multiple producers
// and multiple consumers. The envelope channel itself is never closed, so a
// producer blocked on a full queue can never panic; shutdown is signalled
// through a separate done channel and buffered work stays consumable.
type Queue struct {
	ch        chan Envelope
	done      chan struct{}
	closeOnce sync.Once
}

// New builds a queue with the given capacity.
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{
		ch:   make(chan Envelope, capacity),
		done: make(chan struct{}),
	}
}

// Enqueue places an envelope on the queue, blocking while the queue is at
// capacity until space frees up, the context is done, or the queue closes.
func (q *Queue) Enqueue(ctx context.Context, env Envelope) error {
	select {
	case <-q.done:
		return ErrClosed
	default:
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-q.done:
		return ErrClosed
	case q.ch <- env:
		return nil
	}
}

// Dequeue removes the oldest envelope, blocking until one is available or
// the context is done. After Close, remaining buffered envelopes are drained
// before ErrClosed is reported.
func (q *Queue) Dequeue(ctx context.Context) (Envelope, error) {
	select {
	case <-ctx.Done():
		return Envelope{}, ctx.Err()
	case env := <-q.ch:
		return env, nil
	case <-q.done:
	}

	// Closed: drain whatever is still buffered.
	select {
	case env := <-q.ch:
		return env, nil
	default:
		return Envelope{}, ErrClosed
	}
}

// Len reports how many envelopes are currently buffered.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Cap reports the queue capacity.
func (q *Queue) Cap() int {
	return cap(q.ch)
}

// Close stops accepting new work. Buffered envelopes remain consumable until
// drained. Close is idempotent.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		close(q.done)
	})
}
