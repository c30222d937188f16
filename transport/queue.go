package transport

import "sync"

// Queue is an unbounded FIFO that never blocks producers. Values are read
// from Out, which is closed once Close was called and every value queued
// before it has been delivered.
type Queue[T any] struct {
	mu     sync.Mutex
	in     chan T
	out    chan T
	closed bool
}

// NewQueue creates a queue and starts its pump goroutine.
func NewQueue[T any]() *Queue[T] {
	q := &Queue[T]{
		in:  make(chan T),
		out: make(chan T),
	}
	go q.run()
	return q
}

// Push appends v. It returns false if the queue is already closed.
func (q *Queue[T]) Push(v T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.in <- v
	return true
}

// PushFinal appends v and closes the queue in one step, so no other value
// can follow it. It returns false if the queue was already closed.
func (q *Queue[T]) PushFinal(v T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.in <- v
	q.closed = true
	close(q.in)
	return true
}

// Close stops accepting values. Pending values are still delivered.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.in)
	}
}

// Closed reports whether Close or PushFinal was called.
func (q *Queue[T]) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Out returns the receive side.
func (q *Queue[T]) Out() <-chan T {
	return q.out
}

func (q *Queue[T]) run() {
	defer close(q.out)

	var pending []T
	in := q.in
	for in != nil || len(pending) > 0 {
		var out chan T
		var next T
		if len(pending) > 0 {
			out = q.out
			next = pending[0]
		}

		select {
		case v, ok := <-in:
			if !ok {
				in = nil
				continue
			}
			pending = append(pending, v)
		case out <- next:
			var zero T
			pending[0] = zero
			pending = pending[1:]
		}
	}
}
