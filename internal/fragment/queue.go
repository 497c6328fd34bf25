// Package fragment carries incremental generated text from the generation side of a turn to
// the synthesis side.
package fragment

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrTimeout is returned by Receive when no fragment arrived within the wait.
var ErrTimeout = errors.New("fragment: receive timed out")

// Fragment is one piece of generated text. An empty Text is a heartbeat. Final marks the
// terminal sentinel and carries no text.
type Fragment struct {
	Text  string
	Final bool
}

// Queue is an unbounded FIFO with one producer and one consumer. A new Queue is created for
// every turn.
type Queue struct {
	mu       sync.Mutex
	items    []Fragment
	signal   chan struct{}
	finished bool
	once     sync.Once
}

func NewQueue() *Queue {
	return &Queue{signal: make(chan struct{}, 1)}
}

// Push appends text. Pushes after Finish are dropped.
func (q *Queue) Push(text string) {
	q.mu.Lock()
	if q.finished {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, Fragment{Text: text})
	q.mu.Unlock()
	q.notify()
}

// Finish enqueues the terminal sentinel. Only the first call has an effect.
func (q *Queue) Finish() {
	q.once.Do(func() {
		q.mu.Lock()
		q.items = append(q.items, Fragment{Final: true})
		q.finished = true
		q.mu.Unlock()
		q.notify()
	})
}

func (q *Queue) notify() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// Receive returns the next fragment, waiting at most timeout. It returns ErrTimeout when the
// wait elapses and ctx.Err() when the context ends first.
func (q *Queue) Receive(ctx context.Context, timeout time.Duration) (Fragment, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			f := q.items[0]
			q.items[0] = Fragment{}
			q.items = q.items[1:]
			q.mu.Unlock()
			return f, nil
		}
		q.mu.Unlock()

		select {
		case <-q.signal:
		case <-timer.C:
			return Fragment{}, ErrTimeout
		case <-ctx.Done():
			return Fragment{}, ctx.Err()
		}
	}
}

// Len reports the number of buffered fragments.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
