package workqueue

import (
	"context"
	"fmt"
	"sync"
)

// Ticket tracks one submitted task
type Ticket struct {
	id   uint64
	key  string
	q    *Queue
	once sync.Once
	done chan struct{}
	err  error
}

// Key returns the lane the task was submitted on
func (t *Ticket) Key() string {
	return t.key
}

// Done is closed once the task has completed, failed or been cancelled
func (t *Ticket) Done() <-chan struct{} {
	return t.done
}

// Err returns the task result. It is only meaningful after Done is closed.
func (t *Ticket) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// Cancel removes the task if it has not started yet
func (t *Ticket) Cancel() bool {
	return t.q.Cancel(t)
}

// Wait blocks until the task finishes. When ctx ends first a still-queued
// task is cancelled.
func (t *Ticket) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		if t.Cancel() {
			return fmt.Errorf("task on %q not started: %w", t.key, ctx.Err())
		}
		select {
		case <-t.done:
			return t.err
		default:
		}
		return fmt.Errorf("task on %q still running: %w", t.key, ctx.Err())
	}
}

func (t *Ticket) complete(err error) {
	t.once.Do(func() {
		t.err = err
		close(t.done)
	})
}
