package utils

import (
	"context"
	"errors"
	"sync"
)

var ErrClosed = errors.New("[field-kit] task chain is closed")

// Task is one step of an entity's serialized work. It receives the value
// produced by the previous task on the same chain.
type Task func(ctx context.Context, prev any) (any, error)

type Outcome struct {
	Value any
	Err   error
}

// Chain runs tasks strictly in submission order, at most one in flight.
// A failed task rejects its own waiter; the chain stays usable and the
// next task still sees the last successfully produced value.
type Chain struct {
	lock   sync.Mutex
	tail   chan Outcome
	closed bool
}

// Enqueue schedules the task after everything already submitted. The
// returned channel receives exactly one Outcome.
func (c *Chain) Enqueue(ctx context.Context, task Task) <-chan Outcome {
	done := make(chan Outcome, 1)
	c.lock.Lock()
	if c.closed {
		c.lock.Unlock()
		done <- Outcome{Err: ErrClosed}
		return done
	}
	prev := c.tail
	next := make(chan Outcome, 1)
	c.tail = next
	c.lock.Unlock()

	go func() {
		var last Outcome
		if prev != nil {
			last = <-prev
		}
		value, err := task(ctx, last.Value)
		if err != nil {
			// carry the predecessor's value past the failure
			next <- Outcome{Value: last.Value}
		} else {
			next <- Outcome{Value: value}
		}
		done <- Outcome{Value: value, Err: err}
	}()
	return done
}

func (c *Chain) Close() error {
	c.lock.Lock()
	c.closed = true
	c.lock.Unlock()
	return nil
}

// Await blocks until every task submitted so far has finished.
func (c *Chain) Await() {
	<-c.Enqueue(context.Background(), func(_ context.Context, prev any) (any, error) {
		return prev, nil
	})
}
