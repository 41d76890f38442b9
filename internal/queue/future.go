// internal/queue/future.go
package queue

import (
	"context"
	"fmt"
)

// Future is the pending outcome of a task handed to a Queue.
type Future struct {
	done  chan struct{}
	value any
	err   error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) settle(value any, err error) {
	f.value = value
	f.err = err
	close(f.done)
}

// Done is closed once the task has succeeded, failed or been rejected.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the task settles or ctx ends.
func (f *Future) Wait(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Await waits on f and asserts the task's value to T.
func Await[T any](ctx context.Context, f *Future) (T, error) {
	var zero T
	v, err := f.Wait(ctx)
	if err != nil {
		return zero, err
	}
	if v == nil {
		return zero, nil
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("queue: task returned %T, want %T", v, zero)
	}
	return t, nil
}

// Rejected returns a future that has already failed with err.
func Rejected(err error) *Future {
	f := newFuture()
	f.settle(nil, err)
	return f
}
