// Package async provides a settle-once deferred result and helpers that
// schedule work on a clock, so callers can await it and tests can advance
// time instead of sleeping.
package async

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Task is the pending result of a deferred operation. It settles exactly once,
// either with a value or with an error.
type Task[T any] struct {
	once  sync.Once
	done  chan struct{}
	value T
	err   error
}

func newTask[T any]() *Task[T] {
	return &Task[T]{done: make(chan struct{})}
}

// settle records the outcome. Later calls are ignored and report false.
func (t *Task[T]) settle(v T, err error) bool {
	settled := false
	t.once.Do(func() {
		t.value = v
		t.err = err
		settled = true
		close(t.done)
	})
	return settled
}

// Done is closed once the task has settled.
func (t *Task[T]) Done() <-chan struct{} {
	return t.done
}

// Settled reports whether the task has settled.
func (t *Task[T]) Settled() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Await blocks until the task settles or ctx is done. Cancelling ctx only
// releases the waiter; the task itself still settles later.
func (t *Task[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-t.done:
		return t.value, t.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Schedule runs fn after delay on clk and settles the returned task with its
// result. The timer is registered before Schedule returns, so advancing a
// mock clock by delay is enough to start fn.
func Schedule[T any](clk clock.Clock, delay time.Duration, fn func() (T, error)) *Task[T] {
	t := newTask[T]()
	run := func() {
		var (
			v   T
			err error
		)
		defer func() {
			if r := recover(); r != nil {
				var zero T
				t.settle(zero, &PanicError{Value: r})
				return
			}
			t.settle(v, err)
		}()
		v, err = fn()
	}

	if clk == nil {
		clk = clock.New()
	}
	if delay <= 0 {
		go run()
		return t
	}
	clk.AfterFunc(delay, run)
	return t
}

// PanicError reports a panic recovered from a scheduled function.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return "async: scheduled function panicked"
}
