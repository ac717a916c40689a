package async

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

func awaitWithin[T any](t *testing.T, task *Task[T]) (T, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return task.Await(ctx)
}

func TestSchedule_WaitsForDelay(t *testing.T) {
	clk := clock.NewMock()
	var calls atomic.Int32

	task := Schedule(clk, 800*time.Millisecond, func() (string, error) {
		calls.Add(1)
		return "ok", nil
	})

	if task.Settled() {
		t.Fatal("task settled before the delay elapsed")
	}

	clk.Add(799 * time.Millisecond)
	if calls.Load() != 0 {
		t.Fatal("function ran before the delay elapsed")
	}

	clk.Add(time.Millisecond)
	got, err := awaitWithin(t, task)
	if err != nil {
		t.Fatalf("Await() error = %v", err)
	}
	if got != "ok" {
		t.Errorf("Await() = %q, want %q", got, "ok")
	}
	if calls.Load() != 1 {
		t.Errorf("function ran %d times, want 1", calls.Load())
	}
}

func TestSchedule_Error(t *testing.T) {
	clk := clock.NewMock()
	want := errors.New("boom")

	task := Schedule(clk, time.Second, func() (int, error) {
		return 0, want
	})
	clk.Add(time.Second)

	_, err := awaitWithin(t, task)
	if !errors.Is(err, want) {
		t.Errorf("Await() error = %v, want %v", err, want)
	}
}

func TestSchedule_Panic(t *testing.T) {
	clk := clock.NewMock()

	task := Schedule(clk, time.Second, func() (int, error) {
		panic("bad")
	})
	clk.Add(time.Second)

	_, err := awaitWithin(t, task)
	var pe *PanicError
	if !errors.As(err, &pe) {
		t.Fatalf("Await() error = %v, want *PanicError", err)
	}
	if pe.Value != "bad" {
		t.Errorf("PanicError.Value = %v, want %q", pe.Value, "bad")
	}
}

func TestSchedule_ZeroDelay(t *testing.T) {
	task := Schedule(clock.NewMock(), 0, func() (int, error) {
		return 7, nil
	})

	got, err := awaitWithin(t, task)
	if err != nil || got != 7 {
		t.Errorf("Await() = %d, %v; want 7, nil", got, err)
	}
}

func TestAwait_ContextCancelled(t *testing.T) {
	clk := clock.NewMock()
	task := Schedule(clk, time.Second, func() (int, error) {
		return 1, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := task.Await(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Await() error = %v, want context.Canceled", err)
	}

	// The operation still settles once time moves on.
	clk.Add(time.Second)
	got, err := awaitWithin(t, task)
	if err != nil || got != 1 {
		t.Errorf("Await() after cancel = %d, %v; want 1, nil", got, err)
	}
}

func TestTask_SettlesOnce(t *testing.T) {
	task := newTask[int]()

	if !task.settle(1, nil) {
		t.Fatal("first settle should succeed")
	}
	if task.settle(2, errors.New("late")) {
		t.Error("second settle should be ignored")
	}

	got, err := awaitWithin(t, task)
	if err != nil || got != 1 {
		t.Errorf("Await() = %d, %v; want 1, nil", got, err)
	}
}

