package shutdown

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/evolveworks/aiekit/errors"
)

// --- Unit Tests ---

func TestPhasesRunInOrder(t *testing.T) {
	c := NewCoordinator(Config{ContinueOnError: true})

	var mu sync.Mutex
	var order []string
	record := func(name string) func(context.Context) error {
		return func(ctx context.Context) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		}
	}

	c.RegisterFuncPhase("core", record("core"), PhaseCore)
	c.RegisterFuncPhase("intake", record("intake"), PhaseIntake)
	c.RegisterFuncPhase("drain", record("drain"), PhaseDrain)

	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run error: %v", err)
	}

	want := []string{"intake", "drain", "core"}
	for i, name := range want {
		if order[i] != name {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestSamePhaseRunsConcurrently(t *testing.T) {
	c := NewCoordinator(Config{})

	arrived := make(chan struct{}, 2)
	release := make(chan struct{})
	meet := func(ctx context.Context) error {
		arrived <- struct{}{}
		<-release
		return nil
	}
	c.RegisterFuncPhase("a", meet, PhaseDrain)
	c.RegisterFuncPhase("b", meet, PhaseDrain)

	done := make(chan error, 1)
	go func() { done <- c.Run(context.Background()) }()

	// Neither handler is released until both are in flight, so the phase
	// can only finish if the group runs concurrently.
	<-arrived
	<-arrived
	close(release)

	if err := <-done; err != nil {
		t.Fatalf("Run error: %v", err)
	}
}

func TestRunIsIdempotent(t *testing.T) {
	c := NewCoordinator(Config{})
	var calls int32
	c.RegisterFunc("once", func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})

	c.Run(context.Background())
	c.Run(context.Background())

	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("handler ran %d times, want 1", n)
	}
	select {
	case <-c.Done():
	default:
		t.Error("Done not closed after Run")
	}
}

// --- Failure Tests ---

func TestHandlerFailureReported(t *testing.T) {
	c := NewCoordinator(Config{ContinueOnError: true})
	var laterRan bool
	c.RegisterFuncPhase("broken", func(ctx context.Context) error {
		return errors.New(errors.ErrCodeInternal, "release failed")
	}, PhaseDrain)
	c.RegisterFuncPhase("later", func(ctx context.Context) error {
		laterRan = true
		return nil
	}, PhaseCore)

	err := c.Run(context.Background())
	if err == nil {
		t.Fatal("expected error from failing handler")
	}
	if !laterRan {
		t.Error("later phase skipped despite ContinueOnError")
	}

	result := c.Result()
	if result == nil || !result.Failed() {
		t.Fatalf("Result = %+v", result)
	}
	failed := result.FailedHandlers()
	if len(failed) != 1 || failed[0] != "broken" {
		t.Errorf("FailedHandlers = %v", failed)
	}
}

func TestStopOnError(t *testing.T) {
	c := NewCoordinator(Config{ContinueOnError: false})
	var laterRan bool
	c.RegisterFuncPhase("broken", func(ctx context.Context) error {
		return errors.New(errors.ErrCodeInternal, "release failed")
	}, PhaseDrain)
	c.RegisterFuncPhase("later", func(ctx context.Context) error {
		laterRan = true
		return nil
	}, PhaseCore)

	if err := c.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if laterRan {
		t.Error("later phase ran despite stop-on-error")
	}
}

func TestDeadlineAbortsRemainingPhases(t *testing.T) {
	c := NewCoordinator(Config{ContinueOnError: true})
	var coreRan bool
	c.RegisterFuncPhase("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, PhaseDrain)
	c.RegisterFuncPhase("core", func(ctx context.Context) error {
		coreRan = true
		return nil
	}, PhaseCore)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := c.Run(ctx)
	if err == nil {
		t.Fatal("expected error from expired deadline")
	}
	if coreRan {
		t.Error("phase after the deadline still ran")
	}
}

// --- Signal Tests ---

func TestTriggerRunsTeardown(t *testing.T) {
	c := NewCoordinator(Config{DefaultTimeout: time.Second})
	var ran int32
	c.RegisterFunc("component", func(ctx context.Context) error {
		atomic.AddInt32(&ran, 1)
		return nil
	})

	c.HandleSignals()
	c.Trigger()

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("teardown did not complete after Trigger")
	}
	if atomic.LoadInt32(&ran) != 1 {
		t.Errorf("handler ran %d times, want 1", ran)
	}
}
