package registry

import (
	"sync"
	"testing"
	"time"

	"github.com/evolveworks/aiekit/errors"
)

func register(t *testing.T, r *MemoryRegistry, name string, caps ...string) string {
	t.Helper()
	var cc []Capability
	for _, tag := range caps {
		cc = append(cc, Capability{Tag: tag})
	}
	id, err := r.Register(Registration{Name: name, Version: "1.0.0", Capabilities: cc})
	if err != nil {
		t.Fatalf("Register(%s) error: %v", name, err)
	}
	return id
}

func ready(t *testing.T, r *MemoryRegistry, name string, caps ...string) string {
	t.Helper()
	id := register(t, r, name, caps...)
	if err := r.AnnounceReady(id, nil); err != nil {
		t.Fatalf("AnnounceReady(%s) error: %v", name, err)
	}
	return id
}

// --- Unit Tests ---

func TestRegisterStartsInitializing(t *testing.T) {
	r := NewMemoryRegistry(MemoryConfig{})
	defer r.Close()

	id := register(t, r, "translator", "translate")

	rec, err := r.Resolve(id)
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if rec.Status != StatusInitializing {
		t.Errorf("Status = %v, want initializing before announce", rec.Status)
	}
	if rec.RoutingWeight != DefaultWeight {
		t.Errorf("RoutingWeight = %v, want %v", rec.RoutingWeight, DefaultWeight)
	}
	if rec.RegisteredAt.IsZero() || rec.LastActivity.IsZero() {
		t.Error("timestamps should be set")
	}
}

func TestRegisterGeneratesID(t *testing.T) {
	r := NewMemoryRegistry(MemoryConfig{})
	defer r.Close()

	a := register(t, r, "a")
	b := register(t, r, "b")
	if a == "" || b == "" || a == b {
		t.Errorf("expected distinct generated IDs, got %q and %q", a, b)
	}
}

func TestRegisterDuplicateIdentity(t *testing.T) {
	r := NewMemoryRegistry(MemoryConfig{})
	defer r.Close()

	if _, err := r.Register(Registration{ModuleID: "fixed", Name: "first"}); err != nil {
		t.Fatalf("Register error: %v", err)
	}

	_, err := r.Register(Registration{ModuleID: "fixed", Name: "second"})
	if !errors.Is(err, errors.ErrCodeDuplicateRegistration) {
		t.Errorf("expected DUPLICATE_REGISTRATION, got %v", err)
	}

	// After the first incarnation goes offline, the identity is reusable.
	if err := r.Deregister("fixed"); err != nil {
		t.Fatalf("Deregister error: %v", err)
	}
	if _, err := r.Register(Registration{ModuleID: "fixed", Name: "second"}); err != nil {
		t.Errorf("re-registration after offline should succeed, got %v", err)
	}
}

func TestRegisterInvalid(t *testing.T) {
	r := NewMemoryRegistry(MemoryConfig{})
	defer r.Close()

	if _, err := r.Register(Registration{}); err == nil {
		t.Error("expected error for missing name")
	}
	if _, err := r.Register(Registration{Name: "x", Capabilities: []Capability{{}}}); err == nil {
		t.Error("expected error for empty capability tag")
	}
}

func TestAnnounceReady(t *testing.T) {
	r := NewMemoryRegistry(MemoryConfig{})
	defer r.Close()

	id := register(t, r, "translator", "translate")

	final := []Capability{{Tag: "translate", Params: map[string]string{"pair": "en-fr"}}, {Tag: "detect"}}
	if err := r.AnnounceReady(id, final); err != nil {
		t.Fatalf("AnnounceReady error: %v", err)
	}

	rec, _ := r.Resolve(id)
	if rec.Status != StatusReady {
		t.Errorf("Status = %v, want ready", rec.Status)
	}
	if len(rec.Capabilities) != 2 {
		t.Errorf("Capabilities = %v, want announced set", rec.Capabilities)
	}

	// Second announce is an invalid transition.
	err := r.AnnounceReady(id, nil)
	if !errors.Is(err, errors.ErrCodeInvalidTransition) {
		t.Errorf("expected INVALID_TRANSITION, got %v", err)
	}
}

func TestAnnounceReadyUnknown(t *testing.T) {
	r := NewMemoryRegistry(MemoryConfig{})
	defer r.Close()

	err := r.AnnounceReady("ghost", nil)
	if !errors.Is(err, errors.ErrCodeUnknownModule) {
		t.Errorf("expected UNKNOWN_MODULE, got %v", err)
	}
}

// --- State Machine Tests ---

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to ModuleStatus
		ok       bool
	}{
		{StatusInitializing, StatusReady, true},
		{StatusInitializing, StatusBusy, false},
		{StatusReady, StatusBusy, true},
		{StatusBusy, StatusReady, true},
		{StatusReady, StatusLearning, true},
		{StatusLearning, StatusReady, true},
		{StatusReady, StatusIntegrating, true},
		{StatusIntegrating, StatusReady, true},
		{StatusBusy, StatusLearning, false},
		{StatusLearning, StatusIntegrating, false},
		{StatusReady, StatusError, true},
		{StatusBusy, StatusError, true},
		{StatusInitializing, StatusError, true},
		{StatusError, StatusReady, true},
		{StatusError, StatusBusy, false},
		{StatusReady, StatusOffline, true},
		{StatusError, StatusOffline, true},
		{StatusOffline, StatusOffline, true},
		{StatusOffline, StatusReady, false},
		{StatusOffline, StatusError, false},
		{StatusReady, StatusInitializing, false},
	}

	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.ok {
			t.Errorf("CanTransitionTo(%s -> %s) = %v, want %v", tt.from, tt.to, got, tt.ok)
		}
	}
}

func TestUpdateStatusRejectsIllegal(t *testing.T) {
	r := NewMemoryRegistry(MemoryConfig{})
	defer r.Close()

	id := ready(t, r, "worker")
	if err := r.UpdateStatus(id, StatusOffline); err != nil {
		t.Fatalf("UpdateStatus(offline) error: %v", err)
	}

	err := r.UpdateStatus(id, StatusReady)
	if !errors.Is(err, errors.ErrCodeInvalidTransition) {
		t.Errorf("expected INVALID_TRANSITION, got %v", err)
	}

	// Status must be unchanged after a rejected transition.
	rec, _ := r.Resolve(id)
	if rec.Status != StatusOffline {
		t.Errorf("Status = %v, want offline unchanged", rec.Status)
	}
}

func TestErrorRecovery(t *testing.T) {
	r := NewMemoryRegistry(MemoryConfig{})
	defer r.Close()

	id := ready(t, r, "worker")
	if err := r.UpdateStatus(id, StatusError); err != nil {
		t.Fatalf("to error: %v", err)
	}
	if err := r.UpdateStatus(id, StatusReady); err != nil {
		t.Fatalf("recovery to ready: %v", err)
	}
}

// --- Weight Tests ---

func TestApplyWeightDeltaClamps(t *testing.T) {
	r := NewMemoryRegistry(MemoryConfig{})
	defer r.Close()

	id := ready(t, r, "worker")

	deltas := []float64{5.0, 100.0, -0.5, -300.0, 0.2, 42.0, -1e9, 1e9}
	for _, d := range deltas {
		w, err := r.ApplyWeightDelta(id, d)
		if err != nil {
			t.Fatalf("ApplyWeightDelta(%v) error: %v", d, err)
		}
		if w < MinWeight || w > MaxWeight {
			t.Errorf("weight %v escaped [%v, %v] after delta %v", w, MinWeight, MaxWeight, d)
		}
		rec, _ := r.Resolve(id)
		if rec.RoutingWeight != w {
			t.Errorf("Resolve weight %v != returned %v", rec.RoutingWeight, w)
		}
	}
}

// --- Capability Routing Tests ---

func TestResolveByCapabilityOrdering(t *testing.T) {
	r := NewMemoryRegistry(MemoryConfig{})
	defer r.Close()

	a := ready(t, r, "a", "translate")
	b := ready(t, r, "b", "translate")
	c := ready(t, r, "c", "translate")

	r.ApplyWeightDelta(a, 1.0) // 2.0
	r.ApplyWeightDelta(b, 0.5) // 1.5
	// c stays at 1.0

	recs, err := r.ResolveByCapability("translate")
	if err != nil {
		t.Fatalf("ResolveByCapability error: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("got %d candidates, want 3", len(recs))
	}
	if recs[0].ModuleID != a || recs[1].ModuleID != b || recs[2].ModuleID != c {
		t.Errorf("order = %s, %s, %s; want a, b, c by descending weight",
			recs[0].ModuleID, recs[1].ModuleID, recs[2].ModuleID)
	}
}

func TestResolveByCapabilityTieBreaksOnActivity(t *testing.T) {
	r := NewMemoryRegistry(MemoryConfig{})
	defer r.Close()

	a := ready(t, r, "a", "translate")
	b := ready(t, r, "b", "translate")

	// Make a the more recently used module; b should rank first.
	time.Sleep(2 * time.Millisecond)
	if err := r.Touch(a); err != nil {
		t.Fatalf("Touch error: %v", err)
	}

	recs, _ := r.ResolveByCapability("translate")
	if len(recs) != 2 {
		t.Fatalf("got %d candidates, want 2", len(recs))
	}
	if recs[0].ModuleID != b {
		t.Errorf("least-recently-used module should rank first on tied weight, got %s", recs[0].ModuleID)
	}
}

func TestResolveByCapabilityExcludesUnavailable(t *testing.T) {
	r := NewMemoryRegistry(MemoryConfig{})
	defer r.Close()

	// initializing: registered but never announced
	register(t, r, "init", "translate")

	busy := ready(t, r, "busy", "translate")
	r.UpdateStatus(busy, StatusBusy)

	errored := ready(t, r, "errored", "translate")
	r.UpdateStatus(errored, StatusError)

	offline := ready(t, r, "offline", "translate")
	r.UpdateStatus(offline, StatusOffline)

	learning := ready(t, r, "learning", "translate")
	r.UpdateStatus(learning, StatusLearning)

	integrating := ready(t, r, "integrating", "translate")
	r.UpdateStatus(integrating, StatusIntegrating)

	okReady := ready(t, r, "ready", "translate")

	recs, _ := r.ResolveByCapability("translate")
	got := make(map[string]bool)
	for _, rec := range recs {
		got[rec.ModuleID] = true
	}

	for _, want := range []string{learning, integrating, okReady} {
		if !got[want] {
			t.Errorf("expected %s in candidates", want)
		}
	}
	if len(recs) != 3 {
		t.Errorf("got %d candidates, want 3 (busy/error/offline/initializing excluded)", len(recs))
	}
}

func TestResolveByCapabilityExactMatch(t *testing.T) {
	r := NewMemoryRegistry(MemoryConfig{})
	defer r.Close()

	ready(t, r, "worker", "translate-fast")

	recs, _ := r.ResolveByCapability("translate")
	if len(recs) != 0 {
		t.Errorf("partial tag match must not route, got %d candidates", len(recs))
	}
}

// --- Metrics Tests ---

func TestRecordMetricsRollingLatency(t *testing.T) {
	r := NewMemoryRegistry(MemoryConfig{})
	defer r.Close()

	id := ready(t, r, "worker")

	r.RecordMetrics(id, MetricsDelta{Received: 1, ResponseLatency: 100 * time.Millisecond})
	r.RecordMetrics(id, MetricsDelta{Received: 1, ResponseLatency: 300 * time.Millisecond})

	rec, _ := r.Resolve(id)
	if rec.Metrics.MessagesReceived != 2 {
		t.Errorf("MessagesReceived = %d, want 2", rec.Metrics.MessagesReceived)
	}
	if rec.Metrics.AvgResponseLatency != 200*time.Millisecond {
		t.Errorf("AvgResponseLatency = %v, want 200ms", rec.Metrics.AvgResponseLatency)
	}
}

// --- Watch Tests ---

func TestWatchEvents(t *testing.T) {
	r := NewMemoryRegistry(MemoryConfig{})
	defer r.Close()

	watch, err := r.Watch()
	if err != nil {
		t.Fatalf("Watch error: %v", err)
	}

	id := register(t, r, "worker")
	r.AnnounceReady(id, nil)
	r.UpdateStatus(id, StatusBusy)
	r.ApplyWeightDelta(id, 0.5)
	r.Deregister(id)

	want := []EventType{EventRegistered, EventReady, EventStatusChanged, EventWeightChanged, EventDeregistered}
	for i, w := range want {
		select {
		case ev := <-watch:
			if ev.Type != w {
				t.Errorf("event %d = %v, want %v", i, ev.Type, w)
			}
			if ev.Record.ModuleID != id {
				t.Errorf("event %d module = %q, want %q", i, ev.Record.ModuleID, id)
			}
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for event %v", w)
		}
	}
}

func TestWatchClosedOnClose(t *testing.T) {
	r := NewMemoryRegistry(MemoryConfig{})
	watch, _ := r.Watch()

	r.Close()

	select {
	case _, ok := <-watch:
		if ok {
			t.Error("channel should be closed")
		}
	case <-time.After(time.Second):
		t.Error("timeout - channel not closed")
	}
}

// --- Failure Tests ---

func TestOperationsAfterClose(t *testing.T) {
	r := NewMemoryRegistry(MemoryConfig{})
	r.Close()

	if _, err := r.Register(Registration{Name: "x"}); !errors.Is(err, errors.ErrCodeClosed) {
		t.Errorf("Register: expected CLOSED, got %v", err)
	}
	if _, err := r.Resolve("x"); !errors.Is(err, errors.ErrCodeClosed) {
		t.Errorf("Resolve: expected CLOSED, got %v", err)
	}
	if _, err := r.ResolveByCapability("x"); !errors.Is(err, errors.ErrCodeClosed) {
		t.Errorf("ResolveByCapability: expected CLOSED, got %v", err)
	}
	if _, err := r.List(nil); !errors.Is(err, errors.ErrCodeClosed) {
		t.Errorf("List: expected CLOSED, got %v", err)
	}
	if _, err := r.Watch(); !errors.Is(err, errors.ErrCodeClosed) {
		t.Errorf("Watch: expected CLOSED, got %v", err)
	}
	if err := r.Close(); err != nil {
		t.Errorf("double Close: %v", err)
	}
}

func TestResolveUnknown(t *testing.T) {
	r := NewMemoryRegistry(MemoryConfig{})
	defer r.Close()

	_, err := r.Resolve("ghost")
	if !errors.Is(err, errors.ErrCodeUnknownModule) {
		t.Errorf("expected UNKNOWN_MODULE, got %v", err)
	}
}

// --- Concurrency Tests ---

func TestConcurrentWeightAndStatus(t *testing.T) {
	r := NewMemoryRegistry(MemoryConfig{})
	defer r.Close()

	ids := make([]string, 8)
	for i := range ids {
		ids[i] = ready(t, r, "worker", "work")
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				r.ApplyWeightDelta(id, 0.01)
				r.ApplyWeightDelta(id, -0.01)
				r.Touch(id)
			}
		}(id)
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				r.ResolveByCapability("work")
				r.Resolve(id)
			}
		}(id)
	}
	wg.Wait()

	for _, id := range ids {
		rec, err := r.Resolve(id)
		if err != nil {
			t.Fatalf("Resolve error: %v", err)
		}
		if rec.RoutingWeight < MinWeight || rec.RoutingWeight > MaxWeight {
			t.Errorf("weight %v out of range after concurrent deltas", rec.RoutingWeight)
		}
	}
}

// --- Performance Tests ---

func BenchmarkResolveByCapability(b *testing.B) {
	r := NewMemoryRegistry(MemoryConfig{})
	defer r.Close()

	for i := 0; i < 500; i++ {
		caps := []Capability{{Tag: "common"}}
		id, _ := r.Register(Registration{Name: "worker", Capabilities: caps})
		r.AnnounceReady(id, nil)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		r.ResolveByCapability("common")
	}
}
