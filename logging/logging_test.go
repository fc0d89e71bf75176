package logging

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"
)

// --- Unit Tests ---

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New()
	l.SetOutput(&buf)
	l.SetLevel(LevelWarn)

	l.Debug("hidden")
	l.Info("hidden")
	l.Warn("shown")
	l.Error("also shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("filtered levels leaked: %q", out)
	}
	if !strings.Contains(out, "shown") || !strings.Contains(out, "also shown") {
		t.Errorf("expected warn and error lines: %q", out)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", LevelDebug},
		{"DEBUG", LevelDebug},
		{" warn ", LevelWarn},
		{"warning", LevelWarn},
		{"error", LevelError},
		{"info", LevelInfo},
		{"bogus", LevelInfo},
		{"", LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestComponentTag(t *testing.T) {
	var buf bytes.Buffer
	l := New()
	l.SetOutput(&buf)

	l.WithComponent("bus").Info("routing")

	if !strings.Contains(buf.String(), "[bus]") {
		t.Errorf("expected component tag: %q", buf.String())
	}
}

func TestFieldsSortedAndFormatted(t *testing.T) {
	var buf bytes.Buffer
	l := New()
	l.SetOutput(&buf)

	l.Info("event", map[string]interface{}{"zeta": 1, "alpha": "x"})

	out := buf.String()
	if !strings.Contains(out, "alpha=x zeta=1") {
		t.Errorf("fields should be sorted key=value pairs: %q", out)
	}
}

func TestNilLoggerIsSilent(t *testing.T) {
	var l *Logger
	// Must not panic.
	l.Info("into the void")
	l.Delivered("e", "m", 0)
}

// --- Event Helper Tests ---

func TestEventHelpers(t *testing.T) {
	var buf bytes.Buffer
	l := New()
	l.SetOutput(&buf)
	l.SetLevel(LevelDebug)

	l.Delivered("env-1", "mod-1", 3)
	l.Rejected("env-2", "mod-1", "rejected-busy")
	l.DeadLetter("env-3", "no_capable_module")
	l.DuplicateResponse("env-1", "env-4")
	l.StatusChanged("mod-1", "ready", "busy")
	l.WeightAdjusted("mod-1", -0.25, 0.75)
	l.LearningPass(4, 10*time.Millisecond)
	l.ModuleJoined("mod-1", "translator", 2)
	l.ModuleLeft("mod-1")

	out := buf.String()
	for _, want := range []string{
		"delivered", "rejected", "dead_letter", "duplicate_response_discarded",
		"status_changed", "weight_adjusted", "learning_pass", "module_joined", "module_left",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in output", want)
		}
	}
	if !strings.Contains(out, "delta=-0.2500") {
		t.Errorf("weight delta formatting: %q", out)
	}
}

// --- Concurrency Tests ---

func TestConcurrentWrites(t *testing.T) {
	var buf bytes.Buffer
	l := New()
	l.SetOutput(&buf)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				l.Info("line", map[string]interface{}{"n": j})
			}
		}()
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1000 {
		t.Errorf("got %d lines, want 1000", len(lines))
	}
}
