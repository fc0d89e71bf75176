package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// --- Unit Tests ---

func TestDefaults(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults do not validate: %v", err)
	}
	if cfg.Bus.InboxCapacity != 64 {
		t.Errorf("InboxCapacity = %d", cfg.Bus.InboxCapacity)
	}
	if cfg.Learning.Interval.Duration != 5*time.Second {
		t.Errorf("learning interval = %v", cfg.Learning.Interval.Duration)
	}
}

func TestParseEmptyIsDefaults(t *testing.T) {
	cfg, err := Parse("")
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if *cfg != *Default() {
		t.Errorf("empty config should equal defaults")
	}
}

func TestParseOverrides(t *testing.T) {
	cfg, err := Parse(`
[bus]
inbox_capacity = 16
response_timeout = "2s"

[feedback]
window_size = 32

[learning]
interval = "500ms"
max_delta = 0.1

[logging]
level = "debug"

[telemetry]
exporter = "file"
path = "/tmp/events.jsonl"
`)
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if cfg.Bus.InboxCapacity != 16 {
		t.Errorf("InboxCapacity = %d, want 16", cfg.Bus.InboxCapacity)
	}
	if cfg.Bus.ResponseTimeout.Duration != 2*time.Second {
		t.Errorf("ResponseTimeout = %v, want 2s", cfg.Bus.ResponseTimeout.Duration)
	}
	if cfg.Feedback.WindowSize != 32 {
		t.Errorf("WindowSize = %d, want 32", cfg.Feedback.WindowSize)
	}
	if cfg.Learning.Interval.Duration != 500*time.Millisecond {
		t.Errorf("learning interval = %v", cfg.Learning.Interval.Duration)
	}
	if cfg.Learning.MaxDelta != 0.1 {
		t.Errorf("MaxDelta = %v", cfg.Learning.MaxDelta)
	}
	if cfg.Telemetry.Exporter != "file" || cfg.Telemetry.Path != "/tmp/events.jsonl" {
		t.Errorf("telemetry = %+v", cfg.Telemetry)
	}
	// Untouched sections keep defaults.
	if cfg.Heartbeat.Misses != 3 {
		t.Errorf("heartbeat misses = %d, want default 3", cfg.Heartbeat.Misses)
	}
}

func TestParseRejectsInvalid(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"bad toml", "[bus\ninbox_capacity = 1"},
		{"bad duration", "[bus]\nresponse_timeout = \"fast\""},
		{"zero capacity", "[bus]\ninbox_capacity = 0"},
		{"smoothing over one", "[learning]\nsmoothing = 1.5"},
		{"unknown exporter", "[telemetry]\nexporter = \"carrier-pigeon\""},
	}
	for _, tc := range cases {
		if _, err := Parse(tc.content); err == nil {
			t.Errorf("%s: expected error", tc.name)
		}
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ecosystem.toml")
	if err := os.WriteFile(path, []byte("[bus]\ninbox_capacity = 8\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile error: %v", err)
	}
	if cfg.Bus.InboxCapacity != 8 {
		t.Errorf("InboxCapacity = %d, want 8", cfg.Bus.InboxCapacity)
	}

	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Error("expected error for missing file")
	}
}
