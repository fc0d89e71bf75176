// Package config loads ecosystem configuration from TOML.
//
// One file configures every coordination component:
//
//	[bus]
//	inbox_capacity = 64
//	response_timeout = "5s"
//
//	[feedback]
//	window_size = 256
//
//	[learning]
//	interval = "5s"
//	max_delta = 0.25
//
//	[heartbeat]
//	interval = "10s"
//	misses = 3
//
//	[logging]
//	level = "info"
//
//	[telemetry]
//	exporter = "noop"
//
// Missing sections and fields fall back to defaults, so an empty file is a
// valid configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/evolveworks/aiekit/errors"
)

// Config is the full ecosystem configuration.
type Config struct {
	Bus       BusConfig       `toml:"bus"`
	Feedback  FeedbackConfig  `toml:"feedback"`
	Learning  LearningConfig  `toml:"learning"`
	Heartbeat HeartbeatConfig `toml:"heartbeat"`
	Logging   LoggingConfig   `toml:"logging"`
	Telemetry TelemetryConfig `toml:"telemetry"`
}

// BusConfig configures the communication bus.
type BusConfig struct {
	// InboxCapacity bounds each module's priority inbox.
	InboxCapacity int `toml:"inbox_capacity"`

	// ResponseTimeout is the default pending-response timeout.
	ResponseTimeout duration `toml:"response_timeout"`

	// DeadLetterCapacity bounds dead-letter retention.
	DeadLetterCapacity int `toml:"dead_letter_capacity"`
}

// FeedbackConfig configures the outcome collector.
type FeedbackConfig struct {
	// WindowSize bounds each module's outcome window.
	WindowSize int `toml:"window_size"`
}

// LearningConfig configures the learning loop.
type LearningConfig struct {
	// Interval between learning passes.
	Interval duration `toml:"interval"`

	// Smoothing factor for the success score, in (0, 1].
	Smoothing float64 `toml:"smoothing"`

	// MaxDelta bounds the per-pass weight change.
	MaxDelta float64 `toml:"max_delta"`

	// ErrorThreshold is the error rate that triggers an error
	// recommendation.
	ErrorThreshold float64 `toml:"error_threshold"`
}

// HeartbeatConfig configures liveness beacons and monitoring.
type HeartbeatConfig struct {
	// Interval between beacons.
	Interval duration `toml:"interval"`

	// Misses before a silent module is recommended for error.
	Misses int `toml:"misses"`

	// OfflineAfter is the silence after which a module is taken offline.
	OfflineAfter duration `toml:"offline_after"`
}

// LoggingConfig configures console output.
type LoggingConfig struct {
	// Level: debug, info, warn, or error.
	Level string `toml:"level"`
}

// TelemetryConfig configures event export and tracing.
type TelemetryConfig struct {
	// Exporter: "noop", "file", "http", or "otlp".
	Exporter string `toml:"exporter"`

	// Endpoint for http and otlp exporters.
	Endpoint string `toml:"endpoint"`

	// Path for the file exporter.
	Path string `toml:"path"`

	// ServiceName tags exported spans. Default: "aiekit".
	ServiceName string `toml:"service_name"`
}

// duration wraps time.Duration for TOML strings like "5s".
type duration struct {
	time.Duration
}

// UnmarshalText implements toml duration decoding.
func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Bus: BusConfig{
			InboxCapacity:      64,
			ResponseTimeout:    duration{5 * time.Second},
			DeadLetterCapacity: 128,
		},
		Feedback: FeedbackConfig{
			WindowSize: 256,
		},
		Learning: LearningConfig{
			Interval:       duration{5 * time.Second},
			Smoothing:      0.3,
			MaxDelta:       0.25,
			ErrorThreshold: 0.5,
		},
		Heartbeat: HeartbeatConfig{
			Interval:     duration{10 * time.Second},
			Misses:       3,
			OfflineAfter: duration{time.Minute},
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Telemetry: TelemetryConfig{
			Exporter:    "noop",
			ServiceName: "aiekit",
		},
	}
}

// LoadFile loads configuration from a TOML file, applying defaults for
// anything unset.
func LoadFile(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeInvalidInput, "config file unreadable")
	}
	return Parse(string(content))
}

// Parse parses TOML content over the defaults.
func Parse(content string) (*Config, error) {
	cfg := Default()
	if _, err := toml.Decode(content, cfg); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeInvalidInput, "config parse failed")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks configuration bounds.
func (c *Config) Validate() error {
	if c.Bus.InboxCapacity <= 0 {
		return invalid("bus.inbox_capacity must be positive")
	}
	if c.Bus.ResponseTimeout.Duration <= 0 {
		return invalid("bus.response_timeout must be positive")
	}
	if c.Feedback.WindowSize <= 0 {
		return invalid("feedback.window_size must be positive")
	}
	if c.Learning.Interval.Duration <= 0 {
		return invalid("learning.interval must be positive")
	}
	if c.Learning.Smoothing <= 0 || c.Learning.Smoothing > 1 {
		return invalid("learning.smoothing must be in (0, 1]")
	}
	if c.Learning.MaxDelta <= 0 {
		return invalid("learning.max_delta must be positive")
	}
	if c.Learning.ErrorThreshold <= 0 || c.Learning.ErrorThreshold > 1 {
		return invalid("learning.error_threshold must be in (0, 1]")
	}
	if c.Heartbeat.Interval.Duration <= 0 {
		return invalid("heartbeat.interval must be positive")
	}
	if c.Heartbeat.Misses <= 0 {
		return invalid("heartbeat.misses must be positive")
	}
	switch c.Telemetry.Exporter {
	case "noop", "file", "http", "otlp":
	default:
		return invalid(fmt.Sprintf("telemetry.exporter %q unknown", c.Telemetry.Exporter))
	}
	return nil
}

func invalid(msg string) error {
	return errors.New(errors.ErrCodeInvalidInput, msg)
}
