package shutdown

import (
	"context"
	"time"

	"github.com/evolveworks/aiekit/errors"
	"github.com/evolveworks/aiekit/logging"
)

// Lifecycle phases for an ecosystem teardown. Lower phases run first;
// handlers within a phase run concurrently.
const (
	// PhaseIntake stops accepting new envelopes: transports and other
	// entry points.
	PhaseIntake = 10

	// PhaseDrain flushes queued deliveries and resolves pending responses.
	PhaseDrain = 20

	// PhaseBackground stops periodic loops: learner, heartbeats, monitors.
	PhaseBackground = 30

	// PhaseCore releases the bus, collector, and registry.
	PhaseCore = 40

	// PhaseTelemetry flushes exporters last so earlier phases are observed.
	PhaseTelemetry = 50
)

// DefaultTimeout bounds a teardown started without an explicit deadline.
const DefaultTimeout = 30 * time.Second

// Handler is implemented by components that participate in teardown.
type Handler interface {
	// OnShutdown stops the component. The context is cancelled when the
	// teardown deadline passes; implementations should stop new work
	// first and give up in-progress work when the context expires.
	OnShutdown(ctx context.Context) error
}

// Func adapts a plain function into a Handler.
type Func func(ctx context.Context) error

// OnShutdown implements Handler.
func (f Func) OnShutdown(ctx context.Context) error {
	return f(ctx)
}

// HandlerResult records one handler's teardown.
type HandlerResult struct {
	Name     string
	Phase    int
	Duration time.Duration
	Err      error
}

// Result records a complete teardown.
type Result struct {
	TotalDuration time.Duration
	Results       []HandlerResult
	Err           error
}

// Failed returns true if any handler failed.
func (r *Result) Failed() bool {
	return r.Err != nil
}

// FailedHandlers returns the names of handlers that failed.
func (r *Result) FailedHandlers() []string {
	var failed []string
	for _, hr := range r.Results {
		if hr.Err != nil {
			failed = append(failed, hr.Name)
		}
	}
	return failed
}

// Config configures the coordinator.
type Config struct {
	// DefaultTimeout bounds RunWithTimeout(0) and signal-triggered
	// teardowns. Default: DefaultTimeout.
	DefaultTimeout time.Duration

	// DefaultPhase is assigned to handlers registered without a phase.
	// Default: PhaseCore.
	DefaultPhase int

	// ContinueOnError keeps later phases running after a handler fails.
	// Default: true via DefaultConfig.
	ContinueOnError bool

	// Logger for per-handler progress. Nil means silent.
	Logger *logging.Logger
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.DefaultTimeout < 0 {
		return errors.New(errors.ErrCodeInvalidInput, "shutdown timeout must not be negative")
	}
	return nil
}

// DefaultConfig returns the defaults.
func DefaultConfig() Config {
	return Config{
		DefaultTimeout:  DefaultTimeout,
		DefaultPhase:    PhaseCore,
		ContinueOnError: true,
	}
}

// registration holds a registered handler with its metadata.
type registration struct {
	name    string
	handler Handler
	phase   int
}
