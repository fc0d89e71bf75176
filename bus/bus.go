package bus

import (
	"context"
	"time"

	"github.com/evolveworks/aiekit/envelope"
	"github.com/evolveworks/aiekit/feedback"
	"github.com/evolveworks/aiekit/logging"
	"github.com/evolveworks/aiekit/module"
	"github.com/evolveworks/aiekit/registry"
)

// Default bus parameters.
const (
	// DefaultInboxCapacity bounds each module's priority inbox.
	DefaultInboxCapacity = 64

	// DefaultResponseTimeout applies to pending responses when the caller
	// sets no deadline.
	DefaultResponseTimeout = 5 * time.Second

	// DefaultOutcomeBuffer sizes the async channel feeding the collector.
	DefaultOutcomeBuffer = 256

	// DefaultDeadLetterCapacity bounds dead-letter retention.
	DefaultDeadLetterCapacity = 128
)

// Config configures a bus.
type Config struct {
	// InboxCapacity bounds each module's priority inbox.
	// Default: DefaultInboxCapacity.
	InboxCapacity int

	// ResponseTimeout is the default pending-response timeout.
	// Default: DefaultResponseTimeout.
	ResponseTimeout time.Duration

	// OutcomeBuffer sizes the channel carrying outcome reports to the
	// collector. Default: DefaultOutcomeBuffer.
	OutcomeBuffer int

	// DeadLetterCapacity bounds dead-letter retention; oldest entries are
	// evicted first. Default: DefaultDeadLetterCapacity.
	DeadLetterCapacity int

	// Logger for delivery events. Nil means silent.
	Logger *logging.Logger
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		InboxCapacity:      DefaultInboxCapacity,
		ResponseTimeout:    DefaultResponseTimeout,
		OutcomeBuffer:      DefaultOutcomeBuffer,
		DeadLetterCapacity: DefaultDeadLetterCapacity,
	}
}

// DeadLetter is an envelope the bus could neither deliver nor reject back to
// its sender, retained for inspection.
type DeadLetter struct {
	// Envelope is the undeliverable envelope.
	Envelope *envelope.Envelope

	// Reason describes why delivery was impossible.
	Reason string

	// At is when the envelope was dead-lettered.
	At time.Time
}

// Bus routes envelopes between modules. Every submitted envelope is either
// delivered to each intended recipient, rejected with a reason, or routed to
// the dead-letter sink — never silently dropped.
type Bus interface {
	// Attach gives a module an inbox and a delivery worker. The bus calls
	// the module's Handle for each delivered envelope.
	Attach(moduleID string, m module.Module) error

	// Detach stops the module's worker. Undelivered inbox entries are
	// dead-lettered.
	Detach(moduleID string) error

	// Submit routes an envelope per its receiver or capability. Routing
	// failures (unreachable receiver, no capable module, malformed
	// envelope) are returned synchronously; delivery outcomes flow to the
	// collector asynchronously.
	Submit(ctx context.Context, env *envelope.Envelope) error

	// Request submits a RequiresResponse envelope and blocks until the
	// response arrives, the timeout fires, or the context is canceled.
	Request(ctx context.Context, env *envelope.Envelope) (*envelope.Envelope, error)

	// DeadLetters returns a snapshot of retained dead letters, oldest first.
	DeadLetters() []DeadLetter

	// Drain stops intake, flushes inboxes, and resolves remaining pending
	// responses as canceled.
	Drain(ctx context.Context) error

	// Close drains with a short grace period and releases all workers.
	Close() error
}

// Dependencies are the collaborators a bus routes through.
type Dependencies struct {
	// Registry resolves receivers and capability candidates.
	Registry registry.Registry

	// Collector receives delivery outcomes. Nil disables outcome reporting.
	Collector feedback.Collector
}
