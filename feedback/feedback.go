package feedback

import (
	"time"
)

// Outcome classifies what happened to one envelope after routing.
type Outcome string

const (
	// OutcomeDelivered means the envelope reached the receiver's inbox.
	OutcomeDelivered Outcome = "delivered"

	// OutcomeResponded means a request completed with a response in time.
	OutcomeResponded Outcome = "responded"

	// OutcomeRejectedBusy means backpressure shed the envelope from a full
	// inbox.
	OutcomeRejectedBusy Outcome = "rejected_busy"

	// OutcomeRejectedOffline means the receiver was unknown or offline at
	// routing time.
	OutcomeRejectedOffline Outcome = "rejected_offline"

	// OutcomeTimedOut means a pending response expired.
	OutcomeTimedOut Outcome = "timed_out"

	// OutcomeErrored means the receiver's handler returned an error or
	// panicked.
	OutcomeErrored Outcome = "errored"
)

// String returns the string representation of the outcome.
func (o Outcome) String() string {
	return string(o)
}

// Valid returns true if the outcome is a known value.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomeDelivered, OutcomeResponded, OutcomeRejectedBusy,
		OutcomeRejectedOffline, OutcomeTimedOut, OutcomeErrored:
		return true
	default:
		return false
	}
}

// Success returns true for outcomes that count toward a module's success
// rate. Plain delivery is success for fire-and-forget traffic; a response in
// time is success for request/response traffic.
func (o Outcome) Success() bool {
	return o == OutcomeDelivered || o == OutcomeResponded
}

// Record is one observed interaction outcome, attributed to the module that
// handled (or failed to handle) the envelope.
type Record struct {
	// ModuleID is the module the outcome is attributed to.
	ModuleID string `json:"module_id"`

	// EnvelopeID identifies the envelope the outcome describes.
	EnvelopeID string `json:"envelope_id"`

	// Outcome is the classification.
	Outcome Outcome `json:"outcome"`

	// Latency is the observed request/response latency. Zero when the
	// outcome carries no latency signal.
	Latency time.Duration `json:"latency,omitempty"`

	// At is when the outcome was observed.
	At time.Time `json:"at"`
}

// Stats is an aggregate snapshot over a module's outcome window.
type Stats struct {
	// ModuleID the snapshot describes.
	ModuleID string

	// Total is the number of records in the window.
	Total int

	// Per-outcome counts.
	Delivered       int
	Responded       int
	RejectedBusy    int
	RejectedOffline int
	TimedOut        int
	Errored         int

	// SuccessRate is successes / total, in [0, 1]. Zero when the window is
	// empty.
	SuccessRate float64

	// ErrorRate is (errored + timed out) / total, in [0, 1].
	ErrorRate float64

	// MeanLatency averages the latency-bearing records in the window.
	MeanLatency time.Duration

	// P95Latency is the 95th-percentile latency over the same records.
	P95Latency time.Duration

	// OldestAt and NewestAt bound the window. Zero when empty.
	OldestAt time.Time
	NewestAt time.Time
}

// Collector accumulates interaction outcomes and serves aggregate snapshots
// to the learning protocol.
type Collector interface {
	// Record appends an outcome to the module's bounded window, evicting
	// the oldest record when the window is full. Never blocks on readers.
	Record(rec Record) error

	// Snapshot aggregates the module's current window. A module with no
	// recorded outcomes yields zero-valued Stats.
	Snapshot(moduleID string) (Stats, error)

	// SnapshotSince aggregates only records observed at or after the cutoff.
	SnapshotSince(moduleID string, cutoff time.Time) (Stats, error)

	// Snapshots aggregates every module with at least one recorded outcome.
	Snapshots() ([]Stats, error)

	// Forget drops a module's window, typically after deregistration.
	Forget(moduleID string) error

	// Close shuts down the collector.
	Close() error
}
