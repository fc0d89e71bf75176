// Package registry provides module registration and discovery for the
// ecosystem.
//
// Modules register with capabilities and a lifecycle status. The bus resolves
// receivers here, either directly by ID or ranked by capability. The registry
// is the single writer for every module's status and routing weight; the bus
// and feedback collector only read records and submit update requests.
package registry

import (
	"time"

	"github.com/evolveworks/aiekit/errors"
)

// Capability is a declared tag, optionally parameterized, describing work a
// module can perform. Routing matches on the exact tag.
type Capability struct {
	// Tag is the capability identifier (e.g., "translate").
	Tag string `json:"tag"`

	// Params carry optional capability parameters (e.g., language pairs).
	// The registry stores but never interprets them.
	Params map[string]string `json:"params,omitempty"`
}

// Metrics holds per-module traffic counters maintained by the registry on
// behalf of the bus.
type Metrics struct {
	// MessagesSent counts envelopes this module submitted.
	MessagesSent uint64

	// MessagesReceived counts envelopes delivered to this module.
	MessagesReceived uint64

	// ErrorCount counts handler failures attributed to this module.
	ErrorCount uint64

	// AvgResponseLatency is a rolling average over observed request/response
	// exchanges.
	AvgResponseLatency time.Duration

	// latencySamples backs the rolling average.
	latencySamples uint64
}

// Record is the registry's view of one module.
type Record struct {
	// ModuleID uniquely identifies the module for its lifetime.
	ModuleID string

	// Name is a human-readable name.
	Name string

	// Version is the module's version string.
	Version string

	// Status is the module's current lifecycle state.
	Status ModuleStatus

	// Capabilities is the set used for routing, finalized at announce time.
	Capabilities []Capability

	// RegisteredAt is when the record was created.
	RegisteredAt time.Time

	// LastActivity is the most recent delivery or status touch.
	LastActivity time.Time

	// RoutingWeight is the learned routing preference. Only the learning
	// protocol's ApplyWeightDelta calls change it.
	RoutingWeight float64

	// Metrics are the module's traffic counters.
	Metrics Metrics
}

// HasCapability checks if the record declares the exact capability tag.
func (r *Record) HasCapability(tag string) bool {
	for _, c := range r.Capabilities {
		if c.Tag == tag {
			return true
		}
	}
	return false
}

// Routing weight bounds. Clamping keeps every module reachable and none
// unboundedly preferred.
const (
	MinWeight     = 0.01
	MaxWeight     = 10.0
	DefaultWeight = 1.0
)

// ClampWeight forces a weight into [MinWeight, MaxWeight].
func ClampWeight(w float64) float64 {
	if w < MinWeight {
		return MinWeight
	}
	if w > MaxWeight {
		return MaxWeight
	}
	return w
}

// Registration describes a module joining the ecosystem.
type Registration struct {
	// ModuleID is the caller-supplied identity. Empty means the registry
	// generates one.
	ModuleID string

	// Name is a human-readable module name.
	Name string

	// Version is the module's version string.
	Version string

	// Capabilities declared at registration; finalized by AnnounceReady.
	Capabilities []Capability
}

// MetricsDelta describes counter adjustments submitted by the bus.
type MetricsDelta struct {
	Sent            uint64
	Received        uint64
	Errors          uint64
	ResponseLatency time.Duration // zero means no latency sample
}

// Filter specifies criteria for listing modules.
type Filter struct {
	// Status filters by lifecycle state. Empty means all.
	Status ModuleStatus

	// Capability filters to modules with this exact tag.
	Capability string

	// AcceptingWork filters to modules whose status can accept work.
	AcceptingWork bool
}

// EventType represents the type of registry event.
type EventType string

const (
	EventRegistered    EventType = "registered"
	EventReady         EventType = "ready"
	EventStatusChanged EventType = "status_changed"
	EventWeightChanged EventType = "weight_changed"
	EventDeregistered  EventType = "deregistered"
)

// Event represents a change in the registry.
type Event struct {
	// Type indicates what happened.
	Type EventType

	// Record contains the module state after the change.
	// For deregistration it contains the last known state.
	Record Record
}

// Registry provides module registration, lifecycle, and discovery.
type Registry interface {
	// Register creates a record in status initializing and returns the
	// module ID. Fails with DUPLICATE_REGISTRATION only if the caller
	// supplied an identity that is already registered and not offline.
	Register(reg Registration) (string, error)

	// AnnounceReady transitions initializing -> ready and finalizes the
	// capability set used for routing. Fails with UNKNOWN_MODULE if the
	// module is not registered.
	AnnounceReady(moduleID string, capabilities []Capability) error

	// UpdateStatus validates the transition against the state machine and
	// applies it. Fails with INVALID_TRANSITION otherwise.
	UpdateStatus(moduleID string, status ModuleStatus) error

	// Deregister marks the module offline and removes it from routing.
	Deregister(moduleID string) error

	// Resolve returns the record for a module ID.
	Resolve(moduleID string) (*Record, error)

	// ResolveByCapability returns work-accepting modules declaring the tag,
	// ordered by descending routing weight, then ascending last activity.
	ResolveByCapability(tag string) ([]Record, error)

	// ApplyWeightDelta is the sole mutation path for routing weight, used by
	// the learning protocol. The result is clamped to [MinWeight, MaxWeight].
	// Returns the weight after clamping.
	ApplyWeightDelta(moduleID string, delta float64) (float64, error)

	// Touch bumps the module's last-activity timestamp.
	Touch(moduleID string) error

	// RecordMetrics applies counter deltas submitted by the bus.
	RecordMetrics(moduleID string, delta MetricsDelta) error

	// List returns records matching the optional filter.
	List(filter *Filter) ([]Record, error)

	// Watch returns a channel of registry events. The channel is closed when
	// the registry is closed. Multiple watchers are supported.
	Watch() (<-chan Event, error)

	// Close shuts down the registry.
	Close() error
}

// ValidateRegistration checks a registration request.
func ValidateRegistration(reg Registration) error {
	if reg.Name == "" {
		return errors.New(errors.ErrCodeInvalidInput, "registration requires a name")
	}
	for _, c := range reg.Capabilities {
		if c.Tag == "" {
			return errors.New(errors.ErrCodeInvalidInput, "capability with empty tag")
		}
	}
	return nil
}
