// Package module defines the contract every ecosystem participant implements.
//
// A module is an addressable unit of work: it initializes once, declares the
// capabilities it can serve, and handles envelopes delivered by the bus. The
// coordination layer never inspects a module's internals; the interface below
// is the whole surface it relies on.
package module

import (
	"context"

	"github.com/evolveworks/aiekit/envelope"
	"github.com/evolveworks/aiekit/registry"
)

// Module is an addressable participant in the ecosystem.
type Module interface {
	// ID returns the module's identity. Empty means the registry assigns
	// one at join time.
	ID() string

	// Name returns a human-readable module name.
	Name() string

	// Version returns the module's version string.
	Version() string

	// Capabilities returns the capability tags this module serves.
	Capabilities() []registry.Capability

	// Initialize prepares the module for traffic. Called exactly once,
	// before the module is announced ready. An error aborts the join and
	// rolls back registration.
	Initialize(ctx context.Context) error

	// Handle processes one delivered envelope. A non-nil returned envelope
	// is submitted back to the bus on the module's behalf, which is how
	// responses to RequiresResponse envelopes travel. Returning an error
	// records an errored outcome against the module.
	Handle(ctx context.Context, env *envelope.Envelope) (*envelope.Envelope, error)
}

// HandlerFunc adapts a plain function to the Handle method.
type HandlerFunc func(ctx context.Context, env *envelope.Envelope) (*envelope.Envelope, error)

// SimpleModule is a ready-made Module built from a handler function. It
// covers tests, examples, and transport proxies that need no initialization
// logic of their own.
type SimpleModule struct {
	// ModuleID is the optional fixed identity.
	ModuleID string

	// ModuleName is the human-readable name. Required.
	ModuleName string

	// ModuleVersion defaults to "0.0.0" when empty.
	ModuleVersion string

	// Caps are the capabilities announced at join time.
	Caps []registry.Capability

	// InitFunc runs during Initialize. Nil means no-op.
	InitFunc func(ctx context.Context) error

	// Handler processes delivered envelopes. Nil means every delivery is
	// silently accepted with no response.
	Handler HandlerFunc
}

// ID returns the module's identity.
func (m *SimpleModule) ID() string { return m.ModuleID }

// Name returns the module's name.
func (m *SimpleModule) Name() string { return m.ModuleName }

// Version returns the module's version.
func (m *SimpleModule) Version() string {
	if m.ModuleVersion == "" {
		return "0.0.0"
	}
	return m.ModuleVersion
}

// Capabilities returns the module's capability set.
func (m *SimpleModule) Capabilities() []registry.Capability {
	return m.Caps
}

// Initialize runs the optional init function.
func (m *SimpleModule) Initialize(ctx context.Context) error {
	if m.InitFunc == nil {
		return nil
	}
	return m.InitFunc(ctx)
}

// Handle dispatches to the handler function.
func (m *SimpleModule) Handle(ctx context.Context, env *envelope.Envelope) (*envelope.Envelope, error) {
	if m.Handler == nil {
		return nil, nil
	}
	return m.Handler(ctx, env)
}
