// Package bus routes envelopes between modules.
//
// The bus accepts an envelope from a sender and guarantees it is delivered
// to every intended recipient, rejected with a reason, or retained in the
// dead-letter sink — never silently dropped. Receivers are resolved through
// the registry, either directly by module ID or ranked by capability tag.
//
// # Routing
//
// An envelope with a receiver ID is delivered point-to-point; an unknown or
// offline receiver fails fast with UNREACHABLE_RECEIVER. An envelope without
// a receiver must carry a capability tag in its payload: query and command
// kinds go to the single top-ranked capable module, while announcement kinds
// (status_update, capability_announce, learning_update) fan out to every
// capable module.
//
// # Backpressure
//
// Each attached module owns a bounded priority inbox. When an inbox is full
// the newest lowest-priority envelope is shed and reported as rejected-busy,
// keeping memory bounded under load without rejecting high-priority traffic.
//
// # Request/response
//
// A RequiresResponse envelope registers a pending entry keyed by its ID.
// The first of response arrival, timeout expiry, or sender cancellation
// resolves the entry; late duplicates are discarded and logged.
//
//	b := bus.NewMemoryBus(bus.Dependencies{Registry: reg, Collector: col}, bus.DefaultConfig())
//	defer b.Close()
//
//	env := envelope.New(senderID, envelope.KindQuery,
//	    envelope.WithCapability("translate"),
//	    envelope.WithPayload("text", "hello"),
//	    envelope.Expecting())
//	resp, err := b.Request(ctx, env)
//
// The bus never retries on its own; a retry is a new envelope created by the
// sender, keeping every outcome attributable to a single attempt.
package bus
