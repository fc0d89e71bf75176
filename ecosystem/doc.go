// Package ecosystem assembles the coordination core into one runnable unit.
//
// An Ecosystem wires a module registry, a communication bus, a feedback
// collector, a learning loop, and a liveness monitor from a single
// configuration:
//
//	eco, err := ecosystem.New(nil) // defaults
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer eco.Close(context.Background())
//
//	id, err := eco.Join(ctx, &module.SimpleModule{
//		ModuleName: "translator",
//		Caps:       []registry.Capability{{Tag: "translate"}},
//		Handler:    handle,
//	})
//
//	resp, err := eco.Request(ctx, envelope.New(id, envelope.KindQuery,
//		envelope.WithCapability("summarize"),
//		envelope.Expecting(),
//	))
//
// Join is atomic: a module that fails to initialize or announce is rolled
// back out, never left half-admitted. Close runs a phased teardown so queued
// envelopes drain and pending responses resolve before components release.
package ecosystem
