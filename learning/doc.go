// Package learning adjusts routing preference from observed outcomes.
//
// The learner closes the coordination loop: outcomes recorded by the
// feedback collector are periodically folded into per-module routing-weight
// deltas and status recommendations, applied through the registry's single
// mutation paths. Because the pass runs on its own cadence against a
// snapshot, routing never mutates weights mid-delivery and the cyclic
// outcomes-affect-routing flow stays one-directional in code.
//
// The scoring formula is a pluggable Policy. The default SmoothedPolicy
// keeps an exponentially smoothed success score per module and emits small,
// bounded deltas so preference shifts gradually rather than oscillating on
// short bursts.
package learning
