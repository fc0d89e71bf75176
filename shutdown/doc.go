// Package shutdown sequences ecosystem teardown in phases.
//
// A Coordinator holds named handlers grouped by phase: intake first, then
// bus drain, then background loops, then core components, telemetry last.
// Handlers within a phase stop concurrently; the next phase begins only when
// the previous one is done. This ordering keeps envelopes from arriving at
// components that are already gone, and pending responses resolve before the
// bus itself is released.
package shutdown
