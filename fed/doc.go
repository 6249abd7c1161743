// Package fed provides the co-simulation federation substrate: conservative
// time synchronization, a typed publish/subscribe topic table, and the
// per-federate step/iteration protocol that lets independently-stepped
// simulators advance through simulated time in lockstep.
//
// # Reading Guide
//
// Start with these three files to understand the coordination kernel:
//   - coordinator.go: time requests, the global-minimum grant rule, iteration signals
//   - adapter.go: the per-federate state machine wrapping a Simulator
//   - runner.go: the round-robin driver loop, failure policy, and completion report
//
// # Architecture
//
// The fed package owns coordination only; simulators live in sub-packages and
// plug in through the Simulator interface:
//   - fed/plant/: single-tank water plant model (sensor publisher)
//   - fed/plc/: hysteresis-threshold pump controller (command publisher)
//   - fed/trace/: per-step time-series records and run summaries
//
// A single coordination goroutine drives all federates round-robin per time
// step, so topic values are exactly reproducible for a given configuration.
// Simulator work may use goroutines internally, but each Advance call is
// synchronous from the runner's point of view.
package fed
