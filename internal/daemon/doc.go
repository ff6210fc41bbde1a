// Package daemon coordinates the long-running crashd process.
//
// It wires configuration, the plugin registry, the triage engine, the quota
// evaluator, the scheduler, and the bus server onto a single reactor loop,
// with flock-based locking to prevent multiple instances. Every bus method
// and every filesystem or timer event runs on the loop goroutine, so the
// daemon's state needs no further synchronization.
//
// Keep orchestration here: classification belongs to triage, plugin
// behavior to the plugins package, and wire framing to bus.
package daemon
