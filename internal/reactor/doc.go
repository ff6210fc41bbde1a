// Package reactor runs the daemon's single dispatch loop.
//
// Every event source (filesystem watch, bus connections, termination
// signals) is a channel registered in a fixed-capacity poll set. Timers live
// in a table owned by the loop. Handlers run one at a time, to completion, on
// the goroutine that called Run; other goroutines only ever send on the
// registered channels.
package reactor
