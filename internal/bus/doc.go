// Package bus carries method calls and signals between crashd and its
// clients over a Unix domain socket.
//
// Messages are newline-delimited JSON objects. Every connection starts with a
// Hello call that assigns the client a unique name; the server then forwards
// calls to the daemon through a single request channel, and the daemon answers
// with Reply/ReplyError or pushes signals with Emit/EmitTo. The client side
// correlates replies by serial while dispatching interleaved signals inline.
package bus
