// Package plugin defines the crashd plugin contract and the registry that
// loads, configures, and hands out plugin instances.
//
// Plugins are compiled into the binary and announce themselves with Register
// from an init function. The Registry turns a catalog entry into a live
// instance on demand: it reads the plugin's settings, honours the Enabled
// switch, validates the module's magic number and type, then runs Init and
// SetSettings. At most one instance per name exists at a time.
//
// Typed accessors (Analyzer, Action, Reporter, Database) return *Error values
// wrapping ErrNotRegistered or ErrWrongType; callers choose how loudly to log.
package plugin
