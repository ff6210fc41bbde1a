// Package logging assembles structured slog loggers and formatting helpers used
// across crashd.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing (including the syslog sink used by the background daemon), and
// exposes context-aware helpers so bus handlers can tag log lines with the
// calling client and crash identifiers. The package also provides a no-op
// logger for tests and wiring code that cannot fail.
package logging
