// Package crashdb persists the crash inventory in SQLite.
//
// Each row is keyed by the analyzer-derived uuid and the owning uid and
// records the dump directory that first produced it, how many times the crash
// was seen, and whether it has been reported. Writes retry on SQLITE_BUSY so
// concurrent CLI readers never fail the daemon.
package crashdb
