// Package config loads, normalizes, and validates crashd configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and parses the action and cron tables into
// typed entries. The Config type centralizes every knob the daemon and CLI
// need; Snapshot is the read-only projection handed to the triage engine so
// a settings reload never mutates state a running classification depends on.
//
// Per-plugin settings live in separate <Name>.conf files managed by
// PluginSettingsStore.
package config
