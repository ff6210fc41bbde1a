// Package triage classifies dump directories and drives what happens to them.
//
// Classify is a function of the directory, the policy snapshot and the
// package database: it enriches the directory with package metadata and
// returns a tagged Outcome. Handle turns the outcome into actions, reporter
// runs, signals or deletion. ScanExisting and HandleNew are the batch and
// live entry points; both run on the reactor goroutine.
package triage
