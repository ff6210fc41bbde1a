// Package plugins contains the built-in crashd plugins and registers them
// with the plugin catalog on import.
//
// Analyzers: CCpp (native crashes), Python (uncaught exceptions), Kerneloops
// (kernel oopses). Database: SQLite3. Action: RunApp. Reporters: Logger,
// Ntfy, NATS, and KerneloopsReporter.
package plugins
