package plugins

import "crashd/internal/plugin"

const (
	pluginVersion = "1.0.0"
	pluginEmail   = "crashd-devel@lists.example.org"
	pluginWWW     = "https://example.org/crashd"
)

func init() {
	modules := map[string]plugin.Module{
		"CCpp": {
			Type:        plugin.TypeAnalyzer,
			Description: "Analyzes crashes of native C/C++ programs",
			New:         func() plugin.Plugin { return newCCpp() },
		},
		"Python": {
			Type:        plugin.TypeAnalyzer,
			Description: "Analyzes uncaught Python exceptions",
			New:         func() plugin.Plugin { return newPython() },
		},
		"Kerneloops": {
			Type:        plugin.TypeAnalyzer,
			Description: "Analyzes kernel oopses",
			New:         func() plugin.Plugin { return newKerneloops() },
		},
		"SQLite3": {
			Type:        plugin.TypeDatabase,
			Description: "Stores the crash inventory in SQLite",
			New:         func() plugin.Plugin { return newSQLite3() },
		},
		"RunApp": {
			Type:        plugin.TypeAction,
			Description: "Runs a command in the dump directory and optionally saves its output",
			New:         func() plugin.Plugin { return newRunApp() },
		},
		"Logger": {
			Type:        plugin.TypeReporter,
			Description: "Writes crash reports to a log file",
			New:         func() plugin.Plugin { return newLogger() },
		},
		"Ntfy": {
			Type:        plugin.TypeReporter,
			Description: "Sends crash summaries to an ntfy topic",
			New:         func() plugin.Plugin { return newNtfy() },
		},
		"NATS": {
			Type:        plugin.TypeReporter,
			Description: "Publishes crash reports to a NATS subject",
			New:         func() plugin.Plugin { return newNATS() },
		},
		"KerneloopsReporter": {
			Type:        plugin.TypeReporter,
			Description: "Submits kernel oopses to a collection service",
			New:         func() plugin.Plugin { return newKerneloopsReporter() },
		},
	}
	for name, m := range modules {
		m.Magic = plugin.Magic
		m.Version = pluginVersion
		m.Email = pluginEmail
		m.WWW = pluginWWW
		plugin.Register(name, m)
	}
}
