package config

const (
	defaultDumpDir             = "/var/spool/crashd"
	defaultRunDir              = "/var/run/crashd"
	defaultPluginConfDir       = "/etc/crashd/plugins"
	defaultConfigPath          = "/etc/crashd/crashd.toml"
	defaultSocketName          = "crashd.sock"
	defaultDatabase            = "SQLite3"
	defaultMaxCrashReportsSize = 1000
	defaultLogFormat           = "console"
	defaultLogLevel            = "info"
)

var defaultEnabledPlugins = []string{"SQLite3", "CCpp", "Python", "Kerneloops", "Logger"}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DumpDir:       defaultDumpDir,
			RunDir:        defaultRunDir,
			PluginConfDir: defaultPluginConfDir,
		},
		Common: Common{
			EnabledPlugins:      append([]string(nil), defaultEnabledPlugins...),
			Database:            defaultDatabase,
			MaxCrashReportsSize: defaultMaxCrashReportsSize,
		},
		AnalyzerActionsAndReporters: map[string][]string{},
		Cron:                        map[string][]string{},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
