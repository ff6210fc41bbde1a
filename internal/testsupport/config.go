package testsupport

import (
	"path/filepath"
	"testing"

	"crashd/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Directories are created; the database path points into the same tree.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DumpDir = filepath.Join(base, "dumps")
	cfgVal.Paths.RunDir = filepath.Join(base, "run")
	cfgVal.Paths.PluginConfDir = filepath.Join(base, "plugins")
	cfgVal.Paths.SocketPath = filepath.Join(base, "run", "crashd.sock")
	cfgVal.Paths.LogDir = ""
	cfgVal.Common.MaxCrashReportsSize = 0

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}
	for _, opt := range opts {
		opt(builder)
	}
	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return builder.cfg
}

// WithProcessUnpackaged toggles acceptance of crashes outside any package.
func WithProcessUnpackaged(v bool) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Common.ProcessUnpackaged = v
	}
}

// WithQuota sets the dump root quota in MiB.
func WithQuota(mib int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Common.MaxCrashReportsSize = mib
	}
}

// WithActions sets the global actions and reporters list.
func WithActions(entries ...string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Common.ActionsAndReporters = entries
	}
}

// WithPluginSettings writes a "<Name>.conf" file into the plugin settings
// directory and enables nothing else.
func WithPluginSettings(name string, settings map[string]string) ConfigOption {
	return func(b *configBuilder) {
		store := config.NewPluginSettingsStore(b.cfg.Paths.PluginConfDir)
		if err := store.Save(name, settings); err != nil {
			b.t.Fatalf("save %s settings: %v", name, err)
		}
	}
}

// WithDatabaseFile points the SQLite3 plugin at a database inside the test tree.
func WithDatabaseFile() ConfigOption {
	return func(b *configBuilder) {
		WithPluginSettings("SQLite3", map[string]string{
			"DBPath": filepath.Join(b.baseDir, "db", "crashd.db"),
		})(b)
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DumpDir)
}

// Snapshot freezes cfg, failing the test on error.
func Snapshot(t testing.TB, cfg *config.Config) *config.Snapshot {
	t.Helper()
	snap, err := cfg.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	return snap
}
