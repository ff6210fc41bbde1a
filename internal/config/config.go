package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and socket configuration.
type Paths struct {
	DumpDir       string `toml:"dump_dir"`
	RunDir        string `toml:"run_dir"`
	PluginConfDir string `toml:"plugin_conf_dir"`
	SocketPath    string `toml:"socket_path"`
	LogDir        string `toml:"log_dir"`
}

// Common holds the crash policy knobs shared by triage, quota and plugin setup.
type Common struct {
	OpenGPGCheck        bool     `toml:"open_gpg_check"`
	OpenGPGPublicKeys   []string `toml:"open_gpg_public_keys"`
	Blacklist           []string `toml:"blacklist"`
	BlacklistedPaths    []string `toml:"blacklisted_paths"`
	ProcessUnpackaged   bool     `toml:"process_unpackaged"`
	EnabledPlugins      []string `toml:"enabled_plugins"`
	Database            string   `toml:"database"`
	MaxCrashReportsSize int      `toml:"max_crash_reports_size"` // MiB, 0 disables eviction
	ActionsAndReporters []string `toml:"actions_and_reporters"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for crashd.
//
// Configuration sections:
//   - Paths: dump root, runtime directory, plugin settings directory
//   - Common: GPG policy, blacklists, quota, global actions/reporters
//   - AnalyzerActionsAndReporters: per-analyzer action/reporter lists
//   - Cron: schedule spec ("SECONDS" or "HH:MM") to action entries
//   - Logging: log format and level
type Config struct {
	Paths                       Paths               `toml:"paths"`
	Common                      Common              `toml:"common"`
	AnalyzerActionsAndReporters map[string][]string `toml:"analyzer_actions_and_reporters"`
	Cron                        map[string][]string `toml:"cron"`
	Logging                     Logging             `toml:"logging"`
}

// ActionSpec is one "Plugin(argument)" entry from an action or cron table.
type ActionSpec struct {
	Plugin string
	Arg    string
}

func (a ActionSpec) String() string {
	if a.Arg == "" {
		return a.Plugin
	}
	return a.Plugin + "(" + a.Arg + ")"
}

// ParseActionSpec parses "Name" or "Name(arg)".
func ParseActionSpec(value string) (ActionSpec, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ActionSpec{}, errors.New("empty action entry")
	}
	open := strings.IndexByte(trimmed, '(')
	if open < 0 {
		if strings.ContainsAny(trimmed, ") \t") {
			return ActionSpec{}, fmt.Errorf("malformed action entry %q", value)
		}
		return ActionSpec{Plugin: trimmed}, nil
	}
	if !strings.HasSuffix(trimmed, ")") || open == 0 {
		return ActionSpec{}, fmt.Errorf("malformed action entry %q", value)
	}
	return ActionSpec{
		Plugin: strings.TrimSpace(trimmed[:open]),
		Arg:    strings.TrimSpace(trimmed[open+1 : len(trimmed)-1]),
	}, nil
}

// ParseActionList parses every entry of a list, stopping at the first malformed one.
func ParseActionList(values []string) ([]ActionSpec, error) {
	out := make([]ActionSpec, 0, len(values))
	for _, value := range values {
		spec, err := ParseActionSpec(value)
		if err != nil {
			return nil, err
		}
		out = append(out, spec)
	}
	return out, nil
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("crashd.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// Save writes the configuration as TOML, replacing the file atomically.
func (c *Config) Save(path string) error {
	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace config: %w", err)
	}
	return nil
}

// Clone returns a deep copy so callers can edit settings without touching a live snapshot.
func (c *Config) Clone() *Config {
	out := *c
	out.Common.OpenGPGPublicKeys = cloneStrings(c.Common.OpenGPGPublicKeys)
	out.Common.Blacklist = cloneStrings(c.Common.Blacklist)
	out.Common.BlacklistedPaths = cloneStrings(c.Common.BlacklistedPaths)
	out.Common.EnabledPlugins = cloneStrings(c.Common.EnabledPlugins)
	out.Common.ActionsAndReporters = cloneStrings(c.Common.ActionsAndReporters)
	out.AnalyzerActionsAndReporters = cloneTable(c.AnalyzerActionsAndReporters)
	out.Cron = cloneTable(c.Cron)
	return &out
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DumpDir, c.Paths.RunDir, c.Paths.PluginConfDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	if strings.TrimSpace(c.Paths.LogDir) != "" {
		if err := os.MkdirAll(c.Paths.LogDir, 0o755); err != nil {
			return fmt.Errorf("create log directory %q: %w", c.Paths.LogDir, err)
		}
	}
	return nil
}

// LockPath is the single-instance lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.RunDir, "crashd.lock")
}

// PIDPath is the file holding the daemon's process id.
func (c *Config) PIDPath() string {
	return filepath.Join(c.Paths.RunDir, "crashd.pid")
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && pathValue[1] == '/' {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func cloneTable(in map[string][]string) map[string][]string {
	out := make(map[string][]string, len(in))
	for k, v := range in {
		out[k] = cloneStrings(v)
	}
	return out
}
