package config

import (
	"fmt"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeCommon()
	c.normalizeTables()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.DumpDir, err = expandPath(strings.TrimSpace(c.Paths.DumpDir)); err != nil {
		return fmt.Errorf("paths.dump_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.RunDir) == "" {
		c.Paths.RunDir = defaultRunDir
	}
	if c.Paths.RunDir, err = expandPath(c.Paths.RunDir); err != nil {
		return fmt.Errorf("paths.run_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.PluginConfDir) == "" {
		c.Paths.PluginConfDir = defaultPluginConfDir
	}
	if c.Paths.PluginConfDir, err = expandPath(c.Paths.PluginConfDir); err != nil {
		return fmt.Errorf("paths.plugin_conf_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.SocketPath) == "" {
		c.Paths.SocketPath = filepath.Join(c.Paths.RunDir, defaultSocketName)
	}
	if c.Paths.SocketPath, err = expandPath(c.Paths.SocketPath); err != nil {
		return fmt.Errorf("paths.socket_path: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(strings.TrimSpace(c.Paths.LogDir)); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeCommon() {
	c.Common.OpenGPGPublicKeys = normalizeList(c.Common.OpenGPGPublicKeys)
	c.Common.Blacklist = normalizeList(c.Common.Blacklist)
	c.Common.BlacklistedPaths = normalizeList(c.Common.BlacklistedPaths)
	c.Common.EnabledPlugins = normalizeList(c.Common.EnabledPlugins)
	c.Common.ActionsAndReporters = normalizeList(c.Common.ActionsAndReporters)
	c.Common.Database = strings.TrimSpace(c.Common.Database)
	if c.Common.Database == "" {
		c.Common.Database = defaultDatabase
	}
}

func (c *Config) normalizeTables() {
	if c.AnalyzerActionsAndReporters == nil {
		c.AnalyzerActionsAndReporters = map[string][]string{}
	}
	for name, entries := range c.AnalyzerActionsAndReporters {
		c.AnalyzerActionsAndReporters[name] = normalizeList(entries)
	}
	if c.Cron == nil {
		c.Cron = map[string][]string{}
	}
	for spec, entries := range c.Cron {
		c.Cron[spec] = normalizeList(entries)
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

// normalizeList trims entries and drops blanks and duplicates, keeping order.
func normalizeList(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	return out
}
