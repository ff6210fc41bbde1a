package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateCommon(); err != nil {
		return err
	}
	if err := c.validateTables(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validatePaths() error {
	if c.Paths.DumpDir == "" {
		return errors.New("paths.dump_dir must be set")
	}
	if c.Paths.DumpDir == "/" {
		return errors.New("paths.dump_dir must not be the filesystem root")
	}
	return nil
}

func (c *Config) validateCommon() error {
	if c.Common.MaxCrashReportsSize < 0 {
		return errors.New("common.max_crash_reports_size must be >= 0")
	}
	if c.Common.OpenGPGCheck && len(c.Common.OpenGPGPublicKeys) == 0 {
		return errors.New("common.open_gpg_public_keys must list at least one key when open_gpg_check is enabled")
	}
	if _, err := ParseActionList(c.Common.ActionsAndReporters); err != nil {
		return fmt.Errorf("common.actions_and_reporters: %w", err)
	}
	return nil
}

func (c *Config) validateTables() error {
	for name, entries := range c.AnalyzerActionsAndReporters {
		if _, err := ParseActionList(entries); err != nil {
			return fmt.Errorf("analyzer_actions_and_reporters.%s: %w", name, err)
		}
	}
	for spec, entries := range c.Cron {
		if _, err := ParseActionList(entries); err != nil {
			return fmt.Errorf("cron.%s: %w", spec, err)
		}
	}
	if _, err := compilePathGlobs(c.Common.BlacklistedPaths); err != nil {
		return fmt.Errorf("common.blacklisted_paths: %w", err)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}
