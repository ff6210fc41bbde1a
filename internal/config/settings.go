package config

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	cronKeyPrefix     = "Cron."
	analyzerKeyPrefix = "AnalyzerActionsAndReporters."
)

// Settings flattens the daemon settings into the key/value form exposed over the bus.
// List values are comma separated; commas inside parentheses belong to the entry.
func (c *Config) Settings() map[string]string {
	out := map[string]string{
		"OpenGPGCheck":        formatBool(c.Common.OpenGPGCheck),
		"OpenGPGPublicKeys":   strings.Join(c.Common.OpenGPGPublicKeys, ","),
		"Blacklist":           strings.Join(c.Common.Blacklist, ","),
		"BlacklistedPaths":    strings.Join(c.Common.BlacklistedPaths, ","),
		"ProcessUnpackaged":   formatBool(c.Common.ProcessUnpackaged),
		"EnabledPlugins":      strings.Join(c.Common.EnabledPlugins, ","),
		"Database":            c.Common.Database,
		"MaxCrashReportsSize": strconv.Itoa(c.Common.MaxCrashReportsSize),
		"ActionsAndReporters": strings.Join(c.Common.ActionsAndReporters, ","),
	}
	for spec, entries := range c.Cron {
		out[cronKeyPrefix+spec] = strings.Join(entries, ",")
	}
	for name, entries := range c.AnalyzerActionsAndReporters {
		out[analyzerKeyPrefix+name] = strings.Join(entries, ",")
	}
	return out
}

// ApplySettings returns a copy of c with the provided keys replaced. The copy is
// normalized and validated; c itself is never modified.
func (c *Config) ApplySettings(values map[string]string) (*Config, error) {
	next := c.Clone()
	for key, value := range values {
		switch {
		case key == "OpenGPGCheck":
			next.Common.OpenGPGCheck = IsTrue(value)
		case key == "OpenGPGPublicKeys":
			next.Common.OpenGPGPublicKeys = SplitList(value)
		case key == "Blacklist":
			next.Common.Blacklist = SplitList(value)
		case key == "BlacklistedPaths":
			next.Common.BlacklistedPaths = SplitList(value)
		case key == "ProcessUnpackaged":
			next.Common.ProcessUnpackaged = IsTrue(value)
		case key == "EnabledPlugins":
			next.Common.EnabledPlugins = SplitList(value)
		case key == "Database":
			next.Common.Database = value
		case key == "MaxCrashReportsSize":
			size, err := strconv.Atoi(strings.TrimSpace(value))
			if err != nil {
				return nil, fmt.Errorf("MaxCrashReportsSize: %w", err)
			}
			next.Common.MaxCrashReportsSize = size
		case key == "ActionsAndReporters":
			next.Common.ActionsAndReporters = SplitList(value)
		case strings.HasPrefix(key, cronKeyPrefix):
			spec := strings.TrimPrefix(key, cronKeyPrefix)
			if entries := SplitList(value); len(entries) > 0 {
				next.Cron[spec] = entries
			} else {
				delete(next.Cron, spec)
			}
		case strings.HasPrefix(key, analyzerKeyPrefix):
			name := strings.TrimPrefix(key, analyzerKeyPrefix)
			if entries := SplitList(value); len(entries) > 0 {
				next.AnalyzerActionsAndReporters[name] = entries
			} else {
				delete(next.AnalyzerActionsAndReporters, name)
			}
		default:
			return nil, fmt.Errorf("unknown setting %q", key)
		}
	}
	if err := next.normalize(); err != nil {
		return nil, err
	}
	if err := next.Validate(); err != nil {
		return nil, err
	}
	return next, nil
}

// SplitList splits a comma separated list, ignoring commas nested in parentheses.
func SplitList(value string) []string {
	var (
		out   []string
		depth int
		start int
	)
	for i := 0; i < len(value); i++ {
		switch value[i] {
		case '(':
			depth++
		case ')':
			if depth > 0 {
				depth--
			}
		case ',':
			if depth == 0 {
				out = append(out, value[start:i])
				start = i + 1
			}
		}
	}
	out = append(out, value[start:])
	return normalizeList(out)
}

func formatBool(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
