package config

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"
)

// Snapshot is an immutable projection of the crash policy. The daemon builds
// one at startup and swaps it only when settings are reloaded.
type Snapshot struct {
	DumpDir                string
	OpenGPGCheck           bool
	OpenGPGPublicKeys      []string
	ProcessUnpackaged      bool
	Database               string
	MaxCrashReportsSizeMiB int

	blacklist        map[string]struct{}
	blacklistedPaths []glob.Glob
	actions          []ActionSpec
	analyzerActions  map[string][]ActionSpec
}

// Snapshot validates the action tables and freezes the policy.
func (c *Config) Snapshot() (*Snapshot, error) {
	actions, err := ParseActionList(c.Common.ActionsAndReporters)
	if err != nil {
		return nil, err
	}
	analyzerActions := make(map[string][]ActionSpec, len(c.AnalyzerActionsAndReporters))
	for name, entries := range c.AnalyzerActionsAndReporters {
		parsed, err := ParseActionList(entries)
		if err != nil {
			return nil, err
		}
		analyzerActions[name] = parsed
	}
	paths, err := compilePathGlobs(c.Common.BlacklistedPaths)
	if err != nil {
		return nil, err
	}
	blacklist := make(map[string]struct{}, len(c.Common.Blacklist))
	for _, name := range c.Common.Blacklist {
		blacklist[name] = struct{}{}
	}
	return &Snapshot{
		DumpDir:                c.Paths.DumpDir,
		OpenGPGCheck:           c.Common.OpenGPGCheck,
		OpenGPGPublicKeys:      cloneStrings(c.Common.OpenGPGPublicKeys),
		ProcessUnpackaged:      c.Common.ProcessUnpackaged,
		Database:               c.Common.Database,
		MaxCrashReportsSizeMiB: c.Common.MaxCrashReportsSize,
		blacklist:              blacklist,
		blacklistedPaths:       paths,
		actions:                actions,
		analyzerActions:        analyzerActions,
	}, nil
}

// PackageBlacklisted reports whether a package short name is excluded.
func (s *Snapshot) PackageBlacklisted(shortName string) bool {
	_, ok := s.blacklist[shortName]
	return ok
}

// PathBlacklisted reports whether an executable path matches a blacklisted
// glob. A '*' matches across '/' so "*/valgrind/*" covers nested paths.
func (s *Snapshot) PathBlacklisted(executable string) bool {
	for _, g := range s.blacklistedPaths {
		if g.Match(executable) {
			return true
		}
	}
	return false
}

// compilePathGlobs compiles patterns without separators, giving '*' and '?'
// the reach of fnmatch without FNM_PATHNAME.
func compilePathGlobs(patterns []string) ([]glob.Glob, error) {
	out := make([]glob.Glob, 0, len(patterns))
	for _, pattern := range patterns {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("BlacklistedPaths %q: %w", pattern, err)
		}
		out = append(out, g)
	}
	return out, nil
}

// ActionsFor returns the analyzer-bound entries followed by the global ones.
func (s *Snapshot) ActionsFor(analyzer string) []ActionSpec {
	bound := s.analyzerActions[analyzer]
	out := make([]ActionSpec, 0, len(bound)+len(s.actions))
	out = append(out, bound...)
	return append(out, s.actions...)
}

// IsTrue interprets the boolean spellings accepted in settings files.
func IsTrue(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "yes", "true", "1", "on":
		return true
	}
	return false
}
