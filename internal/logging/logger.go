package logging

import (
	"fmt"
	"io"
	"log/slog"
	"log/syslog"
	"os"
	"path/filepath"
	"strings"

	"crashd/internal/config"
)

// Options describes logger construction parameters.
type Options struct {
	Level       string
	Format      string
	OutputPaths []string
	// Syslog routes output to the system logger instead of OutputPaths.
	Syslog bool
	// Tag is the syslog program name.
	Tag         string
	Development bool
}

// New constructs a slog logger using the provided options.
func New(opts Options) (*slog.Logger, error) {
	level := parseLevel(opts.Level)
	levelVar := new(slog.LevelVar)
	levelVar.Set(level)

	var (
		outputWriter io.Writer
		err          error
	)
	if opts.Syslog {
		outputWriter, err = openSyslog(opts.Tag)
	} else {
		outputWriter, err = openWriters(defaultSlice(opts.OutputPaths, []string{"stderr"}))
	}
	if err != nil {
		return nil, err
	}

	addSource := opts.Development || level < slog.LevelDebug

	format := strings.ToLower(strings.TrimSpace(opts.Format))
	if format == "" {
		format = "console"
	}

	var handler slog.Handler
	switch format {
	case "json":
		handler, err = newJSONHandler(outputWriter, levelVar, addSource)
		if err != nil {
			return nil, err
		}
	case "console":
		handler = newPrettyHandler(outputWriter, levelVar, addSource, !opts.Syslog)
	default:
		return nil, fmt.Errorf("log format: unsupported value %q", opts.Format)
	}

	return slog.New(handler), nil
}

// NewFromConfig creates a logger using application config defaults. verbosity
// counts -v flags and lowers the configured level; useSyslog selects the
// system logger sink.
func NewFromConfig(cfg *config.Config, verbosity int, useSyslog bool) (*slog.Logger, error) {
	if cfg == nil {
		return New(Options{Level: VerbosityLevel("info", verbosity), Format: "console", Syslog: useSyslog, Tag: "crashd"})
	}

	outputPaths := []string{"stderr"}
	if cfg.Paths.LogDir != "" {
		if err := os.MkdirAll(cfg.Paths.LogDir, 0o755); err != nil {
			return nil, fmt.Errorf("ensure log directory: %w", err)
		}
		outputPaths = append(outputPaths, filepath.Join(cfg.Paths.LogDir, "crashd.log"))
	}

	return New(Options{
		Level:       VerbosityLevel(cfg.Logging.Level, verbosity),
		Format:      cfg.Logging.Format,
		OutputPaths: outputPaths,
		Syslog:      useSyslog,
		Tag:         "crashd",
	})
}

// LevelTrace sits below debug and enables source locations.
const LevelTrace = slog.LevelDebug - 4

// VerbosityLevel lowers base by one step per -v flag: info, debug, trace.
func VerbosityLevel(base string, verbosity int) string {
	if verbosity <= 0 {
		return base
	}
	if verbosity == 1 {
		if parseLevel(base) <= slog.LevelDebug {
			return base
		}
		return "debug"
	}
	return "trace"
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return LevelTrace
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func defaultSlice(value []string, fallback []string) []string {
	if len(value) == 0 {
		return append([]string(nil), fallback...)
	}
	return append([]string(nil), value...)
}

func openWriters(outputPaths []string) (io.Writer, error) {
	seen := map[string]struct{}{}
	var writers []io.Writer

	for _, path := range outputPaths {
		trimmed := strings.TrimSpace(path)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}

		switch trimmed {
		case "stdout":
			writers = append(writers, os.Stdout)
		case "stderr":
			writers = append(writers, os.Stderr)
		default:
			if err := ensureLogDir(trimmed); err != nil {
				return nil, err
			}
			file, err := os.OpenFile(trimmed, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o664)
			if err != nil {
				return nil, fmt.Errorf("open log file %s: %w", trimmed, err)
			}
			writers = append(writers, file)
		}
	}

	switch len(writers) {
	case 0:
		return os.Stderr, nil
	case 1:
		return writers[0], nil
	}
	return io.MultiWriter(writers...), nil
}

func openSyslog(tag string) (io.Writer, error) {
	if tag == "" {
		tag = "crashd"
	}
	w, err := syslog.New(syslog.LOG_DAEMON|syslog.LOG_INFO, tag)
	if err != nil {
		return nil, fmt.Errorf("open syslog: %w", err)
	}
	return w, nil
}

func ensureLogDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
