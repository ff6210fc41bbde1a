package triage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"crashd/internal/config"
	"crashd/internal/dumpdir"
	"crashd/internal/logging"
	"crashd/internal/packages"
	"crashd/internal/plugin"
)

// Notifier receives the Crash signal for new and repeated crashes.
type Notifier interface {
	Crash(pkg, uid string)
}

// Engine classifies dump directories under one root.
type Engine struct {
	root     string
	policy   *config.Snapshot
	keyring  *packages.Keyring
	registry *plugin.Registry
	resolver packages.Resolver
	notifier Notifier
	hostname func() (string, error)
	logger   *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithNotifier sets where live Crash signals go.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithHostname overrides the hostname stamped into local dumps.
func WithHostname(fn func() (string, error)) Option {
	return func(e *Engine) {
		if fn != nil {
			e.hostname = fn
		}
	}
}

// New constructs an engine for policy.DumpDir.
func New(policy *config.Snapshot, keyring *packages.Keyring, registry *plugin.Registry, resolver packages.Resolver, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		root:     policy.DumpDir,
		policy:   policy,
		keyring:  keyring,
		registry: registry,
		resolver: resolver,
		hostname: os.Hostname,
		logger:   logging.NewComponentLogger(logger, "triage"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SetPolicy swaps the policy snapshot. The dump root never changes.
func (e *Engine) SetPolicy(policy *config.Snapshot, keyring *packages.Keyring) {
	e.policy = policy
	if keyring != nil {
		e.keyring = keyring
	}
}

// Policy returns the current snapshot.
func (e *Engine) Policy() *config.Snapshot { return e.policy }

// Root returns the watched dump root.
func (e *Engine) Root() string { return e.root }

// HandleNew classifies and handles a directory that just appeared under the
// root. Entries that are not directories are ignored.
func (e *Engine) HandleNew(ctx context.Context, name string) (Result, error) {
	path := filepath.Join(e.root, name)
	info, err := os.Lstat(path)
	if err != nil || !info.IsDir() {
		return Result{DumpDir: path}, fmt.Errorf("%s: %w", path, dumpdir.ErrNotDumpDir)
	}
	e.logger.Info("directory creation detected", logging.DumpDir(path))
	res, err := e.Classify(ctx, path)
	e.handle(ctx, res, err, true)
	return res, err
}

// ScanExisting classifies every directory already under the root at
// startup. No signals are sent; duplicates are removed.
func (e *Engine) ScanExisting(ctx context.Context) map[Outcome]int {
	counts := map[Outcome]int{}
	entries, err := os.ReadDir(e.root)
	if err != nil {
		e.logger.Error("cannot scan dump root",
			logging.DumpDir(e.root),
			logging.Error(err),
			logging.String(logging.FieldEventType, "scan_failed"),
		)
		return counts
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	e.logger.Debug("scanning for unsaved entries", logging.Int("candidates", len(names)))
	for _, name := range names {
		if ctx.Err() != nil {
			break
		}
		path := filepath.Join(e.root, name)
		res, err := e.Classify(ctx, path)
		if err == nil {
			counts[res.Outcome]++
		}
		e.handle(ctx, res, err, false)
	}
	return counts
}

func (e *Engine) handle(ctx context.Context, res Result, err error, live bool) {
	logger := e.logger.With(logging.DumpDir(res.DumpDir))
	if id := res.CrashID(); id != "" {
		logger = logger.With(logging.CrashID(id))
	}
	if err != nil {
		logging.ErrorWithContext(logger, "crash could not be classified", "triage_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "dump directory left in place"),
		)
		return
	}

	outcome := logging.String(logging.FieldOutcome, res.Outcome.String())
	switch {
	case res.Outcome == OK:
		logger.Info("new crash, saving", outcome, logging.String("package", res.Package))
		e.RunActions(ctx, res)
		if live {
			e.notify(res)
		}
	case res.Outcome == InDB:
		logger.Debug("already saved in database", outcome)
	case res.Outcome.Known() && live:
		logger.Info("already saved crash", outcome, logging.Int("count", res.Row.Count))
		e.notify(res)
	default:
		logger.Info("corrupted, bad or already saved crash, deleting", outcome, logging.String("reason", res.Reason))
		if err := dumpdir.Delete(ctx, res.DumpDir); err != nil {
			logging.WarnWithContext(logger, "could not delete dump directory", "dump_delete_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "directory counts against the quota until removed"),
			)
		}
	}
}

func (e *Engine) notify(res Result) {
	if e.notifier != nil {
		e.notifier.Crash(res.SignalPackage(), res.SignalUID())
	}
}

// RunActions runs the analyzer-bound entries, then the global ones. A failing
// plugin is logged and the remaining entries still run.
func (e *Engine) RunActions(ctx context.Context, res Result) {
	for _, spec := range e.policy.ActionsFor(res.Analyzer) {
		msg, err := e.RunActionOrReporter(ctx, spec, res.Row)
		if err != nil {
			logging.WarnWithContext(e.logger, "action or reporter failed", "action_failed",
				logging.Plugin(spec.Plugin),
				logging.String("args", spec.Arg),
				logging.CrashID(res.CrashID()),
				logging.Error(err),
			)
			continue
		}
		e.logger.Debug("action or reporter finished",
			logging.Plugin(spec.Plugin),
			logging.CrashID(res.CrashID()),
			logging.String("message", msg),
		)
	}
}

// RunActionOrReporter runs spec against the crash in row. Actions receive the
// dump directory; reporters receive the assembled crash record.
func (e *Engine) RunActionOrReporter(ctx context.Context, spec config.ActionSpec, row plugin.Row) (string, error) {
	action, err := e.registry.Action(spec.Plugin)
	if err == nil {
		return "", action.Run(ctx, row.DumpDir, spec.Arg)
	}
	if !errors.Is(err, plugin.ErrWrongType) {
		return "", err
	}
	reporter, err := e.registry.Reporter(spec.Plugin)
	if err != nil {
		return "", err
	}
	record, err := e.CreateReport(ctx, row, false)
	if err != nil {
		return "", err
	}
	return reporter.Report(ctx, record, spec.Arg)
}

// RunAction runs a scheduled action against dir.
func (e *Engine) RunAction(ctx context.Context, spec config.ActionSpec, dir string) error {
	action, err := e.registry.Action(spec.Plugin)
	if err != nil {
		return err
	}
	return action.Run(ctx, dir, spec.Arg)
}
