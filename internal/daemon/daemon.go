package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sys/unix"

	"crashd/internal/bus"
	"crashd/internal/config"
	"crashd/internal/dumpdir"
	"crashd/internal/logging"
	"crashd/internal/packages"
	"crashd/internal/plugin"
	"crashd/internal/quota"
	"crashd/internal/reactor"
	"crashd/internal/scheduler"
	"crashd/internal/triage"
)

// ErrAlreadyRunning reports that another instance holds the daemon lock.
var ErrAlreadyRunning = errors.New("another crashd instance is already running")

// Options tunes a daemon instance.
type Options struct {
	// ConfigPath is where SetSettings persists changes. Empty keeps them in memory.
	ConfigPath  string
	IdleTimeout time.Duration
	// Resolver defaults to the rpm command line tool.
	Resolver packages.Resolver
	Hostname func() (string, error)
	// Ready is called once startup finished, right before the loop starts.
	Ready func()
	// Signals defaults to SIGTERM and SIGINT.
	Signals []os.Signal
}

// Daemon owns every long-lived component. All fields below the lock are
// touched only from the reactor goroutine once Run starts.
type Daemon struct {
	cfg    *config.Config
	opts   Options
	logger *slog.Logger

	lock    *flock.Flock
	pidPath string

	ctx    context.Context
	cancel context.CancelFunc

	reactor     *reactor.Reactor
	keyring     *packages.Keyring
	registry    *plugin.Registry
	engine      *triage.Engine
	quota       *quota.Evaluator
	scheduler   *scheduler.Scheduler
	server      *bus.Server
	watch       *reactor.DirWatch
	stopSignals func()
	handlers    map[string]handler

	// lastClient receives Warning and Update signals.
	lastClient string
	closed     bool
}

// Open runs the startup sequence: single-instance lock, PID file, dump root
// sanitizing, keyring and plugins, the filesystem watch, the cron table, the
// bus, the termination signals, and finally a scan of existing dumps.
// Any failure is fatal and everything acquired so far is released.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts Options) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("daemon requires config")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if opts.Resolver == nil {
		opts.Resolver = packages.NewRPM()
	}
	if len(opts.Signals) == 0 {
		opts.Signals = []os.Signal{syscall.SIGTERM, syscall.SIGINT}
	}

	d := &Daemon{
		cfg:     cfg,
		opts:    opts,
		logger:  logging.NewComponentLogger(logger, "daemon"),
		lock:    flock.New(cfg.LockPath()),
		pidPath: cfg.PIDPath(),
	}
	d.ctx, d.cancel = context.WithCancel(ctx)
	d.handlers = d.methods()
	if err := d.start(logger); err != nil {
		_ = d.Close()
		return nil, err
	}
	return d, nil
}

func (d *Daemon) start(logger *slog.Logger) error {
	if err := d.cfg.EnsureDirectories(); err != nil {
		return err
	}
	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return ErrAlreadyRunning
	}
	if err := writePIDFile(d.pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}

	root := d.cfg.Paths.DumpDir
	d.sanitizeDumpRoot(root)

	snap, err := d.cfg.Snapshot()
	if err != nil {
		return err
	}
	d.keyring = d.loadKeyring(d.cfg.Common.OpenGPGPublicKeys)
	d.registry = plugin.NewRegistry(config.NewPluginSettingsStore(d.cfg.Paths.PluginConfDir), logger)
	d.loadPlugins(snap)

	d.reactor = reactor.New(logger, reactor.WithIdleTimeout(d.opts.IdleTimeout))
	engineOpts := []triage.Option{triage.WithNotifier(d)}
	if d.opts.Hostname != nil {
		engineOpts = append(engineOpts, triage.WithHostname(d.opts.Hostname))
	}
	d.engine = triage.New(snap, d.keyring, d.registry, d.opts.Resolver, logger, engineOpts...)
	d.quota = quota.New(root, logger)

	if d.watch, err = reactor.WatchDir(d.reactor, root, d.onCreate); err != nil {
		return err
	}

	d.scheduler = scheduler.New(d.reactor, d.runScheduled, logger)
	if err := d.scheduler.Install(d.ctx, d.cfg.Cron); err != nil {
		return fmt.Errorf("cron table: %w", err)
	}

	if d.server, err = bus.Listen(d.ctx, d.cfg.Paths.SocketPath, logger); err != nil {
		return fmt.Errorf("start bus: %w", err)
	}
	if err := reactor.Watch[bus.Request](d.reactor, "bus-requests", d.server.Requests(), func(req bus.Request, ok bool) {
		if ok {
			d.dispatch(req)
		}
	}); err != nil {
		return err
	}
	if err := reactor.Watch[string](d.reactor, "bus-disconnects", d.server.Disconnects(), func(name string, ok bool) {
		if ok {
			d.clientGone(name)
		}
	}); err != nil {
		return err
	}
	d.server.Serve()

	if d.stopSignals, err = reactor.WatchSignals(d.reactor, d.opts.Signals...); err != nil {
		return err
	}

	// Dumps published while the scan runs are queued by the watch and
	// handled on the first loop pass.
	counts := d.engine.ScanExisting(d.ctx)
	d.logger.Info("existing dumps scanned",
		logging.String(logging.FieldEventType, "startup_scan"),
		logging.Int("new", counts[triage.OK]),
		logging.Int("known", counts[triage.InDB]),
	)
	return nil
}

// Run blocks in the reactor loop until a termination signal, the idle
// timeout, or ctx cancellation.
func (d *Daemon) Run(ctx context.Context) error {
	d.logger.Info("crashd initialized",
		logging.String(logging.FieldEventType, "daemon_start"),
		logging.String("dump_dir", d.cfg.Paths.DumpDir),
		logging.String("socket", d.cfg.Paths.SocketPath),
		logging.Int("sources", d.reactor.Sources()),
	)
	if d.opts.Ready != nil {
		d.opts.Ready()
	}
	err := d.reactor.Run(ctx)
	d.logger.Info("crashd shutting down", logging.String("reason", d.reactor.Reason()))
	return err
}

// Close releases everything Open acquired, in reverse order. It is safe to
// call more than once.
func (d *Daemon) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true

	if d.stopSignals != nil {
		d.stopSignals()
	}
	if d.server != nil {
		d.server.Close()
	}
	if d.scheduler != nil {
		d.scheduler.Stop()
	}
	if d.watch != nil {
		_ = d.watch.Close()
	}
	if d.registry != nil {
		d.registry.UnloadAll()
	}
	d.cancel()

	if d.lock.Locked() {
		if err := os.Remove(d.pidPath); err != nil && !os.IsNotExist(err) {
			d.logger.Warn("failed to remove pid file", logging.Error(err))
		}
		if err := d.lock.Unlock(); err != nil {
			d.logger.Warn("failed to release daemon lock", logging.Error(err))
		}
		_ = os.Remove(d.lock.Path())
	}
	return nil
}

// SocketPath returns where the bus listens.
func (d *Daemon) SocketPath() string { return d.cfg.Paths.SocketPath }

// Registry exposes the plugin registry.
func (d *Daemon) Registry() *plugin.Registry { return d.registry }

func (d *Daemon) onCreate(name string) {
	if limit := int64(d.engine.Policy().MaxCrashReportsSizeMiB); limit > 0 {
		if _, err := d.quota.Enforce(d.ctx, name, limit, d.quotaExceeded); err != nil {
			logging.WarnWithContext(d.logger, "quota enforcement failed", "quota_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "dump root may exceed its size limit"),
			)
		}
	}
	if _, err := d.engine.HandleNew(d.ctx, name); err != nil && errors.Is(err, dumpdir.ErrNotDumpDir) {
		d.logger.Debug("ignoring non-directory entry", logging.String("name", name))
	}
}

func (d *Daemon) runScheduled(ctx context.Context, job config.ActionSpec) {
	if err := d.engine.RunAction(ctx, job, d.engine.Root()); err != nil {
		logging.WarnWithContext(d.logger, "scheduled action failed", "cron_action_failed",
			logging.Plugin(job.Plugin),
			logging.String("args", job.Arg),
			logging.Error(err),
		)
	}
}

func (d *Daemon) loadKeyring(paths []string) *packages.Keyring {
	kr, errs := packages.LoadKeyring(paths)
	for _, err := range errs {
		logging.WarnWithContext(d.logger, "cannot load GPG key", "gpg_key_load_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "packages signed with this key fail the signature check"),
		)
	}
	return kr
}

func (d *Daemon) loadPlugins(snap *config.Snapshot) {
	for _, name := range d.cfg.Common.EnabledPlugins {
		// Failures are logged by the registry; the plugin stays unavailable.
		_, _ = d.registry.Load(name, false)
	}
	if _, err := d.registry.LoadDir(d.cfg.Paths.PluginConfDir, "", config.PluginSettingsExt); err != nil {
		logging.WarnWithContext(d.logger, "plugin directory scan failed", "plugin_scan_failed", logging.Error(err))
	}
	if _, err := d.registry.Database(snap.Database); err != nil {
		logging.ErrorWithContext(d.logger, "crash database unavailable", "database_unavailable",
			logging.Plugin(snap.Database),
			logging.Error(err),
			logging.String(logging.FieldImpact, "new dumps stay unclassified until the database plugin loads"),
		)
	}
}

// sanitizeDumpRoot makes the dump root world-readable and, when running as
// root, root-owned. Failures are logged.
func (d *Daemon) sanitizeDumpRoot(root string) {
	if err := os.Chmod(root, 0o755); err != nil {
		d.logger.Warn("cannot set dump root permissions", logging.DumpDir(root), logging.Error(err))
	}
	if os.Geteuid() != 0 {
		return
	}
	var st unix.Stat_t
	if err := unix.Stat(root, &st); err != nil {
		d.logger.Warn("cannot stat dump root", logging.DumpDir(root), logging.Error(err))
		return
	}
	if st.Uid != 0 || st.Gid != 0 {
		if err := unix.Chown(root, 0, 0); err != nil {
			d.logger.Warn("cannot chown dump root", logging.DumpDir(root), logging.Error(err))
		}
	}
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}
