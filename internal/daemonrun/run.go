// Package daemonrun wires configuration, logging, and the crash daemon into a
// process, either in the foreground or detached into its own session.
package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"crashd/internal/config"
	"crashd/internal/daemon"
	"crashd/internal/deps"
	"crashd/internal/logging"
)

// ReadyFDEnv names the environment variable carrying the descriptor a
// detached child writes to once it is serving.
const ReadyFDEnv = "CRASHD_READY_FD"

// readyFD is the first descriptor after stdio, where exec.Cmd places
// ExtraFiles[0].
const readyFD = 3

// Options configures one daemon process.
type Options struct {
	ConfigPath  string
	Verbosity   int
	Syslog      bool
	IdleTimeout time.Duration
}

// Run loads configuration, opens the daemon, and serves until a termination
// signal, the idle timeout, or ctx ends it. A detached child reports
// readiness through the descriptor named by ReadyFDEnv.
func Run(ctx context.Context, opts Options) error {
	cfg, cfgPath, exists, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.NewFromConfig(cfg, opts.Verbosity, opts.Syslog)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logger = logger.With(logging.String(logging.FieldSessionID, uuid.NewString()))
	logStartupSnapshot(logger, cfg, cfgPath, exists)

	ready, err := readyNotifier()
	if err != nil {
		logging.WarnWithContext(logger, "readiness descriptor unusable", "daemon_ready_fd",
			logging.Error(err),
			logging.String(logging.FieldImpact, "parent process will time out waiting for startup"),
		)
	}

	savePath := ""
	if exists {
		savePath = cfgPath
	}
	d, err := daemon.Open(ctx, cfg, logger, daemon.Options{
		ConfigPath:  savePath,
		IdleTimeout: opts.IdleTimeout,
		Ready:       ready,
	})
	if err != nil {
		if errors.Is(err, daemon.ErrAlreadyRunning) {
			logger.Error("another crashd instance holds the lock", logging.String("lock", cfg.LockPath()))
		}
		return err
	}
	defer d.Close()

	return d.Run(ctx)
}

// readyNotifier returns a callback that writes one byte to the inherited
// readiness descriptor, or nil when the process was not detached.
func readyNotifier() (func(), error) {
	raw := strings.TrimSpace(os.Getenv(ReadyFDEnv))
	if raw == "" {
		return nil, nil
	}
	_ = os.Unsetenv(ReadyFDEnv)
	fd, err := strconv.Atoi(raw)
	if err != nil || fd < readyFD {
		return nil, fmt.Errorf("invalid %s %q", ReadyFDEnv, raw)
	}
	f := os.NewFile(uintptr(fd), "ready")
	if f == nil {
		return nil, fmt.Errorf("descriptor %d not open", fd)
	}
	return func() {
		_, _ = f.Write([]byte{'1'})
		_ = f.Close()
	}, nil
}

// Detach re-executes executable with args in a new session and waits up to
// timeout for it to report readiness. Output of the child is discarded; it
// is expected to log to syslog.
func Detach(executable string, args []string, timeout time.Duration) (int, error) {
	if strings.TrimSpace(executable) == "" {
		return 0, fmt.Errorf("resolve executable: executable path is empty")
	}
	r, w, err := os.Pipe()
	if err != nil {
		return 0, fmt.Errorf("readiness pipe: %w", err)
	}
	defer r.Close()

	devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		_ = w.Close()
		return 0, fmt.Errorf("open %s: %w", os.DevNull, err)
	}
	defer devNull.Close()

	cmd := exec.Command(executable, args...) //nolint:gosec
	cmd.Stdin = devNull
	cmd.Stdout = devNull
	cmd.Stderr = devNull
	cmd.ExtraFiles = []*os.File{w}
	cmd.Env = append(os.Environ(), ReadyFDEnv+"="+strconv.Itoa(readyFD))
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		_ = w.Close()
		return 0, fmt.Errorf("launch daemon: %w", err)
	}
	_ = w.Close()
	pid := cmd.Process.Pid

	if err := waitReady(r, timeout); err != nil {
		_ = cmd.Process.Kill()
		_, _ = cmd.Process.Wait()
		return pid, err
	}
	return pid, cmd.Process.Release()
}

// ErrStartupFailed reports a detached child that exited before signalling
// readiness.
var ErrStartupFailed = errors.New("daemon exited during startup")

func waitReady(r *os.File, timeout time.Duration) error {
	if timeout > 0 {
		_ = r.SetReadDeadline(time.Now().Add(timeout))
	}
	buf := make([]byte, 1)
	n, err := r.Read(buf)
	switch {
	case n == 1:
		return nil
	case errors.Is(err, io.EOF):
		return ErrStartupFailed
	case errors.Is(err, os.ErrDeadlineExceeded):
		return fmt.Errorf("daemon not ready after %s", timeout)
	default:
		return fmt.Errorf("wait for daemon: %w", err)
	}
}

func logStartupSnapshot(logger *slog.Logger, cfg *config.Config, cfgPath string, exists bool) {
	logger.Info("startup snapshot",
		logging.String(logging.FieldEventType, "startup_snapshot"),
		logging.String("config_path", cfgPath),
		logging.Bool("config_present", exists),
		logging.String("dump_dir", cfg.Paths.DumpDir),
		logging.String("socket", cfg.Paths.SocketPath),
		logging.String("database", cfg.Common.Database),
		logging.Bool("gpg_check", cfg.Common.OpenGPGCheck),
	)
	for _, status := range deps.Check(deps.Runtime()) {
		if status.Available {
			logger.Debug("external command found", logging.String("command", status.Name), logging.String("path", status.Path))
			continue
		}
		impact := "optional feature disabled: " + status.Purpose
		if !status.Optional {
			impact = "crashes from packaged programs cannot be classified"
		}
		logging.WarnWithContext(logger, "external command missing", "dependency_missing",
			logging.String("command", status.Name),
			logging.String("detail", status.Detail),
			logging.String(logging.FieldImpact, impact),
			logging.String(logging.FieldErrorHint, "install "+status.Name+" or adjust PATH"),
		)
	}
}
