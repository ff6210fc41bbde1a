// Package daemonctl inspects and controls a running crashd from the client
// side: lock and PID probing, connecting with retries, and stopping.
package daemonctl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gofrs/flock"

	"crashd/internal/bus"
	"crashd/internal/config"
)

// Status describes the daemon as seen from outside the process.
type Status struct {
	Running    bool
	PID        int
	SocketPath string
	Reachable  bool
}

// ErrNotRunning reports that no daemon holds the instance lock.
var ErrNotRunning = errors.New("crashd is not running")

const pollInterval = 200 * time.Millisecond

// Probe reports whether a daemon holds the lock for cfg and whether its bus
// socket answers.
func Probe(ctx context.Context, cfg *config.Config) (Status, error) {
	status := Status{SocketPath: cfg.Paths.SocketPath}
	held, err := lockHeld(cfg.LockPath())
	if err != nil {
		return status, err
	}
	status.Running = held
	if !held {
		return status, nil
	}
	if pid, err := readPID(cfg.PIDPath()); err == nil {
		status.PID = pid
	}
	client, err := bus.Dial(ctx, cfg.Paths.SocketPath)
	if err == nil {
		status.Reachable = true
		_ = client.Close()
	}
	return status, nil
}

// lockHeld probes the instance lock without keeping it.
func lockHeld(path string) (bool, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return false, nil
	}
	lock := flock.New(path)
	ok, err := lock.TryLock()
	if err != nil {
		return false, fmt.Errorf("probe lock %s: %w", path, err)
	}
	if ok {
		_ = lock.Unlock()
		return false, nil
	}
	return true, nil
}

func readPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid pid file %s", path)
	}
	return pid, nil
}

// Connect dials the daemon socket, retrying until it appears or timeout
// passes.
func Connect(ctx context.Context, socketPath string, timeout time.Duration, opts ...bus.ClientOption) (*bus.Client, error) {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for {
		client, err := bus.Dial(ctx, socketPath, opts...)
		if err == nil {
			return client, nil
		}
		lastErr = err
		if !time.Now().Before(deadline) {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
	return nil, fmt.Errorf("connect to crashd at %s: %w", socketPath, lastErr)
}

// Stop sends SIGTERM to the daemon recorded in the PID file and waits for
// the instance lock to be released.
func Stop(ctx context.Context, cfg *config.Config, timeout time.Duration) error {
	held, err := lockHeld(cfg.LockPath())
	if err != nil {
		return err
	}
	if !held {
		return ErrNotRunning
	}
	pid, err := readPID(cfg.PIDPath())
	if err != nil {
		return fmt.Errorf("read pid: %w", err)
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("find process %d: %w", pid, err)
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("signal process %d: %w", pid, err)
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		held, err := lockHeld(cfg.LockPath())
		if err == nil && !held {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
	return fmt.Errorf("crashd (pid %d) did not stop within %s", pid, timeout)
}
