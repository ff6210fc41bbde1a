package plugins

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"crashd/internal/dumpdir"
	"crashd/internal/packages"
	"crashd/internal/plugin"
)

type commandFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output() //nolint:gosec
}

type ccpp struct {
	base
	gdb       string
	backtrace bool
	timeout   time.Duration
	run       commandFunc
}

func newCCpp() *ccpp {
	return &ccpp{gdb: "gdb", backtrace: true, timeout: 5 * time.Minute, run: runCommand}
}

func (c *ccpp) SetSettings(s plugin.Settings) error {
	if err := c.base.SetSettings(s); err != nil {
		return err
	}
	c.gdb = settingString(s, "GDB", "gdb")
	c.backtrace = s["Backtrace"] == "" || strings.EqualFold(s["Backtrace"], "yes")
	c.timeout = settingSeconds(s, "BacktraceTimeout", 5*time.Minute)
	return nil
}

func (c *ccpp) UUID(ctx context.Context, dir string) (string, error) {
	d, err := dumpdir.Open(ctx, dir)
	if err != nil {
		return "", err
	}
	defer d.Close()

	executable, err := d.Load(dumpdir.FieldExecutable)
	if err != nil {
		return "", err
	}
	pkg := packages.ShortName(d.LoadOptional(dumpdir.FieldPackage))
	if frames := nativeFrames(d.LoadOptional(dumpdir.FieldBacktrace)); len(frames) > 0 {
		return contentUUID(append([]string{"CCpp", pkg, executable}, frames...)...), nil
	}
	return contentUUID("CCpp", pkg, executable, strings.TrimSpace(d.LoadOptional(dumpdir.FieldReason))), nil
}

func (c *ccpp) CreateReport(ctx context.Context, dir string, force bool) error {
	d, err := dumpdir.Open(ctx, dir)
	if err != nil {
		return err
	}
	if d.Has(dumpdir.FieldBacktrace) && !force {
		return d.Close()
	}
	executable, err := d.Load(dumpdir.FieldExecutable)
	if err != nil {
		_ = d.Close()
		return err
	}
	core := filepath.Join(dir, dumpdir.FieldCoreDump)
	if !c.backtrace {
		defer d.Close()
		return d.Save(dumpdir.FieldBacktrace, "backtrace generation disabled")
	}
	if _, statErr := os.Stat(core); statErr != nil {
		defer d.Close()
		return d.Save(dumpdir.FieldBacktrace, "backtrace not available: no core dump")
	}
	if err := d.Close(); err != nil {
		return err
	}

	runCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	out, runErr := c.run(runCtx, c.gdb, "-batch", "-ex", "thread apply all backtrace full", executable, core)

	d, err = dumpdir.Open(ctx, dir)
	if err != nil {
		return err
	}
	defer d.Close()
	if runErr != nil {
		if errors.Is(runErr, exec.ErrNotFound) {
			return d.Save(dumpdir.FieldBacktrace, "backtrace not available: "+c.gdb+" not installed")
		}
		return fmt.Errorf("generate backtrace: %w", runErr)
	}
	return d.Save(dumpdir.FieldBacktrace, string(out))
}
