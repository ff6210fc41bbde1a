package plugins

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"crashd/internal/dumpdir"
	"crashd/internal/plugin"
)

// runApp executes "command[,field]" through the shell inside the dump
// directory. When field is given, stdout is saved into that field.
type runApp struct {
	base
	timeout time.Duration
}

func newRunApp() *runApp { return &runApp{timeout: time.Minute} }

func (r *runApp) SetSettings(s plugin.Settings) error {
	if err := r.base.SetSettings(s); err != nil {
		return err
	}
	r.timeout = settingSeconds(s, "Timeout", time.Minute)
	return nil
}

func (r *runApp) Run(ctx context.Context, dir, args string) error {
	command, field := splitRunAppArgs(args)
	if command == "" {
		return errors.New("RunApp: empty command")
	}

	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	cmd := exec.CommandContext(runCtx, "/bin/sh", "-c", command) //nolint:gosec
	if dir != "" {
		cmd.Dir = dir
	}
	out, err := cmd.Output()
	if err != nil {
		return fmt.Errorf("RunApp %q: %w", command, err)
	}
	if field == "" || dir == "" {
		return nil
	}

	d, err := dumpdir.Open(ctx, dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Save(field, string(out))
}

// splitRunAppArgs splits at the last comma when what follows is a bare field name.
func splitRunAppArgs(args string) (command, field string) {
	args = strings.TrimSpace(args)
	idx := strings.LastIndexByte(args, ',')
	if idx < 0 {
		return args, ""
	}
	candidate := strings.TrimSpace(args[idx+1:])
	if candidate == "" || strings.ContainsAny(candidate, " /'\"$;|&") {
		return args, ""
	}
	return strings.TrimSpace(args[:idx]), candidate
}
