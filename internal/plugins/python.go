package plugins

import (
	"context"
	"errors"
	"path/filepath"
	"regexp"
	"strings"

	"crashd/internal/dumpdir"
)

var pyFrame = regexp.MustCompile(`File "([^"]+)", line \d+, in (\S+)`)

type python struct {
	base
}

func newPython() *python { return &python{} }

func (p *python) UUID(ctx context.Context, dir string) (string, error) {
	d, err := dumpdir.Open(ctx, dir)
	if err != nil {
		return "", err
	}
	defer d.Close()

	executable, err := d.Load(dumpdir.FieldExecutable)
	if err != nil {
		return "", err
	}
	traceback, err := d.Load(dumpdir.FieldBacktrace)
	if err != nil {
		return "", err
	}
	parts := []string{"Python", executable}
	for _, m := range pyFrame.FindAllStringSubmatch(traceback, -1) {
		parts = append(parts, filepath.Base(m[1])+":"+m[2])
	}
	if exc := exceptionType(traceback); exc != "" {
		parts = append(parts, exc)
	}
	return contentUUID(parts...), nil
}

// exceptionType returns the exception class from the last traceback line.
func exceptionType(traceback string) string {
	lines := strings.Split(strings.TrimSpace(traceback), "\n")
	last := strings.TrimSpace(lines[len(lines)-1])
	if name, _, ok := strings.Cut(last, ":"); ok {
		return strings.TrimSpace(name)
	}
	return last
}

func (p *python) CreateReport(ctx context.Context, dir string, _ bool) error {
	d, err := dumpdir.Open(ctx, dir)
	if err != nil {
		return err
	}
	defer d.Close()
	if !d.Has(dumpdir.FieldBacktrace) {
		return errors.New("python crash has no traceback")
	}
	return nil
}
