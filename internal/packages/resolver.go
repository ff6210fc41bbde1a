package packages

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
)

// Resolver queries the package database.
type Resolver interface {
	// PackageForPath returns the NVR owning path, or "" when no package does.
	PackageForPath(ctx context.Context, path string) (string, error)
	// Component returns the source package name for an installed NVR.
	Component(ctx context.Context, nvr string) (string, error)
	// Description returns the summary and description of an installed NVR.
	Description(ctx context.Context, nvr string) (string, error)
	// SigningKeyID returns the lower-case hex key id that signed an NVR, or ""
	// when the package is unsigned.
	SigningKeyID(ctx context.Context, nvr string) (string, error)
}

// ErrNotInstalled reports a query for a package that is not installed.
var ErrNotInstalled = errors.New("package not installed")

// Executor abstracts command execution for testability.
type Executor interface {
	Output(ctx context.Context, binary string, args ...string) (stdout []byte, exitCode int, err error)
}

// Option configures the RPM resolver.
type Option func(*RPM)

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(e Executor) Option {
	return func(r *RPM) {
		if e != nil {
			r.exec = e
		}
	}
}

// WithBinary overrides the rpm executable.
func WithBinary(binary string) Option {
	return func(r *RPM) {
		if strings.TrimSpace(binary) != "" {
			r.binary = binary
		}
	}
}

// RPM resolves packages through the rpm command line tool.
type RPM struct {
	binary string
	exec   Executor
}

// NewRPM constructs an rpm-backed resolver.
func NewRPM(opts ...Option) *RPM {
	r := &RPM{binary: "rpm", exec: commandExecutor{}}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// PackageForPath implements Resolver.
func (r *RPM) PackageForPath(ctx context.Context, path string) (string, error) {
	out, code, err := r.exec.Output(ctx, r.binary, "-qf", "--qf", "%{NAME}-%{VERSION}-%{RELEASE}\\n", path)
	if err != nil {
		return "", fmt.Errorf("rpm -qf %s: %w", path, err)
	}
	if code != 0 {
		return "", nil
	}
	return firstLine(out), nil
}

// Component implements Resolver.
func (r *RPM) Component(ctx context.Context, nvr string) (string, error) {
	out, err := r.query(ctx, nvr, "%{SOURCERPM}\\n")
	if err != nil {
		return "", err
	}
	return ComponentFromSourceRPM(firstLine(out)), nil
}

// Description implements Resolver.
func (r *RPM) Description(ctx context.Context, nvr string) (string, error) {
	out, err := r.query(ctx, nvr, "%{SUMMARY}\\n\\n%{DESCRIPTION}")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

var keyIDPattern = regexp.MustCompile(`(?i)key id ([0-9a-f]+)`)

// SigningKeyID implements Resolver.
func (r *RPM) SigningKeyID(ctx context.Context, nvr string) (string, error) {
	out, err := r.query(ctx, nvr, "%|DSAHEADER?{%{DSAHEADER:pgpsig}}:{%|RSAHEADER?{%{RSAHEADER:pgpsig}}:{(none)}|}|")
	if err != nil {
		return "", err
	}
	match := keyIDPattern.FindSubmatch(out)
	if match == nil {
		return "", nil
	}
	return strings.ToLower(string(match[1])), nil
}

func (r *RPM) query(ctx context.Context, nvr, format string) ([]byte, error) {
	out, code, err := r.exec.Output(ctx, r.binary, "-q", "--qf", format, nvr)
	if err != nil {
		return nil, fmt.Errorf("rpm -q %s: %w", nvr, err)
	}
	if code != 0 {
		return nil, fmt.Errorf("%s: %w", nvr, ErrNotInstalled)
	}
	return out, nil
}

func firstLine(out []byte) string {
	line, _, _ := bytes.Cut(out, []byte{'\n'})
	return strings.TrimSpace(string(line))
}

type commandExecutor struct{}

func (commandExecutor) Output(ctx context.Context, binary string, args ...string) ([]byte, int, error) {
	cmd := exec.CommandContext(ctx, binary, args...) //nolint:gosec
	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return out, exitErr.ExitCode(), nil
		}
		return nil, -1, err
	}
	return out, 0, nil
}
