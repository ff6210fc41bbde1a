package dumpdir

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/flock"
)

var (
	// ErrNotDumpDir reports a path that is missing or not a directory.
	ErrNotDumpDir = errors.New("not a dump directory")
	// ErrFieldMissing reports a field file that does not exist.
	ErrFieldMissing = errors.New("field missing")
	// ErrUUIDSet reports an attempt to overwrite a persisted uuid.
	ErrUUIDSet = errors.New("uuid already persisted")
	// ErrClosed reports use of a closed accessor.
	ErrClosed = errors.New("dump directory closed")
)

const lockRetryDelay = 20 * time.Millisecond

// Dir is an open, locked dump directory.
type Dir struct {
	path string
	lock *flock.Flock
}

// Open locks and returns the dump directory at path. It waits for a
// concurrent holder to release the lock until ctx is done.
func Open(ctx context.Context, path string) (*Dir, error) {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%s: %w", path, ErrNotDumpDir)
	}
	lock := flock.New(filepath.Join(path, lockFileName))
	locked, err := lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	if !locked {
		return nil, fmt.Errorf("lock %s: not acquired", path)
	}
	return &Dir{path: path, lock: lock}, nil
}

// Create makes a new dump directory with the basic identity fields and
// returns it open. Producers and tests use it; the daemon never creates dumps.
func Create(ctx context.Context, path string, uid int, analyzer, executable string) (*Dir, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create dump dir: %w", err)
	}
	d, err := Open(ctx, path)
	if err != nil {
		return nil, err
	}
	fields := map[string]string{
		FieldUID:        strconv.Itoa(uid),
		FieldTime:       strconv.FormatInt(time.Now().Unix(), 10),
		FieldAnalyzer:   analyzer,
		FieldExecutable: executable,
	}
	for key, value := range fields {
		if err := d.Save(key, value); err != nil {
			_ = d.Close()
			return nil, err
		}
	}
	return d, nil
}

// Path returns the absolute directory path.
func (d *Dir) Path() string { return d.path }

// Name returns the directory's base name.
func (d *Dir) Name() string { return filepath.Base(d.path) }

// Has reports whether a field file exists.
func (d *Dir) Has(key string) bool {
	if d.lock == nil {
		return false
	}
	info, err := os.Stat(filepath.Join(d.path, key))
	return err == nil && info.Mode().IsRegular()
}

// Load returns a field's value. A missing field wraps ErrFieldMissing.
func (d *Dir) Load(key string) (string, error) {
	if d.lock == nil {
		return "", ErrClosed
	}
	data, err := os.ReadFile(filepath.Join(d.path, key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%s: %w", key, ErrFieldMissing)
		}
		return "", fmt.Errorf("read %s: %w", key, err)
	}
	return string(data), nil
}

// LoadOptional returns a field's value or "" when it is missing or unreadable.
func (d *Dir) LoadOptional(key string) string {
	value, _ := d.Load(key)
	return value
}

// Save writes a field. The uuid field is write-once.
func (d *Dir) Save(key, value string) error {
	if d.lock == nil {
		return ErrClosed
	}
	if key == "" || strings.ContainsRune(key, '/') || key == lockFileName {
		return fmt.Errorf("invalid field name %q", key)
	}
	if key == FieldUUID && d.Has(FieldUUID) {
		existing := strings.TrimSpace(d.LoadOptional(FieldUUID))
		if existing != "" && existing != value {
			return ErrUUIDSet
		}
		if existing == value {
			return nil
		}
	}
	if err := os.WriteFile(filepath.Join(d.path, key), []byte(value), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

// IsRemote reports whether the dump was produced on another host.
func (d *Dir) IsRemote() bool {
	return strings.TrimSpace(d.LoadOptional(FieldRemote)) == "1"
}

// UID returns the owning user id recorded in the dump.
func (d *Dir) UID() (int, error) {
	raw, err := d.Load(FieldUID)
	if err != nil {
		return 0, err
	}
	uid, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("parse uid: %w", err)
	}
	return uid, nil
}

// Fields returns every field in the directory except the named ones, which
// are never read.
func (d *Dir) Fields(skip ...string) (map[string]string, error) {
	if d.lock == nil {
		return nil, ErrClosed
	}
	entries, err := os.ReadDir(d.path)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", d.path, err)
	}
	out := make(map[string]string, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() || entry.Name() == lockFileName || slices.Contains(skip, entry.Name()) {
			continue
		}
		value, err := d.Load(entry.Name())
		if err != nil {
			return nil, err
		}
		out[entry.Name()] = value
	}
	return out, nil
}

// Close releases the lock. It is safe to call more than once.
func (d *Dir) Close() error {
	if d == nil || d.lock == nil {
		return nil
	}
	err := d.lock.Unlock()
	d.lock = nil
	return err
}

// Delete removes a dump directory tree after taking its lock.
func Delete(ctx context.Context, path string) error {
	d, err := Open(ctx, path)
	if err != nil {
		if errors.Is(err, ErrNotDumpDir) {
			return nil
		}
		return err
	}
	defer d.Close()
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("delete %s: %w", path, err)
	}
	return nil
}
