package quota

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"crashd/internal/dumpdir"
	"crashd/internal/logging"
)

// Usage is the measured state of the dump root.
type Usage struct {
	TotalBytes int64
	// Worst names the subdirectory with the largest weight, or "" when no
	// candidate exists.
	Worst       string
	WorstWeight int64
}

// TotalMiB returns the total size in whole MiB.
func (u Usage) TotalMiB() int64 { return u.TotalBytes / (1024 * 1024) }

// Evaluator measures and trims one dump root.
type Evaluator struct {
	root   string
	logger *slog.Logger
	now    func() time.Time
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithClock overrides the time source used for age weighting.
func WithClock(now func() time.Time) Option {
	return func(e *Evaluator) {
		if now != nil {
			e.now = now
		}
	}
}

// New constructs an evaluator for root.
func New(root string, logger *slog.Logger, opts ...Option) *Evaluator {
	e := &Evaluator{
		root:   root,
		logger: logging.NewComponentLogger(logger, "quota"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// WeightedSize sums every file under the root and picks the heaviest
// immediate subdirectory other than exclude. Directories of zero weight are
// never picked.
func (e *Evaluator) WeightedSize(exclude string) (Usage, error) {
	var usage Usage
	entries, err := os.ReadDir(e.root)
	if err != nil {
		return usage, fmt.Errorf("quota: list root: %w", err)
	}
	now := e.now()
	for _, entry := range entries {
		path := filepath.Join(e.root, entry.Name())
		if !entry.IsDir() {
			if info, err := entry.Info(); err == nil && info.Mode().IsRegular() {
				usage.TotalBytes += info.Size()
			}
			continue
		}
		size, modTime, err := dirSizeAndTime(path)
		if err != nil {
			e.logger.Warn("quota: skip entry",
				logging.DumpDir(path),
				logging.Error(err),
				logging.String(logging.FieldEventType, "quota_entry_skipped"),
				logging.String(logging.FieldErrorHint, "inspect dump directory permissions"),
			)
			continue
		}
		usage.TotalBytes += size
		if entry.Name() == exclude {
			continue
		}
		weight := Weight(size, now.Sub(modTime))
		if weight > usage.WorstWeight {
			usage.Worst = entry.Name()
			usage.WorstWeight = weight
		}
	}
	return usage, nil
}

// Weight returns sizeKiB × ageMinutes. Dumps younger than a minute weigh
// their size alone.
func Weight(sizeBytes int64, age time.Duration) int64 {
	kib := sizeBytes / 1024
	minutes := int64(age / time.Minute)
	if minutes <= 0 {
		return kib
	}
	return kib * minutes
}

// Enforce evicts the worst candidate while the root is at or above limitMiB.
// onEvict, when set, runs before each deletion. A limit of zero disables the
// quota. The names of evicted directories are returned.
func (e *Evaluator) Enforce(ctx context.Context, exclude string, limitMiB int64, onEvict func(name string, usage Usage)) ([]string, error) {
	if limitMiB <= 0 {
		return nil, nil
	}
	var evicted []string
	for {
		usage, err := e.WeightedSize(exclude)
		if err != nil {
			return evicted, err
		}
		if usage.TotalMiB() < limitMiB || usage.Worst == "" {
			return evicted, nil
		}
		if onEvict != nil {
			onEvict(usage.Worst, usage)
		}
		path := filepath.Join(e.root, usage.Worst)
		e.logger.Info("quota exceeded, evicting dump",
			logging.DumpDir(path),
			logging.Int64("total_mib", usage.TotalMiB()),
			logging.Int64("limit_mib", limitMiB),
			logging.Int64("weight", usage.WorstWeight),
		)
		if err := dumpdir.Delete(ctx, path); err != nil {
			return evicted, fmt.Errorf("quota: evict %s: %w", usage.Worst, err)
		}
		evicted = append(evicted, usage.Worst)
	}
}

func dirSizeAndTime(path string) (int64, time.Time, error) {
	root, err := os.Stat(path)
	if err != nil {
		return 0, time.Time{}, err
	}
	var size int64
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		size += info.Size()
		return nil
	})
	if err != nil {
		return 0, time.Time{}, err
	}
	return size, root.ModTime(), nil
}
