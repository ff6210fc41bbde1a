package quota_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"crashd/internal/logging"
	"crashd/internal/quota"
)

var now = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func makeDump(t *testing.T, root, name string, sizeBytes int64, age time.Duration) {
	t.Helper()
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	f, err := os.Create(filepath.Join(dir, "coredump"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := f.Truncate(sizeBytes); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	_ = f.Close()
	mtime := now.Add(-age)
	if err := os.Chtimes(dir, mtime, mtime); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
}

func newEvaluator(root string) *quota.Evaluator {
	return quota.New(root, logging.NewNop(), quota.WithClock(func() time.Time { return now }))
}

func TestWeightPrefersOldSmallOverYoungLarge(t *testing.T) {
	root := t.TempDir()
	makeDump(t, root, "old-small", 10*1024, 100*time.Minute)
	makeDump(t, root, "young-large", 50*1024, 10*time.Minute)

	usage, err := newEvaluator(root).WeightedSize("")
	if err != nil {
		t.Fatalf("WeightedSize: %v", err)
	}
	if usage.Worst != "old-small" || usage.WorstWeight != 1000 {
		t.Fatalf("expected old-small with weight 1000, got %s (%d)", usage.Worst, usage.WorstWeight)
	}
	if usage.TotalBytes != 60*1024 {
		t.Fatalf("total = %d", usage.TotalBytes)
	}

	usage, _ = newEvaluator(root).WeightedSize("old-small")
	if usage.Worst != "young-large" {
		t.Fatalf("excluded dir selected: %s", usage.Worst)
	}
}

func TestWeight(t *testing.T) {
	tests := []struct {
		size int64
		age  time.Duration
		want int64
	}{
		{2048, 0, 2},
		{2048, 59 * time.Second, 2},
		{2048, 3 * time.Minute, 6},
		{1023, time.Hour, 0},
	}
	for _, tt := range tests {
		if got := quota.Weight(tt.size, tt.age); got != tt.want {
			t.Fatalf("Weight(%d, %s) = %d, want %d", tt.size, tt.age, got, tt.want)
		}
	}
}

func TestEnforceEvictsUntilUnderLimit(t *testing.T) {
	const mib = 1024 * 1024
	root := t.TempDir()
	makeDump(t, root, "a", mib, 100*time.Minute)
	makeDump(t, root, "b", 2*mib, 10*time.Minute)
	makeDump(t, root, "new", mib, 0)

	var notified []string
	evicted, err := newEvaluator(root).Enforce(context.Background(), "new", 3, func(name string, _ quota.Usage) {
		notified = append(notified, name)
	})
	if err != nil {
		t.Fatalf("Enforce: %v", err)
	}
	if len(evicted) != 2 || evicted[0] != "a" || evicted[1] != "b" {
		t.Fatalf("evicted = %v", evicted)
	}
	if len(notified) != 2 {
		t.Fatalf("expected a notification per eviction, got %v", notified)
	}
	if _, err := os.Stat(filepath.Join(root, "new")); err != nil {
		t.Fatalf("excluded directory removed: %v", err)
	}
}

func TestEnforceStopsWithoutCandidates(t *testing.T) {
	root := t.TempDir()
	makeDump(t, root, "new", 2*1024*1024, time.Hour)

	evicted, err := newEvaluator(root).Enforce(context.Background(), "new", 1, nil)
	if err != nil {
		t.Fatalf("Enforce: %v", err)
	}
	if len(evicted) != 0 {
		t.Fatalf("expected nothing evicted, got %v", evicted)
	}

	evicted, _ = newEvaluator(root).Enforce(context.Background(), "", 0, nil)
	if len(evicted) != 0 {
		t.Fatal("a zero limit must disable eviction")
	}
}

func TestZeroWeightDumpsAreNeverEvicted(t *testing.T) {
	root := t.TempDir()
	makeDump(t, root, "new", 2*1024*1024, 0)
	makeDump(t, root, "tiny", 100, 48*time.Hour)

	usage, err := newEvaluator(root).WeightedSize("new")
	if err != nil {
		t.Fatalf("WeightedSize: %v", err)
	}
	if usage.Worst != "" {
		t.Fatalf("expected no candidate, got %q", usage.Worst)
	}
	evicted, err := newEvaluator(root).Enforce(context.Background(), "new", 1, nil)
	if err != nil || len(evicted) != 0 {
		t.Fatalf("Enforce = %v, %v", evicted, err)
	}
	if _, err := os.Stat(filepath.Join(root, "tiny")); err != nil {
		t.Fatalf("tiny dump removed: %v", err)
	}
}
