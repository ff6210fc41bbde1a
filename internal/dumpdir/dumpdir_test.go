package dumpdir_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"crashd/internal/dumpdir"
)

func TestCreateLoadSave(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ccpp-1")

	d, err := dumpdir.Create(ctx, path, 500, "CCpp", "/usr/bin/true")
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	defer d.Close()

	if got := d.LoadOptional(dumpdir.FieldExecutable); got != "/usr/bin/true" {
		t.Fatalf("unexpected executable: %q", got)
	}
	uid, err := d.UID()
	if err != nil || uid != 500 {
		t.Fatalf("UID() = %d, %v", uid, err)
	}
	if _, err := d.Load(dumpdir.FieldPackage); !errors.Is(err, dumpdir.ErrFieldMissing) {
		t.Fatalf("expected ErrFieldMissing, got %v", err)
	}
	if d.IsRemote() {
		t.Fatal("expected local dump")
	}
	if err := d.Save(dumpdir.FieldRemote, "1\n"); err != nil {
		t.Fatalf("Save remote: %v", err)
	}
	if !d.IsRemote() {
		t.Fatal("expected remote dump")
	}

	fields, err := d.Fields()
	if err != nil {
		t.Fatalf("Fields returned error: %v", err)
	}
	if _, ok := fields[".lock"]; ok {
		t.Fatal("lock file must not be reported as a field")
	}
	if fields[dumpdir.FieldAnalyzer] != "CCpp" {
		t.Fatalf("unexpected fields: %v", fields)
	}

	fields, err = d.Fields(dumpdir.FieldRemote, dumpdir.FieldCoreDump)
	if err != nil {
		t.Fatalf("Fields with skip returned error: %v", err)
	}
	if _, ok := fields[dumpdir.FieldRemote]; ok {
		t.Fatal("skipped field must not be read")
	}
}

func TestUUIDIsWriteOnce(t *testing.T) {
	ctx := context.Background()
	d, err := dumpdir.Create(ctx, filepath.Join(t.TempDir(), "d"), 0, "CCpp", "/bin/sh")
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	defer d.Close()

	if err := d.Save(dumpdir.FieldUUID, "abc"); err != nil {
		t.Fatalf("first uuid save: %v", err)
	}
	if err := d.Save(dumpdir.FieldUUID, "abc"); err != nil {
		t.Fatalf("same uuid save should be a no-op: %v", err)
	}
	if err := d.Save(dumpdir.FieldUUID, "def"); !errors.Is(err, dumpdir.ErrUUIDSet) {
		t.Fatalf("expected ErrUUIDSet, got %v", err)
	}
}

func TestOpenWaitsForLock(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "locked")
	held, err := dumpdir.Create(ctx, path, 0, "CCpp", "/bin/sh")
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	shortCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	if _, err := dumpdir.Open(shortCtx, path); err == nil {
		t.Fatal("expected Open to fail while the lock is held")
	}

	if err := held.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
	d, err := dumpdir.Open(ctx, path)
	if err != nil {
		t.Fatalf("Open after release: %v", err)
	}
	_ = d.Close()
	if err := d.Save("x", "y"); !errors.Is(err, dumpdir.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestOpenRejectsMissingDir(t *testing.T) {
	_, err := dumpdir.Open(context.Background(), filepath.Join(t.TempDir(), "absent"))
	if !errors.Is(err, dumpdir.ErrNotDumpDir) {
		t.Fatalf("expected ErrNotDumpDir, got %v", err)
	}
}

func TestDeleteRemovesTree(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "gone")
	d, err := dumpdir.Create(ctx, path, 0, "CCpp", "/bin/sh")
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(path, "nested"), 0o755); err != nil {
		t.Fatalf("mkdir nested: %v", err)
	}
	_ = d.Close()

	if err := dumpdir.Delete(ctx, path); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected path removed, stat err=%v", err)
	}
	if err := dumpdir.Delete(ctx, path); err != nil {
		t.Fatalf("Delete of missing dir should succeed, got %v", err)
	}
}
