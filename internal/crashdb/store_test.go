package crashdb_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"crashd/internal/crashdb"
	"crashd/internal/plugin"
)

func openStore(t *testing.T) *crashdb.Store {
	t.Helper()
	store, err := crashdb.Open(context.Background(), filepath.Join(t.TempDir(), "db", "crashd.db"))
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestInsertLookupIncrement(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)

	if _, found, err := store.Lookup(ctx, "u1", "500"); err != nil || found {
		t.Fatalf("expected empty lookup, got found=%v err=%v", found, err)
	}
	if err := store.Insert(ctx, plugin.Row{UUID: "u1", UID: "500", DumpDir: "/d/1"}); err != nil {
		t.Fatalf("Insert returned error: %v", err)
	}
	if err := store.Insert(ctx, plugin.Row{UUID: "u1", UID: "500", DumpDir: "/d/2"}); err == nil {
		t.Fatal("expected duplicate insert to fail")
	}

	row, found, err := store.Lookup(ctx, "u1", "500")
	if err != nil || !found {
		t.Fatalf("Lookup = %v, %v", found, err)
	}
	if row.Count != 1 || row.DumpDir != "/d/1" || row.Reported || row.Time == 0 {
		t.Fatalf("unexpected row: %+v", row)
	}

	if err := store.IncrementCount(ctx, "u1", "500"); err != nil {
		t.Fatalf("IncrementCount returned error: %v", err)
	}
	if err := store.SetReported(ctx, "u1", "500", "file:///tmp/report"); err != nil {
		t.Fatalf("SetReported returned error: %v", err)
	}
	row, _, _ = store.Lookup(ctx, "u1", "500")
	if row.Count != 2 || !row.Reported || row.Message != "file:///tmp/report" {
		t.Fatalf("unexpected row after updates: %+v", row)
	}

	if err := store.IncrementCount(ctx, "missing", "500"); !errors.Is(err, crashdb.ErrNoRow) {
		t.Fatalf("expected ErrNoRow, got %v", err)
	}
}

func TestListFiltersByUID(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	rows := []plugin.Row{
		{UUID: "a", UID: "0", DumpDir: "/d/a", Time: 10},
		{UUID: "b", UID: "500", DumpDir: "/d/b", Time: 20},
		{UUID: "c", UID: "500", DumpDir: "/d/c", Time: 30},
	}
	for _, row := range rows {
		if err := store.Insert(ctx, row); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	all, err := store.List(ctx, "")
	if err != nil || len(all) != 3 {
		t.Fatalf("List all = %d rows, %v", len(all), err)
	}
	if all[0].UUID != "c" {
		t.Fatalf("expected newest first, got %s", all[0].UUID)
	}
	mine, err := store.List(ctx, "500")
	if err != nil || len(mine) != 2 {
		t.Fatalf("List 500 = %d rows, %v", len(mine), err)
	}

	if err := store.Delete(ctx, "b", "500"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	n, err := store.DeleteByDumpDir(ctx, "/d/c")
	if err != nil || n != 1 {
		t.Fatalf("DeleteByDumpDir = %d, %v", n, err)
	}
	mine, _ = store.List(ctx, "500")
	if len(mine) != 0 {
		t.Fatalf("expected no rows for 500, got %v", mine)
	}
}

func TestReopenKeepsRows(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "crashd.db")
	store, err := crashdb.Open(ctx, path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := store.Insert(ctx, plugin.Row{UUID: "x", UID: "1", DumpDir: "/d/x"}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	_ = store.Close()

	reopened, err := crashdb.Open(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	if _, found, err := reopened.Lookup(ctx, "x", "1"); err != nil || !found {
		t.Fatalf("expected row after reopen, found=%v err=%v", found, err)
	}
}

func TestOpenRejectsNewerSchema(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "crashd.db")
	store, err := crashdb.Open(ctx, path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	_ = store.Close()

	raw, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	if _, err := raw.ExecContext(ctx, "PRAGMA user_version = 99"); err != nil {
		t.Fatalf("bump version: %v", err)
	}
	_ = raw.Close()

	if _, err := crashdb.Open(ctx, path); !errors.Is(err, crashdb.ErrNewerSchema) {
		t.Fatalf("expected ErrNewerSchema, got %v", err)
	}
}
