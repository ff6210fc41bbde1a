package crashdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"crashd/internal/plugin"
)

// Store manages crash rows backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	var (
		res     sql.Result
		execErr error
	)
	if err := retryOnBusy(ctx, func() error {
		res, execErr = s.db.ExecContext(ctx, query, args...)
		return execErr
	}); err != nil {
		return nil, err
	}
	return res, nil
}

// Open initializes or connects to the crash database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: path}
	if err := store.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string { return s.path }

// Insert adds a new row. Count defaults to 1 and Time to now.
func (s *Store) Insert(ctx context.Context, row plugin.Row) error {
	if row.Count <= 0 {
		row.Count = 1
	}
	if row.Time == 0 {
		row.Time = time.Now().Unix()
	}
	_, err := s.exec(ctx,
		`INSERT INTO crashes (uuid, uid, dump_dir, count, reported, message, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		row.UUID, row.UID, row.DumpDir, row.Count, boolToInt(row.Reported), row.Message, row.Time,
	)
	if err != nil {
		return fmt.Errorf("insert crash %s: %w", row.CrashID(), err)
	}
	return nil
}

// Lookup returns the row for (uuid, uid).
func (s *Store) Lookup(ctx context.Context, uuid, uid string) (plugin.Row, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT uuid, uid, dump_dir, count, reported, message, created_at FROM crashes WHERE uuid = ? AND uid = ?`,
		uuid, uid,
	)
	out, err := scanRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return plugin.Row{}, false, nil
	}
	if err != nil {
		return plugin.Row{}, false, fmt.Errorf("lookup crash %s:%s: %w", uid, uuid, err)
	}
	return out, true, nil
}

// IncrementCount bumps the occurrence counter of an existing row.
func (s *Store) IncrementCount(ctx context.Context, uuid, uid string) error {
	return s.update(ctx, `UPDATE crashes SET count = count + 1 WHERE uuid = ? AND uid = ?`, uuid, uid)
}

// SetReported marks a row reported and stores the reporter message.
func (s *Store) SetReported(ctx context.Context, uuid, uid, message string) error {
	return s.update(ctx, `UPDATE crashes SET reported = 1, message = ? WHERE uuid = ? AND uid = ?`, message, uuid, uid)
}

// Delete removes the row for (uuid, uid). Missing rows are not an error.
func (s *Store) Delete(ctx context.Context, uuid, uid string) error {
	if _, err := s.exec(ctx, `DELETE FROM crashes WHERE uuid = ? AND uid = ?`, uuid, uid); err != nil {
		return fmt.Errorf("delete crash %s:%s: %w", uid, uuid, err)
	}
	return nil
}

// DeleteByDumpDir removes rows pointing at a dump directory that no longer exists.
func (s *Store) DeleteByDumpDir(ctx context.Context, dumpDir string) (int64, error) {
	res, err := s.exec(ctx, `DELETE FROM crashes WHERE dump_dir = ?`, dumpDir)
	if err != nil {
		return 0, fmt.Errorf("delete crashes for %s: %w", dumpDir, err)
	}
	return res.RowsAffected()
}

// List returns rows for uid, or every row when uid is empty, newest first.
func (s *Store) List(ctx context.Context, uid string) ([]plugin.Row, error) {
	query := `SELECT uuid, uid, dump_dir, count, reported, message, created_at FROM crashes`
	var args []any
	if uid != "" {
		query += ` WHERE uid = ?`
		args = append(args, uid)
	}
	query += ` ORDER BY created_at DESC, uuid`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list crashes: %w", err)
	}
	defer rows.Close()

	var out []plugin.Row
	for rows.Next() {
		row, err := scanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan crash: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// ErrNoRow reports an update against a missing row.
var ErrNoRow = errors.New("crash not found")

func (s *Store) update(ctx context.Context, query string, args ...any) error {
	res, err := s.exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update crash: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update crash: %w", err)
	}
	if n == 0 {
		return ErrNoRow
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRow(s scanner) (plugin.Row, error) {
	var (
		row      plugin.Row
		reported int
	)
	if err := s.Scan(&row.UUID, &row.UID, &row.DumpDir, &row.Count, &reported, &row.Message, &row.Time); err != nil {
		return plugin.Row{}, err
	}
	row.Reported = reported != 0
	return row, nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
