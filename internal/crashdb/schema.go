package crashdb

import (
	"context"
	"errors"
	"fmt"
)

// migrations[i] moves the database from user_version i to i+1.
var migrations = []string{
	`CREATE TABLE crashes (
		uuid       TEXT    NOT NULL,
		uid        TEXT    NOT NULL,
		dump_dir   TEXT    NOT NULL,
		count      INTEGER NOT NULL DEFAULT 1,
		reported   INTEGER NOT NULL DEFAULT 0,
		message    TEXT    NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		PRIMARY KEY (uuid, uid)
	);
	CREATE INDEX idx_crashes_uid ON crashes (uid);`,
	`CREATE INDEX idx_crashes_dump_dir ON crashes (dump_dir);`,
}

// ErrNewerSchema reports a database written by a newer crashd.
var ErrNewerSchema = errors.New("database schema is newer than this build")

// migrate brings the file up to len(migrations), one transaction per step.
func (s *Store) migrate(ctx context.Context) error {
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version > len(migrations) {
		return fmt.Errorf("%w: %s has version %d, this build knows %d", ErrNewerSchema, s.path, version, len(migrations))
	}
	for step := version; step < len(migrations); step++ {
		if err := s.applyMigration(ctx, step); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) applyMigration(ctx context.Context, step int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("migration %d: %w", step+1, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, migrations[step]); err != nil {
		return fmt.Errorf("migration %d: %w", step+1, err)
	}
	// PRAGMA does not take bound parameters.
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", step+1)); err != nil {
		return fmt.Errorf("migration %d: set version: %w", step+1, err)
	}
	return tx.Commit()
}
