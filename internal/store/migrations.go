package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// runMigrations applies all pending schema migrations.
// It reads the current version from daemon_state and applies each
// subsequent migration up to schemaVersion. A database written by a newer
// binary is refused.
func runMigrations(ctx context.Context, db *sql.DB) error {
	// Ensure daemon_state table exists so we can read the schema version.
	// This is idempotent because of IF NOT EXISTS.
	_, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS daemon_state (
		key        TEXT PRIMARY KEY,
		value      TEXT NOT NULL DEFAULT '',
		updated_at TEXT NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("create daemon_state: %w", err)
	}

	current, err := currentVersion(ctx, db)
	if err != nil {
		return fmt.Errorf("%w: read schema version: %v", ErrStructural, err)
	}
	if current > schemaVersion {
		return fmt.Errorf("%w: database schema version %d is newer than supported version %d",
			ErrStructural, current, schemaVersion)
	}

	for v := current + 1; v <= schemaVersion; v++ {
		stmt, ok := migrations[v]
		if !ok {
			return fmt.Errorf("%w: missing migration for version %d", ErrStructural, v)
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", v, err)
		}

		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("%w: migration %d: %v", ErrStructural, v, err)
		}

		if err := setState(ctx, tx, keySchemaVersion, strconv.Itoa(v)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("update schema version to %d: %w", v, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", v, err)
		}
	}

	return nil
}

// currentVersion reads the schema version from daemon_state.
// Returns 0 if no version is recorded yet.
func currentVersion(ctx context.Context, q queryer) (int, error) {
	val, err := getState(ctx, q, keySchemaVersion)
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(val)
}

// integrityCheck runs PRAGMA quick_check and fails on anything but "ok".
func integrityCheck(ctx context.Context, db *sql.DB) error {
	var res string
	if err := db.QueryRowContext(ctx, "PRAGMA quick_check").Scan(&res); err != nil {
		return fmt.Errorf("%w: quick_check: %v", ErrStructural, err)
	}
	if res != "ok" {
		return fmt.Errorf("%w: quick_check reported %q", ErrStructural, res)
	}
	return nil
}

const (
	keySchemaVersion = "schema_version"
	// keyWatermark is the last effective date folded into summary_daily.
	keyWatermark = "aggregated_through"
)

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func getState(ctx context.Context, q queryer, key string) (string, error) {
	var val string
	err := q.QueryRowContext(ctx, `SELECT value FROM daemon_state WHERE key = ?`, key).Scan(&val)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return val, err
}

func setState(ctx context.Context, x execer, key, value string) error {
	_, err := x.ExecContext(ctx,
		`INSERT INTO daemon_state (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC().Format(time.RFC3339),
	)
	return err
}
