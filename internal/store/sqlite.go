// Package store is the tiered SQLite persistence layer. A single Writer owns
// every mutation; any number of Readers open the same file read-only and,
// under WAL, only ever see committed ticks.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver.

	"github.com/anthropic/lifeos/internal/config"
	"github.com/anthropic/lifeos/pkg/logger"
)

// Options carries the tunables the store needs from the daemon config.
type Options struct {
	BusyTimeout     time.Duration
	WriteTimeout    time.Duration
	TickInterval    time.Duration
	Retention       time.Duration
	DayBoundaryHour int
	Logger          logger.Logger
}

// OptionsFrom derives store options from the daemon configuration.
func OptionsFrom(cfg *config.Config) Options {
	return Options{
		BusyTimeout:     cfg.Storage.BusyTimeout,
		WriteTimeout:    cfg.Daemon.WriteTimeout,
		TickInterval:    cfg.Daemon.TickInterval,
		Retention:       cfg.Storage.RollingRetention,
		DayBoundaryHour: cfg.Daemon.DayBoundaryHour,
	}
}

func (o Options) withDefaults() Options {
	if o.BusyTimeout <= 0 {
		o.BusyTimeout = 5 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 500 * time.Millisecond
	}
	if o.TickInterval <= 0 {
		o.TickInterval = time.Second
	}
	if o.Retention <= 0 {
		o.Retention = 7 * 24 * time.Hour
	}
	if o.Logger == nil {
		o.Logger = logger.Nop()
	}
	return o
}

// Writer is the only handle that mutates the database.
type Writer struct {
	db   *sql.DB
	path string
	opts Options
	log  logger.Logger
}

// Open opens (or creates) the database at path in WAL mode, verifies its
// integrity and runs any pending migrations. Integrity and migration
// failures wrap ErrStructural.
func Open(ctx context.Context, path string, opts Options) (*Writer, error) {
	opts = opts.withDefaults()
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(wal)&_pragma=busy_timeout(%d)&_pragma=synchronous(normal)&_txlock=immediate",
		path, opts.BusyTimeout.Milliseconds(),
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection serialises the tick, maintenance and shutdown writes.
	db.SetMaxOpenConns(1)

	// Verify connection and WAL mode.
	var journalMode string
	if err := db.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&journalMode); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: check journal mode: %v", ErrStructural, err)
	}
	if journalMode != "wal" {
		_ = db.Close()
		return nil, fmt.Errorf("expected WAL journal mode, got %q", journalMode)
	}

	if err := integrityCheck(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := runMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Writer{db: db, path: path, opts: opts, log: opts.Logger.Named("store")}, nil
}

// Close checkpoints the WAL into the main database file and closes the
// connection.
func (w *Writer) Close() error {
	if w.db == nil {
		return nil
	}
	if _, err := w.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		w.log.Warn(context.Background(), "wal checkpoint failed", logger.Error(err))
	}
	return w.db.Close()
}

// Path returns the database file path.
func (w *Writer) Path() string { return w.path }

// Reader is a read-only handle. It can neither write rows nor change the
// schema.
type Reader struct {
	db *sql.DB
}

// OpenReader opens path read-only. The database must already exist.
func OpenReader(path string, busyTimeout time.Duration) (*Reader, error) {
	if busyTimeout <= 0 {
		busyTimeout = 5 * time.Second
	}
	dsn := fmt.Sprintf("file:%s?mode=ro&_pragma=busy_timeout(%d)&_pragma=query_only(1)",
		path, busyTimeout.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open database read-only: %w", err)
	}
	return &Reader{db: db}, nil
}

// Close closes the underlying database connections.
func (r *Reader) Close() error {
	if r.db == nil {
		return nil
	}
	return r.db.Close()
}

// DBSizeBytes returns the database file size in bytes.
// This is an approximation using page_count * page_size.
func (r *Reader) DBSizeBytes(ctx context.Context) (int64, error) {
	var pageCount, pageSize int64
	if err := r.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount); err != nil {
		return 0, err
	}
	if err := r.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize); err != nil {
		return 0, err
	}
	return pageCount * pageSize, nil
}

func nanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
