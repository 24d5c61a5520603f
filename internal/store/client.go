// Package store is the SQL-backed state store (C2): search documents,
// outbox events, retrieval traces, reconcile runs, promotion checkpoints,
// and observational-memory records. The backend is SQLite, matching the
// SQLITE_ERROR error code in the external interface contract; all access
// goes through a single *sqlx.DB with a single-writer discipline enforced
// by a process-wide mutex (SQLite itself serializes writers, but composite
// operations need the same transaction visible across statements).
package store

import (
	"context"
	stdsql "database/sql"
	"embed"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/axiomme/axiomme/internal/apperr"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

//go:embed migrations
var migrationsFS embed.FS

// Store wraps a sqlx.DB handle and a write-serialization mutex. SQLite
// allows only one writer at a time; composite operations (enqueue + mark,
// checkpoint claim) take writeMu for their whole transaction so the
// "single-writer, serialized" contract holds even when SQLite's own busy
// timeout would otherwise interleave them at the statement level.
type Store struct {
	db      *sqlx.DB
	writeMu sync.Mutex
}

// Config configures the sqlite connection.
type Config struct {
	Path            string
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

// New opens (creating if absent) the sqlite database at cfg.Path, runs
// embedded migrations, and returns a ready Store.
func New(ctx context.Context, cfg Config) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", cfg.Path)

	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, apperr.Wrap(apperr.SQLiteError, "store.New", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	} else {
		// SQLite has one physical writer; keep the pool small to avoid
		// SQLITE_BUSY storms under concurrent readers.
		db.SetMaxOpenConns(4)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, apperr.Wrap(apperr.SQLiteError, "store.New", err)
	}

	if err := runMigrations(db.DB); err != nil {
		_ = db.Close()
		return nil, apperr.Wrap(apperr.SQLiteError, "store.New", err)
	}

	slog.Info("state store ready", "component", "store", "path", cfg.Path)
	return &Store{db: db}, nil
}

// NewFromDB wraps an already-open *sqlx.DB, used by tests that manage their
// own temp-file database lifecycle.
func NewFromDB(db *sqlx.DB) *Store {
	return &Store{db: db}
}

func runMigrations(db *stdsql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("creating sqlite migrate driver: %w", err)
	}
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("creating migration source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("creating migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("applying migrations: %w", err)
	}
	if err := source.Close(); err != nil {
		return fmt.Errorf("closing migration source: %w", err)
	}
	return nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying *sqlx.DB for health checks.
func (s *Store) DB() *sqlx.DB { return s.db }

// withWriteTx runs fn inside a transaction while holding writeMu, giving
// composite operations (enqueue+mark, claim-checkpoint) atomicity across
// statements.
func (s *Store) withWriteTx(ctx context.Context, op string, fn func(tx *sqlx.Tx) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return apperr.Wrap(apperr.SQLiteError, op, err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return apperr.Wrap(apperr.SQLiteError, op, err)
	}
	return nil
}

// HealthStatus mirrors the ambient connection-pool health report.
type HealthStatus struct {
	Status          string `json:"status"`
	ResponseTime    int64  `json:"response_time_ms"`
	OpenConnections int    `json:"open_connections"`
	InUse           int    `json:"in_use"`
	Idle            int    `json:"idle"`
}

// Health pings the database and reports pool stats.
func (s *Store) Health(ctx context.Context) (*HealthStatus, error) {
	start := time.Now()
	if err := s.db.PingContext(ctx); err != nil {
		return &HealthStatus{Status: "unhealthy", ResponseTime: time.Since(start).Milliseconds()}, err
	}
	stats := s.db.Stats()
	return &HealthStatus{
		Status:          "healthy",
		ResponseTime:    time.Since(start).Milliseconds(),
		OpenConnections: stats.OpenConnections,
		InUse:           stats.InUse,
		Idle:            stats.Idle,
	}, nil
}
