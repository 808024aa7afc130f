// Package storage is the transactional persistence layer. It owns the sqlx
// connection pool, the goose migrations and one repository per entity. All
// mutations are single short transactions; long-running work (LLM calls,
// object I/O) happens outside them.
package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store bundles the repositories over a shared connection pool.
type Store struct {
	db     *sqlx.DB
	logger logr.Logger

	Users    *UserRepository
	Tasks    *TaskRepository
	Analyses *AnalysisRepository
	Findings *FindingRepository
	Audit    *AuditRepository
}

// Open connects to PostgreSQL, configures the pool and wires the repositories.
func Open(databaseURL string, logger logr.Logger) (*Store, error) {
	db, err := sqlx.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open PostgreSQL connection: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	logger.Info("PostgreSQL connection established")
	return NewStore(db, logger), nil
}

// NewStore wires repositories over an existing pool. Used by tests with
// sqlmock-backed connections.
func NewStore(db *sqlx.DB, logger logr.Logger) *Store {
	return &Store{
		db:       db,
		logger:   logger,
		Users:    &UserRepository{db: db},
		Tasks:    &TaskRepository{db: db},
		Analyses: &AnalysisRepository{db: db},
		Findings: &FindingRepository{db: db},
		Audit:    &AuditRepository{db: db},
	}
}

// Migrate applies all pending migrations.
func (s *Store) Migrate() error {
	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	if err := goose.Up(s.db.DB, "migrations"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	s.logger.Info("database migrations applied")
	return nil
}

// Ping reports database reachability for readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// InTx runs fn inside a transaction, rolling back on error.
func (s *Store) InTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
