package migration

import (
	"context"
	"time"

	"degpredict/internal/errors"

	"github.com/jmoiron/sqlx"
)

// Migrator defines the interface for database migration operations
type Migrator interface {
	Run(ctx context.Context, db *sqlx.DB) error
	Version() string
}

// MigrationRunner creates the run ledger schema
type MigrationRunner struct {
	version string
}

// NewRunner creates a new migration runner
func NewRunner() *MigrationRunner {
	return &MigrationRunner{
		version: "1",
	}
}

// Version returns the migration version
func (r *MigrationRunner) Version() string {
	return r.version
}

// Run executes all migrations in order. Every statement is idempotent so the
// runner is safe to call on every open.
func (r *MigrationRunner) Run(ctx context.Context, db *sqlx.DB) error {
	if err := r.createMigrationsTable(ctx, db); err != nil {
		return errors.Wrap(err, "failed to create schema_migrations table")
	}

	if err := r.createRunsTable(ctx, db); err != nil {
		return errors.Wrap(err, "failed to create runs table")
	}

	if err := r.createStageRunsTable(ctx, db); err != nil {
		return errors.Wrap(err, "failed to create stage_runs table")
	}

	if err := r.createArtifactsTable(ctx, db); err != nil {
		return errors.Wrap(err, "failed to create artifacts table")
	}

	if err := r.createIndexes(ctx, db); err != nil {
		return errors.Wrap(err, "failed to create indexes")
	}

	if err := r.recordVersion(ctx, db); err != nil {
		return errors.Wrap(err, "failed to record schema version")
	}

	return nil
}

func (r *MigrationRunner) createMigrationsTable(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TEXT NOT NULL
		)
	`)
	return err
}

func (r *MigrationRunner) createRunsTable(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			fingerprint TEXT NOT NULL,
			config_hash TEXT NOT NULL,
			input_digest TEXT NOT NULL DEFAULT '',
			code_version TEXT NOT NULL DEFAULT '',
			stages TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'running',
			error TEXT NOT NULL DEFAULT '',
			started_at TEXT NOT NULL,
			finished_at TEXT
		)
	`)
	return err
}

func (r *MigrationRunner) createStageRunsTable(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS stage_runs (
			run_id TEXT NOT NULL REFERENCES runs(run_id) ON DELETE CASCADE,
			stage INTEGER NOT NULL,
			name TEXT NOT NULL,
			success INTEGER NOT NULL,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			warnings INTEGER NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT '',
			recorded_at TEXT NOT NULL,
			PRIMARY KEY (run_id, stage)
		)
	`)
	return err
}

func (r *MigrationRunner) createArtifactsTable(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS artifacts (
			run_id TEXT NOT NULL REFERENCES runs(run_id) ON DELETE CASCADE,
			stage INTEGER NOT NULL,
			key TEXT NOT NULL,
			sha256 TEXT NOT NULL,
			bytes INTEGER NOT NULL,
			PRIMARY KEY (run_id, key)
		)
	`)
	return err
}

func (r *MigrationRunner) createIndexes(ctx context.Context, db *sqlx.DB) error {
	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_fingerprint ON runs(fingerprint)`,
		`CREATE INDEX IF NOT EXISTS idx_artifacts_sha256 ON artifacts(sha256)`,
	}
	for _, stmt := range indexes {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (r *MigrationRunner) recordVersion(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `
		INSERT OR IGNORE INTO schema_migrations (version, applied_at) VALUES (?, ?)
	`, r.version, time.Now().UTC().Format(time.RFC3339))
	return err
}
