package sqlite

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"degpredict/domain/core"
	"degpredict/domain/run"
	"degpredict/domain/stage"
	"degpredict/internal/errors"
	"degpredict/internal/migration"
	"degpredict/ports"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // pure go sqlite driver
)

// fixed-width so stored timestamps sort lexically
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// LedgerImpl implements ports.LedgerPort on an embedded SQLite file
type LedgerImpl struct {
	db *sqlx.DB
}

// Open opens (creating if needed) the ledger database at path and migrates it.
// ":memory:" gives a throwaway ledger.
func Open(ctx context.Context, path string) (*LedgerImpl, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, errors.Storage(path, err)
		}
	}
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, errors.Storage(path, err)
	}
	// one connection: keeps :memory: databases alive and serializes writers
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys = ON`); err != nil {
		_ = db.Close()
		return nil, errors.Storage(path, err)
	}
	if err := migration.NewRunner().Run(ctx, db); err != nil {
		_ = db.Close()
		return nil, errors.Storage(path, err)
	}
	return &LedgerImpl{db: db}, nil
}

// NewLedger wraps an already migrated database
func NewLedger(db *sqlx.DB) ports.LedgerPort {
	return &LedgerImpl{db: db}
}

// Close releases the database handle
func (l *LedgerImpl) Close() error {
	return l.db.Close()
}

type runRow struct {
	RunID       string         `db:"run_id"`
	Fingerprint string         `db:"fingerprint"`
	ConfigHash  string         `db:"config_hash"`
	InputDigest string         `db:"input_digest"`
	CodeVersion string         `db:"code_version"`
	Stages      string         `db:"stages"`
	Status      string         `db:"status"`
	Error       string         `db:"error"`
	StartedAt   string         `db:"started_at"`
	FinishedAt  sql.NullString `db:"finished_at"`
}

type stageRow struct {
	RunID      string `db:"run_id"`
	Stage      int    `db:"stage"`
	Name       string `db:"name"`
	Success    bool   `db:"success"`
	DurationMS int64  `db:"duration_ms"`
	Warnings   int    `db:"warnings"`
	Error      string `db:"error"`
	RecordedAt string `db:"recorded_at"`
}

type artifactRow struct {
	Stage  int    `db:"stage"`
	Key    string `db:"key"`
	SHA256 string `db:"sha256"`
	Bytes  int    `db:"bytes"`
}

// BeginRun inserts the run in the running state
func (l *LedgerImpl) BeginRun(ctx context.Context, m *run.Manifest) error {
	if err := m.Validate(); err != nil {
		return errors.Wrap(err, "invalid run manifest")
	}
	fp := m.Fingerprint
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO runs (run_id, fingerprint, config_hash, input_digest, code_version, stages, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, m.RunID.String(), fp.Value.String(), fp.ConfigHash.String(), fp.InputDigest.String(), fp.CodeVersion,
		encodeStages(m.Stages), string(run.StatusRunning), m.CreatedAt.Time().Format(timeLayout))
	if err != nil {
		return errors.Storage("runs/"+m.RunID.String(), err)
	}
	return nil
}

// RecordStage stores one stage result and its artifacts in a transaction
func (l *LedgerImpl) RecordStage(ctx context.Context, runID core.RunID, result stage.Result) error {
	tx, err := l.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Storage("stage_runs", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO stage_runs (run_id, stage, name, success, duration_ms, warnings, error, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, runID.String(), int(result.Stage), string(result.Name), result.Success, result.Duration,
		len(result.Warnings), result.Error, time.Now().UTC().Format(timeLayout))
	if err != nil {
		return errors.Storage(fmt.Sprintf("stage_runs/%s/%d", runID, result.Stage), err)
	}

	for _, a := range result.Artifacts {
		_, err = tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO artifacts (run_id, stage, key, sha256, bytes)
			VALUES (?, ?, ?, ?, ?)
		`, runID.String(), int(result.Stage), a.Key, a.Digest.String(), a.Bytes)
		if err != nil {
			return errors.Storage("artifacts/"+a.Key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Storage("stage_runs", err)
	}
	return nil
}

// FinishRun marks the run as finished
func (l *LedgerImpl) FinishRun(ctx context.Context, runID core.RunID, status run.Status, errMsg string) error {
	res, err := l.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, error = ?, finished_at = ? WHERE run_id = ?
	`, string(status), errMsg, time.Now().UTC().Format(timeLayout), runID.String())
	if err != nil {
		return errors.Storage("runs/"+runID.String(), err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.NewNotFoundError("run", runID.String())
	}
	return nil
}

// ListRuns returns the most recent runs first
func (l *LedgerImpl) ListRuns(ctx context.Context, limit int) ([]run.Record, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows []runRow
	err := l.db.SelectContext(ctx, &rows, `
		SELECT run_id, fingerprint, config_hash, input_digest, code_version, stages, status, error, started_at, finished_at
		FROM runs
		ORDER BY started_at DESC, run_id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, errors.Storage("runs", err)
	}

	records := make([]run.Record, 0, len(rows))
	for _, row := range rows {
		rec, err := row.toRecord()
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, nil
}

// GetRun retrieves a run by id
func (l *LedgerImpl) GetRun(ctx context.Context, runID core.RunID) (*run.Record, error) {
	var row runRow
	err := l.db.GetContext(ctx, &row, `
		SELECT run_id, fingerprint, config_hash, input_digest, code_version, stages, status, error, started_at, finished_at
		FROM runs
		WHERE run_id = ?
	`, runID.String())
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w %s", core.ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, errors.Storage("runs/"+runID.String(), err)
	}
	return row.toRecord()
}

// StagesForRun returns the stage executions of a run in stage order
func (l *LedgerImpl) StagesForRun(ctx context.Context, runID core.RunID) ([]run.StageRecord, error) {
	var rows []stageRow
	err := l.db.SelectContext(ctx, &rows, `
		SELECT run_id, stage, name, success, duration_ms, warnings, error, recorded_at
		FROM stage_runs
		WHERE run_id = ?
		ORDER BY stage
	`, runID.String())
	if err != nil {
		return nil, errors.Storage("stage_runs", err)
	}

	var arts []artifactRow
	err = l.db.SelectContext(ctx, &arts, `
		SELECT stage, key, sha256, bytes FROM artifacts WHERE run_id = ? ORDER BY stage, key
	`, runID.String())
	if err != nil {
		return nil, errors.Storage("artifacts", err)
	}
	byStage := make(map[int][]stage.Artifact)
	for _, a := range arts {
		byStage[a.Stage] = append(byStage[a.Stage], stage.Artifact{Key: a.Key, Digest: core.Hash(a.SHA256), Bytes: a.Bytes})
	}

	out := make([]run.StageRecord, 0, len(rows))
	for _, row := range rows {
		recorded, err := parseTime(row.RecordedAt)
		if err != nil {
			return nil, err
		}
		out = append(out, run.StageRecord{
			RunID:      core.RunID(row.RunID),
			Stage:      stage.Number(row.Stage),
			Name:       stage.Name(row.Name),
			Success:    row.Success,
			DurationMS: row.DurationMS,
			Warnings:   row.Warnings,
			Error:      row.Error,
			RecordedAt: recorded,
			Artifacts:  byStage[row.Stage],
		})
	}
	return out, nil
}

// LastDigest returns the digest of key from the most recent successful stage
// that wrote it, or an empty hash when the key was never recorded
func (l *LedgerImpl) LastDigest(ctx context.Context, key string) (core.Hash, error) {
	var digest string
	err := l.db.GetContext(ctx, &digest, `
		SELECT a.sha256
		FROM artifacts a
		JOIN stage_runs s ON s.run_id = a.run_id AND s.stage = a.stage
		WHERE a.key = ? AND s.success = 1
		ORDER BY s.recorded_at DESC
		LIMIT 1
	`, key)
	if stderrors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", errors.Storage("artifacts/"+key, err)
	}
	return core.Hash(digest), nil
}

func (r runRow) toRecord() (*run.Record, error) {
	stages, err := decodeStages(r.Stages)
	if err != nil {
		return nil, err
	}
	started, err := parseTime(r.StartedAt)
	if err != nil {
		return nil, err
	}
	rec := &run.Record{
		RunID: core.RunID(r.RunID),
		Fingerprint: run.Fingerprint{
			ConfigHash:  core.Hash(r.ConfigHash),
			InputDigest: core.Hash(r.InputDigest),
			CodeVersion: r.CodeVersion,
			Value:       core.Hash(r.Fingerprint),
		},
		Stages:    stages,
		Status:    run.Status(r.Status),
		Error:     r.Error,
		StartedAt: started,
	}
	if r.FinishedAt.Valid {
		if rec.FinishedAt, err = parseTime(r.FinishedAt.String); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

func encodeStages(stages []stage.Number) string {
	parts := make([]string, len(stages))
	for i, s := range stages {
		parts[i] = strconv.Itoa(int(s))
	}
	return strings.Join(parts, ",")
}

func decodeStages(s string) ([]stage.Number, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]stage.Number, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, errors.Storage("runs.stages", err)
		}
		out[i] = stage.Number(n)
	}
	return out, nil
}

func parseTime(s string) (core.Timestamp, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return core.Timestamp{}, errors.Storage("timestamp", err)
	}
	return core.NewTimestamp(t), nil
}
