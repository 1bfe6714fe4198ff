package ports

import (
	"context"

	"degpredict/domain/core"
	"degpredict/domain/run"
	"degpredict/domain/stage"
)

// LedgerWriterPort provides append-only write access to the run history
type LedgerWriterPort interface {
	BeginRun(ctx context.Context, m *run.Manifest) error
	RecordStage(ctx context.Context, runID core.RunID, result stage.Result) error
	FinishRun(ctx context.Context, runID core.RunID, status run.Status, errMsg string) error
}

// LedgerReaderPort provides read-only access to the run history
type LedgerReaderPort interface {
	ListRuns(ctx context.Context, limit int) ([]run.Record, error)
	GetRun(ctx context.Context, runID core.RunID) (*run.Record, error)
	StagesForRun(ctx context.Context, runID core.RunID) ([]run.StageRecord, error)
	// LastDigest returns the most recent successful digest recorded for key
	LastDigest(ctx context.Context, key string) (core.Hash, error)
}

// LedgerPort combines read and write access
type LedgerPort interface {
	LedgerWriterPort
	LedgerReaderPort
	Close() error
}
