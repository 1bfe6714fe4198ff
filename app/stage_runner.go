package app

import (
	"context"
	stderrors "errors"

	"degpredict/domain/core"
	"degpredict/domain/stage"
	"degpredict/internal/errors"
	"degpredict/internal/storage"

	"go.uber.org/zap"
)

// Artifact keys. Each is written by exactly one stage.
const (
	KeyExpression         = "processed/expression.csv"
	KeyExpressionMetadata = "processed/expression_metadata.csv"
	KeySampleGroups       = "processed/sample_groups.csv"
	KeyDEG                = "processed/deg_results.csv"
	KeyDEGSignificant     = "processed/deg_results_significant.csv"
	KeyIntegrated         = "processed/gene_panel_integrated.csv"
	KeyPredictions        = "predictions/predictions.csv"
	KeyPredictionsXLSX    = "predictions/predictions.xlsx"
	KeyRuleGaps           = "predictions/rule_gaps.csv"
	KeyPathwaySummary     = "tables/prediction_summary_by_pathway.csv"
	KeyDEGSummary         = "tables/deg_summary.csv"
	KeyConfidence         = "tables/confidence_distribution.csv"
	KeyReportXLSX         = "figures/report.xlsx"
	KeyReportHTML         = "figures/report.html"
	rawPrefix             = "raw/"
)

// producers maps checkpoint keys to the stage that writes them
var producers = map[string]stage.Number{
	KeyExpression:         stage.Acquire,
	KeyExpressionMetadata: stage.Acquire,
	KeyDEG:                stage.Differential,
	KeyIntegrated:         stage.Integrate,
	KeyPredictions:        stage.Predict,
}

// StageRunner gives stages checkpointed access to the artifact store
type StageRunner struct {
	store  storage.Store
	logger *zap.Logger
}

// NewStageRunner creates a new stage runner
func NewStageRunner(store storage.Store, logger *zap.Logger) *StageRunner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StageRunner{
		store:  store,
		logger: logger,
	}
}

// Store returns the underlying artifact store
func (r *StageRunner) Store() storage.Store { return r.store }

// Logger returns the runner's logger
func (r *StageRunner) Logger() *zap.Logger { return r.logger }

// ReadCheckpoint loads an upstream artifact. An absent key is a missing
// checkpoint naming the stage that produces it.
func (r *StageRunner) ReadCheckpoint(ctx context.Context, key string) ([]byte, error) {
	data, err := r.store.Get(ctx, key)
	if err == nil {
		return data, nil
	}
	if stderrors.Is(err, core.ErrArtifactNotFound) {
		if producer, ok := producers[key]; ok {
			return nil, errors.Formatf("missing checkpoint %s: run stage %d (%s) first", key, int(producer), producer.Name())
		}
		return nil, errors.Formatf("missing checkpoint %s", key)
	}
	return nil, errors.Storage(key, err)
}

// WriteArtifact persists data under key and records it on the result
func (r *StageRunner) WriteArtifact(ctx context.Context, res *stage.Result, key string, data []byte) error {
	if err := r.store.Put(ctx, key, data); err != nil {
		return errors.Storage(key, err)
	}
	digest := core.NewHash(data)
	res.Artifacts = append(res.Artifacts, stage.Artifact{Key: key, Digest: digest, Bytes: len(data)})
	r.logger.Debug("artifact written",
		zap.Int("stage", int(res.Stage)),
		zap.String("key", key),
		zap.String("sha256", digest.Short()),
		zap.Int("bytes", len(data)))
	return nil
}

// Warn records a warning on the result and logs it
func (r *StageRunner) Warn(res *stage.Result, msg string, fields ...zap.Field) {
	res.Warn("%s", msg)
	r.logger.Warn(msg, append([]zap.Field{zap.Int("stage", int(res.Stage))}, fields...)...)
}
