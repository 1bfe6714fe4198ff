package app

import (
	"context"
	"fmt"
	"time"

	"degpredict/domain/core"
	"degpredict/domain/run"
	"degpredict/domain/stage"
	"degpredict/internal/errors"
	"degpredict/internal/metrics"
	"degpredict/ports"

	"go.uber.org/zap"
)

// Stage is one step of the pipeline: a function of persisted inputs and
// configuration that writes persisted outputs
type Stage interface {
	Number() stage.Number
	Execute(ctx context.Context, res *stage.Result) error
}

// Pipeline runs stages in order, recording each execution
type Pipeline struct {
	stages      map[stage.Number]Stage
	logger      *zap.Logger
	ledger      ports.LedgerPort
	recorder    *metrics.Recorder
	metricsPath string
	fingerprint run.Fingerprint
}

// NewPipeline registers the given stages
func NewPipeline(logger *zap.Logger, stages ...Stage) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pipeline{stages: make(map[stage.Number]Stage, len(stages)), logger: logger}
	for _, s := range stages {
		p.stages[s.Number()] = s
	}
	return p
}

// WithLedger records runs in the ledger; nil disables recording
func (p *Pipeline) WithLedger(l ports.LedgerPort) *Pipeline {
	p.ledger = l
	return p
}

// WithMetrics exports stage metrics to a Prometheus textfile after each run
func (p *Pipeline) WithMetrics(r *metrics.Recorder, path string) *Pipeline {
	p.recorder, p.metricsPath = r, path
	return p
}

// WithFingerprint sets the determinism fingerprint stored with each run
func (p *Pipeline) WithFingerprint(fp run.Fingerprint) *Pipeline {
	p.fingerprint = fp
	return p
}

// RunAll runs stages 1 to 5
func (p *Pipeline) RunAll(ctx context.Context) (*stage.PipelineResult, error) {
	return p.Run(ctx, stage.All...)
}

// Run executes the requested stages in the given order and stops at the first
// failure, which is returned as a *stage.Error
func (p *Pipeline) Run(ctx context.Context, numbers ...stage.Number) (*stage.PipelineResult, error) {
	if len(numbers) == 0 {
		numbers = stage.All
	}
	for _, n := range numbers {
		if _, ok := p.stages[n]; !ok {
			return nil, errors.InternalError(fmt.Sprintf("stage %d is not registered", int(n)))
		}
	}

	runID := core.NewRunID()
	result := stage.NewPipelineResult(runID)
	logger := p.logger.With(zap.String("run_id", runID.String()))

	manifest := run.NewManifest(runID, numbers, p.fingerprint)
	if p.fingerprint.ConfigHash.IsEmpty() {
		manifest.Fingerprint = run.NewFingerprint(core.NewHash(nil), "", "unknown")
	}
	p.ledgerDo(logger, "begin run", func() error { return p.ledger.BeginRun(ctx, manifest) })

	var failure error
	for _, n := range numbers {
		res := p.execute(ctx, logger, n)
		result.AddResult(*res)
		p.ledgerDo(logger, "record stage", func() error { return p.ledger.RecordStage(ctx, runID, *res) })
		if p.recorder != nil {
			p.recorder.ObserveStage(*res)
		}
		if !res.Success {
			failure = &stage.Error{Stage: n, Err: res.Err}
			break
		}
	}

	status, msg := run.StatusSucceeded, ""
	if failure != nil {
		status, msg = run.StatusFailed, failure.Error()
	}
	p.ledgerDo(logger, "finish run", func() error { return p.ledger.FinishRun(ctx, runID, status, msg) })
	if p.recorder != nil {
		p.recorder.MarkFinished(time.Now())
		if err := p.recorder.WriteTextfile(p.metricsPath); err != nil {
			logger.Warn("metrics export failed", zap.Error(err))
		}
	}

	logger.Info("pipeline finished",
		zap.Int("stages", result.Overall.TotalStages),
		zap.Int("failed", result.Overall.Failed),
		zap.Int64("duration_ms", result.Overall.TotalDuration),
		zap.Int("artifacts", result.Overall.ArtifactsCount))
	return result, failure
}

func (p *Pipeline) execute(ctx context.Context, logger *zap.Logger, n stage.Number) *stage.Result {
	logger = logger.With(zap.Int("stage", int(n)), zap.String("name", string(n.Name())))
	res := stage.NewResult(n)
	logger.Info("stage started")

	start := time.Now()
	err := ctx.Err()
	if err == nil {
		err = p.stages[n].Execute(ctx, res)
	}
	res.Duration = time.Since(start).Milliseconds()

	if err != nil {
		res.Success = false
		res.Error = err.Error()
		res.Err = err
		logger.Error("stage failed", zap.String("code", errors.GetCode(err)), zap.Error(err))
		return res
	}
	res.Success = true
	p.compareDigests(ctx, logger, res)
	logger.Info("stage completed",
		zap.Int64("duration_ms", res.Duration),
		zap.Int("artifacts", len(res.Artifacts)),
		zap.Int("warnings", len(res.Warnings)),
		zap.Any("counts", res.Counts))
	return res
}

// compareDigests logs which artifacts differ from the last successful run
func (p *Pipeline) compareDigests(ctx context.Context, logger *zap.Logger, res *stage.Result) {
	if p.ledger == nil {
		return
	}
	for _, a := range res.Artifacts {
		prev, err := p.ledger.LastDigest(ctx, a.Key)
		if err != nil || prev.IsEmpty() {
			continue
		}
		if prev == a.Digest {
			logger.Debug("artifact unchanged since last run", zap.String("key", a.Key))
		} else {
			logger.Info("artifact changed since last run",
				zap.String("key", a.Key),
				zap.String("previous", prev.Short()),
				zap.String("current", a.Digest.Short()))
		}
	}
}

// ledgerDo runs a ledger write; ledger failures never fail the pipeline
func (p *Pipeline) ledgerDo(logger *zap.Logger, what string, fn func() error) {
	if p.ledger == nil {
		return
	}
	if err := fn(); err != nil {
		logger.Warn("run ledger "+what+" failed", zap.Error(err))
	}
}
