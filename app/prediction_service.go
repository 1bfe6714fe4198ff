package app

import (
	"context"
	"fmt"

	"degpredict/adapters/excel"
	"degpredict/adapters/tabular"
	"degpredict/domain/prediction"
	"degpredict/domain/stage"
	"degpredict/internal/errors"

	"go.uber.org/zap"
)

// PredictionService is stage 4: apply the rule table to the integrated panel
type PredictionService struct {
	runner *StageRunner
	rules  prediction.RuleTable
}

// NewPredictionService creates the stage 4 service
func NewPredictionService(runner *StageRunner, rules prediction.RuleTable) *PredictionService {
	return &PredictionService{runner: runner, rules: rules}
}

// Number implements Stage
func (s *PredictionService) Number() stage.Number { return stage.Predict }

// Execute implements Stage
func (s *PredictionService) Execute(ctx context.Context, res *stage.Result) error {
	logger := s.runner.Logger()

	if err := s.rules.Validate(); err != nil {
		return errors.WithCode(errors.CodeConfigInvalid, err)
	}
	data, err := s.runner.ReadCheckpoint(ctx, KeyIntegrated)
	if err != nil {
		return err
	}
	integrated, err := tabular.DecodeIntegrated(KeyIntegrated, data)
	if err != nil {
		return err
	}

	records, gaps := prediction.Predict(integrated, s.rules)
	for _, g := range gaps {
		logger.Warn("no rule matched, using fallback prediction",
			zap.String("gene", g.Gene),
			zap.String("pathway", string(g.Pathway)),
			zap.String("proxy", string(g.Proxy)),
			zap.String("expression", string(g.Expression)))
	}
	if len(gaps) > 0 {
		res.Warn("%d genes fell through to the fallback rule", len(gaps))
	}
	summaries := prediction.Summarize(records)

	csv, err := tabular.EncodePredictions(records)
	if err != nil {
		return err
	}
	if err := s.runner.WriteArtifact(ctx, res, KeyPredictions, csv); err != nil {
		return err
	}
	xlsx, err := excel.PredictionsWorkbook(records, summaries)
	if err != nil {
		return errors.Wrap(err, "build predictions workbook")
	}
	if err := s.runner.WriteArtifact(ctx, res, KeyPredictionsXLSX, xlsx); err != nil {
		return err
	}
	summary, err := tabular.EncodePathwaySummary(summaries)
	if err != nil {
		return err
	}
	if err := s.runner.WriteArtifact(ctx, res, KeyPathwaySummary, summary); err != nil {
		return err
	}
	gapsCSV, err := tabular.EncodeGaps(gaps)
	if err != nil {
		return err
	}
	if err := s.runner.WriteArtifact(ctx, res, KeyRuleGaps, gapsCSV); err != nil {
		return err
	}

	for _, c := range prediction.Changes {
		n := 0
		for _, r := range records {
			if r.Change == c {
				n++
			}
		}
		res.Counts[string(c)] = n
	}
	res.Counts["predictions"] = len(records)
	res.Counts["rule_gaps"] = len(gaps)
	logger.Info("predictions written",
		zap.Int("genes", len(records)),
		zap.Int("rule_gaps", len(gaps)),
		zap.String("summary", fmt.Sprintf("up=%d down=%d no_change=%d unknown=%d",
			res.Counts["up"], res.Counts["down"], res.Counts["no_change"], res.Counts["unknown"])))
	return nil
}
