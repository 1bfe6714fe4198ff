package app

import (
	"context"
	stderrors "errors"
	"math"

	"degpredict/adapters/excel"
	"degpredict/adapters/tabular"
	"degpredict/domain/core"
	"degpredict/domain/deg"
	"degpredict/domain/panel"
	"degpredict/domain/stage"
	"degpredict/internal/errors"
	"degpredict/internal/report"

	"go.uber.org/zap"
)

// ReportService is stage 5: figures and summary tables drawn from the
// persisted predictions. It never re-derives a prediction.
type ReportService struct {
	runner     *StageRunner
	thresholds deg.Thresholds
}

// NewReportService creates the stage 5 service
func NewReportService(runner *StageRunner, thresholds deg.Thresholds) *ReportService {
	return &ReportService{runner: runner, thresholds: thresholds}
}

// Number implements Stage
func (s *ReportService) Number() stage.Number { return stage.Report }

// Execute implements Stage
func (s *ReportService) Execute(ctx context.Context, res *stage.Result) error {
	data, err := s.runner.ReadCheckpoint(ctx, KeyPredictions)
	if err != nil {
		return err
	}
	records, err := tabular.DecodePredictions(KeyPredictions, data)
	if err != nil {
		return err
	}
	in := report.NewInput(records)

	volcano, err := s.volcano(ctx, res)
	if err != nil {
		return err
	}

	xlsx, err := excel.ReportWorkbook(excel.ReportInput{
		Predictions: in.Predictions,
		Summaries:   in.Summaries,
		Confidence:  in.Confidence,
		Volcano:     volcano,
	})
	if err != nil {
		return errors.Wrap(err, "build report workbook")
	}
	if err := s.runner.WriteArtifact(ctx, res, KeyReportXLSX, xlsx); err != nil {
		return err
	}
	if err := s.runner.WriteArtifact(ctx, res, KeyReportHTML, report.HTML(in)); err != nil {
		return err
	}
	dist, err := tabular.EncodeConfidenceDistribution(in.Confidence)
	if err != nil {
		return err
	}
	if err := s.runner.WriteArtifact(ctx, res, KeyConfidence, dist); err != nil {
		return err
	}

	res.Counts["predictions"] = len(records)
	res.Counts["volcano_points"] = len(volcano)
	s.runner.Logger().Info("report written", zap.Int("genes", len(records)), zap.Int("figures", 4))
	return nil
}

// volcano reads the proxy p-values of the panel genes from the integrated
// table. Without that table the plot is left empty.
func (s *ReportService) volcano(ctx context.Context, res *stage.Result) ([]excel.VolcanoPoint, error) {
	data, err := s.runner.Store().Get(ctx, KeyIntegrated)
	if stderrors.Is(err, core.ErrArtifactNotFound) {
		s.runner.Warn(res, "integrated panel not found; volcano sheet left empty", zap.String("key", KeyIntegrated))
		return nil, nil
	}
	if err != nil {
		return nil, errors.Storage(KeyIntegrated, err)
	}
	integrated, err := tabular.DecodeIntegrated(KeyIntegrated, data)
	if err != nil {
		return nil, err
	}

	var points []excel.VolcanoPoint
	for _, r := range integrated {
		if r.Proxy == panel.ProxyNoData || math.IsNaN(r.PValue) || math.IsNaN(r.Log2FC) {
			continue
		}
		p := math.Max(r.PValue, math.SmallestNonzeroFloat64)
		points = append(points, excel.VolcanoPoint{
			Gene:      r.Gene,
			Log2FC:    r.Log2FC,
			NegLog10P: -math.Log10(p),
			Labeled:   s.thresholds.Classify(r.AdjPValue, r.Log2FC) != deg.NotSignificant,
		})
	}
	return points, nil
}
