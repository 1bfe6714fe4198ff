package app

import (
	"context"
	"fmt"
	"os"

	"degpredict/adapters/excel"
	"degpredict/adapters/tabular"
	"degpredict/domain/panel"
	"degpredict/domain/stage"
	"degpredict/internal/errors"

	"go.uber.org/zap"
)

// IntegrationService is stage 3: join the gene panel with the proxy results
// and the astrocyte baseline
type IntegrationService struct {
	runner       *StageRunner
	panel        panel.Panel
	baselineFile string
	threshold    float64
}

// NewIntegrationService creates the stage 3 service
func NewIntegrationService(runner *StageRunner, p panel.Panel, baselineFile string, threshold float64) *IntegrationService {
	return &IntegrationService{
		runner:       runner,
		panel:        p,
		baselineFile: baselineFile,
		threshold:    threshold,
	}
}

// Number implements Stage
func (s *IntegrationService) Number() stage.Number { return stage.Integrate }

// Execute implements Stage
func (s *IntegrationService) Execute(ctx context.Context, res *stage.Result) error {
	logger := s.runner.Logger()

	if err := s.panel.Validate(); err != nil {
		return errors.WithCode(errors.CodeConfigInvalid, err)
	}

	data, err := s.runner.ReadCheckpoint(ctx, KeyDEG)
	if err != nil {
		return err
	}
	proxy, err := tabular.DecodeDEG(KeyDEG, data)
	if err != nil {
		return err
	}

	baseline, err := s.loadBaseline(res)
	if err != nil {
		return err
	}

	records := panel.Integrate(s.panel, proxy, baseline, s.threshold)
	if len(records) != len(s.panel) {
		return errors.InternalError(fmt.Sprintf("integration produced %d rows for %d panel genes", len(records), len(s.panel)))
	}

	for _, c := range panel.PathwayCounts(records) {
		logger.Info("panel genes per pathway", zap.String("pathway", string(c.Pathway)), zap.Int("genes", c.Count))
	}
	missing := panel.WithoutProxy(records)
	if len(missing) > 0 {
		logger.Info("panel genes without proxy data", zap.Strings("genes", missing))
	}

	out, err := tabular.EncodeIntegrated(records)
	if err != nil {
		return err
	}
	if err := s.runner.WriteArtifact(ctx, res, KeyIntegrated, out); err != nil {
		return err
	}

	measured := 0
	for _, r := range records {
		if r.Expression != panel.NotMeasured {
			measured++
		}
	}
	res.Counts["panel_genes"] = len(records)
	res.Counts["with_proxy"] = len(records) - len(missing)
	res.Counts["no_proxy_data"] = len(missing)
	res.Counts["baseline_measured"] = measured
	return nil
}

// loadBaseline reads the astrocyte table. A missing file is a warning and
// leaves every gene not_measured; an unreadable or malformed one is fatal.
func (s *IntegrationService) loadBaseline(res *stage.Result) (map[string]panel.Baseline, error) {
	if s.baselineFile == "" {
		s.runner.Warn(res, "no baseline file configured; astrocyte expression is not_measured for every gene")
		return nil, nil
	}
	if _, err := os.Stat(s.baselineFile); os.IsNotExist(err) {
		s.runner.Warn(res, "baseline file not found; astrocyte expression is not_measured for every gene",
			zap.String("path", s.baselineFile))
		return nil, nil
	}

	table, err := excel.NewDataReader(s.baselineFile, s.runner.Logger()).ReadData()
	if err != nil {
		return nil, errors.WithCode(errors.CodeFormat, err)
	}
	baseline, warnings, err := tabular.BaselineFromTable(s.baselineFile, table)
	if err != nil {
		return nil, err
	}
	for _, w := range warnings {
		s.runner.Warn(res, w)
	}
	s.runner.Logger().Info("baseline loaded", zap.String("path", s.baselineFile), zap.Int("genes", len(baseline)))
	return baseline, nil
}
