package app

import (
	"context"
	"fmt"
	"sort"

	"degpredict/adapters/tabular"
	"degpredict/domain/deg"
	"degpredict/domain/expression"
	"degpredict/domain/stage"
	"degpredict/internal/config"
	"degpredict/internal/errors"
	"degpredict/internal/stats"

	"go.uber.org/zap"
)

// KeyGroupsUsed records the assignment stage 2 actually tested with
const KeyGroupsUsed = "processed/deg_sample_groups.csv"

// DifferentialService is stage 2: per-gene two-sample tests between the
// treated and control arms, FDR correction and regulation calls
type DifferentialService struct {
	runner   *StageRunner
	groups   config.GroupConfig
	analysis config.AnalysisConfig
}

// NewDifferentialService creates the stage 2 service
func NewDifferentialService(runner *StageRunner, groups config.GroupConfig, analysis config.AnalysisConfig) *DifferentialService {
	return &DifferentialService{runner: runner, groups: groups, analysis: analysis}
}

// Number implements Stage
func (s *DifferentialService) Number() stage.Number { return stage.Differential }

// Execute implements Stage
func (s *DifferentialService) Execute(ctx context.Context, res *stage.Result) error {
	logger := s.runner.Logger()

	matrixData, err := s.runner.ReadCheckpoint(ctx, KeyExpression)
	if err != nil {
		return err
	}
	m, err := tabular.DecodeMatrix(KeyExpression, matrixData)
	if err != nil {
		return err
	}
	metaData, err := s.runner.ReadCheckpoint(ctx, KeyExpressionMetadata)
	if err != nil {
		return err
	}
	samples, err := tabular.DecodeSamples(KeyExpressionMetadata, metaData)
	if err != nil {
		return err
	}
	if err := alignSamples(m, samples); err != nil {
		return err
	}

	evidence, err := ResolveGroups(ctx, s.runner, s.groups, samples)
	if err != nil {
		return err
	}
	groupsCSV, err := tabular.EncodeGroupAssignments(samples, evidence)
	if err != nil {
		return err
	}
	if err := s.runner.WriteArtifact(ctx, res, KeyGroupsUsed, groupsCSV); err != nil {
		return err
	}

	records, err := Differential(ctx, m, samples, s.analysis)
	if err != nil {
		return err
	}
	summary := deg.Summarize(records)
	for _, r := range records {
		if r.Degenerate {
			logger.Debug("zero variance, sentinel p-value applied", zap.String("gene", r.Gene))
		}
	}
	if summary.Degenerate > 0 {
		s.runner.Warn(res, fmt.Sprintf("%d genes had zero variance in a group and were scored with the sentinel p-value", summary.Degenerate),
			zap.Int("genes", summary.Degenerate))
	}

	all, err := tabular.EncodeDEG(records)
	if err != nil {
		return err
	}
	if err := s.runner.WriteArtifact(ctx, res, KeyDEG, all); err != nil {
		return err
	}
	var significant []deg.Record
	for _, r := range records {
		if r.Significant() {
			significant = append(significant, r)
		}
	}
	sig, err := tabular.EncodeDEG(significant)
	if err != nil {
		return err
	}
	if err := s.runner.WriteArtifact(ctx, res, KeyDEGSignificant, sig); err != nil {
		return err
	}
	sum, err := tabular.EncodeDEGSummary(summary)
	if err != nil {
		return err
	}
	if err := s.runner.WriteArtifact(ctx, res, KeyDEGSummary, sum); err != nil {
		return err
	}

	logger.Info("differential expression complete",
		zap.Int("genes", summary.Total),
		zap.Int("up", summary.Up),
		zap.Int("down", summary.Down),
		zap.Int("not_significant", summary.NotSignificant))
	res.Counts["genes"] = summary.Total
	res.Counts["up"] = summary.Up
	res.Counts["down"] = summary.Down
	res.Counts["not_significant"] = summary.NotSignificant
	res.Counts["degenerate"] = summary.Degenerate
	return nil
}

// geneChunk is the number of genes scored between context checks
const geneChunk = 512

// Differential tests every gene of m between the assigned groups. samples
// must carry groups and be aligned with the matrix columns. Genes are scored
// in matrix order; the result is sorted by adjusted p-value, ties by gene.
func Differential(ctx context.Context, m *expression.Matrix, samples []expression.Sample, analysis config.AnalysisConfig) ([]deg.Record, error) {
	var controlIdx, treatedIdx []int
	for j, smp := range samples {
		switch smp.Group {
		case expression.GroupControl:
			controlIdx = append(controlIdx, j)
		case expression.GroupTreated:
			treatedIdx = append(treatedIdx, j)
		}
	}

	records := make([]deg.Record, m.NumGenes())
	pvalues := make([]float64, m.NumGenes())

	control := make([]float64, len(controlIdx))
	treated := make([]float64, len(treatedIdx))
	for i := range m.NumGenes() {
		if i%geneChunk == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		row := m.Values[i]
		for k, j := range controlIdx {
			control[k] = row[j]
		}
		for k, j := range treatedIdx {
			treated[k] = row[j]
		}
		t := stats.TwoSampleTTest(control, treated, analysis.EqualVariance)
		records[i] = deg.Record{
			Gene:        m.Genes[i],
			Probe:       m.Probes[i],
			ControlMean: t.ControlMean,
			TreatedMean: t.TreatedMean,
			Log2FC:      t.Log2FC(),
			TStatistic:  t.T,
			DF:          t.DF,
			PValue:      t.P,
			Degenerate:  t.Degenerate,
		}
		pvalues[i] = t.P
	}

	adjusted := stats.BenjaminiHochberg(pvalues)
	for i := range records {
		r := &records[i]
		r.AdjPValue = adjusted[i]
		r.Nominal = r.PValue <= analysis.PValue
		r.Regulation = analysis.Classify(r.AdjPValue, r.Log2FC)
		if r.Degenerate {
			r.Regulation = deg.NotSignificant
		}
	}

	sort.SliceStable(records, func(a, b int) bool {
		if records[a].AdjPValue != records[b].AdjPValue {
			return records[a].AdjPValue < records[b].AdjPValue
		}
		return records[a].Gene < records[b].Gene
	})
	return records, nil
}

// alignSamples reorders samples to match the matrix columns
func alignSamples(m *expression.Matrix, samples []expression.Sample) error {
	byID := make(map[string]expression.Sample, len(samples))
	for _, s := range samples {
		byID[s.ID] = s
	}
	if len(byID) != len(m.Samples) || len(samples) != len(m.Samples) {
		return errors.Formatf("%s has %d samples, %s has %d columns",
			KeyExpressionMetadata, len(byID), KeyExpression, len(m.Samples))
	}
	for j, id := range m.Samples {
		s, ok := byID[id]
		if !ok {
			return errors.Formatf("sample %s in %s has no metadata row", id, KeyExpression)
		}
		samples[j] = s
	}
	return nil
}
