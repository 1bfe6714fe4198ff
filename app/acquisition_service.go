package app

import (
	"context"
	"fmt"
	"math"
	"os"
	"path"

	"degpredict/adapters/geo"
	"degpredict/adapters/tabular"
	"degpredict/domain/expression"
	"degpredict/domain/stage"
	"degpredict/internal/config"
	"degpredict/internal/errors"
	"degpredict/internal/stats"
	"degpredict/ports"

	mstats "github.com/montanaflynn/stats"
	"go.uber.org/zap"
)

// AcquisitionService is stage 1: obtain the proxy series matrix, map probes to
// genes, normalize and persist the expression matrix and sample metadata
type AcquisitionService struct {
	runner  *StageRunner
	fetcher ports.FetcherPort
	source  config.SourceConfig
	norm    config.NormalizationConfig
}

// NewAcquisitionService creates the stage 1 service
func NewAcquisitionService(runner *StageRunner, fetcher ports.FetcherPort, source config.SourceConfig, norm config.NormalizationConfig) *AcquisitionService {
	return &AcquisitionService{
		runner:  runner,
		fetcher: fetcher,
		source:  source,
		norm:    norm,
	}
}

// Number implements Stage
func (s *AcquisitionService) Number() stage.Number { return stage.Acquire }

// Execute implements Stage
func (s *AcquisitionService) Execute(ctx context.Context, res *stage.Result) error {
	logger := s.runner.Logger()

	raw, cached, err := s.obtain(ctx, res)
	if err != nil {
		return err
	}
	sm, err := s.parse(raw)
	if err != nil && cached {
		s.runner.Warn(res, "cached download is unreadable; downloading again", zap.Error(err))
		if raw, err = s.download(ctx, res); err != nil {
			return err
		}
		sm, err = s.parse(raw)
	}
	if err != nil {
		return err
	}
	logger.Info("series matrix parsed",
		zap.String("platform", sm.Platform),
		zap.Int("probes", len(sm.Probes)),
		zap.Int("samples", len(sm.Samples)))

	symbols, err := s.platformSymbols()
	if err != nil {
		return err
	}

	m, err := s.buildMatrix(res, sm, symbols)
	if err != nil {
		return err
	}

	mode, err := stats.ParseLogMode(s.norm.LogMode)
	if err != nil {
		return errors.WithCode(errors.CodeConfigInvalid, err)
	}
	m, applied := stats.Log2Transform(m, s.norm.Pseudocount, mode)
	m = stats.QuantileNormalize(m)
	if err := m.Validate(); err != nil {
		return errors.WithCode(errors.CodeFormat, err)
	}
	logger.Info("expression normalized",
		zap.Bool("log2_applied", applied),
		zap.Int("genes", m.NumGenes()),
		zap.Int("samples", m.NumSamples()))

	matrixCSV, err := tabular.EncodeMatrix(m)
	if err != nil {
		return err
	}
	if err := s.runner.WriteArtifact(ctx, res, KeyExpression, matrixCSV); err != nil {
		return err
	}
	metaCSV, err := tabular.EncodeSamples(sm.Samples)
	if err != nil {
		return err
	}
	if err := s.runner.WriteArtifact(ctx, res, KeyExpressionMetadata, metaCSV); err != nil {
		return err
	}

	res.Counts["probes"] = len(sm.Probes)
	res.Counts["genes"] = m.NumGenes()
	res.Counts["samples"] = m.NumSamples()
	return nil
}

// obtain returns the raw series matrix bytes: the configured local file, a
// cached download, or a fresh download that is then cached under raw/.
// cached reports whether the bytes came from raw/.
func (s *AcquisitionService) obtain(ctx context.Context, res *stage.Result) (data []byte, cached bool, err error) {
	logger := s.runner.Logger()
	if s.source.LocalFile != "" {
		data, err := os.ReadFile(s.source.LocalFile)
		if err != nil {
			return nil, false, errors.WithCode(errors.CodeRetrieval, fmt.Errorf("read source.local_file %s: %w", s.source.LocalFile, err))
		}
		logger.Info("using local series matrix", zap.String("path", s.source.LocalFile))
		return data, false, nil
	}

	cacheKey := s.cacheKey()
	store := s.runner.Store()
	if ok, err := store.Exists(ctx, cacheKey); err == nil && ok {
		if data, err := store.Get(ctx, cacheKey); err == nil {
			logger.Info("using cached download", zap.String("key", cacheKey))
			return data, true, nil
		}
	}
	data, err = s.download(ctx, res)
	return data, false, err
}

// download fetches the series matrix and overwrites the raw/ cache entry
func (s *AcquisitionService) download(ctx context.Context, res *stage.Result) ([]byte, error) {
	url := s.source.SeriesMatrixURL()
	if s.fetcher == nil {
		return nil, errors.Retrieval(url, fmt.Errorf("no downloader configured"))
	}
	s.runner.Logger().Info("downloading series matrix", zap.String("url", url))
	data, err := s.fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, errors.Retrieval(url, err)
	}
	if err := s.runner.WriteArtifact(ctx, res, s.cacheKey(), data); err != nil {
		return nil, err
	}
	return data, nil
}

func (s *AcquisitionService) cacheKey() string {
	return rawPrefix + path.Base(s.source.SeriesMatrixURL())
}

// parse decompresses and parses raw series matrix bytes
func (s *AcquisitionService) parse(raw []byte) (*geo.SeriesMatrix, error) {
	data, err := geo.Decompress(raw)
	if err != nil {
		return nil, errors.Retrieval(s.sourceName(), err)
	}
	sm, err := geo.ParseSeriesMatrix(data)
	if err != nil {
		return nil, errors.WithCode(errors.CodeFormat, fmt.Errorf("series matrix %s: %w", s.sourceName(), err))
	}
	return sm, nil
}

func (s *AcquisitionService) sourceName() string {
	if s.source.LocalFile != "" {
		return s.source.LocalFile
	}
	return s.source.SeriesMatrixURL()
}

func (s *AcquisitionService) platformSymbols() (map[string]string, error) {
	if s.source.PlatformFile == "" {
		return nil, nil
	}
	data, err := os.ReadFile(s.source.PlatformFile)
	if err != nil {
		return nil, errors.WithCode(errors.CodeRetrieval, fmt.Errorf("read source.platform_file %s: %w", s.source.PlatformFile, err))
	}
	data, err = geo.Decompress(data)
	if err != nil {
		return nil, errors.WithCode(errors.CodeFormat, fmt.Errorf("platform annotation %s: %w", s.source.PlatformFile, err))
	}
	symbols, err := geo.ParsePlatformAnnotation(data)
	if err != nil {
		return nil, errors.WithCode(errors.CodeFormat, fmt.Errorf("platform annotation %s: %w", s.source.PlatformFile, err))
	}
	s.runner.Logger().Info("platform annotation loaded", zap.Int("mapped_probes", len(symbols)))
	return symbols, nil
}

type probeRow struct {
	probe  string
	values []float64
	mean   float64
}

// buildMatrix drops incomplete rows, maps probes to gene symbols and keeps
// the highest-mean probe for each gene, preserving first-seen gene order
func (s *AcquisitionService) buildMatrix(res *stage.Result, sm *geo.SeriesMatrix, symbols map[string]string) (*expression.Matrix, error) {
	ids := make([]string, len(sm.Samples))
	for j, smp := range sm.Samples {
		ids[j] = smp.ID
	}

	var order []string
	best := make(map[string]probeRow)
	seenProbe := make(map[string]struct{}, len(sm.Probes))
	dropped, collapsed, unmapped := 0, 0, 0

	for i, probe := range sm.Probes {
		if _, dup := seenProbe[probe]; dup {
			return nil, errors.Formatf("series matrix: duplicate probe id %s", probe)
		}
		seenProbe[probe] = struct{}{}

		values := sm.Values[i]
		if hasMissing(values) {
			dropped++
			continue
		}
		gene := probe
		if symbols != nil {
			if sym, ok := symbols[probe]; ok {
				gene = sym
			} else {
				unmapped++
			}
		}

		mean, err := mstats.Mean(values)
		if err != nil {
			return nil, errors.Formatf("probe %s: %v", probe, err)
		}
		row := probeRow{probe: probe, values: values, mean: mean}
		prev, ok := best[gene]
		if !ok {
			order = append(order, gene)
			best[gene] = row
			continue
		}
		collapsed++
		if row.mean > prev.mean {
			best[gene] = row
		}
	}

	if dropped > 0 {
		s.runner.Warn(res, fmt.Sprintf("dropped %d probe rows with missing values", dropped), zap.Int("rows", dropped))
	}
	if unmapped > 0 {
		s.runner.Logger().Debug("probes without a gene symbol keep their probe id", zap.Int("probes", unmapped))
	}
	if collapsed > 0 {
		s.runner.Logger().Info("collapsed duplicate probes to highest-mean probe per gene", zap.Int("collapsed", collapsed))
	}
	res.Counts["dropped_rows"] = dropped
	res.Counts["collapsed_probes"] = collapsed

	if len(order) == 0 {
		return nil, errors.Format("series matrix has no complete probe rows")
	}

	m := expression.NewMatrix(ids)
	for _, gene := range order {
		row := best[gene]
		if err := m.AddRow(gene, row.probe, append([]float64(nil), row.values...)); err != nil {
			return nil, errors.WithCode(errors.CodeFormat, err)
		}
	}
	return m, nil
}

func hasMissing(values []float64) bool {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return true
		}
	}
	return false
}
