package app

import (
	"bytes"
	"compress/gzip"
	"context"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"degpredict/adapters/geo"
	"degpredict/adapters/sqlite"
	"degpredict/adapters/tabular"
	"degpredict/domain/prediction"
	"degpredict/domain/run"
	"degpredict/domain/stage"
	"degpredict/internal/config"
	"degpredict/internal/errors"
	"degpredict/internal/metrics"
	"degpredict/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestPipeline(runner *StageRunner, cfg *config.Config, fetcher ports.FetcherPort) *Pipeline {
	return NewPipeline(zap.NewNop(),
		NewAcquisitionService(runner, fetcher, cfg.Source, cfg.Normalization),
		NewDifferentialService(runner, cfg.Groups, cfg.Analysis),
		NewIntegrationService(runner, cfg.Panel, cfg.Baseline.File, cfg.Analysis.ExpressionThreshold),
		NewPredictionService(runner, cfg.Rules),
		NewReportService(runner, cfg.Analysis.Thresholds),
	)
}

func fixtureConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := testConfig(t)
	cfg.Source.LocalFile = writeFixture(t, "series_matrix.txt", seriesFixture)
	cfg.Groups.ConfirmInferred = true
	return cfg
}

func predictionsByGene(t *testing.T, runner *StageRunner) map[string]prediction.Record {
	t.Helper()
	data, err := runner.Store().Get(context.Background(), KeyPredictions)
	require.NoError(t, err)
	records, err := tabular.DecodePredictions(KeyPredictions, data)
	require.NoError(t, err)
	out := make(map[string]prediction.Record, len(records))
	for _, r := range records {
		out[r.Gene] = r
	}
	return out
}

func TestPipeline_RunAll(t *testing.T) {
	ctx := context.Background()
	cfg := fixtureConfig(t)
	runner := newTestRunner()

	result, err := newTestPipeline(runner, cfg, nil).RunAll(ctx)
	require.NoError(t, err)
	require.True(t, result.Success())
	require.Len(t, result.Results, 5)
	for i, r := range result.Results {
		assert.Equal(t, stage.All[i], r.Stage)
		assert.NotEmpty(t, r.Artifacts, "stage %d wrote nothing", r.Stage)
	}

	predictions := predictionsByGene(t, runner)
	assert.Len(t, predictions, len(cfg.Panel), "one prediction per panel gene")

	prkca := predictions["PRKCA"]
	assert.Equal(t, "conventional_pkc_ko", prkca.RuleID)
	assert.Equal(t, prediction.ChangeDown, prkca.Change)
	assert.Equal(t, prediction.High, prkca.Confidence)

	itpr2 := predictions["ITPR2"]
	assert.Equal(t, prediction.ChangeUnknown, itpr2.Change, "no proxy data falls through to the default")
	assert.Equal(t, prediction.DefaultRuleID, itpr2.RuleID)

	for _, key := range []string{KeyIntegrated, KeyPathwaySummary, KeyRuleGaps, KeyConfidence, KeyReportXLSX, KeyReportHTML} {
		ok, err := runner.Store().Exists(ctx, key)
		require.NoError(t, err)
		assert.True(t, ok, key)
	}
	html, err := runner.Store().Get(ctx, KeyReportHTML)
	require.NoError(t, err)
	assert.Contains(t, string(html), "PRKCA")
}

func TestPipeline_RerunIsByteIdentical(t *testing.T) {
	ctx := context.Background()
	cfg := fixtureConfig(t)

	outputs := func() map[string][]byte {
		runner := newTestRunner()
		_, err := newTestPipeline(runner, cfg, nil).RunAll(ctx)
		require.NoError(t, err)
		out := make(map[string][]byte)
		for _, key := range []string{KeyExpression, KeyDEG, KeyIntegrated, KeyPredictions, KeyPathwaySummary, KeyConfidence, KeyReportHTML} {
			data, err := runner.Store().Get(ctx, key)
			require.NoError(t, err)
			out[key] = data
		}
		return out
	}

	first, second := outputs(), outputs()
	for key, data := range first {
		assert.True(t, bytes.Equal(data, second[key]), "%s differs between runs", key)
	}
}

func TestPipeline_SingleStageFromCheckpoints(t *testing.T) {
	ctx := context.Background()
	cfg := fixtureConfig(t)
	runner := newTestRunner()
	p := newTestPipeline(runner, cfg, nil)

	_, err := p.Run(ctx, stage.Acquire, stage.Differential, stage.Integrate, stage.Predict)
	require.NoError(t, err)
	before, err := runner.Store().Get(ctx, KeyPredictions)
	require.NoError(t, err)

	result, err := p.Run(ctx, stage.Predict)
	require.NoError(t, err)
	require.Len(t, result.Results, 1)
	after, err := runner.Store().Get(ctx, KeyPredictions)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestPipeline_StopsAtFailingStage(t *testing.T) {
	ctx := context.Background()
	cfg := fixtureConfig(t)
	cfg.Groups.ConfirmInferred = false

	ledger, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { ledger.Close() })
	recorder := metrics.NewRecorder()
	textfile := filepath.Join(t.TempDir(), "degpredict.prom")

	runner := newTestRunner()
	p := newTestPipeline(runner, cfg, nil).
		WithLedger(ledger).
		WithMetrics(recorder, textfile).
		WithFingerprint(run.NewFingerprint("cfg", "", "test"))

	result, err := p.RunAll(ctx)
	require.Error(t, err)

	var stageErr *stage.Error
	require.True(t, stderrors.As(err, &stageErr))
	assert.Equal(t, stage.Differential, stageErr.Stage)
	assert.True(t, errors.HasCode(err, errors.CodeGroupAssignment))
	assert.Contains(t, err.Error(), "stage 2 (differential) failed")
	assert.Contains(t, err.Error(), "GSM1")

	require.Len(t, result.Results, 2, "later stages never run")
	assert.True(t, result.Results[0].Success)
	assert.False(t, result.Results[1].Success)

	rec, err := ledger.GetRun(ctx, result.RunID)
	require.NoError(t, err)
	assert.Equal(t, run.StatusFailed, rec.Status)
	assert.Contains(t, rec.Error, "stage 2")
	stages, err := ledger.StagesForRun(ctx, result.RunID)
	require.NoError(t, err)
	assert.Len(t, stages, 2)

	_, err = os.Stat(textfile)
	assert.NoError(t, err)
}

func TestPipeline_UnregisteredStage(t *testing.T) {
	p := NewPipeline(zap.NewNop(), NewReportService(newTestRunner(), fixtureConfig(t).Analysis.Thresholds))
	_, err := p.Run(context.Background(), stage.Acquire)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodeInternalError))
}

func TestAcquisitionService_DownloadIsCached(t *testing.T) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(seriesFixture))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write(buf.Bytes())
	}))
	defer srv.Close()

	cfg := testConfig(t)
	cfg.Source.URL = srv.URL + "/GSE1_series_matrix.txt.gz"
	runner := newTestRunner()
	client := geo.NewClient(1, 0, 5*time.Second, zap.NewNop())
	svc := NewAcquisitionService(runner, client, cfg.Source, cfg.Normalization)

	ctx := context.Background()
	res := stage.NewResult(stage.Acquire)
	require.NoError(t, svc.Execute(ctx, res))
	require.NoError(t, svc.Execute(ctx, stage.NewResult(stage.Acquire)))

	assert.Equal(t, int32(1), hits.Load(), "second run reads the cached download")
	ok, err := runner.Store().Exists(ctx, "raw/GSE1_series_matrix.txt.gz")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "raw/GSE1_series_matrix.txt.gz", res.Artifacts[0].Key)
}

func TestAcquisitionService_CorruptCacheIsRefetched(t *testing.T) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(seriesFixture))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write(buf.Bytes())
	}))
	defer srv.Close()

	cfg := testConfig(t)
	cfg.Source.URL = srv.URL + "/GSE1_series_matrix.txt.gz"
	runner := newTestRunner()
	ctx := context.Background()
	key := "raw/GSE1_series_matrix.txt.gz"
	require.NoError(t, runner.Store().Put(ctx, key, buf.Bytes()[:12]))

	svc := NewAcquisitionService(runner, geo.NewClient(1, 0, 5*time.Second, zap.NewNop()), cfg.Source, cfg.Normalization)
	res := stage.NewResult(stage.Acquire)
	require.NoError(t, svc.Execute(ctx, res))

	assert.Equal(t, int32(1), hits.Load())
	assert.Contains(t, res.Warnings[0], "cached download is unreadable")
	cached, err := runner.Store().Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, buf.Bytes(), cached)
}

func TestAcquisitionService_DownloadFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	cfg := testConfig(t)
	cfg.Source.URL = srv.URL + "/GSE1_series_matrix.txt.gz"
	client := geo.NewClient(2, 0, time.Second, zap.NewNop())
	svc := NewAcquisitionService(newTestRunner(), client, cfg.Source, cfg.Normalization)

	err := svc.Execute(context.Background(), stage.NewResult(stage.Acquire))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodeRetrieval))
	assert.Contains(t, err.Error(), "source.local_file")
}
