package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"degpredict/adapters/tabular"
	"degpredict/domain/deg"
	"degpredict/domain/expression"
	"degpredict/domain/stage"
	"degpredict/internal/config"
	"degpredict/internal/errors"
	"degpredict/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const seriesFixture = `!Series_title	"PKC inhibition in cultured cells"
!Series_platform_id	"GPL570"
!Sample_title	"ctrl_1"	"ctrl_2"	"inh_1"	"inh_2"
!Sample_geo_accession	"GSM1"	"GSM2"	"GSM3"	"GSM4"
!Sample_source_name_ch1	"cells"	"cells"	"cells"	"cells"
!Sample_characteristics_ch1	"treatment: vehicle"	"treatment: vehicle"	"treatment: PKC inhibitor"	"treatment: PKC inhibitor"
!series_matrix_table_begin
"ID_REF"	"GSM1"	"GSM2"	"GSM3"	"GSM4"
"ITPR1"	100	110	400	420
"PLCB1"	300	310	90	95
"PRKCA"	50	52	20	21
"ATP2A2"	200	205	199	207
"BROKEN"	5	null	6	7
"ORAI1"	80	75	81	79
!series_matrix_table_end
`

func newTestRunner() *StageRunner {
	return NewStageRunner(storage.NewMemoryStore(), zap.NewNop())
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Default()
	require.NoError(t, err)
	cfg.Baseline.File = ""
	return cfg
}

func writeFixture(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// scenarioMatrix has four samples: gene A shifts by +2 with tight replicates,
// gene B shifts by +2 with noisy replicates, gene C is constant
func scenarioMatrix(t *testing.T) (*expression.Matrix, []expression.Sample) {
	t.Helper()
	m := expression.NewMatrix([]string{"S1", "S2", "S3", "S4"})
	require.NoError(t, m.AddRow("A", "p1", []float64{5.0, 5.1, 7.0, 7.1}))
	require.NoError(t, m.AddRow("B", "p2", []float64{5, 6, 7, 8}))
	require.NoError(t, m.AddRow("C", "p3", []float64{5, 5, 5, 5}))
	samples := []expression.Sample{
		{ID: "S1", Characteristics: "treatment: vehicle"},
		{ID: "S2", Characteristics: "treatment: vehicle"},
		{ID: "S3", Characteristics: "treatment: PKC inhibitor"},
		{ID: "S4", Characteristics: "treatment: PKC inhibitor"},
	}
	return m, samples
}

func seedExpression(t *testing.T, runner *StageRunner, m *expression.Matrix, samples []expression.Sample) {
	t.Helper()
	ctx := context.Background()
	data, err := tabular.EncodeMatrix(m)
	require.NoError(t, err)
	require.NoError(t, runner.Store().Put(ctx, KeyExpression, data))
	meta, err := tabular.EncodeSamples(samples)
	require.NoError(t, err)
	require.NoError(t, runner.Store().Put(ctx, KeyExpressionMetadata, meta))
}

func byGene(records []deg.Record) map[string]deg.Record {
	out := make(map[string]deg.Record, len(records))
	for _, r := range records {
		out[r.Gene] = r
	}
	return out
}

func TestDifferential_Classification(t *testing.T) {
	m, samples := scenarioMatrix(t)
	for i := range samples {
		samples[i].Group = expression.GroupControl
		if i >= 2 {
			samples[i].Group = expression.GroupTreated
		}
	}
	analysis := testConfig(t).Analysis

	out, err := Differential(context.Background(), m, samples, analysis)
	require.NoError(t, err)
	records := byGene(out)
	require.Len(t, records, 3)

	a := records["A"]
	assert.InDelta(t, 2.0, a.Log2FC, 1e-9)
	assert.InDelta(t, 0.00125, a.PValue, 1e-4)
	assert.InDelta(t, 0.00374, a.AdjPValue, 1e-4)
	assert.Equal(t, deg.Up, a.Regulation)

	b := records["B"]
	assert.InDelta(t, 2.0, b.Log2FC, 1e-9)
	assert.Greater(t, b.AdjPValue, 0.05)
	assert.Equal(t, deg.NotSignificant, b.Regulation)

	c := records["C"]
	assert.True(t, c.Degenerate)
	assert.Equal(t, 1.0, c.PValue)
	assert.Equal(t, deg.NotSignificant, c.Regulation)
}

func TestDifferential_SortedByAdjustedPValue(t *testing.T) {
	m, samples := scenarioMatrix(t)
	samples[0].Group, samples[1].Group = expression.GroupControl, expression.GroupControl
	samples[2].Group, samples[3].Group = expression.GroupTreated, expression.GroupTreated

	records, err := Differential(context.Background(), m, samples, testConfig(t).Analysis)
	require.NoError(t, err)
	for i := 1; i < len(records); i++ {
		assert.LessOrEqual(t, records[i-1].AdjPValue, records[i].AdjPValue)
	}
}

func TestDifferential_ScoresEveryGeneAcrossChunks(t *testing.T) {
	_, samples := scenarioMatrix(t)
	samples[0].Group, samples[1].Group = expression.GroupControl, expression.GroupControl
	samples[2].Group, samples[3].Group = expression.GroupTreated, expression.GroupTreated

	m := expression.NewMatrix([]string{"S1", "S2", "S3", "S4"})
	n := 2*geneChunk + 3
	for i := n - 1; i >= 0; i-- {
		require.NoError(t, m.AddRow(fmt.Sprintf("G%04d", i), fmt.Sprintf("p%d", i), []float64{5.0, 5.1, 7.0, 7.1}))
	}

	records, err := Differential(context.Background(), m, samples, testConfig(t).Analysis)
	require.NoError(t, err)
	require.Len(t, records, n)
	for i, r := range records {
		assert.Equal(t, fmt.Sprintf("G%04d", i), r.Gene, "equal adjusted p-values fall back to gene order")
		assert.Equal(t, records[0].PValue, r.PValue)
	}
}

func TestDifferential_Cancelled(t *testing.T) {
	m, samples := scenarioMatrix(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Differential(ctx, m, samples, testConfig(t).Analysis)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDifferentialService_MissingCheckpoint(t *testing.T) {
	cfg := testConfig(t)
	svc := NewDifferentialService(newTestRunner(), cfg.Groups, cfg.Analysis)

	err := svc.Execute(context.Background(), stage.NewResult(stage.Differential))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodeFormat))
	assert.Contains(t, err.Error(), KeyExpression)
	assert.Contains(t, err.Error(), "run stage 1 (acquire) first")
}

func TestDifferentialService_WritesResults(t *testing.T) {
	ctx := context.Background()
	runner := newTestRunner()
	m, samples := scenarioMatrix(t)
	seedExpression(t, runner, m, samples)

	cfg := testConfig(t)
	cfg.Groups.ConfirmInferred = true
	res := stage.NewResult(stage.Differential)
	require.NoError(t, NewDifferentialService(runner, cfg.Groups, cfg.Analysis).Execute(ctx, res))

	assert.Equal(t, 3, res.Counts["genes"])
	assert.Equal(t, 1, res.Counts["up"])
	assert.Equal(t, 2, res.Counts["not_significant"])
	assert.Equal(t, 1, res.Counts["degenerate"])
	assert.Len(t, res.Warnings, 1)

	data, err := runner.Store().Get(ctx, KeyDEGSignificant)
	require.NoError(t, err)
	sig, err := tabular.DecodeDEG(KeyDEGSignificant, data)
	require.NoError(t, err)
	require.Len(t, sig, 1)
	assert.Equal(t, "A", sig[0].Gene)

	used, err := runner.Store().Get(ctx, KeyGroupsUsed)
	require.NoError(t, err)
	groups, err := tabular.DecodeGroupAssignments(KeyGroupsUsed, used)
	require.NoError(t, err)
	assert.Equal(t, expression.GroupTreated, groups["S3"])
}

func TestResolveGroups_RequiresConfirmation(t *testing.T) {
	_, samples := scenarioMatrix(t)
	cfg := testConfig(t).Groups
	cfg.ConfirmInferred = false

	_, err := ResolveGroups(context.Background(), newTestRunner(), cfg, samples)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodeGroupAssignment))
	assert.Contains(t, err.Error(), "S1")
}

func TestResolveGroups_Precedence(t *testing.T) {
	ctx := context.Background()
	runner := newTestRunner()
	_, samples := scenarioMatrix(t)

	reviewed := append([]expression.Sample(nil), samples...)
	for i := range reviewed {
		reviewed[i].Group = expression.GroupControl
		if i%2 == 1 {
			reviewed[i].Group = expression.GroupTreated
		}
	}
	data, err := tabular.EncodeGroupAssignments(reviewed, nil)
	require.NoError(t, err)
	require.NoError(t, runner.Store().Put(ctx, KeySampleGroups, data))

	cfg := testConfig(t).Groups
	cfg.Assignments = map[string]string{"S1": "treated", "S4": "control"}

	evidence, err := ResolveGroups(ctx, runner, cfg, samples)
	require.NoError(t, err)
	assert.Equal(t, expression.GroupTreated, samples[0].Group)
	assert.Equal(t, SourceExplicit, evidence["S1"])
	assert.Equal(t, expression.GroupTreated, samples[1].Group)
	assert.Equal(t, SourceConfirmed, evidence["S2"])
	assert.Equal(t, expression.GroupControl, samples[2].Group)
	assert.Equal(t, expression.GroupControl, samples[3].Group)
}

func TestResolveGroups_AmbiguousSample(t *testing.T) {
	_, samples := scenarioMatrix(t)
	samples[2].Characteristics = "treatment: vehicle plus PKC inhibitor"
	cfg := testConfig(t).Groups
	cfg.ConfirmInferred = true
	cfg.Rules = []config.GroupRule{
		{Group: expression.GroupControl, Field: "characteristics", Contains: []string{"vehicle"}},
		{Group: expression.GroupTreated, Field: "characteristics", Contains: []string{"inhibitor"}},
	}

	_, err := ResolveGroups(context.Background(), newTestRunner(), cfg, samples)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodeGroupAssignment))
	assert.Contains(t, err.Error(), "S3")
	assert.Contains(t, err.Error(), "both")
}

func TestResolveGroups_TooFewSamples(t *testing.T) {
	_, samples := scenarioMatrix(t)
	cfg := testConfig(t).Groups
	cfg.Assignments = map[string]string{"S1": "control", "S2": "treated", "S3": "treated", "S4": "treated"}

	_, err := ResolveGroups(context.Background(), newTestRunner(), cfg, samples)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodeGroupAssignment))
	assert.Contains(t, err.Error(), "control=1")
}

func TestGroupsService_SuggestLeavesUnplacedBlank(t *testing.T) {
	ctx := context.Background()
	runner := newTestRunner()
	m, samples := scenarioMatrix(t)
	samples[3].Characteristics = "batch 7"
	seedExpression(t, runner, m, samples)

	suggested, evidence, err := NewGroupsService(runner, testConfig(t).Groups).Suggest(ctx, true)
	require.NoError(t, err)
	require.Len(t, suggested, 4)
	assert.Equal(t, expression.GroupControl, suggested[0].Group)
	assert.Equal(t, expression.GroupTreated, suggested[2].Group)
	assert.Equal(t, expression.GroupNone, suggested[3].Group)
	assert.Contains(t, evidence["S4"], "matched no group rule")

	ok, err := runner.Store().Exists(ctx, KeySampleGroups)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestResolveGroups_SuggestionsNeedReview(t *testing.T) {
	ctx := context.Background()
	runner := newTestRunner()
	m, samples := scenarioMatrix(t)
	seedExpression(t, runner, m, samples)

	cfg := testConfig(t).Groups
	cfg.ConfirmInferred = false
	suggested, evidence, err := NewGroupsService(runner, cfg).Suggest(ctx, true)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(evidence["S1"], SourceInferred+":"))

	_, err = ResolveGroups(ctx, runner, cfg, append([]expression.Sample(nil), samples...))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodeGroupAssignment))
	assert.Contains(t, err.Error(), "S1")

	reviewed := make(map[string]string, len(suggested))
	for _, smp := range suggested {
		reviewed[smp.ID] = "reviewed"
	}
	data, err := tabular.EncodeGroupAssignments(suggested, reviewed)
	require.NoError(t, err)
	require.NoError(t, runner.Store().Put(ctx, KeySampleGroups, data))

	got, err := ResolveGroups(ctx, runner, cfg, append([]expression.Sample(nil), samples...))
	require.NoError(t, err)
	assert.Equal(t, SourceConfirmed, got["S1"])
}

func TestAcquisitionService_LocalFile(t *testing.T) {
	ctx := context.Background()
	runner := newTestRunner()
	cfg := testConfig(t)
	cfg.Source.LocalFile = writeFixture(t, "series_matrix.txt", seriesFixture)

	res := stage.NewResult(stage.Acquire)
	svc := NewAcquisitionService(runner, nil, cfg.Source, cfg.Normalization)
	require.NoError(t, svc.Execute(ctx, res))

	assert.Equal(t, 6, res.Counts["probes"])
	assert.Equal(t, 5, res.Counts["genes"])
	assert.Equal(t, 4, res.Counts["samples"])
	assert.Equal(t, 1, res.Counts["dropped_rows"])
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "missing values")

	data, err := runner.Store().Get(ctx, KeyExpression)
	require.NoError(t, err)
	m, err := tabular.DecodeMatrix(KeyExpression, data)
	require.NoError(t, err)
	assert.Equal(t, []string{"ITPR1", "PLCB1", "PRKCA", "ATP2A2", "ORAI1"}, m.Genes)
	assert.Equal(t, []string{"GSM1", "GSM2", "GSM3", "GSM4"}, m.Samples)
	assert.NoError(t, m.Validate())
}

func TestAcquisitionService_DuplicateProbe(t *testing.T) {
	cfg := testConfig(t)
	dup := seriesFixture[:len(seriesFixture)-len("!series_matrix_table_end\n")] +
		"\"ITPR1\"\t1\t2\t3\t4\n!series_matrix_table_end\n"
	cfg.Source.LocalFile = writeFixture(t, "dup.txt", dup)

	svc := NewAcquisitionService(newTestRunner(), nil, cfg.Source, cfg.Normalization)
	err := svc.Execute(context.Background(), stage.NewResult(stage.Acquire))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodeFormat))
	assert.Contains(t, err.Error(), "ITPR1")
}

func TestAcquisitionService_MissingLocalFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.Source.LocalFile = filepath.Join(t.TempDir(), "absent.txt.gz")

	svc := NewAcquisitionService(newTestRunner(), nil, cfg.Source, cfg.Normalization)
	err := svc.Execute(context.Background(), stage.NewResult(stage.Acquire))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodeRetrieval))
}
