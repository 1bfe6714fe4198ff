package container

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"degpredict/domain/stage"
	"degpredict/internal/config"
	"degpredict/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Default()
	require.NoError(t, err)
	dir := t.TempDir()
	cfg.Paths.DataDir = dir
	cfg.Storage.Driver = "memory"
	cfg.Ledger.Path = filepath.Join(dir, "ledger.db")
	return cfg
}

func TestNew_WiresServices(t *testing.T) {
	cfg := testConfig(t)
	c, err := New(context.Background(), cfg, zap.NewNop(), "test")
	require.NoError(t, err)
	defer c.Shutdown()

	assert.Equal(t, storage.ProviderMemory, c.Store.Provider())
	assert.NotNil(t, c.Ledger)
	assert.NotNil(t, c.Pipeline)
	assert.NotNil(t, c.Groups)
	assert.Same(t, c.Store, c.Runner.Store())
}

func TestNew_LedgerDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Ledger.Enabled = false
	c, err := New(context.Background(), cfg, nil, "test")
	require.NoError(t, err)
	assert.Nil(t, c.Ledger)
	assert.NoError(t, c.Shutdown())
}

func TestFingerprint(t *testing.T) {
	cfg := testConfig(t)
	a, err := Fingerprint(cfg, "v1")
	require.NoError(t, err)
	b, err := Fingerprint(cfg, "v1")
	require.NoError(t, err)
	assert.Equal(t, a, b, "same inputs, same fingerprint")
	assert.True(t, a.InputDigest.IsEmpty())

	cfg.Analysis.Log2FC = 1
	c, err := Fingerprint(cfg, "v1")
	require.NoError(t, err)
	assert.NotEqual(t, a.ConfigHash, c.ConfigHash)

	d, err := Fingerprint(cfg, "v2")
	require.NoError(t, err)
	assert.Equal(t, c.ConfigHash, d.ConfigHash)
	assert.NotEqual(t, c.Value, d.Value)

	local := filepath.Join(t.TempDir(), "series.txt")
	require.NoError(t, os.WriteFile(local, []byte("matrix"), 0644))
	cfg.Source.LocalFile = local
	e, err := Fingerprint(cfg, "v2")
	require.NoError(t, err)
	assert.False(t, e.InputDigest.IsEmpty())

	cfg.Source.LocalFile = filepath.Join(t.TempDir(), "absent.txt")
	f, err := Fingerprint(cfg, "v2")
	require.NoError(t, err)
	assert.True(t, f.InputDigest.IsEmpty())
}

func TestNew_StaleLocalFileLeftToStageOne(t *testing.T) {
	cfg := testConfig(t)
	cfg.Source.LocalFile = filepath.Join(t.TempDir(), "moved.txt")
	c, err := New(context.Background(), cfg, zap.NewNop(), "test")
	require.NoError(t, err)
	defer c.Shutdown()

	result, err := c.Pipeline.Run(context.Background(), stage.Acquire)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stage 1")
	require.Len(t, result.Results, 1)
	assert.False(t, result.Results[0].Success)
}
