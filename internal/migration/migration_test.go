package migration

import (
	"context"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func TestRun_Idempotent(t *testing.T) {
	ctx := context.Background()
	db, err := sqlx.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	defer db.Close()

	r := NewRunner()
	require.NoError(t, r.Run(ctx, db))
	require.NoError(t, r.Run(ctx, db), "second run is a no-op")

	var tables []string
	require.NoError(t, db.SelectContext(ctx, &tables,
		`SELECT name FROM sqlite_master WHERE type = 'table' ORDER BY name`))
	assert.Equal(t, []string{"artifacts", "runs", "schema_migrations", "stage_runs"}, tables)

	var versions []string
	require.NoError(t, db.SelectContext(ctx, &versions, `SELECT version FROM schema_migrations`))
	assert.Equal(t, []string{r.Version()}, versions)
}
