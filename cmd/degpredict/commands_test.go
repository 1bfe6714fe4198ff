package main

import (
	"testing"

	"degpredict/domain/stage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStages(t *testing.T) {
	got, err := parseStages([]string{"report", "2", "differential", "4"})
	require.NoError(t, err)
	assert.Equal(t, []stage.Number{stage.Differential, stage.Predict, stage.Report}, got)

	got, err = parseStages(nil)
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = parseStages([]string{"7"})
	assert.Error(t, err)
}

func TestFormatCounts(t *testing.T) {
	assert.Equal(t, "down=1 genes=3 up=2", formatCounts(map[string]int{"up": 2, "genes": 3, "down": 1}))
}

func TestRootCommandTree(t *testing.T) {
	root := newRootCmd()
	for _, name := range []string{"run", "groups", "rules", "history", "version"} {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, name, cmd.Name())
	}
	assert.NotNil(t, root.PersistentFlags().Lookup("config"))
}
