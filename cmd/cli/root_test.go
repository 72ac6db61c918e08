package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandTree(t *testing.T) {
	root := rootCommand()
	for _, path := range [][]string{
		{"track", "add"}, {"track", "list"}, {"track", "delete"},
		{"station", "add"}, {"station", "list"},
		{"identify"}, {"monitor"}, {"detections"},
	} {
		cmd, _, err := root.Find(path)
		require.NoError(t, err, path)
		assert.Equal(t, path[len(path)-1], cmd.Name())
	}
	assert.NotNil(t, root.PersistentFlags().Lookup("config"))
}

func TestTrackAddRequiresFile(t *testing.T) {
	root := rootCommand()
	root.SetArgs([]string{"track", "add"})
	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg")
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "3:05", formatDuration(185_000))
	assert.Equal(t, "0:00", formatDuration(0))
	assert.Equal(t, "-", orDash(""))
}
