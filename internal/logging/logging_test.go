package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger, closer, err := New(Options{Level: "warn", Output: &buf, Prefix: "test"})
	require.NoError(t, err)
	defer closer.Close()

	logger.Info("hidden")
	logger.Warn("shown", "count", 2)

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown")
	assert.Contains(t, out, "test")
}

func TestNew_InvalidLevel(t *testing.T) {
	_, _, err := New(Options{Level: "loud"})
	assert.Error(t, err)
}

func TestNew_RotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "gtdsync.log")
	logger, closer, err := New(Options{File: path, MaxSizeMB: 1})
	require.NoError(t, err)

	logger.Info("sync completed", "uploaded", true)
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "sync completed")
	assert.Contains(t, string(data), "uploaded=true")
}

func TestOrDefault(t *testing.T) {
	logger, _, err := New(Options{})
	require.NoError(t, err)
	assert.Same(t, logger, OrDefault(logger, "x"))
	assert.NotNil(t, OrDefault(nil, "x"))
}
