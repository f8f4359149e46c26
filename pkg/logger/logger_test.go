package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestInitRejectsUnknownLevel(t *testing.T) {
	assert.Error(t, Init("loud", "json", "stdout"))
}

func TestInitWritesJSONToRotatingFile(t *testing.T) {
	defer func() { Log = zap.NewNop() }()

	path := filepath.Join(t.TempDir(), "logs", "app.log")
	require.NoError(t, Init("info", "json", path, WithRotation(1, 1), WithService("test")))

	Info("CSV loaded", zap.Int("rows", 3))
	Debug("hidden")
	Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], `"message":"CSV loaded"`)
	assert.Contains(t, lines[0], `"service":"test"`)
	assert.Contains(t, lines[0], `"rows":3`)
}

func TestWithAddsFields(t *testing.T) {
	defer func() { Log = zap.NewNop() }()

	path := filepath.Join(t.TempDir(), "app.log")
	require.NoError(t, Init("debug", "console", path))
	With(zap.String("run_id", "abc")).Warn("Pipeline failed")
	Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "run_id")
	assert.Contains(t, string(data), "Pipeline failed")
}
