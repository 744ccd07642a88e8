package logging

import (
	"bytes"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"lautenbacher.net/regbus/config"
)

type failingWriter struct{}

func (fw *failingWriter) Write(p []byte) (n int, err error) {
	return 0, errors.New("write failed")
}

func TestHoldAndRelease(t *testing.T) {
	require.NoError(t, Init(config.LoggingConfig{Level: "DEBUG", Format: "text"}))
	Hold()

	slog.Info("Initial log")

	var pane bytes.Buffer
	require.NoError(t, Release(&pane))
	assert.Contains(t, pane.String(), "Initial log", "held output is flushed on release")

	slog.Info("Live log")
	assert.Contains(t, pane.String(), "Live log")

	Hold()
	slog.Info("Held log")
	assert.NotContains(t, pane.String(), "Held log")

	require.NoError(t, Release(&pane))
	assert.Contains(t, pane.String(), "Held log")
	require.NoError(t, Close())
}

func TestFileLoggingJSON(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "regbus.log")
	require.NoError(t, Init(config.LoggingConfig{Level: "INFO", Format: "json", File: logFile}))
	require.NoError(t, Release(&bytes.Buffer{}))

	slog.Info("spi transfer", "device", "imu")
	slog.Debug("filtered")
	require.NoError(t, Close())

	content, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(content), `"msg":"spi transfer"`)
	assert.Contains(t, string(content), `"device":"imu"`)
	assert.NotContains(t, string(content), "filtered")
}

func TestHeldOutputReachesFileOnce(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "regbus.log")
	require.NoError(t, Init(config.LoggingConfig{Level: "INFO", File: logFile}))
	Hold()

	slog.Warn("shutdown")
	require.NoError(t, Close())

	content, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Equal(t, 1, bytes.Count(content, []byte("shutdown")))
}

func TestWriteErrorPropagates(t *testing.T) {
	w := &holdWriter{target: &failingWriter{}}
	n, err := w.Write([]byte("x"))
	assert.Equal(t, 1, n)
	assert.EqualError(t, err, "write failed")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("WARN"))
	assert.Equal(t, slog.LevelError, ParseLevel("Error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("bogus"))
}
