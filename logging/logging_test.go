package logging

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lautenbacher.net/sdcart/config"
)

type failingWriter struct{}

func (fw *failingWriter) Write(p []byte) (n int, err error) {
	return 0, errors.New("write failed")
}

func TestBufferedUntilSetOutput(t *testing.T) {
	require.NoError(t, Init(config.LoggingConfig{Level: "DEBUG", Format: "text"}, true))

	slog.Info("before the pane exists")

	var pane bytes.Buffer
	require.NoError(t, SetOutput(&pane))
	assert.Contains(t, pane.String(), "before the pane exists", "held back records are flushed")

	slog.Info("live")
	assert.Contains(t, pane.String(), "live")

	BufferOutput()
	slog.Info("held back again")
	assert.NotContains(t, pane.String(), "held back again")

	require.NoError(t, Close())
}

func TestLevelFilter(t *testing.T) {
	require.NoError(t, Init(config.LoggingConfig{Level: "warn", Format: "text"}, true))

	var pane bytes.Buffer
	require.NoError(t, SetOutput(&pane))
	slog.Info("too chatty")
	slog.Warn("worth seeing")

	assert.NotContains(t, pane.String(), "too chatty")
	assert.Contains(t, pane.String(), "worth seeing")
	require.NoError(t, Close())
}

func TestFileLogging(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "sdcart.log")
	require.NoError(t, Init(config.LoggingConfig{Level: "INFO", Format: "json", File: logFile}, false))

	Component("sdcard").Info("card ready", "blocks", 2048)
	require.NoError(t, Close())

	content, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(content), `"msg":"card ready"`)
	assert.Contains(t, string(content), `"component":"sdcard"`)
	assert.Contains(t, string(content), `"blocks":2048`)
}

func TestFileLogging_BadPath(t *testing.T) {
	err := Init(config.LoggingConfig{File: filepath.Join(t.TempDir(), "missing", "x.log")}, false)
	assert.ErrorContains(t, err, "failed to open log file")
}

func TestCloseFlushesToStderr(t *testing.T) {
	require.NoError(t, Init(config.LoggingConfig{Level: "DEBUG"}, true))
	slog.Info("shutdown record")

	oldStderr := os.Stderr
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stderr = w

	done := make(chan string)
	go func() {
		out, _ := io.ReadAll(r)
		done <- string(out)
	}()

	closeErr := Close()
	w.Close()
	os.Stderr = oldStderr

	require.NoError(t, closeErr)
	assert.Contains(t, <-done, "shutdown record")
}

func TestWriteErrorPropagates(t *testing.T) {
	w := &teeWriter{target: &failingWriter{}}
	n, err := w.Write([]byte("x"))
	assert.Equal(t, 1, n)
	assert.EqualError(t, err, "write failed")
}

func TestFlushErrorKeepsBuffer(t *testing.T) {
	require.NoError(t, Init(config.LoggingConfig{}, true))
	slog.Info("kept")

	assert.ErrorContains(t, SetOutput(&failingWriter{}), "failed to flush buffered log")

	var pane bytes.Buffer
	require.NoError(t, SetOutput(&pane))
	assert.Contains(t, pane.String(), "kept")
	require.NoError(t, Close())
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("WARN"))
	assert.Equal(t, slog.LevelError, ParseLevel("Error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
}
