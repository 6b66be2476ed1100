package utils

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
	assert.Equal(t, slog.LevelInfo, ParseLevel("nonsense"))
}

func TestFanoutHandler_RespectsLevels(t *testing.T) {
	var debugBuf, warnBuf bytes.Buffer
	h := NewFanoutHandler(
		slog.NewTextHandler(&debugBuf, &slog.HandlerOptions{Level: slog.LevelDebug}),
		slog.NewTextHandler(&warnBuf, &slog.HandlerOptions{Level: slog.LevelWarn}),
	)
	logger := slog.New(h).With("game", "valheim")

	logger.Info("cycle done")
	logger.Warn("upload failed")

	assert.Contains(t, debugBuf.String(), "cycle done")
	assert.Contains(t, debugBuf.String(), "upload failed")
	assert.NotContains(t, warnBuf.String(), "cycle done")
	assert.Contains(t, warnBuf.String(), "upload failed")
	assert.Contains(t, warnBuf.String(), "game=valheim")
}

func TestSetupLogger_WritesFile(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	logFile := filepath.Join(t.TempDir(), "logs", "sender.log")
	closer, err := SetupLogger(LogOptions{Level: "info", File: logFile, NoColor: true})
	require.NoError(t, err)

	slog.Info("hello from test", "k", "v")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello from test")
	assert.Contains(t, string(data), "k=v")
}
