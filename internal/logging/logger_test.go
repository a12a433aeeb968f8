package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Output.OTEL = false // Skip OTEL for basic test

	logger, err := NewLogger(cfg, nil)
	require.NoError(t, err)
	require.NotNil(t, logger)

	assert.NotNil(t, logger.zap)
	assert.Equal(t, cfg, logger.config)
	assert.NotNil(t, logger.Underlying())
}

func TestNewLoggerRejectsInvalidConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Format = "xml"

	_, err := NewLogger(cfg, nil)
	assert.Error(t, err)
}

func TestLoggerSyncIgnoresStdoutSyncError(t *testing.T) {
	logger, err := NewLogger(NewDefaultConfig(), nil)
	require.NoError(t, err)

	// Stdout/stderr sync on Linux commonly returns ENOTTY/EINVAL; Sync
	// must swallow that rather than surface it as a caller-facing error.
	_ = logger.Sync()
}
