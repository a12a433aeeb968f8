// internal/logging/integration_test.go
package logging

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// TestIntegration_FullLoggingPipeline drives NewLogger's real config →
// dual-core → redacting-encoder → sampled-core wiring through the
// *zap.Logger every caller actually gets back (via Underlying()),
// exactly as cmd/indexmanagerctl uses it.
func TestIntegration_FullLoggingPipeline(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Level = TraceLevel
	cfg.Format = "json"
	cfg.Output.Stdout = true
	cfg.Output.OTEL = false
	cfg.Sampling.Enabled = false // disable for predictable assertions

	logger, err := NewLogger(cfg, nil)
	require.NoError(t, err)
	defer func() { _ = logger.Sync() }()

	z := logger.Underlying()
	z.Debug("debug message", zap.String("cache", "hit"))
	z.Info("info message", zap.Duration("duration", 45*time.Millisecond))
	z.Warn("warn message", zap.Int("retry_attempt", 2))
	z.Error("error message", zap.Error(fmt.Errorf("test error")))

	// Secret redaction runs at the encoder layer regardless of level.
	z.Info("config loaded", zap.String("password", "super-secret"))

	child := z.With(zap.String("component", "grpc"))
	child.Info("child log")

	named := z.Named("subsystem")
	named.Info("named log")
}

func TestIntegration_SamplingDropsExcessInfoLogs(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Output.Stdout = true
	cfg.Output.OTEL = false
	cfg.Sampling.Enabled = true
	cfg.Sampling.Levels[zapcore.InfoLevel] = LevelSamplingConfig{Initial: 1, Thereafter: 0}

	logger, err := NewLogger(cfg, nil)
	require.NoError(t, err)
	defer func() { _ = logger.Sync() }()

	// Exercises the sampled path end to end; newSampledCore itself is
	// unit-tested in sampling_test.go, this just confirms NewLogger
	// wires it in without panicking under repeated calls.
	for i := 0; i < 20; i++ {
		logger.Underlying().Info("repeated message")
	}
}
