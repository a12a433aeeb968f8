// Package logging wraps Zap with:
//   - A custom Trace level (-2, below Debug)
//   - Dual output (stdout + optional OpenTelemetry)
//   - Defense-in-depth secret redaction at the encoder layer
//   - Level-aware sampling (errors never sampled)
//
// # Usage
//
//	cfg := logging.NewDefaultConfig()
//	cfg.Level, _ = logging.LevelFromString("debug")
//	logger, err := logging.NewLogger(cfg, otelProvider)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer logger.Sync()
//	zap := logger.Underlying()
//
// # Secret Redaction
//
// Configured field names and regex patterns are redacted by
// RedactingEncoder in the stdout output, both in fields attached with
// With and in fields passed to each log call. The OTEL output does not
// pass through RedactingEncoder.
//
// # Sampling
//
// Sampling prevents log floods. One sampler covers every level below
// Error, using the Initial/Thereafter pair configured for the Info level
// (by default: first 100 per tick, then 1 every 10); the entries for
// other levels in SamplingConfig.Levels are not consulted. Error and
// above are never sampled.
//
// Disable for debugging: cfg.Sampling.Enabled = false.
package logging
