// Package logging builds the process-wide zap logger.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config selects the logger's output shape.
type Config struct {
	Debug  bool
	Format string // "json" or "console"
}

// New builds a zap logger for the given config. Debug switches to the
// development preset with colored levels; the production preset samples
// high-volume logs.
func New(cfg Config) (*zap.Logger, error) {
	var base zap.Config
	if cfg.Debug {
		base = zap.NewDevelopmentConfig()
		base.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		base = zap.NewProductionConfig()
	}

	switch cfg.Format {
	case "", "json":
		base.Encoding = "json"
	case "console":
		base.Encoding = "console"
		base.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	base.EncoderConfig.TimeKey = "timestamp"
	base.EncoderConfig.EncodeTime = zapcore.RFC3339TimeEncoder

	return base.Build()
}
