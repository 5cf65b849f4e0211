// Package logging builds the zap loggers used by the CLI and the HTTP server.
// Logs always go to stderr; stdout is reserved for the balances CSV.
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

type Config struct {
	Level  string `json:"level" yaml:"level"`   // debug, info, warn, error
	Format string `json:"format" yaml:"format"` // json or console
}

// New creates a structured logger. An empty level means info, an empty
// format means json.
func New(cfg Config) (*zap.Logger, error) {
	level, err := resolveLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	var base zap.Config
	switch cfg.Format {
	case "", FormatJSON:
		base = zap.NewProductionConfig()
		base.Encoding = FormatJSON
	case FormatConsole:
		base = zap.NewDevelopmentConfig()
		base.Encoding = FormatConsole
	default:
		return nil, fmt.Errorf("invalid log format %q", cfg.Format)
	}

	base.Level = level
	base.DisableStacktrace = true
	base.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	base.OutputPaths = []string{"stderr"}
	base.ErrorOutputPaths = []string{"stderr"}

	logger, err := base.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger, nil
}

func resolveLevel(level string) (zap.AtomicLevel, error) {
	if strings.TrimSpace(level) == "" {
		return zap.NewAtomicLevelAt(zapcore.InfoLevel), nil
	}
	var parsed zapcore.Level
	if err := parsed.Set(level); err != nil {
		return zap.AtomicLevel{}, fmt.Errorf("invalid level %q: %w", level, err)
	}
	return zap.NewAtomicLevelAt(parsed), nil
}
