// Package observability provides logging and metrics for the gateway.
package observability

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/cory-johannsen/nightraid/internal/config"
)

// NewLogger creates a structured logger from the given logging configuration.
// Every entry carries the server name under the "server" key.
//
// Precondition: cfg.Level must be one of "debug", "info", "warn", "error".
// Precondition: cfg.Format must be "json" or "console".
// Postcondition: Returns a configured zap.Logger or a non-nil error.
func NewLogger(cfg config.LoggingConfig, serverName string) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("parsing log level %q: %w", cfg.Level, err)
	}

	var zapCfg zap.Config
	switch cfg.Format {
	case "json":
		zapCfg = zap.NewProductionConfig()
	case "console":
		zapCfg = zap.NewDevelopmentConfig()
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	zapCfg.Level = zap.NewAtomicLevelAt(level)
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zapCfg.DisableStacktrace = level > zapcore.DebugLevel

	opts := []zap.Option{}
	if serverName != "" {
		opts = append(opts, zap.Fields(zap.String("server", serverName)))
	}

	logger, err := zapCfg.Build(opts...)
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	return logger, nil
}

// SessionLogger returns a child logger tagged with the session id and peer address.
func SessionLogger(base *zap.Logger, sessionID, remoteAddr string) *zap.Logger {
	return base.With(
		zap.String("session_id", sessionID),
		zap.String("remote_addr", remoteAddr),
	)
}
