// Package main provides the nightRAID session gateway.
// It accepts Telnet and WebSocket clients and serves the text command protocol.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/nightraid/internal/app"
	"github.com/cory-johannsen/nightraid/internal/config"
	"github.com/cory-johannsen/nightraid/internal/observability"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging, cfg.Server.Name)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting gateway",
		zap.String("config", *configPath),
		zap.String("store", cfg.Server.Store),
	)

	ctx := context.Background()
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("building gateway", zap.Error(err))
	}
	logger.Info("gateway built", zap.Duration("startup", time.Since(start)))

	if err := a.Run(ctx); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}
