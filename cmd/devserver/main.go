// Package main provides the all-in-one development gateway. It uses the
// in-memory credential store and enables both transports, so no database is
// required.
package main

import (
	"context"
	"flag"
	"log"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/cory-johannsen/nightraid/internal/app"
	"github.com/cory-johannsen/nightraid/internal/config"
	"github.com/cory-johannsen/nightraid/internal/observability"
)

func main() {
	name := flag.String("name", "nightRAID", "server name shown in the welcome banner")
	telnetPort := flag.Int("telnet-port", 4000, "Telnet listen port")
	wsPort := flag.Int("ws-port", 7331, "WebSocket listen port")
	texts := flag.String("texts", "", "optional YAML file overriding client-facing texts")
	level := flag.String("log-level", "debug", "log level: debug, info, warn, error")
	flag.Parse()

	v := viper.New()
	config.SetDefaults(v)
	v.Set("server.name", *name)
	v.Set("server.store", config.StoreMemory)
	v.Set("server.texts_file", *texts)
	v.Set("telnet.enabled", true)
	v.Set("telnet.host", "127.0.0.1")
	v.Set("telnet.port", *telnetPort)
	v.Set("websocket.enabled", true)
	v.Set("websocket.port", *wsPort)
	v.Set("logging.level", *level)
	v.Set("logging.format", "console")

	cfg, err := config.LoadFromViper(v)
	if err != nil {
		log.Fatalf("building config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging, cfg.Server.Name)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	ctx := context.Background()
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("building gateway", zap.Error(err))
	}
	if err := a.Run(ctx); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}
