package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"tidewatch/internal/config"
	"tidewatch/internal/logger"
	"tidewatch/internal/processor"
)

func main() {
	configPath := flag.String("config", os.Getenv("TIDEWATCH_CONFIG"), "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Init("info")
		logger.Logger.Fatal().Err(err).Str("config", *configPath).Msg("failed to load config")
	}
	logger.Init(cfg.LogLevel)
	log := logger.WithComponent("main")

	// wait for termination signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p := processor.New(cfg)
	if err := p.Run(ctx); err != nil {
		log.Error().Err(err).Msg("processor exited")
		stop()
		os.Exit(1)
	}
	log.Info().Msg("exited")
}
