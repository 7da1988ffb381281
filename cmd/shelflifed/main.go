package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"shelflife/internal/config"
	"shelflife/internal/embedding"
	"shelflife/internal/logging"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, _, _, err := config.Load("")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		log.Fatalf("ensure directories: %v", err)
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}

	d, err := bootstrap(ctx, cfg, logger, embedding.OpenBackbone)
	if err != nil {
		logger.Error("start shelflifed", logging.Error(err))
		log.Fatalf("start shelflifed: %v", err)
	}
	defer d.Close()

	if err := d.watcher.Run(ctx); err != nil {
		logger.Error("device watch", logging.Error(err))
		d.Close()
		log.Fatalf("device watch: %v", err)
	}
	logger.Info("shelflifed shutting down")
}
