package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"packetwatch/internal/config"
	"packetwatch/internal/daemon"
	"packetwatch/internal/logging"
	"packetwatch/internal/packet"
	"packetwatch/internal/processor"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, _, _, err := config.Load("")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}

	store, err := packet.Open(cfg)
	if err != nil {
		logger.Error("open packet store", logging.Error(err))
		return
	}

	d, err := daemon.New(cfg, store, logger, processor.NewRegistry())
	if err != nil {
		logger.Error("create daemon", logging.Error(err))
		_ = store.Close()
		return
	}
	defer d.Close()

	if err := d.Start(ctx); err != nil {
		logger.Error("daemon start", logging.Error(err))
		return
	}

	<-ctx.Done()
	logger.Info("packetwatchd shutting down")
}
