package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/aoi0913/fleetwatch/internal/app/hub"
	"github.com/aoi0913/fleetwatch/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(os.Getenv("HUB_CONFIG"))
	if err != nil {
		log.Fatalf("[ERROR] invalid configuration: %v", err)
	}

	if err := hub.Run(ctx, cfg); err != nil {
		log.Fatalf("[ERROR] hub exited with error: %v", err)
	}

	log.Println("[INFO] hub stopped")
}
