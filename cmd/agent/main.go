package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/aoi0913/fleetwatch/internal/app/agent"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hubURL := os.Getenv("HUB_URL")
	if hubURL == "" {
		log.Fatalf("missing HUB_URL")
	}

	cfg := agent.Config{
		HubURL:   strings.TrimRight(hubURL, "/"),
		WorkerID: os.Getenv("WORKER_ID"),
		Name:     os.Getenv("WORKER_NAME"),
		Endpoint: os.Getenv("WORKER_ENDPOINT"),
		Version:  os.Getenv("WORKER_VERSION"),
	}

	if v := os.Getenv("WORKER_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Port = p
		}
	}
	if v := os.Getenv("WORKER_CAPABILITIES"); v != "" {
		cfg.Capabilities = strings.Split(v, ",")
	}
	if v := os.Getenv("METRICS_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.MetricsInterval = d
		}
	}

	if err := agent.Run(ctx, cfg); err != nil && ctx.Err() == nil {
		log.Fatalf("[ERROR] agent exited with error: %v", err)
	}

	log.Println("[INFO] agent stopped")
}
