package hub

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/aoi0913/fleetwatch/internal/config"
	"github.com/aoi0913/fleetwatch/internal/directory"
	"github.com/aoi0913/fleetwatch/internal/healthcheck"
	"github.com/aoi0913/fleetwatch/internal/httpserver"
	"github.com/aoi0913/fleetwatch/internal/orchestrator"
	"github.com/aoi0913/fleetwatch/internal/redisclient"
	"github.com/aoi0913/fleetwatch/internal/resource"
	"github.com/aoi0913/fleetwatch/internal/session"
	"github.com/aoi0913/fleetwatch/internal/stats"
	"github.com/aoi0913/fleetwatch/internal/telemetry"
)

func Run(ctx context.Context, cfg config.Config) error {
	client := redisclient.New(cfg.Redis)
	defer client.Close()

	collector := stats.NewCollector()
	registry := session.NewRegistry(collector)

	dirRepo := directory.NewRedisRepository(client)
	metricsRepo := telemetry.NewRedisRepository(client, cfg.HistoryLimit)
	resourceRepo := resource.NewRedisRepository(client, cfg.HistoryLimit)

	aggregator := telemetry.NewAggregator(metricsRepo, registry, cfg.FlushInterval)
	tracker := resource.NewTracker(resourceRepo, registry, cfg.HistoryLimit)
	coordinator := healthcheck.NewCoordinator(dirRepo, registry, cfg.CheckInterval, cfg.CheckTimeout, collector)

	orch := orchestrator.New(registry, dirRepo, coordinator, aggregator, tracker, collector, cfg.RestartBackoff)

	if err := orch.Bootstrap(ctx); err != nil {
		log.Printf("[WARN] bootstrap from store failed, continuing with empty state: %v", err)
	}

	orch.Start(ctx)
	defer orch.Stop()

	server := httpserver.NewServer(orch, registry, dirRepo, tracker, metricsRepo, collector)

	mux := http.NewServeMux()
	server.RegisterRoutes(mux)

	s := &http.Server{
		Addr:           cfg.ListenAddr,
		Handler:        mux,
		ReadTimeout:    5 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	errCh := make(chan error, 1)

	go func() {
		log.Printf("[INFO] hub listening on %s", cfg.ListenAddr)
		if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Println("[INFO] shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := s.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil

	case err := <-errCh:
		return err
	}
}
