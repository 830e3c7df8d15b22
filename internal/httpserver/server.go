package httpserver

import (
	"net/http"

	"github.com/aoi0913/fleetwatch/internal/directory"
	"github.com/aoi0913/fleetwatch/internal/orchestrator"
	"github.com/aoi0913/fleetwatch/internal/resource"
	"github.com/aoi0913/fleetwatch/internal/session"
	"github.com/aoi0913/fleetwatch/internal/stats"
	"github.com/aoi0913/fleetwatch/internal/telemetry"
)

type Server struct {
	orch        *orchestrator.Orchestrator
	registry    *session.Registry
	directory   directory.Repository
	resources   *resource.Tracker
	metricsRepo telemetry.Repository
	stats       *stats.Collector
}

func NewServer(
	orch *orchestrator.Orchestrator,
	registry *session.Registry,
	repo directory.Repository,
	resources *resource.Tracker,
	metricsRepo telemetry.Repository,
	collector *stats.Collector,
) *Server {
	return &Server{
		orch:        orch,
		registry:    registry,
		directory:   repo,
		resources:   resources,
		metricsRepo: metricsRepo,
		stats:       collector,
	}
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	s.registerEventRoutes(mux)
	s.registerWorkerRoutes(mux)
	s.registerResourceRoutes(mux)
	s.registerAPIRoutes(mux)
	mux.Handle("GET /metrics", s.stats.Handler())
}
