package httpserver

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"
)

func (s *Server) listWorkers(w http.ResponseWriter, r *http.Request) {
	workers, err := s.directory.ListAll(r.Context())
	if err != nil {
		http.Error(w, "failed to list workers", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"workers":   workers,
		"timestamp": time.Now(),
	})
}

func (s *Server) workerMetricsHistory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		http.Error(w, "missing id", http.StatusBadRequest)
		return
	}

	var limit int64
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			limit = n
		}
	}

	history, err := s.metricsRepo.History(r.Context(), id, limit)
	if err != nil {
		http.Error(w, "failed to load metrics history", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"worker_id": id,
		"history":   history,
	})
}

func (s *Server) restartWorker(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		http.Error(w, "missing id", http.StatusBadRequest)
		return
	}

	if !s.orch.RestartWorker(id) {
		http.Error(w, "worker not connected", http.StatusConflict)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":    "sent",
		"worker_id": id,
	})
}

// liveness reports the hub's own health plus fleet counts.
func (s *Server) liveness(w http.ResponseWriter, r *http.Request) {
	total := 0
	if workers, err := s.directory.ListAll(r.Context()); err == nil {
		total = len(workers)
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":  "healthy",
		"service": "fleetwatch-hub",
		"workers": map[string]int{
			"total":     total,
			"connected": s.registry.WorkerCount(),
		},
		"dashboards":     s.registry.DashboardCount(),
		"pending_checks": s.orch.PendingChecks(),
		"timestamp":      time.Now(),
	})
}

func (s *Server) registerAPIRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/workers", s.listWorkers)
	mux.HandleFunc("GET /api/workers/{id}/metrics", s.workerMetricsHistory)
	mux.HandleFunc("POST /api/workers/{id}/restart", s.restartWorker)
	mux.HandleFunc("GET /health", s.liveness)
}
