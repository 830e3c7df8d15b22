package httpserver

import (
	"encoding/json"
	"net/http"

	"github.com/aoi0913/fleetwatch/internal/message"
)

// workerMessages is the worker-to-hub leg: one JSON envelope per request,
// routed by type through the orchestrator.
func (s *Server) workerMessages(w http.ResponseWriter, r *http.Request) {
	var env message.Envelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if env.Type == "" {
		http.Error(w, "missing type", http.StatusBadRequest)
		return
	}

	s.orch.HandleWorkerMessage(r.Context(), env)

	w.WriteHeader(http.StatusNoContent)
}

// dashboardMessages carries dashboard-issued commands.
func (s *Server) dashboardMessages(w http.ResponseWriter, r *http.Request) {
	var env message.Envelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if env.Type == "" {
		http.Error(w, "missing type", http.StatusBadRequest)
		return
	}

	s.orch.HandleDashboardMessage(r.Context(), env)

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) registerWorkerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /worker/messages", s.workerMessages)
	mux.HandleFunc("POST /dashboard/messages", s.dashboardMessages)
}
