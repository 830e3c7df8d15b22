package httpserver

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/aoi0913/fleetwatch/internal/resource"
)

// resourcesHealth ingests health reports from resource monitors. The body is
// keyed by resource type, each holding named resource payloads.
func (s *Server) resourcesHealth(w http.ResponseWriter, r *http.Request) {
	var body map[string]map[string]resource.Payload
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if len(body) == 0 {
		http.Error(w, "empty report", http.StatusBadRequest)
		return
	}

	received := 0
	for resourceType, resources := range body {
		if err := s.resources.Ingest(r.Context(), resourceType, resources); err != nil {
			http.Error(w, "failed to store resource health", http.StatusInternalServerError)
			return
		}
		received += len(resources)
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":   "ok",
		"received": received,
	})
}

func (s *Server) resourcesCurrent(w http.ResponseWriter, r *http.Request) {
	resources, summary := s.resources.Current()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"resources": resources,
		"summary":   summary,
		"timestamp": time.Now(),
	})
}

func (s *Server) registerResourceRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /resources/health", s.resourcesHealth)
	mux.HandleFunc("GET /resources/health/current", s.resourcesCurrent)
}
