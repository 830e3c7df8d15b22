package httpserver

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// dashboardEvents is the dashboard's live channel. The session receives the
// initial_state snapshot before it joins the broadcast set.
func (s *Server) dashboardEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	sess := newSSESession("dashboard-" + uuid.NewString())

	if err := s.orch.AttachDashboard(r.Context(), sess); err != nil {
		http.Error(w, "failed to build initial state", http.StatusInternalServerError)
		return
	}
	defer s.orch.DetachDashboard(sess.ID())

	writeSSEHeaders(w)
	flusher.Flush()

	sess.serve(w, r, flusher)
}

// workerEvents is the hub-to-worker leg of the worker's duplex channel.
func (s *Server) workerEvents(w http.ResponseWriter, r *http.Request) {
	workerID := r.URL.Query().Get("worker_id")
	if workerID == "" {
		http.Error(w, "missing worker_id", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	sess := newSSESession(workerID)
	s.orch.AttachWorker(r.Context(), workerID, sess)
	// The request context is gone once the stream ends; the disconnect
	// bookkeeping still has to reach the store.
	defer s.orch.DetachWorker(context.Background(), workerID, sess)

	writeSSEHeaders(w)
	flusher.Flush()

	sess.serve(w, r, flusher)
}

func (s *Server) registerEventRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /events", s.dashboardEvents)
	mux.HandleFunc("GET /worker/events", s.workerEvents)
}
