package httpserver

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aoi0913/fleetwatch/internal/directory"
	"github.com/aoi0913/fleetwatch/internal/healthcheck"
	"github.com/aoi0913/fleetwatch/internal/message"
	"github.com/aoi0913/fleetwatch/internal/orchestrator"
	"github.com/aoi0913/fleetwatch/internal/resource"
	"github.com/aoi0913/fleetwatch/internal/session"
	"github.com/aoi0913/fleetwatch/internal/telemetry"
)

type memDirectory struct {
	mu      sync.Mutex
	records map[string]*directory.WorkerState
}

func newMemDirectory() *memDirectory {
	return &memDirectory{records: make(map[string]*directory.WorkerState)}
}

func (d *memDirectory) Register(ctx context.Context, w *directory.WorkerState) error {
	cp := *w
	d.mu.Lock()
	d.records[w.WorkerID] = &cp
	d.mu.Unlock()
	return nil
}

func (d *memDirectory) Deregister(ctx context.Context, id string) error {
	d.mu.Lock()
	delete(d.records, id)
	d.mu.Unlock()
	return nil
}

func (d *memDirectory) Get(ctx context.Context, id string) (*directory.WorkerState, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	w, ok := d.records[id]
	if !ok {
		return nil, nil
	}
	cp := *w
	return &cp, nil
}

func (d *memDirectory) ListAll(ctx context.Context) ([]*directory.WorkerState, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*directory.WorkerState, 0, len(d.records))
	for _, w := range d.records {
		cp := *w
		out = append(out, &cp)
	}
	return out, nil
}

func (d *memDirectory) UpdateStatus(ctx context.Context, id string, status directory.Status, heartbeat time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if w, ok := d.records[id]; ok {
		w.Status = status
		if !heartbeat.IsZero() {
			w.LastHeartbeat = heartbeat
		}
	}
	return nil
}

func (d *memDirectory) SetConnection(ctx context.Context, id, sessionID string, connected bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if w, ok := d.records[id]; ok {
		w.Connected = connected
		w.SessionID = sessionID
		if !connected {
			w.Status = directory.StatusUnknown
		}
	}
	return nil
}

type memMetricsRepo struct {
	mu      sync.Mutex
	history map[string][]*telemetry.Snapshot
}

func (r *memMetricsRepo) Save(ctx context.Context, s *telemetry.Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.history == nil {
		r.history = make(map[string][]*telemetry.Snapshot)
	}
	r.history[s.WorkerID] = append([]*telemetry.Snapshot{s}, r.history[s.WorkerID]...)
	return nil
}

func (r *memMetricsRepo) Current(ctx context.Context, workerID string) (*telemetry.Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h := r.history[workerID]
	if len(h) == 0 {
		return nil, nil
	}
	return h[0], nil
}

func (r *memMetricsRepo) History(ctx context.Context, workerID string, limit int64) ([]*telemetry.Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h := r.history[workerID]
	if limit > 0 && int64(len(h)) > limit {
		h = h[:limit]
	}
	return h, nil
}

type memResourceRepo struct{}

func (memResourceRepo) Save(ctx context.Context, resourceType string, resources map[string]resource.Payload, at time.Time) error {
	return nil
}

func (memResourceRepo) LoadCurrent(ctx context.Context) (map[string]map[string]resource.Payload, error) {
	return nil, nil
}

func newTestServer(t *testing.T) (*httptest.Server, *memDirectory) {
	t.Helper()

	dir := newMemDirectory()
	metricsRepo := &memMetricsRepo{}
	registry := session.NewRegistry(nil)

	coordinator := healthcheck.NewCoordinator(dir, registry, time.Hour, time.Second, nil)
	aggregator := telemetry.NewAggregator(metricsRepo, registry, time.Hour)
	tracker := resource.NewTracker(memResourceRepo{}, registry, 100)
	orch := orchestrator.New(registry, dir, coordinator, aggregator, tracker, nil, time.Second)

	mux := http.NewServeMux()
	NewServer(orch, registry, dir, tracker, metricsRepo, nil).RegisterRoutes(mux)

	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts, dir
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)

	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func TestWorkerRegisterThenList(t *testing.T) {
	ts, _ := newTestServer(t)

	env, err := message.New(message.TypeWorkerRegister, message.RegisterPayload{
		WorkerID: "w1",
		Name:     "worker-one",
		Endpoint: "http://w1:8081",
		Port:     8081,
	})
	require.NoError(t, err)

	resp := postJSON(t, ts.URL+"/worker/messages", env)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	var listing struct {
		Workers []*directory.WorkerState `json:"workers"`
	}
	resp, err = http.Get(ts.URL + "/api/workers")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeBody(t, resp, &listing)

	require.Len(t, listing.Workers, 1)
	assert.Equal(t, "w1", listing.Workers[0].WorkerID)
	assert.Equal(t, "worker-one", listing.Workers[0].Name)
}

func TestWorkerMessagesRejectsBadInput(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Post(ts.URL+"/worker/messages", "application/json", bytes.NewReader([]byte("{not json")))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = postJSON(t, ts.URL+"/worker/messages", message.Envelope{Payload: []byte(`{}`)})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "envelope without a type must be rejected")
}

func TestResourceHealthRoundTrip(t *testing.T) {
	ts, _ := newTestServer(t)

	report := map[string]map[string]resource.Payload{
		"queues": {
			"jobs":   {"status": "healthy", "depth": 3.0},
			"events": {"status": "degraded"},
		},
	}

	var ack struct {
		Status   string `json:"status"`
		Received int    `json:"received"`
	}
	resp := postJSON(t, ts.URL+"/resources/health", report)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeBody(t, resp, &ack)
	assert.Equal(t, "ok", ack.Status)
	assert.Equal(t, 2, ack.Received)

	var current struct {
		Resources map[string]map[string]resource.Payload `json:"resources"`
		Summary   struct {
			Total     int `json:"total"`
			Healthy   int `json:"healthy"`
			Unhealthy int `json:"unhealthy"`
		} `json:"summary"`
	}
	resp, err := http.Get(ts.URL + "/resources/health/current")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeBody(t, resp, &current)

	assert.Equal(t, 2, current.Summary.Total)
	assert.Equal(t, 1, current.Summary.Healthy)
	assert.Equal(t, 1, current.Summary.Unhealthy)
	assert.Equal(t, "healthy", current.Resources["queues"]["jobs"]["status"])
}

func TestResourceHealthRejectsEmptyReport(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/resources/health", map[string]map[string]resource.Payload{})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRestartNotConnected(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Post(ts.URL+"/api/workers/ghost/restart", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestWorkerMetricsHistory(t *testing.T) {
	ts, _ := newTestServer(t)

	env, err := message.New(message.TypeWorkerRegister, message.RegisterPayload{WorkerID: "w1", Endpoint: "http://w1:8081"})
	require.NoError(t, err)
	resp := postJSON(t, ts.URL+"/worker/messages", env)
	resp.Body.Close()

	for i := 1; i <= 3; i++ {
		env, err := message.New(message.TypeMetricsPush, telemetry.Snapshot{
			WorkerID:       "w1",
			TotalProcessed: int64(i * 10),
		})
		require.NoError(t, err)
		resp := postJSON(t, ts.URL+"/worker/messages", env)
		resp.Body.Close()
		require.Equal(t, http.StatusNoContent, resp.StatusCode)
	}

	var out struct {
		WorkerID string                `json:"worker_id"`
		History  []*telemetry.Snapshot `json:"history"`
	}
	resp, err = http.Get(ts.URL + "/api/workers/w1/metrics?limit=2")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeBody(t, resp, &out)

	assert.Equal(t, "w1", out.WorkerID)
	require.Len(t, out.History, 2)
	assert.Equal(t, int64(30), out.History[0].TotalProcessed, "history must be newest first")
}

func TestLiveness(t *testing.T) {
	ts, dir := newTestServer(t)

	require.NoError(t, dir.Register(context.Background(), &directory.WorkerState{WorkerID: "w1"}))

	var status struct {
		Status  string `json:"status"`
		Service string `json:"service"`
		Workers struct {
			Total     int `json:"total"`
			Connected int `json:"connected"`
		} `json:"workers"`
	}
	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeBody(t, resp, &status)

	assert.Equal(t, "healthy", status.Status)
	assert.Equal(t, "fleetwatch-hub", status.Service)
	assert.Equal(t, 1, status.Workers.Total)
	assert.Equal(t, 0, status.Workers.Connected)
}

func TestWorkerEventsRequiresID(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/worker/events")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDashboardEventsStreamsInitialState(t *testing.T) {
	ts, _ := newTestServer(t)

	env, err := message.New(message.TypeWorkerRegister, message.RegisterPayload{WorkerID: "w1", Endpoint: "http://w1:8081"})
	require.NoError(t, err)
	resp := postJSON(t, ts.URL+"/worker/messages", env)
	resp.Body.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/events", nil)
	require.NoError(t, err)

	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// The first frame on the stream is the initial_state event.
	line, err := bufio.NewReader(resp.Body).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("event: %s\n", message.TypeInitialState), line)
}
