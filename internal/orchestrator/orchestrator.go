// Package orchestrator routes inbound messages to the hub components and
// owns the lifecycle of the periodic loops.
package orchestrator

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/aoi0913/fleetwatch/internal/directory"
	"github.com/aoi0913/fleetwatch/internal/healthcheck"
	"github.com/aoi0913/fleetwatch/internal/message"
	"github.com/aoi0913/fleetwatch/internal/resource"
	"github.com/aoi0913/fleetwatch/internal/session"
	"github.com/aoi0913/fleetwatch/internal/stats"
	"github.com/aoi0913/fleetwatch/internal/task"
	"github.com/aoi0913/fleetwatch/internal/telemetry"
)

type initialState struct {
	Workers   []*directory.WorkerState              `json:"workers"`
	Resources map[string]map[string]resource.Payload `json:"resources,omitempty"`
	Summary   fleetSummary                          `json:"summary"`
	Timestamp time.Time                             `json:"timestamp"`
}

type fleetSummary struct {
	TotalWorkers     int `json:"total_workers"`
	ConnectedWorkers int `json:"connected_workers"`
	HealthyWorkers   int `json:"healthy_workers"`
}

type Orchestrator struct {
	registry  *session.Registry
	directory directory.Repository
	checks    *healthcheck.Coordinator
	metrics   *telemetry.Aggregator
	resources *resource.Tracker
	manager   *task.Manager
	stats     *stats.Collector
}

func New(
	registry *session.Registry,
	repo directory.Repository,
	checks *healthcheck.Coordinator,
	metrics *telemetry.Aggregator,
	resources *resource.Tracker,
	collector *stats.Collector,
	restartBackoff time.Duration,
) *Orchestrator {
	manager := task.NewManager(restartBackoff)
	manager.Add("health-checks", checks)
	manager.Add("metrics-flush", metrics)

	return &Orchestrator{
		registry:  registry,
		directory: repo,
		checks:    checks,
		metrics:   metrics,
		resources: resources,
		manager:   manager,
		stats:     collector,
	}
}

// Bootstrap rebuilds hub state from the store after a restart. No session
// survives a restart, so every stored worker is marked disconnected; the
// resource tracker reloads its current map.
func (o *Orchestrator) Bootstrap(ctx context.Context) error {
	workers, err := o.directory.ListAll(ctx)
	if err != nil {
		return err
	}

	for _, w := range workers {
		if !w.Connected && w.SessionID == "" {
			continue
		}
		if err := o.directory.SetConnection(ctx, w.WorkerID, "", false); err != nil {
			log.Printf("[WARN] bootstrap: failed to reset worker %s: %v", w.WorkerID, err)
		}
	}

	if err := o.resources.Load(ctx); err != nil {
		log.Printf("[WARN] bootstrap: failed to load resource health: %v", err)
	}

	log.Printf("[INFO] bootstrap complete: %d workers known, all marked disconnected", len(workers))
	return nil
}

// Start launches the health-check and metrics-flush loops under supervision.
func (o *Orchestrator) Start(ctx context.Context) {
	o.manager.Start(ctx)
}

func (o *Orchestrator) Stop() {
	o.manager.Stop()
}

// HandleWorkerMessage routes one inbound worker envelope by type. Unknown
// or malformed messages are logged and dropped; the connection stays open.
func (o *Orchestrator) HandleWorkerMessage(ctx context.Context, env message.Envelope) {
	switch env.Type {
	case message.TypeWorkerRegister:
		var p message.RegisterPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			o.drop(env.Type, err)
			return
		}
		if err := o.handleRegister(ctx, p); err != nil {
			log.Printf("[ERROR] register for worker %s failed: %v", p.WorkerID, err)
			return
		}

	case message.TypeWorkerDeregister:
		var p message.DeregisterPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			o.drop(env.Type, err)
			return
		}
		if err := o.handleDeregister(ctx, p.WorkerID); err != nil {
			log.Printf("[ERROR] deregister for worker %s failed: %v", p.WorkerID, err)
			return
		}

	case message.TypeHealthResponse:
		if err := o.checks.ResolveRaw(env.Payload); err != nil {
			o.drop(env.Type, err)
			return
		}

	case message.TypeMetricsPush:
		var snap telemetry.Snapshot
		if err := json.Unmarshal(env.Payload, &snap); err != nil {
			o.drop(env.Type, err)
			return
		}
		o.handleMetricsPush(ctx, &snap)

	default:
		o.stats.MessageDropped()
		log.Printf("[WARN] unknown worker message type %q dropped", env.Type)
		return
	}

	o.stats.MessageRouted(env.Type)
}

// HandleDashboardMessage routes one inbound dashboard envelope.
func (o *Orchestrator) HandleDashboardMessage(ctx context.Context, env message.Envelope) {
	switch env.Type {
	case message.TypeCommandRestart:
		var p message.RestartPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			o.drop(env.Type, err)
			return
		}
		o.RestartWorker(p.WorkerID)

	default:
		o.stats.MessageDropped()
		log.Printf("[WARN] unknown dashboard message type %q dropped", env.Type)
		return
	}

	o.stats.MessageRouted(env.Type)
}

// RestartWorker forwards a restart command to the worker's session.
func (o *Orchestrator) RestartWorker(workerID string) bool {
	env, err := message.New(message.TypeCommandRestart, message.RestartPayload{WorkerID: workerID})
	if err != nil {
		return false
	}
	if !o.registry.SendToWorker(workerID, env) {
		log.Printf("[WARN] restart command for worker %s undeliverable", workerID)
		return false
	}
	return true
}

func (o *Orchestrator) handleRegister(ctx context.Context, p message.RegisterPayload) error {
	if p.WorkerID == "" {
		o.stats.MessageDropped()
		log.Printf("[WARN] register without worker_id dropped")
		return nil
	}

	existing, err := o.directory.Get(ctx, p.WorkerID)
	if err != nil {
		return err
	}

	now := time.Now()
	state := &directory.WorkerState{
		WorkerID:     p.WorkerID,
		Name:         p.Name,
		Endpoint:     p.Endpoint,
		Port:         p.Port,
		Capabilities: p.Capabilities,
		Version:      p.Version,
		ConnectedAt:  now,
		Status:       directory.StatusUnknown,
	}
	if existing != nil {
		// Re-registration updates the record in place and keeps the last
		// observed health.
		state.Status = existing.Status
		state.LastHeartbeat = existing.LastHeartbeat
	}

	// Connected tracks the live session, which the worker opens before (or
	// shortly after) registering.
	if o.registry.HasWorker(p.WorkerID) {
		state.Connected = true
		state.SessionID = p.WorkerID
	}

	if err := o.directory.Register(ctx, state); err != nil {
		return err
	}

	log.Printf("[INFO] registered worker %s at %s:%d (new=%t)", p.WorkerID, p.Endpoint, p.Port, existing == nil)

	o.broadcast(message.TypeWorkerRegistered, message.RegisteredPayload{
		WorkerID:     p.WorkerID,
		Endpoint:     p.Endpoint,
		IsNew:        existing == nil,
		TotalWorkers: o.workerTotal(ctx),
	})
	return nil
}

func (o *Orchestrator) handleDeregister(ctx context.Context, workerID string) error {
	if workerID == "" {
		return nil
	}

	existing, err := o.directory.Get(ctx, workerID)
	if err != nil {
		return err
	}

	if err := o.directory.Deregister(ctx, workerID); err != nil {
		return err
	}
	o.registry.Remove(workerID)

	endpoint := ""
	if existing != nil {
		endpoint = existing.Endpoint
	}
	log.Printf("[INFO] deregistered worker %s", workerID)

	o.broadcast(message.TypeWorkerDeregistered, message.DeregisteredPayload{
		WorkerID:     workerID,
		Endpoint:     endpoint,
		TotalWorkers: o.workerTotal(ctx),
	})
	return nil
}

func (o *Orchestrator) handleMetricsPush(ctx context.Context, snap *telemetry.Snapshot) {
	w, err := o.directory.Get(ctx, snap.WorkerID)
	if err != nil {
		log.Printf("[ERROR] metrics push lookup for worker %s failed: %v", snap.WorkerID, err)
		return
	}
	if w == nil {
		o.stats.MessageDropped()
		log.Printf("[WARN] metrics push from unregistered worker %s dropped", snap.WorkerID)
		return
	}

	if err := o.metrics.Ingest(ctx, snap); err != nil {
		log.Printf("[ERROR] metrics ingest for worker %s failed: %v", snap.WorkerID, err)
	}
}

// AttachWorker binds a live worker transport to its id.
func (o *Orchestrator) AttachWorker(ctx context.Context, workerID string, sess session.Session) {
	o.registry.AddWorker(workerID, sess)

	if err := o.directory.SetConnection(ctx, workerID, workerID, true); err != nil {
		log.Printf("[WARN] failed to mark worker %s connected: %v", workerID, err)
	}
}

// DetachWorker handles a transport-detected disconnect: the directory record
// is kept (deregistered-from-session, not from-directory) and dashboards are
// notified. A stale close racing a reconnect is ignored.
func (o *Orchestrator) DetachWorker(ctx context.Context, workerID string, sess session.Session) {
	if !o.registry.RemoveIf(workerID, sess) {
		return
	}

	if err := o.directory.SetConnection(ctx, workerID, "", false); err != nil {
		log.Printf("[WARN] failed to mark worker %s disconnected: %v", workerID, err)
	}

	log.Printf("[INFO] worker %s disconnected", workerID)
	o.broadcast(message.TypeWorkerDisconnected, message.DisconnectedPayload{WorkerID: workerID})
}

// AttachDashboard pushes the full current-state snapshot to the new session
// before registering it for broadcasts, so the client never renders from a
// partial stream.
func (o *Orchestrator) AttachDashboard(ctx context.Context, sess session.Session) error {
	workers, err := o.directory.ListAll(ctx)
	if err != nil {
		return err
	}

	resources, _ := o.resources.Current()

	summary := fleetSummary{TotalWorkers: len(workers)}
	for _, w := range workers {
		if w.Connected {
			summary.ConnectedWorkers++
		}
		if w.Status == directory.StatusHealthy {
			summary.HealthyWorkers++
		}
	}

	env, err := message.New(message.TypeInitialState, initialState{
		Workers:   workers,
		Resources: resources,
		Summary:   summary,
		Timestamp: time.Now(),
	})
	if err != nil {
		return err
	}
	if err := sess.Send(env); err != nil {
		return err
	}

	o.registry.AddDashboard(sess.ID(), sess)
	log.Printf("[INFO] dashboard %s connected", sess.ID())
	return nil
}

// PendingChecks reports outstanding health-check correlations.
func (o *Orchestrator) PendingChecks() int {
	return o.checks.PendingCount()
}

func (o *Orchestrator) DetachDashboard(id string) {
	o.registry.Remove(id)
	log.Printf("[INFO] dashboard %s disconnected", id)
}

func (o *Orchestrator) broadcast(msgType string, payload any) {
	env, err := message.New(msgType, payload)
	if err != nil {
		log.Printf("[ERROR] failed to encode %s broadcast: %v", msgType, err)
		return
	}
	o.registry.BroadcastToDashboards(env)
}

func (o *Orchestrator) workerTotal(ctx context.Context) int {
	workers, err := o.directory.ListAll(ctx)
	if err != nil {
		return 0
	}
	return len(workers)
}

func (o *Orchestrator) drop(msgType string, err error) {
	o.stats.MessageDropped()
	log.Printf("[WARN] malformed %s message dropped: %v", msgType, err)
}
