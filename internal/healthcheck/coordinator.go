// Package healthcheck issues correlated health checks to workers and matches
// asynchronous replies to outstanding requests under a per-check timeout.
package healthcheck

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aoi0913/fleetwatch/internal/directory"
	"github.com/aoi0913/fleetwatch/internal/message"
	"github.com/aoi0913/fleetwatch/internal/stats"
)

// Sender is the slice of the connection registry the coordinator needs.
type Sender interface {
	SendToWorker(id string, env message.Envelope) bool
	BroadcastToDashboards(env message.Envelope)
}

type WorkerStatus struct {
	WorkerID      string           `json:"worker_id"`
	Name          string           `json:"name"`
	Status        directory.Status `json:"status"`
	LastHeartbeat time.Time        `json:"last_heartbeat"`
}

type Summary struct {
	Total     int            `json:"total"`
	Healthy   int            `json:"healthy"`
	Unhealthy int            `json:"unhealthy"`
	Workers   []WorkerStatus `json:"workers"`
	Timestamp time.Time      `json:"timestamp"`
}

type result struct {
	status        directory.Status
	lastHeartbeat time.Time
	cancelled     bool
}

// pendingCheck is a single-resolution slot: the first writer wins, whether
// it is the matching reply, the timeout, or cancellation.
type pendingCheck struct {
	workerID  string
	createdAt time.Time
	once      sync.Once
	done      chan result
}

func (p *pendingCheck) resolve(r result) {
	p.once.Do(func() {
		p.done <- r
	})
}

type Coordinator struct {
	mu      sync.Mutex
	pending map[string]*pendingCheck

	directory directory.Repository
	sessions  Sender
	interval  time.Duration
	timeout   time.Duration
	stats     *stats.Collector
}

func NewCoordinator(repo directory.Repository, sessions Sender, interval, timeout time.Duration, collector *stats.Collector) *Coordinator {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Coordinator{
		pending:   make(map[string]*pendingCheck),
		directory: repo,
		sessions:  sessions,
		interval:  interval,
		timeout:   timeout,
		stats:     collector,
	}
}

// Run drives the periodic check loop until the context is cancelled. A
// failed round is logged and the loop keeps going.
func (c *Coordinator) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.cancelPending()
			return ctx.Err()
		case <-ticker.C:
			if err := c.RunRound(ctx); err != nil {
				log.Printf("[ERROR] health check round failed: %v", err)
			}
		}
	}
}

// RunRound checks every worker in the directory concurrently, each under its
// own timeout so a slow worker cannot delay the others, then broadcasts the
// fleet summary to dashboards.
func (c *Coordinator) RunRound(ctx context.Context) error {
	workers, err := c.directory.ListAll(ctx)
	if err != nil {
		return err
	}
	if len(workers) == 0 {
		return nil
	}

	statuses := make([]WorkerStatus, len(workers))

	var wg sync.WaitGroup
	for i, w := range workers {
		wg.Add(1)
		go func(i int, w *directory.WorkerState) {
			defer wg.Done()
			statuses[i] = c.checkWorker(ctx, w)
		}(i, w)
	}
	wg.Wait()

	if ctx.Err() != nil {
		return ctx.Err()
	}

	summary := Summary{
		Total:     len(statuses),
		Workers:   statuses,
		Timestamp: time.Now(),
	}
	for _, st := range statuses {
		if st.Status == directory.StatusHealthy {
			summary.Healthy++
		} else {
			summary.Unhealthy++
		}
	}

	env, err := message.New(message.TypeHealthUpdate, summary)
	if err != nil {
		return err
	}
	c.sessions.BroadcastToDashboards(env)

	return nil
}

func (c *Coordinator) checkWorker(ctx context.Context, w *directory.WorkerState) WorkerStatus {
	checkID := uuid.NewString()
	p := c.register(checkID, w.WorkerID)
	defer c.remove(checkID)

	st := WorkerStatus{
		WorkerID:      w.WorkerID,
		Name:          w.Name,
		LastHeartbeat: w.LastHeartbeat,
	}

	env, err := message.New(message.TypeHealthCheck, message.HealthCheckPayload{CheckID: checkID})
	if err != nil {
		st.Status = directory.StatusUnknown
		return st
	}

	if !c.sessions.SendToWorker(w.WorkerID, env) {
		st.Status = directory.StatusUnhealthy
		c.updateDirectory(ctx, &st, time.Time{})
		return st
	}

	c.stats.CheckIssued()
	start := time.Now()

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	var r result
	select {
	case r = <-p.done:
	case <-timer.C:
		c.stats.CheckTimedOut()
		log.Printf("[WARN] health check %s for worker %s timed out after %s", checkID, w.WorkerID, c.timeout)
		p.resolve(result{status: directory.StatusUnhealthy})
		r = <-p.done
	case <-ctx.Done():
		p.resolve(result{cancelled: true})
		r = <-p.done
	}

	c.stats.ObserveCheckDuration(time.Since(start).Seconds())

	if r.cancelled {
		st.Status = directory.StatusUnknown
		return st
	}

	st.Status = r.status
	if !r.lastHeartbeat.IsZero() {
		st.LastHeartbeat = r.lastHeartbeat
	}
	c.updateDirectory(ctx, &st, r.lastHeartbeat)

	return st
}

func (c *Coordinator) updateDirectory(ctx context.Context, st *WorkerStatus, heartbeat time.Time) {
	if err := c.directory.UpdateStatus(ctx, st.WorkerID, st.Status, heartbeat); err != nil {
		log.Printf("[ERROR] failed to update status for worker %s: %v", st.WorkerID, err)
	}
}

// Resolve matches a health reply to its pending check. A reply whose
// check_id has no pending record is a late or duplicate reply and is
// ignored.
func (c *Coordinator) Resolve(checkID string, payload message.HealthResponsePayload) {
	c.mu.Lock()
	p, ok := c.pending[checkID]
	c.mu.Unlock()

	if !ok {
		log.Printf("[WARN] health response for unknown check %s ignored", checkID)
		return
	}

	status := directory.StatusUnhealthy
	if payload.Status == "healthy" {
		status = directory.StatusHealthy
	}

	heartbeat := payload.LastHeartbeat
	if heartbeat.IsZero() {
		heartbeat = time.Now()
	}

	p.resolve(result{status: status, lastHeartbeat: heartbeat})
}

// ResolveRaw decodes an inbound health:response payload and resolves it.
func (c *Coordinator) ResolveRaw(payload json.RawMessage) error {
	var p message.HealthResponsePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return err
	}
	c.Resolve(p.CheckID, p)
	return nil
}

// PendingCount reports outstanding correlations, used by tests and the
// liveness endpoint.
func (c *Coordinator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Coordinator) register(checkID, workerID string) *pendingCheck {
	p := &pendingCheck{
		workerID:  workerID,
		createdAt: time.Now(),
		done:      make(chan result, 1),
	}

	c.mu.Lock()
	c.pending[checkID] = p
	c.mu.Unlock()

	return p
}

func (c *Coordinator) remove(checkID string) {
	c.mu.Lock()
	delete(c.pending, checkID)
	c.mu.Unlock()
}

// cancelPending resolves every outstanding correlation as cancelled so a
// stopped round does not leave waiters dangling.
func (c *Coordinator) cancelPending() {
	c.mu.Lock()
	pending := make([]*pendingCheck, 0, len(c.pending))
	for _, p := range c.pending {
		pending = append(pending, p)
	}
	c.mu.Unlock()

	for _, p := range pending {
		p.resolve(result{cancelled: true})
	}
}
