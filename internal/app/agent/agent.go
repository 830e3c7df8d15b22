// Package agent implements the worker-side process: it registers with the
// hub, answers correlated health checks over its event channel, and pushes
// metric snapshots on an interval.
package agent

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/aoi0913/fleetwatch/internal/message"
	"github.com/aoi0913/fleetwatch/internal/task"
	"github.com/aoi0913/fleetwatch/internal/telemetry"
)

type Config struct {
	HubURL          string
	WorkerID        string
	Name            string
	Endpoint        string
	Port            int
	Capabilities    []string
	Version         string
	MetricsInterval time.Duration
}

type Agent struct {
	cfg Config

	// client is for one-shot posts; streamClient carries the long-lived
	// event stream and must not have a request timeout.
	client       *http.Client
	streamClient *http.Client

	processed     atomic.Int64
	errored       atomic.Int64
	lastProcessed atomic.Int64
}

func Run(ctx context.Context, cfg Config) error {
	if cfg.HubURL == "" {
		return fmt.Errorf("agent: missing hub url")
	}
	if cfg.WorkerID == "" {
		cfg.WorkerID = uuid.NewString()
	}
	if cfg.Name == "" {
		cfg.Name = cfg.WorkerID
	}
	if cfg.MetricsInterval <= 0 {
		cfg.MetricsInterval = 5 * time.Second
	}

	a := &Agent{
		cfg:          cfg,
		client:       &http.Client{Timeout: 10 * time.Second},
		streamClient: &http.Client{},
	}

	if err := a.registerWithRetry(ctx); err != nil {
		return err
	}

	manager := task.NewManager(2 * time.Second)
	manager.Add("events", task.RunnerFunc(a.listenEvents))
	manager.Add("metrics", task.RunnerFunc(a.pushMetrics))

	manager.Start(ctx)

	<-ctx.Done()
	log.Println("[INFO] shutdown signal received")
	manager.Stop()

	a.deregister()
	return nil
}

func (a *Agent) registerWithRetry(ctx context.Context) error {
	for {
		err := a.register(ctx)
		if err == nil {
			log.Printf("[INFO] agent %s registered with hub %s", a.cfg.WorkerID, a.cfg.HubURL)
			return nil
		}

		log.Printf("[WARN] register failed, retrying: %v", err)

		select {
		case <-time.After(2 * time.Second):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (a *Agent) register(ctx context.Context) error {
	env, err := message.New(message.TypeWorkerRegister, message.RegisterPayload{
		WorkerID:     a.cfg.WorkerID,
		Name:         a.cfg.Name,
		Endpoint:     a.cfg.Endpoint,
		Port:         a.cfg.Port,
		Capabilities: a.cfg.Capabilities,
		Version:      a.cfg.Version,
	})
	if err != nil {
		return err
	}
	return postEnvelope(ctx, a.client, a.cfg.HubURL, env)
}

func (a *Agent) deregister() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	env, err := message.New(message.TypeWorkerDeregister, message.DeregisterPayload{
		WorkerID: a.cfg.WorkerID,
	})
	if err != nil {
		return
	}
	if err := postEnvelope(ctx, a.client, a.cfg.HubURL, env); err != nil {
		log.Printf("[WARN] deregister failed: %v", err)
	}
}

// listenEvents consumes the hub-to-worker event stream. A broken stream
// returns an error and the supervisor reconnects after backoff.
func (a *Agent) listenEvents(ctx context.Context) error {
	envelopes, errCh, err := openEventStream(ctx, a.streamClient, a.cfg.HubURL, a.cfg.WorkerID)
	if err != nil {
		return err
	}

	log.Printf("[INFO] agent %s event stream open", a.cfg.WorkerID)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errCh:
			return err
		case env := <-envelopes:
			a.handleEvent(ctx, env)
		}
	}
}

func (a *Agent) handleEvent(ctx context.Context, env message.Envelope) {
	switch env.Type {
	case message.TypeHealthCheck:
		if err := a.answerHealthCheck(ctx, env); err != nil {
			a.errored.Add(1)
			log.Printf("[WARN] health response failed: %v", err)
			return
		}
		a.processed.Add(1)

	case message.TypeCommandRestart:
		log.Printf("[INFO] restart requested by hub, re-registering")
		if err := a.register(ctx); err != nil {
			log.Printf("[WARN] re-register after restart failed: %v", err)
		}

	default:
		log.Printf("[WARN] unexpected event type %q ignored", env.Type)
	}
}

func (a *Agent) answerHealthCheck(ctx context.Context, env message.Envelope) error {
	var check message.HealthCheckPayload
	if err := decodePayload(env, &check); err != nil {
		return err
	}

	reply, err := message.New(message.TypeHealthResponse, message.HealthResponsePayload{
		CheckID:       check.CheckID,
		WorkerID:      a.cfg.WorkerID,
		Status:        "healthy",
		LastHeartbeat: time.Now(),
	})
	if err != nil {
		return err
	}
	return postEnvelope(ctx, a.client, a.cfg.HubURL, reply)
}

func (a *Agent) pushMetrics(ctx context.Context) error {
	ticker := time.NewTicker(a.cfg.MetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			snap := a.sample()
			env, err := message.New(message.TypeMetricsPush, snap)
			if err != nil {
				return err
			}
			if err := postEnvelope(ctx, a.client, a.cfg.HubURL, env); err != nil {
				a.errored.Add(1)
				log.Printf("[WARN] metrics push failed: %v", err)
			}
		}
	}
}

func (a *Agent) sample() *telemetry.Snapshot {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	processed := a.processed.Load()
	errored := a.errored.Load()
	last := a.lastProcessed.Swap(processed)

	errorRate := 0.0
	if processed > 0 {
		errorRate = float64(errored) / float64(processed) * 100
	}

	memoryPercent := 0.0
	if m.Sys > 0 {
		memoryPercent = float64(m.Alloc) / float64(m.Sys) * 100
	}

	return &telemetry.Snapshot{
		WorkerID:         a.cfg.WorkerID,
		Timestamp:        time.Now(),
		CPU:              m.GCCPUFraction * 100,
		Memory:           float64(m.Alloc),
		MemoryPercent:    memoryPercent,
		TotalProcessed:   processed,
		ErrorCount:       errored,
		ErrorRate:        errorRate,
		ThroughputPerSec: float64(processed-last) / a.cfg.MetricsInterval.Seconds(),
	}
}
