// Package telemetry buffers per-worker metric samples and periodically
// broadcasts fleet-wide aggregates to dashboards.
package telemetry

import (
	"context"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/aoi0913/fleetwatch/internal/message"
)

type Broadcaster interface {
	BroadcastToDashboards(env message.Envelope)
}

type Aggregator struct {
	repo     Repository
	sessions Broadcaster
	interval time.Duration

	mu sync.Mutex
	// latest sample per worker since the previous flush
	buffer map[string]*Snapshot
}

func NewAggregator(repo Repository, sessions Broadcaster, interval time.Duration) *Aggregator {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	return &Aggregator{
		repo:     repo,
		sessions: sessions,
		interval: interval,
		buffer:   make(map[string]*Snapshot),
	}
}

// Ingest buffers the snapshot and persists it to the current slot and the
// bounded history. Store failures propagate to the caller of this specific
// push.
func (a *Aggregator) Ingest(ctx context.Context, s *Snapshot) error {
	if s == nil {
		return fmt.Errorf("telemetry: nil snapshot")
	}
	if s.WorkerID == "" {
		return fmt.Errorf("telemetry: empty worker id")
	}
	if s.Timestamp.IsZero() {
		s.Timestamp = time.Now()
	}

	a.mu.Lock()
	a.buffer[s.WorkerID] = s
	a.mu.Unlock()

	return a.repo.Save(ctx, s)
}

// Run drives the flush loop until the context is cancelled.
func (a *Aggregator) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := a.Flush(); err != nil {
				log.Printf("[ERROR] metrics flush failed: %v", err)
			}
		}
	}
}

// Flush aggregates the latest buffered sample per worker, broadcasts one
// metrics:update, and clears the buffer. Workers with no new samples since
// the previous flush are omitted rather than carried forward stale.
func (a *Aggregator) Flush() error {
	a.mu.Lock()
	buffered := a.buffer
	a.buffer = make(map[string]*Snapshot)
	a.mu.Unlock()

	if len(buffered) == 0 {
		return nil
	}

	workers := make([]*Snapshot, 0, len(buffered))
	agg := Aggregate{TotalWorkers: len(buffered)}

	var cpuSum, memSum float64
	for _, s := range buffered {
		workers = append(workers, s)
		agg.TotalProcessed += s.TotalProcessed
		agg.TotalErrors += s.ErrorCount
		cpuSum += s.CPU
		memSum += s.MemoryPercent
	}

	if agg.TotalProcessed > 0 {
		agg.OverallErrorRate = round2(float64(agg.TotalErrors) / float64(agg.TotalProcessed) * 100)
	}
	agg.AvgCPU = round2(cpuSum / float64(len(buffered)))
	agg.AvgMemoryPercent = round2(memSum / float64(len(buffered)))

	env, err := message.New(message.TypeMetricsUpdate, Update{
		Workers:   workers,
		Summary:   agg,
		Timestamp: time.Now(),
	})
	if err != nil {
		return err
	}
	a.sessions.BroadcastToDashboards(env)

	return nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
