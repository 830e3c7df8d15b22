// Package resource tracks the health of external dependencies (queues,
// stores, upstream services), distinct from workers.
package resource

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/aoi0913/fleetwatch/internal/message"
)

// Payload is an arbitrary per-resource status document. It must carry a
// "status" field; the value "healthy" is the only one counted as healthy.
type Payload map[string]any

func (p Payload) healthy() bool {
	s, _ := p["status"].(string)
	return s == "healthy"
}

type Summary struct {
	Total     int       `json:"total"`
	Healthy   int       `json:"healthy"`
	Unhealthy int       `json:"unhealthy"`
	Timestamp time.Time `json:"timestamp"`
}

type updateEvent struct {
	Resources map[string]map[string]Payload `json:"resources"`
	Summary   Summary                       `json:"summary"`
}

type historyEntry struct {
	Resources map[string]Payload `json:"resources"`
	Timestamp time.Time          `json:"timestamp"`
}

type Broadcaster interface {
	BroadcastToDashboards(env message.Envelope)
}

type Tracker struct {
	repo     Repository
	sessions Broadcaster
	limit    int

	mu sync.RWMutex
	// resource_type -> resource name -> latest payload
	current map[string]map[string]Payload
	// resource_type -> bounded most-recent-first history
	history map[string][]historyEntry
}

func NewTracker(repo Repository, sessions Broadcaster, historyLimit int) *Tracker {
	if historyLimit <= 0 {
		historyLimit = 100
	}
	return &Tracker{
		repo:     repo,
		sessions: sessions,
		limit:    historyLimit,
		current:  make(map[string]map[string]Payload),
		history:  make(map[string][]historyEntry),
	}
}

// Ingest overwrites the current record per named resource under the given
// type, appends to bounded history, persists both, and broadcasts a summary
// grouped by resource type.
func (t *Tracker) Ingest(ctx context.Context, resourceType string, resources map[string]Payload) error {
	if resourceType == "" {
		return fmt.Errorf("resource: empty resource type")
	}
	if len(resources) == 0 {
		return fmt.Errorf("resource: empty payload")
	}

	now := time.Now()

	t.mu.Lock()
	cur, ok := t.current[resourceType]
	if !ok {
		cur = make(map[string]Payload)
		t.current[resourceType] = cur
	}
	for name, payload := range resources {
		cur[name] = payload
	}

	entries := append(t.history[resourceType], historyEntry{Resources: resources, Timestamp: now})
	if len(entries) > t.limit {
		entries = entries[len(entries)-t.limit:]
	}
	t.history[resourceType] = entries
	t.mu.Unlock()

	if err := t.repo.Save(ctx, resourceType, resources, now); err != nil {
		return err
	}

	t.broadcast()
	return nil
}

// Current returns a copy of the current map plus healthy/unhealthy counts.
func (t *Tracker) Current() (map[string]map[string]Payload, Summary) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string]map[string]Payload, len(t.current))
	summary := Summary{Timestamp: time.Now()}

	for resourceType, byName := range t.current {
		group := make(map[string]Payload, len(byName))
		for name, payload := range byName {
			group[name] = payload
			summary.Total++
			if payload.healthy() {
				summary.Healthy++
			}
		}
		out[resourceType] = group
	}
	summary.Unhealthy = summary.Total - summary.Healthy

	return out, summary
}

// History returns the retained entries for one resource type, most recent
// last.
func (t *Tracker) History(resourceType string) []historyEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	entries := t.history[resourceType]
	out := make([]historyEntry, len(entries))
	copy(out, entries)
	return out
}

// Load seeds the current map from the store, used by the startup rebuild.
func (t *Tracker) Load(ctx context.Context) error {
	current, err := t.repo.LoadCurrent(ctx)
	if err != nil {
		return err
	}

	t.mu.Lock()
	for resourceType, byName := range current {
		t.current[resourceType] = byName
	}
	t.mu.Unlock()

	log.Printf("[INFO] loaded resource health for %d resource types from store", len(current))
	return nil
}

func (t *Tracker) broadcast() {
	resources, summary := t.Current()

	env, err := message.New(message.TypeResourcesUpdate, updateEvent{
		Resources: resources,
		Summary:   summary,
	})
	if err != nil {
		log.Printf("[ERROR] failed to encode resources update: %v", err)
		return
	}
	t.sessions.BroadcastToDashboards(env)
}
