// Package session owns every live transport handle. Other components refer
// to sessions by id only and route sends and broadcasts through the Registry,
// so a disconnect never leaves a dangling handle elsewhere.
package session

import (
	"log"
	"sync"
	"time"

	"github.com/aoi0913/fleetwatch/internal/message"
	"github.com/aoi0913/fleetwatch/internal/stats"
)

type Role string

const (
	RoleWorker    Role = "worker"
	RoleDashboard Role = "dashboard"
	RoleAdmin     Role = "admin"
)

// Session is an opaque transport handle. Send must not block indefinitely;
// a failed send marks the session dead and the registry evicts it.
type Session interface {
	ID() string
	Send(env message.Envelope) error
	Close()
}

type entry struct {
	sess         Session
	role         Role
	connectedAt  time.Time
	lastActivity time.Time
}

type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*entry
	stats    *stats.Collector
}

func NewRegistry(collector *stats.Collector) *Registry {
	return &Registry{
		sessions: make(map[string]*entry),
		stats:    collector,
	}
}

func (r *Registry) AddWorker(id string, s Session) {
	r.add(id, s, RoleWorker)
}

func (r *Registry) AddDashboard(id string, s Session) {
	r.add(id, s, RoleDashboard)
}

func (r *Registry) AddAdmin(id string, s Session) {
	r.add(id, s, RoleAdmin)
}

func (r *Registry) add(id string, s Session, role Role) {
	now := time.Now()

	r.mu.Lock()
	old, replaced := r.sessions[id]
	r.sessions[id] = &entry{
		sess:         s,
		role:         role,
		connectedAt:  now,
		lastActivity: now,
	}
	r.updateGauges()
	r.mu.Unlock()

	if replaced {
		old.sess.Close()
		log.Printf("[INFO] session %s replaced (role=%s)", id, role)
	}
}

func (r *Registry) Remove(id string) {
	r.mu.Lock()
	e, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
		r.updateGauges()
	}
	r.mu.Unlock()

	if ok {
		e.sess.Close()
	}
}

// RemoveIf removes the session under id only if it still holds the given
// handle. A transport close callback firing after the same id reconnected
// must not evict the fresh session.
func (r *Registry) RemoveIf(id string, s Session) bool {
	r.mu.Lock()
	e, ok := r.sessions[id]
	if !ok || e.sess != s {
		r.mu.Unlock()
		return false
	}
	delete(r.sessions, id)
	r.updateGauges()
	r.mu.Unlock()

	e.sess.Close()
	return true
}

func (r *Registry) HasWorker(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.sessions[id]
	return ok && e.role == RoleWorker
}

// SendToWorker reports whether the message reached a live worker session.
// Send failures evict the session; the caller only observes a false return.
func (r *Registry) SendToWorker(id string, env message.Envelope) bool {
	r.mu.RLock()
	e, ok := r.sessions[id]
	r.mu.RUnlock()

	if !ok || e.role != RoleWorker {
		return false
	}

	if err := e.sess.Send(env); err != nil {
		log.Printf("[WARN] send to worker %s failed, dropping session: %v", id, err)
		r.Remove(id)
		return false
	}

	r.touch(id)
	return true
}

func (r *Registry) BroadcastToDashboards(env message.Envelope) {
	r.broadcast(env, RoleDashboard)
}

func (r *Registry) BroadcastToWorkers(env message.Envelope) {
	r.broadcast(env, RoleWorker)
}

func (r *Registry) BroadcastToAll(env message.Envelope) {
	r.broadcast(env, "")
}

// broadcast snapshots the recipient set before iterating so that evictions
// triggered by failed sends cannot corrupt the iteration.
func (r *Registry) broadcast(env message.Envelope, role Role) {
	type recipient struct {
		id   string
		sess Session
	}

	r.mu.RLock()
	recipients := make([]recipient, 0, len(r.sessions))
	for id, e := range r.sessions {
		if role != "" && e.role != role {
			continue
		}
		recipients = append(recipients, recipient{id: id, sess: e.sess})
	}
	r.mu.RUnlock()

	for _, rec := range recipients {
		if err := rec.sess.Send(env); err != nil {
			log.Printf("[WARN] broadcast %s to session %s failed, dropping session: %v", env.Type, rec.id, err)
			r.Remove(rec.id)
			continue
		}
		r.touch(rec.id)
	}

	r.stats.Broadcast()
}

func (r *Registry) WorkerCount() int {
	return r.count(RoleWorker)
}

func (r *Registry) DashboardCount() int {
	return r.count(RoleDashboard)
}

func (r *Registry) count(role Role) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, e := range r.sessions {
		if e.role == role {
			n++
		}
	}
	return n
}

func (r *Registry) touch(id string) {
	r.mu.Lock()
	if e, ok := r.sessions[id]; ok {
		e.lastActivity = time.Now()
	}
	r.mu.Unlock()
}

// updateGauges must be called with the lock held.
func (r *Registry) updateGauges() {
	workers, dashboards := 0, 0
	for _, e := range r.sessions {
		switch e.role {
		case RoleWorker:
			workers++
		case RoleDashboard:
			dashboards++
		}
	}
	r.stats.SetWorkersConnected(workers)
	r.stats.SetDashboardsConnected(dashboards)
}
