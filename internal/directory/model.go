package directory

import "time"

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusUnknown   Status = "unknown"
)

type WorkerState struct {
	WorkerID      string    `json:"worker_id"`
	Name          string    `json:"name"`
	Endpoint      string    `json:"endpoint"`
	Port          int       `json:"port"`
	Capabilities  []string  `json:"capabilities,omitempty"`
	Version       string    `json:"version,omitempty"`
	Connected     bool      `json:"connected"`
	ConnectedAt   time.Time `json:"connected_at"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	SessionID     string    `json:"session_id,omitempty"`
	Status        Status    `json:"status"`
}
