package message

import (
	"encoding/json"
	"time"
)

// Message types carried between the hub, workers and dashboards.
const (
	// worker -> hub
	TypeWorkerRegister   = "worker:register"
	TypeWorkerDeregister = "worker:deregister"
	TypeHealthResponse   = "health:response"
	TypeMetricsPush      = "metrics:push"

	// hub -> worker
	TypeHealthCheck    = "health:check"
	TypeCommandRestart = "command:restart"

	// hub -> dashboard
	TypeWorkerRegistered   = "worker:registered"
	TypeWorkerDeregistered = "worker:deregistered"
	TypeWorkerDisconnected = "worker:disconnected"
	TypeHealthUpdate       = "health:update"
	TypeMetricsUpdate      = "metrics:update"
	TypeResourcesUpdate    = "resources:update"
	TypeInitialState       = "initial_state"
)

type Envelope struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
}

func New(msgType string, payload any) (Envelope, error) {
	env := Envelope{
		Type:      msgType,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	if payload == nil {
		return env, nil
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	env.Payload = b

	return env, nil
}

type RegisterPayload struct {
	WorkerID     string   `json:"worker_id"`
	Name         string   `json:"name"`
	Endpoint     string   `json:"endpoint"`
	Port         int      `json:"port"`
	Capabilities []string `json:"capabilities,omitempty"`
	Version      string   `json:"version,omitempty"`
}

type DeregisterPayload struct {
	WorkerID string `json:"worker_id"`
}

type HealthCheckPayload struct {
	CheckID string `json:"check_id"`
}

type HealthResponsePayload struct {
	CheckID       string    `json:"check_id"`
	WorkerID      string    `json:"worker_id"`
	Status        string    `json:"status"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
}

type RestartPayload struct {
	WorkerID string `json:"worker_id"`
}

type RegisteredPayload struct {
	WorkerID     string `json:"worker_id"`
	Endpoint     string `json:"endpoint"`
	IsNew        bool   `json:"is_new"`
	TotalWorkers int    `json:"total_workers"`
}

type DeregisteredPayload struct {
	WorkerID     string `json:"worker_id"`
	Endpoint     string `json:"endpoint,omitempty"`
	TotalWorkers int    `json:"total_workers"`
}

type DisconnectedPayload struct {
	WorkerID string `json:"worker_id"`
}
