package telemetry

import "time"

// Snapshot is an immutable per-sample metrics record pushed by a worker.
type Snapshot struct {
	WorkerID          string    `json:"worker_id"`
	Timestamp         time.Time `json:"timestamp"`
	CPU               float64   `json:"cpu"`
	Memory            float64   `json:"memory"`
	MemoryPercent     float64   `json:"memory_percent"`
	TotalProcessed    int64     `json:"total_processed"`
	ErrorCount        int64     `json:"error_count"`
	ErrorRate         float64   `json:"error_rate"`
	ThroughputPerSec  float64   `json:"throughput_per_sec"`
	AvgResponseTimeMS float64   `json:"avg_response_time_ms"`
	QueueDepth        int64     `json:"queue_depth"`
}

type Aggregate struct {
	TotalWorkers     int     `json:"total_workers"`
	TotalProcessed   int64   `json:"total_processed"`
	TotalErrors      int64   `json:"total_errors"`
	OverallErrorRate float64 `json:"overall_error_rate"`
	AvgCPU           float64 `json:"avg_cpu"`
	AvgMemoryPercent float64 `json:"avg_memory_percent"`
}

// Update is the per-flush broadcast: the latest sample per worker that
// reported since the previous flush, plus the fleet aggregate.
type Update struct {
	Workers   []*Snapshot `json:"workers"`
	Summary   Aggregate   `json:"summary"`
	Timestamp time.Time   `json:"timestamp"`
}
