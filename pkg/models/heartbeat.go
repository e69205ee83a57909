package models

import "time"

// WorkerType identifies which stage a worker process serves.
type WorkerType string

const (
	WorkerTypeDiscovery WorkerType = "discovery"
	WorkerTypeResearch  WorkerType = "research"
	WorkerTypeContact   WorkerType = "contact"
	WorkerTypeMonitor   WorkerType = "monitor"
)

// WorkerStatus is what a worker reports about itself on each heartbeat.
type WorkerStatus string

const (
	WorkerStatusIdle       WorkerStatus = "idle"
	WorkerStatusProcessing WorkerStatus = "processing"
	WorkerStatusStopped    WorkerStatus = "stopped"
)

// WorkerHeartbeat is a worker's liveness row. One row per worker id,
// refreshed on every tick; the monitor treats a stale row as a dead worker.
type WorkerHeartbeat struct {
	WorkerID        string         `json:"worker_id"`
	WorkerType      WorkerType     `json:"worker_type"`
	Status          WorkerStatus   `json:"status"`
	CurrentRunID    string         `json:"current_run_id,omitempty"`
	CurrentTask     string         `json:"current_task,omitempty"`
	LeaseExpiresAt  *time.Time     `json:"lease_expires_at,omitempty"`
	LastHeartbeatAt time.Time      `json:"last_heartbeat_at"`
	StartedAt       time.Time      `json:"started_at"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}
