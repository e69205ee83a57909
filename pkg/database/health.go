package database

import (
	"context"
	stdsql "database/sql"
	"time"
)

// HealthStatus describes the database connection health.
type HealthStatus struct {
	Connected  bool          `json:"connected"`
	Latency    time.Duration `json:"latency"`
	OpenConns  int           `json:"open_conns"`
	InUseConns int           `json:"in_use_conns"`
	IdleConns  int           `json:"idle_conns"`
}

// Health pings the database and reports pool statistics.
func Health(ctx context.Context, db *stdsql.DB) (HealthStatus, error) {
	start := time.Now()
	err := db.PingContext(ctx)
	status := HealthStatus{
		Connected: err == nil,
		Latency:   time.Since(start),
	}

	stats := db.Stats()
	status.OpenConns = stats.OpenConnections
	status.InUseConns = stats.InUse
	status.IdleConns = stats.Idle

	return status, err
}
