// Package monitor implements the heartbeat monitor: a liveness sweeper
// that releases the leases of dead workers so their claimed work returns
// to the pool. It reads heartbeat rows but never modifies them; its only
// writes are lease columns on work rows and the purge of stopped rows.
package monitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/reachvector/leadpipe/pkg/config"
	"github.com/reachvector/leadpipe/pkg/store"
)

// Monitor periodically scans for dead workers and reclaims their leases.
type Monitor struct {
	store  *store.Store
	cfg    *config.PipelineConfig
	logger *slog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New constructs a Monitor.
func New(st *store.Store, cfg *config.PipelineConfig) *Monitor {
	return &Monitor{
		store:  st,
		cfg:    cfg,
		logger: slog.Default().With("component", "monitor"),
		stopCh: make(chan struct{}),
	}
}

// Start begins the scan loop in a goroutine.
func (m *Monitor) Start(ctx context.Context) {
	m.wg.Add(1)
	go m.run(ctx)
}

// Stop signals shutdown and waits for the loop to exit. Safe to call more
// than once.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()
}

func (m *Monitor) run(ctx context.Context) {
	defer m.wg.Done()
	m.logger.Info("Heartbeat monitor started",
		"interval", m.cfg.MonitorInterval,
		"dead_worker_threshold", m.cfg.DeadWorkerThreshold)

	ticker := time.NewTicker(m.cfg.MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			m.logger.Info("Heartbeat monitor shutting down")
			return
		case <-ctx.Done():
			m.logger.Info("Context cancelled, heartbeat monitor shutting down")
			return
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

// Sweep performs one scan: release leases of dead workers, then purge old
// stopped heartbeat rows. Errors are logged, never fatal; the next tick
// tries again.
func (m *Monitor) Sweep(ctx context.Context) {
	dead, err := m.store.ListDeadWorkers(ctx, m.cfg.DeadWorkerThreshold)
	if err != nil {
		m.logger.Error("Failed to list dead workers", "error", err)
		return
	}

	for _, hb := range dead {
		released, err := m.store.ReleaseLeasesFor(ctx, hb.WorkerID)
		if err != nil {
			m.logger.Error("Failed to release leases", "worker_id", hb.WorkerID, "error", err)
			continue
		}
		m.logger.Warn("Released leases of dead worker",
			"worker_id", hb.WorkerID,
			"worker_type", hb.WorkerType,
			"last_heartbeat_at", hb.LastHeartbeatAt,
			"leases_released", released)
	}

	purged, err := m.store.PurgeStoppedHeartbeats(ctx, m.cfg.StoppedHeartbeatRetention)
	if err != nil {
		m.logger.Error("Failed to purge stopped heartbeats", "error", err)
		return
	}
	if purged > 0 {
		m.logger.Info("Purged stopped heartbeat rows", "purged", purged)
	}
}
