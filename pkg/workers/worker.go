// Package workers contains the long-lived stage workers that drive runs
// through the pipeline. Workers are stateless between iterations: every
// decision is recomputed from the store, so any worker can crash at any
// point and a replacement resumes from the persisted rows.
package workers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/reachvector/leadpipe/pkg/agent"
	"github.com/reachvector/leadpipe/pkg/config"
	"github.com/reachvector/leadpipe/pkg/models"
	"github.com/reachvector/leadpipe/pkg/store"
)

// errNoWork signals an idle iteration; the loop sleeps the poll interval.
var errNoWork = errors.New("no work available")

// errWorkerDone signals that a run-filtered worker has nothing left to do
// and should exit instead of spinning.
var errWorkerDone = errors.New("worker finished")

// base carries the scaffolding shared by every stage worker: identity,
// lifecycle, heartbeat publication, and run selection.
type base struct {
	id         string
	workerType models.WorkerType
	store      *store.Store
	cfg        *config.PipelineConfig
	logger     *slog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu           sync.Mutex
	status       models.WorkerStatus
	currentRunID string
	currentTask  string
	leaseExpires *time.Time

	// loops counts iterations per run id for the bounded-loop mode.
	loops map[string]int
}

func newBase(workerType models.WorkerType, st *store.Store, cfg *config.PipelineConfig) *base {
	host, _ := os.Hostname()
	if host == "" {
		host = "unknown"
	}
	id := fmt.Sprintf("%s-%s-%s", workerType, host, uuid.New().String()[:8])
	return &base{
		id:         id,
		workerType: workerType,
		store:      st,
		cfg:        cfg,
		logger:     slog.Default().With("component", "worker", "worker_type", workerType, "worker_id", id),
		stopCh:     make(chan struct{}),
		status:     models.WorkerStatusIdle,
		loops:      make(map[string]int),
	}
}

// ID returns the worker's unique id, as written to heartbeat and lease rows.
func (b *base) ID() string {
	return b.id
}

// start launches the iterate loop and the heartbeat ticker.
func (b *base) start(ctx context.Context, iterate func(context.Context) error) {
	b.wg.Add(2)
	go b.run(ctx, iterate)
	go b.runHeartbeat(ctx)
}

// Stop signals shutdown and waits for the loops to exit. Safe to call more
// than once.
func (b *base) Stop() {
	b.stopOnce.Do(func() { close(b.stopCh) })
	b.wg.Wait()
}

func (b *base) run(ctx context.Context, iterate func(context.Context) error) {
	defer b.wg.Done()
	b.logger.Info("Worker started")

	for {
		select {
		case <-b.stopCh:
			b.logger.Info("Worker shutting down")
			return
		case <-ctx.Done():
			b.logger.Info("Context cancelled, worker shutting down")
			return
		default:
			err := iterate(ctx)
			switch {
			case err == nil:
				// Immediately look for more work.
			case errors.Is(err, errNoWork):
				b.sleep(b.cfg.WorkerPollInterval)
			case errors.Is(err, errWorkerDone):
				b.logger.Info("Worker has no remaining work, exiting")
				return
			case errors.Is(err, context.Canceled):
				return
			default:
				b.logger.Error("Iteration failed", "error", err)
				b.sleep(time.Second)
			}
		}
	}
}

// sleep waits for d or until stop is signalled.
func (b *base) sleep(d time.Duration) {
	select {
	case <-b.stopCh:
	case <-time.After(d):
	}
}

// setTask records what the worker is doing for the next heartbeat.
func (b *base) setTask(status models.WorkerStatus, runID, task string, leaseExpires *time.Time) {
	b.mu.Lock()
	b.status = status
	b.currentRunID = runID
	b.currentTask = task
	b.leaseExpires = leaseExpires
	b.mu.Unlock()
}

func (b *base) runHeartbeat(ctx context.Context) {
	defer b.wg.Done()

	b.beat(ctx)
	ticker := time.NewTicker(b.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopCh:
			b.markStopped()
			return
		case <-ctx.Done():
			b.markStopped()
			return
		case <-ticker.C:
			b.beat(ctx)
		}
	}
}

func (b *base) beat(ctx context.Context) {
	b.mu.Lock()
	hb := &models.WorkerHeartbeat{
		WorkerID:       b.id,
		WorkerType:     b.workerType,
		Status:         b.status,
		CurrentRunID:   b.currentRunID,
		CurrentTask:    b.currentTask,
		LeaseExpiresAt: b.leaseExpires,
	}
	b.mu.Unlock()

	if err := b.store.UpsertHeartbeat(ctx, hb); err != nil {
		b.logger.Warn("Failed to upsert heartbeat", "error", err)
	}
}

func (b *base) markStopped() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.store.StopWorker(ctx, b.id); err != nil {
		b.logger.Warn("Failed to mark heartbeat stopped", "error", err)
	}
}

// resetSession clears transient gateway session state after an Agent pass
// and lets the gateway settle before the next call. Best-effort.
func (b *base) resetSession(ctx context.Context, gw agent.Gateway) {
	if err := gw.ResetSession(ctx); err != nil {
		b.logger.Warn("Failed to reset agent session", "error", err)
	}
	b.sleep(b.cfg.SettleSleep)
}

// pickRun selects the oldest active run in the given stage, honoring the
// run filter. Returns errNoWork when nothing matches and errWorkerDone when
// a filtered run has reached a terminal status.
func (b *base) pickRun(ctx context.Context, stage models.Stage) (*models.Run, error) {
	if b.cfg.RunFilterID != "" {
		run, err := b.store.GetRun(ctx, b.cfg.RunFilterID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, errNoWork
			}
			return nil, fmt.Errorf("failed to load filtered run: %w", err)
		}
		if run.Status.Terminal() {
			return nil, errWorkerDone
		}
		if run.Stage != stage || run.Status != models.RunStatusActive {
			return nil, errNoWork
		}
		return run, nil
	}

	runs, err := b.store.ListActiveRuns(ctx, models.RunFilters{Stage: stage})
	if err != nil {
		return nil, fmt.Errorf("failed to list active runs: %w", err)
	}
	for _, run := range runs {
		if run.Status == models.RunStatusActive {
			return run, nil
		}
	}
	return nil, errNoWork
}

// countLoop bumps the per-run loop counter and reports whether the bounded
// loop cap is exhausted for this run. A zero cap means unbounded.
func (b *base) countLoop(runID string) (exhausted bool) {
	limit := b.cfg.MaxLoops()
	if limit <= 0 {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.loops[runID]++
	return b.loops[runID] > limit
}

// forgetLoop drops a run's loop counter once the worker moves the run out
// of its stage, so the map does not accumulate finished runs.
func (b *base) forgetLoop(runID string) {
	b.mu.Lock()
	delete(b.loops, runID)
	b.mu.Unlock()
}
