package store

import (
	"context"
	stdsql "database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/reachvector/leadpipe/pkg/models"
)

const heartbeatColumns = `worker_id, worker_type, status, current_run_id,
	current_task, lease_expires_at, last_heartbeat_at, started_at, metadata`

// UpsertHeartbeat writes a worker's liveness row. Each worker owns exactly
// one row and refreshes it on every tick.
func (s *Store) UpsertHeartbeat(ctx context.Context, hb *models.WorkerHeartbeat) error {
	if hb.WorkerID == "" {
		return NewValidationError("worker_id", "required")
	}
	if hb.Status == "" {
		hb.Status = models.WorkerStatusIdle
	}

	metadata, err := marshalJSON(hb.Metadata)
	if err != nil {
		return err
	}

	var runID any
	if hb.CurrentRunID != "" {
		runID = hb.CurrentRunID
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO worker_heartbeats (
			worker_id, worker_type, status, current_run_id, current_task,
			lease_expires_at, last_heartbeat_at, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, now(), $7)
		ON CONFLICT (worker_id) DO UPDATE
		SET worker_type = EXCLUDED.worker_type,
		    status = EXCLUDED.status,
		    current_run_id = EXCLUDED.current_run_id,
		    current_task = EXCLUDED.current_task,
		    lease_expires_at = EXCLUDED.lease_expires_at,
		    last_heartbeat_at = now(),
		    metadata = EXCLUDED.metadata`,
		hb.WorkerID, hb.WorkerType, hb.Status, runID, hb.CurrentTask,
		hb.LeaseExpiresAt, metadata)
	if err != nil {
		return fmt.Errorf("failed to upsert heartbeat: %w", err)
	}
	return nil
}

// StopWorker marks a worker's heartbeat stopped on graceful shutdown.
func (s *Store) StopWorker(ctx context.Context, workerID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE worker_heartbeats
		SET status = 'stopped', current_run_id = NULL, current_task = '',
		    last_heartbeat_at = now()
		WHERE worker_id = $1`, workerID)
	if err != nil {
		return fmt.Errorf("failed to stop worker heartbeat: %w", err)
	}
	return nil
}

// ListActiveWorkers returns workers whose heartbeat is within the liveness
// window.
func (s *Store) ListActiveWorkers(ctx context.Context, threshold time.Duration) ([]*models.WorkerHeartbeat, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+heartbeatColumns+` FROM worker_heartbeats
		 WHERE status <> 'stopped' AND last_heartbeat_at >= now() - $1::interval
		 ORDER BY worker_id`,
		intervalArg(threshold))
	if err != nil {
		return nil, fmt.Errorf("failed to list active workers: %w", err)
	}
	defer rows.Close()
	return collectHeartbeats(rows)
}

// ListDeadWorkers returns non-stopped workers whose heartbeat is older than
// the threshold. These are candidates for lease release.
func (s *Store) ListDeadWorkers(ctx context.Context, threshold time.Duration) ([]*models.WorkerHeartbeat, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+heartbeatColumns+` FROM worker_heartbeats
		 WHERE status <> 'stopped' AND last_heartbeat_at < now() - $1::interval
		 ORDER BY worker_id`,
		intervalArg(threshold))
	if err != nil {
		return nil, fmt.Errorf("failed to list dead workers: %w", err)
	}
	defer rows.Close()
	return collectHeartbeats(rows)
}

// ReleaseLeasesFor clears every live lease held by workerID across the work
// tables, returning those rows to the claimable pool. Returns the number of
// rows released.
func (s *Store) ReleaseLeasesFor(ctx context.Context, workerID string) (int64, error) {
	var total int64

	res, err := s.db.ExecContext(ctx, `
		UPDATE company_candidates
		SET worker_id = NULL, lease_until = NULL
		WHERE worker_id = $1 AND lease_until > now()`, workerID)
	if err != nil {
		return 0, fmt.Errorf("failed to release company leases: %w", err)
	}
	n, _ := res.RowsAffected()
	total += n

	res, err = s.db.ExecContext(ctx, `
		UPDATE contact_candidates
		SET worker_id = NULL, lease_until = NULL
		WHERE worker_id = $1 AND lease_until > now()`, workerID)
	if err != nil {
		return 0, fmt.Errorf("failed to release contact leases: %w", err)
	}
	n, _ = res.RowsAffected()
	total += n

	return total, nil
}

// PurgeStoppedHeartbeats removes stopped heartbeat rows older than the
// retention threshold.
func (s *Store) PurgeStoppedHeartbeats(ctx context.Context, retention time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM worker_heartbeats
		WHERE status = 'stopped' AND last_heartbeat_at < now() - $1::interval`,
		intervalArg(retention))
	if err != nil {
		return 0, fmt.Errorf("failed to purge stopped heartbeats: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to check purge result: %w", err)
	}
	return n, nil
}

func intervalArg(d time.Duration) string {
	return fmt.Sprintf("%d seconds", int(d.Seconds()))
}

func collectHeartbeats(rows *stdsql.Rows) ([]*models.WorkerHeartbeat, error) {
	var hbs []*models.WorkerHeartbeat
	for rows.Next() {
		var (
			hb       models.WorkerHeartbeat
			runID    stdsql.NullString
			lease    stdsql.NullTime
			metadata []byte
		)
		err := rows.Scan(&hb.WorkerID, &hb.WorkerType, &hb.Status, &runID,
			&hb.CurrentTask, &lease, &hb.LastHeartbeatAt, &hb.StartedAt,
			&metadata)
		if err != nil {
			if errors.Is(err, stdsql.ErrNoRows) {
				return nil, ErrNotFound
			}
			return nil, fmt.Errorf("failed to scan heartbeat: %w", err)
		}
		hb.CurrentRunID = nullString(runID)
		hb.LeaseExpiresAt = nullTime(lease)
		if err := unmarshalJSON(metadata, &hb.Metadata); err != nil {
			return nil, err
		}
		hbs = append(hbs, &hb)
	}
	return hbs, rows.Err()
}
