package store

import (
	"context"
	stdsql "database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/reachvector/leadpipe/pkg/models"
)

const runColumns = `id, created_at, updated_at, criteria, target_quantity,
	contacts_min, contacts_max, stage, status, notes`

// CreateRun inserts a new run in stage=discovery, status=active.
func (s *Store) CreateRun(ctx context.Context, req models.CreateRunRequest) (*models.Run, error) {
	if req.TargetQuantity < 1 {
		return nil, NewValidationError("target_quantity", "must be >= 1")
	}

	contactsMin := req.ContactsMin
	if contactsMin == 0 {
		contactsMin = 1
	}
	contactsMax := req.ContactsMax
	if contactsMax == 0 {
		contactsMax = 3
	}
	if contactsMin > contactsMax {
		return nil, NewValidationError("contacts_min", "must not exceed contacts_max")
	}

	criteria, err := json.Marshal(req.Criteria)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal criteria: %w", err)
	}

	run := &models.Run{
		ID:             uuid.New().String(),
		Criteria:       req.Criteria,
		TargetQuantity: req.TargetQuantity,
		ContactsMin:    contactsMin,
		ContactsMax:    contactsMax,
		Stage:          models.StageDiscovery,
		Status:         models.RunStatusActive,
	}

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO runs (id, criteria, target_quantity, contacts_min, contacts_max, stage, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`,
		run.ID, criteria, run.TargetQuantity, run.ContactsMin, run.ContactsMax,
		run.Stage, run.Status,
	)
	if err := row.Scan(&run.CreatedAt, &run.UpdatedAt); err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}

	return run, nil
}

// GetRun fetches a run by id.
func (s *Store) GetRun(ctx context.Context, runID string) (*models.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE id = $1`, runID)
	return scanRun(row)
}

// ListActiveRuns returns non-terminal runs, optionally filtered by stage
// and/or run id. Used by workers to pick work.
func (s *Store) ListActiveRuns(ctx context.Context, filters models.RunFilters) ([]*models.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs
		WHERE status IN ('active', 'needs_user_decision')`
	args := []any{}

	if filters.Stage != "" {
		args = append(args, filters.Stage)
		query += fmt.Sprintf(" AND stage = $%d", len(args))
	}
	if filters.RunID != "" {
		args = append(args, filters.RunID)
		query += fmt.Sprintf(" AND id = $%d", len(args))
	}
	query += " ORDER BY created_at"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list active runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// SetStage advances a run to newStage. Only the next stage in the fixed
// sequence is accepted, and terminal runs never move. The done stage is
// unreachable here: runs end through CompleteRun or FailRun, which pair it
// with a terminal status in the same statement.
func (s *Store) SetStage(ctx context.Context, runID string, newStage models.Stage) error {
	if !newStage.Valid() {
		return fmt.Errorf("%w: unknown stage %q", ErrStageMismatch, newStage)
	}
	if newStage == models.StageDone {
		return fmt.Errorf("%w: done requires a terminal status, use CompleteRun or FailRun", ErrStageMismatch)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	run, err := lockRun(ctx, tx, runID)
	if err != nil {
		return err
	}
	if run.Status.Terminal() {
		return fmt.Errorf("%w: run %s is %s", ErrTerminalStatus, runID, run.Status)
	}
	if run.Stage == newStage {
		// Repeating the current stage is an idempotent no-op, so a worker
		// retrying a transition after a crash does not error out.
		return tx.Commit()
	}
	if !run.Stage.CanAdvanceTo(newStage) {
		return fmt.Errorf("%w: %s -> %s", ErrStageMismatch, run.Stage, newStage)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE runs SET stage = $1, updated_at = now() WHERE id = $2`,
		newStage, runID); err != nil {
		return fmt.Errorf("failed to set stage: %w", err)
	}

	return tx.Commit()
}

// SetStatus updates a run's status and optionally appends a notes line.
// Leaving a terminal status is disallowed; Unarchive is the only exception.
func (s *Store) SetStatus(ctx context.Context, runID string, newStatus models.RunStatus, notes string) error {
	if !newStatus.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidStatus, newStatus)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	run, err := lockRun(ctx, tx, runID)
	if err != nil {
		return err
	}
	if run.Status.Terminal() && run.Status != newStatus {
		return fmt.Errorf("%w: run %s is %s", ErrTerminalStatus, runID, run.Status)
	}

	if err := updateStatusTx(ctx, tx, runID, newStatus, notes); err != nil {
		return err
	}
	return tx.Commit()
}

// AppendNotes appends a timestamped line to a run's notes without touching
// status. Failure breadcrumbs from workers land here.
func (s *Store) AppendNotes(ctx context.Context, runID, line string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs
		SET notes = CASE WHEN notes = '' THEN $1 ELSE notes || E'\n' || $1 END,
		    updated_at = now()
		WHERE id = $2`,
		notesLine(line), runID)
	if err != nil {
		return fmt.Errorf("failed to append notes: %w", err)
	}
	return requireRow(res, runID)
}

// CompleteRun marks a run done+completed in one transaction. Used by the
// contact worker and the accept-partial decision; repeat calls are no-ops.
func (s *Store) CompleteRun(ctx context.Context, runID, notes string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	run, err := lockRun(ctx, tx, runID)
	if err != nil {
		return err
	}
	if run.Status == models.RunStatusCompleted && run.Stage == models.StageDone {
		return tx.Commit()
	}
	if run.Status.Terminal() {
		return fmt.Errorf("%w: run %s is %s", ErrTerminalStatus, runID, run.Status)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE runs SET stage = 'done', status = 'completed', updated_at = now()
		WHERE id = $1`, runID); err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	if notes != "" {
		if err := appendNotesTx(ctx, tx, runID, notes); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// FailRun marks a run done+error with a reason. Used for unrecoverable run
// states such as a hard-zero discovery.
func (s *Store) FailRun(ctx context.Context, runID, reason string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	run, err := lockRun(ctx, tx, runID)
	if err != nil {
		return err
	}
	if run.Status.Terminal() {
		return fmt.Errorf("%w: run %s is %s", ErrTerminalStatus, runID, run.Status)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE runs SET stage = 'done', status = 'error', updated_at = now()
		WHERE id = $1`, runID); err != nil {
		return fmt.Errorf("failed to fail run: %w", err)
	}
	if err := appendNotesTx(ctx, tx, runID, reason); err != nil {
		return err
	}
	return tx.Commit()
}

// ArchiveRun is the administrative archive operation. The stage is left
// where the run stood, so an unarchived run resumes from the same point.
func (s *Store) ArchiveRun(ctx context.Context, runID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET status = 'archived', updated_at = now()
		WHERE id = $1`, runID)
	if err != nil {
		return fmt.Errorf("failed to archive run: %w", err)
	}
	return requireRow(res, runID)
}

// UnarchiveRun restores an archived run to needs_user_decision so an
// operator can route it. A run archived after reaching done rolls back to
// contact_discovery, since done permits only terminal statuses. This is
// the sole administrative exit from a terminal status.
func (s *Store) UnarchiveRun(ctx context.Context, runID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	run, err := lockRun(ctx, tx, runID)
	if err != nil {
		return err
	}
	if run.Status != models.RunStatusArchived {
		return fmt.Errorf("%w: run %s is not archived", ErrInvalidStatus, runID)
	}

	stage := run.Stage
	if stage == models.StageDone {
		stage = models.StageContacts
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE runs SET stage = $1, status = 'needs_user_decision', updated_at = now()
		WHERE id = $2`, stage, runID); err != nil {
		return fmt.Errorf("failed to unarchive run: %w", err)
	}
	return tx.Commit()
}

// helpers

// lockRun selects a run FOR UPDATE inside tx.
func lockRun(ctx context.Context, tx *stdsql.Tx, runID string) (*models.Run, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE id = $1 FOR UPDATE`, runID)
	return scanRun(row)
}

func updateStatusTx(ctx context.Context, tx *stdsql.Tx, runID string, status models.RunStatus, notes string) error {
	if _, err := tx.ExecContext(ctx,
		`UPDATE runs SET status = $1, updated_at = now() WHERE id = $2`,
		status, runID); err != nil {
		return fmt.Errorf("failed to set status: %w", err)
	}
	if notes != "" {
		return appendNotesTx(ctx, tx, runID, notes)
	}
	return nil
}

func appendNotesTx(ctx context.Context, tx *stdsql.Tx, runID, line string) error {
	if _, err := tx.ExecContext(ctx, `
		UPDATE runs
		SET notes = CASE WHEN notes = '' THEN $1 ELSE notes || E'\n' || $1 END
		WHERE id = $2`,
		notesLine(line), runID); err != nil {
		return fmt.Errorf("failed to append notes: %w", err)
	}
	return nil
}

func notesLine(line string) string {
	return fmt.Sprintf("[%s] %s", time.Now().UTC().Format(time.RFC3339), strings.TrimSpace(line))
}

func requireRow(res stdsql.Result, runID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: run %s", ErrNotFound, runID)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*models.Run, error) {
	var (
		run      models.Run
		criteria []byte
	)
	err := row.Scan(&run.ID, &run.CreatedAt, &run.UpdatedAt, &criteria,
		&run.TargetQuantity, &run.ContactsMin, &run.ContactsMax,
		&run.Stage, &run.Status, &run.Notes)
	if err != nil {
		if errors.Is(err, stdsql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}
	if len(criteria) > 0 {
		if err := json.Unmarshal(criteria, &run.Criteria); err != nil {
			return nil, fmt.Errorf("failed to unmarshal criteria: %w", err)
		}
	}
	return &run, nil
}
