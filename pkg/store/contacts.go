package store

import (
	"context"
	stdsql "database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/reachvector/leadpipe/pkg/models"
)

const contactColumns = `id, run_id, company_id, full_name, title, email,
	linkedin_url, department, seniority, quality_score, signals, evidence,
	status, idempotency_key, worker_id, lease_until, created_at`

// InsertContactCandidate inserts a contact idempotently. Duplicates on
// (run, company, email), (run, company, linkedin_url), or
// (run, company, idempotency_key), each restricted to non-empty values,
// are absorbed with inserted=false.
func (s *Store) InsertContactCandidate(ctx context.Context, c *models.ContactCandidate) (inserted bool, err error) {
	if c.RunID == "" || c.CompanyID == "" {
		return false, NewValidationError("run_id/company_id", "required")
	}
	if c.FullName == "" {
		return false, NewValidationError("full_name", "required")
	}
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.Status == "" {
		c.Status = models.CandidateStatusCandidate
	}

	signals, err := marshalJSON(c.Signals)
	if err != nil {
		return false, err
	}
	evidence, err := marshalJSON(c.Evidence)
	if err != nil {
		return false, err
	}

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO contact_candidates (
			id, run_id, company_id, full_name, title, email, linkedin_url,
			department, seniority, quality_score, signals, evidence, status,
			idempotency_key
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING created_at`,
		c.ID, c.RunID, c.CompanyID, c.FullName, c.Title, c.Email,
		c.LinkedInURL, c.Department, c.Seniority, c.QualityScore,
		signals, evidence, c.Status, c.IdempotencyKey,
	)
	if err := row.Scan(&c.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to insert contact candidate: %w", err)
	}
	return true, nil
}

// ListContactCandidates returns all contacts for a run ordered by company
// and insertion time.
func (s *Store) ListContactCandidates(ctx context.Context, runID string) ([]*models.ContactCandidate, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+contactColumns+` FROM contact_candidates
		 WHERE run_id = $1 ORDER BY company_id, created_at, id`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list contact candidates: %w", err)
	}
	defer rows.Close()

	var contacts []*models.ContactCandidate
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}

// ListCompanyContacts returns the ready contacts for one company in a run.
func (s *Store) ListCompanyContacts(ctx context.Context, runID, companyID string) ([]*models.ContactCandidate, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+contactColumns+` FROM contact_candidates
		 WHERE run_id = $1 AND company_id = $2 AND status IN ('validated', 'promoted')
		 ORDER BY created_at, id`, runID, companyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list company contacts: %w", err)
	}
	defer rows.Close()

	var contacts []*models.ContactCandidate
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}

// SetContactStatus is the user-decision override on a persisted contact.
func (s *Store) SetContactStatus(ctx context.Context, contactID string, status models.CandidateStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE contact_candidates SET status = $1 WHERE id = $2`,
		status, contactID)
	if err != nil {
		return fmt.Errorf("failed to set contact status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check contact status result: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: contact %s", ErrNotFound, contactID)
	}
	return nil
}

func scanContact(row rowScanner) (*models.ContactCandidate, error) {
	var (
		c        models.ContactCandidate
		signals  []byte
		evidence []byte
		workerID stdsql.NullString
		lease    stdsql.NullTime
	)
	err := row.Scan(&c.ID, &c.RunID, &c.CompanyID, &c.FullName, &c.Title,
		&c.Email, &c.LinkedInURL, &c.Department, &c.Seniority,
		&c.QualityScore, &signals, &evidence, &c.Status, &c.IdempotencyKey,
		&workerID, &lease, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, stdsql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan contact candidate: %w", err)
	}
	if err := unmarshalJSON(signals, &c.Signals); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(evidence, &c.Evidence); err != nil {
		return nil, err
	}
	c.WorkerID = nullString(workerID)
	c.LeaseUntil = nullTime(lease)
	return &c, nil
}
