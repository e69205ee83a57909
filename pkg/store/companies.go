package store

import (
	"context"
	stdsql "database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/reachvector/leadpipe/pkg/models"
)

const companyColumns = `id, run_id, name, website, domain, state, description,
	discovery_source, pms_detected, units_estimate, evidence, status,
	meets_all_requirements, rejected_reasons, idempotency_key, worker_id,
	lease_until, created_at`

// InsertCompanyCandidate inserts a candidate idempotently. A duplicate
// (run_id, lower(domain)) or (run_id, lower(idempotency_key)) is absorbed:
// the method returns inserted=false and no error. Any other failure
// propagates.
func (s *Store) InsertCompanyCandidate(ctx context.Context, c *models.CompanyCandidate) (inserted bool, err error) {
	if c.RunID == "" {
		return false, NewValidationError("run_id", "required")
	}
	if c.Domain == "" {
		return false, NewValidationError("domain", "required")
	}
	if c.Name == "" {
		return false, NewValidationError("name", "required")
	}
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.Status == "" {
		c.Status = models.CandidateStatusCandidate
	}

	evidence, err := marshalJSON(c.Evidence)
	if err != nil {
		return false, err
	}

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO company_candidates (
			id, run_id, name, website, domain, state, description,
			discovery_source, pms_detected, units_estimate, evidence, status,
			meets_all_requirements, rejected_reasons, idempotency_key
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING created_at`,
		c.ID, c.RunID, c.Name, c.Website, strings.ToLower(c.Domain), c.State,
		c.Description, c.DiscoverySource, c.PMSDetected, c.UnitsEstimate,
		evidence, c.Status, c.MeetsAllRequirements, c.RejectedReasons,
		c.IdempotencyKey,
	)
	if err := row.Scan(&c.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to insert company candidate: %w", err)
	}
	return true, nil
}

// GetCompanyCandidate fetches one candidate by id.
func (s *Store) GetCompanyCandidate(ctx context.Context, companyID string) (*models.CompanyCandidate, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+companyColumns+` FROM company_candidates WHERE id = $1`, companyID)
	return scanCompany(row)
}

// ListCompanyCandidates returns all candidates for a run, ordered by
// insertion time.
func (s *Store) ListCompanyCandidates(ctx context.Context, runID string) ([]*models.CompanyCandidate, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+companyColumns+` FROM company_candidates
		 WHERE run_id = $1 ORDER BY created_at, id`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list company candidates: %w", err)
	}
	defer rows.Close()
	return collectCompanies(rows)
}

// ListReadyCompanies returns the validated/promoted candidates for a run.
func (s *Store) ListReadyCompanies(ctx context.Context, runID string) ([]*models.CompanyCandidate, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+companyColumns+` FROM company_candidates
		 WHERE run_id = $1 AND status IN ('validated', 'promoted')
		 ORDER BY created_at, id`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list ready companies: %w", err)
	}
	defer rows.Close()
	return collectCompanies(rows)
}

// ClaimCompanyForResearch atomically leases one validated company in the run
// that has no research row. SELECT ... FOR UPDATE SKIP LOCKED guarantees at
// most one worker per company; observing worker_id=me on the returned row is
// proof of exclusive tenure until lease_until.
func (s *Store) ClaimCompanyForResearch(ctx context.Context, runID, workerID string, lease time.Duration) (*models.CompanyCandidate, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		SELECT `+companyColumns+` FROM company_candidates cc
		WHERE cc.run_id = $1
		  AND cc.status IN ('validated', 'promoted')
		  AND NOT EXISTS (
			SELECT 1 FROM company_research cr
			WHERE cr.run_id = cc.run_id AND cr.company_id = cc.id
		  )
		  AND (cc.lease_until IS NULL OR cc.lease_until < now())
		ORDER BY cc.created_at, cc.id
		LIMIT 1
		FOR UPDATE SKIP LOCKED`, runID)

	company, err := scanCompany(row)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNoWorkAvailable
		}
		return nil, err
	}

	leaseUntil, err := stampLease(ctx, tx, company.ID, workerID, lease)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}

	company.WorkerID = workerID
	company.LeaseUntil = &leaseUntil
	return company, nil
}

// ClaimCompanyForContacts leases one company whose contact minimum is not yet
// met and returns it with the outstanding gap (needed).
func (s *Store) ClaimCompanyForContacts(ctx context.Context, runID, workerID string, lease time.Duration) (*models.CompanyCandidate, int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	cols := prefixColumns(companyColumns, "cc")
	row := tx.QueryRowContext(ctx, `
		SELECT `+cols+`,
		       GREATEST(r.contacts_min - (
				SELECT COUNT(*) FROM contact_candidates ct
				WHERE ct.run_id = cc.run_id AND ct.company_id = cc.id
				  AND ct.status IN ('validated', 'promoted')
		       ), 0) AS needed
		FROM company_candidates cc
		JOIN runs r ON r.id = cc.run_id
		WHERE cc.run_id = $1
		  AND cc.status IN ('validated', 'promoted')
		  AND (cc.lease_until IS NULL OR cc.lease_until < now())
		  AND (
			SELECT COUNT(*) FROM contact_candidates ct
			WHERE ct.run_id = cc.run_id AND ct.company_id = cc.id
			  AND ct.status IN ('validated', 'promoted')
		  ) < r.contacts_min
		ORDER BY cc.created_at, cc.id
		LIMIT 1
		FOR UPDATE OF cc SKIP LOCKED`, runID)

	var needed int
	company, err := scanCompanyWith(row, &needed)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, 0, ErrNoWorkAvailable
		}
		return nil, 0, err
	}

	leaseUntil, err := stampLease(ctx, tx, company.ID, workerID, lease)
	if err != nil {
		return nil, 0, err
	}
	if err := tx.Commit(); err != nil {
		return nil, 0, fmt.Errorf("failed to commit claim: %w", err)
	}

	company.WorkerID = workerID
	company.LeaseUntil = &leaseUntil
	return company, needed, nil
}

// ReleaseCompanyLease clears the lease columns on a company row. Always
// called when a worker finishes with a claim, success or failure. The
// worker_id guard keeps a stale owner, whose lease expired and was
// re-claimed, from clearing the new holder's lease.
func (s *Store) ReleaseCompanyLease(ctx context.Context, companyID, workerID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE company_candidates
		SET worker_id = NULL, lease_until = NULL
		WHERE id = $1 AND worker_id = $2`, companyID, workerID)
	if err != nil {
		return fmt.Errorf("failed to release company lease: %w", err)
	}
	return nil
}

// RejectCompanyCandidate marks a candidate rejected with the disqualifier
// stated by the research agent. Rejected rows stop counting toward gaps.
func (s *Store) RejectCompanyCandidate(ctx context.Context, companyID, reason string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE company_candidates
		SET status = 'rejected', meets_all_requirements = FALSE, rejected_reasons = $1
		WHERE id = $2`, reason, companyID)
	if err != nil {
		return fmt.Errorf("failed to reject company candidate: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check reject result: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: company %s", ErrNotFound, companyID)
	}
	return nil
}

// CountResearchPending reports how many ready companies still lack a
// research row; zero means the research stage is drained.
func (s *Store) CountResearchPending(ctx context.Context, runID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM company_candidates cc
		WHERE cc.run_id = $1
		  AND cc.status IN ('validated', 'promoted')
		  AND NOT EXISTS (
			SELECT 1 FROM company_research cr
			WHERE cr.run_id = cc.run_id AND cr.company_id = cc.id
		  )`, runID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count research pending: %w", err)
	}
	return n, nil
}

// helpers

// stampLease writes worker_id and lease_until on a claimed row inside tx.
func stampLease(ctx context.Context, tx *stdsql.Tx, companyID, workerID string, lease time.Duration) (time.Time, error) {
	var leaseUntil time.Time
	err := tx.QueryRowContext(ctx, `
		UPDATE company_candidates
		SET worker_id = $1, lease_until = now() + $2::interval
		WHERE id = $3
		RETURNING lease_until`,
		workerID, fmt.Sprintf("%d seconds", int(lease.Seconds())), companyID,
	).Scan(&leaseUntil)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to stamp lease: %w", err)
	}
	return leaseUntil, nil
}

// prefixColumns qualifies each column in list with a table alias.
func prefixColumns(list, alias string) string {
	parts := strings.Split(list, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

func scanCompany(row rowScanner) (*models.CompanyCandidate, error) {
	return scanCompanyWith(row)
}

// scanCompanyWith scans a company row plus any trailing extra columns.
func scanCompanyWith(row rowScanner, extra ...any) (*models.CompanyCandidate, error) {
	var (
		c        models.CompanyCandidate
		evidence []byte
		meets    stdsql.NullBool
		workerID stdsql.NullString
		lease    stdsql.NullTime
	)
	dest := []any{
		&c.ID, &c.RunID, &c.Name, &c.Website, &c.Domain, &c.State,
		&c.Description, &c.DiscoverySource, &c.PMSDetected, &c.UnitsEstimate,
		&evidence, &c.Status, &meets, &c.RejectedReasons, &c.IdempotencyKey,
		&workerID, &lease, &c.CreatedAt,
	}
	dest = append(dest, extra...)

	if err := row.Scan(dest...); err != nil {
		if errors.Is(err, stdsql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan company candidate: %w", err)
	}

	if err := unmarshalJSON(evidence, &c.Evidence); err != nil {
		return nil, err
	}
	if meets.Valid {
		v := meets.Bool
		c.MeetsAllRequirements = &v
	}
	c.WorkerID = nullString(workerID)
	c.LeaseUntil = nullTime(lease)
	return &c, nil
}

func collectCompanies(rows *stdsql.Rows) ([]*models.CompanyCandidate, error) {
	var companies []*models.CompanyCandidate
	for rows.Next() {
		c, err := scanCompany(rows)
		if err != nil {
			return nil, err
		}
		companies = append(companies, c)
	}
	return companies, rows.Err()
}
