package store

import (
	"context"
	stdsql "database/sql"
	"errors"
	"fmt"

	"github.com/reachvector/leadpipe/pkg/models"
)

// UpsertCompanyResearch writes the enrichment row for (run, company),
// replacing any previous result. A crashed worker re-running the same
// research therefore converges on a single row.
func (s *Store) UpsertCompanyResearch(ctx context.Context, r *models.CompanyResearch) error {
	if r.RunID == "" || r.CompanyID == "" {
		return NewValidationError("run_id/company_id", "required")
	}
	if r.Status == "" {
		r.Status = models.ResearchStatusPending
	}

	facts, err := marshalJSON(r.Facts)
	if err != nil {
		return err
	}
	signals, err := marshalJSON(r.Signals)
	if err != nil {
		return err
	}

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO company_research (run_id, company_id, facts, signals, confidence, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (run_id, company_id) DO UPDATE
		SET facts = EXCLUDED.facts,
		    signals = EXCLUDED.signals,
		    confidence = EXCLUDED.confidence,
		    status = EXCLUDED.status,
		    updated_at = now()
		RETURNING created_at, updated_at`,
		r.RunID, r.CompanyID, facts, signals, r.Confidence, r.Status,
	)
	if err := row.Scan(&r.CreatedAt, &r.UpdatedAt); err != nil {
		return fmt.Errorf("failed to upsert company research: %w", err)
	}
	return nil
}

// GetCompanyResearch fetches the research row for (run, company).
func (s *Store) GetCompanyResearch(ctx context.Context, runID, companyID string) (*models.CompanyResearch, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT run_id, company_id, facts, signals, confidence, status, created_at, updated_at
		FROM company_research
		WHERE run_id = $1 AND company_id = $2`, runID, companyID)
	return scanResearch(row)
}

// ListCompanyResearch returns all research rows for a run keyed by company id.
func (s *Store) ListCompanyResearch(ctx context.Context, runID string) (map[string]*models.CompanyResearch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, company_id, facts, signals, confidence, status, created_at, updated_at
		FROM company_research
		WHERE run_id = $1`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list company research: %w", err)
	}
	defer rows.Close()

	result := make(map[string]*models.CompanyResearch)
	for rows.Next() {
		r, err := scanResearch(rows)
		if err != nil {
			return nil, err
		}
		result[r.CompanyID] = r
	}
	return result, rows.Err()
}

func scanResearch(row rowScanner) (*models.CompanyResearch, error) {
	var (
		r       models.CompanyResearch
		facts   []byte
		signals []byte
	)
	err := row.Scan(&r.RunID, &r.CompanyID, &facts, &signals,
		&r.Confidence, &r.Status, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, stdsql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan company research: %w", err)
	}
	if err := unmarshalJSON(facts, &r.Facts); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(signals, &r.Signals); err != nil {
		return nil, err
	}
	return &r, nil
}
