package store

import (
	"context"
	stdsql "database/sql"
	"errors"
	"fmt"

	"github.com/reachvector/leadpipe/pkg/models"
)

// CompanyGap reads the company_gap view for a run.
func (s *Store) CompanyGap(ctx context.Context, runID string) (*models.CompanyGap, error) {
	var g models.CompanyGap
	err := s.db.QueryRowContext(ctx, `
		SELECT run_id, target_quantity, companies_ready, companies_gap
		FROM company_gap WHERE run_id = $1`, runID).
		Scan(&g.RunID, &g.TargetQuantity, &g.CompaniesReady, &g.CompaniesGap)
	if err != nil {
		if errors.Is(err, stdsql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read company gap: %w", err)
	}
	return &g, nil
}

// ContactGapPerCompany reads the per-company contact gaps for a run,
// restricted to companies whose status permits contact work.
func (s *Store) ContactGapPerCompany(ctx context.Context, runID string) ([]*models.CompanyContactGap, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, company_id, contacts_ready, contacts_min_gap, contacts_capacity
		FROM contact_gap_per_company WHERE run_id = $1
		ORDER BY company_id`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to read contact gap per company: %w", err)
	}
	defer rows.Close()

	var gaps []*models.CompanyContactGap
	for rows.Next() {
		var g models.CompanyContactGap
		if err := rows.Scan(&g.RunID, &g.CompanyID, &g.ContactsReady,
			&g.ContactsMinGap, &g.ContactsCapacity); err != nil {
			return nil, fmt.Errorf("failed to scan contact gap row: %w", err)
		}
		gaps = append(gaps, &g)
	}
	return gaps, rows.Err()
}

// ContactGap reads the aggregate contact gap for a run.
func (s *Store) ContactGap(ctx context.Context, runID string) (*models.ContactGap, error) {
	var g models.ContactGap
	err := s.db.QueryRowContext(ctx, `
		SELECT run_id, contacts_min_gap_total, contacts_capacity_total
		FROM contact_gap WHERE run_id = $1`, runID).
		Scan(&g.RunID, &g.ContactsMinGapTotal, &g.ContactsCapacityTotal)
	if err != nil {
		if errors.Is(err, stdsql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read contact gap: %w", err)
	}
	return &g, nil
}

// ResumePlan joins the run with both gap aggregates; it is the single view
// a restarted worker or the UI consults for remaining work.
func (s *Store) ResumePlan(ctx context.Context, runID string) (*models.ResumePlan, error) {
	run, err := s.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	companyGap, err := s.CompanyGap(ctx, runID)
	if err != nil {
		return nil, err
	}
	contactGap, err := s.ContactGap(ctx, runID)
	if err != nil {
		return nil, err
	}
	return &models.ResumePlan{
		RunID:      run.ID,
		Stage:      run.Stage,
		Status:     run.Status,
		CompanyGap: *companyGap,
		ContactGap: *contactGap,
	}, nil
}
