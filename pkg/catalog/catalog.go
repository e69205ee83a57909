// Package catalog queries the internal seed catalogs: pre-vetted companies
// that can satisfy discovery without an Agent call.
package catalog

import (
	"context"
	stdsql "database/sql"
	"fmt"
	"strings"

	"github.com/reachvector/leadpipe/pkg/models"
)

// Catalog reads seed companies from the catalog_companies table.
type Catalog struct {
	db *stdsql.DB
}

// New creates a Catalog over an open connection.
func New(db *stdsql.DB) *Catalog {
	return &Catalog{db: db}
}

// Match returns catalog entries matching the run criteria. PMS matching is
// exact (case-insensitive); geography narrows by state and then city when
// present. Results are ordered by units estimate descending so the largest
// portfolios seed first.
func (c *Catalog) Match(ctx context.Context, criteria models.Criteria) ([]*models.CatalogCompany, error) {
	if criteria.PMS == "" {
		return nil, nil
	}

	query := `SELECT id, catalog, pms, name, domain, website, city, state, units_estimate
		FROM catalog_companies
		WHERE lower(pms) = lower($1)`
	args := []any{criteria.PMS}

	states := criteria.States
	if len(states) == 0 && criteria.State != "" {
		states = []string{criteria.State}
	}
	if len(states) > 0 {
		placeholders := make([]string, len(states))
		for i, st := range states {
			args = append(args, strings.ToLower(st))
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		query += fmt.Sprintf(" AND lower(state) IN (%s)", strings.Join(placeholders, ", "))
	}
	if criteria.City != "" {
		args = append(args, strings.ToLower(criteria.City))
		query += fmt.Sprintf(" AND lower(city) = $%d", len(args))
	}
	if criteria.UnitsMin > 0 {
		args = append(args, criteria.UnitsMin)
		query += fmt.Sprintf(" AND units_estimate >= $%d", len(args))
	}
	query += " ORDER BY units_estimate DESC, lower(domain)"

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query catalog: %w", err)
	}
	defer rows.Close()

	var seeds []*models.CatalogCompany
	for rows.Next() {
		var seed models.CatalogCompany
		if err := rows.Scan(&seed.ID, &seed.Catalog, &seed.PMS, &seed.Name,
			&seed.Domain, &seed.Website, &seed.City, &seed.State,
			&seed.UnitsEstimate); err != nil {
			return nil, fmt.Errorf("failed to scan catalog company: %w", err)
		}
		seeds = append(seeds, &seed)
	}
	return seeds, rows.Err()
}
