package store

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// ListSuppressedDomains returns the internally-sourced suppressed domains,
// lowercased and sorted: active customer domains, domains contacted within
// the window, and the explicit blocklist. CRM-driven suppressions are
// layered on top by the suppression oracle.
func (s *Store) ListSuppressedDomains(ctx context.Context, window time.Duration) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT lower(domain) FROM customer_domains WHERE active
		UNION
		SELECT lower(domain) FROM outreach_log
		WHERE last_contacted_at >= now() - $1::interval
		UNION
		SELECT lower(domain) FROM blocked_domains`,
		fmt.Sprintf("%d seconds", int(window.Seconds())))
	if err != nil {
		return nil, fmt.Errorf("failed to query suppressed domains: %w", err)
	}
	defer rows.Close()

	var domains []string
	for rows.Next() {
		var domain string
		if err := rows.Scan(&domain); err != nil {
			return nil, fmt.Errorf("failed to scan suppressed domain: %w", err)
		}
		domains = append(domains, domain)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read suppressed domains: %w", err)
	}
	sort.Strings(domains)
	return domains, nil
}
