// Package suppress implements the Suppression Oracle: the set of domains
// that may never be proposed as candidates. It is the union of active
// customer domains, recently-contacted domains, an explicit denylist, and
// whatever the external CRM reports.
package suppress

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// DomainLister serves the internally-stored suppressed domains. The run
// store implements it.
type DomainLister interface {
	ListSuppressedDomains(ctx context.Context, window time.Duration) ([]string, error)
}

// CRMReader is the read contract against the external CRM. Implementations
// are expected to be best-effort; the oracle degrades gracefully when the
// CRM is unreachable.
type CRMReader interface {
	// SuppressedDomains returns domains the CRM marks as customers or as
	// contacted within the window.
	SuppressedDomains(ctx context.Context, window time.Duration) ([]string, error)
}

// Oracle computes the suppressed-domain set on demand. All comparisons are
// case-insensitive; the set always carries lowercased domains.
type Oracle struct {
	src    DomainLister
	crm    CRMReader // nil disables the CRM source
	window time.Duration
	logger *slog.Logger
}

// New creates an Oracle over src. crm may be nil. window is the
// recently-contacted lookback (90 days unless the operator overrides it).
func New(src DomainLister, crm CRMReader, window time.Duration) *Oracle {
	return &Oracle{
		src:    src,
		crm:    crm,
		window: window,
		logger: slog.Default().With("component", "suppression-oracle"),
	}
}

// Set returns the current suppressed-domain set, lowercased.
func (o *Oracle) Set(ctx context.Context) (map[string]struct{}, error) {
	domains, err := o.src.ListSuppressedDomains(ctx, o.window)
	if err != nil {
		return nil, err
	}

	set := make(map[string]struct{}, len(domains))
	for _, d := range domains {
		set[strings.ToLower(strings.TrimSpace(d))] = struct{}{}
	}

	o.mergeCRM(ctx, set)
	return set, nil
}

// List returns the suppressed domains as a sorted-insertion slice, suitable
// for serializing into Agent prompts.
func (o *Oracle) List(ctx context.Context) ([]string, error) {
	set, err := o.Set(ctx)
	if err != nil {
		return nil, err
	}
	domains := make([]string, 0, len(set))
	for d := range set {
		domains = append(domains, d)
	}
	return domains, nil
}

// Contains reports whether domain is suppressed in the given set.
func Contains(set map[string]struct{}, domain string) bool {
	_, ok := set[strings.ToLower(strings.TrimSpace(domain))]
	return ok
}

// mergeCRM folds CRM-driven suppressions into the set. CRM failures are
// logged, not returned: internal sources alone still provide a usable set.
func (o *Oracle) mergeCRM(ctx context.Context, set map[string]struct{}) {
	if o.crm == nil {
		return
	}
	domains, err := o.crm.SuppressedDomains(ctx, o.window)
	if err != nil {
		o.logger.Warn("CRM suppression lookup failed, continuing with internal sources",
			"error", err)
		return
	}
	for _, d := range domains {
		set[strings.ToLower(strings.TrimSpace(d))] = struct{}{}
	}
}
