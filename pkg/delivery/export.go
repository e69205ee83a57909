// Package delivery projects a completed run's rows into the final tabular
// exports and sends notification email.
package delivery

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/reachvector/leadpipe/pkg/models"
)

// Column sets are fixed; consumers key on header names.
var companyHeader = []string{
	"run_id", "company_id", "name", "domain", "website", "state",
	"description", "discovery_source", "pms_detected", "units_estimate",
	"status", "meets_all_requirements", "confidence", "agent_summary",
	"states_of_operation", "property_mix", "created_at",
}

var contactHeader = []string{
	"run_id", "company_id", "company_name", "company_domain", "contact_id",
	"full_name", "title", "email", "linkedin_url", "department", "seniority",
	"quality_score", "status", "professional_summary", "personal_anecdotes",
	"professional_anecdotes", "sources", "gaps", "created_at",
}

// CompanyCSV renders the company export for a run. Only ready companies are
// included, ordered by domain, so repeated exports of the same rows are
// byte-identical.
func CompanyCSV(run *models.Run, companies []*models.CompanyCandidate, research map[string]*models.CompanyResearch) ([]byte, error) {
	ready := readyCompanies(companies)
	sort.Slice(ready, func(i, j int) bool { return ready[i].Domain < ready[j].Domain })

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(companyHeader); err != nil {
		return nil, fmt.Errorf("failed to write company header: %w", err)
	}

	for _, c := range ready {
		var (
			confidence string
			summary    string
			states     string
			mix        string
		)
		if r := research[c.ID]; r != nil {
			confidence = formatFloat(r.Confidence)
			summary = factString(r.Facts, "analysis_markdown")
			states = factString(r.Facts, "states_of_operation")
			mix = factString(r.Facts, "property_mix")
		}
		record := []string{
			run.ID, c.ID, c.Name, c.Domain, c.Website, c.State,
			c.Description, c.DiscoverySource, c.PMSDetected,
			strconv.Itoa(c.UnitsEstimate), string(c.Status),
			formatBoolPtr(c.MeetsAllRequirements), confidence, summary,
			states, mix, c.CreatedAt.UTC().Format(time.RFC3339),
		}
		if err := w.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write company row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush company csv: %w", err)
	}
	return buf.Bytes(), nil
}

// ContactCSV renders the contact export for a run: ready contacts of ready
// companies, ordered by company domain then contact name.
func ContactCSV(run *models.Run, companies []*models.CompanyCandidate, contacts []*models.ContactCandidate) ([]byte, error) {
	byID := make(map[string]*models.CompanyCandidate, len(companies))
	for _, c := range companies {
		byID[c.ID] = c
	}

	var ready []*models.ContactCandidate
	for _, ct := range contacts {
		company := byID[ct.CompanyID]
		if company == nil || !company.Status.Ready() || !ct.Status.Ready() {
			continue
		}
		ready = append(ready, ct)
	}
	sort.Slice(ready, func(i, j int) bool {
		di, dj := byID[ready[i].CompanyID].Domain, byID[ready[j].CompanyID].Domain
		if di != dj {
			return di < dj
		}
		if ready[i].FullName != ready[j].FullName {
			return ready[i].FullName < ready[j].FullName
		}
		return ready[i].ID < ready[j].ID
	})

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(contactHeader); err != nil {
		return nil, fmt.Errorf("failed to write contact header: %w", err)
	}

	for _, ct := range ready {
		company := byID[ct.CompanyID]
		record := []string{
			run.ID, ct.CompanyID, company.Name, company.Domain, ct.ID,
			ct.FullName, ct.Title, ct.Email, ct.LinkedInURL, ct.Department,
			ct.Seniority, formatFloat(ct.QualityScore), string(ct.Status),
			evidenceString(ct.Evidence, "professional_summary"),
			evidenceString(ct.Evidence, "personal_anecdotes"),
			evidenceString(ct.Evidence, "professional_anecdotes"),
			evidenceString(ct.Evidence, "sources"),
			evidenceString(ct.Evidence, "gaps"),
			ct.CreatedAt.UTC().Format(time.RFC3339),
		}
		if err := w.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write contact row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush contact csv: %w", err)
	}
	return buf.Bytes(), nil
}

func readyCompanies(companies []*models.CompanyCandidate) []*models.CompanyCandidate {
	var ready []*models.CompanyCandidate
	for _, c := range companies {
		if c.Status.Ready() {
			ready = append(ready, c)
		}
	}
	return ready
}

func factString(facts map[string]any, key string) string {
	if facts == nil {
		return ""
	}
	switch v := facts[key].(type) {
	case string:
		return v
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			parts = append(parts, fmt.Sprint(item))
		}
		return strings.Join(parts, "; ")
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func evidenceString(evidence map[string]any, key string) string {
	if evidence == nil {
		return ""
	}
	if s, ok := evidence[key].(string); ok {
		return s
	}
	return ""
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func formatBoolPtr(b *bool) string {
	if b == nil {
		return ""
	}
	return strconv.FormatBool(*b)
}
