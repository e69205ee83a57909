package models

import "time"

// CandidateStatus tracks a candidate row (company or contact) through
// validation.
type CandidateStatus string

// Candidate statuses. Ready rows (validated or promoted) count toward gap
// arithmetic; rejected rows stop counting.
const (
	CandidateStatusCandidate CandidateStatus = "candidate"
	CandidateStatusValidated CandidateStatus = "validated"
	CandidateStatusPromoted  CandidateStatus = "promoted"
	CandidateStatusRejected  CandidateStatus = "rejected"
)

// Ready reports whether the candidate counts toward targets.
func (s CandidateStatus) Ready() bool {
	return s == CandidateStatusValidated || s == CandidateStatusPromoted
}

// CompanyCandidate is one company proposed for a run. Domain is stored
// lowercased and is unique per run.
type CompanyCandidate struct {
	ID              string          `json:"id"`
	RunID           string          `json:"run_id"`
	Name            string          `json:"name"`
	Website         string          `json:"website,omitempty"`
	Domain          string          `json:"domain"`
	State           string          `json:"state,omitempty"`
	Description     string          `json:"description,omitempty"`
	DiscoverySource string          `json:"discovery_source,omitempty"`
	PMSDetected     string          `json:"pms_detected,omitempty"`
	UnitsEstimate   int             `json:"units_estimate,omitempty"`
	Evidence        map[string]any  `json:"evidence,omitempty"`
	Status          CandidateStatus `json:"status"`
	// MeetsAllRequirements is nil until research reaches a verdict.
	MeetsAllRequirements *bool  `json:"meets_all_requirements,omitempty"`
	RejectedReasons      string `json:"rejected_reasons,omitempty"`
	IdempotencyKey       string `json:"idempotency_key,omitempty"`

	// Lease columns. WorkerID/LeaseUntil are set while a worker holds the
	// row and cleared on release.
	WorkerID   string     `json:"worker_id,omitempty"`
	LeaseUntil *time.Time `json:"lease_until,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// ResearchStatus tracks the enrichment row for a company.
type ResearchStatus string

const (
	ResearchStatusPending  ResearchStatus = "pending"
	ResearchStatusComplete ResearchStatus = "complete"
	ResearchStatusFailed   ResearchStatus = "failed"
)

// CompanyResearch is the enrichment result for one (run, company) pair.
// The presence of this row is what marks a company as researched.
type CompanyResearch struct {
	RunID      string         `json:"run_id"`
	CompanyID  string         `json:"company_id"`
	Facts      map[string]any `json:"facts,omitempty"`
	Signals    map[string]any `json:"signals,omitempty"`
	Confidence float64        `json:"confidence"`
	Status     ResearchStatus `json:"status"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// ContactCandidate is one decision-maker found for a company. Email and
// LinkedIn URL are each unique per (run, company) when non-empty.
type ContactCandidate struct {
	ID             string          `json:"id"`
	RunID          string          `json:"run_id"`
	CompanyID      string          `json:"company_id"`
	FullName       string          `json:"full_name"`
	Title          string          `json:"title,omitempty"`
	Email          string          `json:"email,omitempty"`
	LinkedInURL    string          `json:"linkedin_url,omitempty"`
	Department     string          `json:"department,omitempty"`
	Seniority      string          `json:"seniority,omitempty"`
	QualityScore   float64         `json:"quality_score,omitempty"`
	Signals        map[string]any  `json:"signals,omitempty"`
	Evidence       map[string]any  `json:"evidence,omitempty"`
	Status         CandidateStatus `json:"status"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`

	WorkerID   string     `json:"worker_id,omitempty"`
	LeaseUntil *time.Time `json:"lease_until,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// CatalogCompany is a pre-vetted seed from an internal PMS customer catalog,
// used to warm discovery before the list agent runs.
type CatalogCompany struct {
	ID            string `json:"id"`
	Catalog       string `json:"catalog"`
	PMS           string `json:"pms"`
	Name          string `json:"name"`
	Domain        string `json:"domain"`
	Website       string `json:"website,omitempty"`
	City          string `json:"city,omitempty"`
	State         string `json:"state,omitempty"`
	UnitsEstimate int    `json:"units_estimate,omitempty"`
}
