package models

// CompanyGap is the company_gap view row: how far a run is from its
// company target, counting only ready candidates.
type CompanyGap struct {
	RunID          string `json:"run_id"`
	TargetQuantity int    `json:"target_quantity"`
	CompaniesReady int    `json:"companies_ready"`
	CompaniesGap   int    `json:"companies_gap"`
}

// CompanyContactGap is the contact_gap_per_company view row: one ready
// company's distance from the contact minimum, plus headroom to the max.
type CompanyContactGap struct {
	RunID            string `json:"run_id"`
	CompanyID        string `json:"company_id"`
	ContactsReady    int    `json:"contacts_ready"`
	ContactsMinGap   int    `json:"contacts_min_gap"`
	ContactsCapacity int    `json:"contacts_capacity"`
}

// ContactGap is the contact_gap view row: the run-level contact aggregates.
// A min-gap total of zero is the contact stage's completion condition.
type ContactGap struct {
	RunID                 string `json:"run_id"`
	ContactsMinGapTotal   int    `json:"contacts_min_gap_total"`
	ContactsCapacityTotal int    `json:"contacts_capacity_total"`
}

// ResumePlan is the remaining-work summary for a run: its position plus
// both gap aggregates. Workers and the API derive next actions from this,
// never from private worker state.
type ResumePlan struct {
	RunID      string     `json:"run_id"`
	Stage      Stage      `json:"stage"`
	Status     RunStatus  `json:"status"`
	CompanyGap CompanyGap `json:"company_gap"`
	ContactGap ContactGap `json:"contact_gap"`
}
