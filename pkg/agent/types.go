// Package agent provides the client for the external reasoning Agent
// gateway, the typed output contracts per role, and the prompt builders.
//
// The core never trusts free-form text for machine-consumed fields: every
// invocation declares a structured output schema, responses are validated
// against it before decoding, and the raw Markdown artifact is kept only as
// evidence for human delivery.
package agent

import (
	"context"
	"encoding/json"
	"errors"
)

// Role selects the Agent configuration for an invocation.
type Role string

// Agent roles. The list agent discovers companies and must never fetch
// contacts; the research and contact agents work one entity at a time.
const (
	RoleList     Role = "list"
	RoleResearch Role = "research"
	RoleContact  Role = "contact"
)

// ErrContract indicates the Agent's output violated its declared schema or
// omitted required content. Contract violations are not retried.
var ErrContract = errors.New("agent output violates contract")

// Invocation is a single Agent call: a prompt plus the declared output
// schema for the role.
type Invocation struct {
	Role         Role            `json:"role"`
	Prompt       string          `json:"prompt"`
	OutputSchema json.RawMessage `json:"output_schema"`
}

// Result is the raw gateway response: the typed output object and the raw
// textual/markdown artifact the Agent produced alongside it.
type Result struct {
	Output   json.RawMessage `json:"output"`
	Artifact string          `json:"artifact"`
}

// Gateway is the transport to the Agent service. Workers wrap Invoke in the
// retry harness; decoding and schema validation happen outside it so
// contract violations are never retried.
type Gateway interface {
	Invoke(ctx context.Context, inv Invocation) (*Result, error)
	ResetSession(ctx context.Context) error
}

// DiscoveredCompany is one company proposed by the list agent.
type DiscoveredCompany struct {
	Name          string         `json:"name"`
	Domain        string         `json:"domain"`
	Website       string         `json:"website,omitempty"`
	State         string         `json:"state,omitempty"`
	PMS           string         `json:"pms,omitempty"`
	UnitsEstimate int            `json:"units_estimate,omitempty"`
	QualityScore  float64        `json:"quality_score,omitempty"`
	Evidence      map[string]any `json:"evidence,omitempty"`
}

// DiscoveryOutput is the list agent's structured output.
type DiscoveryOutput struct {
	Companies []DiscoveredCompany `json:"companies"`
	Metadata  map[string]any      `json:"metadata,omitempty"`
}

// ResearchOutput is the research agent's structured output for one company.
// Facts carries an analysis_markdown section plus PMS confirmation, units,
// property mix, and states of operation.
type ResearchOutput struct {
	Facts                map[string]any `json:"facts"`
	Signals              map[string]any `json:"signals,omitempty"`
	Confidence           float64        `json:"confidence"`
	MeetsAllRequirements *bool          `json:"meets_all_requirements,omitempty"`
	RejectedReason       string         `json:"rejected_reason,omitempty"`
}

// DiscoveredContact is one decision-maker proposed by the contact agent.
// Report is the full Markdown dossier with the required sections.
type DiscoveredContact struct {
	FullName     string         `json:"full_name"`
	Title        string         `json:"title,omitempty"`
	Email        string         `json:"email,omitempty"`
	LinkedInURL  string         `json:"linkedin_url,omitempty"`
	Department   string         `json:"department,omitempty"`
	Seniority    string         `json:"seniority,omitempty"`
	QualityScore float64        `json:"quality_score,omitempty"`
	Signals      map[string]any `json:"signals,omitempty"`
	Report       string         `json:"report"`
}

// ContactOutput is the contact agent's structured output for one company.
type ContactOutput struct {
	Contacts []DiscoveredContact `json:"contacts"`
	Metadata map[string]any      `json:"metadata,omitempty"`
}
