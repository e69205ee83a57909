// Package models defines the shared domain types persisted by the store
// and exchanged between the API, the workers, and the delivery layer.
package models

import (
	"fmt"
	"strings"
	"time"
)

// Stage is a run's position in the fixed pipeline sequence.
type Stage string

// Pipeline stages in order. A run only ever moves forward.
const (
	StageDiscovery Stage = "discovery"
	StageResearch  Stage = "research"
	StageContacts  Stage = "contact_discovery"
	StageDone      Stage = "done"
)

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool {
	switch s {
	case StageDiscovery, StageResearch, StageContacts, StageDone:
		return true
	}
	return false
}

func (s Stage) next() Stage {
	switch s {
	case StageDiscovery:
		return StageResearch
	case StageResearch:
		return StageContacts
	case StageContacts:
		return StageDone
	}
	return ""
}

// CanAdvanceTo reports whether target is the immediate successor of s.
// Stages never skip and never move backward.
func (s Stage) CanAdvanceTo(target Stage) bool {
	return target != "" && s.next() == target
}

// RunStatus is a run's lifecycle status, orthogonal to its stage.
type RunStatus string

// Run statuses. completed, error, and archived are terminal; archived is
// the only terminal status with an administrative exit (unarchive).
const (
	RunStatusActive            RunStatus = "active"
	RunStatusCompleted         RunStatus = "completed"
	RunStatusError             RunStatus = "error"
	RunStatusNeedsUserDecision RunStatus = "needs_user_decision"
	RunStatusArchived          RunStatus = "archived"
)

// Valid reports whether st is a known status.
func (st RunStatus) Valid() bool {
	switch st {
	case RunStatusActive, RunStatusCompleted, RunStatusError,
		RunStatusNeedsUserDecision, RunStatusArchived:
		return true
	}
	return false
}

// Terminal reports whether st ends the run's lifecycle.
func (st RunStatus) Terminal() bool {
	switch st {
	case RunStatusCompleted, RunStatusError, RunStatusArchived:
		return true
	}
	return false
}

// Criteria is the operator-supplied targeting profile for a run. It is
// stored as JSONB on the run row and treated as immutable except through
// explicit user decisions.
type Criteria struct {
	// PMS is the required property management software. A hard constraint
	// when set.
	PMS string `json:"pms,omitempty"`
	// City narrows the search to one metro area.
	City string `json:"city,omitempty"`
	// State is a single-state search. States takes precedence when set.
	State  string   `json:"state,omitempty"`
	States []string `json:"states,omitempty"`
	// UnitsMin is the minimum number of managed units.
	UnitsMin int `json:"units_min,omitempty"`
	// TargetDistribution optionally splits the company target across
	// states, e.g. {"TX": 30, "FL": 20}.
	TargetDistribution map[string]int `json:"target_distribution,omitempty"`
	// NotificationEmail receives delivery and decision mail for the run.
	NotificationEmail string `json:"notification_email,omitempty"`
}

// GeoSummary renders the geographic scope as one human-readable phrase,
// or "" when the criteria are nationwide.
func (c Criteria) GeoSummary() string {
	switch {
	case len(c.States) > 0:
		return strings.Join(c.States, ", ")
	case c.City != "" && c.State != "":
		return fmt.Sprintf("%s, %s", c.City, c.State)
	case c.City != "":
		return c.City
	case c.State != "":
		return c.State
	}
	return ""
}

// Run is the unit of work the pipeline coordinates on.
type Run struct {
	ID             string    `json:"id"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	Criteria       Criteria  `json:"criteria"`
	TargetQuantity int       `json:"target_quantity"`
	ContactsMin    int       `json:"contacts_min"`
	ContactsMax    int       `json:"contacts_max"`
	Stage          Stage     `json:"stage"`
	Status         RunStatus `json:"status"`
	Notes          string    `json:"notes,omitempty"`
}

// CreateRunRequest is the API payload for creating a run.
type CreateRunRequest struct {
	Criteria       Criteria `json:"criteria"`
	TargetQuantity int      `json:"target_quantity" binding:"required"`
	ContactsMin    int      `json:"contacts_min,omitempty"`
	ContactsMax    int      `json:"contacts_max,omitempty"`
}

// RunFilters narrows worker run selection. Zero values mean "any".
type RunFilters struct {
	Stage Stage
	RunID string
}

// UserDecision is an operator's routing choice on a run parked in
// needs_user_decision.
type UserDecision string

// Supported decisions.
const (
	// UserDecisionAcceptPartial delivers what was collected and completes
	// the run.
	UserDecisionAcceptPartial UserDecision = "accept_partial"
	// UserDecisionExpandGeography widens the criteria to statewide or
	// nationwide and restarts discovery.
	UserDecisionExpandGeography UserDecision = "expand_geography"
	// UserDecisionLoosenPMS drops the PMS hard constraint and restarts
	// discovery.
	UserDecisionLoosenPMS UserDecision = "loosen_pms"
)

// Valid reports whether d is a known decision.
func (d UserDecision) Valid() bool {
	switch d {
	case UserDecisionAcceptPartial, UserDecisionExpandGeography, UserDecisionLoosenPMS:
		return true
	}
	return false
}
