// Package candidate is the staging table for proposed growth entries.
// Candidates move pending -> approved|rejected, approved -> rejected, and
// approved -> applied (merge only). applied and rejected are terminal.
package candidate

import (
	"time"

	"github.com/p-blackswan/persona-curator/internal/conflict"
	"github.com/p-blackswan/persona-curator/internal/profile"
)

// IDPrefix prefixes candidate identifiers.
const IDPrefix = "CAND"

// Status is a candidate lifecycle state.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusApplied  Status = "applied"
)

// ParseStatus validates s as a Status.
func ParseStatus(s string) (Status, bool) {
	switch st := Status(s); st {
	case StatusPending, StatusApproved, StatusRejected, StatusApplied:
		return st, true
	}
	return "", false
}

// Terminal reports whether no transition may leave s.
func (s Status) Terminal() bool {
	return s == StatusApplied || s == StatusRejected
}

// canTransition is the lifecycle table for operator decisions. The move to
// applied is reserved for the merge engine.
func canTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusApproved || to == StatusRejected
	case StatusApproved:
		return to == StatusRejected
	}
	return false
}

// Candidate is one staged proposal.
type Candidate struct {
	ID             string              `yaml:"id" json:"id"`
	Status         Status              `yaml:"status" json:"status"`
	CreatedAt      time.Time           `yaml:"created_at" json:"created_at"`
	Channel        string              `yaml:"channel" json:"channel"`
	Category       profile.Category    `yaml:"category" json:"category"`
	Summary        string              `yaml:"summary" json:"summary"`
	SuggestedEntry string              `yaml:"suggested_entry" json:"suggested_entry"`
	Section        string              `yaml:"section,omitempty" json:"section,omitempty"`
	PromptAddition string              `yaml:"prompt_addition,omitempty" json:"prompt_addition,omitempty"`
	Conflicts      []conflict.Conflict `yaml:"conflicts,omitempty" json:"conflicts,omitempty"`
	DecidedBy      string              `yaml:"decided_by,omitempty" json:"decided_by,omitempty"`
	DecidedAt      time.Time           `yaml:"decided_at,omitempty" json:"decided_at,omitempty"`
	AppliedAt      time.Time           `yaml:"applied_at,omitempty" json:"applied_at,omitempty"`
	EvidenceID     string              `yaml:"evidence_id,omitempty" json:"evidence_id,omitempty"`
	GrowthID       string              `yaml:"growth_id,omitempty" json:"growth_id,omitempty"`
}

// CheckText is the text compared against the profile for conflicts.
func (c Candidate) CheckText() string {
	if c.SuggestedEntry == "" {
		return c.Summary
	}
	return c.Summary + "\n" + c.SuggestedEntry
}

// Draft is the analyst's proposal before an identifier is allocated.
type Draft struct {
	Category       profile.Category `json:"category"`
	Summary        string           `json:"summary"`
	SuggestedEntry string           `json:"suggested_entry"`
	Section        string           `json:"section,omitempty"`
	PromptAddition string           `json:"prompt_addition,omitempty"`
	Channel        string           `json:"channel"`
	At             time.Time        `json:"at,omitempty"`
}

// Applied describes how the merge engine committed one candidate.
type Applied struct {
	EvidenceID string
	GrowthID   string
	ApprovedBy string
	At         time.Time
}
