package mgmt

import (
	"github.com/p-blackswan/persona-curator/internal/candidate"
	"github.com/p-blackswan/persona-curator/internal/health"
)

// StageRequest is the body of POST /api/v1/candidates.
type StageRequest struct {
	Category       string `json:"category"`
	Summary        string `json:"summary"`
	SuggestedEntry string `json:"suggested_entry"`
	Section        string `json:"section"`
	PromptAddition string `json:"prompt_addition"`
	Channel        string `json:"channel"`
}

// DecisionRequest is the body of POST /api/v1/candidates/:id/decision.
type DecisionRequest struct {
	Decision string `json:"decision"` // approved | rejected
	By       string `json:"by"`
}

// ExchangeRequest is the body of POST /api/v1/exchanges.
type ExchangeRequest struct {
	Channel   string `json:"channel"`
	UserText  string `json:"user_text"`
	ReplyText string `json:"reply_text"`
}

// TurnRequest is the body of POST /api/v1/channels/:channel/turns.
type TurnRequest struct {
	Text string `json:"text"`
}

// CandidateResponse wraps a single candidate.
type CandidateResponse struct {
	Candidate candidate.Candidate `json:"candidate"`
}

// CandidateListResponse is returned by GET /api/v1/candidates.
type CandidateListResponse struct {
	Candidates []candidate.Candidate `json:"candidates"`
	Total      int                   `json:"total"`
}

// ExchangeResponse reports whether an exchange was queued.
type ExchangeResponse struct {
	Queued  bool `json:"queued"`
	Pending int  `json:"pending"`
}

// HealthDetailResponse is returned by GET /api/v1/health.
type HealthDetailResponse struct {
	Status string                   `json:"status"`
	Checks map[string]health.Status `json:"checks"`
	Uptime string                   `json:"uptime"`
}

// ProblemDetail follows RFC 7807 for error responses.
type ProblemDetail struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}
