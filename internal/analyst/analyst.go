// Package analyst turns finished conversational exchanges into at most one
// staged candidate each. Exchanges are queued to a bounded worker pool so
// staging never delays a reply.
package analyst

import (
	"context"
	"time"

	"github.com/p-blackswan/persona-curator/internal/candidate"
)

// Exchange is one user turn and the reply it received.
type Exchange struct {
	Channel   string    `json:"channel"`
	UserText  string    `json:"user_text"`
	ReplyText string    `json:"reply_text"`
	At        time.Time `json:"at,omitempty"`
}

// Analyst proposes a candidate for an exchange. A nil draft means nothing
// worth staging was found.
type Analyst interface {
	Analyze(ctx context.Context, ex Exchange) (*candidate.Draft, error)
}

// Stager persists a proposal.
type Stager interface {
	Stage(ctx context.Context, d candidate.Draft) (candidate.Candidate, error)
}

// Func adapts a function to Analyst.
type Func func(ctx context.Context, ex Exchange) (*candidate.Draft, error)

func (f Func) Analyze(ctx context.Context, ex Exchange) (*candidate.Draft, error) {
	return f(ctx, ex)
}
