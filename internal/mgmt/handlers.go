package mgmt

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/persona-curator/internal/analyst"
	"github.com/p-blackswan/persona-curator/internal/candidate"
	perrors "github.com/p-blackswan/persona-curator/internal/errors"
	"github.com/p-blackswan/persona-curator/internal/health"
	"github.com/p-blackswan/persona-curator/internal/merge"
	"github.com/p-blackswan/persona-curator/internal/profile"
	"github.com/p-blackswan/persona-curator/internal/requestid"
	"github.com/p-blackswan/persona-curator/internal/session"
)

// ExchangeQueue accepts exchanges for background analysis.
type ExchangeQueue interface {
	Submit(ex analyst.Exchange) bool
	Pending() int
}

// TurnHandler runs one conversational turn.
type TurnHandler interface {
	HandleTurn(ctx context.Context, channel, text string) (session.Reply, error)
}

// Previewer derives the pending merge without writing.
type Previewer interface {
	Preview() (*merge.Preview, error)
}

// Deps are the components the API exposes. Exchanges, Sessions and Merge may
// be nil; their routes then answer 503.
type Deps struct {
	Store     *candidate.Store
	Exchanges ExchangeQueue
	Sessions  TurnHandler
	Merge     Previewer
	Checker   *health.Checker
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	deps      Deps
	logger    zerolog.Logger
	startTime time.Time
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(deps Deps, logger zerolog.Logger) *Handlers {
	return &Handlers{
		deps:      deps,
		logger:    logger.With().Str("component", "handlers").Logger(),
		startTime: time.Now(),
	}
}

func unavailable(c *fiber.Ctx, what string) error {
	return problemResponse(c, fiber.StatusServiceUnavailable,
		"not_configured", "Service Unavailable",
		what+" is not enabled on this server")
}

// ListCandidates handles GET /api/v1/candidates?status=pending,approved.
func (h *Handlers) ListCandidates(c *fiber.Ctx) error {
	var statuses []candidate.Status
	if q := c.Query("status"); q != "" {
		for _, s := range strings.Split(q, ",") {
			st, ok := candidate.ParseStatus(strings.TrimSpace(s))
			if !ok {
				return problemResponse(c, fiber.StatusBadRequest,
					"invalid_status", "Bad Request",
					"Unknown status: "+s)
			}
			statuses = append(statuses, st)
		}
	}
	list := h.deps.Store.List(statuses...)
	if list == nil {
		list = []candidate.Candidate{}
	}
	return c.JSON(CandidateListResponse{Candidates: list, Total: len(list)})
}

// GetCandidate handles GET /api/v1/candidates/:id.
func (h *Handlers) GetCandidate(c *fiber.Ctx) error {
	cand, err := h.deps.Store.Get(c.Params("id"))
	if err != nil {
		return h.storeError(c, err)
	}
	return c.JSON(CandidateResponse{Candidate: cand})
}

// StageCandidate handles POST /api/v1/candidates.
func (h *Handlers) StageCandidate(c *fiber.Ctx) error {
	var req StageRequest
	if err := c.BodyParser(&req); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request",
			"Invalid request body: "+err.Error())
	}
	cat, err := profile.ParseCategory(req.Category)
	if err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_category", "Bad Request",
			"Unknown category: "+req.Category)
	}

	cand, err := h.deps.Store.Stage(c.UserContext(), candidate.Draft{
		Category:       cat,
		Summary:        req.Summary,
		SuggestedEntry: req.SuggestedEntry,
		Section:        req.Section,
		PromptAddition: req.PromptAddition,
		Channel:        req.Channel,
	})
	if err != nil {
		return h.storeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(CandidateResponse{Candidate: cand})
}

// Decide handles POST /api/v1/candidates/:id/decision.
func (h *Handlers) Decide(c *fiber.Ctx) error {
	var req DecisionRequest
	if err := c.BodyParser(&req); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request",
			"Invalid request body: "+err.Error())
	}
	to, ok := candidate.ParseStatus(req.Decision)
	if !ok || (to != candidate.StatusApproved && to != candidate.StatusRejected) {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_decision", "Bad Request",
			"Decision must be approved or rejected")
	}
	by := strings.TrimSpace(req.By)
	if by == "" {
		return problemResponse(c, fiber.StatusBadRequest,
			"missing_by", "Bad Request",
			"The deciding operator (by) is required")
	}

	cand, err := h.deps.Store.Mark(c.UserContext(), c.Params("id"), to, by)
	if err != nil {
		return h.storeError(c, err)
	}
	h.logger.Info().
		Str("candidate_id", cand.ID).
		Str("decision", string(to)).
		Str("by", by).
		Str("request_id", requestid.Get(c)).
		Msg("candidate decided")
	return c.JSON(CandidateResponse{Candidate: cand})
}

// SubmitExchange handles POST /api/v1/exchanges.
func (h *Handlers) SubmitExchange(c *fiber.Ctx) error {
	if h.deps.Exchanges == nil {
		return unavailable(c, "analysis")
	}
	var req ExchangeRequest
	if err := c.BodyParser(&req); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request",
			"Invalid request body: "+err.Error())
	}
	if strings.TrimSpace(req.UserText) == "" && strings.TrimSpace(req.ReplyText) == "" {
		return problemResponse(c, fiber.StatusBadRequest,
			"empty_exchange", "Bad Request",
			"user_text or reply_text is required")
	}

	queued := h.deps.Exchanges.Submit(analyst.Exchange{
		Channel:   req.Channel,
		UserText:  req.UserText,
		ReplyText: req.ReplyText,
		At:        time.Now().UTC(),
	})
	if !queued {
		return problemResponse(c, fiber.StatusServiceUnavailable,
			"queue_full", "Service Unavailable",
			"Analysis queue is full; exchange dropped")
	}
	return c.Status(fiber.StatusAccepted).JSON(ExchangeResponse{Queued: true, Pending: h.deps.Exchanges.Pending()})
}

// Turn handles POST /api/v1/channels/:channel/turns.
func (h *Handlers) Turn(c *fiber.Ctx) error {
	if h.deps.Sessions == nil {
		return unavailable(c, "conversation")
	}
	var req TurnRequest
	if err := c.BodyParser(&req); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request",
			"Invalid request body: "+err.Error())
	}
	if strings.TrimSpace(req.Text) == "" {
		return problemResponse(c, fiber.StatusBadRequest,
			"missing_text", "Bad Request",
			"Text is required")
	}

	reply, err := h.deps.Sessions.HandleTurn(c.UserContext(), c.Params("channel"), req.Text)
	if err != nil {
		h.logger.Error().Err(err).Str("channel", c.Params("channel")).Msg("turn failed")
		return problemResponse(c, fiber.StatusBadGateway,
			"upstream_error", "Bad Gateway",
			"The model could not answer this turn")
	}
	return c.JSON(reply)
}

// MergePreview handles GET /api/v1/merge/preview.
func (h *Handlers) MergePreview(c *fiber.Ctx) error {
	if h.deps.Merge == nil {
		return unavailable(c, "merge preview")
	}
	p, err := h.deps.Merge.Preview()
	if err != nil {
		return err
	}
	return c.JSON(p)
}

// HealthDetail handles GET /api/v1/health.
func (h *Handlers) HealthDetail(c *fiber.Ctx) error {
	results := h.deps.Checker.RunAll(c.UserContext())
	overall := "ok"
	for _, s := range results {
		if s == health.StatusDown {
			overall = "degraded"
		}
	}
	return c.JSON(HealthDetailResponse{
		Status: overall,
		Checks: results,
		Uptime: time.Since(h.startTime).Round(time.Second).String(),
	})
}

// storeError maps candidate store failures onto problem responses.
func (h *Handlers) storeError(c *fiber.Ctx, err error) error {
	var te *perrors.TransitionError
	switch {
	case errors.Is(err, perrors.ErrNotFound):
		return problemResponse(c, fiber.StatusNotFound,
			"candidate_not_found", "Not Found", err.Error())
	case errors.As(err, &te):
		return problemResponse(c, fiber.StatusConflict,
			"invalid_transition", "Conflict", te.Error())
	case errors.Is(err, perrors.ErrInvalidInput):
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_candidate", "Bad Request", err.Error())
	}
	return err
}
