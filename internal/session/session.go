// Package session runs conversational turns. Each channel keeps a bounded
// history and at most one pending lookup question; a reply offering to look
// something up arms the question, and the next turn either confirms it or
// discards it.
package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/persona-curator/internal/analyst"
	"github.com/p-blackswan/persona-curator/internal/audit"
	"github.com/p-blackswan/persona-curator/internal/metrics"
	"github.com/p-blackswan/persona-curator/internal/ratelimit"
)

const (
	// LookupOffer marks a reply that offers to look something up.
	LookupOffer = "want me to look that up"
	// TiredReply is returned when the conversational bucket is exhausted.
	TiredReply = "I'm too tired to think right now. Let's talk again in a little while."

	// TurnCost is one model call; LookupCost covers the factual and rephrase calls.
	TurnCost   = 1
	LookupCost = 2
)

// Role is the author of a history message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one history entry.
type Message struct {
	Role Role      `json:"role"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// Generation is a model output with its token usage.
type Generation struct {
	Text             string
	Model            string
	PromptTokens     int
	CompletionTokens int
}

// Responder produces ordinary replies from the channel history.
type Responder interface {
	Respond(ctx context.Context, channel string, history []Message) (Generation, error)
}

// LookupRouter answers a confirmed lookup question: a factual answer rephrased
// for the persona. Usage covers both calls.
type LookupRouter interface {
	Lookup(ctx context.Context, channel, question string) (Generation, error)
}

// ExchangeSink receives finished exchanges for background analysis. Submit
// must not block.
type ExchangeSink interface {
	Submit(ex analyst.Exchange) bool
}

// State is a channel's lookup-confirmation state.
type State string

const (
	StateIdle                 State = "idle"
	StateAwaitingConfirmation State = "awaiting_confirmation"
)

// ReplyKind classifies a Reply.
type ReplyKind string

const (
	ReplyAnswer      ReplyKind = "answer"
	ReplyLookup      ReplyKind = "lookup"
	ReplyRateLimited ReplyKind = "rate_limited"
)

// Reply is the user-visible outcome of a turn.
type Reply struct {
	Kind ReplyKind `json:"kind"`
	Text string    `json:"text"`
	// OffersLookup is set when the reply armed a pending lookup.
	OffersLookup bool `json:"offers_lookup,omitempty"`
}

// Options configures a Manager.
type Options struct {
	Limiter     *ratelimit.Limiter
	Responder   Responder
	Lookup      LookupRouter
	Sink        ExchangeSink
	Ledger      *audit.Ledger
	Metrics     *metrics.Metrics
	Logger      zerolog.Logger
	HistoryCap  int
	MaxChannels int
	Now         func() time.Time
}

// Manager owns every channel's session state.
type Manager struct {
	limiter    *ratelimit.Limiter
	responder  Responder
	lookup     LookupRouter
	sink       ExchangeSink
	ledger     *audit.Ledger
	metrics    *metrics.Metrics
	logger     zerolog.Logger
	historyCap int
	channels   *channelTable
	now        func() time.Time
}

// NewManager creates a Manager.
func NewManager(opts Options) *Manager {
	if opts.HistoryCap <= 0 {
		opts.HistoryCap = 20
	}
	if opts.MaxChannels <= 0 {
		opts.MaxChannels = 1024
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Manager{
		limiter:    opts.Limiter,
		responder:  opts.Responder,
		lookup:     opts.Lookup,
		sink:       opts.Sink,
		ledger:     opts.Ledger,
		metrics:    opts.Metrics,
		logger:     opts.Logger.With().Str("component", "session").Logger(),
		historyCap: opts.HistoryCap,
		channels:   newChannelTable(opts.MaxChannels),
		now:        opts.Now,
	}
}

// HandleTurn processes one user turn in channel. A rate-limited turn returns a
// ReplyRateLimited reply and no error.
func (m *Manager) HandleTurn(ctx context.Context, channel, text string) (Reply, error) {
	st, evicted, didEvict := m.channels.acquire(channel)
	if didEvict {
		m.logger.Debug().Str("channel", evicted).Msg("channel session evicted")
	}

	st.mu.Lock()
	if st.pending != "" && IsAffirmative(text) {
		question := st.pending
		st.pending = ""
		st.mu.Unlock()
		return m.lookupTurn(ctx, st, channel, text, question)
	}

	st.pending = ""
	now := m.now()
	st.history = m.appendCapped(st.history, Message{Role: RoleUser, Text: text, At: now})
	history := append([]Message(nil), st.history...)
	st.mu.Unlock()

	if !m.admit(channel, TurnCost) {
		m.metrics.RecordTurn("rate_limited")
		return Reply{Kind: ReplyRateLimited, Text: TiredReply}, nil
	}

	gen, err := m.responder.Respond(ctx, channel, history)
	if err != nil {
		m.metrics.RecordTurn("error")
		return Reply{}, fmt.Errorf("session: respond: %w", err)
	}

	offers := strings.Contains(strings.ToLower(gen.Text), LookupOffer)
	st.mu.Lock()
	st.history = m.appendCapped(st.history, Message{Role: RoleAssistant, Text: gen.Text, At: m.now()})
	if offers {
		st.pending = strings.TrimSpace(text)
	}
	st.mu.Unlock()

	m.finish(channel, text, gen, "replied")
	return Reply{Kind: ReplyAnswer, Text: gen.Text, OffersLookup: offers}, nil
}

func (m *Manager) lookupTurn(ctx context.Context, st *channelState, channel, text, question string) (Reply, error) {
	if m.lookup == nil {
		m.metrics.RecordTurn("error")
		return Reply{}, fmt.Errorf("session: no lookup router configured")
	}
	if !m.admit(channel, LookupCost) {
		m.metrics.RecordTurn("rate_limited")
		return Reply{Kind: ReplyRateLimited, Text: TiredReply}, nil
	}

	gen, err := m.lookup.Lookup(ctx, channel, question)
	if err != nil {
		m.metrics.RecordTurn("error")
		return Reply{}, fmt.Errorf("session: lookup: %w", err)
	}

	now := m.now()
	st.mu.Lock()
	st.history = m.appendCapped(st.history, Message{Role: RoleUser, Text: text, At: now})
	st.history = m.appendCapped(st.history, Message{Role: RoleAssistant, Text: gen.Text, At: now})
	st.mu.Unlock()

	m.finish(channel, question, gen, "looked_up")
	return Reply{Kind: ReplyLookup, Text: gen.Text}, nil
}

func (m *Manager) admit(channel string, cost int) bool {
	if m.limiter == nil {
		return true
	}
	ok := m.limiter.Admit(channel, ratelimit.Conversational, cost)
	m.metrics.RecordAdmission(string(ratelimit.Conversational), ok)
	if !ok {
		m.logger.Info().Str("channel", channel).Int("cost", cost).Msg("turn rate limited")
	}
	return ok
}

// finish meters usage and hands the exchange to the analyst without blocking.
func (m *Manager) finish(channel, userText string, gen Generation, outcome string) {
	m.metrics.RecordTurn(outcome)
	if m.ledger != nil {
		err := m.ledger.RecordUsage(audit.Usage{
			Channel:          channel,
			Bucket:           string(ratelimit.Conversational),
			PromptTokens:     gen.PromptTokens,
			CompletionTokens: gen.CompletionTokens,
			Model:            gen.Model,
		})
		if err != nil {
			// usage metering is advisory
			m.logger.Debug().Err(err).Str("channel", channel).Msg("turn usage not metered")
		}
	}
	if m.sink != nil {
		ex := analyst.Exchange{Channel: channel, UserText: userText, ReplyText: gen.Text, At: m.now()}
		if !m.sink.Submit(ex) {
			m.logger.Debug().Str("channel", channel).Msg("exchange not queued for analysis")
		}
	}
}

func (m *Manager) appendCapped(history []Message, msg Message) []Message {
	history = append(history, msg)
	if over := len(history) - m.historyCap; over > 0 {
		history = append([]Message(nil), history[over:]...)
	}
	return history
}

// State reports channel's lookup-confirmation state.
func (m *Manager) State(channel string) State {
	st, ok := m.channels.peek(channel)
	if !ok {
		return StateIdle
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.pending != "" {
		return StateAwaitingConfirmation
	}
	return StateIdle
}

// PendingQuestion returns the armed lookup question for channel, if any.
func (m *Manager) PendingQuestion(channel string) (string, bool) {
	st, ok := m.channels.peek(channel)
	if !ok {
		return "", false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.pending, st.pending != ""
}

// History returns a copy of channel's history, oldest first.
func (m *Manager) History(channel string) []Message {
	st, ok := m.channels.peek(channel)
	if !ok {
		return nil
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return append([]Message(nil), st.history...)
}

// Channels returns the number of tracked channels.
func (m *Manager) Channels() int {
	return m.channels.len()
}
