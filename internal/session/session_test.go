package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/persona-curator/internal/analyst"
	"github.com/p-blackswan/persona-curator/internal/audit"
	"github.com/p-blackswan/persona-curator/internal/ratelimit"
)

type scriptedResponder struct {
	mu      sync.Mutex
	replies []string
	seen    [][]Message
	err     error
}

func (r *scriptedResponder) Respond(_ context.Context, _ string, history []Message) (Generation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return Generation{}, r.err
	}
	r.seen = append(r.seen, history)
	text := "ok"
	if len(r.replies) > 0 {
		text, r.replies = r.replies[0], r.replies[1:]
	}
	return Generation{Text: text, Model: "test-model", PromptTokens: 10, CompletionTokens: 5}, nil
}

type recordingLookup struct {
	mu        sync.Mutex
	questions []string
}

func (l *recordingLookup) Lookup(_ context.Context, _ string, question string) (Generation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.questions = append(l.questions, question)
	return Generation{Text: "Here is what I found about " + question, Model: "test-model"}, nil
}

type collectingSink struct {
	mu  sync.Mutex
	exs []analyst.Exchange
}

func (s *collectingSink) Submit(ex analyst.Exchange) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exs = append(s.exs, ex)
	return true
}

type setup struct {
	mgr       *Manager
	responder *scriptedResponder
	lookup    *recordingLookup
	sink      *collectingSink
	ledger    *audit.Ledger
	limiter   *ratelimit.Limiter
}

func newSetup(t *testing.T, convLimit int, replies ...string) *setup {
	t.Helper()
	dir := t.TempDir()
	s := &setup{
		responder: &scriptedResponder{replies: replies},
		lookup:    &recordingLookup{},
		sink:      &collectingSink{},
		ledger:    audit.NewLedger(filepath.Join(dir, "events.jsonl"), filepath.Join(dir, "usage.jsonl"), zerolog.Nop()),
	}
	s.limiter = ratelimit.New(ratelimit.Config{
		Window: time.Minute,
		Limits: map[ratelimit.Bucket]int{ratelimit.Conversational: convLimit, ratelimit.Analysis: 30},
	})
	s.mgr = NewManager(Options{
		Limiter:    s.limiter,
		Responder:  s.responder,
		Lookup:     s.lookup,
		Sink:       s.sink,
		Ledger:     s.ledger,
		Logger:     zerolog.Nop(),
		HistoryCap: 4,
	})
	return s
}

func TestHandleTurn_OrdinaryReply(t *testing.T) {
	s := newSetup(t, 10, "Dinosaurs are great!")
	reply, err := s.mgr.HandleTurn(context.Background(), "tg:1", "Tell me about dinosaurs")
	require.NoError(t, err)

	assert.Equal(t, ReplyAnswer, reply.Kind)
	assert.Equal(t, "Dinosaurs are great!", reply.Text)
	assert.False(t, reply.OffersLookup)
	assert.Equal(t, StateIdle, s.mgr.State("tg:1"))

	history := s.mgr.History("tg:1")
	require.Len(t, history, 2)
	assert.Equal(t, RoleUser, history[0].Role)
	assert.Equal(t, RoleAssistant, history[1].Role)

	require.Len(t, s.sink.exs, 1)
	assert.Equal(t, "Tell me about dinosaurs", s.sink.exs[0].UserText)
	assert.Equal(t, "Dinosaurs are great!", s.sink.exs[0].ReplyText)

	usage, err := s.ledger.UsageRecords()
	require.NoError(t, err)
	require.Len(t, usage, 1)
	assert.Equal(t, "conversational", usage[0].Bucket)
	assert.Equal(t, 15, usage[0].TotalTokens)
}

func TestHandleTurn_LookupConfirmed(t *testing.T) {
	s := newSetup(t, 10, "I'm not sure. Want me to look that up?")
	ctx := context.Background()

	reply, err := s.mgr.HandleTurn(ctx, "tg:1", "How many moons does Jupiter have?")
	require.NoError(t, err)
	assert.True(t, reply.OffersLookup)
	assert.Equal(t, StateAwaitingConfirmation, s.mgr.State("tg:1"))
	q, ok := s.mgr.PendingQuestion("tg:1")
	require.True(t, ok)
	assert.Equal(t, "How many moons does Jupiter have?", q)

	reply, err = s.mgr.HandleTurn(ctx, "tg:1", "Yes please!")
	require.NoError(t, err)
	assert.Equal(t, ReplyLookup, reply.Kind)
	assert.Equal(t, []string{"How many moons does Jupiter have?"}, s.lookup.questions)
	assert.Equal(t, StateIdle, s.mgr.State("tg:1"))
	assert.Len(t, s.sink.exs, 2)
}

func TestHandleTurn_NoThanksDiscardsLookup(t *testing.T) {
	s := newSetup(t, 10, "Hmm, want me to look that up?", "Sure, let's talk about cats.")
	ctx := context.Background()

	_, err := s.mgr.HandleTurn(ctx, "tg:1", "What is the tallest tree?")
	require.NoError(t, err)
	require.Equal(t, StateAwaitingConfirmation, s.mgr.State("tg:1"))

	reply, err := s.mgr.HandleTurn(ctx, "tg:1", "no thanks")
	require.NoError(t, err)
	assert.Equal(t, ReplyAnswer, reply.Kind)
	assert.Equal(t, StateIdle, s.mgr.State("tg:1"))
	assert.Empty(t, s.lookup.questions)

	// a later affirmative has nothing to confirm
	_, err = s.mgr.HandleTurn(ctx, "tg:1", "yes")
	require.NoError(t, err)
	assert.Empty(t, s.lookup.questions)
}

func TestHandleTurn_FlagIsReplacedNotMerged(t *testing.T) {
	s := newSetup(t, 10, "want me to look that up?", "Want me to look that up?")
	ctx := context.Background()

	_, err := s.mgr.HandleTurn(ctx, "tg:1", "first question")
	require.NoError(t, err)
	_, err = s.mgr.HandleTurn(ctx, "tg:1", "second question")
	require.NoError(t, err)

	q, ok := s.mgr.PendingQuestion("tg:1")
	require.True(t, ok)
	assert.Equal(t, "second question", q)
}

func TestHandleTurn_RateLimited(t *testing.T) {
	s := newSetup(t, 1, "want me to look that up?")
	ctx := context.Background()

	_, err := s.mgr.HandleTurn(ctx, "tg:1", "what is a quasar?")
	require.NoError(t, err)

	// lookup costs two units; only zero remain
	reply, err := s.mgr.HandleTurn(ctx, "tg:1", "yes")
	require.NoError(t, err)
	assert.Equal(t, ReplyRateLimited, reply.Kind)
	assert.Equal(t, TiredReply, reply.Text)
	assert.Empty(t, s.lookup.questions)
	assert.Equal(t, StateIdle, s.mgr.State("tg:1"))

	reply, err = s.mgr.HandleTurn(ctx, "tg:1", "hello?")
	require.NoError(t, err)
	assert.Equal(t, ReplyRateLimited, reply.Kind)
	assert.Len(t, s.sink.exs, 1)

	// another channel is unaffected
	reply, err = s.mgr.HandleTurn(ctx, "tg:2", "hello")
	require.NoError(t, err)
	assert.Equal(t, ReplyAnswer, reply.Kind)
}

func TestHandleTurn_HistoryCapped(t *testing.T) {
	s := newSetup(t, 100)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := s.mgr.HandleTurn(ctx, "tg:1", fmt.Sprintf("turn %d", i))
		require.NoError(t, err)
	}
	history := s.mgr.History("tg:1")
	require.Len(t, history, 4)
	assert.Equal(t, "turn 3", history[0].Text)
	assert.Equal(t, "turn 4", history[2].Text)

	// the responder saw the capped history including the current turn
	last := s.responder.seen[len(s.responder.seen)-1]
	assert.Equal(t, "turn 4", last[len(last)-1].Text)
}

func TestHandleTurn_ResponderError(t *testing.T) {
	s := newSetup(t, 10)
	s.responder.err = errors.New("upstream 500")
	_, err := s.mgr.HandleTurn(context.Background(), "tg:1", "hi")
	require.Error(t, err)
	assert.Empty(t, s.sink.exs)
}

func TestHandleTurn_ConcurrentChannels(t *testing.T) {
	s := newSetup(t, 1000)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				_, err := s.mgr.HandleTurn(context.Background(), fmt.Sprintf("tg:%d", i%5), "hello")
				assert.NoError(t, err)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 5, s.mgr.Channels())
	assert.Len(t, s.sink.exs, 100)
}

func TestChannelTable_EvictsLeastRecent(t *testing.T) {
	tbl := newChannelTable(2)
	tbl.acquire("a")
	tbl.acquire("b")
	tbl.acquire("a")
	_, evicted, ok := tbl.acquire("c")
	require.True(t, ok)
	assert.Equal(t, "b", evicted)
	_, found := tbl.peek("b")
	assert.False(t, found)
	assert.Equal(t, 2, tbl.len())
}

func TestIsAffirmative(t *testing.T) {
	for _, s := range []string{"yes", "Yes!", "  yeah.  ", "Sure thing!!", "go ahead", "OK", "yes   please"} {
		assert.True(t, IsAffirmative(s), s)
	}
	for _, s := range []string{"no thanks", "no", "yes but tell me about cats", "whatever", ""} {
		assert.False(t, IsAffirmative(s), s)
	}
}

func TestHandleTurn_MissingLookupSpendsNothing(t *testing.T) {
	s := newSetup(t, 3, "want me to look that up?")
	mgr := NewManager(Options{
		Limiter:    s.limiter,
		Responder:  s.responder,
		Sink:       s.sink,
		Logger:     zerolog.Nop(),
		HistoryCap: 4,
	})
	ctx := context.Background()

	_, err := mgr.HandleTurn(ctx, "tg:1", "how far is the moon?")
	require.NoError(t, err)
	require.Equal(t, 2, s.limiter.Remaining("tg:1", ratelimit.Conversational))

	_, err = mgr.HandleTurn(ctx, "tg:1", "yes")
	assert.Error(t, err)
	assert.Equal(t, 2, s.limiter.Remaining("tg:1", ratelimit.Conversational))
}

func TestHandleTurn_UsageWriteFailureStillReplies(t *testing.T) {
	s := newSetup(t, 10, "Owls can turn their heads a long way.")
	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))
	ledger := audit.NewLedger(filepath.Join(blocker, "events.jsonl"), filepath.Join(blocker, "usage.jsonl"), zerolog.Nop())
	mgr := NewManager(Options{
		Limiter:    s.limiter,
		Responder:  s.responder,
		Lookup:     s.lookup,
		Sink:       s.sink,
		Ledger:     ledger,
		Logger:     zerolog.Nop(),
		HistoryCap: 4,
	})

	reply, err := mgr.HandleTurn(context.Background(), "tg:1", "tell me about owls")
	require.NoError(t, err)
	assert.Equal(t, ReplyAnswer, reply.Kind)
	assert.Len(t, s.sink.exs, 1)
}
