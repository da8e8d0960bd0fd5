package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/persona-curator/internal/candidate"
	"github.com/p-blackswan/persona-curator/internal/conflict"
	"github.com/p-blackswan/persona-curator/internal/profile"
)

func staged() candidate.Candidate {
	return candidate.Candidate{
		ID:             "CAND-0007",
		Status:         candidate.StatusPending,
		Channel:        "chat-1",
		Category:       profile.Personality,
		Summary:        "seems impatient when waiting",
		SuggestedEntry: "gets impatient waiting for answers",
		Conflicts: []conflict.Conflict{{
			Pair:          conflict.Pair{A: "patient", B: "impatient"},
			ProfileTerm:   "patient",
			CandidateTerm: "impatient",
		}},
	}
}

type stubNotifier struct {
	calls int
	err   error
}

func (s *stubNotifier) CandidateStaged(context.Context, candidate.Candidate) error {
	s.calls++
	return s.err
}

func TestSummary(t *testing.T) {
	assert.Equal(t, "CAND-0007 [personality] seems impatient when waiting (1 conflict)", Summary(staged()))

	c := staged()
	c.Conflicts = nil
	assert.Equal(t, "CAND-0007 [personality] seems impatient when waiting", Summary(c))
}

func TestSlackNotifier_PostsBlocks(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewSlackNotifier(srv.URL, "#curation", zerolog.Nop())
	require.NoError(t, n.CandidateStaged(context.Background(), staged()))

	assert.Equal(t, "#curation", body["channel"])
	assert.Contains(t, body["text"], "CAND-0007")
	blocks, ok := body["blocks"].([]any)
	require.True(t, ok)
	assert.Len(t, blocks, 4)
}

func TestSlackNotifier_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	n := NewSlackNotifier(srv.URL, "", zerolog.Nop())
	assert.Error(t, n.CandidateStaged(context.Background(), staged()))
}

func TestMulti_CallsAllAndJoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	a := &stubNotifier{err: boom}
	b := &stubNotifier{}
	m := Multi{a, NewLogNotifier(zerolog.Nop()), b}

	err := m.CandidateStaged(context.Background(), staged())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, a.calls)
	assert.Equal(t, 1, b.calls)

	assert.NoError(t, Multi{b}.CandidateStaged(context.Background(), staged()))
}

func TestBuildCandidateBlocks_NoConflicts(t *testing.T) {
	c := staged()
	c.Conflicts = nil
	c.Channel = ""
	c.SuggestedEntry = ""
	assert.Len(t, BuildCandidateBlocks(c), 2)
}
