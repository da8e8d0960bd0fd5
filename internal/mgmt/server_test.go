package mgmt

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/persona-curator/internal/analyst"
	"github.com/p-blackswan/persona-curator/internal/candidate"
	"github.com/p-blackswan/persona-curator/internal/health"
	"github.com/p-blackswan/persona-curator/internal/merge"
	"github.com/p-blackswan/persona-curator/internal/metrics"
	"github.com/p-blackswan/persona-curator/internal/profile"
	"github.com/p-blackswan/persona-curator/internal/ratelimit"
	"github.com/p-blackswan/persona-curator/internal/session"
)

const (
	operatorKey = "op-key"
	readonlyKey = "ro-key"
)

type fakeQueue struct {
	accept bool
	got    []analyst.Exchange
}

func (q *fakeQueue) Submit(ex analyst.Exchange) bool {
	if !q.accept {
		return false
	}
	q.got = append(q.got, ex)
	return true
}

func (q *fakeQueue) Pending() int { return len(q.got) }

type fakeTurns struct {
	err error
}

func (f *fakeTurns) HandleTurn(_ context.Context, channel, text string) (session.Reply, error) {
	if f.err != nil {
		return session.Reply{}, f.err
	}
	return session.Reply{Kind: session.ReplyAnswer, Text: channel + ": " + text}, nil
}

type harness struct {
	app   *fiber.App
	store *candidate.Store
	queue *fakeQueue
	turns *fakeTurns
}

func newHarness(t *testing.T, mode string) *harness {
	t.Helper()
	dir := t.TempDir()
	store, err := candidate.Open(candidate.Options{
		Path:   filepath.Join(dir, "candidates.yaml"),
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)

	engine := merge.New(merge.Options{
		Paths: merge.Paths{
			Profile:  filepath.Join(dir, "profile.yaml"),
			Evidence: filepath.Join(dir, "evidence.yaml"),
			Prompt:   filepath.Join(dir, "prompt.md"),
		},
		Store:  store,
		Logger: zerolog.Nop(),
	})

	checker := health.NewChecker(zerolog.Nop())
	checker.Register("data_dir", health.DirWritable(dir))

	h := &harness{store: store, queue: &fakeQueue{accept: true}, turns: &fakeTurns{}}
	srv := NewServer(ServerConfig{AuthConfig: AuthConfig{Mode: mode, APIKey: operatorKey, ReadonlyKey: readonlyKey}},
		Deps{Store: store, Exchanges: h.queue, Sessions: h.turns, Merge: engine, Checker: checker},
		metrics.New(), zerolog.Nop())
	h.app = srv.App()
	return h
}

func (h *harness) do(t *testing.T, method, path, key string, body any) (*http.Response, []byte) {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = strings.NewReader(string(raw))
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	resp, err := h.app.Test(req, -1)
	require.NoError(t, err)
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, out
}

func decodeProblem(t *testing.T, body []byte) ProblemDetail {
	t.Helper()
	var p ProblemDetail
	require.NoError(t, json.Unmarshal(body, &p))
	return p
}

func TestProbes_NoAuth(t *testing.T) {
	h := newHarness(t, "api-key")
	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		resp, _ := h.do(t, "GET", path, "", nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}

func TestMetrics_ExposesCounters(t *testing.T) {
	h := newHarness(t, "api-key")
	h.do(t, "GET", "/api/v1/candidates", operatorKey, nil)

	_, body := h.do(t, "GET", "/metrics", "", nil)
	assert.Contains(t, string(body), "curator_http_requests_total")
}

func TestStageListDecide(t *testing.T) {
	h := newHarness(t, "api-key")

	resp, body := h.do(t, "POST", "/api/v1/candidates", operatorKey, StageRequest{
		Category:       "knowledge",
		Summary:        "learned that Jupiter has 63+ moons",
		SuggestedEntry: "Jupiter has 63+ moons",
		Channel:        "chat-1",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var staged CandidateResponse
	require.NoError(t, json.Unmarshal(body, &staged))
	assert.Equal(t, "CAND-0001", staged.Candidate.ID)
	assert.Equal(t, candidate.StatusPending, staged.Candidate.Status)

	resp, body = h.do(t, "GET", "/api/v1/candidates?status=pending", readonlyKey, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list CandidateListResponse
	require.NoError(t, json.Unmarshal(body, &list))
	assert.Equal(t, 1, list.Total)

	resp, body = h.do(t, "POST", "/api/v1/candidates/CAND-0001/decision", operatorKey, DecisionRequest{Decision: "approved", By: "parent"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	got, err := h.store.Get("CAND-0001")
	require.NoError(t, err)
	assert.Equal(t, candidate.StatusApproved, got.Status)
	assert.Equal(t, "parent", got.DecidedBy)

	resp, body = h.do(t, "GET", "/api/v1/merge/preview", readonlyKey, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var preview merge.Preview
	require.NoError(t, json.Unmarshal(body, &preview))
	require.Len(t, preview.Items, 1)
	assert.Equal(t, "EV-0001", preview.Items[0].EvidenceID)
	assert.Equal(t, "K-0001", preview.Items[0].GrowthID)
}

func TestDecide_Errors(t *testing.T) {
	h := newHarness(t, "api-key")
	_, err := h.store.Stage(context.Background(), candidate.Draft{Category: profile.Curiosity, Summary: "asked about volcanoes"})
	require.NoError(t, err)

	resp, body := h.do(t, "POST", "/api/v1/candidates/CAND-0099/decision", operatorKey, DecisionRequest{Decision: "approved", By: "parent"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "candidate_not_found", decodeProblem(t, body).Type)

	resp, body = h.do(t, "POST", "/api/v1/candidates/CAND-0001/decision", operatorKey, DecisionRequest{Decision: "applied", By: "parent"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_decision", decodeProblem(t, body).Type)

	resp, _ = h.do(t, "POST", "/api/v1/candidates/CAND-0001/decision", operatorKey, DecisionRequest{Decision: "rejected"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = h.do(t, "POST", "/api/v1/candidates/CAND-0001/decision", operatorKey, DecisionRequest{Decision: "rejected", By: "parent"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = h.do(t, "POST", "/api/v1/candidates/CAND-0001/decision", operatorKey, DecisionRequest{Decision: "approved", By: "parent"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "invalid_transition", decodeProblem(t, body).Type)
}

func TestStage_Invalid(t *testing.T) {
	h := newHarness(t, "none")

	resp, body := h.do(t, "POST", "/api/v1/candidates", "", StageRequest{Category: "hobbies", Summary: "x"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_category", decodeProblem(t, body).Type)

	resp, body = h.do(t, "POST", "/api/v1/candidates", "", StageRequest{Category: "knowledge", Summary: "  "})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_candidate", decodeProblem(t, body).Type)
}

func TestListCandidates_BadStatus(t *testing.T) {
	h := newHarness(t, "none")
	resp, _ := h.do(t, "GET", "/api/v1/candidates?status=pending,maybe", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestReadonlyCannotWrite(t *testing.T) {
	h := newHarness(t, "api-key")
	resp, body := h.do(t, "POST", "/api/v1/candidates", readonlyKey, StageRequest{Category: "knowledge", Summary: "x"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "insufficient_role", decodeProblem(t, body).Type)
	assert.Empty(t, h.store.List())
}

func TestSubmitExchange(t *testing.T) {
	h := newHarness(t, "api-key")

	resp, body := h.do(t, "POST", "/api/v1/exchanges", operatorKey, ExchangeRequest{Channel: "c1", UserText: "I learned that bees dance"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(body))
	require.Len(t, h.queue.got, 1)
	assert.Equal(t, "c1", h.queue.got[0].Channel)

	h.queue.accept = false
	resp, body = h.do(t, "POST", "/api/v1/exchanges", operatorKey, ExchangeRequest{Channel: "c1", UserText: "again"})
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "queue_full", decodeProblem(t, body).Type)

	resp, _ = h.do(t, "POST", "/api/v1/exchanges", operatorKey, ExchangeRequest{Channel: "c1"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestTurn(t *testing.T) {
	h := newHarness(t, "api-key")

	resp, body := h.do(t, "POST", "/api/v1/channels/kid-chat/turns", operatorKey, TurnRequest{Text: "hi"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var reply session.Reply
	require.NoError(t, json.Unmarshal(body, &reply))
	assert.Equal(t, "kid-chat: hi", reply.Text)

	h.turns.err = errors.New("model down")
	resp, body = h.do(t, "POST", "/api/v1/channels/kid-chat/turns", operatorKey, TurnRequest{Text: "hi"})
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, "upstream_error", decodeProblem(t, body).Type)
}

func TestOptionalDepsUnavailable(t *testing.T) {
	dir := t.TempDir()
	store, err := candidate.Open(candidate.Options{Path: filepath.Join(dir, "candidates.yaml"), Logger: zerolog.Nop()})
	require.NoError(t, err)
	app := NewServer(ServerConfig{AuthConfig: AuthConfig{Mode: "none"}}, Deps{Store: store}, nil, zerolog.Nop()).App()

	for _, tc := range []struct{ method, path, body string }{
		{"POST", "/api/v1/exchanges", `{"user_text":"x"}`},
		{"POST", "/api/v1/channels/c/turns", `{"text":"x"}`},
		{"GET", "/api/v1/merge/preview", ""},
	} {
		req := httptest.NewRequest(tc.method, tc.path, strings.NewReader(tc.body))
		req.Header.Set("Content-Type", "application/json")
		resp, err := app.Test(req, -1)
		require.NoError(t, err)
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode, tc.path)
	}
}

func TestHealthDetail(t *testing.T) {
	h := newHarness(t, "none")
	resp, body := h.do(t, "GET", "/api/v1/health", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var hd HealthDetailResponse
	require.NoError(t, json.Unmarshal(body, &hd))
	assert.Equal(t, "ok", hd.Status)
	assert.Equal(t, health.StatusOK, hd.Checks["data_dir"])
}

func TestUnknownRoute_Problem(t *testing.T) {
	h := newHarness(t, "none")
	resp, body := h.do(t, "GET", "/api/v1/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	p := decodeProblem(t, body)
	assert.Equal(t, "Not Found", p.Title)
}

func TestRateLimit_PerClient(t *testing.T) {
	limiter := ratelimit.New(ratelimit.Config{
		Window: time.Minute,
		Limits: map[ratelimit.Bucket]int{ratelimit.API: 2},
	})
	srv := NewServer(ServerConfig{AuthConfig: AuthConfig{Mode: "none"}, Limiter: limiter},
		Deps{}, metrics.New(), zerolog.Nop())
	app := srv.App()

	get := func(path string) int {
		resp, err := app.Test(httptest.NewRequest("GET", path, nil), -1)
		require.NoError(t, err)
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusServiceUnavailable, get("/api/v1/merge/preview"))
	assert.Equal(t, http.StatusServiceUnavailable, get("/api/v1/merge/preview"))
	assert.Equal(t, http.StatusTooManyRequests, get("/api/v1/merge/preview"))

	// probes are never limited
	assert.Equal(t, http.StatusOK, get("/healthz"))
	assert.Equal(t, 1, limiter.Keys())
}
