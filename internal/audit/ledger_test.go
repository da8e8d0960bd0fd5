package audit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLedger(t *testing.T) (*Ledger, string) {
	t.Helper()
	dir := t.TempDir()
	return NewLedger(filepath.Join(dir, "events.jsonl"), filepath.Join(dir, "usage.jsonl"), zerolog.Nop()), dir
}

func TestLedger_RecordFlattensContext(t *testing.T) {
	l, dir := newTestLedger(t)
	ts := time.Date(2026, 10, 16, 9, 30, 0, 0, time.UTC)

	require.NoError(t, l.Record(Event{
		Timestamp:   ts,
		Name:        EventApplied,
		CandidateID: "CAND-0001",
		Context:     map[string]any{"evidence_id": "EV-0001", "approved_by": "parent", "event": "ignored"},
	}))

	raw, err := os.ReadFile(filepath.Join(dir, "events.jsonl"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 1)

	var obj map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &obj))
	assert.Equal(t, "2026-10-16T09:30:00Z", obj["ts"])
	assert.Equal(t, "applied", obj["event"])
	assert.Equal(t, "CAND-0001", obj["candidate_id"])
	assert.Equal(t, "EV-0001", obj["evidence_id"])
	assert.Equal(t, "parent", obj["approved_by"])
}

func TestLedger_EventsFilterByCandidate(t *testing.T) {
	l, _ := newTestLedger(t)

	require.NoError(t, l.Record(Event{Name: EventStaged, CandidateID: "CAND-0001"}))
	require.NoError(t, l.Record(Event{Name: EventStaged, CandidateID: "CAND-0002"}))
	require.NoError(t, l.Record(Event{Name: EventApproved, CandidateID: "CAND-0001"}))
	require.NoError(t, l.Record(Event{Name: EventMaintenance, Context: map[string]any{"task": "orphan_audit"}}))

	all, err := l.Events("")
	require.NoError(t, err)
	assert.Len(t, all, 4)

	c1, err := l.Events("CAND-0001")
	require.NoError(t, err)
	require.Len(t, c1, 2)
	assert.Equal(t, EventStaged, c1[0].Name)
	assert.Equal(t, EventApproved, c1[1].Name)
	assert.False(t, c1[0].Timestamp.IsZero())

	assert.Equal(t, "orphan_audit", all[3].Context["task"])
	assert.Empty(t, all[3].CandidateID)
}

func TestLedger_EventsMissingFile(t *testing.T) {
	l, _ := newTestLedger(t)
	events, err := l.Events("")
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestLedger_ConcurrentAppendsStayLineAtomic(t *testing.T) {
	l, _ := newTestLedger(t)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.Record(Event{Name: EventStaged, CandidateID: "CAND-0001", Context: map[string]any{"summary": strings.Repeat("x", 512)}})
		}()
	}
	wg.Wait()

	events, err := l.Events("")
	require.NoError(t, err)
	assert.Len(t, events, 50)
}

func TestLedger_RecordUsage(t *testing.T) {
	l, _ := newTestLedger(t)

	require.NoError(t, l.RecordUsage(Usage{Channel: "tg:42", Bucket: "conversational", PromptTokens: 120, CompletionTokens: 30, Model: "m-1"}))

	recs, err := l.UsageRecords()
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, 150, recs[0].TotalTokens)
	assert.Equal(t, "tg:42", recs[0].Channel)
	assert.False(t, recs[0].Timestamp.IsZero())
}

func TestJSONLog_ScanRejectsMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("{\"event\":\"staged\"}\nnot json\n"), 0o644))

	err := NewJSONLog(path).Scan(func(json.RawMessage) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), ":2:")
}
