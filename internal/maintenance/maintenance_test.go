package maintenance

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/persona-curator/internal/audit"
	"github.com/p-blackswan/persona-curator/internal/profile"
	"github.com/p-blackswan/persona-curator/internal/storage"
)

func writeDocs(t *testing.T, dir string, p *profile.Profile, ev *profile.EvidenceLog) (string, string) {
	t.Helper()
	pp, ep := filepath.Join(dir, "profile.yaml"), filepath.Join(dir, "evidence.yaml")
	data, err := p.Marshal()
	require.NoError(t, err)
	require.NoError(t, storage.OS{}.WriteFile(pp, data, 0o644))
	data, err = ev.Marshal()
	require.NoError(t, err)
	require.NoError(t, storage.OS{}.WriteFile(ep, data, 0o644))
	return pp, ep
}

func TestAuditor_ReportsOrphans(t *testing.T) {
	dir := t.TempDir()
	p := &profile.Profile{UserID: "kid-1", Growth: profile.Growth{
		Knowledge: []profile.GrowthEntry{
			{ID: "K-0001", Category: profile.Knowledge, Text: "bees dance", EvidenceID: "EV-0001"},
			{ID: "K-0002", Category: profile.Knowledge, Text: "hand edited", EvidenceID: "EV-0009"},
		},
	}}
	ev := &profile.EvidenceLog{Entries: []profile.EvidenceEntry{
		{ID: "EV-0001", Date: "2026-04-01", Summary: "bees", Tier: 3},
	}}
	pp, ep := writeDocs(t, dir, p, ev)

	ledger := audit.NewLedger(filepath.Join(dir, "events.jsonl"), filepath.Join(dir, "usage.jsonl"), zerolog.Nop())
	a := NewAuditor(nil, pp, ep, ledger, zerolog.Nop())

	r, err := a.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, r.Clean())
	require.Len(t, r.Orphans, 1)
	assert.Equal(t, "K-0002", r.Orphans[0].EntryID)
	assert.Equal(t, 2, r.GrowthEntries)

	events, err := ledger.Events("")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, audit.EventMaintenance, events[0].Name)
}

func TestAuditor_MissingDocsAreClean(t *testing.T) {
	dir := t.TempDir()
	a := NewAuditor(nil, filepath.Join(dir, "profile.yaml"), filepath.Join(dir, "evidence.yaml"), nil, zerolog.Nop())
	r, err := a.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, r.Clean())
}

func TestScheduler_RunsJobs(t *testing.T) {
	s, err := NewScheduler(zerolog.Nop())
	require.NoError(t, err)

	var runs atomic.Int32
	require.NoError(t, s.Every(context.Background(), "tick", 10*time.Millisecond, func(context.Context) error {
		runs.Add(1)
		return nil
	}))
	assert.Equal(t, []string{"tick"}, s.Jobs())
	assert.Error(t, s.Every(context.Background(), "bad", 0, nil))

	s.Start()
	assert.Eventually(t, func() bool { return runs.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, s.Shutdown())
}
