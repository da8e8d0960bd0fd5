// Package maintenance runs the periodic sweeps of a serving curator: the
// orphan audit of profile against evidence and pruning of idle rate-limiter
// keys.
package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/persona-curator/internal/audit"
	"github.com/p-blackswan/persona-curator/internal/profile"
	"github.com/p-blackswan/persona-curator/internal/storage"
)

// Report is the outcome of one orphan audit.
type Report struct {
	At              time.Time        `json:"at"`
	GrowthEntries   int              `json:"growth_entries"`
	EvidenceEntries int              `json:"evidence_entries"`
	Orphans         []profile.Orphan `json:"orphans"`
}

// Clean reports whether the audit found nothing.
func (r Report) Clean() bool { return len(r.Orphans) == 0 }

// Auditor checks that every growth entry resolves to evidence. It reports;
// it never repairs and never blocks merges.
type Auditor struct {
	fsys         storage.FS
	profilePath  string
	evidencePath string
	ledger       *audit.Ledger
	logger       zerolog.Logger
	now          func() time.Time
}

// NewAuditor creates an Auditor. ledger may be nil.
func NewAuditor(fsys storage.FS, profilePath, evidencePath string, ledger *audit.Ledger, logger zerolog.Logger) *Auditor {
	if fsys == nil {
		fsys = storage.OS{}
	}
	return &Auditor{
		fsys:         fsys,
		profilePath:  profilePath,
		evidencePath: evidencePath,
		ledger:       ledger,
		logger:       logger.With().Str("component", "maintenance").Str("task", "orphan_audit").Logger(),
		now:          time.Now,
	}
}

// Run loads both documents and reports orphans.
func (a *Auditor) Run(ctx context.Context) (Report, error) {
	if err := ctx.Err(); err != nil {
		return Report{}, err
	}
	p, err := profile.LoadProfile(a.fsys, a.profilePath)
	if err != nil {
		return Report{}, fmt.Errorf("orphan audit: %w", err)
	}
	ev, err := profile.LoadEvidence(a.fsys, a.evidencePath)
	if err != nil {
		return Report{}, fmt.Errorf("orphan audit: %w", err)
	}

	r := Report{
		At:              a.now().UTC(),
		GrowthEntries:   len(p.AllEntries()),
		EvidenceEntries: len(ev.Entries),
		Orphans:         profile.FindOrphans(p, ev),
	}
	for _, o := range r.Orphans {
		a.logger.Warn().
			Str("kind", string(o.Kind)).
			Str("entry_id", o.EntryID).
			Str("evidence_id", o.EvidenceID).
			Msg(o.String())
	}
	if r.Clean() {
		a.logger.Debug().Int("growth_entries", r.GrowthEntries).Msg("no orphans")
	}

	if a.ledger != nil {
		err := a.ledger.Record(audit.Event{
			Name: audit.EventMaintenance,
			Context: map[string]any{
				"task":    "orphan_audit",
				"orphans": len(r.Orphans),
			},
		})
		if err != nil {
			a.logger.Error().Err(err).Msg("maintenance event not recorded")
		}
	}
	return r, nil
}
