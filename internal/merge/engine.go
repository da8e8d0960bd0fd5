// Package merge commits an approved batch of candidates into the profile,
// the evidence log, the prompt template and the candidate table as one unit:
// either every store is rewritten or every store is restored.
package merge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/persona-curator/internal/audit"
	"github.com/p-blackswan/persona-curator/internal/candidate"
	perrors "github.com/p-blackswan/persona-curator/internal/errors"
	"github.com/p-blackswan/persona-curator/internal/metrics"
	"github.com/p-blackswan/persona-curator/internal/profile"
	"github.com/p-blackswan/persona-curator/internal/storage"
)

// DefaultSummaryMax bounds evidence summaries, in runes.
const DefaultSummaryMax = 240

// Paths locates the merge target documents.
type Paths struct {
	Profile  string
	Evidence string
	Prompt   string
}

// Exporter regenerates derived read-only views after a merge.
type Exporter interface {
	Export(ctx context.Context, p *profile.Profile, ev *profile.EvidenceLog) error
}

// ReceiptLog remembers applied receipts so one cannot be replayed.
type ReceiptLog interface {
	Contains(digest string) (bool, error)
	Append(rec audit.ReceiptRecord) error
}

// Options configures an Engine.
type Options struct {
	Paths      Paths
	FS         storage.FS
	Store      *candidate.Store
	Ledger     *audit.Ledger
	Receipts   ReceiptLog
	Exporter   Exporter
	Metrics    *metrics.Metrics
	Logger     zerolog.Logger
	SummaryMax int
	Now        func() time.Time
}

// Engine applies merge receipts.
type Engine struct {
	paths      Paths
	fsys       storage.FS
	store      *candidate.Store
	ledger     *audit.Ledger
	receipts   ReceiptLog
	exporter   Exporter
	metrics    *metrics.Metrics
	logger     zerolog.Logger
	summaryMax int
	now        func() time.Time
}

// New creates an Engine.
func New(opts Options) *Engine {
	if opts.FS == nil {
		opts.FS = storage.OS{}
	}
	if opts.SummaryMax <= 0 {
		opts.SummaryMax = DefaultSummaryMax
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{
		paths:      opts.Paths,
		fsys:       opts.FS,
		store:      opts.Store,
		ledger:     opts.Ledger,
		receipts:   opts.Receipts,
		exporter:   opts.Exporter,
		metrics:    opts.Metrics,
		logger:     opts.Logger.With().Str("component", "merge").Logger(),
		summaryMax: opts.SummaryMax,
		now:        opts.Now,
	}
}

// AppliedCandidate reports what one candidate became.
type AppliedCandidate struct {
	CandidateID    string           `json:"candidate_id"`
	Category       profile.Category `json:"category"`
	EvidenceID     string           `json:"evidence_id"`
	GrowthID       string           `json:"growth_id"`
	PromptSection  string           `json:"prompt_section,omitempty"`
	PromptLine     string           `json:"prompt_line,omitempty"`
	PromptInserted bool             `json:"prompt_inserted"`
}

// Result is the outcome of a successful Apply.
type Result struct {
	MergeID      string             `json:"merge_id"`
	ApprovedBy   string             `json:"approved_by"`
	MergedAt     time.Time          `json:"merged_at"`
	Applied      []AppliedCandidate `json:"applied"`
	ChangedFiles []string           `json:"changed_files"`
	// ExportErr is set when derived exports could not be regenerated. The
	// merge itself stands.
	ExportErr error `json:"-"`
	// ReceiptLogErr is set when the merge committed but its receipt was not
	// appended to the receipt log, so a replay of it would not be detected.
	ReceiptLogErr error `json:"-"`
}

// documents is the loaded state of every merge target.
type documents struct {
	profile  *profile.Profile
	evidence *profile.EvidenceLog
	prompt   string
}

func (e *Engine) load() (*documents, error) {
	p, err := profile.LoadProfile(e.fsys, e.paths.Profile)
	if err != nil {
		return nil, err
	}
	ev, err := profile.LoadEvidence(e.fsys, e.paths.Evidence)
	if err != nil {
		return nil, err
	}
	prompt, _, err := storage.ReadOptional(e.fsys, e.paths.Prompt)
	if err != nil {
		return nil, fmt.Errorf("prompt: read %s: %w", e.paths.Prompt, err)
	}
	return &documents{profile: p, evidence: ev, prompt: string(prompt)}, nil
}

// validate runs every receipt check that needs store or log state.
func (e *Engine) validate(r Receipt, approver string, approved []candidate.Candidate, docs *documents) error {
	if err := r.Check(); err != nil {
		return err
	}
	if approver = strings.TrimSpace(approver); approver != strings.TrimSpace(r.ApprovedBy) {
		return perrors.NewValidationError(perrors.ErrInvalidReceipt,
			"receipt is signed by %q, not %q", r.ApprovedBy, approver)
	}
	if r.UserID != "" && docs.profile.UserID != "" && r.UserID != docs.profile.UserID {
		return perrors.NewValidationError(perrors.ErrInvalidReceipt,
			"receipt is for user %q but the profile belongs to %q", r.UserID, docs.profile.UserID)
	}
	if e.receipts != nil {
		used, err := e.receipts.Contains(r.Digest())
		if err != nil {
			return fmt.Errorf("merge: read receipt log: %w", err)
		}
		if used {
			return perrors.NewValidationError(perrors.ErrReceiptReused, "receipt %s was already applied", r.Digest()[:12])
		}
	}
	return r.matchApproved(approved)
}

// Apply validates r against the current approved set and commits it. The
// candidate store stays locked from validation through the last write.
func (e *Engine) Apply(ctx context.Context, r Receipt) (*Result, error) {
	return e.ApplyAs(ctx, r, r.ApprovedBy)
}

// ApplyAs is Apply for an operator who must be the receipt's signer.
func (e *Engine) ApplyAs(ctx context.Context, r Receipt, approver string) (*Result, error) {
	var (
		res     *Result
		docs    *documents
		applied []candidate.Candidate
	)
	err := e.store.Exclusive(func(tx *candidate.Tx) error {
		approved := tx.Approved()
		var err error
		docs, err = e.load()
		if err != nil {
			return err
		}
		if err := e.validate(r, approver, approved, docs); err != nil {
			return err
		}

		now := e.now().UTC()
		derived, err := e.derive(approved, docs, now)
		if err != nil {
			return err
		}

		order := make([]string, len(approved))
		details := make(map[string]candidate.Applied, len(approved))
		for i, item := range derived.items {
			order[i] = item.CandidateID
			details[item.CandidateID] = candidate.Applied{
				EvidenceID: item.EvidenceID,
				GrowthID:   item.GrowthID,
				ApprovedBy: r.ApprovedBy,
				At:         now,
			}
		}
		candPlan, err := tx.PrepareApply(details, order)
		if err != nil {
			return err
		}

		targets, err := derived.targets(e.paths, docs.prompt)
		if err != nil {
			return err
		}
		targets = append(targets, target{path: tx.Path(), data: candPlan.Data})

		if err := e.writeAll(targets); err != nil {
			return err
		}
		tx.Commit(candPlan)

		res = &Result{
			MergeID:    uuid.NewString(),
			ApprovedBy: r.ApprovedBy,
			MergedAt:   now,
			Applied:    derived.items,
		}
		for _, t := range targets {
			res.ChangedFiles = append(res.ChangedFiles, t.path)
		}
		docs.profile, docs.evidence = derived.profile, derived.evidence
		applied = approved

		if e.receipts != nil {
			if err := e.receipts.Append(audit.ReceiptRecord{
				MergedAt:     now,
				MergeID:      res.MergeID,
				Digest:       r.Digest(),
				UserID:       r.UserID,
				ApprovedBy:   r.ApprovedBy,
				ApprovedAt:   r.ApprovedAt,
				CandidateIDs: r.SortedIDs(),
			}); err != nil {
				res.ReceiptLogErr = err
				e.logger.Error().Err(err).Str("merge_id", res.MergeID).Msg("merge receipt not logged")
			}
		}
		return nil
	})
	if err != nil {
		e.recordFailure(r, err)
		return nil, err
	}

	for _, item := range res.Applied {
		e.record(audit.Event{
			Name:        audit.EventApplied,
			CandidateID: item.CandidateID,
			Context: map[string]any{
				"evidence_id": item.EvidenceID,
				"growth_id":   item.GrowthID,
				"approved_by": r.ApprovedBy,
				"merge_id":    res.MergeID,
			},
		})
	}
	e.metrics.RecordMerge("applied")
	e.logger.Info().
		Str("merge_id", res.MergeID).
		Str("approved_by", r.ApprovedBy).
		Int("candidates", len(applied)).
		Msg("merge applied")

	if e.exporter != nil {
		if err := e.exporter.Export(ctx, docs.profile, docs.evidence); err != nil {
			res.ExportErr = err
			e.logger.Warn().Err(err).Str("merge_id", res.MergeID).Msg("derived export failed")
		}
	}
	return res, nil
}

func (e *Engine) recordFailure(r Receipt, err error) {
	var we *perrors.WriteError
	switch {
	case perrors.IsValidation(err):
		e.metrics.RecordMerge("invalid")
		e.logger.Warn().Err(err).Str("approved_by", r.ApprovedBy).Msg("merge receipt refused")
		e.record(audit.Event{
			Name: audit.EventValidationFailed,
			Context: map[string]any{
				"reason":        err.Error(),
				"approved_by":   r.ApprovedBy,
				"candidate_ids": r.SortedIDs(),
			},
		})
	case errors.As(err, &we):
		e.metrics.RecordMerge("rolled_back")
		e.logger.Error().Err(err).Str("path", we.Path).Msg("merge rolled back")
	default:
		e.metrics.RecordMerge("error")
		e.logger.Error().Err(err).Msg("merge failed")
	}
}

type target struct {
	path string
	data []byte
}

// writeAll snapshots every target, then writes them in order. On the first
// failure every snapshot is restored before the error is returned.
func (e *Engine) writeAll(targets []target) error {
	snaps := make([]storage.Snapshot, 0, len(targets))
	for _, t := range targets {
		s, err := storage.Capture(e.fsys, t.path)
		if err != nil {
			return err
		}
		snaps = append(snaps, s)
	}

	for _, t := range targets {
		if err := e.fsys.WriteFile(t.path, t.data, 0o644); err != nil {
			if rerr := e.restore(snaps); rerr != nil {
				err = errors.Join(err, rerr)
			}
			return &perrors.WriteError{Path: t.path, Err: err}
		}
	}
	return nil
}

func (e *Engine) restore(snaps []storage.Snapshot) error {
	var errs []error
	for i := len(snaps) - 1; i >= 0; i-- {
		if err := snaps[i].Restore(e.fsys); err != nil {
			e.logger.Error().Err(err).Str("path", snaps[i].Path).Msg("restore failed")
			errs = append(errs, fmt.Errorf("restore %s: %w", snaps[i].Path, err))
		}
	}
	return errors.Join(errs...)
}

func (e *Engine) record(ev audit.Event) {
	if e.ledger == nil {
		return
	}
	if err := e.ledger.Record(ev); err != nil {
		e.logger.Error().Err(err).Str("candidate_id", ev.CandidateID).Msg("pipeline event not recorded")
	}
}
