package candidate

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/p-blackswan/persona-curator/internal/audit"
	"github.com/p-blackswan/persona-curator/internal/conflict"
	perrors "github.com/p-blackswan/persona-curator/internal/errors"
	"github.com/p-blackswan/persona-curator/internal/metrics"
	"github.com/p-blackswan/persona-curator/internal/profile"
	"github.com/p-blackswan/persona-curator/internal/storage"
)

// Notifier is told about every newly staged candidate.
type Notifier interface {
	CandidateStaged(ctx context.Context, c Candidate) error
}

// ProfileSource supplies the current profile for conflict checks.
type ProfileSource func() (*profile.Profile, error)

// Options configures a Store.
type Options struct {
	Path     string
	FS       storage.FS
	Checker  *conflict.Checker
	Profile  ProfileSource
	Ledger   *audit.Ledger
	Notifier Notifier
	Metrics  *metrics.Metrics
	Logger   zerolog.Logger
	Now      func() time.Time
}

// document is the on-disk layout of candidates.yaml.
type document struct {
	Pending   []*Candidate `yaml:"pending"`
	Processed []*Candidate `yaml:"processed"`
}

// Store is the candidate table. A single mutex guards identifier allocation,
// the in-memory index and every write of the table file. Other processes may
// write the same file: mutations hold a file lock and start from the table as
// it is on disk.
type Store struct {
	mu        sync.Mutex
	fsys      storage.FS
	path      string
	lock      *storage.FileLock
	digest    [sha256.Size]byte
	loaded    bool
	checker   *conflict.Checker
	profile   ProfileSource
	ledger    *audit.Ledger
	notifier  Notifier
	metrics   *metrics.Metrics
	logger    zerolog.Logger
	now       func() time.Time
	open      []*Candidate
	processed []*Candidate
	index     map[string]*Candidate
}

// Open loads the table at opts.Path. A missing file is an empty table.
func Open(opts Options) (*Store, error) {
	if opts.FS == nil {
		opts.FS = storage.OS{}
	}
	if opts.Checker == nil {
		opts.Checker = conflict.New(nil)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	s := &Store{
		fsys:     opts.FS,
		path:     opts.Path,
		lock:     storage.NewFileLock(opts.Path + ".lock"),
		checker:  opts.Checker,
		profile:  opts.Profile,
		ledger:   opts.Ledger,
		notifier: opts.Notifier,
		metrics:  opts.Metrics,
		logger:   opts.Logger.With().Str("component", "candidates").Logger(),
		now:      opts.Now,
		index:    make(map[string]*Candidate),
	}
	if err := s.refreshLocked(); err != nil {
		return nil, err
	}
	return s, nil
}

func tableDigest(data []byte, exists bool) [sha256.Size]byte {
	if !exists {
		return [sha256.Size]byte{}
	}
	return sha256.Sum256(data)
}

// refreshLocked reloads the table when the file no longer holds what this
// store last read or wrote. A missing file is an empty table.
func (s *Store) refreshLocked() error {
	data, ok, err := storage.ReadOptional(s.fsys, s.path)
	if err != nil {
		return fmt.Errorf("candidates: read %s: %w", s.path, err)
	}
	sum := tableDigest(data, ok)
	if s.loaded && sum == s.digest {
		return nil
	}

	var doc document
	if ok {
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("candidates: parse %s: %w", s.path, err)
		}
	}
	index := make(map[string]*Candidate, len(doc.Pending)+len(doc.Processed))
	for _, section := range [][]*Candidate{doc.Pending, doc.Processed} {
		for _, c := range section {
			if c == nil || c.ID == "" {
				return fmt.Errorf("candidates: %s: entry without id", s.path)
			}
			if _, dup := index[c.ID]; dup {
				return fmt.Errorf("candidates: %s: duplicate id %s", s.path, c.ID)
			}
			index[c.ID] = c
		}
	}
	if s.loaded {
		s.logger.Debug().Str("path", s.path).Msg("candidate table changed on disk, reloaded")
	}
	s.open, s.processed, s.index = doc.Pending, doc.Processed, index
	s.digest = sum
	s.loaded = true
	return nil
}

// beginWriteLocked takes the file lock and brings the table up to date. The
// caller holds s.mu and must call release.
func (s *Store) beginWriteLocked() (release func(), err error) {
	if err := s.lock.Lock(); err != nil {
		return nil, fmt.Errorf("candidates: %w", err)
	}
	release = func() {
		if err := s.lock.Unlock(); err != nil {
			s.logger.Warn().Err(err).Str("path", s.lock.Path()).Msg("table lock not released")
		}
	}
	if err := s.refreshLocked(); err != nil {
		release()
		return nil, err
	}
	return release, nil
}

// syncLocked refreshes the table for readers. An unreadable file leaves the
// last loaded copy in place.
func (s *Store) syncLocked() {
	if err := s.refreshLocked(); err != nil {
		s.logger.Warn().Err(err).Msg("candidate table unreadable, serving last loaded copy")
	}
}

// Path returns the table file path.
func (s *Store) Path() string { return s.path }

// Stage allocates the next identifier, annotates conflicts, persists the new
// pending candidate and records a staged event.
func (s *Store) Stage(ctx context.Context, d Draft) (Candidate, error) {
	if !d.Category.Valid() {
		return Candidate{}, fmt.Errorf("%w: unknown category %q", perrors.ErrInvalidInput, d.Category)
	}
	d.Summary = strings.TrimSpace(d.Summary)
	if d.Summary == "" {
		return Candidate{}, fmt.Errorf("%w: candidate summary is empty", perrors.ErrInvalidInput)
	}
	if d.At.IsZero() {
		d.At = s.now()
	}

	staged, err := s.stage(d)
	if err != nil {
		return Candidate{}, err
	}

	s.metrics.RecordStaged()
	s.record(audit.Event{
		Name:        audit.EventStaged,
		CandidateID: staged.ID,
		Context: map[string]any{
			"category":  string(staged.Category),
			"channel":   staged.Channel,
			"conflicts": len(staged.Conflicts),
		},
	})
	if s.notifier != nil {
		if err := s.notifier.CandidateStaged(ctx, staged); err != nil {
			s.logger.Warn().Err(err).Str("candidate_id", staged.ID).Msg("staged-candidate notification failed")
		}
	}
	return staged, nil
}

func (s *Store) stage(d Draft) (Candidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	release, err := s.beginWriteLocked()
	if err != nil {
		return Candidate{}, err
	}
	defer release()

	c := &Candidate{
		ID:             s.nextIDLocked(),
		Status:         StatusPending,
		CreatedAt:      d.At.UTC(),
		Channel:        d.Channel,
		Category:       d.Category,
		Summary:        d.Summary,
		SuggestedEntry: strings.TrimSpace(d.SuggestedEntry),
		Section:        strings.TrimSpace(d.Section),
		PromptAddition: strings.TrimSpace(d.PromptAddition),
	}
	c.Conflicts = s.checkConflicts(*c)

	s.open = append(s.open, c)
	s.index[c.ID] = c
	if err := s.persistLocked(); err != nil {
		s.open = s.open[:len(s.open)-1]
		delete(s.index, c.ID)
		return Candidate{}, err
	}
	return *c, nil
}

// nextIDLocked scans every identifier in the table, processed included.
func (s *Store) nextIDLocked() string {
	ids := make([]string, 0, len(s.index))
	for id := range s.index {
		ids = append(ids, id)
	}
	return profile.NextID(IDPrefix, ids)
}

func (s *Store) checkConflicts(c Candidate) []conflict.Conflict {
	if c.Category != profile.Personality || s.profile == nil {
		return nil
	}
	p, err := s.profile()
	if err != nil {
		s.logger.Warn().Err(err).Str("candidate_id", c.ID).Msg("conflict check skipped: profile unavailable")
		return nil
	}
	return s.checker.Check(c.CheckText(), c.Category, p)
}

// Get returns the candidate with id.
func (s *Store) Get(id string) (Candidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.syncLocked()
	c, ok := s.index[id]
	if !ok {
		return Candidate{}, fmt.Errorf("candidate %s: %w", id, perrors.ErrNotFound)
	}
	return *c, nil
}

// List returns candidates in table order (open section, then processed),
// optionally restricted to statuses.
func (s *Store) List(statuses ...Status) []Candidate {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.syncLocked()
	return s.listLocked(statuses...)
}

func (s *Store) listLocked(statuses ...Status) []Candidate {
	want := make(map[Status]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}
	var out []Candidate
	for _, section := range [][]*Candidate{s.open, s.processed} {
		for _, c := range section {
			if len(want) == 0 || want[c.Status] {
				out = append(out, *c)
			}
		}
	}
	return out
}

// ListPending returns candidates awaiting a decision.
func (s *Store) ListPending() []Candidate {
	return s.List(StatusPending)
}

// Approved returns approved candidates sorted by identifier.
func (s *Store) Approved() []Candidate {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.syncLocked()
	return s.approvedLocked()
}

func (s *Store) approvedLocked() []Candidate {
	out := s.listLocked(StatusApproved)
	sort.Slice(out, func(i, j int) bool { return lessID(out[i].ID, out[j].ID) })
	return out
}

// lessID orders identifiers numerically so CAND-10000 sorts after CAND-9999.
func lessID(a, b string) bool {
	na, okA := profile.ParseID(IDPrefix, a)
	nb, okB := profile.ParseID(IDPrefix, b)
	if okA && okB && na != nb {
		return na < nb
	}
	return a < b
}

// Mark records an operator decision. Only approved and rejected are valid
// targets; a missing candidate yields ErrNotFound and an illegal change a
// *TransitionError. Nothing changes on failure.
func (s *Store) Mark(ctx context.Context, id string, to Status, by string) (Candidate, error) {
	updated, from, err := s.mark(id, to, by)
	if err != nil {
		s.metrics.RecordTransition(string(to), false)
		return Candidate{}, err
	}

	s.metrics.RecordTransition(string(to), true)
	name := audit.EventApproved
	if to == StatusRejected {
		name = audit.EventRejected
	}
	s.record(audit.Event{
		Name:        name,
		CandidateID: id,
		Context:     map[string]any{"decided_by": by, "from": string(from)},
	})
	return updated, nil
}

func (s *Store) mark(id string, to Status, by string) (Candidate, Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	release, err := s.beginWriteLocked()
	if err != nil {
		return Candidate{}, "", err
	}
	defer release()

	c, ok := s.index[id]
	if !ok {
		return Candidate{}, "", fmt.Errorf("candidate %s: %w", id, perrors.ErrNotFound)
	}
	from := c.Status
	if (to != StatusApproved && to != StatusRejected) || !canTransition(from, to) {
		s.logger.Warn().
			Str("candidate_id", id).
			Str("from", string(from)).
			Str("to", string(to)).
			Msg("transition refused")
		return Candidate{}, from, &perrors.TransitionError{CandidateID: id, From: string(from), To: string(to)}
	}

	prev := *c
	c.Status = to
	c.DecidedBy = by
	c.DecidedAt = s.now().UTC()
	if err := s.persistLocked(); err != nil {
		*c = prev
		return Candidate{}, from, err
	}
	return *c, from, nil
}

func (s *Store) record(ev audit.Event) {
	if s.ledger == nil {
		return
	}
	if err := s.ledger.Record(ev); err != nil {
		s.logger.Error().Err(err).Str("candidate_id", ev.CandidateID).Msg("pipeline event not recorded")
	}
}

func (s *Store) persistLocked() error {
	data, err := encode(s.open, s.processed)
	if err != nil {
		return fmt.Errorf("candidates: encode: %w", err)
	}
	if err := s.fsys.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("candidates: write %s: %w", s.path, err)
	}
	s.digest = tableDigest(data, true)
	return nil
}

func encode(open, processed []*Candidate) ([]byte, error) {
	doc := document{Pending: open, Processed: processed}
	if doc.Pending == nil {
		doc.Pending = []*Candidate{}
	}
	if doc.Processed == nil {
		doc.Processed = []*Candidate{}
	}
	var b strings.Builder
	enc := yaml.NewEncoder(&b)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return []byte(b.String()), nil
}
