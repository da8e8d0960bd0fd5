package candidate

import (
	"fmt"
)

// Tx is exclusive access to the store, held for the duration of a merge so
// no decision can change the approved set between validation and write.
type Tx struct {
	s *Store
}

// Exclusive runs fn while holding the store lock and the table file lock, on
// the table as it currently is on disk.
func (s *Store) Exclusive(fn func(tx *Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	release, err := s.beginWriteLocked()
	if err != nil {
		return err
	}
	defer release()
	return fn(&Tx{s: s})
}

// Path returns the table file path.
func (tx *Tx) Path() string { return tx.s.path }

// Approved returns the current approved set sorted by identifier.
func (tx *Tx) Approved() []Candidate { return tx.s.approvedLocked() }

// ApplyPlan is the candidate table as it will look once a merge commits.
type ApplyPlan struct {
	Data      []byte
	open      []*Candidate
	processed []*Candidate
	applied   map[string]*Candidate
}

// PrepareApply builds the table with every candidate in applied moved from the
// open section to the end of the processed section with status applied. The
// store itself is not modified until Commit.
func (tx *Tx) PrepareApply(applied map[string]Applied, order []string) (*ApplyPlan, error) {
	s := tx.s
	if len(order) != len(applied) {
		return nil, fmt.Errorf("candidates: apply order does not match apply details")
	}
	plan := &ApplyPlan{applied: make(map[string]*Candidate, len(applied))}

	for _, id := range order {
		info, ok := applied[id]
		if !ok {
			return nil, fmt.Errorf("candidates: no apply details for %s", id)
		}
		cur, ok := s.index[id]
		if !ok {
			return nil, fmt.Errorf("candidates: %s not in table", id)
		}
		if cur.Status != StatusApproved {
			return nil, fmt.Errorf("candidates: %s is %s, not approved", id, cur.Status)
		}
		next := *cur
		next.Status = StatusApplied
		next.AppliedAt = info.At.UTC()
		next.EvidenceID = info.EvidenceID
		next.GrowthID = info.GrowthID
		if next.DecidedBy == "" {
			next.DecidedBy = info.ApprovedBy
		}
		plan.applied[id] = &next
	}
	if len(plan.applied) != len(applied) {
		return nil, fmt.Errorf("candidates: apply order repeats a candidate")
	}

	for _, c := range s.open {
		if _, moved := plan.applied[c.ID]; !moved {
			plan.open = append(plan.open, c)
		}
	}
	plan.processed = append(plan.processed, s.processed...)
	for _, id := range order {
		plan.processed = append(plan.processed, plan.applied[id])
	}

	data, err := encode(plan.open, plan.processed)
	if err != nil {
		return nil, fmt.Errorf("candidates: encode: %w", err)
	}
	plan.Data = data
	return plan, nil
}

// Commit installs plan as the in-memory table after its Data was written.
func (tx *Tx) Commit(plan *ApplyPlan) {
	s := tx.s
	s.open = plan.open
	s.processed = plan.processed
	for id, c := range plan.applied {
		s.index[id] = c
	}
	s.digest = tableDigest(plan.Data, true)
}
