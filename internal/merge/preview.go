package merge

import (
	"github.com/p-blackswan/persona-curator/internal/candidate"
)

// Preview is what Apply would do with the current approved set.
type Preview struct {
	Approved []candidate.Candidate `json:"approved"`
	Items    []AppliedCandidate    `json:"items"`
}

// Preview derives the merge for the current approved set without writing.
func (e *Engine) Preview() (*Preview, error) {
	var out *Preview
	err := e.store.Exclusive(func(tx *candidate.Tx) error {
		approved := tx.Approved()
		docs, err := e.load()
		if err != nil {
			return err
		}
		p, err := e.derive(approved, docs, e.now().UTC())
		if err != nil {
			return err
		}
		out = &Preview{Approved: approved, Items: p.items}
		return nil
	})
	return out, err
}
