package profile

import "fmt"

// OrphanKind classifies an integrity violation found by FindOrphans.
type OrphanKind string

const (
	// OrphanGrowth is a growth entry whose evidence_id does not resolve.
	OrphanGrowth OrphanKind = "growth"
	// OrphanArtifact is an evidence entry with half an artifact reference.
	OrphanArtifact OrphanKind = "artifact"
)

// Orphan is one integrity violation.
type Orphan struct {
	Kind       OrphanKind `json:"kind"`
	EntryID    string     `json:"entry_id"`
	Category   Category   `json:"category,omitempty"`
	EvidenceID string     `json:"evidence_id,omitempty"`
}

func (o Orphan) String() string {
	switch o.Kind {
	case OrphanGrowth:
		return fmt.Sprintf("%s entry %s references missing evidence %q", o.Category, o.EntryID, o.EvidenceID)
	case OrphanArtifact:
		return fmt.Sprintf("evidence %s has an incomplete artifact reference", o.EntryID)
	}
	return string(o.Kind) + " " + o.EntryID
}

// FindOrphans audits p against ev. Growth entries are reported in category
// order, then evidence entries in log order.
func FindOrphans(p *Profile, ev *EvidenceLog) []Orphan {
	known := make(map[string]struct{}, len(ev.Entries))
	for _, e := range ev.Entries {
		known[e.ID] = struct{}{}
	}

	var out []Orphan
	for _, g := range p.AllEntries() {
		if _, ok := known[g.EvidenceID]; !ok {
			out = append(out, Orphan{
				Kind:       OrphanGrowth,
				EntryID:    g.ID,
				Category:   g.Category,
				EvidenceID: g.EvidenceID,
			})
		}
	}
	for _, e := range ev.Entries {
		if (e.ArtifactPath == "") != (e.ArtifactSHA256 == "") {
			out = append(out, Orphan{Kind: OrphanArtifact, EntryID: e.ID})
		}
	}
	return out
}
