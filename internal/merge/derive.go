package merge

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/p-blackswan/persona-curator/internal/candidate"
	"github.com/p-blackswan/persona-curator/internal/profile"
)

// plan is the fully derived post-merge state, built without touching disk.
type plan struct {
	items    []AppliedCandidate
	profile  *profile.Profile
	evidence *profile.EvidenceLog
	prompt   string
}

// derive computes evidence, growth and prompt changes for approved, which is
// sorted by candidate identifier so the result is deterministic.
func (e *Engine) derive(approved []candidate.Candidate, docs *documents, now time.Time) (*plan, error) {
	p := &plan{
		profile:  docs.profile.Clone(),
		evidence: docs.evidence.Clone(),
		prompt:   docs.prompt,
	}
	date := now.Format("2006-01-02")

	for _, c := range approved {
		ev := profile.EvidenceEntry{
			ID:          p.evidence.NextID(),
			Date:        date,
			Summary:     Truncate(c.Summary, e.summaryMax),
			Tier:        profile.MinPipelineTier,
			Channel:     c.Channel,
			CandidateID: c.ID,
		}
		if err := p.evidence.Append(ev); err != nil {
			return nil, fmt.Errorf("merge: %s: %w", c.ID, err)
		}

		text := c.SuggestedEntry
		if text == "" {
			text = c.Summary
		}
		g := profile.GrowthEntry{
			ID:         p.profile.NextGrowthID(c.Category),
			Category:   c.Category,
			Text:       text,
			EvidenceID: ev.ID,
			Added:      date,
		}
		if err := p.profile.Add(g); err != nil {
			return nil, fmt.Errorf("merge: %s: %w", c.ID, err)
		}

		item := AppliedCandidate{
			CandidateID: c.ID,
			Category:    c.Category,
			EvidenceID:  ev.ID,
			GrowthID:    g.ID,
		}
		if c.PromptAddition != "" {
			item.PromptSection = promptSection(c)
			item.PromptLine = c.PromptAddition
			p.prompt, item.PromptInserted = profile.InsertUnderSection(p.prompt, item.PromptSection, c.PromptAddition)
		}
		p.items = append(p.items, item)
	}
	return p, nil
}

// targets encodes the documents in write order. The prompt is only written
// when an insertion changed it.
func (p *plan) targets(paths Paths, originalPrompt string) ([]target, error) {
	profileData, err := p.profile.Marshal()
	if err != nil {
		return nil, fmt.Errorf("merge: encode profile: %w", err)
	}
	evidenceData, err := p.evidence.Marshal()
	if err != nil {
		return nil, fmt.Errorf("merge: encode evidence: %w", err)
	}
	out := []target{
		{path: paths.Profile, data: profileData},
		{path: paths.Evidence, data: evidenceData},
	}
	if p.prompt != originalPrompt {
		out = append(out, target{path: paths.Prompt, data: []byte(p.prompt)})
	}
	return out, nil
}

// promptSection is the candidate's named section, or one named after its
// category.
func promptSection(c candidate.Candidate) string {
	if c.Section != "" {
		return c.Section
	}
	s := string(c.Category)
	if s == "" {
		return "Growth"
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// Truncate shortens s to at most max runes, ending in "..." when cut.
func Truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	if max <= 3 {
		return string([]rune(s)[:max])
	}
	r := []rune(s)
	return strings.TrimSpace(string(r[:max-3])) + "..."
}
