// Package profile holds the curated persona documents: the profile with its
// growth collections, the evidence log backing every growth entry, and the
// agent prompt template. Only the merge engine writes them.
package profile

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	perrors "github.com/p-blackswan/persona-curator/internal/errors"
	"github.com/p-blackswan/persona-curator/internal/storage"
)

// Category is a growth collection.
type Category string

const (
	Knowledge   Category = "knowledge"
	Curiosity   Category = "curiosity"
	Personality Category = "personality"
)

// Categories lists every growth collection in document order.
var Categories = []Category{Knowledge, Curiosity, Personality}

// ParseCategory validates s as a Category.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("%w: unknown category %q", perrors.ErrInvalidInput, s)
	}
	return c, nil
}

// Valid reports whether c names a growth collection.
func (c Category) Valid() bool {
	switch c {
	case Knowledge, Curiosity, Personality:
		return true
	}
	return false
}

// IDPrefix is the growth-entry identifier prefix for c.
func (c Category) IDPrefix() string {
	switch c {
	case Knowledge:
		return "K"
	case Curiosity:
		return "C"
	case Personality:
		return "P"
	}
	return "G"
}

// GrowthEntry is one merged item in a growth collection.
type GrowthEntry struct {
	ID         string   `yaml:"id"`
	Category   Category `yaml:"category"`
	Text       string   `yaml:"text"`
	EvidenceID string   `yaml:"evidence_id"`
	Added      string   `yaml:"added,omitempty"`
}

// Growth holds the three append-only collections.
type Growth struct {
	Knowledge   []GrowthEntry `yaml:"knowledge"`
	Curiosity   []GrowthEntry `yaml:"curiosity"`
	Personality []GrowthEntry `yaml:"personality"`
}

// Traits describes the persona's documented temperament.
type Traits struct {
	Traits      []string `yaml:"traits,omitempty"`
	Description string   `yaml:"description,omitempty"`
}

// Profile is the curated persona document.
type Profile struct {
	UserID      string            `yaml:"user_id"`
	Name        string            `yaml:"name,omitempty"`
	Identity    map[string]string `yaml:"identity,omitempty"`
	Preferences map[string]string `yaml:"preferences,omitempty"`
	Personality Traits            `yaml:"personality"`
	Growth      Growth            `yaml:"growth"`
}

// Entries returns the collection for c.
func (p *Profile) Entries(c Category) []GrowthEntry {
	switch c {
	case Knowledge:
		return p.Growth.Knowledge
	case Curiosity:
		return p.Growth.Curiosity
	case Personality:
		return p.Growth.Personality
	}
	return nil
}

// AllEntries returns every growth entry in category order.
func (p *Profile) AllEntries() []GrowthEntry {
	var out []GrowthEntry
	for _, c := range Categories {
		out = append(out, p.Entries(c)...)
	}
	return out
}

// Add appends e to the collection named by e.Category.
func (p *Profile) Add(e GrowthEntry) error {
	if e.EvidenceID == "" {
		return fmt.Errorf("%w: growth entry %s has no evidence_id", perrors.ErrInvalidInput, e.ID)
	}
	switch e.Category {
	case Knowledge:
		p.Growth.Knowledge = append(p.Growth.Knowledge, e)
	case Curiosity:
		p.Growth.Curiosity = append(p.Growth.Curiosity, e)
	case Personality:
		p.Growth.Personality = append(p.Growth.Personality, e)
	default:
		return fmt.Errorf("%w: unknown category %q", perrors.ErrInvalidInput, e.Category)
	}
	return nil
}

// NextGrowthID returns the next free identifier in collection c.
func (p *Profile) NextGrowthID(c Category) string {
	entries := p.Entries(c)
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	return NextID(c.IDPrefix(), ids)
}

// PersonalityText joins the trait fields and prior personality entries into
// the text the conflict checker compares against.
func (p *Profile) PersonalityText() string {
	parts := make([]string, 0, len(p.Personality.Traits)+len(p.Growth.Personality)+1)
	parts = append(parts, p.Personality.Traits...)
	if p.Personality.Description != "" {
		parts = append(parts, p.Personality.Description)
	}
	for _, e := range p.Growth.Personality {
		parts = append(parts, e.Text)
	}
	return strings.Join(parts, "\n")
}

// Clone returns a deep copy so callers can mutate without touching p.
func (p *Profile) Clone() *Profile {
	c := *p
	c.Identity = cloneMap(p.Identity)
	c.Preferences = cloneMap(p.Preferences)
	c.Personality.Traits = append([]string(nil), p.Personality.Traits...)
	c.Growth.Knowledge = append([]GrowthEntry(nil), p.Growth.Knowledge...)
	c.Growth.Curiosity = append([]GrowthEntry(nil), p.Growth.Curiosity...)
	c.Growth.Personality = append([]GrowthEntry(nil), p.Growth.Personality...)
	return &c
}

func cloneMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// LoadProfile reads the profile at path. A missing file yields an empty profile.
func LoadProfile(fsys storage.FS, path string) (*Profile, error) {
	data, ok, err := storage.ReadOptional(fsys, path)
	if err != nil {
		return nil, fmt.Errorf("profile: read %s: %w", path, err)
	}
	p := &Profile{}
	if !ok {
		return p, nil
	}
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("profile: parse %s: %w", path, err)
	}
	return p, nil
}

// Marshal encodes p as YAML.
func (p *Profile) Marshal() ([]byte, error) {
	return marshalYAML(p)
}

func marshalYAML(v any) ([]byte, error) {
	var b strings.Builder
	enc := yaml.NewEncoder(&b)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return []byte(b.String()), nil
}
