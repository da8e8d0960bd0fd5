// Package conflict flags personality candidates that contradict the existing
// profile. Results are advisory annotations for the human reviewer.
package conflict

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/p-blackswan/persona-curator/internal/profile"
)

// Pair is two trait words that cannot both describe the persona.
type Pair struct {
	A string `yaml:"a" json:"a"`
	B string `yaml:"b" json:"b"`
}

// Conflict records which side held which term of a Pair.
type Conflict struct {
	Pair          Pair   `yaml:"pair" json:"pair"`
	ProfileTerm   string `yaml:"profile_term" json:"profile_term"`
	CandidateTerm string `yaml:"candidate_term" json:"candidate_term"`
}

// DefaultPairs is the opposite-trait table used when none is configured.
var DefaultPairs = []Pair{
	{"creative", "unoriginal"},
	{"independent", "dependent"},
	{"introverted", "extroverted"},
	{"shy", "outgoing"},
	{"calm", "anxious"},
	{"patient", "impatient"},
	{"brave", "fearful"},
	{"curious", "incurious"},
	{"organized", "disorganized"},
	{"confident", "insecure"},
	{"optimistic", "pessimistic"},
	{"cautious", "reckless"},
	{"talkative", "quiet"},
	{"gentle", "aggressive"},
	{"honest", "dishonest"},
	{"generous", "selfish"},
	{"tidy", "messy"},
	{"focused", "distracted"},
}

type compiledPair struct {
	pair Pair
	a, b *regexp.Regexp
}

// Checker matches candidate text against a profile using whole-word matching.
type Checker struct {
	pairs []compiledPair
}

// New compiles pairs. A nil slice selects DefaultPairs.
func New(pairs []Pair) *Checker {
	if pairs == nil {
		pairs = DefaultPairs
	}
	c := &Checker{pairs: make([]compiledPair, 0, len(pairs))}
	for _, p := range pairs {
		if p.A == "" || p.B == "" {
			continue
		}
		c.pairs = append(c.pairs, compiledPair{pair: p, a: wordPattern(p.A), b: wordPattern(p.B)})
	}
	return c
}

func wordPattern(term string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(term) + `\b`)
}

// Check returns one Conflict per pair whose terms are split between the
// profile's personality text and candidateText. Only the personality category
// is checked.
func (c *Checker) Check(candidateText string, category profile.Category, p *profile.Profile) []Conflict {
	if category != profile.Personality || p == nil || candidateText == "" {
		return nil
	}
	profileText := p.PersonalityText()
	if profileText == "" {
		return nil
	}

	var out []Conflict
	for _, cp := range c.pairs {
		switch {
		case cp.a.MatchString(profileText) && cp.b.MatchString(candidateText):
			out = append(out, Conflict{Pair: cp.pair, ProfileTerm: cp.pair.A, CandidateTerm: cp.pair.B})
		case cp.b.MatchString(profileText) && cp.a.MatchString(candidateText):
			out = append(out, Conflict{Pair: cp.pair, ProfileTerm: cp.pair.B, CandidateTerm: cp.pair.A})
		}
	}
	return out
}

// LoadPairs reads a YAML list of {a, b} pairs. Pairs with a blank side are
// rejected.
func LoadPairs(path string) ([]Pair, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("conflict pairs: %w", err)
	}
	var pairs []Pair
	if err := yaml.Unmarshal(data, &pairs); err != nil {
		return nil, fmt.Errorf("conflict pairs: parse %s: %w", path, err)
	}
	for i, p := range pairs {
		if strings.TrimSpace(p.A) == "" || strings.TrimSpace(p.B) == "" {
			return nil, fmt.Errorf("conflict pairs: entry %d needs both a and b", i+1)
		}
	}
	return pairs, nil
}
