package conflict

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/persona-curator/internal/profile"
)

func profileWithTraits(traits ...string) *profile.Profile {
	return &profile.Profile{Personality: profile.Traits{Traits: traits}}
}

func TestCheck_OppositePairFiresOnce(t *testing.T) {
	c := New(nil)
	got := c.Check("Seems a bit unoriginal when drawing", profile.Personality, profileWithTraits("creative"))

	require.Len(t, got, 1)
	assert.Equal(t, Pair{"creative", "unoriginal"}, got[0].Pair)
	assert.Equal(t, "creative", got[0].ProfileTerm)
	assert.Equal(t, "unoriginal", got[0].CandidateTerm)
}

func TestCheck_WordBoundary(t *testing.T) {
	c := New(nil)
	assert.Empty(t, c.Check("is very dependent on routines", profile.Personality, profileWithTraits("independent")))
	assert.Empty(t, c.Check("grew impatient", profile.Personality, profileWithTraits("impatient")))
}

func TestCheck_ReverseDirection(t *testing.T) {
	c := New(nil)
	got := c.Check("has become quite Independent", profile.Personality, profileWithTraits("dependent"))

	require.Len(t, got, 1)
	assert.Equal(t, "dependent", got[0].ProfileTerm)
	assert.Equal(t, "independent", got[0].CandidateTerm)
}

func TestCheck_PriorPersonalityEntries(t *testing.T) {
	p := &profile.Profile{Growth: profile.Growth{Personality: []profile.GrowthEntry{
		{ID: "P-0001", Category: profile.Personality, Text: "Calm in new places", EvidenceID: "EV-0001"},
	}}}
	got := New(nil).Check("anxious at the dentist", profile.Personality, p)
	require.Len(t, got, 1)
	assert.Equal(t, "calm", got[0].ProfileTerm)
}

func TestCheck_OtherCategoriesSkipped(t *testing.T) {
	c := New(nil)
	assert.Empty(t, c.Check("unoriginal", profile.Knowledge, profileWithTraits("creative")))
	assert.Empty(t, c.Check("unoriginal", profile.Curiosity, profileWithTraits("creative")))
}

func TestCheck_CustomPairs(t *testing.T) {
	c := New([]Pair{{"early bird", "night owl"}, {"", "x"}})
	got := c.Check("turning into a night owl", profile.Personality, profileWithTraits("early bird"))
	require.Len(t, got, 1)
	assert.Equal(t, "night owl", got[0].CandidateTerm)
}

func TestLoadPairs(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pairs.yaml")
	require.NoError(t, os.WriteFile(path, []byte("- a: shy\n  b: outgoing\n"), 0o644))

	pairs, err := LoadPairs(path)
	require.NoError(t, err)
	assert.Equal(t, []Pair{{A: "shy", B: "outgoing"}}, pairs)

	got := New(pairs).Check("is very outgoing lately", profile.Personality, profileWithTraits("shy"))
	require.Len(t, got, 1)
	assert.Equal(t, "shy", got[0].ProfileTerm)

	require.NoError(t, os.WriteFile(path, []byte("- a: shy\n"), 0o644))
	_, err = LoadPairs(path)
	assert.Error(t, err)

	_, err = LoadPairs(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
