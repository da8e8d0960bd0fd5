package analyst

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/persona-curator/internal/profile"
)

func analyze(t *testing.T, text string) (profile.Category, string, string, bool) {
	t.Helper()
	d, err := Heuristic{}.Analyze(context.Background(), Exchange{Channel: "tg:1", UserText: text})
	require.NoError(t, err)
	if d == nil {
		return "", "", "", false
	}
	assert.Equal(t, "tg:1", d.Channel)
	return d.Category, d.Summary, d.SuggestedEntry, true
}

func TestHeuristic_Knowledge(t *testing.T) {
	cat, summary, entry, ok := analyze(t, "Guess what, I learned that Jupiter has 63+ moons!")
	require.True(t, ok)
	assert.Equal(t, profile.Knowledge, cat)
	assert.Equal(t, "learned that Jupiter has 63+ moons", summary)
	assert.Equal(t, "Jupiter has 63+ moons", entry)
}

func TestHeuristic_Personality(t *testing.T) {
	cat, summary, entry, ok := analyze(t, "I'm really creative when I draw")
	require.True(t, ok)
	assert.Equal(t, profile.Personality, cat)
	assert.Equal(t, "described self as creative", summary)
	assert.Equal(t, "is creative", entry)
}

func TestHeuristic_Curiosity(t *testing.T) {
	cat, _, entry, ok := analyze(t, "why is the sky blue?")
	require.True(t, ok)
	assert.Equal(t, profile.Curiosity, cat)
	assert.Equal(t, "why is the sky blue?", entry)

	cat, _, entry, ok = analyze(t, "I wonder how volcanoes form.")
	require.True(t, ok)
	assert.Equal(t, profile.Curiosity, cat)
	assert.Equal(t, "how volcanoes form", entry)
}

func TestHeuristic_Nothing(t *testing.T) {
	_, _, _, ok := analyze(t, "ok")
	assert.False(t, ok)
	_, _, _, ok = analyze(t, "   ")
	assert.False(t, ok)
}
