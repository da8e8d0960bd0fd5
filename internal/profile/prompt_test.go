package profile

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInsertUnderSection_ExistingSection(t *testing.T) {
	doc := "# Persona\n\n## Interests\n\n- dinosaurs\n\n## Style\n\nShort answers.\n"

	out, changed := InsertUnderSection(doc, "Interests", "- volcanoes")
	assert.True(t, changed)
	assert.Equal(t, "# Persona\n\n## Interests\n\n- dinosaurs\n- volcanoes\n\n## Style\n\nShort answers.\n", out)
}

func TestInsertUnderSection_LastSection(t *testing.T) {
	doc := "## Style\n\nShort answers.\n"

	out, changed := InsertUnderSection(doc, "style", "Use examples.")
	assert.True(t, changed)
	assert.Equal(t, "## Style\n\nShort answers.\nUse examples.\n", out)
}

func TestInsertUnderSection_CreatesSection(t *testing.T) {
	out, changed := InsertUnderSection("## Style\n\nShort answers.\n", "Interests", "- space")
	assert.True(t, changed)
	assert.Equal(t, "## Style\n\nShort answers.\n\n## Interests\n\n- space\n", out)

	out, changed = InsertUnderSection("", "Interests", "- space")
	assert.True(t, changed)
	assert.Equal(t, "## Interests\n\n- space\n", out)
}

func TestInsertUnderSection_Deduplicates(t *testing.T) {
	doc := "## Interests\n\n- space\n"
	out, changed := InsertUnderSection(doc, "Interests", "  - space ")
	assert.False(t, changed)
	assert.Equal(t, doc, out)
}

func TestSections(t *testing.T) {
	assert.Equal(t, []string{"A", "B"}, Sections("## A\ntext\n## B\n"))
}
