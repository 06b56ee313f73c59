package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_StructuredSections(t *testing.T) {
	text := `## Elara

### 2026-08-25 - Update

**Voice Evidence:**
"Hold the line," she said without raising her voice.

**New Traits:**
- calm under pressure: the storm scene

## Tomas

### 2026-08-25 - Update

**Relationships:**
- **Elara**: growing trust after the rescue
`

	updates := Parse(text)
	require.Len(t, updates, 2)

	assert.Equal(t, "Elara", updates[0].Character)
	assert.Contains(t, updates[0].Content, "Hold the line")
	assert.NotContains(t, updates[0].Content, "### 2026-08-25")

	assert.Equal(t, "Tomas", updates[1].Character)
	assert.Contains(t, updates[1].Content, "growing trust")
}

func TestParse_SkipsEmptySections(t *testing.T) {
	text := "## Elara\n\nShe took the wheel.\n\n## Ghost\n\n## Tomas\n\nHe watched.\n"

	updates := Parse(text)
	require.Len(t, updates, 2)
	assert.Equal(t, "Elara", updates[0].Character)
	assert.Equal(t, "Tomas", updates[1].Character)
}

func TestParse_FallbackOnUnstructuredOutput(t *testing.T) {
	text := "In this passage Elara confronts Tomas near the docks at dawn."

	updates := Parse(text)
	require.NotEmpty(t, updates)

	names := make(map[string]bool)
	for _, u := range updates {
		names[u.Character] = true
		assert.Equal(t, text, u.Content)
	}
	assert.True(t, names["Elara"])
	assert.True(t, names["Tomas"])
}

func TestParse_FallbackDeduplicatesAndCapsNameLength(t *testing.T) {
	text := "Elara spoke. Elara listened. Captain Elara Voss waited. " +
		"Then A Very Long Sentence Fragment That Is Not A Name appeared."

	updates := Parse(text)
	seen := make(map[string]int)
	for _, u := range updates {
		seen[u.Character]++
		assert.LessOrEqual(t, len(u.Character), 60)
	}
	assert.Equal(t, 1, seen["Elara"])
	assert.Zero(t, seen["A Very Long Sentence Fragment That Is Not A Name"])
}

func TestParse_EmptyInput(t *testing.T) {
	assert.Empty(t, Parse(""))
	assert.Empty(t, Parse("no capitalized words here at all."))
}
