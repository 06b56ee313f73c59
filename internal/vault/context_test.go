package vault

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkwell-dev/inkwell/internal/store"
)

func testContextPaths() ContextPaths {
	return ContextPaths{
		StoryBible:      "bible/story-bible.md",
		Extractions:     "bible/extractions.md",
		SlidingWindow:   "bible/sliding-window.md",
		PreviousBook:    "bible/book-one.md",
		CharacterFolder: "characters",
	}
}

func TestAggregator_ChapterContext(t *testing.T) {
	root := t.TempDir()
	writeVaultFile(t, root, "bible/story-bible.md", "The world runs on tidal magic.")
	writeVaultFile(t, root, "bible/extractions.md", "Elara: stubborn, loyal.")
	writeVaultFile(t, root, "bible/sliding-window.md", "Last scene: the storm breaks.")
	writeVaultFile(t, root, "bible/book-one.md", "Book one ended at the siege.")

	got := NewAggregator(root).ChapterContext(testContextPaths())
	assert.Equal(t, "The world runs on tidal magic.", got.StoryBible)
	assert.Equal(t, "Elara: stubborn, loyal.", got.Extractions)
	assert.Equal(t, "Last scene: the storm breaks.", got.SlidingWindow)
	assert.Equal(t, "Book one ended at the siege.", got.PreviousBook)
	assert.Empty(t, got.RelatedPassages)
}

func TestAggregator_MissingFilesYieldPlaceholders(t *testing.T) {
	got := NewAggregator(t.TempDir()).ChapterContext(testContextPaths())
	assert.Contains(t, got.StoryBible, "[Error reading file")
	assert.Contains(t, got.SlidingWindow, "[Error reading file")

	unconfigured := NewAggregator(t.TempDir()).ChapterContext(ContextPaths{})
	assert.Equal(t, "[No file configured]", unconfigured.StoryBible)
}

func TestAggregator_MicroEditContext(t *testing.T) {
	root := t.TempDir()
	writeVaultFile(t, root, "bible/sliding-window.md", "Recent prose.")
	writeVaultFile(t, root, "characters/elara.md", "Captain of the Meridian.")
	writeVaultFile(t, root, "characters/tomas.md", "First mate.")

	got := NewAggregator(root).MicroEditContext(testContextPaths())
	assert.Equal(t, "Recent prose.", got.SlidingWindow)
	assert.Contains(t, got.CharacterNotes, "## elara")
	assert.Contains(t, got.CharacterNotes, "## tomas")
	assert.Contains(t, got.CharacterNotes, "Captain of the Meridian.")
}

func TestAggregator_CharacterNotes(t *testing.T) {
	root := t.TempDir()
	writeVaultFile(t, root, "characters/elara.md", "Captain.")
	writeVaultFile(t, root, "characters/sketch.txt", "Not markdown.")

	notes, err := NewAggregator(root).CharacterNotes("characters")
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, "Captain.", notes["elara"])

	empty, err := NewAggregator(root).CharacterNotes("missing-folder")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestFormatCharacterNotes(t *testing.T) {
	assert.Equal(t, "[No character notes found]", FormatCharacterNotes(nil))

	got := FormatCharacterNotes(map[string]string{
		"tomas": "First mate.",
		"elara": "Captain.",
	})
	// Sections are sorted by name.
	assert.Less(t, strings.Index(got, "## elara"), strings.Index(got, "## tomas"))
	assert.Contains(t, got, "\n---\n\n")
}

func TestFormatRelatedPassages(t *testing.T) {
	assert.Equal(t, "[No related passages found]", FormatRelatedPassages(nil))

	got := FormatRelatedPassages([]*store.Passage{
		{NotePath: "chapters/ch01.md", Heading: "The Harbor", Content: "The tide came in."},
		{NotePath: "world/port.md", Content: "A city of canals."},
	})
	assert.Contains(t, got, "## chapters/ch01.md > The Harbor")
	assert.Contains(t, got, "## world/port.md\n")
	assert.Contains(t, got, "The tide came in.")
}
