package vault

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkwell-dev/inkwell/internal/store"
)

func writeVaultFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func scanVault(t *testing.T, root string) map[string]*ScannedNote {
	t.Helper()
	notes, err := NewScanner(ScanOptions{Root: root}).Scan(context.Background())
	require.NoError(t, err)

	byPath := make(map[string]*ScannedNote, len(notes))
	for _, n := range notes {
		byPath[n.Note.Path] = n
	}
	return byPath
}

func TestScanner_DiscoversAndClassifiesNotes(t *testing.T) {
	root := t.TempDir()
	writeVaultFile(t, root, "chapters/ch01.md", "# The Harbor\n\nThe tide came in at dawn.\n")
	writeVaultFile(t, root, "characters/elara.md", "Captain of the Meridian.\n")
	writeVaultFile(t, root, "world/port-city.md", "A city of canals.\n")
	writeVaultFile(t, root, "outline/act-one.md", "Setup beats.\n")
	writeVaultFile(t, root, "ideas.md", "Loose thoughts.\n")

	notes := scanVault(t, root)
	require.Len(t, notes, 5)

	assert.Equal(t, store.NoteTypeChapter, notes["chapters/ch01.md"].Note.Type)
	assert.Equal(t, store.NoteTypeCharacter, notes["characters/elara.md"].Note.Type)
	assert.Equal(t, store.NoteTypeWorld, notes["world/port-city.md"].Note.Type)
	assert.Equal(t, store.NoteTypeOutline, notes["outline/act-one.md"].Note.Type)
	assert.Equal(t, store.NoteTypeGeneral, notes["ideas.md"].Note.Type)
}

func TestScanner_SkipsIgnoredAndNonMarkdown(t *testing.T) {
	root := t.TempDir()
	writeVaultFile(t, root, "chapters/ch01.md", "Content.\n")
	writeVaultFile(t, root, ".obsidian/workspace.md", "Plugin state.\n")
	writeVaultFile(t, root, ".trash/old.md", "Deleted note.\n")
	writeVaultFile(t, root, "chapters/notes.txt", "Not markdown.\n")

	notes := scanVault(t, root)
	require.Len(t, notes, 1)
	assert.Contains(t, notes, "chapters/ch01.md")
}

func TestScanner_FrontmatterOverridesAndStrips(t *testing.T) {
	root := t.TempDir()
	writeVaultFile(t, root, "misc/elara.md",
		"---\ntitle: Captain Elara\ntype: character\n---\nShe commands the Meridian.\n")

	notes := scanVault(t, root)
	note := notes["misc/elara.md"]
	require.NotNil(t, note)

	assert.Equal(t, store.NoteTypeCharacter, note.Note.Type)
	assert.Equal(t, "Captain Elara", note.Note.Title)
	assert.Equal(t, "She commands the Meridian.\n", note.Content)
}

func TestScanner_MalformedFrontmatterKeptAsContent(t *testing.T) {
	root := t.TempDir()
	content := "---\n: not yaml [\n---\nBody text.\n"
	writeVaultFile(t, root, "note.md", content)

	notes := scanVault(t, root)
	note := notes["note.md"]
	require.NotNil(t, note)

	assert.Equal(t, store.NoteTypeGeneral, note.Note.Type)
	assert.Equal(t, content, note.Content)
}

func TestScanner_TitleFallsBackToHeadingThenStem(t *testing.T) {
	root := t.TempDir()
	writeVaultFile(t, root, "chapters/ch01.md", "# The Harbor\n\nText.\n")
	writeVaultFile(t, root, "chapters/ch02.md", "No heading here.\n")

	notes := scanVault(t, root)
	assert.Equal(t, "The Harbor", notes["chapters/ch01.md"].Note.Title)
	assert.Equal(t, "ch02", notes["chapters/ch02.md"].Note.Title)
}

func TestScanner_StableIDsAndHashes(t *testing.T) {
	root := t.TempDir()
	writeVaultFile(t, root, "chapters/ch01.md", "Draft one.\n")

	first := scanVault(t, root)["chapters/ch01.md"]
	assert.Equal(t, NoteID("chapters/ch01.md"), first.Note.ID)

	writeVaultFile(t, root, "chapters/ch01.md", "Draft two.\n")
	second := scanVault(t, root)["chapters/ch01.md"]

	assert.Equal(t, first.Note.ID, second.Note.ID)
	assert.NotEqual(t, first.Note.ContentHash, second.Note.ContentHash)
}

func TestScanner_ScanNote(t *testing.T) {
	root := t.TempDir()
	writeVaultFile(t, root, "chapters/ch01.md", "# The Harbor\n\nText.\n")

	s := NewScanner(ScanOptions{Root: root})
	note, err := s.ScanNote("chapters/ch01.md")
	require.NoError(t, err)
	assert.Equal(t, "chapters/ch01.md", note.Note.Path)
	assert.Equal(t, store.NoteTypeChapter, note.Note.Type)

	_, err = s.ScanNote("chapters/missing.md")
	assert.Error(t, err)
}

func TestScanner_MissingRoot(t *testing.T) {
	_, err := NewScanner(ScanOptions{Root: filepath.Join(t.TempDir(), "absent")}).
		Scan(context.Background())
	assert.Error(t, err)
}
