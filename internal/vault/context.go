package vault

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/inkwell-dev/inkwell/internal/store"
)

// ContextPaths names the vault files and folders the aggregator pulls from,
// all relative to the vault root.
type ContextPaths struct {
	StoryBible      string
	Extractions     string
	SlidingWindow   string
	PreviousBook    string
	CharacterFolder string
}

// ChapterContext is the material assembled for chapter generation.
type ChapterContext struct {
	RelatedPassages string
	PreviousBook    string
	StoryBible      string
	Extractions     string
	SlidingWindow   string
}

// MicroEditContext is the material assembled for a targeted line edit.
type MicroEditContext struct {
	SlidingWindow   string
	StoryBible      string
	Extractions     string
	CharacterNotes  string
	RelatedPassages string
}

// Aggregator reads context files from a vault. Missing or unreadable files
// produce a bracketed placeholder instead of an error, so generation can
// proceed with partial context.
type Aggregator struct {
	root string
}

// NewAggregator creates an aggregator rooted at the vault directory.
func NewAggregator(root string) *Aggregator {
	return &Aggregator{root: root}
}

// ChapterContext gathers the standing context for chapter generation.
// RelatedPassages is left empty; the caller fills it from retrieval.
func (a *Aggregator) ChapterContext(paths ContextPaths) *ChapterContext {
	return &ChapterContext{
		PreviousBook:  a.readOrPlaceholder(paths.PreviousBook),
		StoryBible:    a.readOrPlaceholder(paths.StoryBible),
		Extractions:   a.readOrPlaceholder(paths.Extractions),
		SlidingWindow: a.readOrPlaceholder(paths.SlidingWindow),
	}
}

// MicroEditContext gathers the standing context for a micro edit, including
// every character note formatted for the prompt.
func (a *Aggregator) MicroEditContext(paths ContextPaths) *MicroEditContext {
	notes, err := a.CharacterNotes(paths.CharacterFolder)
	formatted := FormatCharacterNotes(notes)
	if err != nil {
		formatted = fmt.Sprintf("[Error reading character notes: %v]", err)
	}
	return &MicroEditContext{
		SlidingWindow:  a.readOrPlaceholder(paths.SlidingWindow),
		StoryBible:     a.readOrPlaceholder(paths.StoryBible),
		Extractions:    a.readOrPlaceholder(paths.Extractions),
		CharacterNotes: formatted,
	}
}

// CharacterNotes reads every markdown note in the character folder, keyed by
// file stem. A missing folder yields an empty map.
func (a *Aggregator) CharacterNotes(folder string) (map[string]string, error) {
	dir := filepath.Join(a.root, filepath.FromSlash(folder))
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read character folder: %w", err)
	}

	notes := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() || !isMarkdown(entry.Name()) {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		content, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			notes[name] = fmt.Sprintf("[Error reading file: %v]", err)
			continue
		}
		notes[name] = string(content)
	}
	return notes, nil
}

// FormatCharacterNotes renders character notes as named sections for prompt
// inclusion, in stable name order.
func FormatCharacterNotes(notes map[string]string) string {
	if len(notes) == 0 {
		return "[No character notes found]"
	}

	names := make([]string, 0, len(notes))
	for name := range notes {
		names = append(names, name)
	}
	sort.Strings(names)

	sections := make([]string, 0, len(names))
	for _, name := range names {
		sections = append(sections, fmt.Sprintf("## %s\n%s\n", name, notes[name]))
	}
	return strings.Join(sections, "\n---\n\n")
}

// FormatRelatedPassages renders retrieved passages for prompt inclusion,
// labeled with their source note and heading.
func FormatRelatedPassages(passages []*store.Passage) string {
	if len(passages) == 0 {
		return "[No related passages found]"
	}

	sections := make([]string, 0, len(passages))
	for _, p := range passages {
		label := p.NotePath
		if p.Heading != "" {
			label += " > " + p.Heading
		}
		sections = append(sections, fmt.Sprintf("## %s\n%s\n", label, p.Content))
	}
	return strings.Join(sections, "\n---\n\n")
}

// readOrPlaceholder reads a vault-relative file, substituting a bracketed
// placeholder on any failure.
func (a *Aggregator) readOrPlaceholder(rel string) string {
	if strings.TrimSpace(rel) == "" {
		return "[No file configured]"
	}
	content, err := os.ReadFile(filepath.Join(a.root, filepath.FromSlash(rel)))
	if err != nil {
		return fmt.Sprintf("[Error reading file: %v]", err)
	}
	return string(content)
}
