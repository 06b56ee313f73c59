package vault

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/inkwell-dev/inkwell/internal/store"
)

var (
	frontmatterPattern  = regexp.MustCompile(`(?s)^---\r?\n(.*?)\r?\n---\r?\n?`)
	firstHeadingPattern = regexp.MustCompile(`(?m)^#{1,6}\s+(.+)$`)
)

// frontmatter holds the YAML fields the scanner cares about. Unknown fields
// are ignored.
type frontmatter struct {
	Title string `yaml:"title"`
	Type  string `yaml:"type"`
}

// Scanner discovers markdown notes in a vault.
type Scanner struct {
	opts ScanOptions
}

// NewScanner creates a scanner for the given options.
func NewScanner(opts ScanOptions) *Scanner {
	return &Scanner{opts: opts.WithDefaults()}
}

// Scan walks the vault and returns every markdown note with its metadata and
// frontmatter-stripped body. Notes larger than MaxNoteSize are skipped.
func (s *Scanner) Scan(ctx context.Context) ([]*ScannedNote, error) {
	root, err := filepath.Abs(s.opts.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve vault root: %w", err)
	}
	if info, err := os.Stat(root); err != nil {
		return nil, fmt.Errorf("failed to open vault: %w", err)
	} else if !info.IsDir() {
		return nil, fmt.Errorf("vault root %s is not a directory", root)
	}

	var notes []*ScannedNote
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && s.ignored(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if !isMarkdown(path) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.Size() > s.opts.MaxNoteSize {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		raw, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read note %s: %w", rel, err)
		}

		note, body := buildNote(rel, string(raw), info)
		notes = append(notes, &ScannedNote{Note: note, Content: body})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return notes, nil
}

// ScanNote reads and classifies a single note given its path relative to the
// vault root. Used by the incremental indexer on watch events.
func (s *Scanner) ScanNote(relPath string) (*ScannedNote, error) {
	root, err := filepath.Abs(s.opts.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve vault root: %w", err)
	}
	rel := filepath.ToSlash(relPath)
	abs := filepath.Join(root, filepath.FromSlash(rel))

	info, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	if info.Size() > s.opts.MaxNoteSize {
		return nil, fmt.Errorf("note %s exceeds size limit", rel)
	}
	raw, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to read note %s: %w", rel, err)
	}

	note, body := buildNote(rel, string(raw), info)
	return &ScannedNote{Note: note, Content: body}, nil
}

func (s *Scanner) ignored(name string) bool {
	if strings.HasPrefix(name, ".") {
		return true
	}
	return slices.Contains(s.opts.IgnoreDirs, name)
}

func isMarkdown(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown":
		return true
	default:
		return false
	}
}

// buildNote assembles note metadata from the relative path, raw content, and
// file info, returning the note and the frontmatter-stripped body.
func buildNote(rel, raw string, info fs.FileInfo) (*store.Note, string) {
	fm, body := parseFrontmatter(raw)

	return &store.Note{
		ID:          NoteID(rel),
		Path:        rel,
		Title:       noteTitle(rel, fm, body),
		Type:        classifyNote(rel, fm),
		Size:        info.Size(),
		ModTime:     info.ModTime(),
		ContentHash: hashContent(raw),
		IndexedAt:   time.Now(),
	}, body
}

// parseFrontmatter strips a leading YAML frontmatter block and decodes the
// fields the scanner uses. Malformed YAML is treated as no frontmatter so a
// broken note still gets indexed.
func parseFrontmatter(content string) (frontmatter, string) {
	var fm frontmatter
	match := frontmatterPattern.FindStringSubmatch(content)
	if match == nil {
		return fm, content
	}
	if err := yaml.Unmarshal([]byte(match[1]), &fm); err != nil {
		return frontmatter{}, content
	}
	return fm, content[len(match[0]):]
}

// classifyNote determines the note type. An explicit frontmatter `type` wins;
// otherwise the top-level directory decides.
func classifyNote(rel string, fm frontmatter) store.NoteType {
	switch strings.ToLower(strings.TrimSpace(fm.Type)) {
	case "chapter":
		return store.NoteTypeChapter
	case "character":
		return store.NoteTypeCharacter
	case "world", "worldbuilding", "lore", "setting":
		return store.NoteTypeWorld
	case "outline", "plot":
		return store.NoteTypeOutline
	}

	dir := rel
	if i := strings.IndexByte(rel, '/'); i >= 0 {
		dir = rel[:i]
	} else {
		dir = ""
	}
	switch strings.ToLower(dir) {
	case "chapters", "chapter", "manuscript", "scenes":
		return store.NoteTypeChapter
	case "characters", "character", "cast":
		return store.NoteTypeCharacter
	case "world", "worldbuilding", "lore", "settings", "locations":
		return store.NoteTypeWorld
	case "outline", "outlines", "plot", "planning":
		return store.NoteTypeOutline
	default:
		return store.NoteTypeGeneral
	}
}

// noteTitle picks a display title: frontmatter title, then the first markdown
// heading, then the file stem.
func noteTitle(rel string, fm frontmatter, body string) string {
	if t := strings.TrimSpace(fm.Title); t != "" {
		return t
	}
	if match := firstHeadingPattern.FindStringSubmatch(body); match != nil {
		return strings.TrimSpace(match[1])
	}
	base := filepath.Base(rel)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// NoteID derives a stable note ID from the vault-relative path.
func NoteID(rel string) string {
	sum := sha256.Sum256([]byte(filepath.ToSlash(rel)))
	return hex.EncodeToString(sum[:])
}

func hashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
