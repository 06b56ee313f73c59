package vault

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"time"

	"github.com/inkwell-dev/inkwell/internal/store"
)

// Chunking limits in estimated tokens (roughly 4 characters per token).
const (
	DefaultMaxPassageTokens = 512
	MinPassageChars         = 20
)

var headingPattern = regexp.MustCompile(`(?m)^(#{1,6})\s+(.+)$`)

// ChunkerOptions configures passage splitting.
type ChunkerOptions struct {
	// MaxPassageTokens caps the estimated token count per passage.
	// Sections above the cap are split on paragraph boundaries.
	MaxPassageTokens int
}

// Chunker splits note bodies into passages along markdown headings. A note
// without headings is split by paragraphs alone.
type Chunker struct {
	opts ChunkerOptions
}

// NewChunker creates a chunker with default options.
func NewChunker() *Chunker {
	return NewChunkerWithOptions(ChunkerOptions{})
}

// NewChunkerWithOptions creates a chunker with custom options.
func NewChunkerWithOptions(opts ChunkerOptions) *Chunker {
	if opts.MaxPassageTokens == 0 {
		opts.MaxPassageTokens = DefaultMaxPassageTokens
	}
	return &Chunker{opts: opts}
}

// Chunk splits a note body into ordered passages. Content is expected to have
// frontmatter already stripped, as the scanner produces it.
func (c *Chunker) Chunk(note *store.Note, content string) []*store.Passage {
	if strings.TrimSpace(content) == "" {
		return nil
	}

	now := time.Now()
	sections := parseSections(content)

	var passages []*store.Passage
	for _, sec := range sections {
		for _, text := range c.splitSection(sec.body) {
			if len(strings.TrimSpace(text)) < MinPassageChars {
				continue
			}
			passages = append(passages, &store.Passage{
				ID:        passageID(note.Path, text),
				NoteID:    note.ID,
				NotePath:  note.Path,
				Heading:   sec.headingPath,
				Content:   text,
				Type:      note.Type,
				Position:  len(passages),
				CreatedAt: now,
				UpdatedAt: now,
			})
		}
	}
	return passages
}

// section is a run of content under one heading. headingPath carries the full
// hierarchy, e.g. "Act One > The Harbor".
type section struct {
	headingPath string
	body        string
}

// parseSections walks the content line by line, tracking the heading stack.
// Content before the first heading becomes a section with an empty path.
func parseSections(content string) []*section {
	lines := strings.Split(content, "\n")
	stack := make([]string, 6)

	var sections []*section
	current := &section{}
	var body strings.Builder

	flush := func() {
		current.body = body.String()
		if strings.TrimSpace(current.body) != "" {
			sections = append(sections, current)
		}
		body.Reset()
	}

	for _, line := range lines {
		if match := headingPattern.FindStringSubmatch(line); match != nil {
			flush()

			level := len(match[1])
			title := strings.TrimSpace(match[2])
			stack[level-1] = title
			for i := level; i < 6; i++ {
				stack[i] = ""
			}

			var parts []string
			for i := 0; i < level; i++ {
				if stack[i] != "" {
					parts = append(parts, stack[i])
				}
			}
			current = &section{headingPath: strings.Join(parts, " > ")}
			continue
		}
		body.WriteString(line)
		body.WriteString("\n")
	}
	flush()

	return sections
}

// splitSection returns the section body as one or more passage texts, keeping
// each under MaxPassageTokens by grouping paragraphs.
func (c *Chunker) splitSection(body string) []string {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil
	}
	if estimateTokens(body) <= c.opts.MaxPassageTokens {
		return []string{body}
	}

	paragraphs := splitParagraphs(body)

	var texts []string
	var current strings.Builder
	for _, para := range paragraphs {
		if current.Len() > 0 &&
			estimateTokens(current.String())+estimateTokens(para) > c.opts.MaxPassageTokens {
			texts = append(texts, strings.TrimSpace(current.String()))
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
	}
	if current.Len() > 0 {
		texts = append(texts, strings.TrimSpace(current.String()))
	}
	return texts
}

// splitParagraphs splits on blank lines, rejoining fenced code blocks that
// contain blank lines so a fence never straddles two passages.
func splitParagraphs(body string) []string {
	parts := strings.Split(body, "\n\n")

	var paragraphs []string
	var fence strings.Builder
	inFence := false

	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		if inFence {
			fence.WriteString("\n\n")
			fence.WriteString(trimmed)
			if strings.Contains(trimmed, "```") {
				paragraphs = append(paragraphs, fence.String())
				fence.Reset()
				inFence = false
			}
			continue
		}
		if strings.Count(trimmed, "```")%2 == 1 {
			inFence = true
			fence.WriteString(trimmed)
			continue
		}
		paragraphs = append(paragraphs, trimmed)
	}
	if inFence {
		paragraphs = append(paragraphs, fence.String())
	}
	return paragraphs
}

// estimateTokens approximates token count as characters divided by four,
// which tracks English prose closely enough for sizing passages.
func estimateTokens(text string) int {
	return (len(text) + 3) / 4
}

// passageID derives a stable passage ID from the note path and passage text,
// so unchanged passages keep their ID across reindexes.
func passageID(notePath, content string) string {
	h := sha256.New()
	h.Write([]byte(notePath))
	h.Write([]byte{0})
	h.Write([]byte(content))
	return hex.EncodeToString(h.Sum(nil))
}
