// Package extract parses character-extraction model output into structured
// updates, one per character section, ready to be appended to character
// note files.
package extract

import (
	"regexp"
	"strings"
)

// Update is one character's extracted information.
type Update struct {
	// Character is the character name from the section header.
	Character string `json:"character"`

	// Content is the update body, timestamp header stripped.
	Content string `json:"update"`
}

var (
	sectionPattern   = regexp.MustCompile(`(?m)^##\s+(.+)$`)
	timestampPattern = regexp.MustCompile(`(?m)^###\s+.*?Update\s*\n`)

	// namePattern matches capitalized words and word runs, the fallback for
	// unstructured output. Up to three words keeps titles like
	// "Captain Elara Voss" and rejects sentence fragments.
	namePattern = regexp.MustCompile(`\b([A-Z][a-z]+(?:\s+[A-Z][a-z]+)*)\b`)

	maxNameWords = 3
)

// Parse splits extraction output into per-character updates. Output that
// follows the expected "## Name" section format parses exactly; otherwise a
// heuristic scan for capitalized names attaches the whole text to each name
// found.
func Parse(text string) []Update {
	updates := parseSections(text)
	if len(updates) > 0 {
		return updates
	}
	return parseFallback(text)
}

func parseSections(text string) []Update {
	matches := sectionPattern.FindAllStringSubmatchIndex(text, -1)

	var updates []Update
	for i, match := range matches {
		name := strings.TrimSpace(text[match[2]:match[3]])

		end := len(text)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}
		content := strings.TrimSpace(text[match[1]:end])
		content = strings.TrimSpace(timestampPattern.ReplaceAllString(content, ""))

		if name != "" && content != "" {
			updates = append(updates, Update{Character: name, Content: content})
		}
	}
	return updates
}

// parseFallback handles output that ignored the section format: every
// distinct capitalized name gets the full text as its update.
func parseFallback(text string) []Update {
	names := namePattern.FindAllString(text, -1)
	if len(names) == 0 {
		return nil
	}

	var updates []Update
	seen := make(map[string]bool)
	for _, name := range names {
		if seen[name] || len(strings.Fields(name)) > maxNameWords {
			continue
		}
		seen[name] = true
		updates = append(updates, Update{Character: name, Content: text})
	}
	return updates
}
