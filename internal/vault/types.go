// Package vault reads, chunks, and watches an Obsidian vault. The scanner
// discovers markdown notes and classifies them by role, the chunker splits
// note content into retrievable passages, and the watcher reports file
// changes as debounced batches.
package vault

import (
	"time"

	"github.com/inkwell-dev/inkwell/internal/store"
)

// DefaultMaxNoteSize is the largest note the scanner will read (10MB).
const DefaultMaxNoteSize = 10 * 1024 * 1024

// DefaultIgnoreDirs are directory names skipped during scanning and watching.
// Obsidian keeps plugin state under .obsidian and deleted notes under .trash.
var DefaultIgnoreDirs = []string{".obsidian", ".trash", ".git", ".inkwell", "node_modules"}

// ScannedNote pairs note metadata with the note body. Content has the YAML
// frontmatter already stripped.
type ScannedNote struct {
	Note    *store.Note
	Content string
}

// ScanOptions configures the vault scanner.
type ScanOptions struct {
	// Root is the vault root directory.
	Root string

	// MaxNoteSize is the maximum note size in bytes (0 = DefaultMaxNoteSize).
	MaxNoteSize int64

	// IgnoreDirs lists directory names to skip (nil = DefaultIgnoreDirs).
	IgnoreDirs []string
}

// WithDefaults fills zero-valued options.
func (o ScanOptions) WithDefaults() ScanOptions {
	if o.MaxNoteSize == 0 {
		o.MaxNoteSize = DefaultMaxNoteSize
	}
	if o.IgnoreDirs == nil {
		o.IgnoreDirs = DefaultIgnoreDirs
	}
	return o
}

// Operation is the kind of change observed on a note.
type Operation int

const (
	OpCreate Operation = iota
	OpModify
	OpDelete
	OpRename
)

func (op Operation) String() string {
	switch op {
	case OpCreate:
		return "create"
	case OpModify:
		return "modify"
	case OpDelete:
		return "delete"
	case OpRename:
		return "rename"
	default:
		return "unknown"
	}
}

// NoteEvent is a single observed change to a markdown note.
type NoteEvent struct {
	// Path is relative to the vault root.
	Path string

	// Op is the coalesced operation.
	Op Operation

	// Timestamp is when the change was first observed.
	Timestamp time.Time
}

// WatchOptions configures the vault watcher.
type WatchOptions struct {
	// DebounceWindow coalesces rapid changes to the same note. Editors like
	// Obsidian save continuously while typing. Default 200ms.
	DebounceWindow time.Duration

	// EventBufferSize is the capacity of the outgoing batch channel.
	// Default 64.
	EventBufferSize int

	// IgnoreDirs lists directory names to skip (nil = DefaultIgnoreDirs).
	IgnoreDirs []string
}

// WithDefaults fills zero-valued options.
func (o WatchOptions) WithDefaults() WatchOptions {
	if o.DebounceWindow == 0 {
		o.DebounceWindow = 200 * time.Millisecond
	}
	if o.EventBufferSize == 0 {
		o.EventBufferSize = 64
	}
	if o.IgnoreDirs == nil {
		o.IgnoreDirs = DefaultIgnoreDirs
	}
	return o
}
