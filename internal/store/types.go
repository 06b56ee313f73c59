// Package store is the persistence layer for indexed vault content: a Bleve
// lexical index, an HNSW vector store, and SQLite-backed passage metadata.
package store

import (
	"context"
	"fmt"
	"time"
)

// NoteType classifies a vault note by its role in the project.
type NoteType string

const (
	NoteTypeChapter   NoteType = "chapter"
	NoteTypeCharacter NoteType = "character"
	NoteTypeWorld     NoteType = "world"
	NoteTypeOutline   NoteType = "outline"
	NoteTypeGeneral   NoteType = "general"
)

// State keys persisted in the passage store.
const (
	// StateKeyIndexDimension stores the embedding dimension the index was
	// built with, for compatibility checks at open time.
	StateKeyIndexDimension = "index_embedding_dimension"

	// StateKeyIndexModel stores the embedding model name the index was
	// built with.
	StateKeyIndexModel = "index_embedding_model"

	// StateKeyLastIndexed stores the RFC3339 timestamp of the last
	// completed index pass.
	StateKeyLastIndexed = "last_indexed_at"
)

// Note is a tracked markdown file in the vault.
type Note struct {
	ID          string    // SHA256(relative path)
	Path        string    // Relative to the vault root
	Title       string    // First heading or file stem
	Type        NoteType  // chapter, character, world, outline, general
	Size        int64     // File size in bytes
	ModTime     time.Time // Last modification time
	ContentHash string    // SHA256 of content
	IndexedAt   time.Time
}

// Passage is the retrievable unit: one chunk of a note.
type Passage struct {
	ID        string   // SHA256(note path + content hash)
	NoteID    string   // Parent note ID
	NotePath  string   // Relative to the vault root
	Heading   string   // Nearest enclosing markdown heading
	Content   string   // Passage text
	Type      NoteType // Inherited from the parent note
	Position  int      // 0-based order within the note
	CreatedAt time.Time
	UpdatedAt time.Time
}

// PassageStore persists note and passage metadata in SQLite.
type PassageStore interface {
	// Note operations
	SaveNotes(ctx context.Context, notes []*Note) error
	GetNoteByPath(ctx context.Context, path string) (*Note, error)
	ListNotes(ctx context.Context, noteType NoteType) ([]*Note, error)
	DeleteNote(ctx context.Context, noteID string) error

	// Passage operations
	SavePassages(ctx context.Context, passages []*Passage) error
	GetPassage(ctx context.Context, id string) (*Passage, error)
	GetPassages(ctx context.Context, ids []string) ([]*Passage, error)
	GetPassagesByNote(ctx context.Context, noteID string) ([]*Passage, error)
	DeletePassagesByNote(ctx context.Context, noteID string) error

	// State operations (key-value store for index metadata)
	GetState(ctx context.Context, key string) (string, error)
	SetState(ctx context.Context, key, value string) error

	// Stats
	Counts(ctx context.Context) (notes, passages int, err error)

	Close() error
}

// Document is the unit handed to the lexical index.
type Document struct {
	ID      string // Passage ID
	Content string // Text to index
}

// LexicalResult is one lexical search hit.
type LexicalResult struct {
	DocID        string
	Score        float64
	MatchedTerms []string
}

// LexicalIndex provides keyword search with BM25 scoring.
type LexicalIndex interface {
	// Index adds documents; an existing ID is replaced.
	Index(ctx context.Context, docs []*Document) error

	// Search returns documents matching the query, best first.
	Search(ctx context.Context, query string, limit int) ([]*LexicalResult, error)

	// Delete removes documents by ID.
	Delete(ctx context.Context, docIDs []string) error

	// DocCount returns the number of indexed documents.
	DocCount() (int, error)

	Close() error
}

// VectorResult is one semantic search hit.
type VectorResult struct {
	ID       string  // Passage ID
	Distance float32 // Lower is more similar
	Score    float32 // Normalized similarity in [0,1]
}

// VectorStoreConfig configures the HNSW vector store.
type VectorStoreConfig struct {
	// Dimensions is the vector dimension.
	Dimensions int

	// Metric is "cos" (cosine) or "l2" (euclidean). Default "cos".
	Metric string

	// M is the HNSW max connections per layer.
	M int

	// EfSearch is the HNSW query-time search width.
	EfSearch int
}

// DefaultVectorStoreConfig returns defaults for the given dimension.
func DefaultVectorStoreConfig(dimensions int) VectorStoreConfig {
	return VectorStoreConfig{
		Dimensions: dimensions,
		Metric:     "cos",
		M:          16,
		EfSearch:   64,
	}
}

// VectorStore provides approximate nearest-neighbor search.
type VectorStore interface {
	// Add inserts vectors; an existing ID is replaced.
	Add(ctx context.Context, ids []string, vectors [][]float32) error

	// Search finds the k nearest neighbors of the query vector.
	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)

	// Vector returns the stored vector for an ID, if present. Used by the
	// diversity selector for pairwise similarity.
	Vector(id string) ([]float32, bool)

	// Delete removes vectors by ID.
	Delete(ctx context.Context, ids []string) error

	// Contains checks if an ID exists.
	Contains(id string) bool

	// Count returns the number of stored vectors.
	Count() int

	// Persistence
	Save(path string) error
	Load(path string) error
	Close() error
}

// ErrDimensionMismatch indicates a vector with the wrong dimension.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d (run 'inkwell index --force')", e.Expected, e.Got)
}
