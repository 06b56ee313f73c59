package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/inkwell-dev/inkwell/internal/embed"
	"github.com/inkwell-dev/inkwell/internal/store"
	"github.com/inkwell-dev/inkwell/internal/vault"
)

// ErrIndexIncompatible signals the stored index was built with a different
// embedding model or dimension than the active embedder.
type ErrIndexIncompatible struct {
	StoredModel string
	StoredDims  int
	ActiveModel string
	ActiveDims  int
}

func (e ErrIndexIncompatible) Error() string {
	return fmt.Sprintf(
		"index built with %s (%d dims) but embedder is %s (%d dims); run 'inkwell index --force' to rebuild",
		e.StoredModel, e.StoredDims, e.ActiveModel, e.ActiveDims)
}

// Config wires an Indexer.
type Config struct {
	Scanner  *vault.Scanner
	Chunker  *vault.Chunker
	Embedder embed.Embedder
	Passages store.PassageStore
	Lexical  store.LexicalIndex
	Vectors  store.VectorStore

	// VectorPath, when set, is where the vector store is saved after each
	// pass.
	VectorPath string

	// Lock, when set, is held for the duration of a Reindex.
	Lock *store.IndexLock
}

// Stats summarizes one indexing pass.
type Stats struct {
	NotesScanned    int
	NotesIndexed    int
	NotesRemoved    int
	PassagesIndexed int
	Duration        time.Duration
}

// Indexer runs the scan, chunk, embed, store pipeline that keeps the search
// stores consistent with the vault.
type Indexer struct {
	cfg Config
}

// NewIndexer creates an indexer. A nil Chunker gets the default.
func NewIndexer(cfg Config) *Indexer {
	if cfg.Chunker == nil {
		cfg.Chunker = vault.NewChunker()
	}
	return &Indexer{cfg: cfg}
}

// CheckCompatibility verifies the stored index matches the active embedder.
// A fresh index (no recorded state) is always compatible.
func (ix *Indexer) CheckCompatibility(ctx context.Context) error {
	model, err := ix.cfg.Passages.GetState(ctx, store.StateKeyIndexModel)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read index state: %w", err)
	}
	dimsRaw, err := ix.cfg.Passages.GetState(ctx, store.StateKeyIndexDimension)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("failed to read index state: %w", err)
	}
	dims, _ := strconv.Atoi(dimsRaw)

	if model != ix.cfg.Embedder.ModelName() || dims != ix.cfg.Embedder.Dimensions() {
		return ErrIndexIncompatible{
			StoredModel: model,
			StoredDims:  dims,
			ActiveModel: ix.cfg.Embedder.ModelName(),
			ActiveDims:  ix.cfg.Embedder.Dimensions(),
		}
	}
	return nil
}

// Reindex scans the whole vault and brings the stores up to date. Unchanged
// notes (same content hash) are skipped unless force is set. Notes that
// disappeared from the vault are removed from every store.
func (ix *Indexer) Reindex(ctx context.Context, force bool) (*Stats, error) {
	start := time.Now()

	if ix.cfg.Lock != nil {
		acquired, err := ix.cfg.Lock.TryLock()
		if err != nil {
			return nil, err
		}
		if !acquired {
			return nil, fmt.Errorf("another indexing run holds the lock at %s", ix.cfg.Lock.Path())
		}
		defer ix.cfg.Lock.Unlock()
	}

	if !force {
		if err := ix.CheckCompatibility(ctx); err != nil {
			return nil, err
		}
	}

	scanned, err := ix.cfg.Scanner.Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("vault scan failed: %w", err)
	}

	storedNotes, err := ix.cfg.Passages.ListNotes(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("failed to list stored notes: %w", err)
	}
	storedByPath := make(map[string]*store.Note, len(storedNotes))
	for _, n := range storedNotes {
		storedByPath[n.Path] = n
	}

	stats := &Stats{NotesScanned: len(scanned)}
	var toEmbed []*store.Passage

	for _, sn := range scanned {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		stored, ok := storedByPath[sn.Note.Path]
		delete(storedByPath, sn.Note.Path)
		if ok && !force && stored.ContentHash == sn.Note.ContentHash {
			continue
		}

		count, added, err := ix.indexNote(ctx, sn, force)
		if err != nil {
			return nil, err
		}
		toEmbed = append(toEmbed, added...)
		stats.NotesIndexed++
		stats.PassagesIndexed += count
	}

	// Whatever remains in storedByPath vanished from the vault.
	for _, gone := range storedByPath {
		if err := ix.removeNote(ctx, gone); err != nil {
			return nil, err
		}
		stats.NotesRemoved++
	}

	if err := ix.embedPassages(ctx, toEmbed); err != nil {
		return nil, err
	}
	if err := ix.finishPass(ctx); err != nil {
		return nil, err
	}

	stats.Duration = time.Since(start)
	slog.Info("index pass complete",
		"scanned", stats.NotesScanned,
		"indexed", stats.NotesIndexed,
		"removed", stats.NotesRemoved,
		"passages", stats.PassagesIndexed,
		"duration", stats.Duration)
	return stats, nil
}

// ApplyEvents incrementally processes watcher batches. Rename events arrive
// as delete plus create pairs from the watcher, so only create, modify, and
// delete are handled here.
func (ix *Indexer) ApplyEvents(ctx context.Context, events []vault.NoteEvent) (*Stats, error) {
	start := time.Now()
	stats := &Stats{}
	var toEmbed []*store.Passage

	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		switch ev.Op {
		case vault.OpDelete:
			note, err := ix.cfg.Passages.GetNoteByPath(ctx, ev.Path)
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			if err := ix.removeNote(ctx, note); err != nil {
				return nil, err
			}
			stats.NotesRemoved++
		default:
			sn, err := ix.cfg.Scanner.ScanNote(ev.Path)
			if err != nil {
				slog.Warn("skipping unreadable note", "path", ev.Path, "error", err)
				continue
			}
			stats.NotesScanned++

			stored, err := ix.cfg.Passages.GetNoteByPath(ctx, ev.Path)
			if err == nil && stored.ContentHash == sn.Note.ContentHash {
				continue
			}
			if err != nil && !errors.Is(err, store.ErrNotFound) {
				return nil, err
			}

			count, added, err := ix.indexNote(ctx, sn, false)
			if err != nil {
				return nil, err
			}
			toEmbed = append(toEmbed, added...)
			stats.NotesIndexed++
			stats.PassagesIndexed += count
		}
	}

	if err := ix.embedPassages(ctx, toEmbed); err != nil {
		return nil, err
	}
	if stats.NotesIndexed > 0 || stats.NotesRemoved > 0 {
		if err := ix.finishPass(ctx); err != nil {
			return nil, err
		}
	}

	stats.Duration = time.Since(start)
	return stats, nil
}

// indexNote replaces a note's passages in the passage store and lexical
// index, returning the passage count and the passages that still need
// vectors. With force set every passage is re-embedded, even ones whose ID
// already has a vector; passage IDs derive from path and content, so after
// an embedder switch the old vectors would otherwise be kept forever.
func (ix *Indexer) indexNote(ctx context.Context, sn *vault.ScannedNote, force bool) (int, []*store.Passage, error) {
	passages := ix.cfg.Chunker.Chunk(sn.Note, sn.Content)

	newIDs := make(map[string]bool, len(passages))
	for _, p := range passages {
		newIDs[p.ID] = true
	}

	// Drop stale passages from the search stores before rewriting rows.
	old, err := ix.cfg.Passages.GetPassagesByNote(ctx, sn.Note.ID)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to load existing passages: %w", err)
	}
	var stale []string
	for _, p := range old {
		if !newIDs[p.ID] {
			stale = append(stale, p.ID)
		}
	}
	if len(stale) > 0 {
		if err := ix.cfg.Lexical.Delete(ctx, stale); err != nil {
			return 0, nil, fmt.Errorf("failed to delete stale lexical docs: %w", err)
		}
		if err := ix.cfg.Vectors.Delete(ctx, stale); err != nil {
			return 0, nil, fmt.Errorf("failed to delete stale vectors: %w", err)
		}
	}

	if err := ix.cfg.Passages.SaveNotes(ctx, []*store.Note{sn.Note}); err != nil {
		return 0, nil, fmt.Errorf("failed to save note %s: %w", sn.Note.Path, err)
	}
	if err := ix.cfg.Passages.DeletePassagesByNote(ctx, sn.Note.ID); err != nil {
		return 0, nil, fmt.Errorf("failed to clear passages for %s: %w", sn.Note.Path, err)
	}
	if len(passages) == 0 {
		return 0, nil, nil
	}
	if err := ix.cfg.Passages.SavePassages(ctx, passages); err != nil {
		return 0, nil, fmt.Errorf("failed to save passages for %s: %w", sn.Note.Path, err)
	}

	docs := make([]*store.Document, len(passages))
	for i, p := range passages {
		docs[i] = &store.Document{ID: p.ID, Content: p.Content}
	}
	if err := ix.cfg.Lexical.Index(ctx, docs); err != nil {
		return 0, nil, fmt.Errorf("failed to index passages for %s: %w", sn.Note.Path, err)
	}

	// Passages with unchanged content keep their ID and their vector.
	var need []*store.Passage
	for _, p := range passages {
		if force || !ix.cfg.Vectors.Contains(p.ID) {
			need = append(need, p)
		}
	}
	return len(passages), need, nil
}

func (ix *Indexer) removeNote(ctx context.Context, note *store.Note) error {
	old, err := ix.cfg.Passages.GetPassagesByNote(ctx, note.ID)
	if err != nil {
		return fmt.Errorf("failed to load passages for removal: %w", err)
	}
	ids := make([]string, len(old))
	for i, p := range old {
		ids[i] = p.ID
	}
	if len(ids) > 0 {
		if err := ix.cfg.Lexical.Delete(ctx, ids); err != nil {
			return fmt.Errorf("failed to delete lexical docs: %w", err)
		}
		if err := ix.cfg.Vectors.Delete(ctx, ids); err != nil {
			return fmt.Errorf("failed to delete vectors: %w", err)
		}
	}
	if err := ix.cfg.Passages.DeleteNote(ctx, note.ID); err != nil {
		return fmt.Errorf("failed to delete note %s: %w", note.Path, err)
	}
	return nil
}

func (ix *Indexer) embedPassages(ctx context.Context, passages []*store.Passage) error {
	if len(passages) == 0 {
		return nil
	}

	texts := make([]string, len(passages))
	for i, p := range passages {
		texts[i] = p.Content
	}
	vectors, err := ix.cfg.Embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("passage embedding failed: %w", err)
	}

	ids := make([]string, len(passages))
	for i, p := range passages {
		ids[i] = p.ID
	}
	if err := ix.cfg.Vectors.Add(ctx, ids, vectors); err != nil {
		return fmt.Errorf("failed to store vectors: %w", err)
	}
	return nil
}

// finishPass persists the vector store and records index state.
func (ix *Indexer) finishPass(ctx context.Context) error {
	if ix.cfg.VectorPath != "" {
		if err := ix.cfg.Vectors.Save(ix.cfg.VectorPath); err != nil {
			return fmt.Errorf("failed to save vector store: %w", err)
		}
	}
	if err := ix.cfg.Passages.SetState(ctx, store.StateKeyIndexModel, ix.cfg.Embedder.ModelName()); err != nil {
		return err
	}
	if err := ix.cfg.Passages.SetState(ctx, store.StateKeyIndexDimension, strconv.Itoa(ix.cfg.Embedder.Dimensions())); err != nil {
		return err
	}
	return ix.cfg.Passages.SetState(ctx, store.StateKeyLastIndexed, time.Now().UTC().Format(time.RFC3339))
}
