package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // pure Go SQLite driver, no CGO
)

// ErrNotFound is returned when a note or passage does not exist.
var ErrNotFound = errors.New("not found")

// SQLitePassageStore persists note and passage metadata in SQLite with WAL
// mode for concurrent readers.
type SQLitePassageStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	closed bool
}

var _ PassageStore = (*SQLitePassageStore)(nil)

// NewSQLitePassageStore opens or creates the store at path. An empty path
// creates an in-memory store for testing.
func NewSQLitePassageStore(path string) (*SQLitePassageStore, error) {
	dsn := ":memory:"
	if path != "" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer avoids lock contention in SQLite.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// modernc.org/sqlite ignores DSN pragma parameters; set them explicitly.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	s := &SQLitePassageStore{db: db, path: path}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLitePassageStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);

	CREATE TABLE IF NOT EXISTS notes (
		id           TEXT PRIMARY KEY,
		path         TEXT NOT NULL UNIQUE,
		title        TEXT NOT NULL DEFAULT '',
		type         TEXT NOT NULL DEFAULT 'general',
		size         INTEGER NOT NULL DEFAULT 0,
		mod_time     INTEGER NOT NULL DEFAULT 0,
		content_hash TEXT NOT NULL DEFAULT '',
		indexed_at   INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS passages (
		id         TEXT PRIMARY KEY,
		note_id    TEXT NOT NULL REFERENCES notes(id) ON DELETE CASCADE,
		note_path  TEXT NOT NULL,
		heading    TEXT NOT NULL DEFAULT '',
		content    TEXT NOT NULL,
		type       TEXT NOT NULL DEFAULT 'general',
		position   INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL DEFAULT 0,
		updated_at INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_passages_note ON passages(note_id);
	CREATE INDEX IF NOT EXISTS idx_notes_type ON notes(type);

	CREATE TABLE IF NOT EXISTS state (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	INSERT OR IGNORE INTO schema_version (version) VALUES (1);
	`
	_, err := s.db.Exec(schema)
	return err
}

// SaveNotes upserts notes.
func (s *SQLitePassageStore) SaveNotes(ctx context.Context, notes []*Note) error {
	if len(notes) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO notes (id, path, title, type, size, mod_time, content_hash, indexed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			path = excluded.path,
			title = excluded.title,
			type = excluded.type,
			size = excluded.size,
			mod_time = excluded.mod_time,
			content_hash = excluded.content_hash,
			indexed_at = excluded.indexed_at`)
	if err != nil {
		return fmt.Errorf("failed to prepare note statement: %w", err)
	}
	defer stmt.Close()

	for _, n := range notes {
		_, err := stmt.ExecContext(ctx, n.ID, n.Path, n.Title, string(n.Type),
			n.Size, n.ModTime.Unix(), n.ContentHash, n.IndexedAt.Unix())
		if err != nil {
			return fmt.Errorf("failed to save note %s: %w", n.Path, err)
		}
	}
	return tx.Commit()
}

// GetNoteByPath fetches one note by its vault-relative path.
func (s *SQLitePassageStore) GetNoteByPath(ctx context.Context, path string) (*Note, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, path, title, type, size, mod_time, content_hash, indexed_at
		FROM notes WHERE path = ?`, path)
	return scanNote(row)
}

// ListNotes returns notes, optionally filtered by type (empty means all),
// ordered by path.
func (s *SQLitePassageStore) ListNotes(ctx context.Context, noteType NoteType) ([]*Note, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	query := `SELECT id, path, title, type, size, mod_time, content_hash, indexed_at
		FROM notes`
	args := []any{}
	if noteType != "" {
		query += ` WHERE type = ?`
		args = append(args, string(noteType))
	}
	query += ` ORDER BY path`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list notes: %w", err)
	}
	defer rows.Close()

	var notes []*Note
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, err
		}
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

// DeleteNote removes a note; its passages cascade.
func (s *SQLitePassageStore) DeleteNote(ctx context.Context, noteID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}

	_, err := s.db.ExecContext(ctx, `DELETE FROM notes WHERE id = ?`, noteID)
	if err != nil {
		return fmt.Errorf("failed to delete note: %w", err)
	}
	return nil
}

// SavePassages upserts passages.
func (s *SQLitePassageStore) SavePassages(ctx context.Context, passages []*Passage) error {
	if len(passages) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO passages (id, note_id, note_path, heading, content, type, position, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			note_id = excluded.note_id,
			note_path = excluded.note_path,
			heading = excluded.heading,
			content = excluded.content,
			type = excluded.type,
			position = excluded.position,
			updated_at = excluded.updated_at`)
	if err != nil {
		return fmt.Errorf("failed to prepare passage statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now().Unix()
	for _, p := range passages {
		created := p.CreatedAt.Unix()
		if p.CreatedAt.IsZero() {
			created = now
		}
		_, err := stmt.ExecContext(ctx, p.ID, p.NoteID, p.NotePath, p.Heading,
			p.Content, string(p.Type), p.Position, created, now)
		if err != nil {
			return fmt.Errorf("failed to save passage %s: %w", p.ID, err)
		}
	}
	return tx.Commit()
}

// GetPassage fetches one passage by ID.
func (s *SQLitePassageStore) GetPassage(ctx context.Context, id string) (*Passage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, note_id, note_path, heading, content, type, position, created_at, updated_at
		FROM passages WHERE id = ?`, id)
	return scanPassage(row)
}

// GetPassages fetches passages by ID in one query. Missing IDs are skipped;
// the result preserves the requested order.
func (s *SQLitePassageStore) GetPassages(ctx context.Context, ids []string) ([]*Passage, error) {
	if len(ids) == 0 {
		return []*Passage{}, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}

	query := fmt.Sprintf(`
		SELECT id, note_id, note_path, heading, content, type, position, created_at, updated_at
		FROM passages WHERE id IN (%s)`, strings.Join(placeholders, ","))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query passages: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]*Passage, len(ids))
	for rows.Next() {
		p, err := scanPassage(rows)
		if err != nil {
			return nil, err
		}
		byID[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	result := make([]*Passage, 0, len(byID))
	for _, id := range ids {
		if p, ok := byID[id]; ok {
			result = append(result, p)
		}
	}
	return result, nil
}

// GetPassagesByNote returns a note's passages in document order.
func (s *SQLitePassageStore) GetPassagesByNote(ctx context.Context, noteID string) ([]*Passage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, note_id, note_path, heading, content, type, position, created_at, updated_at
		FROM passages WHERE note_id = ? ORDER BY position`, noteID)
	if err != nil {
		return nil, fmt.Errorf("failed to query passages: %w", err)
	}
	defer rows.Close()

	var passages []*Passage
	for rows.Next() {
		p, err := scanPassage(rows)
		if err != nil {
			return nil, err
		}
		passages = append(passages, p)
	}
	return passages, rows.Err()
}

// DeletePassagesByNote removes all passages of a note.
func (s *SQLitePassageStore) DeletePassagesByNote(ctx context.Context, noteID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}

	_, err := s.db.ExecContext(ctx, `DELETE FROM passages WHERE note_id = ?`, noteID)
	if err != nil {
		return fmt.Errorf("failed to delete passages: %w", err)
	}
	return nil
}

// GetState reads a state value. Returns ErrNotFound for missing keys.
func (s *SQLitePassageStore) GetState(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return "", fmt.Errorf("store is closed")
	}

	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get state %s: %w", key, err)
	}
	return value, nil
}

// SetState writes a state value.
func (s *SQLitePassageStore) SetState(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO state (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("failed to set state %s: %w", key, err)
	}
	return nil
}

// Counts returns the number of notes and passages.
func (s *SQLitePassageStore) Counts(ctx context.Context) (int, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, 0, fmt.Errorf("store is closed")
	}

	var notes, passages int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM notes`).Scan(&notes); err != nil {
		return 0, 0, fmt.Errorf("failed to count notes: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM passages`).Scan(&passages); err != nil {
		return 0, 0, fmt.Errorf("failed to count passages: %w", err)
	}
	return notes, passages, nil
}

// Close checkpoints the WAL and closes the database.
func (s *SQLitePassageStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if s.db != nil {
		_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
		return s.db.Close()
	}
	return nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanNote(row scanner) (*Note, error) {
	var n Note
	var noteType string
	var modTime, indexedAt int64
	err := row.Scan(&n.ID, &n.Path, &n.Title, &noteType, &n.Size, &modTime, &n.ContentHash, &indexedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan note: %w", err)
	}
	n.Type = NoteType(noteType)
	n.ModTime = time.Unix(modTime, 0)
	n.IndexedAt = time.Unix(indexedAt, 0)
	return &n, nil
}

func scanPassage(row scanner) (*Passage, error) {
	var p Passage
	var passageType string
	var createdAt, updatedAt int64
	err := row.Scan(&p.ID, &p.NoteID, &p.NotePath, &p.Heading, &p.Content, &passageType, &p.Position, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan passage: %w", err)
	}
	p.Type = NoteType(passageType)
	p.CreatedAt = time.Unix(createdAt, 0)
	p.UpdatedAt = time.Unix(updatedAt, 0)
	return &p, nil
}
