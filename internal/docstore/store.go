// Package docstore persists documents and their chunks in SQLite. It is the
// live chunk set that search results resolve against.
package docstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	"github.com/Aman-CERP/docrag/internal/chunk"
	docerrors "github.com/Aman-CERP/docrag/internal/errors"
)

// SupportedExtensions lists the document types the loader accepts.
var SupportedExtensions = []string{".txt", ".md"}

// ErrNotFound is returned for an unknown document id.
var ErrNotFound = errors.New("document not found")

// Document is a stored document's metadata.
type Document struct {
	ID        string    `json:"id"`
	Filename  string    `json:"filename"`
	Extension string    `json:"extension"`
	Size      int       `json:"size"`
	Chunks    int       `json:"chunks"`
	CreatedAt time.Time `json:"created_at"`
}

// Stats summarises the store.
type Stats struct {
	Documents int `json:"documents"`
	Chunks    int `json:"chunks"`
}

// Store is a SQLite-backed document and chunk store.
type Store struct {
	db      *sql.DB
	path    string
	chunker *chunk.Chunker

	mu     sync.RWMutex
	closed bool
}

// IsSupported reports whether filename has a loadable extension.
func IsSupported(filename string) bool {
	return slices.Contains(SupportedExtensions, strings.ToLower(filepath.Ext(filename)))
}

// Open opens or creates the store at path. An empty path opens an
// in-memory store.
func Open(path string, chunker *chunk.Chunker) (*Store, error) {
	if chunker == nil {
		chunker = chunk.NewChunker()
	}

	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", filepath.Dir(path), err)
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, docerrors.New(docerrors.ErrCodeStoreUnavailable, "failed to open document store", err)
	}

	// One connection: a single writer, and :memory: databases are per-connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, docerrors.New(docerrors.ErrCodeStoreUnavailable, "failed to set pragma", err)
		}
	}

	s := &Store{db: db, path: path, chunker: chunker}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, docerrors.New(docerrors.ErrCodeStoreUnavailable, "failed to initialize schema", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);

	CREATE TABLE IF NOT EXISTS documents (
		id         TEXT PRIMARY KEY,
		filename   TEXT NOT NULL,
		extension  TEXT NOT NULL,
		size       INTEGER NOT NULL,
		content    TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	-- chunk_id is 0-based and sequential per document
	CREATE TABLE IF NOT EXISTS chunks (
		doc_id   TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
		chunk_id INTEGER NOT NULL,
		filename TEXT NOT NULL,
		text     TEXT NOT NULL,
		PRIMARY KEY (doc_id, chunk_id)
	);

	INSERT OR IGNORE INTO schema_version (version) VALUES (1);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Add stores a document, splits it into chunks and stores those, returning
// the new document id.
func (s *Store) Add(ctx context.Context, filename string, content []byte) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if !IsSupported(filename) {
		return "", docerrors.New(docerrors.ErrCodeUnsupportedType,
			fmt.Sprintf("unsupported file type %q", ext), nil).
			WithDetail("filename", filename).
			WithSuggestion("supported types: " + strings.Join(SupportedExtensions, ", "))
	}
	if !utf8.Valid(content) {
		return "", docerrors.ValidationError(filename+" is not valid UTF-8 text", nil)
	}

	docID := uuid.NewString()
	text := string(content)
	chunks := s.chunker.Split(text, chunk.DocumentInfo{ID: docID, Filename: filename})

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", fmt.Errorf("document store is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO documents(id, filename, extension, size, content, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		docID, filename, ext, len(content), text, time.Now().UnixNano()); err != nil {
		return "", fmt.Errorf("failed to insert document: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO chunks(doc_id, chunk_id, filename, text) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return "", fmt.Errorf("failed to prepare chunk statement: %w", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		if _, err := stmt.ExecContext(ctx, docID, c.Metadata.ChunkID, c.Metadata.Filename, c.Text); err != nil {
			return "", fmt.Errorf("failed to insert chunk %d: %w", c.Metadata.ChunkID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit document: %w", err)
	}

	slog.Info("document_added",
		slog.String("doc_id", docID),
		slog.String("filename", filename),
		slog.Int("chunks", len(chunks)))
	return docID, nil
}

// Chunks returns a document's chunks in chunk order. An unknown id yields
// no chunks.
func (s *Store) Chunks(ctx context.Context, docID string) ([]chunk.Chunk, error) {
	return s.queryChunks(ctx,
		`SELECT doc_id, chunk_id, filename, text FROM chunks WHERE doc_id = ? ORDER BY chunk_id`, docID)
}

// AllChunks returns every chunk, documents in insertion order.
func (s *Store) AllChunks(ctx context.Context) ([]chunk.Chunk, error) {
	return s.queryChunks(ctx, `
		SELECT c.doc_id, c.chunk_id, c.filename, c.text
		FROM chunks c JOIN documents d ON d.id = c.doc_id
		ORDER BY d.created_at, d.rowid, c.chunk_id`)
}

func (s *Store) queryChunks(ctx context.Context, query string, args ...any) ([]chunk.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("document store is closed")
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	var chunks []chunk.Chunk
	for rows.Next() {
		var c chunk.Chunk
		if err := rows.Scan(&c.Metadata.DocID, &c.Metadata.ChunkID, &c.Metadata.Filename, &c.Text); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// Documents lists stored documents in insertion order.
func (s *Store) Documents(ctx context.Context) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("document store is closed")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT d.id, d.filename, d.extension, d.size, d.created_at,
		       (SELECT COUNT(*) FROM chunks c WHERE c.doc_id = d.id)
		FROM documents d
		ORDER BY d.created_at, d.rowid`)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var (
			d       Document
			created int64
		)
		if err := rows.Scan(&d.ID, &d.Filename, &d.Extension, &d.Size, &created, &d.Chunks); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		d.CreatedAt = time.Unix(0, created)
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// Stats returns document and chunk counts.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return Stats{}, fmt.Errorf("document store is closed")
	}

	var st Stats
	err := s.db.QueryRowContext(ctx,
		`SELECT (SELECT COUNT(*) FROM documents), (SELECT COUNT(*) FROM chunks)`).
		Scan(&st.Documents, &st.Chunks)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to read stats: %w", err)
	}
	return st, nil
}

// Delete removes a document and its chunks.
func (s *Store) Delete(ctx context.Context, docID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("document store is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE doc_id = ?`, docID); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, docID)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, docID)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete: %w", err)
	}

	slog.Info("document_deleted", slog.String("doc_id", docID))
	return nil
}

// Close closes the database. It is safe to call more than once.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if s.path != "" {
		_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	}
	return s.db.Close()
}
