// Package state provides the SQLite-backed ingestion state store. It records,
// per document, the content hash and chunk IDs of the last successful
// indexing, plus the incremental-sync watermark and the embedding model the
// collection was built with. This state is what makes re-ingestion idempotent
// and stale-chunk cleanup possible.
package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver
)

// DocumentState is the per-document record of the last successful indexing.
type DocumentState struct {
	// DocumentID is the source document ID.
	DocumentID string
	// ContentHash is the hash of the chunk sequence that was indexed.
	ContentHash string
	// ChunkIDs are the point IDs written for this document, in ordinal order.
	ChunkIDs []string
	// Title is the document title at indexing time.
	Title string
	// IndexedAt is when the document was last indexed.
	IndexedAt time.Time
}

// Store persists ingestion state in a local SQLite database. It is safe for
// concurrent use.
type Store struct {
	// db is the underlying database connection pool.
	db *sql.DB
}

// Meta keys stored in the key-value table.
const (
	metaWatermark      = "watermark"
	metaEmbeddingModel = "embedding_model"
	metaEmbeddingDims  = "embedding_dimensions"
)

// DefaultDBPath returns the default path for the ingestion state database.
// It resolves to ~/.docqa/state.db, creating the directory if needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("state: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".docqa")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("state: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "state.db"), nil
}

// Open opens (or creates) a Store at the given path and runs the schema
// migration. Use ":memory:" for an in-memory database in tests.
func Open(path string) (*Store, error) {
	// WAL mode improves concurrent read performance and is safe for single-host use.
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("state: open %s: %w", path, err)
	}
	// Limit to a single writer connection to avoid SQLITE_BUSY under concurrent writes.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates the schema if it does not already exist.
func (s *Store) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS documents (
    doc_id        TEXT PRIMARY KEY,
    content_hash  TEXT    NOT NULL,
    chunk_ids     TEXT    NOT NULL,  -- JSON array of point IDs
    title         TEXT    NOT NULL,
    indexed_at    INTEGER NOT NULL   -- Unix timestamp (seconds)
);
CREATE TABLE IF NOT EXISTS meta (
    key    TEXT PRIMARY KEY,
    value  TEXT NOT NULL
);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("state: migrate: %w", err)
	}
	return nil
}

// Get returns the state for a document. The second return is false when the
// document has never been indexed.
func (s *Store) Get(ctx context.Context, documentID string) (DocumentState, bool, error) {
	const q = `SELECT content_hash, chunk_ids, title, indexed_at FROM documents WHERE doc_id = ?`

	var st DocumentState
	var chunkJSON string
	var ts int64
	err := s.db.QueryRowContext(ctx, q, documentID).Scan(&st.ContentHash, &chunkJSON, &st.Title, &ts)
	if err == sql.ErrNoRows {
		return DocumentState{}, false, nil
	}
	if err != nil {
		return DocumentState{}, false, fmt.Errorf("state: get %s: %w", documentID, err)
	}

	if err := json.Unmarshal([]byte(chunkJSON), &st.ChunkIDs); err != nil {
		return DocumentState{}, false, fmt.Errorf("state: get %s: decode chunk IDs: %w", documentID, err)
	}
	st.DocumentID = documentID
	st.IndexedAt = time.Unix(ts, 0)
	return st, true, nil
}

// Put records the state of a freshly indexed document, replacing any previous
// record.
func (s *Store) Put(ctx context.Context, st DocumentState) error {
	chunkJSON, err := json.Marshal(st.ChunkIDs)
	if err != nil {
		return fmt.Errorf("state: put %s: encode chunk IDs: %w", st.DocumentID, err)
	}

	const q = `
INSERT INTO documents (doc_id, content_hash, chunk_ids, title, indexed_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(doc_id) DO UPDATE SET
    content_hash = excluded.content_hash,
    chunk_ids    = excluded.chunk_ids,
    title        = excluded.title,
    indexed_at   = excluded.indexed_at`
	if _, err := s.db.ExecContext(ctx, q, st.DocumentID, st.ContentHash, string(chunkJSON), st.Title, st.IndexedAt.Unix()); err != nil {
		return fmt.Errorf("state: put %s: %w", st.DocumentID, err)
	}
	return nil
}

// Delete removes a document's state. Deleting an unknown document is a no-op.
func (s *Store) Delete(ctx context.Context, documentID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE doc_id = ?`, documentID); err != nil {
		return fmt.Errorf("state: delete %s: %w", documentID, err)
	}
	return nil
}

// Count returns the number of indexed documents.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&n); err != nil {
		return 0, fmt.Errorf("state: count: %w", err)
	}
	return n, nil
}

// DocumentIDs returns every indexed document ID, ordered lexically. Used by
// full syncs to prune documents that disappeared from the source.
func (s *Store) DocumentIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT doc_id FROM documents ORDER BY doc_id`)
	if err != nil {
		return nil, fmt.Errorf("state: document ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("state: document ids scan: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("state: document ids rows: %w", err)
	}
	return ids, nil
}

// Watermark returns the incremental-sync watermark, or the zero time when no
// sync has completed yet.
func (s *Store) Watermark(ctx context.Context) (time.Time, error) {
	value, err := s.getMeta(ctx, metaWatermark)
	if err != nil {
		return time.Time{}, err
	}
	if value == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("state: parse watermark %q: %w", value, err)
	}
	return t, nil
}

// SetWatermark advances the incremental-sync watermark.
func (s *Store) SetWatermark(ctx context.Context, t time.Time) error {
	return s.setMeta(ctx, metaWatermark, t.UTC().Format(time.RFC3339Nano))
}

// VerifyEmbedding checks the collection's recorded embedding model against the
// configured one. On first use the configured model is recorded. A mismatch is
// a configuration error: vectors from different models must never share a
// collection.
func (s *Store) VerifyEmbedding(ctx context.Context, modelID string, dimensions int) error {
	recordedModel, err := s.getMeta(ctx, metaEmbeddingModel)
	if err != nil {
		return err
	}
	if recordedModel == "" {
		if err := s.setMeta(ctx, metaEmbeddingModel, modelID); err != nil {
			return err
		}
		return s.setMeta(ctx, metaEmbeddingDims, fmt.Sprintf("%d", dimensions))
	}

	recordedDims, err := s.getMeta(ctx, metaEmbeddingDims)
	if err != nil {
		return err
	}
	if recordedModel != modelID || recordedDims != fmt.Sprintf("%d", dimensions) {
		return fmt.Errorf("state: collection was built with embedding model %s (%s dims) but %s (%d dims) is configured — reindex with a fresh collection or restore the original model",
			recordedModel, recordedDims, modelID, dimensions)
	}
	return nil
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("state: ping: %w", err)
	}
	return nil
}

// Close releases the database connection pool.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("state: close: %w", err)
	}
	return nil
}

func (s *Store) getMeta(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("state: get meta %s: %w", key, err)
	}
	return value, nil
}

func (s *Store) setMeta(ctx context.Context, key, value string) error {
	const q = `INSERT INTO meta (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`
	if _, err := s.db.ExecContext(ctx, q, key, value); err != nil {
		return fmt.Errorf("state: set meta %s: %w", key, err)
	}
	return nil
}
