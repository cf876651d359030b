// Package index stores embedded knowledge fragments in SQLite and serves
// nearest-neighbour queries over them by cosine similarity.
package index

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"aembot/internal/domain"
)

// Record is a fragment pending insertion into the index.
type Record struct {
	Content string
	Source  string
}

// Store implements domain.FragmentIndex backed by SQLite. Embeddings are
// stored as little-endian float32 blobs; search is a full cosine scan,
// which is fine at documentation-corpus scale.
type Store struct {
	db       *sql.DB
	embedder domain.EmbeddingProvider
	logger   *slog.Logger
	dbPath   string
}

// New opens (or creates) a SQLite database at dbPath, runs migrations, and
// returns a ready Store.
func New(dbPath string, embedder domain.EmbeddingProvider, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("%w: open db: %v", domain.ErrIndexStore, err)
	}

	// SQLite write safety: single writer.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%w: pragma: %v", domain.ErrIndexStore, err)
		}
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: migrate: %v", domain.ErrIndexStore, err)
	}

	return &Store{
		db:       db,
		embedder: embedder,
		logger:   logger,
		dbPath:   dbPath,
	}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ready implements domain.FragmentIndex. An index with no fragments is
// not ready: queries against it cannot produce grounded answers.
func (s *Store) Ready() bool {
	if s.db == nil {
		return false
	}
	n, err := s.Count(context.Background())
	return err == nil && n > 0
}

// Count returns the number of fragments in the index.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM fragments").Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: count: %v", domain.ErrIndexStore, err)
	}
	return n, nil
}

// UpsertBatch embeds and stores a batch of records in a single transaction
// with one batched embedding call. Fragment IDs are content-addressed so
// re-indexing the same corpus is idempotent.
func (s *Store) UpsertBatch(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	texts := make([]string, len(records))
	for i, r := range records {
		texts[i] = r.Content
	}

	vecs, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("%w: embed batch: %v", domain.ErrIndexStore, err)
	}
	if len(vecs) != len(records) {
		return fmt.Errorf("%w: embed batch: got %d vectors for %d records", domain.ErrIndexStore, len(vecs), len(records))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin tx: %v", domain.ErrIndexStore, err)
	}
	defer tx.Rollback() //nolint:errcheck

	const upsert = `
		INSERT INTO fragments (id, content, source, embedding, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content    = excluded.content,
			source     = excluded.source,
			embedding  = excluded.embedding,
			created_at = excluded.created_at
	`

	stmt, err := tx.PrepareContext(ctx, upsert)
	if err != nil {
		return fmt.Errorf("%w: prepare: %v", domain.ErrIndexStore, err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339)
	for i, r := range records {
		_, err := stmt.ExecContext(ctx,
			fragmentID(r),
			r.Content,
			r.Source,
			float32ToBytes(vecs[i]),
			now,
		)
		if err != nil {
			return fmt.Errorf("%w: upsert fragment from %q: %v", domain.ErrIndexStore, r.Source, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", domain.ErrIndexStore, err)
	}

	s.logger.Debug("fragments indexed", "count", len(records))
	return nil
}

// DeleteSource removes all fragments ingested from a given source.
func (s *Store) DeleteSource(ctx context.Context, source string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM fragments WHERE source = ?", source); err != nil {
		return fmt.Errorf("%w: delete source: %v", domain.ErrIndexStore, err)
	}
	return nil
}

// fragmentID derives a stable ID from a record's source and content.
func fragmentID(r Record) string {
	h := sha256.Sum256([]byte(r.Source + "\x00" + r.Content))
	return hex.EncodeToString(h[:16])
}

var _ domain.FragmentIndex = (*Store)(nil)
