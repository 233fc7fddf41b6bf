// Package postgres implements collection, parent, and graph persistence on
// PostgreSQL using the pgx connection pool.
//
// The Store accepts an externally-owned *pgxpool.Pool via constructor
// injection. The caller creates and closes the pool. Embeddings are stored
// as REAL[] columns; similarity ranking happens in the in-memory retriever
// index, so no vector extension is needed.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mirvand/strata"
)

// Store persists chunks, parent chunks, and concept graphs in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

var (
	_ strata.ChunkStore  = (*Store)(nil)
	_ strata.ParentStore = (*Store)(nil)
	_ strata.GraphStore  = (*Store)(nil)
)

// New creates a Store on top of an existing connection pool. The caller
// owns the pool and is responsible for closing it.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Init creates the tables and indexes if they do not exist. It is safe to
// call on every startup.
func (s *Store) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS chunks (
			seq BIGSERIAL PRIMARY KEY,
			id TEXT NOT NULL UNIQUE,
			collection TEXT NOT NULL,
			source_id TEXT NOT NULL,
			content TEXT NOT NULL,
			meta JSONB NOT NULL,
			embedding REAL[]
		)`,
		`CREATE TABLE IF NOT EXISTS parents (
			collection TEXT NOT NULL,
			parent_id TEXT NOT NULL,
			source_id TEXT NOT NULL,
			content TEXT NOT NULL,
			meta JSONB NOT NULL,
			PRIMARY KEY (collection, parent_id)
		)`,
		`CREATE TABLE IF NOT EXISTS graphs (
			subject_id TEXT PRIMARY KEY,
			data JSONB NOT NULL,
			updated_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chunks_collection ON chunks (collection)`,
		`CREATE INDEX IF NOT EXISTS idx_chunks_source ON chunks (collection, source_id)`,
		`CREATE INDEX IF NOT EXISTS idx_parents_source ON parents (collection, source_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: init: %w", err)
		}
	}
	return nil
}

// AppendChunks inserts chunks at the end of a collection. Re-inserting an
// existing chunk ID overwrites the stored row.
func (s *Store) AppendChunks(ctx context.Context, collection string, chunks []strata.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin append: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, c := range chunks {
		meta, err := json.Marshal(c.Meta)
		if err != nil {
			return fmt.Errorf("postgres: marshal chunk meta: %w", err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO chunks (id, collection, source_id, content, meta, embedding)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO UPDATE SET
				collection = EXCLUDED.collection,
				source_id = EXCLUDED.source_id,
				content = EXCLUDED.content,
				meta = EXCLUDED.meta,
				embedding = EXCLUDED.embedding
		`, c.ID, collection, c.Meta.SourceID, c.Content, meta, c.Embedding)
		if err != nil {
			return fmt.Errorf("postgres: insert chunk: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit append: %w", err)
	}
	return nil
}

// LoadChunks returns the chunks of a collection in insertion order,
// restricted by the filter when one is given.
func (s *Store) LoadChunks(ctx context.Context, collection string, filter *strata.Filter) ([]strata.Chunk, error) {
	query := `SELECT id, content, meta, embedding FROM chunks WHERE collection = $1`
	args := []any{collection}
	if filter != nil && len(filter.SourceIDs) > 0 {
		query += ` AND source_id = ANY($2)`
		args = append(args, filter.SourceIDs)
	}
	query += ` ORDER BY seq`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: load chunks: %w", err)
	}
	defer rows.Close()

	var chunks []strata.Chunk
	for rows.Next() {
		var (
			c    strata.Chunk
			meta []byte
		)
		if err := rows.Scan(&c.ID, &c.Content, &meta, &c.Embedding); err != nil {
			return nil, fmt.Errorf("postgres: scan chunk: %w", err)
		}
		if err := json.Unmarshal(meta, &c.Meta); err != nil {
			continue
		}
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate chunks: %w", err)
	}
	return chunks, nil
}

// DeleteChunksBySource removes all chunks of one source file from a
// collection and reports how many rows were deleted.
func (s *Store) DeleteChunksBySource(ctx context.Context, collection, sourceID string) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM chunks WHERE collection = $1 AND source_id = $2`,
		collection, sourceID)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete chunks: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// ClearChunks removes every chunk of a collection.
func (s *Store) ClearChunks(ctx context.Context, collection string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM chunks WHERE collection = $1`, collection); err != nil {
		return fmt.Errorf("postgres: clear chunks: %w", err)
	}
	return nil
}

// PutParents stores parent chunks, replacing any existing parent with the
// same ID.
func (s *Store) PutParents(ctx context.Context, collection string, parents []strata.ParentChunk) error {
	if len(parents) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin put parents: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, p := range parents {
		meta, err := json.Marshal(p.Meta)
		if err != nil {
			return fmt.Errorf("postgres: marshal parent meta: %w", err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO parents (collection, parent_id, source_id, content, meta)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (collection, parent_id) DO UPDATE SET
				source_id = EXCLUDED.source_id,
				content = EXCLUDED.content,
				meta = EXCLUDED.meta
		`, collection, p.ParentID, p.Meta.SourceID, p.Content, meta)
		if err != nil {
			return fmt.Errorf("postgres: insert parent: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit put parents: %w", err)
	}
	return nil
}

// GetParents fetches parents by ID. Missing IDs are absent from the
// returned map.
func (s *Store) GetParents(ctx context.Context, collection string, ids []string) (map[string]strata.ParentChunk, error) {
	parents := make(map[string]strata.ParentChunk, len(ids))
	if len(ids) == 0 {
		return parents, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT parent_id, content, meta FROM parents WHERE collection = $1 AND parent_id = ANY($2)`,
		collection, ids)
	if err != nil {
		return nil, fmt.Errorf("postgres: get parents: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			p    strata.ParentChunk
			meta []byte
		)
		if err := rows.Scan(&p.ParentID, &p.Content, &meta); err != nil {
			return nil, fmt.Errorf("postgres: scan parent: %w", err)
		}
		if err := json.Unmarshal(meta, &p.Meta); err != nil {
			continue
		}
		parents[p.ParentID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate parents: %w", err)
	}
	return parents, nil
}

// DeleteParentsBySource removes all parents of one source file from a
// collection and reports how many rows were deleted.
func (s *Store) DeleteParentsBySource(ctx context.Context, collection, sourceID string) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM parents WHERE collection = $1 AND source_id = $2`,
		collection, sourceID)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete parents: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// ClearParents removes every parent of a collection.
func (s *Store) ClearParents(ctx context.Context, collection string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM parents WHERE collection = $1`, collection); err != nil {
		return fmt.Errorf("postgres: clear parents: %w", err)
	}
	return nil
}

// PutGraph stores the concept graph of a subject, replacing any previous
// version.
func (s *Store) PutGraph(ctx context.Context, subjectID string, g strata.Graph) error {
	data, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("postgres: marshal graph: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO graphs (subject_id, data, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (subject_id) DO UPDATE SET
			data = EXCLUDED.data,
			updated_at = EXCLUDED.updated_at
	`, subjectID, data, strata.NowUnix())
	if err != nil {
		return fmt.Errorf("postgres: put graph: %w", err)
	}
	return nil
}

// GetGraph loads the concept graph of a subject. The boolean reports
// whether a graph was stored.
func (s *Store) GetGraph(ctx context.Context, subjectID string) (strata.Graph, bool, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT data FROM graphs WHERE subject_id = $1`, subjectID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return strata.Graph{}, false, nil
	}
	if err != nil {
		return strata.Graph{}, false, fmt.Errorf("postgres: get graph: %w", err)
	}

	var g strata.Graph
	if err := json.Unmarshal(data, &g); err != nil {
		return strata.Graph{}, false, nil
	}
	return g, true, nil
}

// DeleteGraph removes the stored graph of a subject. Deleting a missing
// graph is not an error.
func (s *Store) DeleteGraph(ctx context.Context, subjectID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM graphs WHERE subject_id = $1`, subjectID); err != nil {
		return fmt.Errorf("postgres: delete graph: %w", err)
	}
	return nil
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres: ping: %w", err)
	}
	return nil
}
