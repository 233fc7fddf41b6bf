// Package sqlite implements the persistence backends on a local SQLite file
// using a pure-Go driver. Zero CGO required. Embeddings are stored as JSON
// text; similarity ranking happens in the in-memory retriever index, so no
// vector extension is needed.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mirvand/strata"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// StoreOption configures a SQLite Store.
type StoreOption func(*Store)

// WithLogger sets a structured logger for the store. When set, the store
// emits debug logs for every operation including timing and row counts.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// Store persists chunks, parents, and graphs in a local SQLite file.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ strata.ChunkStore = (*Store)(nil)
var _ strata.ParentStore = (*Store)(nil)
var _ strata.GraphStore = (*Store)(nil)

var nopLogger = slog.New(slog.DiscardHandler)

// New creates a Store using a local SQLite file at dbPath.
// It opens a single shared connection pool with SetMaxOpenConns(1) so that
// all goroutines serialize through one connection, eliminating SQLITE_BUSY
// errors caused by concurrent writers opening independent connections.
func New(dbPath string, opts ...StoreOption) *Store {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		// sql.Open only fails when the driver is not registered; with the
		// blank import above that never happens.
		panic(fmt.Sprintf("sqlite: open driver: %v", err))
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db, logger: nopLogger}
	for _, o := range opts {
		o(s)
	}
	s.logger.Debug("sqlite: store opened", "path", dbPath)
	return s
}

// Init creates all required tables.
func (s *Store) Init(ctx context.Context) error {
	start := time.Now()
	tables := []string{
		`CREATE TABLE IF NOT EXISTS chunks (
			id TEXT PRIMARY KEY,
			collection TEXT NOT NULL,
			source_id TEXT NOT NULL,
			content TEXT NOT NULL,
			meta TEXT NOT NULL,
			embedding TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS parents (
			collection TEXT NOT NULL,
			parent_id TEXT NOT NULL,
			source_id TEXT NOT NULL,
			content TEXT NOT NULL,
			meta TEXT NOT NULL,
			PRIMARY KEY (collection, parent_id)
		)`,
		`CREATE TABLE IF NOT EXISTS graphs (
			subject_id TEXT PRIMARY KEY,
			data TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
	}
	for _, ddl := range tables {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}

	// Indexes on frequently queried columns.
	_, _ = s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_chunks_collection ON chunks(collection)`)
	_, _ = s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_chunks_source ON chunks(collection, source_id)`)
	_, _ = s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_parents_source ON parents(collection, source_id)`)

	s.logger.Debug("sqlite: init completed", "duration", time.Since(start))
	return nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// --- ChunkStore ---

// AppendChunks inserts chunks in a single transaction.
func (s *Store) AppendChunks(ctx context.Context, collection string, chunks []strata.Chunk) error {
	start := time.Now()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, c := range chunks {
		metaJSON, err := json.Marshal(c.Meta)
		if err != nil {
			return fmt.Errorf("encode chunk meta: %w", err)
		}
		var embJSON *string
		if len(c.Embedding) > 0 {
			v := serializeEmbedding(c.Embedding)
			embJSON = &v
		}
		_, err = tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO chunks (id, collection, source_id, content, meta, embedding)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			c.ID, collection, c.Meta.SourceID, c.Content, string(metaJSON), embJSON,
		)
		if err != nil {
			s.logger.Error("sqlite: insert chunk failed", "chunk_id", c.ID, "collection", collection, "error", err)
			return fmt.Errorf("insert chunk: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	s.logger.Debug("sqlite: append chunks ok",
		"collection", collection, "added", len(chunks), "duration", time.Since(start))
	return nil
}

// LoadChunks returns the collection's chunks in insertion order, optionally
// narrowed to a source whitelist.
func (s *Store) LoadChunks(ctx context.Context, collection string, filter *strata.Filter) ([]strata.Chunk, error) {
	start := time.Now()

	query := `SELECT id, content, meta, embedding FROM chunks WHERE collection = ?`
	args := []any{collection}
	if filter != nil && len(filter.SourceIDs) > 0 {
		query += ` AND source_id IN (` + placeholders(len(filter.SourceIDs)) + `)`
		for _, id := range filter.SourceIDs {
			args = append(args, id)
		}
	}
	query += ` ORDER BY rowid`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("load chunks: %w", err)
	}
	defer rows.Close()

	var chunks []strata.Chunk
	for rows.Next() {
		var c strata.Chunk
		var metaJSON string
		var embJSON sql.NullString
		if err := rows.Scan(&c.ID, &c.Content, &metaJSON, &embJSON); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		if err := json.Unmarshal([]byte(metaJSON), &c.Meta); err != nil {
			s.logger.Warn("sqlite: malformed chunk meta, skipping row", "chunk_id", c.ID, "error", err)
			continue
		}
		if embJSON.Valid {
			c.Embedding, _ = deserializeEmbedding(embJSON.String)
		}
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunks: %w", err)
	}

	s.logger.Debug("sqlite: load chunks ok",
		"collection", collection, "count", len(chunks), "duration", time.Since(start))
	return chunks, nil
}

// DeleteChunksBySource removes chunks whose SourceID matches and returns
// the number removed.
func (s *Store) DeleteChunksBySource(ctx context.Context, collection, sourceID string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM chunks WHERE collection = ? AND source_id = ?`, collection, sourceID)
	if err != nil {
		return 0, fmt.Errorf("delete chunks: %w", err)
	}
	n, _ := res.RowsAffected()
	s.logger.Debug("sqlite: delete chunks ok",
		"collection", collection, "source", sourceID, "removed", n)
	return int(n), nil
}

// ClearChunks empties the collection.
func (s *Store) ClearChunks(ctx context.Context, collection string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE collection = ?`, collection); err != nil {
		return fmt.Errorf("clear chunks: %w", err)
	}
	s.logger.Debug("sqlite: clear chunks ok", "collection", collection)
	return nil
}

// --- ParentStore ---

// PutParents stores parents in one transaction, replacing any with the
// same ParentID.
func (s *Store) PutParents(ctx context.Context, collection string, parents []strata.ParentChunk) error {
	start := time.Now()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, p := range parents {
		metaJSON, err := json.Marshal(p.Meta)
		if err != nil {
			return fmt.Errorf("encode parent meta: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO parents (collection, parent_id, source_id, content, meta)
			 VALUES (?, ?, ?, ?, ?)`,
			collection, p.ParentID, p.Meta.SourceID, p.Content, string(metaJSON),
		)
		if err != nil {
			s.logger.Error("sqlite: insert parent failed", "parent_id", p.ParentID, "collection", collection, "error", err)
			return fmt.Errorf("insert parent: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	s.logger.Debug("sqlite: put parents ok",
		"collection", collection, "count", len(parents), "duration", time.Since(start))
	return nil
}

// GetParents returns the parents found for the given IDs. Missing IDs are
// absent from the map.
func (s *Store) GetParents(ctx context.Context, collection string, ids []string) (map[string]strata.ParentChunk, error) {
	out := make(map[string]strata.ParentChunk, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	query := `SELECT parent_id, content, meta FROM parents WHERE collection = ? AND parent_id IN (` +
		placeholders(len(ids)) + `)`
	args := make([]any, 0, len(ids)+1)
	args = append(args, collection)
	for _, id := range ids {
		args = append(args, id)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get parents: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p strata.ParentChunk
		var metaJSON string
		if err := rows.Scan(&p.ParentID, &p.Content, &metaJSON); err != nil {
			return nil, fmt.Errorf("scan parent: %w", err)
		}
		if err := json.Unmarshal([]byte(metaJSON), &p.Meta); err != nil {
			s.logger.Warn("sqlite: malformed parent meta, skipping row", "parent_id", p.ParentID, "error", err)
			continue
		}
		out[p.ParentID] = p
	}
	return out, rows.Err()
}

// DeleteParentsBySource removes parents whose SourceID matches and returns
// the number removed.
func (s *Store) DeleteParentsBySource(ctx context.Context, collection, sourceID string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM parents WHERE collection = ? AND source_id = ?`, collection, sourceID)
	if err != nil {
		return 0, fmt.Errorf("delete parents: %w", err)
	}
	n, _ := res.RowsAffected()
	s.logger.Debug("sqlite: delete parents ok",
		"collection", collection, "source", sourceID, "removed", n)
	return int(n), nil
}

// ClearParents empties the collection's parent set.
func (s *Store) ClearParents(ctx context.Context, collection string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM parents WHERE collection = ?`, collection); err != nil {
		return fmt.Errorf("clear parents: %w", err)
	}
	s.logger.Debug("sqlite: clear parents ok", "collection", collection)
	return nil
}

// --- GraphStore ---

// PutGraph stores the subject's graph, replacing any existing entry.
func (s *Store) PutGraph(ctx context.Context, subjectID string, g strata.Graph) error {
	data, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("encode graph: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO graphs (subject_id, data, updated_at) VALUES (?, ?, ?)`,
		subjectID, string(data), strata.NowUnix(),
	)
	if err != nil {
		return fmt.Errorf("put graph: %w", err)
	}
	s.logger.Debug("sqlite: put graph ok",
		"subject", subjectID, "nodes", len(g.Nodes), "edges", len(g.Edges))
	return nil
}

// GetGraph returns the subject's graph, reporting ok=false when absent.
// A corrupted graph row reads as absent.
func (s *Store) GetGraph(ctx context.Context, subjectID string) (strata.Graph, bool, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM graphs WHERE subject_id = ?`, subjectID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return strata.Graph{}, false, nil
	}
	if err != nil {
		return strata.Graph{}, false, fmt.Errorf("get graph: %w", err)
	}
	var g strata.Graph
	if err := json.Unmarshal([]byte(data), &g); err != nil {
		s.logger.Warn("sqlite: malformed graph row, treating as absent",
			"subject", subjectID, "error", err)
		return strata.Graph{}, false, nil
	}
	return g, true, nil
}

// DeleteGraph removes the subject's graph entry.
func (s *Store) DeleteGraph(ctx context.Context, subjectID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM graphs WHERE subject_id = ?`, subjectID); err != nil {
		return fmt.Errorf("delete graph: %w", err)
	}
	return nil
}

// --- helpers ---

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// serializeEmbedding converts []float32 to a JSON array string.
func serializeEmbedding(embedding []float32) string {
	data, _ := json.Marshal(embedding)
	return string(data)
}

// deserializeEmbedding parses a JSON array string back to []float32.
func deserializeEmbedding(s string) ([]float32, error) {
	var v []float32
	err := json.Unmarshal([]byte(s), &v)
	return v, err
}
