// Package jsonfile implements the flat-file persistence backends: one JSON
// file per collection for chunks, a companion file for parent chunks, and
// one file per subject for knowledge graphs. Every write replaces the whole
// file via write-then-rename, so a crash mid-write never leaves a torn file.
//
// Malformed persisted JSON is treated as an empty collection rather than an
// error: the store logs the problem and carries on, matching the recovery
// policy for locally corrupted data.
package jsonfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mirvand/strata"
)

// StoreOption configures a Store.
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

// Store persists chunks, parents, and graphs as JSON files under one
// directory.
type Store struct {
	dir    string
	logger *slog.Logger
}

var _ strata.ChunkStore = (*Store)(nil)
var _ strata.ParentStore = (*Store)(nil)
var _ strata.GraphStore = (*Store)(nil)

var nopLogger = slog.New(slog.DiscardHandler)

// New creates a Store rooted at dir, creating the directory if needed.
func New(dir string, opts ...StoreOption) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	s := &Store{dir: dir, logger: nopLogger}
	for _, o := range opts {
		o(s)
	}
	s.logger.Debug("jsonfile: store opened", "dir", dir)
	return s, nil
}

// --- ChunkStore ---

// AppendChunks adds chunks to the collection, rewriting the whole file.
func (s *Store) AppendChunks(ctx context.Context, collection string, chunks []strata.Chunk) error {
	start := time.Now()
	existing := s.loadChunkFile(collection)
	existing = append(existing, chunks...)
	if err := s.writeJSON(s.chunksPath(collection), existing); err != nil {
		return fmt.Errorf("append chunks: %w", err)
	}
	s.logger.Debug("jsonfile: append chunks ok",
		"collection", collection, "added", len(chunks), "total", len(existing),
		"duration", time.Since(start))
	return nil
}

// LoadChunks returns the collection's chunks, optionally filtered.
func (s *Store) LoadChunks(ctx context.Context, collection string, filter *strata.Filter) ([]strata.Chunk, error) {
	start := time.Now()
	all := s.loadChunkFile(collection)
	var out []strata.Chunk
	for _, c := range all {
		if filter.Match(c) {
			out = append(out, c)
		}
	}
	s.logger.Debug("jsonfile: load chunks ok",
		"collection", collection, "count", len(out), "duration", time.Since(start))
	return out, nil
}

// DeleteChunksBySource removes chunks whose SourceID matches and returns
// the number removed.
func (s *Store) DeleteChunksBySource(ctx context.Context, collection, sourceID string) (int, error) {
	start := time.Now()
	all := s.loadChunkFile(collection)
	kept := all[:0]
	for _, c := range all {
		if c.Meta.SourceID != sourceID {
			kept = append(kept, c)
		}
	}
	removed := len(all) - len(kept)
	if removed == 0 {
		return 0, nil
	}
	if err := s.writeJSON(s.chunksPath(collection), kept); err != nil {
		return 0, fmt.Errorf("delete chunks: %w", err)
	}
	s.logger.Debug("jsonfile: delete chunks ok",
		"collection", collection, "source", sourceID, "removed", removed,
		"duration", time.Since(start))
	return removed, nil
}

// ClearChunks removes the collection's chunk file.
func (s *Store) ClearChunks(ctx context.Context, collection string) error {
	if err := os.Remove(s.chunksPath(collection)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("clear chunks: %w", err)
	}
	s.logger.Debug("jsonfile: clear chunks ok", "collection", collection)
	return nil
}

// --- ParentStore ---

// PutParents stores parents, replacing any with the same ParentID.
func (s *Store) PutParents(ctx context.Context, collection string, parents []strata.ParentChunk) error {
	start := time.Now()
	existing := s.loadParentFile(collection)
	for _, p := range parents {
		existing[p.ParentID] = p
	}
	if err := s.writeJSON(s.parentsPath(collection), existing); err != nil {
		return fmt.Errorf("put parents: %w", err)
	}
	s.logger.Debug("jsonfile: put parents ok",
		"collection", collection, "added", len(parents), "total", len(existing),
		"duration", time.Since(start))
	return nil
}

// GetParents returns the parents found for the given IDs. Missing IDs are
// absent from the map.
func (s *Store) GetParents(ctx context.Context, collection string, ids []string) (map[string]strata.ParentChunk, error) {
	all := s.loadParentFile(collection)
	out := make(map[string]strata.ParentChunk, len(ids))
	for _, id := range ids {
		if p, ok := all[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

// DeleteParentsBySource removes parents whose SourceID matches and returns
// the number removed.
func (s *Store) DeleteParentsBySource(ctx context.Context, collection, sourceID string) (int, error) {
	all := s.loadParentFile(collection)
	removed := 0
	for id, p := range all {
		if p.Meta.SourceID == sourceID {
			delete(all, id)
			removed++
		}
	}
	if removed == 0 {
		return 0, nil
	}
	if err := s.writeJSON(s.parentsPath(collection), all); err != nil {
		return 0, fmt.Errorf("delete parents: %w", err)
	}
	s.logger.Debug("jsonfile: delete parents ok",
		"collection", collection, "source", sourceID, "removed", removed)
	return removed, nil
}

// ClearParents removes the collection's parent file.
func (s *Store) ClearParents(ctx context.Context, collection string) error {
	if err := os.Remove(s.parentsPath(collection)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("clear parents: %w", err)
	}
	s.logger.Debug("jsonfile: clear parents ok", "collection", collection)
	return nil
}

// --- GraphStore ---

// PutGraph stores the subject's graph, replacing any existing entry.
func (s *Store) PutGraph(ctx context.Context, subjectID string, g strata.Graph) error {
	if err := s.writeJSON(s.graphPath(subjectID), g); err != nil {
		return fmt.Errorf("put graph: %w", err)
	}
	s.logger.Debug("jsonfile: put graph ok",
		"subject", subjectID, "nodes", len(g.Nodes), "edges", len(g.Edges))
	return nil
}

// GetGraph returns the subject's graph, reporting ok=false when absent.
// A corrupted graph file reads as absent.
func (s *Store) GetGraph(ctx context.Context, subjectID string) (strata.Graph, bool, error) {
	data, err := os.ReadFile(s.graphPath(subjectID))
	if errors.Is(err, fs.ErrNotExist) {
		return strata.Graph{}, false, nil
	}
	if err != nil {
		return strata.Graph{}, false, fmt.Errorf("read graph: %w", err)
	}
	var g strata.Graph
	if err := json.Unmarshal(data, &g); err != nil {
		s.logger.Warn("jsonfile: malformed graph file, treating as absent",
			"subject", subjectID, "error", err)
		return strata.Graph{}, false, nil
	}
	return g, true, nil
}

// DeleteGraph removes the subject's graph entry.
func (s *Store) DeleteGraph(ctx context.Context, subjectID string) error {
	if err := os.Remove(s.graphPath(subjectID)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete graph: %w", err)
	}
	return nil
}

// --- file plumbing ---

func (s *Store) chunksPath(collection string) string {
	return filepath.Join(s.dir, sanitize(collection)+".chunks.json")
}

func (s *Store) parentsPath(collection string) string {
	return filepath.Join(s.dir, sanitize(collection)+".parents.json")
}

func (s *Store) graphPath(subjectID string) string {
	return filepath.Join(s.dir, sanitize(subjectID)+".graph.json")
}

// sanitize maps a collection identifier to a safe file name component.
func sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		default:
			return '_'
		}
	}, name)
}

// loadChunkFile reads a collection's chunk list. A missing or malformed
// file reads as an empty collection.
func (s *Store) loadChunkFile(collection string) []strata.Chunk {
	data, err := os.ReadFile(s.chunksPath(collection))
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("jsonfile: read chunk file failed, treating as empty",
				"collection", collection, "error", err)
		}
		return nil
	}
	var chunks []strata.Chunk
	if err := json.Unmarshal(data, &chunks); err != nil {
		s.logger.Warn("jsonfile: malformed chunk file, treating as empty",
			"collection", collection, "error", err)
		return nil
	}
	return chunks
}

// loadParentFile reads a collection's parent map. A missing or malformed
// file reads as an empty map.
func (s *Store) loadParentFile(collection string) map[string]strata.ParentChunk {
	out := make(map[string]strata.ParentChunk)
	data, err := os.ReadFile(s.parentsPath(collection))
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("jsonfile: read parent file failed, treating as empty",
				"collection", collection, "error", err)
		}
		return out
	}
	if err := json.Unmarshal(data, &out); err != nil {
		s.logger.Warn("jsonfile: malformed parent file, treating as empty",
			"collection", collection, "error", err)
		return make(map[string]strata.ParentChunk)
	}
	return out
}

// writeJSON replaces path atomically: marshal, write a temp file in the
// same directory, fsync, rename over the target.
func (s *Store) writeJSON(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace %s: %w", filepath.Base(path), err)
	}
	return nil
}
