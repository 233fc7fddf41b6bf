package strata

import (
	"context"
	"runtime"
	"sync"
)

// mockEmbedder returns canned vectors without calling a real model.
// vecs maps exact text to its vector; anything else falls back to fixed,
// then to a unit default. A non-nil err fails both methods.
type mockEmbedder struct {
	mu      sync.Mutex
	vecs    map[string][]float32
	fixed   []float32
	err     error
	batches []int // sizes of EmbedDocuments calls, in order
	queries int
}

func (m *mockEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	m.batches = append(m.batches, len(texts))
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = m.vecFor(t)
	}
	return out, nil
}

func (m *mockEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	m.queries++
	return m.vecFor(text), nil
}

func (m *mockEmbedder) vecFor(text string) []float32 {
	if v, ok := m.vecs[text]; ok {
		return v
	}
	if m.fixed != nil {
		return m.fixed
	}
	return []float32{1, 0}
}

// --- In-memory stores (shared across retriever_test.go, library_test.go) ---

// memChunkStore is an in-memory ChunkStore. AppendChunks reads and writes
// in two separate locked steps, so concurrent appends that are not
// serialized by the caller lose updates.
type memChunkStore struct {
	mu        sync.Mutex
	data      map[string][]Chunk
	appendErr error
}

func newMemChunkStore() *memChunkStore {
	return &memChunkStore{data: make(map[string][]Chunk)}
}

func (s *memChunkStore) snapshot(collection string) []Chunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Chunk(nil), s.data[collection]...)
}

func (s *memChunkStore) AppendChunks(_ context.Context, collection string, chunks []Chunk) error {
	if s.appendErr != nil {
		return s.appendErr
	}
	cur := s.snapshot(collection)
	next := append(cur, chunks...)
	runtime.Gosched()
	s.mu.Lock()
	s.data[collection] = next
	s.mu.Unlock()
	return nil
}

func (s *memChunkStore) LoadChunks(_ context.Context, collection string, filter *Filter) ([]Chunk, error) {
	var out []Chunk
	for _, c := range s.snapshot(collection) {
		if filter.Match(c) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *memChunkStore) DeleteChunksBySource(_ context.Context, collection, sourceID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var kept []Chunk
	removed := 0
	for _, c := range s.data[collection] {
		if c.Meta.SourceID == sourceID {
			removed++
			continue
		}
		kept = append(kept, c)
	}
	s.data[collection] = kept
	return removed, nil
}

func (s *memChunkStore) ClearChunks(_ context.Context, collection string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, collection)
	return nil
}

// memParentStore is an in-memory ParentStore that records GetParents calls.
type memParentStore struct {
	mu     sync.Mutex
	data   map[string]map[string]ParentChunk
	getErr error
	gets   [][]string // id slices passed to GetParents, in order
}

func newMemParentStore() *memParentStore {
	return &memParentStore{data: make(map[string]map[string]ParentChunk)}
}

func (s *memParentStore) PutParents(_ context.Context, collection string, parents []ParentChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data[collection] == nil {
		s.data[collection] = make(map[string]ParentChunk)
	}
	for _, p := range parents {
		s.data[collection][p.ParentID] = p
	}
	return nil
}

func (s *memParentStore) GetParents(_ context.Context, collection string, ids []string) (map[string]ParentChunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	s.gets = append(s.gets, append([]string(nil), ids...))
	found := make(map[string]ParentChunk)
	for _, id := range ids {
		if p, ok := s.data[collection][id]; ok {
			found[id] = p
		}
	}
	return found, nil
}

func (s *memParentStore) DeleteParentsBySource(_ context.Context, collection, sourceID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, p := range s.data[collection] {
		if p.Meta.SourceID == sourceID {
			delete(s.data[collection], id)
			removed++
		}
	}
	return removed, nil
}

func (s *memParentStore) ClearParents(_ context.Context, collection string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, collection)
	return nil
}

func (s *memParentStore) count(collection string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data[collection])
}
