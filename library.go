package strata

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// maxEmbedBatch caps the number of texts sent per embedding call. Batches
// within one save run sequentially to respect upstream rate limits.
const maxEmbedBatch = 512

// Library coordinates chunk and parent persistence for named collections.
// It owns the per-collection write lock, vectorizes chunks on save, and
// keeps the retriever registry coherent with every mutation.
//
// Mutations on one collection are serialized; different collections proceed
// fully in parallel. Reads are not locked: a read may observe a state just
// before or after an in-flight write but never a torn write, because the
// flat-file backend replaces files atomically.
type Library struct {
	chunks        ChunkStore
	parents       ParentStore
	registry      *Registry
	locks         *KeyedMutex
	logger        *slog.Logger
	embedBatch    int
	parentContext bool
}

// LibraryOption configures a Library.
type LibraryOption func(*Library)

// WithLogger sets the structured logger. Defaults to a no-op logger.
func WithLogger(l *slog.Logger) LibraryOption {
	return func(lib *Library) { lib.logger = l }
}

// WithEmbedBatchSize overrides the embedding batch size (default 512).
func WithEmbedBatchSize(n int) LibraryOption {
	return func(lib *Library) {
		if n > 0 {
			lib.embedBatch = n
		}
	}
}

// WithFlatRetrieval disables parent resolution: RetrieverWithParents then
// delegates directly to the hybrid retriever. Use when collections were
// ingested without two-tier splitting.
func WithFlatRetrieval() LibraryOption {
	return func(lib *Library) { lib.parentContext = false }
}

// nopLogger is a logger that discards all output. Used when WithLogger is not set.
var nopLogger = slog.New(slog.DiscardHandler)

// NewLibrary creates a Library over the given backends. The registry must
// not be shared with another Library writing to the same backends.
func NewLibrary(chunks ChunkStore, parents ParentStore, registry *Registry, opts ...LibraryOption) *Library {
	lib := &Library{
		chunks:        chunks,
		parents:       parents,
		registry:      registry,
		locks:         NewKeyedMutex(),
		logger:        nopLogger,
		embedBatch:    maxEmbedBatch,
		parentContext: true,
	}
	for _, opt := range opts {
		opt(lib)
	}
	return lib
}

// Save embeds any chunks lacking vectors and appends them to the collection.
// The cached retriever index for the collection is invalidated.
func (lib *Library) Save(ctx context.Context, collection string, chunks []Chunk, emb Embedder) error {
	if len(chunks) == 0 {
		return nil
	}
	start := time.Now()
	if err := lib.embedMissing(ctx, chunks, emb); err != nil {
		return err
	}

	release, err := lib.locks.Lock(ctx, collection)
	if err != nil {
		return err
	}
	defer release()

	if err := lib.chunks.AppendChunks(ctx, collection, chunks); err != nil {
		return fmt.Errorf("append chunks: %w", err)
	}
	lib.registry.Invalidate(collection)
	lib.logger.Debug("chunks saved", "collection", collection, "count", len(chunks), "duration", time.Since(start))
	return nil
}

// SaveSplit stores the output of two-tier splitting: parents into the
// parent store and children (embedded) into the chunk store, all under one
// lock scope so retrieval never sees children without their parents.
func (lib *Library) SaveSplit(ctx context.Context, collection string, parents []ParentChunk, children []Chunk, emb Embedder) error {
	if len(parents) == 0 && len(children) == 0 {
		return nil
	}
	start := time.Now()
	if err := lib.embedMissing(ctx, children, emb); err != nil {
		return err
	}

	release, err := lib.locks.Lock(ctx, collection)
	if err != nil {
		return err
	}
	defer release()

	if len(parents) > 0 {
		if err := lib.parents.PutParents(ctx, collection, parents); err != nil {
			return fmt.Errorf("put parents: %w", err)
		}
	}
	if len(children) > 0 {
		if err := lib.chunks.AppendChunks(ctx, collection, children); err != nil {
			return fmt.Errorf("append chunks: %w", err)
		}
	}
	lib.registry.Invalidate(collection)
	lib.logger.Debug("split saved", "collection", collection,
		"parents", len(parents), "children", len(children), "duration", time.Since(start))
	return nil
}

// DeleteBySource removes every chunk and parent whose SourceID matches.
func (lib *Library) DeleteBySource(ctx context.Context, collection, sourceID string) error {
	start := time.Now()
	release, err := lib.locks.Lock(ctx, collection)
	if err != nil {
		return err
	}
	defer release()

	nc, err := lib.chunks.DeleteChunksBySource(ctx, collection, sourceID)
	if err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	np, err := lib.parents.DeleteParentsBySource(ctx, collection, sourceID)
	if err != nil {
		return fmt.Errorf("delete parents: %w", err)
	}
	lib.registry.Invalidate(collection)
	lib.logger.Debug("source deleted", "collection", collection, "source", sourceID,
		"chunks", nc, "parents", np, "duration", time.Since(start))
	return nil
}

// Clear empties the collection and its parent store.
func (lib *Library) Clear(ctx context.Context, collection string) error {
	release, err := lib.locks.Lock(ctx, collection)
	if err != nil {
		return err
	}
	defer release()

	if err := lib.chunks.ClearChunks(ctx, collection); err != nil {
		return fmt.Errorf("clear chunks: %w", err)
	}
	if err := lib.parents.ClearParents(ctx, collection); err != nil {
		return fmt.Errorf("clear parents: %w", err)
	}
	lib.registry.Invalidate(collection)
	lib.logger.Debug("collection cleared", "collection", collection)
	return nil
}

// GetAll returns the collection's chunks, optionally filtered to a source
// whitelist. Reads are not serialized against writers.
func (lib *Library) GetAll(ctx context.Context, collection string, filter *Filter) ([]Chunk, error) {
	return lib.chunks.LoadChunks(ctx, collection, filter)
}

// Retriever returns a hybrid retriever over the collection with a budget of
// k results. The underlying index is cached until the next mutation.
func (lib *Library) Retriever(ctx context.Context, collection string, emb Embedder, k int) (Retriever, error) {
	idx, err := lib.index(ctx, collection)
	if err != nil {
		return nil, err
	}
	return &hybridRetriever{index: idx, emb: emb, k: k}, nil
}

// RetrieverWithParents returns a retriever that expands child hits to their
// parent context. It over-fetches 2k hybrid hits to survive parent
// deduplication. With flat retrieval configured it behaves like Retriever.
func (lib *Library) RetrieverWithParents(ctx context.Context, collection string, emb Embedder, k int) (Retriever, error) {
	if !lib.parentContext {
		return lib.Retriever(ctx, collection, emb, k)
	}
	idx, err := lib.index(ctx, collection)
	if err != nil {
		return nil, err
	}
	inner := &hybridRetriever{index: idx, emb: emb, k: 2 * k}
	return &parentRetriever{inner: inner, parents: lib.parents, collection: collection, k: k}, nil
}

// index returns the cached collection index, building it on miss.
func (lib *Library) index(ctx context.Context, collection string) (*collectionIndex, error) {
	if idx := lib.registry.get(collection); idx != nil {
		return idx, nil
	}
	start := time.Now()
	chunks, err := lib.chunks.LoadChunks(ctx, collection, nil)
	if err != nil {
		return nil, fmt.Errorf("load chunks: %w", err)
	}
	idx := buildCollectionIndex(chunks)
	lib.registry.put(collection, idx)
	lib.logger.Debug("index built", "collection", collection, "chunks", len(chunks), "duration", time.Since(start))
	return idx, nil
}

// embedMissing fills in vectors for chunks that lack one, in sequential
// batches of at most embedBatch texts. Embedding failures propagate.
func (lib *Library) embedMissing(ctx context.Context, chunks []Chunk, emb Embedder) error {
	var todo []int
	for i := range chunks {
		if len(chunks[i].Embedding) == 0 {
			todo = append(todo, i)
		}
	}
	if len(todo) == 0 {
		return nil
	}
	if emb == nil {
		return fmt.Errorf("embed chunks: no embedder supplied")
	}

	for lo := 0; lo < len(todo); lo += lib.embedBatch {
		hi := min(lo+lib.embedBatch, len(todo))
		texts := make([]string, 0, hi-lo)
		for _, j := range todo[lo:hi] {
			texts = append(texts, chunks[j].Content)
		}
		vecs, err := emb.EmbedDocuments(ctx, texts)
		if err != nil {
			return fmt.Errorf("embed chunks: %w", err)
		}
		if len(vecs) != len(texts) {
			return fmt.Errorf("embed chunks: got %d vectors for %d texts", len(vecs), len(texts))
		}
		for n, j := range todo[lo:hi] {
			chunks[j].Embedding = vecs[n]
		}
	}
	return nil
}
