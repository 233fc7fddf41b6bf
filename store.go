package strata

import "context"

// ChunkStore is the persistence backend for searchable chunks, keyed by
// collection. The flat-file implementation rewrites the whole collection
// per append; engine-backed implementations insert incrementally. Callers
// must not assume either: the Library serializes writes per collection.
type ChunkStore interface {
	// AppendChunks adds chunks to the collection.
	AppendChunks(ctx context.Context, collection string, chunks []Chunk) error
	// LoadChunks returns the collection's chunks, optionally filtered.
	LoadChunks(ctx context.Context, collection string, filter *Filter) ([]Chunk, error)
	// DeleteChunksBySource removes chunks whose SourceID matches.
	// Returns the number removed.
	DeleteChunksBySource(ctx context.Context, collection, sourceID string) (int, error)
	// ClearChunks empties the collection.
	ClearChunks(ctx context.Context, collection string) error
}

// ParentStore is the persistence backend for parent chunks, keyed by
// collection and parent identifier.
type ParentStore interface {
	// PutParents stores parents, replacing any with the same ParentID.
	PutParents(ctx context.Context, collection string, parents []ParentChunk) error
	// GetParents returns the parents found for the given IDs. Missing IDs
	// are absent from the map, not an error.
	GetParents(ctx context.Context, collection string, ids []string) (map[string]ParentChunk, error)
	// DeleteParentsBySource removes parents whose SourceID matches.
	// Returns the number removed.
	DeleteParentsBySource(ctx context.Context, collection, sourceID string) (int, error)
	// ClearParents empties the collection's parent set.
	ClearParents(ctx context.Context, collection string) error
}
