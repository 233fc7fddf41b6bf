package strata

import "sync"

// Registry caches the retriever index built for each collection until a
// write invalidates it. It replaces module-level cache maps: construct one
// at startup and hand it to the Library so cache ownership stays explicit.
//
// Cached indexes are immutable snapshots. A reader holding a stale index
// simply finishes its query on pre-invalidation data; invalidation is
// last-write-wins.
type Registry struct {
	mu      sync.RWMutex
	indexes map[string]*collectionIndex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{indexes: make(map[string]*collectionIndex)}
}

func (r *Registry) get(collection string) *collectionIndex {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.indexes[collection]
}

func (r *Registry) put(collection string, idx *collectionIndex) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.indexes[collection] = idx
}

// Invalidate drops the cached index for collection. The next retrieval
// rebuilds from the backing store.
func (r *Registry) Invalidate(collection string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.indexes, collection)
}
