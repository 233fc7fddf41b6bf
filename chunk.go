package strata

// Source classification tags carried in chunk metadata.
const (
	TagMaterial = "material"
	TagExercise = "exercise"
	TagWeb      = "web"
)

// ChunkMeta carries per-chunk bookkeeping. ChunkIndex/TotalChunks cover the
// whole owning document; the parent fields are set only on chunks produced
// by two-tier splitting.
type ChunkMeta struct {
	Collection    string `json:"collection"`
	SourceID      string `json:"source_id"`
	MIME          string `json:"mime,omitempty"`
	Tag           string `json:"tag,omitempty"`
	IngestedAt    int64  `json:"ingested_at,omitempty"`
	ChunkIndex    int    `json:"chunk_index"`
	TotalChunks   int    `json:"total_chunks"`
	Page          int    `json:"page,omitempty"`
	Heading       string `json:"heading,omitempty"`
	ParentID      string `json:"parent_id,omitempty"`
	ParentIndex   int    `json:"parent_index,omitempty"`
	ChildIndex    int    `json:"child_index,omitempty"`
	TotalChildren int    `json:"total_children,omitempty"`
}

// Chunk is the atomic unit of retrieval: a stored span of text plus its
// metadata and embedding. Chunks are immutable once stored.
type Chunk struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Meta      ChunkMeta `json:"meta"`
	Embedding []float32 `json:"embedding,omitempty"`
}

// ParentChunk is the larger context window a child chunk resolves to during
// retrieval. Parents live outside the searchable index and carry no
// embedding; children reference them by ParentID but remain retrievable
// when the parent is missing.
type ParentChunk struct {
	ParentID string    `json:"parent_id"`
	Content  string    `json:"content"`
	Meta     ChunkMeta `json:"meta"`
}

// Filter narrows chunk reads to a whitelist of source identifiers.
// A nil filter or an empty whitelist matches every chunk.
type Filter struct {
	SourceIDs []string
}

// Match reports whether the chunk passes the filter.
func (f *Filter) Match(c Chunk) bool {
	if f == nil || len(f.SourceIDs) == 0 {
		return true
	}
	for _, id := range f.SourceIDs {
		if c.Meta.SourceID == id {
			return true
		}
	}
	return false
}
