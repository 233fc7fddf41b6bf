package strata

import (
	"context"
	"fmt"
	"sort"
)

// RetrievalResult is a single ranked hit from a retriever.
type RetrievalResult struct {
	Chunk Chunk   `json:"chunk"`
	Score float64 `json:"score"`
	// ResolvedFromChild marks results where a child chunk matched the query
	// but the parent's content is returned in its place.
	ResolvedFromChild bool `json:"resolved_from_child,omitempty"`
}

// Retriever returns ranked chunks for a text query. Implementations are
// bound to one collection snapshot and a result budget at construction;
// ask the Library for a fresh retriever after writing to the collection.
type Retriever interface {
	Retrieve(ctx context.Context, query string) ([]RetrievalResult, error)
}

// Rank fusion parameters. Both rankers contribute with equal weight; the
// reciprocal-rank constant dampens the gap between neighboring ranks.
const (
	rrfK          = 60
	vectorWeight  = 0.5
	lexicalWeight = 0.5
)

// collectionIndex is the cached ranking state for one collection snapshot:
// the chunk slice both rankers reference into, the dense vector side, and
// the BM25 lexical side. Instances are immutable once built.
type collectionIndex struct {
	chunks  []Chunk
	dense   *denseIndex
	lexical *lexicalIndex
}

func buildCollectionIndex(chunks []Chunk) *collectionIndex {
	return &collectionIndex{
		chunks:  chunks,
		dense:   newDenseIndex(chunks),
		lexical: newLexicalIndex(chunks),
	}
}

// --- Hybrid retrieval ---

// hybridRetriever fuses dense vector ranking and BM25 lexical ranking over
// one collection snapshot using Reciprocal Rank Fusion.
type hybridRetriever struct {
	index *collectionIndex
	emb   Embedder
	k     int
}

var _ Retriever = (*hybridRetriever)(nil)

// Retrieve runs both rankers and fuses their rankings. An empty collection
// yields no results and no error; a failed query embedding propagates.
func (r *hybridRetriever) Retrieve(ctx context.Context, query string) ([]RetrievalResult, error) {
	if r.index == nil || len(r.index.chunks) == 0 || r.k <= 0 {
		return nil, nil
	}

	qv, err := r.emb.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	vecRefs := r.index.dense.search(qv, r.k)
	lexRefs := r.index.lexical.search(query, r.k)
	fused := reciprocalRankFusion(vecRefs, lexRefs)

	if len(fused) > r.k {
		fused = fused[:r.k]
	}
	results := make([]RetrievalResult, 0, len(fused))
	for _, ref := range fused {
		results = append(results, RetrievalResult{
			Chunk: r.index.chunks[ref.idx],
			Score: ref.score,
		})
	}
	return results, nil
}

// reciprocalRankFusion merges the two rankings into one ordered list.
// A chunk present in both rankings accumulates both contributions under a
// single entry rather than appearing twice.
func reciprocalRankFusion(vector, lexical []scoredRef) []scoredRef {
	scores := make(map[int]float64, len(vector)+len(lexical))
	for rank, ref := range vector {
		scores[ref.idx] += vectorWeight * (1.0 / float64(rrfK+rank+1))
	}
	for rank, ref := range lexical {
		scores[ref.idx] += lexicalWeight * (1.0 / float64(rrfK+rank+1))
	}

	fused := make([]scoredRef, 0, len(scores))
	for idx, score := range scores {
		fused = append(fused, scoredRef{idx: idx, score: score})
	}
	sort.Slice(fused, func(i, j int) bool {
		if fused[i].score != fused[j].score {
			return fused[i].score > fused[j].score
		}
		return fused[i].idx < fused[j].idx
	})
	return fused
}

// --- Parent resolution ---

// parentRetriever wraps a hybrid retriever that over-fetches 2k hits and
// resolves child chunks to their parents, emitting at most one result per
// parent even when several of its children matched. Children without a
// ParentID (data ingested before two-tier splitting existed) and children
// whose parent is missing pass through verbatim and count toward k the same
// way a resolved parent does.
type parentRetriever struct {
	inner      Retriever
	parents    ParentStore
	collection string
	k          int
}

var _ Retriever = (*parentRetriever)(nil)

func (r *parentRetriever) Retrieve(ctx context.Context, query string) ([]RetrievalResult, error) {
	hits, err := r.inner.Retrieve(ctx, query)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return nil, nil
	}

	// Distinct parent IDs in first-seen order, then one batched load.
	var ids []string
	seen := make(map[string]bool)
	for _, h := range hits {
		if pid := h.Chunk.Meta.ParentID; pid != "" && !seen[pid] {
			seen[pid] = true
			ids = append(ids, pid)
		}
	}
	loaded := map[string]ParentChunk{}
	if len(ids) > 0 {
		loaded, err = r.parents.GetParents(ctx, r.collection, ids)
		if err != nil {
			return nil, fmt.Errorf("load parents: %w", err)
		}
	}

	emitted := make(map[string]bool)
	results := make([]RetrievalResult, 0, r.k)
	for _, h := range hits {
		if len(results) >= r.k {
			break
		}
		pid := h.Chunk.Meta.ParentID
		if pid == "" {
			results = append(results, h)
			continue
		}
		if emitted[pid] {
			continue
		}
		emitted[pid] = true

		p, ok := loaded[pid]
		if !ok {
			// Parent lost; the child itself still carries usable content.
			results = append(results, h)
			continue
		}
		results = append(results, RetrievalResult{
			Chunk:             Chunk{ID: p.ParentID, Content: p.Content, Meta: p.Meta},
			Score:             h.Score,
			ResolvedFromChild: true,
		})
	}
	return results, nil
}
