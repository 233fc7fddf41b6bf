package strata

import (
	"sort"

	"github.com/viant/vec/search"
)

// denseIndex is an in-memory vector index over one collection's chunks.
// Scoring is brute-force cosine similarity with precomputed magnitudes,
// using SIMD-accelerated ops where the platform supports them.
type denseIndex struct {
	vectors []search.Float32s
	mags    []float32
}

// newDenseIndex precomputes magnitudes for the chunk snapshot. Chunks
// without an embedding keep a zero magnitude and never score above 0.
func newDenseIndex(chunks []Chunk) *denseIndex {
	ix := &denseIndex{
		vectors: make([]search.Float32s, len(chunks)),
		mags:    make([]float32, len(chunks)),
	}
	for i, c := range chunks {
		v := search.Float32s(c.Embedding)
		ix.vectors[i] = v
		if len(v) > 0 {
			ix.mags[i] = v.Magnitude()
		}
	}
	return ix
}

// search returns up to k chunk references ranked by cosine similarity.
// Similarity is 0 when either vector has zero norm or dimensions differ.
func (ix *denseIndex) search(query []float32, k int) []scoredRef {
	if len(ix.vectors) == 0 || len(query) == 0 {
		return nil
	}
	q := search.Float32s(query)
	qm := q.Magnitude()

	refs := make([]scoredRef, 0, len(ix.vectors))
	for i, v := range ix.vectors {
		var sim float64
		if qm != 0 && ix.mags[i] != 0 && len(v) == len(query) {
			sim = 1 - float64(q.CosineDistanceWithMagnitudesNeon(v, qm, ix.mags[i]))
		}
		refs = append(refs, scoredRef{idx: i, score: sim})
	}

	sort.Slice(refs, func(i, j int) bool {
		if refs[i].score != refs[j].score {
			return refs[i].score > refs[j].score
		}
		return refs[i].idx < refs[j].idx
	})

	if len(refs) > k {
		refs = refs[:k]
	}
	return refs
}
