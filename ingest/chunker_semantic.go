package ingest

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
)

// Window embedding batches are capped to bound request payloads; batches run
// sequentially to respect upstream rate limits.
const embedWindowBatch = 512

// minSentencesForScoring is the floor below which similarity scoring is
// unreliable and the fixed-size fallback takes over.
const minSentencesForScoring = 5

// SemanticChunker splits text at topic shifts. It embeds a sliding window of
// sentences around each position and cuts wherever the similarity between
// consecutive windows drops below a percentile-derived threshold.
type SemanticChunker struct {
	embed      EmbedFunc
	minChunk   int
	maxChunk   int
	bufferSize int
	percentile int
	fallback   *RecursiveChunker
}

var _ ContextChunker = (*SemanticChunker)(nil)

// NewSemanticChunker creates a semantic splitter backed by embed. Pass a
// strata.Embedder's EmbedDocuments method value.
func NewSemanticChunker(embed EmbedFunc, opts ...ChunkerOption) *SemanticChunker {
	cfg := defaultChunkerConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &SemanticChunker{
		embed:      embed,
		minChunk:   cfg.minChunk,
		maxChunk:   cfg.maxChunk,
		bufferSize: cfg.bufferSize,
		percentile: cfg.percentile,
		fallback:   NewRecursiveChunker(fallbackChunkSize, fallbackOverlap),
	}
}

// ChunkContext splits text into semantically coherent chunks. Structural
// boundaries (headings, horizontal rules, code fences) are never crossed.
// Embedding failures propagate.
func (sc *SemanticChunker) ChunkContext(ctx context.Context, text string) ([]string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}

	var chunks []string
	for _, segment := range structuralSegments(text) {
		segChunks, err := sc.chunkSegment(ctx, segment)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, segChunks...)
	}
	return chunks, nil
}

func (sc *SemanticChunker) chunkSegment(ctx context.Context, segment string) ([]string, error) {
	sentences := splitSentences(segment)
	if len(sentences) < minSentencesForScoring {
		return sc.fallback.Chunk(segment), nil
	}

	sims, err := sc.windowSimilarities(ctx, sentences)
	if err != nil {
		return nil, err
	}
	threshold := percentileRank(sims, sc.percentile)

	var chunks []string
	start := 0
	for i, sim := range sims {
		if sim < threshold {
			chunks = append(chunks, strings.Join(sentences[start:i+1], " "))
			start = i + 1
		}
	}
	if start < len(sentences) {
		chunks = append(chunks, strings.Join(sentences[start:], " "))
	}

	return sc.enforceBounds(chunks), nil
}

// windowSimilarities embeds a bufferSize-wide window around each sentence
// and returns cosine similarities between consecutive windows.
func (sc *SemanticChunker) windowSimilarities(ctx context.Context, sentences []string) ([]float64, error) {
	if sc.embed == nil {
		return nil, fmt.Errorf("semantic chunking: no embedder supplied")
	}

	n := len(sentences)
	windows := make([]string, n)
	for i := range sentences {
		start := i - (sc.bufferSize-1)/2
		if start < 0 {
			start = 0
		}
		end := start + sc.bufferSize
		if end > n {
			end = n
		}
		windows[i] = strings.Join(sentences[start:end], " ")
	}

	vectors := make([][]float32, 0, n)
	for start := 0; start < n; start += embedWindowBatch {
		end := min(start+embedWindowBatch, n)
		batch, err := sc.embed(ctx, windows[start:end])
		if err != nil {
			return nil, fmt.Errorf("embed windows: %w", err)
		}
		if len(batch) != end-start {
			return nil, fmt.Errorf("embed windows: got %d vectors for %d texts", len(batch), end-start)
		}
		vectors = append(vectors, batch...)
	}

	sims := make([]float64, n-1)
	for i := 0; i < n-1; i++ {
		sims[i] = cosineSimilarity(vectors[i], vectors[i+1])
	}
	return sims, nil
}

// cosineSimilarity is dot(a,b)/(|a|*|b|), 0 when either norm is zero or the
// dimensions differ.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// percentileRank returns the p-th percentile of values by the nearest-rank
// method: sort ascending, take index floor(p/100*n) clamped to the ends.
func percentileRank(values []float64, p int) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	idx := p * len(sorted) / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	if idx < 0 {
		idx = 0
	}
	return sorted[idx]
}

// enforceBounds merges runs of short chunks until they reach minChunk,
// attaches a short tail to the previous chunk, and re-splits anything over
// maxChunk.
func (sc *SemanticChunker) enforceBounds(chunks []string) []string {
	var merged []string
	var buf strings.Builder
	for _, c := range chunks {
		if buf.Len() > 0 {
			buf.WriteByte(' ')
		}
		buf.WriteString(c)
		if buf.Len() >= sc.minChunk {
			merged = append(merged, buf.String())
			buf.Reset()
		}
	}
	if buf.Len() > 0 {
		if len(merged) > 0 {
			merged[len(merged)-1] += " " + buf.String()
		} else {
			merged = append(merged, buf.String())
		}
	}

	resplit := NewRecursiveChunker(sc.maxChunk, fallbackOverlap)
	var out []string
	for _, c := range merged {
		if len(c) > sc.maxChunk {
			out = append(out, resplit.Chunk(c)...)
			continue
		}
		out = append(out, c)
	}
	return out
}
