package ingest

import (
	"context"
	"strings"
	"unicode/utf8"
)

// Chunker splits text into chunks without calling external services.
type Chunker interface {
	Chunk(text string) []string
}

// ContextChunker splits text with the help of external services (embedding
// APIs). Failures from those services propagate to the caller.
type ContextChunker interface {
	ChunkContext(ctx context.Context, text string) ([]string, error)
}

// EmbedFunc embeds texts into vectors. It matches the
// strata.Embedder.EmbedDocuments signature so the method value can be passed
// directly.
type EmbedFunc func(ctx context.Context, texts []string) ([][]float32, error)

// Fallback splitter geometry, used when a segment is too short for semantic
// scoring and when oversized semantic chunks need re-splitting.
const (
	fallbackChunkSize = 1024
	fallbackOverlap   = 128
)

// ChunkerOption configures chunker construction.
type ChunkerOption func(*chunkerConfig)

type chunkerConfig struct {
	minChunk     int
	maxChunk     int
	bufferSize   int
	percentile   int
	childSize    int
	childOverlap int
}

func defaultChunkerConfig() chunkerConfig {
	return chunkerConfig{
		minChunk:     100,
		maxChunk:     2000,
		bufferSize:   3,
		percentile:   25,
		childSize:    512,
		childOverlap: 64,
	}
}

// WithMinChunk sets the minimum chunk length in bytes. Semantic chunks
// shorter than this are merged with their neighbors.
func WithMinChunk(n int) ChunkerOption {
	return func(c *chunkerConfig) { c.minChunk = n }
}

// WithMaxChunk sets the maximum chunk length in bytes. Larger chunks are
// re-split with the fixed-size fallback splitter.
func WithMaxChunk(n int) ChunkerOption {
	return func(c *chunkerConfig) { c.maxChunk = n }
}

// WithBufferSize sets the width, in sentences, of the sliding window used
// for similarity scoring.
func WithBufferSize(n int) ChunkerOption {
	return func(c *chunkerConfig) {
		if n > 0 {
			c.bufferSize = n
		}
	}
}

// WithBreakpointPercentile sets the similarity percentile below which a
// sentence gap becomes a chunk boundary. Lower values split less.
func WithBreakpointPercentile(p int) ChunkerOption {
	return func(c *chunkerConfig) { c.percentile = p }
}

// WithChildSize sets the maximum child chunk length in bytes for two-tier
// splitting.
func WithChildSize(n int) ChunkerOption {
	return func(c *chunkerConfig) {
		if n > 0 {
			c.childSize = n
		}
	}
}

// WithChildOverlap sets the overlap in bytes between sibling child chunks.
func WithChildOverlap(n int) ChunkerOption {
	return func(c *chunkerConfig) {
		if n >= 0 {
			c.childOverlap = n
		}
	}
}

// --- RecursiveChunker ---

// RecursiveChunker splits text by paragraph, then sentence, then word
// boundaries into fixed-size chunks with configurable overlap.
type RecursiveChunker struct {
	size    int
	overlap int
}

var _ Chunker = (*RecursiveChunker)(nil)

// NewRecursiveChunker creates a fixed-size splitter. size and overlap are in
// bytes; an overlap that would not fit inside a chunk is scaled down.
func NewRecursiveChunker(size, overlap int) *RecursiveChunker {
	if size <= 0 {
		size = fallbackChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = size / 8
	}
	return &RecursiveChunker{size: size, overlap: overlap}
}

// Chunk splits text into chunks of at most the configured size.
func (rc *RecursiveChunker) Chunk(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len(text) <= rc.size {
		return []string{text}
	}
	return rc.merge(rc.split(text))
}

// split breaks text into pieces no larger than rc.size, preferring paragraph
// boundaries, then sentence boundaries, then word boundaries.
func (rc *RecursiveChunker) split(text string) []string {
	var parts []string
	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if len(para) <= rc.size {
			parts = append(parts, para)
			continue
		}
		parts = append(parts, rc.packSentences(para)...)
	}
	return parts
}

func (rc *RecursiveChunker) packSentences(text string) []string {
	var out []string
	var buf strings.Builder
	flush := func() {
		if buf.Len() > 0 {
			out = append(out, buf.String())
			buf.Reset()
		}
	}

	for _, s := range splitSentences(text) {
		if len(s) > rc.size {
			flush()
			out = append(out, rc.packWords(s)...)
			continue
		}
		if buf.Len() > 0 && buf.Len()+1+len(s) > rc.size {
			flush()
		}
		if buf.Len() > 0 {
			buf.WriteByte(' ')
		}
		buf.WriteString(s)
	}
	flush()
	return out
}

func (rc *RecursiveChunker) packWords(text string) []string {
	var out []string
	var buf strings.Builder
	flush := func() {
		if buf.Len() > 0 {
			out = append(out, buf.String())
			buf.Reset()
		}
	}

	for _, word := range strings.Fields(text) {
		for len(word) > rc.size {
			flush()
			cut := rc.size
			for cut > 0 && !utf8.RuneStart(word[cut]) {
				cut--
			}
			if cut == 0 {
				cut = rc.size
			}
			out = append(out, word[:cut])
			word = word[cut:]
		}
		if word == "" {
			continue
		}
		if buf.Len() > 0 && buf.Len()+1+len(word) > rc.size {
			flush()
		}
		if buf.Len() > 0 {
			buf.WriteByte(' ')
		}
		buf.WriteString(word)
	}
	flush()
	return out
}

// merge packs split pieces back into chunks close to rc.size, carrying an
// overlap suffix from each emitted chunk into the next.
func (rc *RecursiveChunker) merge(parts []string) []string {
	var chunks []string
	var buf strings.Builder

	for _, p := range parts {
		needed := len(p)
		if buf.Len() > 0 {
			needed = buf.Len() + 1 + len(p)
		}
		if needed <= rc.size {
			if buf.Len() > 0 {
				buf.WriteByte('\n')
			}
			buf.WriteString(p)
			continue
		}

		if buf.Len() > 0 {
			chunk := buf.String()
			chunks = append(chunks, chunk)
			buf.Reset()
			if tail := rc.overlapTail(chunk); tail != "" && len(tail)+1+len(p) <= rc.size {
				buf.WriteString(tail)
				buf.WriteByte('\n')
			}
		}
		buf.WriteString(p)
	}
	if buf.Len() > 0 {
		chunks = append(chunks, buf.String())
	}
	return chunks
}

// overlapTail returns the last rc.overlap bytes of a chunk, trimmed to a
// word boundary.
func (rc *RecursiveChunker) overlapTail(chunk string) string {
	if rc.overlap <= 0 {
		return ""
	}
	if len(chunk) <= rc.overlap {
		return chunk
	}
	tail := chunk[len(chunk)-rc.overlap:]
	if i := strings.IndexByte(tail, ' '); i >= 0 {
		tail = tail[i+1:]
	}
	return strings.TrimSpace(tail)
}
