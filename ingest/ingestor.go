package ingest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/mirvand/strata"
)

// Strategy selects how documents are chunked for storage.
type Strategy int

const (
	// StrategyTwoTier stores semantic parent chunks and indexes fixed-size
	// children derived from them.
	StrategyTwoTier Strategy = iota
	// StrategyFlat stores semantic chunks directly, with no parent tier.
	StrategyFlat
)

// Result holds the outcome of one ingest operation.
type Result struct {
	SourceID string
	Parents  int
	Children int
}

// Ingestor provides end-to-end ingestion: extract, chunk, filter, store.
type Ingestor struct {
	lib        *strata.Library
	embed      strata.Embedder
	extractors map[ContentType]Extractor
	strategy   Strategy
	chunkOpts  []ChunkerOption
	tag        string
	logger     *slog.Logger

	// Contextual enrichment (optional, see WithContextualEnrichment).
	enrichLLM     strata.LLM
	enrichWorkers int
}

// New creates an Ingestor that writes through lib.
func New(lib *strata.Library, emb strata.Embedder, opts ...Option) *Ingestor {
	ing := &Ingestor{
		lib:   lib,
		embed: emb,
		extractors: map[ContentType]Extractor{
			TypePlainText: PlainTextExtractor{},
			TypeMarkdown:  MarkdownExtractor{},
			TypeHTML:      NewWebExtractor(""),
			TypePDF:       NewPDFExtractor(),
			TypeDOCX:      NewDOCXExtractor(),
			TypeCSV:       CSVExtractor{},
			TypeJSON:      JSONExtractor{},
		},
		strategy: StrategyTwoTier,
		tag:      strata.TagMaterial,
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, o := range opts {
		o(ing)
	}
	return ing
}

// IngestText ingests already-plain text under the given source identifier.
func (ing *Ingestor) IngestText(ctx context.Context, collection, text, sourceID string) (Result, error) {
	return ing.ingest(ctx, collection, ExtractResult{Text: Normalize(text)}, sourceID, string(TypePlainText))
}

// IngestFile extracts and ingests file content, detecting the content type
// from the filename extension.
func (ing *Ingestor) IngestFile(ctx context.Context, collection string, content []byte, filename string) (Result, error) {
	ext := strings.TrimPrefix(filepath.Ext(filename), ".")
	ct := ContentTypeFromExtension(ext)

	extractor, ok := ing.extractors[ct]
	if !ok {
		extractor = PlainTextExtractor{}
	}

	var res ExtractResult
	var err error
	if me, ok := extractor.(MetadataExtractor); ok {
		res, err = me.ExtractWithMeta(content)
	} else {
		res.Text, err = extractor.Extract(content)
	}
	if err != nil {
		return Result{}, fmt.Errorf("extract %s: %w", ct, err)
	}

	return ing.ingest(ctx, collection, res, filename, string(ct))
}

// IngestReader reads everything from r and ingests it, detecting the content
// type from the filename extension.
func (ing *Ingestor) IngestReader(ctx context.Context, collection string, r io.Reader, filename string) (Result, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Result{}, fmt.Errorf("read: %w", err)
	}
	return ing.IngestFile(ctx, collection, data, filename)
}

func (ing *Ingestor) ingest(ctx context.Context, collection string, ext ExtractResult, sourceID, mime string) (Result, error) {
	text := strings.TrimSpace(ext.Text)
	if text == "" {
		return Result{}, &strata.ErrNoContent{Source: sourceID, Reason: "extraction produced no text"}
	}
	if ing.strategy == StrategyFlat {
		return ing.ingestFlat(ctx, collection, text, ext.Meta, sourceID, mime)
	}
	return ing.ingestTwoTier(ctx, collection, text, ext.Meta, sourceID, mime)
}

func (ing *Ingestor) ingestTwoTier(ctx context.Context, collection, text string, metas []PageMeta, sourceID, mime string) (Result, error) {
	split, err := NewTwoTierSplitter(ing.embedFunc(), ing.chunkOpts...).Split(ctx, text)
	if err != nil {
		return Result{}, fmt.Errorf("chunk %s: %w", sourceID, err)
	}

	byParent := make(map[string][]strata.Chunk)
	for _, c := range split.Children {
		if !Meaningful(c.Content) {
			continue
		}
		byParent[c.Meta.ParentID] = append(byParent[c.Meta.ParentID], c)
	}

	base := ing.baseMeta(collection, sourceID, mime)

	var parents []strata.ParentChunk
	var children []strata.Chunk
	cursor := 0
	for _, p := range split.Parents {
		pm := metaAt(metas, cursor)
		cursor += len(p.Content) + 1

		kids := byParent[p.ParentID]
		if len(kids) == 0 {
			continue
		}

		meta := base
		meta.ChunkIndex = len(parents)
		meta.Heading = pm.Heading
		meta.Page = pm.Page
		parents = append(parents, strata.ParentChunk{ParentID: p.ParentID, Content: p.Content, Meta: meta})

		for ci, c := range kids {
			cm := base
			cm.ChunkIndex = len(children)
			cm.ParentID = p.ParentID
			cm.ParentIndex = meta.ChunkIndex
			cm.ChildIndex = ci
			cm.TotalChildren = len(kids)
			cm.Heading = pm.Heading
			cm.Page = pm.Page
			c.Meta = cm
			children = append(children, c)
		}
	}
	if len(children) == 0 {
		return Result{}, &strata.ErrNoContent{Source: sourceID, Reason: "no meaningful chunks after filtering"}
	}
	for i := range parents {
		parents[i].Meta.TotalChunks = len(parents)
	}
	for i := range children {
		children[i].Meta.TotalChunks = len(children)
	}

	enrichChunks(ctx, ing.enrichLLM, children, text, ing.enrichWorkers, ing.logger)

	if err := ing.lib.SaveSplit(ctx, collection, parents, children, ing.embed); err != nil {
		return Result{}, err
	}
	ing.logger.Debug("ingested",
		"collection", collection,
		"source", sourceID,
		"parents", len(parents),
		"children", len(children))

	return Result{SourceID: sourceID, Parents: len(parents), Children: len(children)}, nil
}

func (ing *Ingestor) ingestFlat(ctx context.Context, collection, text string, metas []PageMeta, sourceID, mime string) (Result, error) {
	texts, err := NewSemanticChunker(ing.embedFunc(), ing.chunkOpts...).ChunkContext(ctx, text)
	if err != nil {
		return Result{}, fmt.Errorf("chunk %s: %w", sourceID, err)
	}

	base := ing.baseMeta(collection, sourceID, mime)

	var chunks []strata.Chunk
	cursor := 0
	for _, t := range texts {
		pm := metaAt(metas, cursor)
		cursor += len(t) + 1
		if !Meaningful(t) {
			continue
		}
		meta := base
		meta.ChunkIndex = len(chunks)
		meta.Heading = pm.Heading
		meta.Page = pm.Page
		chunks = append(chunks, strata.Chunk{ID: strata.NewID(), Content: t, Meta: meta})
	}
	if len(chunks) == 0 {
		return Result{}, &strata.ErrNoContent{Source: sourceID, Reason: "no meaningful chunks after filtering"}
	}
	for i := range chunks {
		chunks[i].Meta.TotalChunks = len(chunks)
	}

	enrichChunks(ctx, ing.enrichLLM, chunks, text, ing.enrichWorkers, ing.logger)

	if err := ing.lib.Save(ctx, collection, chunks, ing.embed); err != nil {
		return Result{}, err
	}
	ing.logger.Debug("ingested",
		"collection", collection,
		"source", sourceID,
		"chunks", len(chunks))

	return Result{SourceID: sourceID, Children: len(chunks)}, nil
}

func (ing *Ingestor) embedFunc() EmbedFunc {
	if ing.embed == nil {
		return nil
	}
	return ing.embed.EmbedDocuments
}

func (ing *Ingestor) baseMeta(collection, sourceID, mime string) strata.ChunkMeta {
	return strata.ChunkMeta{
		Collection: collection,
		SourceID:   sourceID,
		MIME:       mime,
		Tag:        ing.tag,
		IngestedAt: strata.NowUnix(),
	}
}

// metaAt returns the page/section metadata covering byte offset off. Chunk
// offsets drift from extraction offsets as separators are rewritten, so the
// mapping is approximate near section boundaries.
func metaAt(metas []PageMeta, off int) PageMeta {
	for _, m := range metas {
		if off >= m.StartByte && off < m.EndByte {
			return m
		}
	}
	return PageMeta{}
}
