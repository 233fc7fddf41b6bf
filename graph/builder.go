// Package graph builds per-subject concept graphs from stored chunks using
// an LLM extractor.
//
// The Builder reads chunks from a collection store, asks the LLM to extract
// concepts and relationships in batches, merges the result into the
// subject's persisted graph, and consolidates when the graph outgrows its
// size caps. Extraction is best-effort: a failed batch contributes nothing
// and is reported in the Result rather than aborting the run.
package graph

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/mirvand/strata"
)

const (
	defaultBatchSize = 10

	minNodeCap   = 30
	nodesPerFile = 15
	minEdgeCap   = 90
	edgesPerFile = 45
)

// ChunkSource provides read access to stored chunks. *strata.Library and
// every store backend satisfy it.
type ChunkSource interface {
	LoadChunks(ctx context.Context, collection string, filter *strata.Filter) ([]strata.Chunk, error)
}

// Builder maintains one concept graph per subject. Expand and Rebuild runs
// on the same subject are serialized; different subjects proceed
// concurrently.
type Builder struct {
	chunks    ChunkSource
	graphs    strata.GraphStore
	locks     *strata.KeyedMutex
	logger    *slog.Logger
	batchSize int
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(logger *slog.Logger) BuilderOption {
	return func(b *Builder) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithBatchSize overrides how many chunks are sent per extraction call.
func WithBatchSize(n int) BuilderOption {
	return func(b *Builder) {
		if n > 0 {
			b.batchSize = n
		}
	}
}

var nopLogger = slog.New(slog.DiscardHandler)

// NewBuilder creates a Builder on top of a chunk source and a graph store.
func NewBuilder(chunks ChunkSource, graphs strata.GraphStore, opts ...BuilderOption) *Builder {
	b := &Builder{
		chunks:    chunks,
		graphs:    graphs,
		locks:     strata.NewKeyedMutex(),
		logger:    nopLogger,
		batchSize: defaultBatchSize,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// BatchError records one extraction batch that contributed nothing.
type BatchError struct {
	Batch  int
	Reason string
}

// Result describes one Expand or Rebuild run.
type Result struct {
	// Graph is the graph as persisted after the run.
	Graph strata.Graph
	// Batches is the number of extraction batches attempted.
	Batches int
	// Failed lists the batches whose extraction was discarded.
	Failed []BatchError
	// Bridged is the number of edges added by the bridging pass.
	Bridged int
	// Consolidated reports whether the node cap triggered consolidation.
	Consolidated bool
}

// Expand grows the subject's graph with concepts extracted from the chunks
// of the given source files. Concepts whose normalized labels match existing
// nodes merge into them. A second LLM pass proposes cross-links between the
// new concepts and the pre-existing ones.
func (b *Builder) Expand(ctx context.Context, subjectID string, sourceIDs []string, llm strata.LLM) (Result, error) {
	release, err := b.locks.Lock(ctx, subjectID)
	if err != nil {
		return Result{}, err
	}
	defer release()

	existing, _, err := b.graphs.GetGraph(ctx, subjectID)
	if err != nil {
		return Result{}, fmt.Errorf("graph: load graph %s: %w", subjectID, err)
	}

	var filter *strata.Filter
	if len(sourceIDs) > 0 {
		filter = &strata.Filter{SourceIDs: sourceIDs}
	}
	chunks, err := b.chunks.LoadChunks(ctx, subjectID, filter)
	if err != nil {
		return Result{}, fmt.Errorf("graph: load chunks %s: %w", subjectID, err)
	}

	return b.build(ctx, subjectID, existing, chunks, llm)
}

// Rebuild discards the subject's graph and re-extracts it from every stored
// chunk.
func (b *Builder) Rebuild(ctx context.Context, subjectID string, llm strata.LLM) (Result, error) {
	release, err := b.locks.Lock(ctx, subjectID)
	if err != nil {
		return Result{}, err
	}
	defer release()

	chunks, err := b.chunks.LoadChunks(ctx, subjectID, nil)
	if err != nil {
		return Result{}, fmt.Errorf("graph: load chunks %s: %w", subjectID, err)
	}

	return b.build(ctx, subjectID, strata.Graph{}, chunks, llm)
}

func (b *Builder) build(ctx context.Context, subjectID string, existing strata.Graph, chunks []strata.Chunk, llm strata.LLM) (Result, error) {
	start := time.Now()

	w := newWorkGraph(existing)
	preExisting := w.nodeIDs()

	var res Result
	for i := 0; i < len(chunks); i += b.batchSize {
		end := min(i+b.batchSize, len(chunks))
		batch := chunks[i:end]
		batchIdx := res.Batches
		res.Batches++

		ex, err := extractBatch(ctx, llm, batch)
		if err != nil {
			b.logger.Warn("graph batch failed",
				"subject", subjectID, "batch", batchIdx, "error", err)
			res.Failed = append(res.Failed, BatchError{Batch: batchIdx, Reason: err.Error()})
			continue
		}
		allowed, fallback := batchFiles(batch)
		w.addExtraction(ex, allowed, fallback)
	}

	fresh := w.nodesNotIn(preExisting)
	if len(fresh) > 0 && len(preExisting) > 0 {
		rels, err := proposeBridges(ctx, llm, fresh, w.nodesIn(preExisting))
		if err != nil {
			b.logger.Warn("graph bridging failed", "subject", subjectID, "error", err)
		} else {
			res.Bridged = w.addBridges(rels, preExisting)
		}
	}

	files := w.distinctFiles()
	nodeCap := max(minNodeCap, nodesPerFile*len(files))
	edgeCap := max(minEdgeCap, edgesPerFile*len(files))
	if w.len() > nodeCap {
		res.Consolidated = true
		ex, err := consolidateGraph(ctx, llm, w.snapshot(), nodeCap)
		if err != nil {
			b.logger.Warn("graph consolidation failed, trimming by importance",
				"subject", subjectID, "error", err)
		} else {
			cg := newWorkGraph(strata.Graph{})
			cg.addExtraction(ex, files, nil)
			if cg.len() > 0 {
				w = cg
			}
		}
		w.trimNodesByImportance(nodeCap)
	}
	w.trimEdgesByWeight(edgeCap)

	final := w.snapshot()
	final.GeneratedAt = strata.NowUnix()
	final.SourceCount = len(w.distinctFiles())
	if err := b.graphs.PutGraph(ctx, subjectID, final); err != nil {
		return Result{}, fmt.Errorf("graph: store graph %s: %w", subjectID, err)
	}
	res.Graph = final

	b.logger.Debug("graph build complete",
		"subject", subjectID,
		"nodes", len(final.Nodes),
		"edges", len(final.Edges),
		"batches", res.Batches,
		"failed", len(res.Failed),
		"duration", time.Since(start))
	return res, nil
}

// LinkedSourceFiles returns the source files attributed to nodes one hop
// away from nodes carrying any of the given files, excluding the given
// files themselves. An absent graph yields no links.
func (b *Builder) LinkedSourceFiles(ctx context.Context, subjectID string, sourceFiles []string) ([]string, error) {
	g, ok, err := b.graphs.GetGraph(ctx, subjectID)
	if err != nil {
		return nil, fmt.Errorf("graph: load graph %s: %w", subjectID, err)
	}
	if !ok {
		return nil, nil
	}

	in := make(map[string]bool, len(sourceFiles))
	for _, f := range sourceFiles {
		in[f] = true
	}

	seeds := make(map[string]bool)
	for _, n := range g.Nodes {
		for _, s := range n.Sources {
			if in[s.File] {
				seeds[n.ID] = true
				break
			}
		}
	}
	if len(seeds) == 0 {
		return nil, nil
	}

	neighbors := make(map[string]bool)
	for _, e := range g.Edges {
		if seeds[e.Source] {
			neighbors[e.Target] = true
		}
		if seeds[e.Target] {
			neighbors[e.Source] = true
		}
	}

	linked := make(map[string]bool)
	for _, n := range g.Nodes {
		if !neighbors[n.ID] {
			continue
		}
		for _, s := range n.Sources {
			if !in[s.File] {
				linked[s.File] = true
			}
		}
	}

	files := make([]string, 0, len(linked))
	for f := range linked {
		files = append(files, f)
	}
	sort.Strings(files)
	return files, nil
}

// batchFiles collects the distinct source files of a batch: the allowed set
// for validating LLM attributions and the fallback refs for concepts the
// model left unattributed.
func batchFiles(batch []strata.Chunk) (map[string]bool, []strata.SourceRef) {
	allowed := make(map[string]bool, len(batch))
	var fallback []strata.SourceRef
	for _, c := range batch {
		if !allowed[c.Meta.SourceID] {
			allowed[c.Meta.SourceID] = true
			fallback = append(fallback, strata.SourceRef{File: c.Meta.SourceID})
		}
	}
	return allowed, fallback
}
