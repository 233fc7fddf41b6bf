package ingest

import (
	"context"

	"github.com/mirvand/strata"
)

// SplitResult pairs the parent chunks of a document with the child chunks
// derived from them.
type SplitResult struct {
	Parents  []strata.ParentChunk
	Children []strata.Chunk
}

// TwoTierSplitter produces semantic parent chunks and derives smaller child
// chunks from each. Children are sized for precise vector matching; parents
// keep the surrounding context that answer generation needs.
type TwoTierSplitter struct {
	parent    *SemanticChunker
	child     *RecursiveChunker
	childSize int
}

// NewTwoTierSplitter creates a splitter whose parent boundaries come from
// semantic chunking and whose children come from fixed-size re-splitting.
func NewTwoTierSplitter(embed EmbedFunc, opts ...ChunkerOption) *TwoTierSplitter {
	cfg := defaultChunkerConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &TwoTierSplitter{
		parent:    NewSemanticChunker(embed, opts...),
		child:     NewRecursiveChunker(cfg.childSize, cfg.childOverlap),
		childSize: cfg.childSize,
	}
}

// Split chunks text into parents and children. A parent no longer than the
// child size becomes its own single child. Child ChunkIndex runs across the
// entire children list, not per parent.
func (ts *TwoTierSplitter) Split(ctx context.Context, text string) (SplitResult, error) {
	parentTexts, err := ts.parent.ChunkContext(ctx, text)
	if err != nil {
		return SplitResult{}, err
	}

	var res SplitResult
	for i, pt := range parentTexts {
		parentID := strata.NewID()
		res.Parents = append(res.Parents, strata.ParentChunk{
			ParentID: parentID,
			Content:  pt,
			Meta: strata.ChunkMeta{
				ChunkIndex:  i,
				TotalChunks: len(parentTexts),
			},
		})

		childTexts := []string{pt}
		if len(pt) > ts.childSize {
			childTexts = ts.child.Chunk(pt)
		}
		for ci, ct := range childTexts {
			res.Children = append(res.Children, strata.Chunk{
				ID:      strata.NewID(),
				Content: ct,
				Meta: strata.ChunkMeta{
					ChunkIndex:    len(res.Children),
					ParentID:      parentID,
					ParentIndex:   i,
					ChildIndex:    ci,
					TotalChildren: len(childTexts),
				},
			})
		}
	}
	for j := range res.Children {
		res.Children[j].Meta.TotalChunks = len(res.Children)
	}
	return res, nil
}
