package strata

import "context"

// Importance levels for concept nodes. High survives consolidation longest.
const (
	ImportanceHigh   = "high"
	ImportanceMedium = "medium"
	ImportanceLow    = "low"
)

// SourceRef attributes a concept to the source file it was extracted from,
// optionally down to a page.
type SourceRef struct {
	File string `json:"file"`
	Page int    `json:"page,omitempty"`
}

// ConceptNode is one concept in a subject's knowledge graph. ID is a slug
// derived from the normalized label and stays stable across expansions.
type ConceptNode struct {
	ID          string      `json:"id"`
	Label       string      `json:"label"`
	Description string      `json:"description"`
	Category    string      `json:"category,omitempty"`
	Importance  string      `json:"importance"`
	Color       string      `json:"color,omitempty"`
	Sources     []SourceRef `json:"sources,omitempty"`
}

// ConceptEdge is a labeled relationship between two concepts. Source and
// Target are node IDs; Weight is the extraction confidence in [0, 1].
type ConceptEdge struct {
	Source string  `json:"source"`
	Target string  `json:"target"`
	Label  string  `json:"label"`
	Weight float32 `json:"weight"`
}

// Graph is a subject's knowledge graph, persisted as one key-value entry
// per subject. Created on first extraction, mutated by expand and rebuild,
// deleted with the owning subject.
type Graph struct {
	Nodes       []ConceptNode `json:"nodes"`
	Edges       []ConceptEdge `json:"edges"`
	GeneratedAt int64         `json:"generated_at"`
	SourceCount int           `json:"source_count"`
}

// GraphStore is the key-value persistence layer for per-subject knowledge
// graphs.
type GraphStore interface {
	// PutGraph stores the subject's graph, replacing any existing entry.
	PutGraph(ctx context.Context, subjectID string, g Graph) error
	// GetGraph returns the subject's graph. ok is false when the subject
	// has no stored graph.
	GetGraph(ctx context.Context, subjectID string) (Graph, bool, error)
	// DeleteGraph removes the subject's graph entry.
	DeleteGraph(ctx context.Context, subjectID string) error
}
