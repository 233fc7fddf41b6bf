package graph

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/mirvand/strata"
)

// --- test doubles ---

type scriptedLLM struct {
	responses []string
	calls     []string
}

func (s *scriptedLLM) Invoke(_ context.Context, messages []strata.ChatMessage) (strata.ChatResponse, error) {
	s.calls = append(s.calls, messages[len(messages)-1].Content)
	idx := min(len(s.calls)-1, len(s.responses)-1)
	return strata.ChatResponse{Content: s.responses[idx]}, nil
}

type flakyLLM struct {
	calls  int
	failOn int
	good   string
}

func (f *flakyLLM) Invoke(_ context.Context, _ []strata.ChatMessage) (strata.ChatResponse, error) {
	f.calls++
	if f.calls == f.failOn {
		return strata.ChatResponse{}, errors.New("rate limited")
	}
	return strata.ChatResponse{Content: f.good}, nil
}

type memChunks map[string][]strata.Chunk

func (m memChunks) LoadChunks(_ context.Context, collection string, filter *strata.Filter) ([]strata.Chunk, error) {
	var out []strata.Chunk
	for _, c := range m[collection] {
		if filter.Match(c) {
			out = append(out, c)
		}
	}
	return out, nil
}

type memGraphs struct {
	graphs map[string]strata.Graph
}

func newMemGraphs() *memGraphs {
	return &memGraphs{graphs: make(map[string]strata.Graph)}
}

func (m *memGraphs) PutGraph(_ context.Context, subjectID string, g strata.Graph) error {
	m.graphs[subjectID] = g
	return nil
}

func (m *memGraphs) GetGraph(_ context.Context, subjectID string) (strata.Graph, bool, error) {
	g, ok := m.graphs[subjectID]
	return g, ok, nil
}

func (m *memGraphs) DeleteGraph(_ context.Context, subjectID string) error {
	delete(m.graphs, subjectID)
	return nil
}

func sourceChunk(source, content string) strata.Chunk {
	return strata.Chunk{
		ID:      strata.NewID(),
		Content: content,
		Meta:    strata.ChunkMeta{SourceID: source},
	}
}

// --- tests ---

const kineticsExtraction = `{
	"concepts": [
		{"label": "Rate Laws", "description": "Rate laws relate concentration to reaction speed.", "category": "chemistry", "importance": "high", "sources": [{"file": "x.pdf"}]},
		{"label": "Reaction Order", "description": "The exponent of a concentration term.", "category": "chemistry", "importance": "medium", "sources": [{"file": "x.pdf"}]}
	],
	"relationships": [
		{"source": "Rate Laws", "target": "Reaction Order", "label": "is described by", "weight": 0.9}
	]
}`

func TestExpandBuildsGraph(t *testing.T) {
	chunks := memChunks{"chem": {
		sourceChunk("x.pdf", "Rate laws relate concentration to speed."),
		sourceChunk("x.pdf", "The reaction order is the concentration exponent."),
	}}
	graphs := newMemGraphs()
	llm := &scriptedLLM{responses: []string{kineticsExtraction}}

	b := NewBuilder(chunks, graphs)
	res, err := b.Expand(context.Background(), "chem", []string{"x.pdf"}, llm)
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}

	if res.Batches != 1 || len(res.Failed) != 0 {
		t.Errorf("Batches = %d, Failed = %v; want one clean batch", res.Batches, res.Failed)
	}
	if len(llm.calls) != 1 {
		t.Fatalf("llm calls = %d, want 1", len(llm.calls))
	}
	if !strings.Contains(llm.calls[0], "[file: x.pdf]") {
		t.Error("extraction prompt missing the chunk file header")
	}
	if !strings.Contains(llm.calls[0], "Rate laws relate concentration to speed.") {
		t.Error("extraction prompt missing the chunk content")
	}

	g, ok, err := graphs.GetGraph(context.Background(), "chem")
	if err != nil || !ok {
		t.Fatalf("GetGraph: ok=%v err=%v", ok, err)
	}
	if len(g.Nodes) != 2 {
		t.Fatalf("nodes = %d, want 2", len(g.Nodes))
	}
	if g.Nodes[0].ID != "rate-laws" || g.Nodes[1].ID != "reaction-order" {
		t.Errorf("node IDs = %s, %s; want label slugs", g.Nodes[0].ID, g.Nodes[1].ID)
	}
	if g.Nodes[0].Importance != strata.ImportanceHigh {
		t.Errorf("Importance = %q, want high", g.Nodes[0].Importance)
	}
	if len(g.Nodes[0].Sources) != 1 || g.Nodes[0].Sources[0].File != "x.pdf" {
		t.Errorf("Sources = %v, want x.pdf", g.Nodes[0].Sources)
	}
	if len(g.Edges) != 1 || g.Edges[0].Source != "rate-laws" || g.Edges[0].Target != "reaction-order" {
		t.Fatalf("edges = %+v, want rate-laws -> reaction-order", g.Edges)
	}
	if g.GeneratedAt == 0 {
		t.Error("GeneratedAt not set")
	}
	if g.SourceCount != 1 {
		t.Errorf("SourceCount = %d, want 1", g.SourceCount)
	}
}

func TestExpandIdempotentLabels(t *testing.T) {
	chunks := memChunks{"chem": {sourceChunk("x.pdf", "Rate laws and reaction order.")}}
	graphs := newMemGraphs()
	llm := &scriptedLLM{responses: []string{kineticsExtraction}}
	b := NewBuilder(chunks, graphs)

	for i := 0; i < 2; i++ {
		if _, err := b.Expand(context.Background(), "chem", []string{"x.pdf"}, llm); err != nil {
			t.Fatalf("Expand %d: %v", i, err)
		}
	}

	g := graphs.graphs["chem"]
	if len(g.Nodes) != 2 {
		t.Fatalf("nodes after repeat expand = %d, want 2 (no duplicates)", len(g.Nodes))
	}
	if len(g.Edges) != 1 {
		t.Errorf("edges after repeat expand = %d, want 1", len(g.Edges))
	}
	// Both concepts already existed, so no bridging call happened.
	if len(llm.calls) != 2 {
		t.Errorf("llm calls = %d, want one extraction per expand", len(llm.calls))
	}
}

func TestExpandBridgesNewConcepts(t *testing.T) {
	chunks := memChunks{"physics": {
		sourceChunk("x.pdf", "Kinetics content about reaction speed."),
		sourceChunk("y.pdf", "Thermo content about energy and heat."),
	}}
	graphs := newMemGraphs()
	b := NewBuilder(chunks, graphs)

	first := &scriptedLLM{responses: []string{
		`{"concepts":[{"label":"Kinetics","description":"Speed of reactions.","importance":"high","sources":[{"file":"x.pdf"}]}],"relationships":[]}`,
	}}
	if _, err := b.Expand(context.Background(), "physics", []string{"x.pdf"}, first); err != nil {
		t.Fatalf("first Expand: %v", err)
	}

	second := &scriptedLLM{responses: []string{
		`{"concepts":[{"label":"Thermodynamics","description":"Energy and heat.","importance":"high","sources":[{"file":"y.pdf"}]}],"relationships":[]}`,
		`{"relationships":[{"source":"Thermodynamics","target":"Kinetics","label":"constrains","weight":0.8}]}`,
	}}
	res, err := b.Expand(context.Background(), "physics", []string{"y.pdf"}, second)
	if err != nil {
		t.Fatalf("second Expand: %v", err)
	}

	if len(second.calls) != 2 {
		t.Fatalf("llm calls = %d, want extraction plus bridging", len(second.calls))
	}
	if strings.Contains(second.calls[0], "Kinetics content about reaction speed.") {
		t.Error("extraction prompt includes chunks outside the requested sources")
	}
	if !strings.Contains(second.calls[1], "New concepts:") ||
		!strings.Contains(second.calls[1], "- Thermodynamics") ||
		!strings.Contains(second.calls[1], "- Kinetics") {
		t.Error("bridging prompt missing the new/existing concept lists")
	}
	if res.Bridged != 1 {
		t.Errorf("Bridged = %d, want 1", res.Bridged)
	}

	g := graphs.graphs["physics"]
	if len(g.Nodes) != 2 {
		t.Fatalf("nodes = %d, want 2", len(g.Nodes))
	}
	if len(g.Edges) != 1 || g.Edges[0].Source != "thermodynamics" || g.Edges[0].Target != "kinetics" {
		t.Fatalf("edges = %+v, want thermodynamics -> kinetics", g.Edges)
	}
}

func TestExpandSkipsFailedBatches(t *testing.T) {
	var cs []strata.Chunk
	for i := 0; i < 25; i++ {
		cs = append(cs, sourceChunk("bio.pdf", fmt.Sprintf("Photosynthesis fact %d.", i)))
	}
	chunks := memChunks{"bio": cs}
	graphs := newMemGraphs()
	llm := &flakyLLM{
		failOn: 2,
		good:   `{"concepts":[{"label":"Photosynthesis","description":"Light to sugar.","importance":"high","sources":[{"file":"bio.pdf"}]}],"relationships":[]}`,
	}

	b := NewBuilder(chunks, graphs)
	res, err := b.Expand(context.Background(), "bio", []string{"bio.pdf"}, llm)
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}

	if res.Batches != 3 {
		t.Errorf("Batches = %d, want 3", res.Batches)
	}
	if len(res.Failed) != 1 || res.Failed[0].Batch != 1 {
		t.Fatalf("Failed = %+v, want only batch 1", res.Failed)
	}
	if !strings.Contains(res.Failed[0].Reason, "rate limited") {
		t.Errorf("Reason = %q, want the upstream error", res.Failed[0].Reason)
	}
	if len(res.Graph.Nodes) != 1 {
		t.Errorf("nodes = %d, failed batch must not abort the others", len(res.Graph.Nodes))
	}
}

func TestExpandDiscardsUnparseableBatch(t *testing.T) {
	chunks := memChunks{"chem": {sourceChunk("x.pdf", "Some content.")}}
	graphs := newMemGraphs()
	llm := &scriptedLLM{responses: []string{"I could not find any concepts to extract, sorry."}}

	b := NewBuilder(chunks, graphs)
	res, err := b.Expand(context.Background(), "chem", []string{"x.pdf"}, llm)
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if len(res.Failed) != 1 {
		t.Fatalf("Failed = %+v, want the unparseable batch recorded", res.Failed)
	}
	if len(res.Graph.Nodes) != 0 {
		t.Errorf("nodes = %d, want 0", len(res.Graph.Nodes))
	}
}

func TestRebuildDiscardsExisting(t *testing.T) {
	graphs := newMemGraphs()
	graphs.graphs["bio"] = strata.Graph{
		Nodes: []strata.ConceptNode{
			{ID: "stale", Label: "Stale", Sources: []strata.SourceRef{{File: "gone.pdf"}}},
		},
	}
	chunks := memChunks{"bio": {sourceChunk("x.pdf", "Mitosis splits one cell into two.")}}
	llm := &scriptedLLM{responses: []string{
		`{"concepts":[{"label":"Mitosis","description":"Cell division.","importance":"high","sources":[{"file":"x.pdf"}]}],"relationships":[]}`,
	}}

	b := NewBuilder(chunks, graphs)
	res, err := b.Rebuild(context.Background(), "bio", llm)
	if err != nil {
		t.Fatalf("Rebuild: %v", err)
	}

	if len(res.Graph.Nodes) != 1 || res.Graph.Nodes[0].ID != "mitosis" {
		t.Fatalf("nodes = %+v, want only the re-extracted concept", res.Graph.Nodes)
	}
	if res.Graph.SourceCount != 1 {
		t.Errorf("SourceCount = %d, want 1", res.Graph.SourceCount)
	}
}

func bigExtraction(n int) string {
	var sb strings.Builder
	sb.WriteString(`{"concepts":[`)
	for i := 0; i < n; i++ {
		if i > 0 {
			sb.WriteByte(',')
		}
		importance := "low"
		if i < 3 {
			importance = "high"
		}
		fmt.Fprintf(&sb, `{"label":"concept %02d","description":"d","importance":%q,"sources":[{"file":"x.pdf"}]}`, i, importance)
	}
	sb.WriteString(`],"relationships":[{"source":"concept 00","target":"concept 30","label":"relates to","weight":0.5}]}`)
	return sb.String()
}

func TestExpandConsolidationFallback(t *testing.T) {
	chunks := memChunks{"chem": {sourceChunk("x.pdf", "A very dense chapter.")}}
	graphs := newMemGraphs()
	llm := &scriptedLLM{responses: []string{bigExtraction(31), "not json at all"}}

	b := NewBuilder(chunks, graphs)
	res, err := b.Expand(context.Background(), "chem", []string{"x.pdf"}, llm)
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}

	if !res.Consolidated {
		t.Fatal("Consolidated = false, want the node cap to trigger")
	}
	if len(llm.calls) != 2 {
		t.Fatalf("llm calls = %d, want extraction plus consolidation", len(llm.calls))
	}
	if !strings.Contains(llm.calls[1], "Keep at most 30 concepts.") {
		t.Error("consolidation prompt missing the node cap")
	}
	if len(res.Graph.Nodes) != 30 {
		t.Fatalf("nodes = %d, want trimmed to the cap", len(res.Graph.Nodes))
	}
	for _, n := range res.Graph.Nodes {
		if n.ID == "concept-30" {
			t.Error("lowest-importance node survived the trim")
		}
	}
	if len(res.Graph.Edges) != 0 {
		t.Errorf("edges = %+v, want edges to trimmed nodes dropped", res.Graph.Edges)
	}
}

func TestExpandConsolidationMergesGraph(t *testing.T) {
	chunks := memChunks{"chem": {sourceChunk("x.pdf", "A very dense chapter.")}}
	graphs := newMemGraphs()
	llm := &scriptedLLM{responses: []string{
		bigExtraction(31),
		`{"concepts":[
			{"label":"Alpha","description":"Merged concept.","importance":"high","sources":[{"file":"x.pdf"}]},
			{"label":"Beta","description":"Second survivor.","importance":"medium","sources":[{"file":"x.pdf"}]}
		],"relationships":[{"source":"Alpha","target":"Beta","label":"includes","weight":0.9}]}`,
	}}

	b := NewBuilder(chunks, graphs)
	res, err := b.Expand(context.Background(), "chem", []string{"x.pdf"}, llm)
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}

	if !res.Consolidated {
		t.Fatal("Consolidated = false, want true")
	}
	if len(res.Graph.Nodes) != 2 {
		t.Fatalf("nodes = %d, want the consolidated graph", len(res.Graph.Nodes))
	}
	if len(res.Graph.Nodes[0].Sources) != 1 || res.Graph.Nodes[0].Sources[0].File != "x.pdf" {
		t.Errorf("Sources = %v, want attributions preserved through consolidation", res.Graph.Nodes[0].Sources)
	}
	if len(res.Graph.Edges) != 1 {
		t.Errorf("edges = %d, want 1", len(res.Graph.Edges))
	}
}

func TestLinkedSourceFiles(t *testing.T) {
	graphs := newMemGraphs()
	graphs.graphs["chem"] = strata.Graph{
		Nodes: []strata.ConceptNode{
			{ID: "alpha", Label: "Alpha", Sources: []strata.SourceRef{{File: "x.pdf"}}},
			{ID: "beta", Label: "Beta", Sources: []strata.SourceRef{{File: "y.pdf"}}},
			{ID: "gamma", Label: "Gamma", Sources: []strata.SourceRef{{File: "z.pdf"}}},
		},
		Edges: []strata.ConceptEdge{
			{Source: "alpha", Target: "beta", Label: "relates to", Weight: 0.9},
		},
	}
	b := NewBuilder(memChunks{}, graphs)

	tests := []struct {
		name  string
		files []string
		want  []string
	}{
		{"forward hop", []string{"x.pdf"}, []string{"y.pdf"}},
		{"reverse hop", []string{"y.pdf"}, []string{"x.pdf"}},
		{"already covered", []string{"x.pdf", "y.pdf"}, nil},
		{"no edges from seed", []string{"z.pdf"}, nil},
		{"unknown file", []string{"unknown.pdf"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := b.LinkedSourceFiles(context.Background(), "chem", tt.files)
			if err != nil {
				t.Fatalf("LinkedSourceFiles: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Fatalf("got %v, want %v", got, tt.want)
				}
			}
		})
	}

	got, err := b.LinkedSourceFiles(context.Background(), "ghost", []string{"x.pdf"})
	if err != nil || got != nil {
		t.Errorf("absent subject: got %v, %v; want no links, no error", got, err)
	}
}

func TestExpandEmptySubject(t *testing.T) {
	graphs := newMemGraphs()
	b := NewBuilder(memChunks{}, graphs)

	res, err := b.Expand(context.Background(), "empty", nil, &scriptedLLM{responses: []string{"{}"}})
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if res.Batches != 0 || len(res.Graph.Nodes) != 0 {
		t.Errorf("Batches = %d, nodes = %d; want nothing extracted", res.Batches, len(res.Graph.Nodes))
	}
	if g, ok := graphs.graphs["empty"]; !ok || g.GeneratedAt == 0 {
		t.Error("empty expand should still persist a timestamped graph")
	}
}
