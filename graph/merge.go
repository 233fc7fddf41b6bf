package graph

import (
	"hash/fnv"
	"sort"
	"strings"
	"unicode"

	"github.com/mirvand/strata"
)

// workGraph is the mutable graph assembled during an expand or rebuild run.
// Nodes are keyed by the slug of their normalized label so repeated
// extractions of the same concept merge instead of duplicating.
type workGraph struct {
	order    []string
	nodes    map[string]*strata.ConceptNode
	edges    []strata.ConceptEdge
	edgeKeys map[string]int
}

func newWorkGraph(g strata.Graph) *workGraph {
	w := &workGraph{
		nodes:    make(map[string]*strata.ConceptNode, len(g.Nodes)),
		edgeKeys: make(map[string]int, len(g.Edges)),
	}
	for _, n := range g.Nodes {
		w.mergeNode(n)
	}
	for _, e := range g.Edges {
		w.addRelationship(rawRelationship{Source: e.Source, Target: e.Target, Label: e.Label, Weight: e.Weight})
	}
	return w
}

func (w *workGraph) len() int { return len(w.order) }

// addExtraction merges one parsed LLM extraction into the graph. Declared
// concept sources are validated against allowedFiles; concepts without a
// surviving attribution fall back to the batch's files.
func (w *workGraph) addExtraction(ex extraction, allowedFiles map[string]bool, fallback []strata.SourceRef) {
	for _, rc := range ex.Concepts {
		label := collapseSpaces(rc.Label)
		if label == "" {
			continue
		}
		id := slugify(label)
		if id == "" {
			continue
		}
		sources := filterSources(rc.Sources, allowedFiles)
		if len(sources) == 0 {
			sources = fallback
		}
		category := strings.TrimSpace(rc.Category)
		w.mergeNode(strata.ConceptNode{
			ID:          id,
			Label:       label,
			Description: strings.TrimSpace(rc.Description),
			Category:    category,
			Importance:  normalizeImportance(rc.Importance),
			Color:       categoryColor(category),
			Sources:     sources,
		})
	}
	for _, rr := range ex.Relationships {
		w.addRelationship(rr)
	}
}

// mergeNode inserts a node or folds it into an existing node with the same
// ID: the longer description wins, sources accumulate, and importance only
// ever promotes.
func (w *workGraph) mergeNode(in strata.ConceptNode) {
	cur, ok := w.nodes[in.ID]
	if !ok {
		n := in
		w.nodes[in.ID] = &n
		w.order = append(w.order, in.ID)
		return
	}
	if len(in.Description) > len(cur.Description) {
		cur.Description = in.Description
	}
	if importanceRank(in.Importance) > importanceRank(cur.Importance) {
		cur.Importance = in.Importance
	}
	if cur.Category == "" && in.Category != "" {
		cur.Category = in.Category
		cur.Color = in.Color
	}
	cur.Sources = mergeSources(cur.Sources, in.Sources)
}

// addRelationship resolves both endpoint labels to known nodes and appends
// the edge. Edges with unknown endpoints, self-loops, and out-of-range
// weights are dropped. A duplicate (source, target, label) keeps the higher
// weight. Reports whether a new edge was added.
func (w *workGraph) addRelationship(rr rawRelationship) bool {
	src := slugify(rr.Source)
	dst := slugify(rr.Target)
	if src == "" || dst == "" || src == dst {
		return false
	}
	if _, ok := w.nodes[src]; !ok {
		return false
	}
	if _, ok := w.nodes[dst]; !ok {
		return false
	}
	if rr.Weight <= 0 || rr.Weight > 1 {
		return false
	}

	label := strings.TrimSpace(rr.Label)
	key := src + "\x00" + dst + "\x00" + label
	if idx, ok := w.edgeKeys[key]; ok {
		if rr.Weight > w.edges[idx].Weight {
			w.edges[idx].Weight = rr.Weight
		}
		return false
	}
	w.edgeKeys[key] = len(w.edges)
	w.edges = append(w.edges, strata.ConceptEdge{Source: src, Target: dst, Label: label, Weight: rr.Weight})
	return true
}

// addBridges adds only relationships that connect a pre-existing node to a
// node added during this run, and reports how many were added.
func (w *workGraph) addBridges(rels []rawRelationship, preExisting map[string]bool) int {
	added := 0
	for _, rr := range rels {
		src := slugify(rr.Source)
		dst := slugify(rr.Target)
		if preExisting[src] == preExisting[dst] {
			continue
		}
		if w.addRelationship(rr) {
			added++
		}
	}
	return added
}

func (w *workGraph) nodeIDs() map[string]bool {
	ids := make(map[string]bool, len(w.order))
	for _, id := range w.order {
		ids[id] = true
	}
	return ids
}

func (w *workGraph) nodesIn(ids map[string]bool) []strata.ConceptNode {
	var nodes []strata.ConceptNode
	for _, id := range w.order {
		if ids[id] {
			nodes = append(nodes, *w.nodes[id])
		}
	}
	return nodes
}

func (w *workGraph) nodesNotIn(ids map[string]bool) []strata.ConceptNode {
	var nodes []strata.ConceptNode
	for _, id := range w.order {
		if !ids[id] {
			nodes = append(nodes, *w.nodes[id])
		}
	}
	return nodes
}

// distinctFiles returns the set of source files attributed across all nodes.
func (w *workGraph) distinctFiles() map[string]bool {
	files := make(map[string]bool)
	for _, id := range w.order {
		for _, s := range w.nodes[id].Sources {
			files[s.File] = true
		}
	}
	return files
}

// trimNodesByImportance keeps the maxNodes highest-importance nodes,
// breaking ties by first-seen order, and drops edges referencing removed
// nodes.
func (w *workGraph) trimNodesByImportance(maxNodes int) {
	if len(w.order) <= maxNodes {
		return
	}

	kept := make([]string, len(w.order))
	copy(kept, w.order)
	sort.SliceStable(kept, func(i, j int) bool {
		return importanceRank(w.nodes[kept[i]].Importance) > importanceRank(w.nodes[kept[j]].Importance)
	})
	kept = kept[:maxNodes]

	keep := make(map[string]bool, len(kept))
	for _, id := range kept {
		keep[id] = true
	}

	order := w.order[:0]
	for _, id := range w.order {
		if keep[id] {
			order = append(order, id)
		} else {
			delete(w.nodes, id)
		}
	}
	w.order = order

	edges := w.edges[:0]
	w.edgeKeys = make(map[string]int, len(w.edges))
	for _, e := range w.edges {
		if !keep[e.Source] || !keep[e.Target] {
			continue
		}
		w.edgeKeys[e.Source+"\x00"+e.Target+"\x00"+e.Label] = len(edges)
		edges = append(edges, e)
	}
	w.edges = edges
}

// trimEdgesByWeight keeps the maxEdges heaviest edges.
func (w *workGraph) trimEdgesByWeight(maxEdges int) {
	if len(w.edges) <= maxEdges {
		return
	}
	sort.SliceStable(w.edges, func(i, j int) bool {
		return w.edges[i].Weight > w.edges[j].Weight
	})
	w.edges = w.edges[:maxEdges]
	w.edgeKeys = make(map[string]int, len(w.edges))
	for i, e := range w.edges {
		w.edgeKeys[e.Source+"\x00"+e.Target+"\x00"+e.Label] = i
	}
}

// snapshot copies the working state into an immutable Graph value.
func (w *workGraph) snapshot() strata.Graph {
	g := strata.Graph{
		Nodes: make([]strata.ConceptNode, 0, len(w.order)),
		Edges: make([]strata.ConceptEdge, len(w.edges)),
	}
	for _, id := range w.order {
		g.Nodes = append(g.Nodes, *w.nodes[id])
	}
	copy(g.Edges, w.edges)
	return g
}

// slugify converts a concept label to a stable node ID: lowercase with
// non-alphanumeric runs collapsed to single dashes.
func slugify(label string) string {
	var b strings.Builder
	pending := false
	for _, r := range strings.ToLower(label) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pending && b.Len() > 0 {
				b.WriteByte('-')
			}
			pending = false
			b.WriteRune(r)
			continue
		}
		pending = true
	}
	return b.String()
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func importanceRank(importance string) int {
	switch importance {
	case strata.ImportanceHigh:
		return 3
	case strata.ImportanceMedium:
		return 2
	case strata.ImportanceLow:
		return 1
	}
	return 0
}

func normalizeImportance(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case strata.ImportanceHigh:
		return strata.ImportanceHigh
	case strata.ImportanceMedium:
		return strata.ImportanceMedium
	}
	return strata.ImportanceLow
}

func mergeSources(dst, add []strata.SourceRef) []strata.SourceRef {
	seen := make(map[strata.SourceRef]bool, len(dst))
	for _, s := range dst {
		seen[s] = true
	}
	for _, s := range add {
		if !seen[s] {
			seen[s] = true
			dst = append(dst, s)
		}
	}
	return dst
}

// filterSources drops attributions naming files outside the allowed set and
// deduplicates the rest. A nil allowed set keeps every named file.
func filterSources(refs []strata.SourceRef, allowed map[string]bool) []strata.SourceRef {
	var out []strata.SourceRef
	seen := make(map[strata.SourceRef]bool, len(refs))
	for _, r := range refs {
		r.File = strings.TrimSpace(r.File)
		if r.File == "" {
			continue
		}
		if allowed != nil && !allowed[r.File] {
			continue
		}
		if r.Page < 0 {
			r.Page = 0
		}
		if !seen[r] {
			seen[r] = true
			out = append(out, r)
		}
	}
	return out
}

var palette = []string{
	"#6366f1", "#0891b2", "#059669", "#d97706",
	"#dc2626", "#7c3aed", "#db2777", "#64748b",
}

// categoryColor deterministically assigns a display color per category.
func categoryColor(category string) string {
	if category == "" {
		return palette[len(palette)-1]
	}
	h := fnv.New32a()
	h.Write([]byte(strings.ToLower(category)))
	return palette[h.Sum32()%uint32(len(palette))]
}
