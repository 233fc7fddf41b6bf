package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mirvand/strata"
)

const extractionPrompt = `You are a knowledge graph extractor. Analyze the following study material and identify the key concepts it teaches and how they relate.

For each concept, output:
- "label": a short name for the concept (2-5 words)
- "description": one or two sentences explaining it
- "category": a broad topic area such as "mathematics" or "cell biology"
- "importance": one of: high, medium, low
- "sources": the files the concept appears in, copied from the chunk headers below

For each relationship between two extracted concepts, output:
- "source": the label of the concept the relationship starts from
- "target": the label of the concept it points to
- "label": a short verb phrase such as "depends on" or "is part of"
- "weight": confidence score from 0.0 to 1.0

Output ONLY valid JSON in this format:
{"concepts":[{"label":"","description":"","category":"","importance":"medium","sources":[{"file":"","page":0}]}],"relationships":[{"source":"","target":"","label":"","weight":0.0}]}

If the text contains no extractable concepts, output: {"concepts":[],"relationships":[]}

Chunks:
`

const bridgingPrompt = `You are a knowledge graph linker. Below are two lists of concepts from the same subject: concepts that were just added, and concepts that already existed. Propose relationships that connect a new concept to an existing one.

Only propose a relationship when the two concepts are genuinely related. Use the concept labels exactly as written.

For each relationship, output:
- "source": the label of one concept
- "target": the label of the related concept
- "label": a short verb phrase such as "builds on" or "contrasts with"
- "weight": confidence score from 0.0 to 1.0

Output ONLY valid JSON in this format:
{"relationships":[{"source":"","target":"","label":"","weight":0.0}]}

If none of the concepts are related, output: {"relationships":[]}
`

const consolidationPrompt = `You are a knowledge graph editor. The following concept graph has grown too large. Consolidate it: merge duplicate or near-duplicate concepts, drop trivial ones, and keep the important concepts and their hierarchy intact.

Preserve the "sources" attribution of every concept you keep; when merging two concepts, combine their sources. Re-express relationships between the surviving concepts only, using their labels.

Output ONLY valid JSON in this format:
{"concepts":[{"label":"","description":"","category":"","importance":"medium","sources":[{"file":"","page":0}]}],"relationships":[{"source":"","target":"","label":"","weight":0.0}]}
`

type rawConcept struct {
	Label       string             `json:"label"`
	Description string             `json:"description"`
	Category    string             `json:"category"`
	Importance  string             `json:"importance"`
	Sources     []strata.SourceRef `json:"sources"`
}

type rawRelationship struct {
	Source string  `json:"source"`
	Target string  `json:"target"`
	Label  string  `json:"label"`
	Weight float32 `json:"weight"`
}

type extraction struct {
	Concepts      []rawConcept      `json:"concepts"`
	Relationships []rawRelationship `json:"relationships"`
}

var errNoJSON = errors.New("no JSON object in response")

// extractBatch asks the LLM to extract concepts and relationships from one
// batch of chunks. Each chunk is prefixed with its source file so the model
// can attribute concepts back to files.
func extractBatch(ctx context.Context, llm strata.LLM, batch []strata.Chunk) (extraction, error) {
	var prompt strings.Builder
	prompt.WriteString(extractionPrompt)
	for _, c := range batch {
		if c.Meta.Page > 0 {
			fmt.Fprintf(&prompt, "\n[file: %s, page: %d]\n%s\n", c.Meta.SourceID, c.Meta.Page, c.Content)
		} else {
			fmt.Fprintf(&prompt, "\n[file: %s]\n%s\n", c.Meta.SourceID, c.Content)
		}
	}

	resp, err := llm.Invoke(ctx, []strata.ChatMessage{strata.UserMessage(prompt.String())})
	if err != nil {
		return extraction{}, err
	}
	return decodeExtraction(resp.Content)
}

// proposeBridges asks the LLM for relationships that connect freshly added
// concepts to ones that already existed before this expansion.
func proposeBridges(ctx context.Context, llm strata.LLM, fresh, existing []strata.ConceptNode) ([]rawRelationship, error) {
	var prompt strings.Builder
	prompt.WriteString(bridgingPrompt)
	prompt.WriteString("\nNew concepts:\n")
	for _, n := range fresh {
		fmt.Fprintf(&prompt, "- %s: %s\n", n.Label, n.Description)
	}
	prompt.WriteString("\nExisting concepts:\n")
	for _, n := range existing {
		fmt.Fprintf(&prompt, "- %s\n", n.Label)
	}

	resp, err := llm.Invoke(ctx, []strata.ChatMessage{strata.UserMessage(prompt.String())})
	if err != nil {
		return nil, err
	}
	ex, err := decodeExtraction(resp.Content)
	if err != nil {
		return nil, err
	}
	return ex.Relationships, nil
}

// consolidateGraph asks the LLM to shrink the whole graph below maxNodes.
// The graph is serialized with labels instead of node IDs so the response
// parses with the same rules as a fresh extraction.
func consolidateGraph(ctx context.Context, llm strata.LLM, g strata.Graph, maxNodes int) (extraction, error) {
	labels := make(map[string]string, len(g.Nodes))
	concepts := make([]rawConcept, 0, len(g.Nodes))
	for _, n := range g.Nodes {
		labels[n.ID] = n.Label
		concepts = append(concepts, rawConcept{
			Label:       n.Label,
			Description: n.Description,
			Category:    n.Category,
			Importance:  n.Importance,
			Sources:     n.Sources,
		})
	}
	relationships := make([]rawRelationship, 0, len(g.Edges))
	for _, e := range g.Edges {
		relationships = append(relationships, rawRelationship{
			Source: labels[e.Source],
			Target: labels[e.Target],
			Label:  e.Label,
			Weight: e.Weight,
		})
	}

	data, err := json.Marshal(extraction{Concepts: concepts, Relationships: relationships})
	if err != nil {
		return extraction{}, err
	}

	var prompt strings.Builder
	prompt.WriteString(consolidationPrompt)
	fmt.Fprintf(&prompt, "\nKeep at most %d concepts.\n\nGraph:\n%s\n", maxNodes, data)

	resp, err := llm.Invoke(ctx, []strata.ChatMessage{strata.UserMessage(prompt.String())})
	if err != nil {
		return extraction{}, err
	}
	return decodeExtraction(resp.Content)
}

// decodeExtraction parses the first well-formed JSON object in text,
// tolerating surrounding prose and markdown code fences.
func decodeExtraction(text string) (extraction, error) {
	cleaned := stripFences(text)
	for i := 0; i < len(cleaned); {
		start := strings.IndexByte(cleaned[i:], '{')
		if start < 0 {
			break
		}
		start += i

		var ex extraction
		dec := json.NewDecoder(strings.NewReader(cleaned[start:]))
		if err := dec.Decode(&ex); err == nil {
			return ex, nil
		}
		i = start + 1
	}
	return extraction{}, errNoJSON
}

func stripFences(s string) string {
	if !strings.Contains(s, "```") {
		return s
	}
	var b strings.Builder
	for _, line := range strings.Split(s, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}
