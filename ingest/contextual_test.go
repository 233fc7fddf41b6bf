package ingest

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/mirvand/strata"
)

type countingLLM struct {
	calls atomic.Int32
	reply string
	err   error
}

func (c *countingLLM) Invoke(_ context.Context, _ []strata.ChatMessage) (strata.ChatResponse, error) {
	c.calls.Add(1)
	if c.err != nil {
		return strata.ChatResponse{}, c.err
	}
	return strata.ChatResponse{Content: c.reply}, nil
}

var testLogger = slog.New(slog.DiscardHandler)

func TestEnrichChunksPrependsContext(t *testing.T) {
	llm := &countingLLM{reply: "This covers cell membranes."}
	chunks := []strata.Chunk{
		{ID: "a", Content: "Osmosis moves water."},
		{ID: "b", Content: "Diffusion moves solutes."},
	}

	enrichChunks(context.Background(), llm, chunks, "full document text", 4, testLogger)

	if got := llm.calls.Load(); got != 2 {
		t.Fatalf("expected 2 LLM calls, got %d", got)
	}
	for _, c := range chunks {
		if !strings.HasPrefix(c.Content, "This covers cell membranes.\n\n") {
			t.Errorf("chunk %s not enriched: %q", c.ID, c.Content)
		}
	}
}

func TestEnrichChunksKeepsContentOnFailure(t *testing.T) {
	llm := &countingLLM{err: errors.New("model overloaded")}
	chunks := []strata.Chunk{{ID: "a", Content: "original"}}

	enrichChunks(context.Background(), llm, chunks, "doc", 1, testLogger)

	if chunks[0].Content != "original" {
		t.Errorf("failed enrichment must leave content unchanged, got %q", chunks[0].Content)
	}
}

func TestEnrichChunksNilLLM(t *testing.T) {
	chunks := []strata.Chunk{{ID: "a", Content: "original"}}

	enrichChunks(context.Background(), nil, chunks, "doc", 1, testLogger)

	if chunks[0].Content != "original" {
		t.Errorf("nil LLM must be a no-op, got %q", chunks[0].Content)
	}
}

func TestEnrichChunksEmptyReply(t *testing.T) {
	llm := &countingLLM{reply: "   "}
	chunks := []strata.Chunk{{ID: "a", Content: "original"}}

	enrichChunks(context.Background(), llm, chunks, "doc", 1, testLogger)

	if chunks[0].Content != "original" {
		t.Errorf("blank reply must leave content unchanged, got %q", chunks[0].Content)
	}
}

func TestTruncateDocText(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		maxBytes int
		want     string
	}{
		{"fits", "short text", 100, "short text"},
		{"zero keeps all", "anything", 0, "anything"},
		{"cut at space", "alpha beta gamma", 11, "alpha beta"},
		{"cut on boundary", "alpha beta", 5, "alpha"},
		{"no space hard cut", "abcdefghij", 4, "abcd"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := truncateDocText(tt.text, tt.maxBytes); got != tt.want {
				t.Errorf("truncateDocText() = %q, want %q", got, tt.want)
			}
		})
	}
}
