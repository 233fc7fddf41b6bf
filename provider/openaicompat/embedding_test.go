package openaicompat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mirvand/strata"
)

func TestEmbedding_EmbedDocuments(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("expected path /embeddings, got %s", r.URL.Path)
		}

		var req EmbeddingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if len(req.Input) != 2 {
			t.Fatalf("expected 2 inputs, got %d", len(req.Input))
		}
		if req.Dimensions != 256 {
			t.Errorf("expected dimensions 256, got %d", req.Dimensions)
		}

		// Return data out of order: the client must restore input order.
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(EmbeddingResponse{
			Data: []EmbeddingData{
				{Index: 1, Embedding: []float32{0.3, 0.4}},
				{Index: 0, Embedding: []float32{0.1, 0.2}},
			},
		})
	}))
	defer srv.Close()

	e := NewEmbedding("test-key", "text-embedding-3-small", srv.URL, WithDimensions(256))

	vecs, err := e.EmbedDocuments(context.Background(), []string{"one", "two"})
	if err != nil {
		t.Fatalf("EmbedDocuments() error = %v", err)
	}
	if len(vecs) != 2 {
		t.Fatalf("expected 2 vectors, got %d", len(vecs))
	}
	if vecs[0][0] != 0.1 || vecs[1][0] != 0.3 {
		t.Errorf("vectors not restored to input order: %v", vecs)
	}
}

func TestEmbedding_EmbedDocumentsEmpty(t *testing.T) {
	e := NewEmbedding("k", "m", "http://unreachable.invalid")

	vecs, err := e.EmbedDocuments(context.Background(), nil)
	if err != nil {
		t.Fatalf("EmbedDocuments() error = %v", err)
	}
	if vecs != nil {
		t.Errorf("expected nil for empty input, got %v", vecs)
	}
}

func TestEmbedding_EmbedQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req EmbeddingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if len(req.Input) != 1 || req.Input[0] != "what is osmosis" {
			t.Errorf("unexpected input: %v", req.Input)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(EmbeddingResponse{
			Data: []EmbeddingData{{Index: 0, Embedding: []float32{1, 2, 3}}},
		})
	}))
	defer srv.Close()

	e := NewEmbedding("k", "m", srv.URL)

	vec, err := e.EmbedQuery(context.Background(), "what is osmosis")
	if err != nil {
		t.Fatalf("EmbedQuery() error = %v", err)
	}
	if len(vec) != 3 {
		t.Errorf("expected 3-dim vector, got %v", vec)
	}
}

func TestEmbedding_CountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(EmbeddingResponse{
			Data: []EmbeddingData{{Index: 0, Embedding: []float32{1}}},
		})
	}))
	defer srv.Close()

	e := NewEmbedding("k", "m", srv.URL)

	_, err := e.EmbedDocuments(context.Background(), []string{"a", "b"})
	var llmErr *strata.ErrLLM
	if !errors.As(err, &llmErr) {
		t.Fatalf("expected *strata.ErrLLM, got %T: %v", err, err)
	}
}

func TestEmbedding_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"invalid key"}}`))
	}))
	defer srv.Close()

	e := NewEmbedding("bad-key", "m", srv.URL)

	_, err := e.EmbedQuery(context.Background(), "x")
	var httpErr *strata.ErrHTTP
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected *strata.ErrHTTP, got %T: %v", err, err)
	}
	if httpErr.Status != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", httpErr.Status)
	}
}
