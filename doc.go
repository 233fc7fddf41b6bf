// Package strata is a knowledge-base core for long-form documents: semantic
// chunking, two-tier parent/child storage, hybrid lexical+vector retrieval,
// and an LLM-derived concept graph linking material across sources.
//
// # Quick Start
//
// Wire a flat-file store into a Library and ingest a document:
//
//	backing, _ := jsonfile.New(dataDir)
//	lib := strata.NewLibrary(backing, backing, strata.NewRegistry())
//
//	ing := ingest.New(lib, embedder)
//	_, err := ing.IngestFile(ctx, "biology-101", raw, "notes.md")
//
//	ret, _ := lib.RetrieverWithParents(ctx, "biology-101", embedder, 5)
//	hits, _ := ret.Retrieve(ctx, "how does osmosis work?")
//
// # Core Interfaces
//
// The root package defines the contracts that all components implement:
//
//   - [Embedder] — text-to-vector embedding gateway
//   - [LLM] — chat-completion gateway used by the graph builder
//   - [ChunkStore], [ParentStore] — persistence backends per collection
//   - [Retriever] — ranked retrieval over one collection
//
// # Included Implementations
//
// Storage: store/jsonfile (flat-file, the default), store/sqlite (local
// SQLite), store/postgres (PostgreSQL with pgvector columns).
// Providers: provider/openaicompat (OpenAI-compatible chat + embeddings).
// Graph: the graph package builds and maintains per-subject concept graphs.
//
// See cmd/strata for a complete command-line driver.
package strata
