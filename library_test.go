package strata

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
)

func embeddedChunk(id, source, content string) Chunk {
	return Chunk{
		ID:        id,
		Content:   content,
		Meta:      ChunkMeta{Collection: "notes", SourceID: source},
		Embedding: []float32{1, 0},
	}
}

func TestLibrarySaveEmbedsMissing(t *testing.T) {
	store := newMemChunkStore()
	emb := &mockEmbedder{fixed: []float32{0, 1}}
	lib := NewLibrary(store, newMemParentStore(), NewRegistry())

	chunks := []Chunk{
		{ID: "c1", Content: "first"},
		{ID: "c2", Content: "second", Embedding: []float32{1, 0}}, // already vectorized
		{ID: "c3", Content: "third"},
	}
	if err := lib.Save(context.Background(), "notes", chunks, emb); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	stored := store.snapshot("notes")
	if len(stored) != 3 {
		t.Fatalf("stored %d chunks, want 3", len(stored))
	}
	for _, c := range stored {
		if len(c.Embedding) == 0 {
			t.Errorf("chunk %q stored without embedding", c.ID)
		}
	}
	if !reflect.DeepEqual(stored[1].Embedding, []float32{1, 0}) {
		t.Errorf("pre-embedded chunk was re-vectorized: %v", stored[1].Embedding)
	}
	if !reflect.DeepEqual(emb.batches, []int{2}) {
		t.Errorf("embed batches = %v, want [2]", emb.batches)
	}
}

func TestLibrarySaveBatchesEmbeddings(t *testing.T) {
	emb := &mockEmbedder{}
	lib := NewLibrary(newMemChunkStore(), newMemParentStore(), NewRegistry(), WithEmbedBatchSize(2))

	chunks := make([]Chunk, 5)
	for i := range chunks {
		chunks[i] = Chunk{ID: fmt.Sprintf("c%d", i), Content: fmt.Sprintf("text %d", i)}
	}
	if err := lib.Save(context.Background(), "notes", chunks, emb); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	if !reflect.DeepEqual(emb.batches, []int{2, 2, 1}) {
		t.Errorf("embed batches = %v, want [2 2 1]", emb.batches)
	}
}

func TestLibrarySaveWithoutEmbedder(t *testing.T) {
	lib := NewLibrary(newMemChunkStore(), newMemParentStore(), NewRegistry())

	// Chunks that still need vectors cannot be saved without an embedder.
	err := lib.Save(context.Background(), "notes", []Chunk{{ID: "c1", Content: "text"}}, nil)
	if err == nil {
		t.Fatal("Save() error = nil, want missing embedder failure")
	}

	// Fully vectorized chunks can.
	err = lib.Save(context.Background(), "notes", []Chunk{embeddedChunk("c2", "a.md", "text")}, nil)
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
}

func TestLibrarySaveEmbedError(t *testing.T) {
	store := newMemChunkStore()
	wantErr := errors.New("model offline")
	lib := NewLibrary(store, newMemParentStore(), NewRegistry())

	err := lib.Save(context.Background(), "notes", []Chunk{{ID: "c1", Content: "text"}}, &mockEmbedder{err: wantErr})
	if !errors.Is(err, wantErr) {
		t.Fatalf("Save() error = %v, want wrapped %v", err, wantErr)
	}
	if n := len(store.snapshot("notes")); n != 0 {
		t.Errorf("stored %d chunks after failed embedding, want 0", n)
	}
}

func TestLibrarySaveEmpty(t *testing.T) {
	emb := &mockEmbedder{}
	store := newMemChunkStore()
	lib := NewLibrary(store, newMemParentStore(), NewRegistry())

	if err := lib.Save(context.Background(), "notes", nil, emb); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if len(emb.batches) != 0 {
		t.Errorf("embedder called %d times for empty save", len(emb.batches))
	}
}

func TestLibraryConcurrentSaves(t *testing.T) {
	store := newMemChunkStore()
	lib := NewLibrary(store, newMemParentStore(), NewRegistry())

	const writers = 4
	const savesEach = 25

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < savesEach; i++ {
				c := embeddedChunk(fmt.Sprintf("w%d-c%d", w, i), "src", "text")
				if err := lib.Save(context.Background(), "notes", []Chunk{c}, nil); err != nil {
					t.Errorf("Save() error = %v", err)
					return
				}
			}
		}(w)
	}
	wg.Wait()

	if n := len(store.snapshot("notes")); n != writers*savesEach {
		t.Errorf("stored %d chunks, want %d (lost update)", n, writers*savesEach)
	}
}

func TestLibrarySaveSplit(t *testing.T) {
	store := newMemChunkStore()
	parents := newMemParentStore()
	emb := &mockEmbedder{}
	lib := NewLibrary(store, parents, NewRegistry())

	err := lib.SaveSplit(context.Background(), "notes",
		[]ParentChunk{{ParentID: "p1", Content: "parent passage", Meta: ChunkMeta{SourceID: "a.md"}}},
		[]Chunk{{ID: "ch1", Content: "child span", Meta: ChunkMeta{SourceID: "a.md", ParentID: "p1"}}},
		emb)
	if err != nil {
		t.Fatalf("SaveSplit() error = %v", err)
	}

	if parents.count("notes") != 1 {
		t.Errorf("stored %d parents, want 1", parents.count("notes"))
	}
	stored := store.snapshot("notes")
	if len(stored) != 1 {
		t.Fatalf("stored %d chunks, want 1", len(stored))
	}
	if len(stored[0].Embedding) == 0 {
		t.Error("child stored without embedding")
	}
}

func TestLibraryDeleteBySource(t *testing.T) {
	store := newMemChunkStore()
	parents := newMemParentStore()
	lib := NewLibrary(store, parents, NewRegistry())
	ctx := context.Background()

	chunks := []Chunk{
		embeddedChunk("c1", "a.pdf", "one"),
		embeddedChunk("c2", "a.pdf", "two"),
		embeddedChunk("c3", "b.pdf", "three"),
	}
	if err := lib.Save(ctx, "notes", chunks, nil); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := parents.PutParents(ctx, "notes", []ParentChunk{
		{ParentID: "p1", Meta: ChunkMeta{SourceID: "a.pdf"}},
		{ParentID: "p2", Meta: ChunkMeta{SourceID: "b.pdf"}},
	}); err != nil {
		t.Fatalf("PutParents() error = %v", err)
	}

	if err := lib.DeleteBySource(ctx, "notes", "a.pdf"); err != nil {
		t.Fatalf("DeleteBySource() error = %v", err)
	}

	remaining := store.snapshot("notes")
	if len(remaining) != 1 || remaining[0].ID != "c3" {
		t.Errorf("remaining chunks = %v, want only c3", remaining)
	}
	if parents.count("notes") != 1 {
		t.Errorf("remaining parents = %d, want 1", parents.count("notes"))
	}
}

func TestLibraryClear(t *testing.T) {
	store := newMemChunkStore()
	parents := newMemParentStore()
	lib := NewLibrary(store, parents, NewRegistry())
	ctx := context.Background()

	if err := lib.Save(ctx, "notes", []Chunk{embeddedChunk("c1", "a.md", "one")}, nil); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := parents.PutParents(ctx, "notes", []ParentChunk{{ParentID: "p1"}}); err != nil {
		t.Fatalf("PutParents() error = %v", err)
	}

	if err := lib.Clear(ctx, "notes"); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if n := len(store.snapshot("notes")); n != 0 {
		t.Errorf("chunks after clear = %d, want 0", n)
	}
	if parents.count("notes") != 0 {
		t.Errorf("parents after clear = %d, want 0", parents.count("notes"))
	}
}

func TestLibraryGetAllFiltered(t *testing.T) {
	lib := NewLibrary(newMemChunkStore(), newMemParentStore(), NewRegistry())
	ctx := context.Background()

	chunks := []Chunk{
		embeddedChunk("c1", "a.pdf", "one"),
		embeddedChunk("c2", "b.pdf", "two"),
		embeddedChunk("c3", "a.pdf", "three"),
	}
	if err := lib.Save(ctx, "notes", chunks, nil); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := lib.GetAll(ctx, "notes", &Filter{SourceIDs: []string{"a.pdf"}})
	if err != nil {
		t.Fatalf("GetAll() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("GetAll() returned %d chunks, want 2", len(got))
	}
	for _, c := range got {
		if c.Meta.SourceID != "a.pdf" {
			t.Errorf("GetAll() returned chunk from %q", c.Meta.SourceID)
		}
	}

	all, err := lib.GetAll(ctx, "notes", nil)
	if err != nil {
		t.Fatalf("GetAll() error = %v", err)
	}
	if len(all) != 3 {
		t.Errorf("GetAll(nil filter) returned %d chunks, want 3", len(all))
	}
}

func TestLibraryRetrieverSeesNewWrites(t *testing.T) {
	emb := &mockEmbedder{}
	lib := NewLibrary(newMemChunkStore(), newMemParentStore(), NewRegistry())
	ctx := context.Background()

	before, err := lib.Retriever(ctx, "notes", emb, 5)
	if err != nil {
		t.Fatalf("Retriever() error = %v", err)
	}
	got, err := before.Retrieve(ctx, "gravity")
	if err != nil || len(got) != 0 {
		t.Fatalf("Retrieve() on empty collection = %d results, %v; want 0, nil", len(got), err)
	}

	if err := lib.Save(ctx, "notes", []Chunk{embeddedChunk("c1", "a.md", "gravity pulls masses together")}, nil); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	after, err := lib.Retriever(ctx, "notes", emb, 5)
	if err != nil {
		t.Fatalf("Retriever() error = %v", err)
	}
	got, err = after.Retrieve(ctx, "gravity")
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if len(got) != 1 || got[0].Chunk.ID != "c1" {
		t.Errorf("Retrieve() after save = %v, want [c1]", got)
	}

	// The retriever handed out before the write keeps its snapshot.
	got, err = before.Retrieve(ctx, "gravity")
	if err != nil || len(got) != 0 {
		t.Errorf("stale retriever = %d results, %v; want 0, nil", len(got), err)
	}
}

func TestLibraryRetrieverWithParents(t *testing.T) {
	emb := &mockEmbedder{}
	lib := NewLibrary(newMemChunkStore(), newMemParentStore(), NewRegistry())
	ctx := context.Background()

	err := lib.SaveSplit(ctx, "notes",
		[]ParentChunk{{ParentID: "p1", Content: "full passage about gravity and orbits", Meta: ChunkMeta{SourceID: "phys.md"}}},
		[]Chunk{{ID: "ch1", Content: "gravity pulls masses together", Meta: ChunkMeta{SourceID: "phys.md", ParentID: "p1"}}},
		emb)
	if err != nil {
		t.Fatalf("SaveSplit() error = %v", err)
	}

	ret, err := lib.RetrieverWithParents(ctx, "notes", emb, 3)
	if err != nil {
		t.Fatalf("RetrieverWithParents() error = %v", err)
	}
	got, err := ret.Retrieve(ctx, "gravity")
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("Retrieve() returned %d results, want 1", len(got))
	}
	if got[0].Chunk.ID != "p1" || !got[0].ResolvedFromChild {
		t.Errorf("result = %q (resolved=%v), want parent p1", got[0].Chunk.ID, got[0].ResolvedFromChild)
	}
	if got[0].Chunk.Content != "full passage about gravity and orbits" {
		t.Errorf("result content = %q, want parent content", got[0].Chunk.Content)
	}
}

func TestLibraryFlatRetrieval(t *testing.T) {
	emb := &mockEmbedder{}
	lib := NewLibrary(newMemChunkStore(), newMemParentStore(), NewRegistry(), WithFlatRetrieval())
	ctx := context.Background()

	err := lib.SaveSplit(ctx, "notes",
		[]ParentChunk{{ParentID: "p1", Content: "full passage", Meta: ChunkMeta{SourceID: "a.md"}}},
		[]Chunk{{ID: "ch1", Content: "child span", Meta: ChunkMeta{SourceID: "a.md", ParentID: "p1"}}},
		emb)
	if err != nil {
		t.Fatalf("SaveSplit() error = %v", err)
	}

	ret, err := lib.RetrieverWithParents(ctx, "notes", emb, 3)
	if err != nil {
		t.Fatalf("RetrieverWithParents() error = %v", err)
	}
	got, err := ret.Retrieve(ctx, "child span")
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("Retrieve() returned %d results, want 1", len(got))
	}
	if got[0].Chunk.ID != "ch1" || got[0].ResolvedFromChild {
		t.Errorf("result = %q (resolved=%v), want verbatim child", got[0].Chunk.ID, got[0].ResolvedFromChild)
	}
}
