package ingest

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestTwoTierSplitShortParentIsOwnChild(t *testing.T) {
	ts := NewTwoTierSplitter(nil)
	res, err := ts.Split(context.Background(), "Short note.")
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}
	if len(res.Parents) != 1 || len(res.Children) != 1 {
		t.Fatalf("got %d parents, %d children, want 1 and 1", len(res.Parents), len(res.Children))
	}

	p, c := res.Parents[0], res.Children[0]
	if c.Content != p.Content {
		t.Errorf("child content = %q, want parent content %q", c.Content, p.Content)
	}
	if c.Meta.ParentID != p.ParentID {
		t.Errorf("child ParentID = %q, want %q", c.Meta.ParentID, p.ParentID)
	}
	if c.Meta.ChildIndex != 0 || c.Meta.TotalChildren != 1 {
		t.Errorf("child index/total = %d/%d, want 0/1", c.Meta.ChildIndex, c.Meta.TotalChildren)
	}
	if p.Meta.ChunkIndex != 0 || p.Meta.TotalChunks != 1 {
		t.Errorf("parent index/total = %d/%d, want 0/1", p.Meta.ChunkIndex, p.Meta.TotalChunks)
	}
}

func TestTwoTierSplitLargeParent(t *testing.T) {
	ts := NewTwoTierSplitter(nil, WithChildSize(100), WithChildOverlap(0))
	text := strings.Repeat("alpha beta gamma delta epsilon ", 10) // one long sentence, fallback path
	res, err := ts.Split(context.Background(), text)
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}
	if len(res.Parents) != 1 {
		t.Fatalf("got %d parents, want 1", len(res.Parents))
	}
	if len(res.Children) < 3 {
		t.Fatalf("got %d children, want several for a %d-byte parent", len(res.Children), len(res.Parents[0].Content))
	}

	parent := res.Parents[0]
	for i, c := range res.Children {
		if len(c.Content) > 100 {
			t.Errorf("child %d length %d exceeds child size", i, len(c.Content))
		}
		if c.Meta.ParentID != parent.ParentID {
			t.Errorf("child %d ParentID = %q, want %q", i, c.Meta.ParentID, parent.ParentID)
		}
		if c.Meta.ParentIndex != 0 {
			t.Errorf("child %d ParentIndex = %d, want 0", i, c.Meta.ParentIndex)
		}
		if c.Meta.ChunkIndex != i {
			t.Errorf("child %d ChunkIndex = %d, want sequential", i, c.Meta.ChunkIndex)
		}
		if c.Meta.ChildIndex != i {
			t.Errorf("child %d ChildIndex = %d, want %d", i, c.Meta.ChildIndex, i)
		}
		if c.Meta.TotalChildren != len(res.Children) {
			t.Errorf("child %d TotalChildren = %d, want %d", i, c.Meta.TotalChildren, len(res.Children))
		}
		if c.Meta.TotalChunks != len(res.Children) {
			t.Errorf("child %d TotalChunks = %d, want %d", i, c.Meta.TotalChunks, len(res.Children))
		}
		if c.ID == "" {
			t.Errorf("child %d has no ID", i)
		}
	}
}

func TestTwoTierSplitChunkIndexRunsAcrossParents(t *testing.T) {
	a := []float32{1, 0}
	b := []float32{0, 1}
	embed := scriptedEmbed([][]float32{a, a, b, b, a})
	ts := NewTwoTierSplitter(embed,
		WithMinChunk(20), WithBreakpointPercentile(50),
		WithChildSize(30), WithChildOverlap(0))

	text := "Cats purr loudly. Cats nap often. Dogs bark loudly. Dogs run fast. Birds sing."
	res, err := ts.Split(context.Background(), text)
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}
	if len(res.Parents) != 2 {
		t.Fatalf("got %d parents, want 2", len(res.Parents))
	}

	for i, c := range res.Children {
		if c.Meta.ChunkIndex != i {
			t.Fatalf("child %d ChunkIndex = %d, want global sequence", i, c.Meta.ChunkIndex)
		}
	}

	// Children of the second parent must reference its index, not restart.
	second := res.Parents[1]
	found := false
	for _, c := range res.Children {
		if c.Meta.ParentID == second.ParentID {
			found = true
			if c.Meta.ParentIndex != 1 {
				t.Errorf("ParentIndex = %d, want 1", c.Meta.ParentIndex)
			}
		}
	}
	if !found {
		t.Error("no children recorded for the second parent")
	}
}

func TestTwoTierSplitEmbedErrorPropagates(t *testing.T) {
	sentinel := errors.New("vectorizer offline")
	embed := EmbedFunc(func(context.Context, []string) ([][]float32, error) {
		return nil, sentinel
	})
	ts := NewTwoTierSplitter(embed)
	text := "One thing. Two things. Three things. Four things. Five things."
	if _, err := ts.Split(context.Background(), text); !errors.Is(err, sentinel) {
		t.Fatalf("Split() error = %v, want wrapped sentinel", err)
	}
}

func TestTwoTierSplitEmpty(t *testing.T) {
	ts := NewTwoTierSplitter(nil)
	res, err := ts.Split(context.Background(), "   ")
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}
	if len(res.Parents) != 0 || len(res.Children) != 0 {
		t.Errorf("got %d parents, %d children, want none", len(res.Parents), len(res.Children))
	}
}
