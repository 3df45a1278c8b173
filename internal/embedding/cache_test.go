package embedding

import (
	"context"
	"testing"
)

func TestLRU_GetSet(t *testing.T) {
	c := newLRU(2)
	if v, ok := c.get("a"); ok || v != nil {
		t.Fatal("expected miss")
	}
	c.set("a", []float32{1, 2, 3})
	v, ok := c.get("a")
	if !ok || len(v) != 3 || v[0] != 1 {
		t.Errorf("get: got %v, %v", v, ok)
	}
	c.set("b", []float32{4, 5})
	c.get("a")               // a is now most recent
	c.set("c", []float32{6}) // evicts b
	if _, ok := c.get("b"); ok {
		t.Error("expected b to be evicted")
	}
	if _, ok := c.get("a"); !ok {
		t.Error("expected a to remain")
	}
	if _, ok := c.get("c"); !ok {
		t.Error("expected c to be present")
	}
}

func TestCached_EmbedBatchOnlySendsMisses(t *testing.T) {
	mock := NewMockEmbedder(8)
	c := NewCached(mock, 10)
	ctx := context.Background()

	first, err := c.EmbedBatch(ctx, []string{"alpha", "beta"})
	if err != nil {
		t.Fatal(err)
	}
	if mock.Calls() != 1 {
		t.Fatalf("calls = %d, want 1", mock.Calls())
	}

	second, err := c.EmbedBatch(ctx, []string{"beta", "gamma", "alpha"})
	if err != nil {
		t.Fatal(err)
	}
	if mock.Calls() != 2 {
		t.Errorf("calls = %d, want 2", mock.Calls())
	}
	if second[0][0] != first[1][0] || second[2][0] != first[0][0] {
		t.Error("cached vectors returned in the wrong slots")
	}
	if len(second[1]) != 8 {
		t.Errorf("fresh vector width = %d", len(second[1]))
	}

	if _, err := c.EmbedBatch(ctx, []string{"gamma"}); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Embed(ctx, "alpha"); err != nil {
		t.Fatal(err)
	}
	if mock.Calls() != 2 {
		t.Errorf("fully cached calls reached the provider: %d", mock.Calls())
	}
	if c.Dimensions() != 8 {
		t.Errorf("Dimensions = %d", c.Dimensions())
	}
}
