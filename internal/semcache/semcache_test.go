package semcache

import (
	"context"
	"math"
	"testing"
)

func TestEmbed(t *testing.T) {
	t.Parallel()

	t.Run("unit length", func(t *testing.T) {
		t.Parallel()
		vec := Embed("what is the capital of France")
		var norm float64
		for _, v := range vec {
			norm += float64(v) * float64(v)
		}
		if math.Abs(norm-1) > 1e-5 {
			t.Errorf("norm = %v, want 1", norm)
		}
	})

	t.Run("deterministic", func(t *testing.T) {
		t.Parallel()
		a := Embed("hello world")
		b := Embed("hello world")
		if Cosine(a, b) < 0.9999 {
			t.Error("same text should embed identically")
		}
	})

	t.Run("empty text is zero vector", func(t *testing.T) {
		t.Parallel()
		vec := Embed("")
		for i, v := range vec {
			if v != 0 {
				t.Fatalf("vec[%d] = %v, want 0", i, v)
			}
		}
	})

	t.Run("unrelated prompts are dissimilar", func(t *testing.T) {
		t.Parallel()
		a := Embed("what is the capital of France")
		b := Embed("write a haiku about distributed consensus algorithms")
		if sim := Cosine(a, b); sim >= SimilarityThreshold {
			t.Errorf("similarity = %v, want < %v", sim, SimilarityThreshold)
		}
	})

	t.Run("case and punctuation insensitive", func(t *testing.T) {
		t.Parallel()
		a := Embed("What is the capital of France?")
		b := Embed("what is the capital of france")
		if sim := Cosine(a, b); sim < SimilarityThreshold {
			t.Errorf("similarity = %v, want >= %v", sim, SimilarityThreshold)
		}
	})
}

func TestMemoryCache(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("miss on empty cache", func(t *testing.T) {
		t.Parallel()
		c := NewMemory(0)
		if _, ok, err := c.Lookup(ctx, "anything"); ok || err != nil {
			t.Errorf("Lookup = ok=%v err=%v, want miss", ok, err)
		}
	})

	t.Run("hit on exact prompt", func(t *testing.T) {
		t.Parallel()
		c := NewMemory(0)
		if err := c.Store(ctx, "what is the capital of France?", "Paris."); err != nil {
			t.Fatal(err)
		}
		resp, ok, err := c.Lookup(ctx, "what is the capital of France?")
		if err != nil || !ok {
			t.Fatalf("Lookup = ok=%v err=%v, want hit", ok, err)
		}
		if resp != "Paris." {
			t.Errorf("response = %q, want Paris.", resp)
		}
	})

	t.Run("hit on near-identical prompt", func(t *testing.T) {
		t.Parallel()
		c := NewMemory(0)
		c.Store(ctx, "What is the capital of France?", "Paris.")
		resp, ok, _ := c.Lookup(ctx, "what is the capital of france")
		if !ok || resp != "Paris." {
			t.Errorf("Lookup = (%q, %v), want hit with Paris.", resp, ok)
		}
	})

	t.Run("miss on unrelated prompt", func(t *testing.T) {
		t.Parallel()
		c := NewMemory(0)
		c.Store(ctx, "what is the capital of France?", "Paris.")
		if _, ok, _ := c.Lookup(ctx, "summarize the plot of Moby Dick"); ok {
			t.Error("unrelated prompt should miss")
		}
	})

	t.Run("same prompt replaces entry", func(t *testing.T) {
		t.Parallel()
		c := NewMemory(0)
		c.Store(ctx, "p", "old")
		c.Store(ctx, "p", "new")
		resp, ok, _ := c.Lookup(ctx, "p")
		if !ok || resp != "new" {
			t.Errorf("Lookup = (%q, %v), want new", resp, ok)
		}
	})

	t.Run("evicts oldest at bound", func(t *testing.T) {
		t.Parallel()
		c := NewMemory(2)
		c.Store(ctx, "first unique prompt alpha", "a")
		c.Store(ctx, "second unique prompt bravo", "b")
		c.Store(ctx, "third unique prompt charlie", "c")
		if _, ok, _ := c.Lookup(ctx, "first unique prompt alpha"); ok {
			t.Error("oldest entry should be evicted")
		}
		if _, ok, _ := c.Lookup(ctx, "third unique prompt charlie"); !ok {
			t.Error("newest entry should remain")
		}
	})
}

func TestDisabled(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	var c Disabled
	if err := c.Store(ctx, "p", "r"); err != nil {
		t.Fatal(err)
	}
	if _, ok, err := c.Lookup(ctx, "p"); ok || err != nil {
		t.Errorf("Disabled must always miss, got ok=%v err=%v", ok, err)
	}
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestVectorRoundTrip(t *testing.T) {
	t.Parallel()
	vec := Embed("round trip me")
	decoded, err := decodeVector(encodeVector(vec))
	if err != nil {
		t.Fatal(err)
	}
	if len(decoded) != len(vec) {
		t.Fatalf("len = %d, want %d", len(decoded), len(vec))
	}
	for i := range vec {
		if decoded[i] != vec[i] {
			t.Fatalf("decoded[%d] = %v, want %v", i, decoded[i], vec[i])
		}
	}
}
