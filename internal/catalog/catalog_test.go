package catalog

import (
	"context"
	"errors"
	"testing"

	gateway "github.com/himmiroute/himmi/internal"
	"github.com/himmiroute/himmi/internal/testutil"
)

func TestCanonical(t *testing.T) {
	t.Parallel()

	tests := []struct {
		display string
		want    string
	}{
		{"OpenAI", "openai"},
		{"Anthropic", "anthropic"},
		{"Google AI", "gemini"},
		{"Groq", "groq"},
		{"Mistral AI", "mistral"},
		{"Perplexity", "perplexity"},
		{"xAI", "xai"},
		{"DeepSeek", "deepseek"},
		{"Amazon Bedrock", "bedrock"},
		{"Ollama", "ollama"},
		// Unknown names fall through to lowercase.
		{"SomeNewLab", "somenewlab"},
	}
	for _, tt := range tests {
		if got := Canonical(tt.display); got != tt.want {
			t.Errorf("Canonical(%q) = %q, want %q", tt.display, got, tt.want)
		}
	}
}

func TestResolver_Resolve(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("cheapest mapping wins", func(t *testing.T) {
		t.Parallel()
		store := testutil.NewFakeStore()
		store.SeedRoute("gpt-5.2", "OpenAI", "https://api.openai.com/v1", 1.75, 14.00)
		store.SeedRoute("gpt-5.2", "Groq", "https://api.groq.com/openai/v1", 0.59, 0.79)

		r, err := NewResolver(store)
		if err != nil {
			t.Fatal(err)
		}
		route, err := r.Resolve(ctx, "gpt-5.2")
		if err != nil {
			t.Fatal(err)
		}
		if route.Provider.Name != "Groq" {
			t.Errorf("provider = %q, want Groq (cheapest)", route.Provider.Name)
		}
	})

	t.Run("unknown slug", func(t *testing.T) {
		t.Parallel()
		store := testutil.NewFakeStore()
		r, err := NewResolver(store)
		if err != nil {
			t.Fatal(err)
		}
		_, err = r.Resolve(ctx, "no-such-model")
		if !errors.Is(err, gateway.ErrModelUnsupported) {
			t.Errorf("err = %v, want ErrModelUnsupported", err)
		}
	})

	t.Run("cached route served after store change until invalidate", func(t *testing.T) {
		t.Parallel()
		store := testutil.NewFakeStore()
		store.SeedRoute("m", "OpenAI", "", 1, 1)
		r, err := NewResolver(store)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := r.Resolve(ctx, "m"); err != nil {
			t.Fatal(err)
		}

		store.SeedRoute("m", "Groq", "", 0.1, 0.1)
		route, _ := r.Resolve(ctx, "m")
		if route.Provider.Name != "OpenAI" {
			t.Errorf("expected cached OpenAI route, got %q", route.Provider.Name)
		}

		r.Invalidate("m")
		route, _ = r.Resolve(ctx, "m")
		if route.Provider.Name != "Groq" {
			t.Errorf("expected fresh Groq route after invalidate, got %q", route.Provider.Name)
		}
	})
}

func TestResolver_NextBest(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := testutil.NewFakeStore()
	store.SeedRoute("m", "Groq", "", 0.59, 0.79)
	store.SeedRoute("m", "OpenAI", "", 1.75, 14.00)
	store.SeedRoute("m", "Mistral AI", "", 2.00, 6.00)

	r, err := NewResolver(store)
	if err != nil {
		t.Fatal(err)
	}

	t.Run("skips failed provider", func(t *testing.T) {
		t.Parallel()
		route, ok, err := r.NextBest(ctx, "m", "Groq")
		if err != nil || !ok {
			t.Fatalf("NextBest = ok=%v err=%v", ok, err)
		}
		// Mistral at 8.00 combined undercuts OpenAI at 15.75.
		if route.Provider.Name != "Mistral AI" {
			t.Errorf("provider = %q, want Mistral AI", route.Provider.Name)
		}
	})

	t.Run("no alternative", func(t *testing.T) {
		t.Parallel()
		store2 := testutil.NewFakeStore()
		store2.SeedRoute("solo", "OpenAI", "", 1, 1)
		r2, err := NewResolver(store2)
		if err != nil {
			t.Fatal(err)
		}
		_, ok, err := r2.NextBest(ctx, "solo", "OpenAI")
		if err != nil {
			t.Fatal(err)
		}
		if ok {
			t.Error("expected no alternative route")
		}
	})
}
