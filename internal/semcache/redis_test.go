package semcache

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) *RedisCache {
	t.Helper()
	mr := miniredis.RunT(t)
	cli := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { cli.Close() })
	return NewRedisFromClient(cli)
}

func TestRedisCache(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("miss on empty cache", func(t *testing.T) {
		t.Parallel()
		c := newTestRedis(t)
		if _, ok, err := c.Lookup(ctx, "anything"); ok || err != nil {
			t.Errorf("Lookup = ok=%v err=%v, want clean miss", ok, err)
		}
	})

	t.Run("store then hit", func(t *testing.T) {
		t.Parallel()
		c := newTestRedis(t)
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

	t.Run("similar prompt hits", func(t *testing.T) {
		t.Parallel()
		c := newTestRedis(t)
		c.Store(ctx, "What is the capital of France?", "Paris.")
		resp, ok, _ := c.Lookup(ctx, "what is the capital of france")
		if !ok || resp != "Paris." {
			t.Errorf("Lookup = (%q, %v), want hit", resp, ok)
		}
	})

	t.Run("unrelated prompt misses", func(t *testing.T) {
		t.Parallel()
		c := newTestRedis(t)
		c.Store(ctx, "what is the capital of France?", "Paris.")
		if _, ok, _ := c.Lookup(ctx, "generate a regex matching IPv6 addresses"); ok {
			t.Error("unrelated prompt should miss")
		}
	})

	t.Run("latest entry wins for duplicate prompts", func(t *testing.T) {
		t.Parallel()
		c := newTestRedis(t)
		c.Store(ctx, "same prompt", "old")
		c.Store(ctx, "same prompt", "new")
		resp, ok, _ := c.Lookup(ctx, "same prompt")
		if !ok || resp != "new" {
			t.Errorf("Lookup = (%q, %v), want new", resp, ok)
		}
	})
}

func TestNewRedisBadURL(t *testing.T) {
	t.Parallel()
	if _, err := NewRedis(context.Background(), "not-a-url"); err == nil {
		t.Error("expected error for malformed URL")
	}
}
