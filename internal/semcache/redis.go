package semcache

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// SimilarityThreshold is the minimum cosine similarity for a hit
	// (equivalent to a vector distance threshold of 0.04).
	SimilarityThreshold = 0.96

	entryPrefix = "semcache:entry:"
	indexKey    = "semcache:index"

	// maxEntries bounds the index; lookups scan the most recent entries
	// linearly, so the window stays small.
	maxEntries = 1024
	scanLimit  = 256

	opTimeout = 500 * time.Millisecond
	entryTTL  = 24 * time.Hour
)

// RedisCache stores fingerprinted (prompt, response) pairs in Redis and
// answers lookups by scanning the most recent entries for a vector match.
type RedisCache struct {
	client *redis.Client
}

// NewRedis parses redisURL, verifies the connection with a ping, and
// returns a RedisCache.
func NewRedis(ctx context.Context, redisURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("semcache: parse url: %w", err)
	}
	cli := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := cli.Ping(pingCtx).Err(); err != nil {
		cli.Close()
		return nil, fmt.Errorf("semcache: ping: %w", err)
	}
	return &RedisCache{client: cli}, nil
}

// NewRedisFromClient wraps an existing client. The caller owns its lifecycle.
func NewRedisFromClient(cli *redis.Client) *RedisCache {
	return &RedisCache{client: cli}
}

// Lookup scans the most recent entries for one whose fingerprint is within
// the similarity threshold of the prompt's.
func (c *RedisCache) Lookup(ctx context.Context, prompt string) (string, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	keys, err := c.client.LRange(ctx, indexKey, 0, scanLimit-1).Result()
	if err != nil {
		return "", false, fmt.Errorf("semcache: read index: %w", err)
	}
	if len(keys) == 0 {
		return "", false, nil
	}

	pipe := c.client.Pipeline()
	cmds := make([]*redis.SliceCmd, len(keys))
	for i, k := range keys {
		cmds[i] = pipe.HMGet(ctx, k, "vector", "response")
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return "", false, fmt.Errorf("semcache: read entries: %w", err)
	}

	query := Embed(prompt)
	bestSim := 0.0
	bestResponse := ""
	for _, cmd := range cmds {
		vals := cmd.Val()
		if len(vals) != 2 || vals[0] == nil || vals[1] == nil {
			continue // expired entry still in the index
		}
		vecStr, ok1 := vals[0].(string)
		resp, ok2 := vals[1].(string)
		if !ok1 || !ok2 {
			continue
		}
		vec, err := decodeVector(vecStr)
		if err != nil {
			continue
		}
		if sim := Cosine(query, vec); sim > bestSim {
			bestSim = sim
			bestResponse = resp
		}
	}

	if bestSim >= SimilarityThreshold {
		return bestResponse, true, nil
	}
	return "", false, nil
}

// Store writes the entry hash and pushes its key onto the index, trimming
// the index to its bound.
func (c *RedisCache) Store(ctx context.Context, prompt, response string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	key := entryPrefix + fingerprint(prompt)
	vec := encodeVector(Embed(prompt))

	pipe := c.client.TxPipeline()
	pipe.HSet(ctx, key, "prompt", prompt, "response", response, "vector", vec)
	pipe.Expire(ctx, key, entryTTL)
	pipe.LPush(ctx, indexKey, key)
	pipe.LTrim(ctx, indexKey, 0, maxEntries-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("semcache: store: %w", err)
	}
	return nil
}

// Close releases the Redis connection pool.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// fingerprint keys an entry by its exact prompt text, deduplicating
// repeated stores of the same message.
func fingerprint(prompt string) string {
	h := sha256.Sum256([]byte(prompt))
	return hex.EncodeToString(h[:16])
}

func encodeVector(vec []float32) string {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return base64.StdEncoding.EncodeToString(buf)
}

func decodeVector(s string) ([]float32, error) {
	buf, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(buf)%4 != 0 {
		return nil, fmt.Errorf("semcache: vector length %d not a multiple of 4", len(buf))
	}
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec, nil
}
