// Package auth implements API key authentication for the Himmi gateway.
// Keys are validated against the identity store and cached in a W-TinyLFU
// cache; tenant credit balances are always read fresh so exhaustion takes
// effect within one request.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/maypok86/otter/v2"

	gateway "github.com/himmiroute/himmi/internal"
	"github.com/himmiroute/himmi/internal/storage"
)

const (
	cacheTTL    = 30 * time.Second // short enough to pick up key revocations promptly
	cacheMaxLen = 10_000           // max concurrent active keys expected per deployment
)

// Authenticator resolves raw bearer keys to caller identities.
type Authenticator struct {
	store storage.IdentityStore
	cache *otter.Cache[string, *cachedKey]
}

// cachedKey is the identity-only part of a key lookup. Credits are never
// cached.
type cachedKey struct {
	keyHash   string
	keyID     int64
	userID    int64
	tenantID  int64
	keyPrefix string
}

// New returns an Authenticator backed by store.
func New(store storage.IdentityStore) (*Authenticator, error) {
	c, err := otter.New(&otter.Options[string, *cachedKey]{
		MaximumSize:      cacheMaxLen,
		ExpiryCalculator: otter.ExpiryWriting[string, *cachedKey](cacheTTL),
	})
	if err != nil {
		return nil, fmt.Errorf("create auth cache: %w", err)
	}
	return &Authenticator{store: store, cache: c}, nil
}

// ParseBearer extracts the raw key from an Authorization header value.
// Returns ErrMalformedAuth when the header is absent, not a bearer
// scheme, or empty.
func ParseBearer(header string) (string, error) {
	raw := strings.TrimPrefix(header, "Bearer ")
	if raw == "" || raw == header {
		return "", gateway.ErrMalformedAuth
	}
	return raw, nil
}

// Authenticate validates a raw API key and returns the caller's identity.
// Failure modes map directly to the request error taxonomy:
//
//   - ErrInvalidKey: no active key row matches the hash.
//   - ErrTenantMisconfigured: the owning user has no tenant row.
//   - ErrInsufficientCredits: the tenant balance is zero or negative.
func (a *Authenticator) Authenticate(ctx context.Context, rawKey string) (*gateway.Identity, error) {
	if !strings.HasPrefix(rawKey, gateway.APIKeyPrefix) {
		return nil, gateway.ErrInvalidKey
	}
	hash := gateway.HashKey(rawKey)

	ck, ok := a.cache.GetIfPresent(hash)
	if !ok {
		var err error
		ck, err = a.resolve(ctx, hash)
		if err != nil {
			return nil, err
		}
		a.cache.Set(hash, ck)
	}

	// Constant-time recheck of the stored hash against the computed one.
	// The lookup already matched, but this guards against SQL collation
	// or encoding surprises.
	if subtle.ConstantTimeCompare([]byte(ck.keyHash), []byte(hash)) != 1 {
		return nil, gateway.ErrInvalidKey
	}

	// Credits are read fresh on every request: cached identity must not
	// let an exhausted tenant keep spending for the cache TTL.
	credits, err := a.store.GetTenantCredits(ctx, ck.tenantID)
	if err != nil {
		if errors.Is(err, gateway.ErrNotFound) {
			return nil, gateway.ErrTenantMisconfigured
		}
		return nil, fmt.Errorf("read tenant credits: %w", err)
	}
	if credits <= 0 {
		return nil, gateway.ErrInsufficientCredits
	}

	return &gateway.Identity{
		UserID:    ck.userID,
		APIKeyID:  ck.keyID,
		TenantID:  ck.tenantID,
		KeyPrefix: ck.keyPrefix,
	}, nil
}

// resolve performs the uncached lookup: key row by hash, then its owning
// user for the tenant reference.
func (a *Authenticator) resolve(ctx context.Context, hash string) (*cachedKey, error) {
	key, err := a.store.GetKeyByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, gateway.ErrNotFound) {
			return nil, gateway.ErrInvalidKey
		}
		return nil, fmt.Errorf("look up key: %w", err)
	}

	user, err := a.store.GetUser(ctx, key.UserID)
	if err != nil {
		if errors.Is(err, gateway.ErrNotFound) {
			return nil, gateway.ErrTenantMisconfigured
		}
		return nil, fmt.Errorf("look up user: %w", err)
	}
	if user.TenantID == 0 {
		return nil, gateway.ErrTenantMisconfigured
	}

	return &cachedKey{
		keyHash:   key.KeyHash,
		keyID:     key.ID,
		userID:    key.UserID,
		tenantID:  user.TenantID,
		keyPrefix: key.KeyPrefix,
	}, nil
}

// Invalidate drops the cached entry for a raw key's hash. Used by the
// control surface when a key is disabled or deleted.
func (a *Authenticator) Invalidate(hash string) {
	a.cache.Invalidate(hash)
}
