package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	gateway "github.com/himmiroute/himmi/internal"
)

// CreateTenant inserts a new tenant and fills in its generated ID.
func (s *Store) CreateTenant(ctx context.Context, t *gateway.Tenant) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	err := s.write.QueryRowContext(ctx,
		s.q(`INSERT INTO tenants (name, credits, created_at) VALUES (?, ?, ?) RETURNING id`),
		t.Name, t.Credits, timeStr(t.CreatedAt),
	).Scan(&t.ID)
	return conflictErr(err)
}

// GetTenant retrieves a tenant by ID.
func (s *Store) GetTenant(ctx context.Context, id int64) (*gateway.Tenant, error) {
	row := s.read.QueryRowContext(ctx,
		s.q(`SELECT id, name, credits, created_at FROM tenants WHERE id = ?`), id)
	return scanTenant(row)
}

// GetTenantCredits reads the current balance without locking.
func (s *Store) GetTenantCredits(ctx context.Context, id int64) (float64, error) {
	var credits float64
	err := s.read.QueryRowContext(ctx,
		s.q(`SELECT credits FROM tenants WHERE id = ?`), id).Scan(&credits)
	if err != nil {
		return 0, notFoundErr(err)
	}
	return credits, nil
}

// CreateUserWithTenant creates a tenant and its first user in one
// transaction. The user's TenantID is filled from the new tenant.
func (s *Store) CreateUserWithTenant(ctx context.Context, u *gateway.User, t *gateway.Tenant) error {
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}

	tx, err := s.write.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if err := tx.QueryRowContext(ctx,
		s.q(`INSERT INTO tenants (name, credits, created_at) VALUES (?, ?, ?) RETURNING id`),
		t.Name, t.Credits, timeStr(t.CreatedAt),
	).Scan(&t.ID); err != nil {
		return conflictErr(err)
	}

	u.TenantID = t.ID
	if err := tx.QueryRowContext(ctx,
		s.q(`INSERT INTO users (email, password_hash, tenant_id, created_at) VALUES (?, ?, ?, ?) RETURNING id`),
		u.Email, u.PasswordHash, u.TenantID, timeStr(u.CreatedAt),
	).Scan(&u.ID); err != nil {
		return conflictErr(err)
	}

	return tx.Commit()
}

// GetUser retrieves a user by ID.
func (s *Store) GetUser(ctx context.Context, id int64) (*gateway.User, error) {
	row := s.read.QueryRowContext(ctx,
		s.q(`SELECT id, email, password_hash, tenant_id, created_at FROM users WHERE id = ?`), id)
	return scanUser(row)
}

// GetUserByEmail retrieves a user by email.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*gateway.User, error) {
	row := s.read.QueryRowContext(ctx,
		s.q(`SELECT id, email, password_hash, tenant_id, created_at FROM users WHERE email = ?`), email)
	return scanUser(row)
}

// CreateKey inserts a new API key.
func (s *Store) CreateKey(ctx context.Context, k *gateway.APIKey) error {
	if k.CreatedAt.IsZero() {
		k.CreatedAt = time.Now().UTC()
	}
	err := s.write.QueryRowContext(ctx,
		s.q(`INSERT INTO api_keys (user_id, tenant_id, name, key_hash, key_prefix,
		 disabled, deleted, credits_consumed, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`),
		k.UserID, k.TenantID, k.Name, k.KeyHash, k.KeyPrefix,
		boolToInt(k.Disabled), boolToInt(k.Deleted), k.CreditsConsumed, timeStr(k.CreatedAt),
	).Scan(&k.ID)
	return conflictErr(err)
}

// GetKeyByHash retrieves the active API key matching a SHA-256 hash.
// Disabled and soft-deleted keys do not match.
func (s *Store) GetKeyByHash(ctx context.Context, hash string) (*gateway.APIKey, error) {
	row := s.read.QueryRowContext(ctx,
		s.q(`SELECT id, user_id, tenant_id, name, key_hash, key_prefix, disabled, deleted,
		 credits_consumed, last_used_at, created_at
		 FROM api_keys WHERE key_hash = ? AND disabled = 0 AND deleted = 0`), hash)
	return scanKey(row)
}

// ListKeys returns a user's keys, newest first, excluding soft-deleted ones.
func (s *Store) ListKeys(ctx context.Context, userID int64) ([]*gateway.APIKey, error) {
	rows, err := s.read.QueryContext(ctx,
		s.q(`SELECT id, user_id, tenant_id, name, key_hash, key_prefix, disabled, deleted,
		 credits_consumed, last_used_at, created_at
		 FROM api_keys WHERE user_id = ? AND deleted = 0 ORDER BY created_at DESC`), userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []*gateway.APIKey
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// DeleteKey soft-deletes an API key.
func (s *Store) DeleteKey(ctx context.Context, id int64) error {
	result, err := s.write.ExecContext(ctx,
		s.q(`UPDATE api_keys SET deleted = 1 WHERE id = ? AND deleted = 0`), id)
	if err != nil {
		return err
	}
	return checkRowsAffected(result, "api key")
}

// UpsertCredential inserts or replaces a user's credential for a provider.
func (s *Store) UpsertCredential(ctx context.Context, c *gateway.ProviderCredential) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	_, err := s.write.ExecContext(ctx,
		s.q(`INSERT INTO provider_credentials (user_id, provider, ciphertext, created_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (user_id, provider) DO UPDATE SET ciphertext = excluded.ciphertext`),
		c.UserID, c.Provider, c.Ciphertext, timeStr(c.CreatedAt),
	)
	return err
}

// GetCredential retrieves a user's credential for a canonical provider name.
func (s *Store) GetCredential(ctx context.Context, userID int64, provider string) (*gateway.ProviderCredential, error) {
	var c gateway.ProviderCredential
	var createdAt sql.NullString
	err := s.read.QueryRowContext(ctx,
		s.q(`SELECT id, user_id, provider, ciphertext, created_at
		 FROM provider_credentials WHERE user_id = ? AND provider = ?`), userID, provider,
	).Scan(&c.ID, &c.UserID, &c.Provider, &c.Ciphertext, &createdAt)
	if err != nil {
		return nil, notFoundErr(err)
	}
	if t := parseTime(createdAt); t != nil {
		c.CreatedAt = *t
	}
	return &c, nil
}

// DeleteCredential removes a user's credential for a provider.
func (s *Store) DeleteCredential(ctx context.Context, userID int64, provider string) error {
	result, err := s.write.ExecContext(ctx,
		s.q(`DELETE FROM provider_credentials WHERE user_id = ? AND provider = ?`), userID, provider)
	if err != nil {
		return err
	}
	return checkRowsAffected(result, "provider credential")
}

func scanTenant(sc scanner) (*gateway.Tenant, error) {
	var t gateway.Tenant
	var createdAt sql.NullString
	if err := sc.Scan(&t.ID, &t.Name, &t.Credits, &createdAt); err != nil {
		return nil, notFoundErr(err)
	}
	if ts := parseTime(createdAt); ts != nil {
		t.CreatedAt = *ts
	}
	return &t, nil
}

func scanUser(sc scanner) (*gateway.User, error) {
	var u gateway.User
	var createdAt sql.NullString
	if err := sc.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.TenantID, &createdAt); err != nil {
		return nil, notFoundErr(err)
	}
	if ts := parseTime(createdAt); ts != nil {
		u.CreatedAt = *ts
	}
	return &u, nil
}

func scanKey(sc scanner) (*gateway.APIKey, error) {
	var k gateway.APIKey
	var disabled, deleted int
	var lastUsed, createdAt sql.NullString
	err := sc.Scan(
		&k.ID, &k.UserID, &k.TenantID, &k.Name, &k.KeyHash, &k.KeyPrefix,
		&disabled, &deleted, &k.CreditsConsumed, &lastUsed, &createdAt,
	)
	if err != nil {
		return nil, notFoundErr(err)
	}
	k.Disabled = disabled != 0
	k.Deleted = deleted != 0
	k.LastUsedAt = parseTime(lastUsed)
	if ts := parseTime(createdAt); ts != nil {
		k.CreatedAt = *ts
	}
	return &k, nil
}

// helpers

// timeStr formats a timestamp the way both dialects store it: RFC3339 text
// for SQLite, and a literal postgres casts to timestamptz.
func timeStr(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime reads a timestamp scanned as text. Postgres timestamptz values
// arrive through database/sql's time.Time-to-string conversion
// (RFC3339Nano); SQLite stores RFC3339 text directly. Go's RFC3339 parser
// accepts optional fractional seconds, covering both.
func parseTime(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339, ns.String)
	if err != nil {
		return nil
	}
	return &t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
