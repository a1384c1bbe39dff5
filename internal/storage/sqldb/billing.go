package sqldb

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/himmiroute/himmi/internal/storage"
)

const (
	chargeAttempts = 3
	chargeBackoff  = 50 * time.Millisecond
)

// ApplyCharge settles one request inside a single transaction:
//
//  1. insert into request_settlements; a conflict means the request is
//     already settled and the whole charge is skipped,
//  2. lock the tenant row and deduct credits,
//  3. lock the api key row, add to credits_consumed, stamp last_used_at.
//
// The tenant row is always locked before the key row so that two keys of
// the same tenant deducting concurrently cannot deadlock. Transient
// failures (serialization aborts, deadlock victims, SQLite busy) are
// retried with backoff.
func (s *Store) ApplyCharge(ctx context.Context, c storage.Charge) (bool, error) {
	var applied bool
	var err error
	for attempt := 0; attempt < chargeAttempts; attempt++ {
		applied, err = s.applyChargeOnce(ctx, c)
		if err == nil || !retryableTxErr(err) {
			return applied, err
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(chargeBackoff << attempt):
		}
	}
	return applied, err
}

func (s *Store) applyChargeOnce(ctx context.Context, c storage.Charge) (bool, error) {
	tx, err := s.write.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	// Settlement ledger gates the whole charge: exactly one transaction
	// per request id gets past this insert.
	res, err := tx.ExecContext(ctx,
		s.q(`INSERT INTO request_settlements (request_id, settled_at) VALUES (?, ?)
		 ON CONFLICT (request_id) DO NOTHING`),
		c.RequestID, timeStr(time.Now()),
	)
	if err != nil {
		return false, fmt.Errorf("settlement gate: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return false, err
	} else if n == 0 {
		return false, nil
	}

	cost := c.Cost()

	var credits float64
	err = tx.QueryRowContext(ctx,
		s.q(`SELECT credits FROM tenants WHERE id = ?`)+s.forUpdate(),
		c.TenantID,
	).Scan(&credits)
	if err != nil {
		return false, fmt.Errorf("lock tenant: %w", notFoundErr(err))
	}

	if _, err := tx.ExecContext(ctx,
		s.q(`UPDATE tenants SET credits = credits - ? WHERE id = ?`),
		cost, c.TenantID,
	); err != nil {
		return false, fmt.Errorf("deduct credits: %w", err)
	}

	var keyID int64
	err = tx.QueryRowContext(ctx,
		s.q(`SELECT id FROM api_keys WHERE id = ?`)+s.forUpdate(),
		c.APIKeyID,
	).Scan(&keyID)
	if err != nil {
		return false, fmt.Errorf("lock api key: %w", notFoundErr(err))
	}

	if _, err := tx.ExecContext(ctx,
		s.q(`UPDATE api_keys SET credits_consumed = credits_consumed + ?, last_used_at = ? WHERE id = ?`),
		cost, timeStr(time.Now()), c.APIKeyID,
	); err != nil {
		return false, fmt.Errorf("charge api key: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}

// retryableTxErr reports whether a transaction failure is worth retrying:
// postgres serialization failures (40001) and deadlock victims (40P01),
// connection hiccups, and SQLite busy/locked states.
func retryableTxErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, frag := range []string{
		"40001",
		"40P01",
		"deadlock",
		"database is locked",
		"database table is locked",
		"connection reset",
		"bad connection",
	} {
		if strings.Contains(msg, frag) {
			return true
		}
	}
	return false
}
