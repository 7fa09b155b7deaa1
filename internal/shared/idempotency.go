package shared

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrIdempotencyConflict reports a key that already points at a stored record.
var ErrIdempotencyConflict = fmt.Errorf("idempotency: key already used: %w", ErrConflict)

// ErrIdempotencyInFlight reports a key reserved by a request that has not finished.
var ErrIdempotencyInFlight = fmt.Errorf("idempotency: request with this key still in progress: %w", ErrConflict)

// IdempotencyStore maps client-supplied Idempotency-Key headers to the record the
// first request created, scoped per tenant and per operation. A key is reserved
// before the operation runs and bound to its record afterwards.
type IdempotencyStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewIdempotencyStore constructs the store.
func NewIdempotencyStore(pool *pgxpool.Pool) *IdempotencyStore {
	return &IdempotencyStore{pool: pool, now: time.Now}
}

// Reserve claims the key for the caller. fresh is true when this call inserted the
// reservation; otherwise ref is the record an earlier request bound to the key.
// A reservation not yet bound yields ErrIdempotencyInFlight.
func (s *IdempotencyStore) Reserve(ctx context.Context, tenantID int64, operation, key string) (ref int64, fresh bool, err error) {
	if s == nil || s.pool == nil {
		return 0, false, errors.New("idempotency: store not initialised")
	}
	if key == "" || operation == "" {
		return 0, false, NewValidationError("idempotency: key and operation are required")
	}
	tag, err := s.pool.Exec(ctx, `INSERT INTO idempotency_keys (tenant_id, module, key, ref_id, created_at)
VALUES ($1, $2, $3, NULL, $4)
ON CONFLICT (tenant_id, module, key) DO NOTHING`, tenantID, operation, key, s.now().UTC())
	if err != nil {
		return 0, false, fmt.Errorf("idempotency: reserve: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return 0, true, nil
	}
	var bound pgtype.Int8
	err = s.pool.QueryRow(ctx, `SELECT ref_id FROM idempotency_keys
WHERE tenant_id = $1 AND module = $2 AND key = $3`, tenantID, operation, key).Scan(&bound)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		// Released between the insert and the read.
		return 0, false, ErrIdempotencyInFlight
	case err != nil:
		return 0, false, fmt.Errorf("idempotency: lookup: %w", err)
	case !bound.Valid:
		return 0, false, ErrIdempotencyInFlight
	}
	return bound.Int64, false, nil
}

// Bind attaches ref to a reserved key. Binding a key twice yields ErrIdempotencyConflict.
func (s *IdempotencyStore) Bind(ctx context.Context, tenantID int64, operation, key string, ref int64) error {
	if s == nil || s.pool == nil {
		return errors.New("idempotency: store not initialised")
	}
	tag, err := s.pool.Exec(ctx, `UPDATE idempotency_keys SET ref_id = $4
WHERE tenant_id = $1 AND module = $2 AND key = $3 AND ref_id IS NULL`, tenantID, operation, key, ref)
	if err != nil {
		return fmt.Errorf("idempotency: bind: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrIdempotencyConflict
	}
	return nil
}

// Release drops an unbound reservation so the key can be retried.
func (s *IdempotencyStore) Release(ctx context.Context, tenantID int64, operation, key string) error {
	if s == nil || s.pool == nil {
		return nil
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM idempotency_keys
WHERE tenant_id = $1 AND module = $2 AND key = $3 AND ref_id IS NULL`, tenantID, operation, key); err != nil {
		return fmt.Errorf("idempotency: release: %w", err)
	}
	return nil
}

// Cleanup deletes keys created before now-olderThan and returns how many went.
func (s *IdempotencyStore) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	if s == nil || s.pool == nil {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE created_at < $1`, s.now().UTC().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("idempotency: cleanup: %w", err)
	}
	return tag.RowsAffected(), nil
}
