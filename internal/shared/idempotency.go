package shared

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"golang.org/x/crypto/blake2b"
)

// DBTX is satisfied by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// IdempotencyStore persists processed keys.
type IdempotencyStore struct {
	db DBTX
}

// NewIdempotencyStore constructs the store.
func NewIdempotencyStore(db DBTX) *IdempotencyStore {
	return &IdempotencyStore{db: db}
}

// ErrIdempotencyReplay matches every *ReplayError.
var ErrIdempotencyReplay = errors.New("idempotent request already processed")

// ReplayError reports a key already processed with the same payload. ResultID
// is the id recorded with the key, zero when none was recorded.
type ReplayError struct {
	ResultID int64
}

func (e *ReplayError) Error() string {
	return ErrIdempotencyReplay.Error()
}

// Is lets errors.Is(err, ErrIdempotencyReplay) match.
func (e *ReplayError) Is(target error) bool {
	return target == ErrIdempotencyReplay
}

// ErrIdempotencyMismatch indicates a key reused with a different payload.
var ErrIdempotencyMismatch = fmt.Errorf("idempotency key reused with a different request: %w", ErrValidation)

// Fingerprint hashes request parts so a replayed key can be compared with the original payload.
func Fingerprint(parts ...string) string {
	h, _ := blake2b.New256(nil)
	for _, p := range parts {
		_, _ = h.Write([]byte(p))
		_, _ = h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Claim records the key inside the caller's transaction. A replay of the same
// payload yields a *ReplayError, a different payload ErrIdempotencyMismatch.
func (s *IdempotencyStore) Claim(ctx context.Context, db DBTX, tenantID, module, key, fingerprint string) error {
	if key == "" {
		return errors.New("idempotency key required")
	}
	if module == "" {
		return errors.New("idempotency module required")
	}
	if db == nil && s != nil {
		db = s.db
	}
	if db == nil {
		return errors.New("idempotency store not initialised")
	}
	var inserted string
	err := db.QueryRow(ctx, `INSERT INTO idempotency_keys (tenant_id, key, module, fingerprint, created_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (tenant_id, module, key) DO NOTHING
RETURNING key`, tenantID, key, module, fingerprint, time.Now().UTC()).Scan(&inserted)
	if err == nil {
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return err
	}
	var (
		stored   string
		resultID *int64
	)
	if err := db.QueryRow(ctx, `SELECT fingerprint, result_id FROM idempotency_keys WHERE tenant_id=$1 AND module=$2 AND key=$3`,
		tenantID, module, key).Scan(&stored, &resultID); err != nil {
		return err
	}
	if stored != fingerprint {
		return ErrIdempotencyMismatch
	}
	replay := &ReplayError{}
	if resultID != nil {
		replay.ResultID = *resultID
	}
	return replay
}

// RecordResult stores the id of what a claimed key produced so a replay can
// return it. It must run in the transaction that claimed the key.
func (s *IdempotencyStore) RecordResult(ctx context.Context, db DBTX, tenantID, module, key string, resultID int64) error {
	if db == nil && s != nil {
		db = s.db
	}
	if db == nil {
		return errors.New("idempotency store not initialised")
	}
	tag, err := db.Exec(ctx, `UPDATE idempotency_keys SET result_id=$4 WHERE tenant_id=$1 AND module=$2 AND key=$3`,
		tenantID, module, key, resultID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("idempotency key %q not claimed", key)
	}
	return nil
}

// Cleanup removes entries older than retention and reports how many were deleted.
func (s *IdempotencyStore) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	cutoff := time.Now().Add(-olderThan)
	tag, err := s.db.Exec(ctx, `DELETE FROM idempotency_keys WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
