package auth

import (
	"context"
	"database/sql"
	"time"
)

type RevocationRegistry interface {
	Revoke(ctx context.Context, token RevokedToken) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// RevocationStore persists revoked token identifiers in revoked_tokens.
type RevocationStore struct {
	db *sql.DB
}

func NewRevocationStore(db *sql.DB) *RevocationStore {
	return &RevocationStore{db: db}
}

// Revoke is an atomic set-add; revoking a jti twice is a no-op.
func (s *RevocationStore) Revoke(ctx context.Context, token RevokedToken) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_tokens (jti, user_id, kind, revoked_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (jti) DO NOTHING
	`, token.JTI, token.UserID, string(token.Kind), token.RevokedAt.UTC(), token.ExpiresAt.UTC())
	if err != nil {
		return storageError("insert revoked token", err)
	}
	return nil
}

func (s *RevocationStore) IsRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM revoked_tokens WHERE jti = $1)
	`, jti).Scan(&revoked)
	if err != nil {
		return false, storageError("query revoked token", err)
	}
	return revoked, nil
}

// PruneExpired deletes up to batchSize records whose token would fail validation on expiry alone.
func (s *RevocationStore) PruneExpired(ctx context.Context, now time.Time, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = 500
	}

	res, err := s.db.ExecContext(ctx, `
		WITH stale AS (
			SELECT jti
			FROM revoked_tokens
			WHERE expires_at < $1
			ORDER BY expires_at ASC
			LIMIT $2
		)
		DELETE FROM revoked_tokens t
		USING stale
		WHERE t.jti = stale.jti
	`, now.UTC(), batchSize)
	if err != nil {
		return 0, storageError("delete expired revoked tokens", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, storageError("expired revoked tokens rows affected", err)
	}
	return affected, nil
}
