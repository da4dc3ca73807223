package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/OsmanovRuslan/EcoSharing-sub001/pkg/database"
	apperrors "github.com/OsmanovRuslan/EcoSharing-sub001/pkg/errors"
	"github.com/OsmanovRuslan/EcoSharing-sub001/services/auth/internal/domain"
)

const (
	// Taking the owner's row lock first serializes every token mutation of
	// one credential and keeps lock order identical across operations.
	lockCredentialQuery = `SELECT id FROM credentials WHERE id = $1 FOR UPDATE`

	deleteOwnerTokensQuery = `DELETE FROM refresh_tokens WHERE credential_id = $1`

	insertTokenQuery = `
		INSERT INTO refresh_tokens (id, token_hash, credential_id, username, issued_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
)

// RefreshTokenRepository implements repository.RefreshTokenRepository using PostgreSQL.
type RefreshTokenRepository struct {
	db database.DBTX
}

// NewRefreshTokenRepository creates a new PostgreSQL-backed refresh token repository.
func NewRefreshTokenRepository(db database.DBTX) *RefreshTokenRepository {
	return &RefreshTokenRepository{db: db}
}

// Replace deletes all tokens of t's owner and inserts t in one transaction.
func (r *RefreshTokenRepository) Replace(ctx context.Context, t *domain.RefreshToken) (err error) {
	ctx, end := database.TraceQuery(ctx, "ReplaceRefreshToken", insertTokenQuery)
	defer func() { end(err) }()

	return database.InTx(ctx, r.db, func(tx pgx.Tx) error {
		if err := lockCredential(ctx, tx, t.CredentialID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, deleteOwnerTokensQuery, t.CredentialID); err != nil {
			return fmt.Errorf("delete refresh tokens: %w", err)
		}
		return insertToken(ctx, tx, t)
	})
}

// FindByHash retrieves a refresh token by the digest of its value.
func (r *RefreshTokenRepository) FindByHash(ctx context.Context, tokenHash string) (t *domain.RefreshToken, err error) {
	query := `
		SELECT id, token_hash, credential_id, username, issued_at, expires_at
		FROM refresh_tokens
		WHERE token_hash = $1`

	ctx, end := database.TraceQuery(ctx, "FindRefreshTokenByHash", query)
	defer func() { end(err) }()

	var rt domain.RefreshToken
	err = r.db.QueryRow(ctx, query, tokenHash).Scan(
		&rt.ID,
		&rt.TokenHash,
		&rt.CredentialID,
		&rt.Username,
		&rt.IssuedAt,
		&rt.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("scan refresh token: %w", err)
	}
	return &rt, nil
}

// Rotate consumes oldHash and stores next in one transaction. The
// conditional delete is what makes rotation single-use: a second caller
// holding the same token finds no live row once the first has committed.
func (r *RefreshTokenRepository) Rotate(ctx context.Context, oldHash string, next *domain.RefreshToken, now time.Time) (err error) {
	consume := `
		DELETE FROM refresh_tokens
		WHERE token_hash = $1 AND credential_id = $2 AND expires_at > $3`

	ctx, end := database.TraceQuery(ctx, "RotateRefreshToken", consume)
	defer func() { end(err) }()

	return database.InTx(ctx, r.db, func(tx pgx.Tx) error {
		if err := lockCredential(ctx, tx, next.CredentialID); err != nil {
			return err
		}

		ct, err := tx.Exec(ctx, consume, oldHash, next.CredentialID, now)
		if err != nil {
			return fmt.Errorf("consume refresh token: %w", err)
		}
		if ct.RowsAffected() != 1 {
			return domain.RefreshTokenNotFound()
		}

		if _, err := tx.Exec(ctx, deleteOwnerTokensQuery, next.CredentialID); err != nil {
			return fmt.Errorf("delete refresh tokens: %w", err)
		}
		return insertToken(ctx, tx, next)
	})
}

// DeleteByHash removes a single refresh token.
func (r *RefreshTokenRepository) DeleteByHash(ctx context.Context, tokenHash string) (err error) {
	query := `DELETE FROM refresh_tokens WHERE token_hash = $1`

	ctx, end := database.TraceQuery(ctx, "DeleteRefreshTokenByHash", query)
	defer func() { end(err) }()

	if _, err = r.db.Exec(ctx, query, tokenHash); err != nil {
		return fmt.Errorf("delete refresh token: %w", err)
	}
	return nil
}

// DeleteByCredential removes all refresh tokens of a credential under the
// owner's row lock.
func (r *RefreshTokenRepository) DeleteByCredential(ctx context.Context, credentialID string) (n int64, err error) {
	ctx, end := database.TraceQuery(ctx, "DeleteRefreshTokensByCredential", deleteOwnerTokensQuery)
	defer func() { end(err) }()

	err = database.InTx(ctx, r.db, func(tx pgx.Tx) error {
		if err := lockCredential(ctx, tx, credentialID); err != nil {
			if errors.Is(err, apperrors.ErrNotFound) {
				return nil
			}
			return err
		}
		ct, err := tx.Exec(ctx, deleteOwnerTokensQuery, credentialID)
		if err != nil {
			return fmt.Errorf("delete refresh tokens: %w", err)
		}
		n = ct.RowsAffected()
		return nil
	})
	return n, err
}

// CountByCredential returns the number of stored tokens of a credential.
func (r *RefreshTokenRepository) CountByCredential(ctx context.Context, credentialID string) (n int, err error) {
	query := `SELECT COUNT(*) FROM refresh_tokens WHERE credential_id = $1`

	ctx, end := database.TraceQuery(ctx, "CountRefreshTokens", query)
	defer func() { end(err) }()

	if err = r.db.QueryRow(ctx, query, credentialID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count refresh tokens: %w", err)
	}
	return n, nil
}

// DeleteExpired removes tokens that expired before now.
func (r *RefreshTokenRepository) DeleteExpired(ctx context.Context, now time.Time) (n int64, err error) {
	query := `DELETE FROM refresh_tokens WHERE expires_at < $1`

	ctx, end := database.TraceQuery(ctx, "DeleteExpiredRefreshTokens", query)
	defer func() { end(err) }()

	ct, err := r.db.Exec(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired refresh tokens: %w", err)
	}
	return ct.RowsAffected(), nil
}

func lockCredential(ctx context.Context, tx pgx.Tx, credentialID string) error {
	ct, err := tx.Exec(ctx, lockCredentialQuery, credentialID)
	if err != nil {
		return fmt.Errorf("lock credential: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("credential", credentialID)
	}
	return nil
}

func insertToken(ctx context.Context, tx pgx.Tx, t *domain.RefreshToken) error {
	_, err := tx.Exec(ctx, insertTokenQuery,
		t.ID,
		t.TokenHash,
		t.CredentialID,
		t.Username,
		t.IssuedAt,
		t.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("insert refresh token: %w", err)
	}
	return nil
}
