package repository

import (
	"context"
	"time"

	"github.com/OsmanovRuslan/EcoSharing-sub001/services/auth/internal/domain"
)

// CredentialRepository defines persistence operations for credentials.
// Lookups that find nothing return an error matching apperrors.ErrNotFound.
type CredentialRepository interface {
	// FindByLogin matches the username exactly or the email case-insensitively.
	FindByLogin(ctx context.Context, login string) (*domain.Credential, error)

	FindByID(ctx context.Context, id string) (*domain.Credential, error)

	FindByTelegramID(ctx context.Context, telegramID int64) (*domain.Credential, error)

	ExistsByTelegramID(ctx context.Context, telegramID int64) (bool, error)

	// CheckAvailability reports whether username and email are unused.
	CheckAvailability(ctx context.Context, username, email string) (domain.Availability, error)

	// Create inserts a credential. Unique violations map to
	// domain.ErrDuplicateIdentity (username, email) and
	// domain.ErrTelegramIDAlreadyBound (telegram id).
	Create(ctx context.Context, c *domain.Credential) error

	// BindTelegramID attaches telegramID to the credential. Rebinding the
	// same pair is a no-op; an id owned by another credential fails with
	// domain.ErrTelegramIDAlreadyBound.
	BindTelegramID(ctx context.Context, credentialID string, telegramID int64) error

	// Delete removes a credential. It is used only to compensate a failed
	// registration.
	Delete(ctx context.Context, id string) error
}

// RefreshTokenRepository defines persistence operations for refresh tokens.
// Every mutation for one credential is serialized against the others.
type RefreshTokenRepository interface {
	// Replace deletes every token of the owner and stores t, atomically.
	Replace(ctx context.Context, t *domain.RefreshToken) error

	// FindByHash returns the token with the given digest, expired or not.
	FindByHash(ctx context.Context, tokenHash string) (*domain.RefreshToken, error)

	// Rotate consumes the live token oldHash and stores next for the same
	// owner, atomically. It fails with domain.ErrRefreshTokenNotFound when
	// oldHash is no longer live, so only one of several concurrent calls
	// for the same token succeeds.
	Rotate(ctx context.Context, oldHash string, next *domain.RefreshToken, now time.Time) error

	// DeleteByHash removes a single token. Missing tokens are not an error.
	DeleteByHash(ctx context.Context, tokenHash string) error

	// DeleteByCredential removes every token of the owner and returns how
	// many were removed.
	DeleteByCredential(ctx context.Context, credentialID string) (int64, error)

	// CountByCredential returns the number of stored tokens of the owner.
	CountByCredential(ctx context.Context, credentialID string) (int, error)

	// DeleteExpired removes tokens with expires_at before now.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// LoginAttemptLimiter throttles password attempts per login.
type LoginAttemptLimiter interface {
	// Allow records an attempt under key and reports whether it is within
	// the limit. The key combines the login with the client IP when known.
	Allow(ctx context.Context, key string) (bool, error)

	// Reset clears the attempts recorded under key.
	Reset(ctx context.Context, key string) error
}
