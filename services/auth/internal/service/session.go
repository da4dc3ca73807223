package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/OsmanovRuslan/EcoSharing-sub001/pkg/errors"
	"github.com/OsmanovRuslan/EcoSharing-sub001/services/auth/internal/auth"
	"github.com/OsmanovRuslan/EcoSharing-sub001/services/auth/internal/crypto"
	"github.com/OsmanovRuslan/EcoSharing-sub001/services/auth/internal/domain"
	"github.com/OsmanovRuslan/EcoSharing-sub001/services/auth/internal/repository"
)

// SessionManager owns the refresh token lifecycle: creation on login,
// single-use rotation, revocation and expiry cleanup. Only SHA-256 digests
// of refresh token values are stored.
type SessionManager struct {
	tokens      repository.RefreshTokenRepository
	credentials repository.CredentialRepository
	issuer      *auth.TokenIssuer
	logger      *slog.Logger
	now         func() time.Time
}

// NewSessionManager creates a new session manager.
func NewSessionManager(
	tokens repository.RefreshTokenRepository,
	credentials repository.CredentialRepository,
	issuer *auth.TokenIssuer,
	logger *slog.Logger,
) *SessionManager {
	return &SessionManager{
		tokens:      tokens,
		credentials: credentials,
		issuer:      issuer,
		logger:      logger,
		now:         time.Now,
	}
}

// Create starts a new session for c. Any previous refresh token of c is
// invalidated.
func (s *SessionManager) Create(ctx context.Context, c *domain.Credential) (*domain.TokenPair, error) {
	value, rt, err := s.mint(c)
	if err != nil {
		return nil, err
	}

	if err := s.tokens.Replace(ctx, rt); err != nil {
		return nil, fmt.Errorf("store refresh token: %w", err)
	}

	pair, err := s.pair(c, value)
	if err != nil {
		return nil, err
	}
	SessionsCreated.Inc()
	return pair, nil
}

// Verify resolves a refresh token value to its stored record. An expired
// record is deleted on the way out.
func (s *SessionManager) Verify(ctx context.Context, value string) (*domain.RefreshToken, error) {
	if value == "" {
		return nil, domain.RefreshTokenNotFound()
	}

	hash := crypto.SHA256Hex(value)
	rt, err := s.tokens.FindByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, domain.RefreshTokenNotFound()
		}
		return nil, fmt.Errorf("find refresh token: %w", err)
	}

	if rt.Expired(s.now()) {
		if err := s.tokens.DeleteByHash(ctx, hash); err != nil {
			s.logger.WarnContext(ctx, "failed to delete expired refresh token",
				slog.String("credential_id", rt.CredentialID),
				slog.String("error", err.Error()),
			)
		}
		return nil, domain.RefreshTokenExpired()
	}
	return rt, nil
}

// Rotate exchanges a live refresh token for a new token pair. The presented
// token is consumed; presenting it again fails with RefreshTokenNotFound.
func (s *SessionManager) Rotate(ctx context.Context, value string) (*domain.TokenPair, error) {
	pair, err := s.rotate(ctx, value)
	if err != nil {
		TokenRefreshes.WithLabelValues(outcomeFailure).Inc()
		return nil, err
	}
	TokenRefreshes.WithLabelValues(outcomeSuccess).Inc()
	return pair, nil
}

func (s *SessionManager) rotate(ctx context.Context, value string) (*domain.TokenPair, error) {
	current, err := s.Verify(ctx, value)
	if err != nil {
		return nil, err
	}

	c, err := s.credentials.FindByID(ctx, current.CredentialID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, domain.RefreshTokenNotFound()
		}
		return nil, fmt.Errorf("load credential: %w", err)
	}
	if !c.Active {
		if _, err := s.Revoke(ctx, c.ID); err != nil {
			s.logger.WarnContext(ctx, "failed to revoke sessions of inactive credential",
				slog.String("credential_id", c.ID),
				slog.String("error", err.Error()),
			)
		}
		return nil, domain.AccountInactive()
	}

	nextValue, next, err := s.mint(c)
	if err != nil {
		return nil, err
	}
	if err := s.tokens.Rotate(ctx, current.TokenHash, next, s.now().UTC()); err != nil {
		if errors.Is(err, domain.ErrRefreshTokenNotFound) {
			s.logger.WarnContext(ctx, "refresh token reuse rejected",
				slog.String("credential_id", c.ID),
			)
			return nil, err
		}
		return nil, fmt.Errorf("rotate refresh token: %w", err)
	}

	s.logger.InfoContext(ctx, "refresh token rotated",
		slog.String("credential_id", c.ID),
	)
	return s.pair(c, nextValue)
}

// Revoke deletes every refresh token of the credential and returns how many
// were removed. Revoking a credential without tokens is not an error.
func (s *SessionManager) Revoke(ctx context.Context, credentialID string) (int64, error) {
	n, err := s.tokens.DeleteByCredential(ctx, credentialID)
	if err != nil {
		return 0, fmt.Errorf("revoke refresh tokens: %w", err)
	}
	return n, nil
}

// Sweep removes refresh tokens that have already expired.
func (s *SessionManager) Sweep(ctx context.Context) (int64, error) {
	n, err := s.tokens.DeleteExpired(ctx, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("sweep refresh tokens: %w", err)
	}
	if n > 0 {
		RefreshTokensSwept.Add(float64(n))
		s.logger.InfoContext(ctx, "expired refresh tokens swept", slog.Int64("count", n))
	}
	return n, nil
}

// RunSweeper calls Sweep every interval until ctx is cancelled. Sweep
// failures are logged and retried on the next tick.
func (s *SessionManager) RunSweeper(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		s.logger.InfoContext(ctx, "refresh token sweeper disabled")
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.InfoContext(ctx, "refresh token sweeper started", slog.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "refresh token sweeper stopped")
			return nil
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
				s.logger.ErrorContext(ctx, "refresh token sweep failed",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// mint generates a refresh token value and the record stored for it.
func (s *SessionManager) mint(c *domain.Credential) (string, *domain.RefreshToken, error) {
	value, err := s.issuer.IssueRefreshToken()
	if err != nil {
		return "", nil, fmt.Errorf("generate refresh token: %w", err)
	}

	now := s.now().UTC()
	return value, &domain.RefreshToken{
		ID:           uuid.New().String(),
		TokenHash:    crypto.SHA256Hex(value),
		CredentialID: c.ID,
		Username:     c.Username,
		IssuedAt:     now,
		ExpiresAt:    now.Add(s.issuer.RefreshTTL()),
	}, nil
}

func (s *SessionManager) pair(c *domain.Credential, refreshValue string) (*domain.TokenPair, error) {
	access, expiresInMs, err := s.issuer.IssueAccessToken(c)
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}

	return &domain.TokenPair{
		AccessToken:        access,
		RefreshToken:       refreshValue,
		TokenType:          domain.TokenTypeBearer,
		SubjectID:          c.ID,
		Roles:              domain.RoleNames(c.Roles),
		AccessExpiresInMs:  expiresInMs,
		RefreshExpiresInMs: s.issuer.RefreshTTL().Milliseconds(),
	}, nil
}
