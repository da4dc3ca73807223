package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	apperrors "github.com/OsmanovRuslan/EcoSharing-sub001/pkg/errors"
	"github.com/OsmanovRuslan/EcoSharing-sub001/services/auth/internal/domain"
	"github.com/OsmanovRuslan/EcoSharing-sub001/services/auth/internal/event"
	"github.com/OsmanovRuslan/EcoSharing-sub001/services/auth/internal/repository"
	"github.com/OsmanovRuslan/EcoSharing-sub001/services/auth/internal/telegram"
)

// TelegramAuthenticator signs Mini App users in by their Telegram id and
// binds Telegram accounts to credentials. Every call is self-contained; no
// state is kept between an AUTH_REQUIRED answer and the follow-up login or
// registration.
type TelegramAuthenticator struct {
	verifier    *telegram.Verifier
	credentials repository.CredentialRepository
	passwords   *PasswordAuthenticator
	sessions    *SessionManager
	producer    *event.Producer
	logger      *slog.Logger
}

// NewTelegramAuthenticator creates a new Telegram authenticator.
func NewTelegramAuthenticator(
	verifier *telegram.Verifier,
	credentials repository.CredentialRepository,
	passwords *PasswordAuthenticator,
	sessions *SessionManager,
	producer *event.Producer,
	logger *slog.Logger,
) *TelegramAuthenticator {
	return &TelegramAuthenticator{
		verifier:    verifier,
		credentials: credentials,
		passwords:   passwords,
		sessions:    sessions,
		producer:    producer,
		logger:      logger,
	}
}

// Verify checks init data and returns the Telegram user it carries.
func (t *TelegramAuthenticator) Verify(initData string) (*domain.TelegramUser, error) {
	return t.verifier.Verify(initData)
}

// Authenticate signs in the credential bound to the Telegram user of
// initData. When no credential is bound the result asks the client to log
// in or register, and nothing is written.
func (t *TelegramAuthenticator) Authenticate(ctx context.Context, initData string) (*domain.TelegramAuthResult, error) {
	user, err := t.verifier.Verify(initData)
	if err != nil {
		LoginAttempts.WithLabelValues(methodTelegram, outcomeFailure).Inc()
		return nil, err
	}

	c, err := t.credentials.FindByTelegramID(ctx, user.ID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return &domain.TelegramAuthResult{
				Status:       domain.TelegramAuthRequired,
				TelegramUser: user,
			}, nil
		}
		return nil, fmt.Errorf("find credential by telegram id: %w", err)
	}
	if !c.Active {
		LoginAttempts.WithLabelValues(methodTelegram, outcomeFailure).Inc()
		return nil, domain.AccountInactive()
	}

	tokens, err := t.sessions.Create(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	LoginAttempts.WithLabelValues(methodTelegram, outcomeSuccess).Inc()

	t.logger.InfoContext(ctx, "credential logged in",
		slog.String("credential_id", c.ID),
		slog.String("method", methodTelegram),
	)
	return &domain.TelegramAuthResult{
		Status: domain.TelegramAuthSuccess,
		Tokens: tokens,
	}, nil
}

// Login checks the password of an existing credential, binds telegramID to
// it and starts a session.
func (t *TelegramAuthenticator) Login(ctx context.Context, telegramID int64, login, password string) (*domain.TokenPair, error) {
	if telegramID <= 0 {
		return nil, domain.ValidationError("telegram id must be positive")
	}

	c, err := t.passwords.authenticate(ctx, login, password, methodTelegram)
	if err != nil {
		return nil, err
	}

	alreadyBound := c.TelegramID != nil && *c.TelegramID == telegramID
	if !alreadyBound {
		if err := t.credentials.BindTelegramID(ctx, c.ID, telegramID); err != nil {
			if errors.Is(err, domain.ErrTelegramIDAlreadyBound) {
				t.logger.WarnContext(ctx, "telegram bind rejected",
					slog.String("credential_id", c.ID),
					slog.Int64("telegram_id", telegramID),
				)
				return nil, err
			}
			return nil, fmt.Errorf("bind telegram id: %w", err)
		}
		bound := telegramID
		c.TelegramID = &bound
		t.publishBound(ctx, c.ID, telegramID)
	}

	return t.passwords.startSession(ctx, c)
}

// Register creates a credential already bound to telegramID and starts a
// session.
func (t *TelegramAuthenticator) Register(ctx context.Context, telegramID int64, in RegisterInput) (*domain.TokenPair, error) {
	if telegramID <= 0 {
		return nil, domain.ValidationError("telegram id must be positive")
	}

	exists, err := t.credentials.ExistsByTelegramID(ctx, telegramID)
	if err != nil {
		return nil, fmt.Errorf("check telegram id: %w", err)
	}
	if exists {
		Registrations.WithLabelValues(methodTelegram, outcomeFailure).Inc()
		return nil, domain.TelegramIDAlreadyBound()
	}

	c, err := t.passwords.register(ctx, in, &telegramID)
	if err != nil {
		Registrations.WithLabelValues(methodTelegram, outcomeFailure).Inc()
		return nil, err
	}
	t.publishBound(ctx, c.ID, telegramID)

	tokens, err := t.passwords.startSession(ctx, c)
	if err != nil {
		Registrations.WithLabelValues(methodTelegram, outcomeFailure).Inc()
		return nil, err
	}
	Registrations.WithLabelValues(methodTelegram, outcomeSuccess).Inc()
	return tokens, nil
}

func (t *TelegramAuthenticator) publishBound(ctx context.Context, credentialID string, telegramID int64) {
	if err := t.producer.PublishTelegramBound(ctx, credentialID, telegramID); err != nil {
		t.logger.ErrorContext(ctx, "failed to publish telegram.bound event",
			slog.String("credential_id", credentialID),
			slog.String("error", err.Error()),
		)
	}
	t.logger.InfoContext(ctx, "telegram account bound",
		slog.String("credential_id", credentialID),
		slog.Int64("telegram_id", telegramID),
	)
}
