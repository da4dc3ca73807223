package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	apperrors "github.com/OsmanovRuslan/EcoSharing-sub001/pkg/errors"
	"github.com/OsmanovRuslan/EcoSharing-sub001/pkg/logger"
	"github.com/OsmanovRuslan/EcoSharing-sub001/pkg/validator"
	"github.com/OsmanovRuslan/EcoSharing-sub001/services/auth/internal/crypto"
	"github.com/OsmanovRuslan/EcoSharing-sub001/services/auth/internal/domain"
	"github.com/OsmanovRuslan/EcoSharing-sub001/services/auth/internal/event"
	"github.com/OsmanovRuslan/EcoSharing-sub001/services/auth/internal/profile"
	"github.com/OsmanovRuslan/EcoSharing-sub001/services/auth/internal/repository"
)

// DefaultBcryptCost is the cost factor for bcrypt password hashing.
const DefaultBcryptCost = 12

// compensationTimeout bounds the credential rollback of a failed
// registration, which runs even when the request context is already done.
const compensationTimeout = 5 * time.Second

const (
	methodPassword = "password"
	methodTelegram = "telegram"
)

// ProfileClient is the profile service as seen by registration.
type ProfileClient interface {
	CheckAvailability(ctx context.Context, username, email string) (domain.Availability, error)
	CreateProfile(ctx context.Context, in profile.CreateProfileInput) error
}

// PasswordConfig holds the tunables of the password authenticator.
type PasswordConfig struct {
	BcryptCost     int
	ProfileTimeout time.Duration

	// Activation codes grant an elevated role at registration. An empty
	// code disables that path.
	AdminActivationCode     string
	ModeratorActivationCode string
}

// LoginInput holds the parameters for a password login.
type LoginInput struct {
	Login    string `json:"login" validate:"required,max=254"`
	Password string `json:"password" validate:"required,max=72"`
}

// RegisterInput holds the parameters for registering a new credential.
type RegisterInput struct {
	Username       string `json:"username" validate:"required,username"`
	Email          string `json:"email" validate:"required,email,max=254"`
	Password       string `json:"password" validate:"required,password"`
	ActivationCode string `json:"activation_code" validate:"omitempty,max=256"`
	Profile        domain.ProfileFields
}

// PasswordAuthenticator implements login and registration with a username
// or email and a password.
type PasswordAuthenticator struct {
	credentials repository.CredentialRepository
	sessions    *SessionManager
	profiles    ProfileClient
	limiter     repository.LoginAttemptLimiter
	producer    *event.Producer
	cfg         PasswordConfig
	logger      *slog.Logger

	// dummyHash is compared against for unknown logins so their response
	// time matches a wrong password.
	dummyHash []byte
}

// NewPasswordAuthenticator creates a new password authenticator.
func NewPasswordAuthenticator(
	credentials repository.CredentialRepository,
	sessions *SessionManager,
	profiles ProfileClient,
	limiter repository.LoginAttemptLimiter,
	producer *event.Producer,
	cfg PasswordConfig,
	logger *slog.Logger,
) (*PasswordAuthenticator, error) {
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = DefaultBcryptCost
	}
	if cfg.BcryptCost < bcrypt.MinCost || cfg.BcryptCost > bcrypt.MaxCost {
		return nil, fmt.Errorf("bcrypt cost %d out of range [%d, %d]", cfg.BcryptCost, bcrypt.MinCost, bcrypt.MaxCost)
	}

	dummyHash, err := bcrypt.GenerateFromPassword([]byte(uuid.NewString()), cfg.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("generate dummy hash: %w", err)
	}

	return &PasswordAuthenticator{
		credentials: credentials,
		sessions:    sessions,
		profiles:    profiles,
		limiter:     limiter,
		producer:    producer,
		cfg:         cfg,
		logger:      logger,
		dummyHash:   dummyHash,
	}, nil
}

// Login checks the password of the credential matching in.Login and starts
// a new session.
func (a *PasswordAuthenticator) Login(ctx context.Context, in LoginInput) (*domain.TokenPair, error) {
	c, err := a.authenticate(ctx, in.Login, in.Password, methodPassword)
	if err != nil {
		return nil, err
	}

	tokens, err := a.sessions.Create(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	a.logger.InfoContext(ctx, "credential logged in",
		slog.String("credential_id", c.ID),
		slog.String("method", methodPassword),
	)
	return tokens, nil
}

// Authenticate checks login and password without starting a session.
func (a *PasswordAuthenticator) Authenticate(ctx context.Context, login, password string) (*domain.Credential, error) {
	return a.authenticate(ctx, login, password, methodPassword)
}

func (a *PasswordAuthenticator) authenticate(ctx context.Context, login, password, method string) (*domain.Credential, error) {
	login = strings.TrimSpace(login)
	if err := validator.Validate(LoginInput{Login: login, Password: password}); err != nil {
		return nil, domain.ValidationError(err.Error())
	}

	key := attemptKey(ctx, login)
	allowed, err := a.limiter.Allow(ctx, key)
	if err != nil {
		a.logger.WarnContext(ctx, "login attempt limiter unavailable",
			slog.String("error", err.Error()),
		)
		allowed = true
	}
	if !allowed {
		LoginAttempts.WithLabelValues(method, outcomeLimited).Inc()
		return nil, domain.RateLimited()
	}

	c, err := a.credentials.FindByLogin(ctx, login)
	if err != nil {
		if !errors.Is(err, apperrors.ErrNotFound) {
			return nil, fmt.Errorf("find credential: %w", err)
		}
		_ = bcrypt.CompareHashAndPassword(a.dummyHash, []byte(password))
		LoginAttempts.WithLabelValues(method, outcomeFailure).Inc()
		return nil, domain.InvalidCredentials()
	}

	if err := bcrypt.CompareHashAndPassword([]byte(c.PasswordHash), []byte(password)); err != nil {
		LoginAttempts.WithLabelValues(method, outcomeFailure).Inc()
		return nil, domain.InvalidCredentials()
	}
	if !c.Active {
		LoginAttempts.WithLabelValues(method, outcomeFailure).Inc()
		return nil, domain.AccountInactive()
	}

	if err := a.limiter.Reset(ctx, key); err != nil {
		a.logger.WarnContext(ctx, "failed to reset login attempts",
			slog.String("credential_id", c.ID),
			slog.String("error", err.Error()),
		)
	}
	LoginAttempts.WithLabelValues(method, outcomeSuccess).Inc()
	return c, nil
}

type clientIPKey struct{}

// WithClientIP returns a copy of ctx carrying the caller's IP address.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey{}, ip)
}

// ClientIPFromContext returns the caller's IP address stored in ctx, if any.
func ClientIPFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey{}).(string)
	return ip
}

// attemptKey scopes login attempts to the login and, when known, the client
// IP, so failures from one address cannot lock the account out for others.
func attemptKey(ctx context.Context, login string) string {
	if ip := ClientIPFromContext(ctx); ip != "" {
		return login + "|" + ip
	}
	return login
}

// Register creates a credential and its profile, then starts a session.
func (a *PasswordAuthenticator) Register(ctx context.Context, in RegisterInput) (*domain.TokenPair, error) {
	c, err := a.register(ctx, in, nil)
	if err != nil {
		Registrations.WithLabelValues(methodPassword, outcomeFailure).Inc()
		return nil, err
	}

	tokens, err := a.startSession(ctx, c)
	if err != nil {
		Registrations.WithLabelValues(methodPassword, outcomeFailure).Inc()
		return nil, err
	}
	Registrations.WithLabelValues(methodPassword, outcomeSuccess).Inc()
	return tokens, nil
}

// register runs the registration saga: availability check, credential
// insert, profile creation, and on profile failure the compensating delete
// of the credential. A non-nil telegramID is written in the same insert.
func (a *PasswordAuthenticator) register(ctx context.Context, in RegisterInput, telegramID *int64) (*domain.Credential, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if err := validator.Validate(in); err != nil {
		return nil, domain.ValidationError(err.Error())
	}

	roles, err := a.resolveRoles(in.ActivationCode)
	if err != nil {
		return nil, err
	}

	if err := a.checkAvailability(ctx, in.Username, in.Email); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), a.cfg.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	now := time.Now().UTC()
	c := &domain.Credential{
		ID:           uuid.New().String(),
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: string(hash),
		TelegramID:   telegramID,
		Roles:        roles,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := a.credentials.Create(ctx, c); err != nil {
		switch {
		case errors.Is(err, domain.ErrDuplicateIdentity):
			return nil, domain.IdentityTaken("username or email is already taken")
		case errors.Is(err, domain.ErrTelegramIDAlreadyBound):
			return nil, err
		default:
			return nil, fmt.Errorf("create credential: %w", err)
		}
	}

	if err := a.createProfile(ctx, c, in.Profile); err != nil {
		a.compensate(ctx, c, err)
		return nil, domain.UpstreamUnavailable(err)
	}

	a.auditRoleGrants(ctx, c)

	if err := a.producer.PublishCredentialRegistered(ctx, c); err != nil {
		a.logger.ErrorContext(ctx, "failed to publish credential.registered event",
			slog.String("credential_id", c.ID),
			slog.String("error", err.Error()),
		)
	}

	a.logger.InfoContext(ctx, "credential registered",
		slog.String("credential_id", c.ID),
		slog.String("username", c.Username),
		slog.Bool("telegram_bound", telegramID != nil),
	)
	return c, nil
}

func (a *PasswordAuthenticator) startSession(ctx context.Context, c *domain.Credential) (*domain.TokenPair, error) {
	tokens, err := a.sessions.Create(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return tokens, nil
}

// resolveRoles maps an activation code to the roles of a new credential.
// Codes are compared in constant time against both configured secrets.
func (a *PasswordAuthenticator) resolveRoles(code string) ([]domain.Role, error) {
	roles := []domain.Role{domain.RoleUser}
	if code == "" {
		return roles, nil
	}

	admin := a.cfg.AdminActivationCode != "" && crypto.ConstantTimeEqualsString(code, a.cfg.AdminActivationCode)
	moderator := a.cfg.ModeratorActivationCode != "" && crypto.ConstantTimeEqualsString(code, a.cfg.ModeratorActivationCode)

	switch {
	case admin:
		return append(roles, domain.RoleAdmin), nil
	case moderator:
		return append(roles, domain.RoleModerator), nil
	default:
		return nil, domain.ValidationError("activation code is invalid")
	}
}

func (a *PasswordAuthenticator) checkAvailability(ctx context.Context, username, email string) error {
	ctx, cancel := a.profileContext(ctx)
	defer cancel()

	availability, err := a.profiles.CheckAvailability(ctx, username, email)
	if err != nil {
		a.logger.WarnContext(ctx, "profile availability check failed",
			slog.String("error", err.Error()),
		)
		return domain.UpstreamUnavailable(err)
	}

	switch {
	case !availability.UsernameAvailable && !availability.EmailAvailable:
		return domain.IdentityTaken("username and email are already taken")
	case !availability.UsernameAvailable:
		return domain.IdentityTaken("username is already taken")
	case !availability.EmailAvailable:
		return domain.IdentityTaken("email is already taken")
	}
	return nil
}

func (a *PasswordAuthenticator) createProfile(ctx context.Context, c *domain.Credential, fields domain.ProfileFields) error {
	ctx, cancel := a.profileContext(ctx)
	defer cancel()

	return a.profiles.CreateProfile(ctx, profile.CreateProfileInput{
		CredentialID:  c.ID,
		Username:      c.Username,
		Email:         c.Email,
		TelegramID:    c.TelegramID,
		ProfileFields: fields,
	})
}

func (a *PasswordAuthenticator) profileContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.cfg.ProfileTimeout > 0 {
		return context.WithTimeout(ctx, a.cfg.ProfileTimeout)
	}
	return context.WithCancel(ctx)
}

// compensate deletes a credential whose profile could not be created. A
// failed delete leaves a credential without a profile and is raised as a
// consistency alert for manual reconciliation.
func (a *PasswordAuthenticator) compensate(ctx context.Context, c *domain.Credential, cause error) {
	a.logger.WarnContext(ctx, "profile creation failed, removing credential",
		slog.String("credential_id", c.ID),
		slog.String("error", cause.Error()),
	)

	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()

	err := a.credentials.Delete(dctx, c.ID)
	if err == nil {
		return
	}

	ConsistencyAlerts.Inc()
	logger.Alert(ctx, a.logger, "consistency", "registration compensation failed, credential has no profile",
		slog.String("credential_id", c.ID),
		slog.String("username", c.Username),
		slog.String("profile_error", cause.Error()),
		slog.String("error", err.Error()),
	)
	if perr := a.producer.PublishConsistencyAlert(dctx, c.ID, "delete_credential", err); perr != nil {
		a.logger.ErrorContext(ctx, "failed to publish consistency.alert event",
			slog.String("credential_id", c.ID),
			slog.String("error", perr.Error()),
		)
	}
}

func (a *PasswordAuthenticator) auditRoleGrants(ctx context.Context, c *domain.Credential) {
	for _, role := range c.Roles {
		if role == domain.RoleUser {
			continue
		}

		RoleGrants.WithLabelValues(string(role)).Inc()
		a.logger.WarnContext(ctx, "elevated role granted by activation code",
			slog.Bool("audit", true),
			slog.String("credential_id", c.ID),
			slog.String("username", c.Username),
			slog.String("role", string(role)),
		)
		if err := a.producer.PublishRoleGranted(ctx, c, role); err != nil {
			a.logger.ErrorContext(ctx, "failed to publish role.granted event",
				slog.String("credential_id", c.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// Logout revokes every session of the credential. It is idempotent.
func (a *PasswordAuthenticator) Logout(ctx context.Context, credentialID string) error {
	n, err := a.sessions.Revoke(ctx, credentialID)
	if err != nil {
		return err
	}

	if err := a.producer.PublishSessionRevoked(ctx, credentialID, n); err != nil {
		a.logger.ErrorContext(ctx, "failed to publish session.revoked event",
			slog.String("credential_id", credentialID),
			slog.String("error", err.Error()),
		)
	}

	a.logger.InfoContext(ctx, "credential logged out",
		slog.String("credential_id", credentialID),
		slog.Int64("revoked", n),
	)
	return nil
}

// Refresh rotates a refresh token into a new token pair.
func (a *PasswordAuthenticator) Refresh(ctx context.Context, refreshToken string) (*domain.TokenPair, error) {
	return a.sessions.Rotate(ctx, refreshToken)
}
