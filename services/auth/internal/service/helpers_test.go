package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	pkgkafka "github.com/OsmanovRuslan/EcoSharing-sub001/pkg/kafka"
	"github.com/OsmanovRuslan/EcoSharing-sub001/services/auth/internal/auth"
	"github.com/OsmanovRuslan/EcoSharing-sub001/services/auth/internal/domain"
	"github.com/OsmanovRuslan/EcoSharing-sub001/services/auth/internal/event"
	"github.com/OsmanovRuslan/EcoSharing-sub001/services/auth/internal/profile"
	"github.com/OsmanovRuslan/EcoSharing-sub001/services/auth/internal/repository"
	"github.com/OsmanovRuslan/EcoSharing-sub001/services/auth/internal/repository/memory"
	"github.com/OsmanovRuslan/EcoSharing-sub001/services/auth/internal/telegram"
)

const (
	testJWTSecret     = "test-secret-key-that-is-long-enough-for-hs256"
	testBotToken      = "123456:ABC-DEF1234ghIkl-zyx57W2v1u123ew11"
	testAdminCode     = "admin-activation-code-0001"
	testModeratorCode = "moderator-activation-code-01"
	testPassword      = "Str0ng!Pass"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestIssuer() *auth.TokenIssuer {
	return auth.NewTokenIssuer(testJWTSecret, "auth-service", 15*time.Minute, 30*24*time.Hour)
}

// --- Mock Profile Client ---

type mockProfileClient struct {
	mock.Mock
}

func (m *mockProfileClient) CheckAvailability(ctx context.Context, username, email string) (domain.Availability, error) {
	args := m.Called(ctx, username, email)
	return args.Get(0).(domain.Availability), args.Error(1)
}

func (m *mockProfileClient) CreateProfile(ctx context.Context, in profile.CreateProfileInput) error {
	args := m.Called(ctx, in)
	return args.Error(0)
}

func (m *mockProfileClient) allowAll() {
	m.On("CheckAvailability", mock.Anything, mock.Anything, mock.Anything).
		Return(domain.Availability{UsernameAvailable: true, EmailAvailable: true}, nil)
	m.On("CreateProfile", mock.Anything, mock.Anything).Return(nil)
}

// --- Mock Login Attempt Limiter ---

type mockLimiter struct {
	mock.Mock
}

func (m *mockLimiter) Allow(ctx context.Context, login string) (bool, error) {
	args := m.Called(ctx, login)
	return args.Bool(0), args.Error(1)
}

func (m *mockLimiter) Reset(ctx context.Context, login string) error {
	args := m.Called(ctx, login)
	return args.Error(0)
}

// --- Recording event publisher ---

type recordingPublisher struct {
	mu     sync.Mutex
	topics []string
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, topic string, _ *pkgkafka.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.topics = append(p.topics, topic)
	return nil
}

func (p *recordingPublisher) published() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.topics...)
}

// --- Credential repository with an injectable Delete failure ---

type failingDeleteRepository struct {
	repository.CredentialRepository
	err error
}

func (r *failingDeleteRepository) Delete(context.Context, string) error {
	return r.err
}

// --- Refresh token repository with an injectable Replace failure ---

type failingReplaceRepository struct {
	repository.RefreshTokenRepository
	err error
}

func (r *failingReplaceRepository) Replace(context.Context, *domain.RefreshToken) error {
	return r.err
}

// --- Test environment ---

type testEnv struct {
	store       *memory.Store
	credentials repository.CredentialRepository
	tokens      repository.RefreshTokenRepository
	sessions    *SessionManager
	profiles    *mockProfileClient
	publisher   *recordingPublisher
	passwords   *PasswordAuthenticator
	telegram    *TelegramAuthenticator
	verifier    *telegram.Verifier
}

type envOption func(*envConfig)

type envConfig struct {
	credentials func(repository.CredentialRepository) repository.CredentialRepository
	tokens      func(repository.RefreshTokenRepository) repository.RefreshTokenRepository
	limiter     repository.LoginAttemptLimiter
	cfg         PasswordConfig
}

func withCredentials(wrap func(repository.CredentialRepository) repository.CredentialRepository) envOption {
	return func(c *envConfig) { c.credentials = wrap }
}

func withLimiter(l repository.LoginAttemptLimiter) envOption {
	return func(c *envConfig) { c.limiter = l }
}

func withTokens(wrap func(repository.RefreshTokenRepository) repository.RefreshTokenRepository) envOption {
	return func(c *envConfig) { c.tokens = wrap }
}

func withProfileTimeout(d time.Duration) envOption {
	return func(c *envConfig) { c.cfg.ProfileTimeout = d }
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	ec := envConfig{
		limiter: memory.NoopLimiter{},
		cfg: PasswordConfig{
			BcryptCost:              bcrypt.MinCost,
			ProfileTimeout:          time.Second,
			AdminActivationCode:     testAdminCode,
			ModeratorActivationCode: testModeratorCode,
		},
	}
	for _, opt := range opts {
		opt(&ec)
	}

	store := memory.New()
	var credentials repository.CredentialRepository = store.Credentials()
	if ec.credentials != nil {
		credentials = ec.credentials(credentials)
	}
	var tokens repository.RefreshTokenRepository = store.RefreshTokens()
	if ec.tokens != nil {
		tokens = ec.tokens(tokens)
	}

	logger := newTestLogger()
	publisher := &recordingPublisher{}
	producer := event.NewProducer(publisher, logger)
	profiles := &mockProfileClient{}

	sessions := NewSessionManager(tokens, credentials, newTestIssuer(), logger)
	passwords, err := NewPasswordAuthenticator(credentials, sessions, profiles, ec.limiter, producer, ec.cfg, logger)
	require.NoError(t, err)

	verifier := telegram.NewVerifier(testBotToken, 24*time.Hour)

	return &testEnv{
		store:       store,
		credentials: credentials,
		tokens:      tokens,
		sessions:    sessions,
		profiles:    profiles,
		publisher:   publisher,
		passwords:   passwords,
		telegram:    NewTelegramAuthenticator(verifier, credentials, passwords, sessions, producer, logger),
		verifier:    verifier,
	}
}

// seedCredential stores a credential with testPassword directly, bypassing
// registration.
func (e *testEnv) seedCredential(t *testing.T, username string, active bool, telegramID *int64) *domain.Credential {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	require.NoError(t, err)

	now := time.Now().UTC()
	c := &domain.Credential{
		ID:           "cred-" + username,
		Username:     username,
		Email:        username + "@example.com",
		PasswordHash: string(hash),
		TelegramID:   telegramID,
		Roles:        []domain.Role{domain.RoleUser},
		Active:       active,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, e.store.Credentials().Create(context.Background(), c))
	return c
}

func (e *testEnv) tokenCount(t *testing.T, credentialID string) int {
	t.Helper()
	n, err := e.tokens.CountByCredential(context.Background(), credentialID)
	require.NoError(t, err)
	return n
}

func (e *testEnv) initData(telegramID int64, firstName string) string {
	return e.verifier.Sign(url.Values{
		"query_id":  {"AAHdF6IQAAAAAN0XohDhrOrc"},
		"user":      {fmt.Sprintf(`{"id":%d,"first_name":%q,"username":"tg_user"}`, telegramID, firstName)},
		"auth_date": {strconv.FormatInt(time.Now().Unix(), 10)},
	})
}

func validRegisterInput() RegisterInput {
	return RegisterInput{
		Username: "alice",
		Email:    "a@x.com",
		Password: testPassword,
		Profile:  domain.ProfileFields{FirstName: "Alice"},
	}
}

func int64Ptr(v int64) *int64 { return &v }
