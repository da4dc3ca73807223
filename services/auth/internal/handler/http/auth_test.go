package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/OsmanovRuslan/EcoSharing-sub001/pkg/health"
	"github.com/OsmanovRuslan/EcoSharing-sub001/pkg/httputil"
	"github.com/OsmanovRuslan/EcoSharing-sub001/services/auth/internal/auth"
	"github.com/OsmanovRuslan/EcoSharing-sub001/services/auth/internal/domain"
	"github.com/OsmanovRuslan/EcoSharing-sub001/services/auth/internal/event"
	"github.com/OsmanovRuslan/EcoSharing-sub001/services/auth/internal/profile"
	"github.com/OsmanovRuslan/EcoSharing-sub001/services/auth/internal/repository/memory"
	"github.com/OsmanovRuslan/EcoSharing-sub001/services/auth/internal/service"
	"github.com/OsmanovRuslan/EcoSharing-sub001/services/auth/internal/telegram"
)

const (
	testJWTSecret  = "test-secret-key-that-is-long-enough-for-hs256"
	testBotToken   = "123456:ABC-DEF1234ghIkl-zyx57W2v1u123ew11"
	testPassword   = "Str0ng!Pass"
	testTelegramID = int64(279058397)
)

// ============================================================================
// Test fixture
// ============================================================================

type stubProfileClient struct {
	availability domain.Availability
	createErr    error
	created      []profile.CreateProfileInput
}

func (s *stubProfileClient) CheckAvailability(context.Context, string, string) (domain.Availability, error) {
	return s.availability, nil
}

func (s *stubProfileClient) CreateProfile(_ context.Context, in profile.CreateProfileInput) error {
	if s.createErr != nil {
		return s.createErr
	}
	s.created = append(s.created, in)
	return nil
}

type fixture struct {
	handler  http.Handler
	store    *memory.Store
	profiles *stubProfileClient
	verifier *telegram.Verifier
}

func newFixture(t *testing.T, cfg RouterConfig) *fixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.New()
	issuer := auth.NewTokenIssuer(testJWTSecret, "auth-service", 15*time.Minute, 30*24*time.Hour)
	producer := event.NewProducer(event.NoopPublisher{}, logger)
	profiles := &stubProfileClient{availability: domain.Availability{UsernameAvailable: true, EmailAvailable: true}}

	sessions := service.NewSessionManager(store.RefreshTokens(), store.Credentials(), issuer, logger)
	passwords, err := service.NewPasswordAuthenticator(store.Credentials(), sessions, profiles, memory.NoopLimiter{}, producer,
		service.PasswordConfig{BcryptCost: bcrypt.MinCost, ProfileTimeout: time.Second}, logger)
	require.NoError(t, err)

	verifier := telegram.NewVerifier(testBotToken, 24*time.Hour)
	tg := service.NewTelegramAuthenticator(verifier, store.Credentials(), passwords, sessions, producer, logger)

	return &fixture{
		handler:  NewRouter(passwords, tg, issuer, health.NewHandler(), logger, cfg),
		store:    store,
		profiles: profiles,
		verifier: verifier,
	}
}

func (f *fixture) seed(t *testing.T, username string, active bool) *domain.Credential {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	require.NoError(t, err)

	c := &domain.Credential{
		ID:           "cred-" + username,
		Username:     username,
		Email:        username + "@example.com",
		PasswordHash: string(hash),
		Roles:        []domain.Role{domain.RoleUser},
		Active:       active,
	}
	require.NoError(t, f.store.Credentials().Create(context.Background(), c))
	return c
}

func (f *fixture) initData(telegramID int64) string {
	return f.verifier.Sign(url.Values{
		"user":      {fmt.Sprintf(`{"id":%d,"first_name":"Ivan","last_name":"Petrov"}`, telegramID)},
		"auth_date": {strconv.FormatInt(time.Now().Unix(), 10)},
	})
}

func (f *fixture) do(t *testing.T, method, path string, body any, bearer string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	return rr
}

func decodeTokens(t *testing.T, rr *httptest.ResponseRecorder) domain.TokenPair {
	t.Helper()
	var resp struct {
		Data domain.TokenPair `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	return resp.Data
}

func decodeErrorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var resp httputil.Response
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error, rr.Body.String())
	return resp.Error.Code
}

// ============================================================================
// Password endpoints
// ============================================================================

func TestLogin_Success(t *testing.T) {
	f := newFixture(t, RouterConfig{})
	c := f.seed(t, "alice", true)

	rr := f.do(t, http.MethodPost, "/api/v1/auth/login", LoginRequest{Login: "alice", Password: testPassword}, "")

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	tokens := decodeTokens(t, rr)
	assert.Equal(t, c.ID, tokens.SubjectID)
	assert.Equal(t, "Bearer", tokens.TokenType)
	assert.Equal(t, []string{"USER"}, tokens.Roles)
	assert.Equal(t, (15 * time.Minute).Milliseconds(), tokens.AccessExpiresInMs)
}

func TestLogin_Errors(t *testing.T) {
	tests := []struct {
		name       string
		body       any
		active     bool
		wantStatus int
		wantCode   string
	}{
		{"wrong password", LoginRequest{Login: "alice", Password: "Wr0ng!Pass"}, true, http.StatusUnauthorized, "INVALID_CREDENTIALS"},
		{"unknown login", LoginRequest{Login: "bob", Password: testPassword}, true, http.StatusUnauthorized, "INVALID_CREDENTIALS"},
		{"inactive", LoginRequest{Login: "alice", Password: testPassword}, false, http.StatusForbidden, "ACCOUNT_INACTIVE"},
		{"missing password", LoginRequest{Login: "alice"}, true, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"unknown field", map[string]string{"login": "alice", "password": testPassword, "role": "ADMIN"}, true, http.StatusBadRequest, "INVALID_INPUT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, RouterConfig{})
			f.seed(t, "alice", tt.active)

			rr := f.do(t, http.MethodPost, "/api/v1/auth/login", tt.body, "")

			assert.Equal(t, tt.wantStatus, rr.Code)
			assert.Equal(t, tt.wantCode, decodeErrorCode(t, rr))
		})
	}
}

func TestLogin_UnsupportedMediaType(t *testing.T) {
	f := newFixture(t, RouterConfig{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewBufferString("login=alice"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnsupportedMediaType, rr.Code)
}

func TestRegister_Created(t *testing.T) {
	f := newFixture(t, RouterConfig{})

	rr := f.do(t, http.MethodPost, "/api/v1/auth/register", RegisterRequest{
		Username:  "alice",
		Email:     "a@x.com",
		Password:  testPassword,
		FirstName: "Alice",
		City:      "Kazan",
	}, "")

	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	tokens := decodeTokens(t, rr)
	assert.Equal(t, []string{"USER"}, tokens.Roles)

	require.Len(t, f.profiles.created, 1)
	assert.Equal(t, tokens.SubjectID, f.profiles.created[0].CredentialID)
	assert.Equal(t, "Kazan", f.profiles.created[0].City)
}

func TestRegister_Errors(t *testing.T) {
	t.Run("identity taken", func(t *testing.T) {
		f := newFixture(t, RouterConfig{})
		f.profiles.availability = domain.Availability{EmailAvailable: true}

		rr := f.do(t, http.MethodPost, "/api/v1/auth/register", RegisterRequest{Username: "alice", Email: "a@x.com", Password: testPassword}, "")
		assert.Equal(t, http.StatusConflict, rr.Code)
		assert.Equal(t, "IDENTITY_TAKEN", decodeErrorCode(t, rr))
	})

	t.Run("profile service down", func(t *testing.T) {
		f := newFixture(t, RouterConfig{})
		f.profiles.createErr = assert.AnError

		rr := f.do(t, http.MethodPost, "/api/v1/auth/register", RegisterRequest{Username: "alice", Email: "a@x.com", Password: testPassword}, "")
		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
		assert.Equal(t, "UPSTREAM_UNAVAILABLE", decodeErrorCode(t, rr))
		assert.NotEmpty(t, rr.Header().Get("Retry-After"))
	})

	t.Run("weak password", func(t *testing.T) {
		f := newFixture(t, RouterConfig{})

		rr := f.do(t, http.MethodPost, "/api/v1/auth/register", RegisterRequest{Username: "alice", Email: "a@x.com", Password: "weak"}, "")
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, "VALIDATION_ERROR", decodeErrorCode(t, rr))
	})
}

func TestRefresh_RotatesOnce(t *testing.T) {
	f := newFixture(t, RouterConfig{})
	f.seed(t, "alice", true)

	login := decodeTokens(t, f.do(t, http.MethodPost, "/api/v1/auth/login", LoginRequest{Login: "alice", Password: testPassword}, ""))

	rr := f.do(t, http.MethodPost, "/api/v1/auth/refresh", RefreshTokenRequest{RefreshToken: login.RefreshToken}, "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.NotEqual(t, login.RefreshToken, decodeTokens(t, rr).RefreshToken)

	rr = f.do(t, http.MethodPost, "/api/v1/auth/refresh", RefreshTokenRequest{RefreshToken: login.RefreshToken}, "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "REFRESH_TOKEN_NOT_FOUND", decodeErrorCode(t, rr))
}

func TestLogout_RevokesSessions(t *testing.T) {
	f := newFixture(t, RouterConfig{})
	c := f.seed(t, "alice", true)

	login := decodeTokens(t, f.do(t, http.MethodPost, "/api/v1/auth/login", LoginRequest{Login: "alice", Password: testPassword}, ""))

	rr := f.do(t, http.MethodPost, "/api/v1/auth/logout", nil, login.AccessToken)
	assert.Equal(t, http.StatusNoContent, rr.Code)

	// Idempotent.
	rr = f.do(t, http.MethodPost, "/api/v1/auth/logout", nil, login.AccessToken)
	assert.Equal(t, http.StatusNoContent, rr.Code)

	n, err := f.store.RefreshTokens().CountByCredential(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestLogout_RequiresBearer(t *testing.T) {
	f := newFixture(t, RouterConfig{})

	rr := f.do(t, http.MethodPost, "/api/v1/auth/logout", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = f.do(t, http.MethodPost, "/api/v1/auth/logout", nil, "not-a-jwt")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestMe(t *testing.T) {
	f := newFixture(t, RouterConfig{})
	c := f.seed(t, "alice", true)

	login := decodeTokens(t, f.do(t, http.MethodPost, "/api/v1/auth/login", LoginRequest{Login: "alice", Password: testPassword}, ""))

	rr := f.do(t, http.MethodGet, "/api/v1/auth/me", nil, login.AccessToken)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		Data MeResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, MeResponse{SubjectID: c.ID, Username: "alice", Roles: []string{"USER"}}, resp.Data)
}

// ============================================================================
// Telegram endpoints
// ============================================================================

func TestTelegramAuthenticate_AuthRequiredThenBind(t *testing.T) {
	f := newFixture(t, RouterConfig{})
	c := f.seed(t, "alice", true)
	initData := f.initData(testTelegramID)

	rr := f.do(t, http.MethodPost, "/api/v1/auth/telegram/authenticate", TelegramAuthenticateRequest{InitData: initData}, "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var first struct {
		Data domain.TelegramAuthResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &first))
	assert.Equal(t, domain.TelegramAuthRequired, first.Data.Status)
	require.NotNil(t, first.Data.TelegramUser)
	assert.Equal(t, testTelegramID, first.Data.TelegramUser.ID)

	rr = f.do(t, http.MethodPost, "/api/v1/auth/telegram/login", TelegramLoginRequest{
		InitData: initData,
		Login:    "alice",
		Password: testPassword,
	}, "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, c.ID, decodeTokens(t, rr).SubjectID)

	rr = f.do(t, http.MethodPost, "/api/v1/auth/telegram/authenticate", TelegramAuthenticateRequest{InitData: initData}, "")
	require.Equal(t, http.StatusOK, rr.Code)

	var second struct {
		Data domain.TelegramAuthResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &second))
	assert.Equal(t, domain.TelegramAuthSuccess, second.Data.Status)
	require.NotNil(t, second.Data.Tokens)
	assert.Equal(t, c.ID, second.Data.Tokens.SubjectID)
}

func TestTelegramAuthenticate_InvalidSignature(t *testing.T) {
	f := newFixture(t, RouterConfig{})
	other := telegram.NewVerifier("654321:other-bot-token", 24*time.Hour)
	initData := other.Sign(url.Values{
		"user":      {`{"id":1,"first_name":"Eve"}`},
		"auth_date": {strconv.FormatInt(time.Now().Unix(), 10)},
	})

	rr := f.do(t, http.MethodPost, "/api/v1/auth/telegram/authenticate", TelegramAuthenticateRequest{InitData: initData}, "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "SIGNATURE_INVALID", decodeErrorCode(t, rr))
}

func TestTelegramRegister(t *testing.T) {
	f := newFixture(t, RouterConfig{})

	req := TelegramRegisterRequest{
		InitData: f.initData(testTelegramID),
		RegisterRequest: RegisterRequest{
			Username: "ivan",
			Email:    "ivan@example.com",
			Password: testPassword,
		},
	}
	rr := f.do(t, http.MethodPost, "/api/v1/auth/telegram/register", req, "")
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	bound, err := f.store.Credentials().FindByTelegramID(context.Background(), testTelegramID)
	require.NoError(t, err)
	assert.Equal(t, decodeTokens(t, rr).SubjectID, bound.ID)

	// Telegram names fill in a missing profile name.
	require.Len(t, f.profiles.created, 1)
	assert.Equal(t, "Ivan", f.profiles.created[0].FirstName)
	assert.Equal(t, "Petrov", f.profiles.created[0].LastName)

	// The same Telegram account cannot register twice.
	req.Username, req.Email = "ivan2", "ivan2@example.com"
	rr = f.do(t, http.MethodPost, "/api/v1/auth/telegram/register", req, "")
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "TELEGRAM_ID_ALREADY_BOUND", decodeErrorCode(t, rr))
}

// ============================================================================
// Infrastructure routes
// ============================================================================

func TestRateLimit_AuthRoutes(t *testing.T) {
	f := newFixture(t, RouterConfig{RateLimitRPS: 0.001, RateLimitBurst: 1})

	rr := f.do(t, http.MethodPost, "/api/v1/auth/login", LoginRequest{Login: "alice", Password: testPassword}, "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = f.do(t, http.MethodPost, "/api/v1/auth/login", LoginRequest{Login: "alice", Password: testPassword}, "")
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)

	// Health is outside the limited group.
	rr = f.do(t, http.MethodGet, "/health/live", nil, "")
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t, RouterConfig{})

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/health/live", nil, "").Code)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/health/ready", nil, "").Code)

	rr := f.do(t, http.MethodGet, "/metrics", nil, "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "http_requests_total")
}

func TestPprof_DisabledByDefault(t *testing.T) {
	f := newFixture(t, RouterConfig{})
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/debug/pprof/", nil, "").Code)
}

func TestCORS_Preflight(t *testing.T) {
	f := newFixture(t, RouterConfig{CORSAllowedOrigins: []string{"https://app.example.com"}})

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/auth/login", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)

	assert.Equal(t, "https://app.example.com", rr.Header().Get("Access-Control-Allow-Origin"))
}
