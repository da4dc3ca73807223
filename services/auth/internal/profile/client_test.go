package profile

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/OsmanovRuslan/EcoSharing-sub001/pkg/errors"
	"github.com/OsmanovRuslan/EcoSharing-sub001/pkg/httpclient"
	"github.com/OsmanovRuslan/EcoSharing-sub001/services/auth/internal/domain"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	base := httpclient.New(httpclient.Config{
		Timeout:         2 * time.Second,
		MaxRetries:      2,
		RetryWaitMin:    time.Millisecond,
		RetryWaitMax:    5 * time.Millisecond,
		MaxConnsPerHost: 4,
	})
	return NewClient(base, srv.URL+"/", newTestLogger())
}

// ---------------------------------------------------------------------------
// CheckAvailability
// ---------------------------------------------------------------------------

func TestClient_CheckAvailability(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/v1/profiles/availability", r.URL.Path)
		assert.Equal(t, "alice", r.URL.Query().Get("username"))
		assert.Equal(t, "a+b@example.com", r.URL.Query().Get("email"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"username_available":true,"email_available":false}}`))
	})

	a, err := c.CheckAvailability(context.Background(), "alice", "a+b@example.com")
	require.NoError(t, err)
	assert.Equal(t, domain.Availability{UsernameAvailable: true, EmailAvailable: false}, a)
}

func TestClient_CheckAvailability_ServerError(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := c.CheckAvailability(context.Background(), "alice", "a@example.com")
	require.Error(t, err)
	// GET is idempotent and retried.
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_CheckAvailability_MissingData(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})

	_, err := c.CheckAvailability(context.Background(), "alice", "a@example.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing data")
}

// ---------------------------------------------------------------------------
// CreateProfile
// ---------------------------------------------------------------------------

func TestClient_CreateProfile(t *testing.T) {
	tgID := int64(42)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/profiles", r.URL.Path)
		assert.Equal(t, "c-1", r.Header.Get(httpclient.HeaderIdempotencyKey))

		var in CreateProfileInput
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		assert.Equal(t, "c-1", in.CredentialID)
		assert.Equal(t, "Alice", in.FirstName)
		require.NotNil(t, in.TelegramID)
		assert.Equal(t, tgID, *in.TelegramID)

		w.WriteHeader(http.StatusCreated)
	})

	err := c.CreateProfile(context.Background(), CreateProfileInput{
		CredentialID:  "c-1",
		Username:      "alice",
		Email:         "alice@example.com",
		TelegramID:    &tgID,
		ProfileFields: domain.ProfileFields{FirstName: "Alice"},
	})
	require.NoError(t, err)
}

func TestClient_CreateProfile_RetriedWithIdempotencyKey(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		var in CreateProfileInput
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		assert.Equal(t, "c-1", in.CredentialID)
		w.WriteHeader(http.StatusCreated)
	})

	err := c.CreateProfile(context.Background(), CreateProfileInput{CredentialID: "c-1", Username: "alice"})
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestClient_CreateProfile_Conflict(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":{"code":"CONFLICT","message":"profile exists"}}`))
	})

	err := c.CreateProfile(context.Background(), CreateProfileInput{CredentialID: "c-1"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrConflict))
}

func TestClient_CircuitOpenFallback(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	base := httpclient.New(httpclient.Config{Timeout: time.Second, MaxConnsPerHost: 4})
	cb := httpclient.NewCircuitBreakerClient(base, httpclient.CircuitBreakerConfig{
		Name:         "profile-test",
		MaxRequests:  1,
		Interval:     time.Minute,
		Timeout:      time.Minute,
		FailureRatio: 0.5,
		MinRequests:  2,
	}, newTestLogger()).WithFallback(CircuitOpenFallback)
	c := NewClient(cb, srv.URL, newTestLogger())

	for i := 0; i < 2; i++ {
		_, err := c.CheckAvailability(context.Background(), "alice", "a@example.com")
		require.Error(t, err)
	}

	_, err := c.CheckAvailability(context.Background(), "alice", "a@example.com")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrServiceUnavail))
	assert.Equal(t, int32(2), calls.Load())
}
