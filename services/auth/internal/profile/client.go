// Package profile calls the profile service, which owns user-facing
// profile data and is the authority on username and email availability.
package profile

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	apperrors "github.com/OsmanovRuslan/EcoSharing-sub001/pkg/errors"
	"github.com/OsmanovRuslan/EcoSharing-sub001/pkg/httpclient"
	"github.com/OsmanovRuslan/EcoSharing-sub001/services/auth/internal/domain"
)

const serviceName = "profile"

// CreateProfileInput is the body sent to the profile service when a
// credential is registered.
type CreateProfileInput struct {
	CredentialID string `json:"credential_id"`
	Username     string `json:"username"`
	Email        string `json:"email"`
	TelegramID   *int64 `json:"telegram_id,omitempty"`
	domain.ProfileFields
}

// Client talks to the profile service over HTTP. Both httpclient.Client and
// httpclient.CircuitBreakerClient can serve as the underlying doer.
type Client struct {
	doer    httpclient.Doer
	baseURL string
	logger  *slog.Logger
}

// NewClient creates a new profile service client.
func NewClient(doer httpclient.Doer, baseURL string, logger *slog.Logger) *Client {
	return &Client{
		doer:    doer,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
	}
}

// CheckAvailability asks whether username and email are still free.
func (c *Client) CheckAvailability(ctx context.Context, username, email string) (domain.Availability, error) {
	q := url.Values{}
	q.Set("username", username)
	q.Set("email", email)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/profiles/availability?"+q.Encode(), http.NoBody)
	if err != nil {
		return domain.Availability{}, fmt.Errorf("create availability request: %w", err)
	}

	resp, err := c.doer.Do(ctx, req)
	if err != nil {
		return domain.Availability{}, fmt.Errorf("call profile service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.Availability{}, httpclient.ParseResponseError(resp, serviceName)
	}

	var body struct {
		Data *domain.Availability `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return domain.Availability{}, fmt.Errorf("decode availability response: %w", err)
	}
	if body.Data == nil {
		return domain.Availability{}, fmt.Errorf("decode availability response: missing data")
	}
	return *body.Data, nil
}

// CreateProfile creates the profile of a freshly registered credential. The
// credential id doubles as the idempotency key, so a retried request cannot
// create a second profile.
func (c *Client) CreateProfile(ctx context.Context, in CreateProfileInput) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal profile request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/profiles", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create profile request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(httpclient.HeaderIdempotencyKey, in.CredentialID)

	resp, err := c.doer.Do(ctx, req)
	if err != nil {
		return fmt.Errorf("call profile service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return httpclient.ParseResponseError(resp, serviceName)
	}

	c.logger.InfoContext(ctx, "profile created",
		slog.String("credential_id", in.CredentialID),
	)
	return nil
}

// CircuitOpenFallback is used when the breaker rejects a call.
func CircuitOpenFallback(_ context.Context, _ error) (*http.Response, error) {
	return nil, apperrors.ServiceUnavailable("profile service is temporarily unavailable")
}
