package domain

import "time"

// TokenTypeBearer is the token type label returned to clients.
const TokenTypeBearer = "Bearer"

// RefreshToken is a stored refresh token. Only the SHA-256 digest of the
// token value is kept.
type RefreshToken struct {
	ID           string
	TokenHash    string
	CredentialID string
	Username     string
	IssuedAt     time.Time
	ExpiresAt    time.Time
}

// Expired reports whether the token is no longer usable at now.
func (t *RefreshToken) Expired(now time.Time) bool {
	return !t.ExpiresAt.After(now)
}

// TokenPair is the result of a successful authentication.
type TokenPair struct {
	AccessToken        string   `json:"access_token"`
	RefreshToken       string   `json:"refresh_token"`
	TokenType          string   `json:"token_type"`
	SubjectID          string   `json:"subject_id"`
	Roles              []string `json:"roles"`
	AccessExpiresInMs  int64    `json:"access_expires_in_ms"`
	RefreshExpiresInMs int64    `json:"refresh_expires_in_ms"`
}
