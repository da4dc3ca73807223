// Package telegram verifies Telegram Mini App init data.
package telegram

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/OsmanovRuslan/EcoSharing-sub001/services/auth/internal/crypto"
	"github.com/OsmanovRuslan/EcoSharing-sub001/services/auth/internal/domain"
)

const (
	hashKey       = "hash"
	authDateKey   = "auth_date"
	userKey       = "user"
	webAppDataKey = "WebAppData"

	// maxClockSkew tolerates an auth_date slightly ahead of the local clock.
	maxClockSkew = time.Minute
)

// Verifier checks the HMAC signature and freshness of init data. It holds
// no mutable state and is safe for concurrent use.
type Verifier struct {
	secretKey []byte
	maxAge    time.Duration
	now       func() time.Time
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(v *Verifier) { v.now = now }
}

// NewVerifier returns a verifier for payloads signed for botToken and
// accepted for maxAge after their auth_date.
func NewVerifier(botToken string, maxAge time.Duration, opts ...Option) *Verifier {
	v := &Verifier{
		secretKey: crypto.HMACSHA256([]byte(webAppDataKey), []byte(botToken)),
		maxAge:    maxAge,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify validates initData and returns the Telegram user it carries.
func (v *Verifier) Verify(initData string) (*domain.TelegramUser, error) {
	values, err := url.ParseQuery(initData)
	if err != nil {
		// A payload that no longer decodes cannot match its signature.
		if hasHashField(initData) {
			return nil, domain.SignatureInvalid()
		}
		return nil, domain.SignatureMissing()
	}

	hash := values.Get(hashKey)
	if hash == "" {
		return nil, domain.SignatureMissing()
	}
	values.Del(hashKey)

	expected := hex.EncodeToString(crypto.HMACSHA256(v.secretKey, []byte(checkString(values))))
	if !crypto.ConstantTimeEqualsString(expected, strings.ToLower(hash)) {
		return nil, domain.SignatureInvalid()
	}

	authDate, err := strconv.ParseInt(values.Get(authDateKey), 10, 64)
	if err != nil {
		return nil, domain.ValidationError("auth_date is missing or not a number")
	}
	now := v.now()
	signedAt := time.Unix(authDate, 0)
	if now.Sub(signedAt) > v.maxAge || signedAt.Sub(now) > maxClockSkew {
		return nil, domain.DataExpired()
	}

	user, err := parseUser(values.Get(userKey))
	if err != nil {
		return nil, err
	}
	user.AuthDate = authDate
	return user, nil
}

// Sign adds a valid hash to values and returns the encoded payload. It is
// the inverse of Verify and exists for tests and local tooling.
func (v *Verifier) Sign(values url.Values) string {
	signed := url.Values{}
	for k, vs := range values {
		if k != hashKey {
			signed[k] = vs
		}
	}
	signed.Set(hashKey, hex.EncodeToString(crypto.HMACSHA256(v.secretKey, []byte(checkString(signed)))))
	return signed.Encode()
}

// hasHashField reports whether the raw payload carries a hash pair, even
// when other pairs fail to decode.
func hasHashField(raw string) bool {
	for _, pair := range strings.Split(raw, "&") {
		key, _, _ := strings.Cut(pair, "=")
		if k, err := url.QueryUnescape(key); err == nil {
			key = k
		}
		if key == hashKey {
			return true
		}
	}
	return false
}

// checkString renders the data-check-string: key=value pairs sorted by key
// and joined by newlines. The hash field is excluded.
func checkString(values url.Values) string {
	keys := make([]string, 0, len(values))
	for k := range values {
		if k != hashKey {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(values.Get(k))
	}
	return b.String()
}

type userPayload struct {
	ID           int64  `json:"id"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	Username     string `json:"username"`
	LanguageCode string `json:"language_code"`
	IsPremium    bool   `json:"is_premium"`
	PhotoURL     string `json:"photo_url"`
}

func parseUser(raw string) (*domain.TelegramUser, error) {
	if raw == "" {
		return nil, domain.ValidationError("init data has no user")
	}

	var p userPayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, domain.ValidationError(fmt.Sprintf("init data user is malformed: %v", err))
	}
	if p.ID <= 0 {
		return nil, domain.ValidationError("init data user has no id")
	}

	return &domain.TelegramUser{
		ID:           p.ID,
		FirstName:    p.FirstName,
		LastName:     p.LastName,
		Username:     p.Username,
		LanguageCode: p.LanguageCode,
		IsPremium:    p.IsPremium,
		PhotoURL:     p.PhotoURL,
	}, nil
}
