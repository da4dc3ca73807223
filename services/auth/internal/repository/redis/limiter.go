package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/OsmanovRuslan/EcoSharing-sub001/services/auth/internal/crypto"
)

const keyPrefix = "auth:login_attempts:"

// Fixed window: the first attempt starts the window, every later one in
// the same window only increments.
const attemptScript = `
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
if current > tonumber(ARGV[2]) then
  return 0
end
return 1
`

// LoginAttemptLimiter implements repository.LoginAttemptLimiter with a
// fixed-window counter per attempt key.
type LoginAttemptLimiter struct {
	client      *redis.Client
	maxAttempts int
	window      time.Duration
	script      *redis.Script
}

// NewLoginAttemptLimiter creates a Redis-backed login attempt limiter.
func NewLoginAttemptLimiter(client *redis.Client, maxAttempts int, window time.Duration) *LoginAttemptLimiter {
	return &LoginAttemptLimiter{
		client:      client,
		maxAttempts: maxAttempts,
		window:      window,
		script:      redis.NewScript(attemptScript),
	}
}

// Allow records an attempt under key. On Redis failure it reports the
// attempt as allowed together with the error.
func (l *LoginAttemptLimiter) Allow(ctx context.Context, key string) (bool, error) {
	if l.maxAttempts <= 0 || l.window <= 0 {
		return true, nil
	}

	ttl := l.window.Milliseconds()
	if ttl <= 0 {
		ttl = 1
	}

	allowed, err := l.script.Run(ctx, l.client, []string{attemptKey(key)}, ttl, l.maxAttempts).Int64()
	if err != nil {
		return true, fmt.Errorf("redis login attempts: %w", err)
	}
	return allowed == 1, nil
}

// Reset clears the attempts recorded under key.
func (l *LoginAttemptLimiter) Reset(ctx context.Context, key string) error {
	if err := l.client.Del(ctx, attemptKey(key)).Err(); err != nil {
		return fmt.Errorf("redis del login attempts: %w", err)
	}
	return nil
}

// attemptKey stores a digest of the normalized key so emails are not kept
// in Redis.
func attemptKey(key string) string {
	return keyPrefix + crypto.SHA256Hex(strings.ToLower(strings.TrimSpace(key)))
}
