package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	apperrors "github.com/OsmanovRuslan/EcoSharing-sub001/pkg/errors"
	"github.com/OsmanovRuslan/EcoSharing-sub001/services/auth/internal/domain"
)

// Store keeps credentials and refresh tokens in memory. A single mutex
// guards both maps, so every token mutation is serialized the same way the
// PostgreSQL row lock serializes them per credential.
type Store struct {
	mu          sync.Mutex
	credentials map[string]*domain.Credential
	tokens      map[string]*domain.RefreshToken // by token hash
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		credentials: make(map[string]*domain.Credential),
		tokens:      make(map[string]*domain.RefreshToken),
	}
}

// Credentials returns the credential repository view of the store.
func (s *Store) Credentials() *CredentialRepository {
	return &CredentialRepository{s: s}
}

// RefreshTokens returns the refresh token repository view of the store.
func (s *Store) RefreshTokens() *RefreshTokenRepository {
	return &RefreshTokenRepository{s: s}
}

// CredentialRepository implements repository.CredentialRepository in memory.
type CredentialRepository struct {
	s *Store
}

// FindByLogin matches the username exactly or the email case-insensitively.
func (r *CredentialRepository) FindByLogin(_ context.Context, login string) (*domain.Credential, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, c := range r.s.credentials {
		if c.Username == login || strings.EqualFold(c.Email, login) {
			return copyCredential(c), nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (r *CredentialRepository) FindByID(_ context.Context, id string) (*domain.Credential, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	c, ok := r.s.credentials[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return copyCredential(c), nil
}

func (r *CredentialRepository) FindByTelegramID(_ context.Context, telegramID int64) (*domain.Credential, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if c := r.s.byTelegramID(telegramID); c != nil {
		return copyCredential(c), nil
	}
	return nil, apperrors.ErrNotFound
}

func (r *CredentialRepository) ExistsByTelegramID(_ context.Context, telegramID int64) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	return r.s.byTelegramID(telegramID) != nil, nil
}

// CheckAvailability reports whether username and email are unused.
func (r *CredentialRepository) CheckAvailability(_ context.Context, username, email string) (domain.Availability, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	a := domain.Availability{UsernameAvailable: true, EmailAvailable: true}
	for _, c := range r.s.credentials {
		if c.Username == username {
			a.UsernameAvailable = false
		}
		if strings.EqualFold(c.Email, email) {
			a.EmailAvailable = false
		}
	}
	return a, nil
}

// Create inserts a credential, enforcing the same uniqueness rules as the
// database indexes.
func (r *CredentialRepository) Create(_ context.Context, c *domain.Credential) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, existing := range r.s.credentials {
		if existing.ID == c.ID {
			return apperrors.AlreadyExists("credential", "id", c.ID)
		}
		if existing.Username == c.Username || strings.EqualFold(existing.Email, c.Email) {
			return domain.DuplicateIdentity()
		}
		if c.TelegramID != nil && existing.TelegramID != nil && *existing.TelegramID == *c.TelegramID {
			return domain.TelegramIDAlreadyBound()
		}
	}
	r.s.credentials[c.ID] = copyCredential(c)
	return nil
}

// BindTelegramID attaches telegramID to a credential.
func (r *CredentialRepository) BindTelegramID(_ context.Context, credentialID string, telegramID int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	c, ok := r.s.credentials[credentialID]
	if !ok {
		return apperrors.NotFound("credential", credentialID)
	}
	if owner := r.s.byTelegramID(telegramID); owner != nil && owner.ID != credentialID {
		return domain.TelegramIDAlreadyBound()
	}
	if c.TelegramID != nil {
		if *c.TelegramID == telegramID {
			return nil
		}
		return domain.TelegramIDAlreadyBound()
	}

	id := telegramID
	c.TelegramID = &id
	c.UpdatedAt = time.Now().UTC()
	return nil
}

// Delete removes a credential and its refresh tokens.
func (r *CredentialRepository) Delete(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.credentials[id]; !ok {
		return apperrors.NotFound("credential", id)
	}
	delete(r.s.credentials, id)
	r.s.deleteOwnerTokens(id)
	return nil
}

// RefreshTokenRepository implements repository.RefreshTokenRepository in memory.
type RefreshTokenRepository struct {
	s *Store
}

// Replace deletes every token of t's owner and stores t.
func (r *RefreshTokenRepository) Replace(_ context.Context, t *domain.RefreshToken) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.credentials[t.CredentialID]; !ok {
		return apperrors.NotFound("credential", t.CredentialID)
	}
	r.s.deleteOwnerTokens(t.CredentialID)
	r.s.tokens[t.TokenHash] = copyToken(t)
	return nil
}

func (r *RefreshTokenRepository) FindByHash(_ context.Context, tokenHash string) (*domain.RefreshToken, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	t, ok := r.s.tokens[tokenHash]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return copyToken(t), nil
}

// Rotate consumes the live token oldHash and stores next.
func (r *RefreshTokenRepository) Rotate(_ context.Context, oldHash string, next *domain.RefreshToken, now time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.credentials[next.CredentialID]; !ok {
		return apperrors.NotFound("credential", next.CredentialID)
	}
	old, ok := r.s.tokens[oldHash]
	if !ok || old.CredentialID != next.CredentialID || old.Expired(now) {
		return domain.RefreshTokenNotFound()
	}

	r.s.deleteOwnerTokens(next.CredentialID)
	r.s.tokens[next.TokenHash] = copyToken(next)
	return nil
}

func (r *RefreshTokenRepository) DeleteByHash(_ context.Context, tokenHash string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	delete(r.s.tokens, tokenHash)
	return nil
}

func (r *RefreshTokenRepository) DeleteByCredential(_ context.Context, credentialID string) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	return r.s.deleteOwnerTokens(credentialID), nil
}

func (r *RefreshTokenRepository) CountByCredential(_ context.Context, credentialID string) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	n := 0
	for _, t := range r.s.tokens {
		if t.CredentialID == credentialID {
			n++
		}
	}
	return n, nil
}

// DeleteExpired removes tokens that expired before now.
func (r *RefreshTokenRepository) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var n int64
	for hash, t := range r.s.tokens {
		if t.ExpiresAt.Before(now) {
			delete(r.s.tokens, hash)
			n++
		}
	}
	return n, nil
}

// byTelegramID must be called with mu held.
func (s *Store) byTelegramID(telegramID int64) *domain.Credential {
	for _, c := range s.credentials {
		if c.TelegramID != nil && *c.TelegramID == telegramID {
			return c
		}
	}
	return nil
}

// deleteOwnerTokens must be called with mu held.
func (s *Store) deleteOwnerTokens(credentialID string) int64 {
	var n int64
	for hash, t := range s.tokens {
		if t.CredentialID == credentialID {
			delete(s.tokens, hash)
			n++
		}
	}
	return n
}

func copyCredential(c *domain.Credential) *domain.Credential {
	out := *c
	if c.TelegramID != nil {
		id := *c.TelegramID
		out.TelegramID = &id
	}
	out.Roles = append([]domain.Role(nil), c.Roles...)
	return &out
}

func copyToken(t *domain.RefreshToken) *domain.RefreshToken {
	out := *t
	return &out
}

// NoopLimiter is a LoginAttemptLimiter that allows every attempt.
type NoopLimiter struct{}

func (NoopLimiter) Allow(context.Context, string) (bool, error) { return true, nil }

func (NoopLimiter) Reset(context.Context, string) error { return nil }
