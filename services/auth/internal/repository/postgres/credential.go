package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/OsmanovRuslan/EcoSharing-sub001/pkg/database"
	apperrors "github.com/OsmanovRuslan/EcoSharing-sub001/pkg/errors"
	"github.com/OsmanovRuslan/EcoSharing-sub001/services/auth/internal/domain"
)

// Unique constraint names from migrations/000001_create_credentials.up.sql.
const (
	constraintUsername   = "credentials_username_key"
	constraintEmail      = "credentials_email_key"
	constraintTelegramID = "credentials_telegram_id_key"
)

const credentialColumns = `id, username, email, password_hash, telegram_id, roles, active, created_at, updated_at`

// CredentialRepository implements repository.CredentialRepository using PostgreSQL.
type CredentialRepository struct {
	db database.DBTX
}

// NewCredentialRepository creates a new PostgreSQL-backed credential repository.
func NewCredentialRepository(db database.DBTX) *CredentialRepository {
	return &CredentialRepository{db: db}
}

// FindByLogin looks a credential up by exact username or case-insensitive email.
func (r *CredentialRepository) FindByLogin(ctx context.Context, login string) (*domain.Credential, error) {
	query := `SELECT ` + credentialColumns + `
		FROM credentials
		WHERE username = $1 OR LOWER(email) = LOWER($1)
		LIMIT 1`

	return r.scanCredential(ctx, "FindCredentialByLogin", query, login)
}

// FindByID retrieves a credential by its ID.
func (r *CredentialRepository) FindByID(ctx context.Context, id string) (*domain.Credential, error) {
	query := `SELECT ` + credentialColumns + `
		FROM credentials
		WHERE id = $1`

	return r.scanCredential(ctx, "FindCredentialByID", query, id)
}

// FindByTelegramID retrieves the credential bound to a Telegram account.
func (r *CredentialRepository) FindByTelegramID(ctx context.Context, telegramID int64) (*domain.Credential, error) {
	query := `SELECT ` + credentialColumns + `
		FROM credentials
		WHERE telegram_id = $1`

	return r.scanCredential(ctx, "FindCredentialByTelegramID", query, telegramID)
}

// ExistsByTelegramID reports whether any credential is bound to telegramID.
func (r *CredentialRepository) ExistsByTelegramID(ctx context.Context, telegramID int64) (exists bool, err error) {
	query := `SELECT EXISTS(SELECT 1 FROM credentials WHERE telegram_id = $1)`

	ctx, end := database.TraceQuery(ctx, "ExistsCredentialByTelegramID", query)
	defer func() { end(err) }()

	if err = r.db.QueryRow(ctx, query, telegramID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check telegram id: %w", err)
	}
	return exists, nil
}

// CheckAvailability reports whether username and email are unused.
func (r *CredentialRepository) CheckAvailability(ctx context.Context, username, email string) (a domain.Availability, err error) {
	query := `
		SELECT
			NOT EXISTS(SELECT 1 FROM credentials WHERE username = $1),
			NOT EXISTS(SELECT 1 FROM credentials WHERE LOWER(email) = LOWER($2))`

	ctx, end := database.TraceQuery(ctx, "CheckCredentialAvailability", query)
	defer func() { end(err) }()

	if err = r.db.QueryRow(ctx, query, username, email).Scan(&a.UsernameAvailable, &a.EmailAvailable); err != nil {
		return domain.Availability{}, fmt.Errorf("check availability: %w", err)
	}
	return a, nil
}

// Create inserts a new credential. The unique indexes are authoritative:
// a concurrent registration that passed the availability check still fails here.
func (r *CredentialRepository) Create(ctx context.Context, c *domain.Credential) (err error) {
	query := `
		INSERT INTO credentials (` + credentialColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	ctx, end := database.TraceQuery(ctx, "CreateCredential", query)
	defer func() { end(err) }()

	_, err = r.db.Exec(ctx, query,
		c.ID,
		c.Username,
		c.Email,
		c.PasswordHash,
		c.TelegramID,
		domain.RoleNames(c.Roles),
		c.Active,
		c.CreatedAt,
		c.UpdatedAt,
	)
	if err != nil {
		return mapUniqueViolation(err, "insert credential")
	}
	return nil
}

// BindTelegramID attaches telegramID to a credential.
func (r *CredentialRepository) BindTelegramID(ctx context.Context, credentialID string, telegramID int64) (err error) {
	query := `
		UPDATE credentials
		SET telegram_id = $1, updated_at = $2
		WHERE id = $3 AND (telegram_id IS NULL OR telegram_id = $1)`

	ctx, end := database.TraceQuery(ctx, "BindTelegramID", query)
	defer func() { end(err) }()

	ct, err := r.db.Exec(ctx, query, telegramID, time.Now().UTC(), credentialID)
	if err != nil {
		return mapUniqueViolation(err, "bind telegram id")
	}
	if ct.RowsAffected() == 1 {
		return nil
	}

	// Nothing updated: the credential is missing or already bound to a
	// different Telegram account.
	var current *int64
	err = r.db.QueryRow(ctx, `SELECT telegram_id FROM credentials WHERE id = $1`, credentialID).Scan(&current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NotFound("credential", credentialID)
		}
		return fmt.Errorf("load telegram binding: %w", err)
	}
	return domain.TelegramIDAlreadyBound()
}

// Delete removes a credential. Its refresh tokens cascade.
func (r *CredentialRepository) Delete(ctx context.Context, id string) (err error) {
	query := `DELETE FROM credentials WHERE id = $1`

	ctx, end := database.TraceQuery(ctx, "DeleteCredential", query)
	defer func() { end(err) }()

	ct, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("credential", id)
	}
	return nil
}

func (r *CredentialRepository) scanCredential(ctx context.Context, operation, query string, args ...any) (c *domain.Credential, err error) {
	ctx, end := database.TraceQuery(ctx, operation, query)
	defer func() { end(err) }()

	var (
		cred  domain.Credential
		roles []string
	)
	err = r.db.QueryRow(ctx, query, args...).Scan(
		&cred.ID,
		&cred.Username,
		&cred.Email,
		&cred.PasswordHash,
		&cred.TelegramID,
		&roles,
		&cred.Active,
		&cred.CreatedAt,
		&cred.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("scan credential: %w", err)
	}

	cred.Roles, err = parseRoles(roles)
	if err != nil {
		return nil, fmt.Errorf("credential %s: %w", cred.ID, err)
	}
	return &cred, nil
}

// parseRoles converts stored role names, rejecting anything unknown.
func parseRoles(names []string) ([]domain.Role, error) {
	roles := make([]domain.Role, 0, len(names))
	for _, n := range names {
		r := domain.Role(n)
		if !domain.IsValidRole(r) {
			return nil, fmt.Errorf("unknown role %q", n)
		}
		roles = append(roles, r)
	}
	if len(roles) == 0 {
		return nil, errors.New("no roles")
	}
	return roles, nil
}

func mapUniqueViolation(err error, op string) error {
	constraint, ok := database.UniqueViolation(err)
	if !ok {
		return fmt.Errorf("%s: %w", op, err)
	}
	switch constraint {
	case constraintTelegramID:
		return domain.TelegramIDAlreadyBound()
	case constraintUsername, constraintEmail:
		return domain.DuplicateIdentity()
	default:
		return fmt.Errorf("%s: unique violation on %s: %w", op, constraint, err)
	}
}
