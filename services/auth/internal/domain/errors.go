package domain

import (
	"errors"
	"net/http"

	apperrors "github.com/OsmanovRuslan/EcoSharing-sub001/pkg/errors"
)

// Sentinel errors for the authentication domain. Constructors below wrap
// them in AppErrors carrying the client-facing code and status.
var (
	ErrInvalidCredentials     = errors.New("invalid credentials")
	ErrAccountInactive        = errors.New("account inactive")
	ErrIdentityTaken          = errors.New("identity taken")
	ErrDuplicateIdentity      = errors.New("duplicate identity")
	ErrTelegramIDAlreadyBound = errors.New("telegram id already bound")
	ErrSignatureMissing       = errors.New("signature missing")
	ErrSignatureInvalid       = errors.New("signature invalid")
	ErrDataExpired            = errors.New("init data expired")
	ErrRefreshTokenNotFound   = errors.New("refresh token not found")
	ErrRefreshTokenExpired    = errors.New("refresh token expired")
	ErrUpstreamUnavailable    = errors.New("upstream unavailable")
	ErrValidation             = errors.New("validation error")
	ErrRateLimited            = errors.New("rate limited")
)

func InvalidCredentials() *apperrors.AppError {
	return apperrors.New("INVALID_CREDENTIALS", http.StatusUnauthorized, ErrInvalidCredentials, "invalid login or password")
}

func AccountInactive() *apperrors.AppError {
	return apperrors.New("ACCOUNT_INACTIVE", http.StatusForbidden, ErrAccountInactive, "account is inactive")
}

func IdentityTaken(message string) *apperrors.AppError {
	return apperrors.New("IDENTITY_TAKEN", http.StatusConflict, ErrIdentityTaken, message)
}

// DuplicateIdentity is returned by credential stores when a username or
// email unique constraint rejects an insert.
func DuplicateIdentity() *apperrors.AppError {
	return apperrors.New("IDENTITY_TAKEN", http.StatusConflict, ErrDuplicateIdentity, "username or email already registered")
}

func TelegramIDAlreadyBound() *apperrors.AppError {
	return apperrors.New("TELEGRAM_ID_ALREADY_BOUND", http.StatusConflict, ErrTelegramIDAlreadyBound, "telegram account is already bound to another credential")
}

func SignatureMissing() *apperrors.AppError {
	return apperrors.New("SIGNATURE_MISSING", http.StatusUnauthorized, ErrSignatureMissing, "init data hash is missing")
}

func SignatureInvalid() *apperrors.AppError {
	return apperrors.New("SIGNATURE_INVALID", http.StatusUnauthorized, ErrSignatureInvalid, "init data signature is invalid")
}

func DataExpired() *apperrors.AppError {
	return apperrors.New("DATA_EXPIRED", http.StatusUnauthorized, ErrDataExpired, "init data is expired")
}

func RefreshTokenNotFound() *apperrors.AppError {
	return apperrors.New("REFRESH_TOKEN_NOT_FOUND", http.StatusUnauthorized, ErrRefreshTokenNotFound, "refresh token not found")
}

func RefreshTokenExpired() *apperrors.AppError {
	return apperrors.New("REFRESH_TOKEN_EXPIRED", http.StatusUnauthorized, ErrRefreshTokenExpired, "refresh token expired")
}

// UpstreamUnavailable wraps cause so it stays visible in logs; clients only
// see the code and message.
func UpstreamUnavailable(cause error) *apperrors.AppError {
	err := apperrors.New("UPSTREAM_UNAVAILABLE", http.StatusServiceUnavailable, ErrUpstreamUnavailable, "profile service unavailable")
	if cause != nil {
		err.Err = errors.Join(ErrUpstreamUnavailable, cause)
	}
	return err
}

func ValidationError(message string) *apperrors.AppError {
	return apperrors.New("VALIDATION_ERROR", http.StatusBadRequest, ErrValidation, message)
}

func RateLimited() *apperrors.AppError {
	return apperrors.New("RATE_LIMITED", http.StatusTooManyRequests, ErrRateLimited, "too many login attempts, try again later")
}
