package http

import (
	"log/slog"
	"net/http"

	"github.com/OsmanovRuslan/EcoSharing-sub001/pkg/httputil"
	"github.com/OsmanovRuslan/EcoSharing-sub001/pkg/middleware"
	"github.com/OsmanovRuslan/EcoSharing-sub001/pkg/validator"
	"github.com/OsmanovRuslan/EcoSharing-sub001/services/auth/internal/domain"
	"github.com/OsmanovRuslan/EcoSharing-sub001/services/auth/internal/service"
)

// AuthHandler handles HTTP requests for auth endpoints.
type AuthHandler struct {
	passwords *service.PasswordAuthenticator
	telegram  *service.TelegramAuthenticator
	logger    *slog.Logger
}

// NewAuthHandler creates a new auth HTTP handler.
func NewAuthHandler(passwords *service.PasswordAuthenticator, telegram *service.TelegramAuthenticator, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{passwords: passwords, telegram: telegram, logger: logger}
}

// --- Request DTOs ---

// LoginRequest is the JSON request body for a password login.
type LoginRequest struct {
	Login    string `json:"login" validate:"required,max=254"`
	Password string `json:"password" validate:"required,max=72"`
}

// RegisterRequest is the JSON request body for registration.
type RegisterRequest struct {
	Username       string `json:"username" validate:"required,username"`
	Email          string `json:"email" validate:"required,email,max=254"`
	Password       string `json:"password" validate:"required,password"`
	ActivationCode string `json:"activation_code" validate:"omitempty,max=256"`
	FirstName      string `json:"first_name" validate:"omitempty,max=100"`
	LastName       string `json:"last_name" validate:"omitempty,max=100"`
	Phone          string `json:"phone" validate:"omitempty,e164"`
	City           string `json:"city" validate:"omitempty,max=100"`
}

func (req RegisterRequest) input() service.RegisterInput {
	return service.RegisterInput{
		Username:       req.Username,
		Email:          req.Email,
		Password:       req.Password,
		ActivationCode: req.ActivationCode,
		Profile: domain.ProfileFields{
			FirstName: req.FirstName,
			LastName:  req.LastName,
			Phone:     req.Phone,
			City:      req.City,
		},
	}
}

// RefreshTokenRequest is the JSON request body for token refresh.
type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required,max=512"`
}

// TelegramAuthenticateRequest carries raw Mini App init data.
type TelegramAuthenticateRequest struct {
	InitData string `json:"init_data" validate:"required,max=4096"`
}

// TelegramLoginRequest binds the Telegram user of InitData to an existing
// credential.
type TelegramLoginRequest struct {
	InitData string `json:"init_data" validate:"required,max=4096"`
	Login    string `json:"login" validate:"required,max=254"`
	Password string `json:"password" validate:"required,max=72"`
}

// TelegramRegisterRequest registers a credential bound to the Telegram user
// of InitData.
type TelegramRegisterRequest struct {
	InitData string `json:"init_data" validate:"required,max=4096"`
	RegisterRequest
}

// --- Response types ---

// MeResponse describes the authenticated principal.
type MeResponse struct {
	SubjectID string   `json:"subject_id"`
	Username  string   `json:"username"`
	Roles     []string `json:"roles"`
}

// --- Handlers ---

// Login handles POST /api/v1/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := validator.DecodeAndValidate(w, r, &req); err != nil {
		httputil.WriteValidationError(w, r, err)
		return
	}

	tokens, err := h.passwords.Login(r.Context(), service.LoginInput{
		Login:    req.Login,
		Password: req.Password,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, tokens)
}

// Register handles POST /api/v1/auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := validator.DecodeAndValidate(w, r, &req); err != nil {
		httputil.WriteValidationError(w, r, err)
		return
	}

	tokens, err := h.passwords.Register(r.Context(), req.input())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusCreated, tokens)
}

// Refresh handles POST /api/v1/auth/refresh
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshTokenRequest
	if err := validator.DecodeAndValidate(w, r, &req); err != nil {
		httputil.WriteValidationError(w, r, err)
		return
	}

	tokens, err := h.passwords.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, tokens)
}

// Logout handles POST /api/v1/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	subjectID := middleware.SubjectIDFromContext(r.Context())

	if err := h.passwords.Logout(r.Context(), subjectID); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Me handles GET /api/v1/auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.ClaimsFromContext(r.Context())

	httputil.WriteData(w, http.StatusOK, MeResponse{
		SubjectID: claims.SubjectID,
		Username:  claims.Username,
		Roles:     claims.Roles,
	})
}

// TelegramAuthenticate handles POST /api/v1/auth/telegram/authenticate
func (h *AuthHandler) TelegramAuthenticate(w http.ResponseWriter, r *http.Request) {
	var req TelegramAuthenticateRequest
	if err := validator.DecodeAndValidate(w, r, &req); err != nil {
		httputil.WriteValidationError(w, r, err)
		return
	}

	result, err := h.telegram.Authenticate(r.Context(), req.InitData)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, result)
}

// TelegramLogin handles POST /api/v1/auth/telegram/login
func (h *AuthHandler) TelegramLogin(w http.ResponseWriter, r *http.Request) {
	var req TelegramLoginRequest
	if err := validator.DecodeAndValidate(w, r, &req); err != nil {
		httputil.WriteValidationError(w, r, err)
		return
	}

	user, err := h.telegram.Verify(req.InitData)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	tokens, err := h.telegram.Login(r.Context(), user.ID, req.Login, req.Password)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, tokens)
}

// TelegramRegister handles POST /api/v1/auth/telegram/register
func (h *AuthHandler) TelegramRegister(w http.ResponseWriter, r *http.Request) {
	var req TelegramRegisterRequest
	if err := validator.DecodeAndValidate(w, r, &req); err != nil {
		httputil.WriteValidationError(w, r, err)
		return
	}

	user, err := h.telegram.Verify(req.InitData)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	in := req.input()
	if in.Profile.FirstName == "" {
		in.Profile.FirstName = user.FirstName
		in.Profile.LastName = user.LastName
	}

	tokens, err := h.telegram.Register(r.Context(), user.ID, in)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusCreated, tokens)
}
