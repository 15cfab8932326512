package http

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"housegen/internal/auth"
	"housegen/internal/platform/metrics"
)

// AuthHandler serves password registration, login and the cookie session
// lifecycle.
type AuthHandler struct {
	accounts *auth.Service
	sessions *auth.SessionManager
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewAuthHandler creates a new AuthHandler. m may be nil.
func NewAuthHandler(accounts *auth.Service, sessions *auth.SessionManager, m *metrics.Metrics, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{accounts: accounts, sessions: sessions, metrics: m, logger: logger}
}

type userResponse struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	Name          string    `json:"name,omitempty"`
	AvatarURL     string    `json:"avatarUrl,omitempty"`
	EmailVerified bool      `json:"emailVerified"`
	Role          auth.Role `json:"role"`
	HasPassword   bool      `json:"hasPassword"`
	CreatedAt     time.Time `json:"createdAt"`
}

func newUserResponse(u *auth.User) userResponse {
	return userResponse{
		ID:            u.ID.String(),
		Email:         u.Email,
		Name:          u.Name,
		AvatarURL:     u.AvatarURL,
		EmailVerified: u.EmailVerified,
		Role:          u.Role,
		HasPassword:   u.HasPassword(),
		CreatedAt:     u.CreatedAt,
	}
}

// registerRequest accepts the display name as either "name" or "fullName".
type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name,omitempty"`
	FullName string `json:"fullName,omitempty"`
}

func (r registerRequest) displayName() string {
	if r.Name != "" {
		return r.Name
	}
	return r.FullName
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenRequest struct {
	Token string `json:"token"`
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

type resetPasswordRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

// Register handles POST /api/auth/register and signs the new account in. If
// the session cannot be opened the account stays and the caller gets a 500.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeJSONError(w, err)
		return
	}

	user, err := h.accounts.Register(r.Context(), auth.RegisterInput{
		Email:    req.Email,
		Password: req.Password,
		Name:     req.displayName(),
	})
	if err != nil {
		h.handleError(w, err)
		return
	}

	if err := h.sessions.CreateSession(r.Context(), w, r, user); err != nil {
		h.metrics.ObserveLogin("password", "error")
		h.logger.Error("register: session creation failed", "user_id", user.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "unexpected error")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"user": newUserResponse(user)})
}

// Login handles POST /api/auth/login.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeJSONError(w, err)
		return
	}

	user, err := h.accounts.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			h.metrics.ObserveLogin("password", "failure")
		} else {
			h.metrics.ObserveLogin("password", "error")
		}
		h.handleError(w, err)
		return
	}

	if err := h.sessions.CreateSession(r.Context(), w, r, user); err != nil {
		h.metrics.ObserveLogin("password", "error")
		h.logger.Error("login: session creation failed", "user_id", user.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "unexpected error")
		return
	}

	h.metrics.ObserveLogin("password", "success")
	h.logger.Info("login successful", "user_id", user.ID)
	writeJSON(w, http.StatusOK, map[string]any{"user": newUserResponse(user)})
}

// Refresh handles POST /api/auth/refresh.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	claims := h.sessions.Refresh(w, r)
	if claims == nil {
		h.metrics.ObserveRefresh("failure")
		unauthorized(w)
		return
	}
	h.metrics.ObserveRefresh("success")
	writeJSON(w, http.StatusOK, map[string]any{
		"userId":    claims.UserID.String(),
		"expiresAt": claims.ExpiresAt,
	})
}

// Logout handles POST /api/auth/logout. It always succeeds.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.sessions.Logout(w, r)
	w.WriteHeader(http.StatusNoContent)
}

// LogoutAll handles POST /api/auth/logout-all.
func (h *AuthHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	identity := IdentityFromContext(r.Context())
	revoked := h.sessions.LogoutAllSessions(w, r, identity.UserID)
	writeJSON(w, http.StatusOK, map[string]int64{"revoked": revoked})
}

// VerifyEmail handles POST /api/auth/verify-email.
func (h *AuthHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeJSONError(w, err)
		return
	}
	user, err := h.accounts.VerifyEmail(r.Context(), req.Token)
	if err != nil {
		h.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": newUserResponse(user)})
}

// ResendVerification handles POST /api/auth/verify-email/resend.
func (h *AuthHandler) ResendVerification(w http.ResponseWriter, r *http.Request) {
	identity := IdentityFromContext(r.Context())
	if err := h.accounts.ResendVerification(r.Context(), identity.UserID); err != nil {
		h.handleError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// ForgotPassword handles POST /api/auth/password/forgot. The response does
// not reveal whether the email has an account.
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeJSONError(w, err)
		return
	}
	if err := h.accounts.RequestPasswordReset(r.Context(), req.Email); err != nil {
		h.handleError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// ResetPassword handles POST /api/auth/password/reset.
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeJSONError(w, err)
		return
	}
	if err := h.accounts.ResetPasswordWithToken(r.Context(), req.Token, req.Password); err != nil {
		h.handleError(w, err)
		return
	}
	h.sessions.ClearCookies(w, r)
	w.WriteHeader(http.StatusNoContent)
}

// ChangePassword handles POST /api/auth/password/change. Every session of
// the user is revoked, including the caller's.
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeJSONError(w, err)
		return
	}
	identity := IdentityFromContext(r.Context())
	if err := h.accounts.ChangePassword(r.Context(), identity.UserID, req.CurrentPassword, req.NewPassword); err != nil {
		h.handleError(w, err)
		return
	}
	h.sessions.ClearCookies(w, r)
	w.WriteHeader(http.StatusNoContent)
}

func (h *AuthHandler) handleError(w http.ResponseWriter, err error) {
	handleServiceError(w, err, h.logger)
}

func handleServiceError(w http.ResponseWriter, err error, logger *slog.Logger) {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, auth.ErrInvalidCredentials.Error())
	case errors.Is(err, auth.ErrTokenNotFound):
		writeError(w, http.StatusBadRequest, auth.ErrTokenNotFound.Error())
	case errors.Is(err, auth.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrEmailTaken):
		writeError(w, http.StatusConflict, auth.ErrEmailTaken.Error())
	case errors.Is(err, auth.ErrUserNotFound):
		writeError(w, http.StatusNotFound, auth.ErrUserNotFound.Error())
	default:
		logger.Error("service error", "error", err)
		writeError(w, http.StatusInternalServerError, "unexpected error")
	}
}
