package http

import (
	"log/slog"
	"net/http"
	"time"

	"housegen/internal/auth"
	"housegen/internal/ratelimit"
)

// GenerationQuotaKey is the counter key of a user's hourly generation quota.
func GenerationQuotaKey(identity *auth.Identity) string {
	return "generations:" + identity.UserID.String()
}

// MeHandler serves the signed-in user's own account.
type MeHandler struct {
	accounts    *auth.Service
	generations ratelimit.Peeker
	logger      *slog.Logger
}

// NewMeHandler creates a new MeHandler. generations may be nil, in which
// case the quota endpoint reports 404.
func NewMeHandler(accounts *auth.Service, generations ratelimit.Peeker, logger *slog.Logger) *MeHandler {
	return &MeHandler{accounts: accounts, generations: generations, logger: logger}
}

// Get handles GET /api/me.
func (h *MeHandler) Get(w http.ResponseWriter, r *http.Request) {
	identity := IdentityFromContext(r.Context())
	user, err := h.accounts.CurrentUser(r.Context(), identity.UserID)
	if err != nil {
		handleServiceError(w, err, h.logger)
		return
	}

	resp := newUserResponse(user)
	if resp.AvatarURL == "" {
		resp.AvatarURL = identity.AvatarRef
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user":   resp,
		"source": identity.Source,
	})
}

type quotaResponse struct {
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"resetAt,omitzero"`
}

// Quota handles GET /api/me/quota. It reads the window without using it up.
func (h *MeHandler) Quota(w http.ResponseWriter, r *http.Request) {
	if h.generations == nil {
		writeError(w, http.StatusNotFound, "quota not configured")
		return
	}
	identity := IdentityFromContext(r.Context())
	d, err := h.generations.Peek(r.Context(), GenerationQuotaKey(identity))
	if err != nil {
		h.logger.Error("quota lookup failed", "user_id", identity.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "unexpected error")
		return
	}
	writeJSON(w, http.StatusOK, quotaResponse{Limit: d.Limit, Remaining: d.Remaining, ResetAt: d.ResetAt})
}
