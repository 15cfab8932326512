package http

import (
	"net/http"

	"housegen/internal/auth"
)

// SessionHandler reports who the caller is without ever rejecting them.
type SessionHandler struct {
	resolver identityResolver
}

// NewSessionHandler returns a handler backed by the given resolver.
func NewSessionHandler(resolver identityResolver) *SessionHandler {
	return &SessionHandler{resolver: resolver}
}

type identityResponse struct {
	UserID    string      `json:"userId"`
	Email     string      `json:"email,omitempty"`
	Role      auth.Role   `json:"role"`
	AvatarRef string      `json:"avatarRef,omitempty"`
	Source    auth.Source `json:"source"`
}

func newIdentityResponse(id *auth.Identity) identityResponse {
	return identityResponse{
		UserID:    id.UserID.String(),
		Email:     id.Email,
		Role:      id.Role,
		AvatarRef: id.AvatarRef,
		Source:    id.Source,
	}
}

// Status handles GET /api/session.
func (h *SessionHandler) Status(w http.ResponseWriter, r *http.Request) {
	identity := h.resolver.Resolve(r)
	if identity == nil {
		writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"authenticated": true,
		"identity":      newIdentityResponse(identity),
	})
}
