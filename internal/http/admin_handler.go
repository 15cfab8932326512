package http

import (
	"log/slog"
	"net/http"

	"housegen/internal/auth"
)

// AdminHandler serves account lookups for administrators.
type AdminHandler struct {
	accounts *auth.Service
	logger   *slog.Logger
}

func NewAdminHandler(accounts *auth.Service, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{accounts: accounts, logger: logger}
}

// GetUser handles GET /api/admin/users/{id}.
func (h *AdminHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}
	user, err := h.accounts.CurrentUser(r.Context(), id)
	if err != nil {
		handleServiceError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": newUserResponse(user)})
}
