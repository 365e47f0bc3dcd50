package httpx

import (
	"log/slog"
	"net/http"

	"github.com/ferrite-id/ferrite/internal/service"
)

// AdminHandlers serves the administrative user endpoints.
type AdminHandlers struct {
	Users  *service.UserService
	Logger *slog.Logger
}

// GetUser handles GET /admin/users/{id}.
func (h *AdminHandlers) GetUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.Users.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		RenderError(w, r, err, h.Logger)
		return
	}
	WriteJSON(w, http.StatusOK, user)
}

// DeleteUser handles DELETE /admin/users/{id}: soft delete with session
// revocation, credential cascade, and the deletion broadcast.
func (h *AdminHandlers) DeleteUser(w http.ResponseWriter, r *http.Request) {
	if err := h.Users.Delete(r.Context(), r.PathValue("id")); err != nil {
		RenderError(w, r, err, h.Logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
