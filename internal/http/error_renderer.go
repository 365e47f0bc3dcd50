package httpx

import (
	"log/slog"
	"net/http"

	apperrors "github.com/ferrite-id/ferrite/internal/errors"
)

// errorStatus maps each error category to its HTTP status. Anything outside
// the taxonomy is an internal failure.
var errorStatus = map[apperrors.ErrorCode]int{
	apperrors.ErrCodeNotFound:            http.StatusNotFound,
	apperrors.ErrCodeAlreadyExists:       http.StatusConflict,
	apperrors.ErrCodeValidation:          http.StatusBadRequest,
	apperrors.ErrCodeAuthFailed:          http.StatusUnauthorized,
	apperrors.ErrCodeOAuthAuthFailed:     http.StatusUnauthorized,
	apperrors.ErrCodeScopeNotGranted:     http.StatusForbidden,
	apperrors.ErrCodeSessionExpired:      http.StatusUnauthorized,
	apperrors.ErrCodeLastAuthMethod:      http.StatusConflict,
	apperrors.ErrCodeOuterSyncComm:       http.StatusServiceUnavailable,
	apperrors.ErrCodeStructuralViolation: http.StatusConflict,
	apperrors.ErrCodeInternal:            http.StatusInternalServerError,
}

// errorBody is the wire shape of every error response. Only the fixed
// category, the curated message, and the optional continuation token cross
// the boundary; internal errors are never echoed.
type errorBody struct {
	Error         string `json:"error"`
	Message       string `json:"message"`
	Field         string `json:"field,omitempty"`
	IdentityToken string `json:"identity_token,omitempty"`
}

// RenderError writes the category-mapped JSON response for any service
// error. Unrecognized errors are normalized to a generic internal failure
// and logged server-side only.
func RenderError(w http.ResponseWriter, r *http.Request, err error, logger *slog.Logger) {
	code := apperrors.GetCode(err)
	status, known := errorStatus[code]
	if !known || code == apperrors.ErrCodeInternal {
		if logger != nil {
			logger.ErrorContext(r.Context(), "request failed",
				"method", r.Method, "path", r.URL.Path, "error", err)
		}
		WriteJSON(w, http.StatusInternalServerError, errorBody{
			Error:   string(apperrors.ErrCodeInternal),
			Message: "internal error",
		})
		return
	}

	WriteJSON(w, status, errorBody{
		Error:         string(code),
		Message:       apperrors.GetMessage(err),
		Field:         apperrors.GetField(err),
		IdentityToken: apperrors.GetIdentityToken(err),
	})
}
