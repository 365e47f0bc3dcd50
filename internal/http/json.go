package httpx

import (
	"bytes"
	"encoding/json"
	"net/http"

	apperrors "github.com/ferrite-id/ferrite/internal/errors"
)

// DecodeJSON decodes the request body into dst, rejecting unknown fields.
// On failure it renders a validation error and reports false so the handler
// can just return.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		RenderError(w, r, apperrors.Validation("request body is not valid JSON"), nil)
		return false
	}
	return true
}

// WriteJSON writes v as a JSON response with the given status code. The body
// is encoded to a buffer first so an encoding failure can still become a
// clean 500 instead of a half-written response.
func WriteJSON(w http.ResponseWriter, code int, v any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if _, err := buf.WriteTo(w); err != nil {
		// The status line is already out. A write failure here means the
		// client went away, so there is nothing left to report.
		return
	}
}
