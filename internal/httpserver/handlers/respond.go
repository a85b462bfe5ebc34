package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"carshare/internal/apperr"
)

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

// respondError maps a service failure to its status and body. Precondition
// failures additionally carry the full issues list.
func respondError(w http.ResponseWriter, err error) {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		body := map[string]any{"error": ae.Message}
		if len(ae.Issues) > 0 {
			body["issues"] = ae.Issues
		}
		respondJSON(w, ae.HTTPStatus(), body)
		return
	}
	respondJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal error"})
}

func decodeBody(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apperr.Validationf("malformed request body")
	}
	return nil
}
