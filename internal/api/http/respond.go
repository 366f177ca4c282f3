// Package apihttp is the HTTP shell over the billing services.
package apihttp

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"community-billing/internal/apperrors"
)

const dateLayout = "2006-01-02"

type errorResponse struct {
	Error    string   `json:"error"`
	Message  string   `json:"message"`
	Subjects []string `json:"subjects,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return apperrors.Validation("request body required")
		}
		return apperrors.Validation("invalid json: %v", err)
	}
	return nil
}

// respondServiceError maps error kinds to status codes. Unclassified
// errors are internal.
func respondServiceError(w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	kind := apperrors.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case apperrors.KindValidation:
		status = http.StatusBadRequest
	case apperrors.KindConflict:
		status = http.StatusConflict
	case apperrors.KindNotFound:
		status = http.StatusNotFound
	case apperrors.KindInconsistent:
		status = http.StatusUnprocessableEntity
	}
	resp := errorResponse{Error: string(kind), Message: err.Error(), Subjects: apperrors.SubjectsOf(err)}
	if status == http.StatusInternalServerError {
		resp = errorResponse{Error: "internal", Message: "internal error"}
	}
	writeJSON(w, status, resp)
}

// parseDate accepts a calendar date or an RFC3339 timestamp.
func parseDate(field, raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, apperrors.Validation("%s is required", field)
	}
	if t, err := time.Parse(dateLayout, raw); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, apperrors.Validation("%s must be YYYY-MM-DD or RFC3339", field)
	}
	return t.UTC(), nil
}

func methodNotAllowed(w http.ResponseWriter) {
	w.WriteHeader(http.StatusMethodNotAllowed)
}
