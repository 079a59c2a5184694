package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/p-n-ai/pai-papers/internal/ai"
	"github.com/p-n-ai/pai-papers/internal/ingest"
	"github.com/p-n-ai/pai-papers/internal/practice"
	"github.com/p-n-ai/pai-papers/internal/structuring"
)

type errorResponse struct {
	Error  string              `json:"error"`
	Fields []ingest.FieldError `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to write response", "error", err)
	}
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeError maps service errors onto status codes. Unexpected errors are
// logged and reported without detail.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *ingest.ValidationError
	var serr *structuring.SchemaError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "validation failed", Fields: verr.Fields})
	case errors.Is(err, ingest.ErrNotFound):
		writeMessage(w, http.StatusNotFound, "not found")
	case errors.Is(err, ingest.ErrConflict):
		writeMessage(w, http.StatusConflict, err.Error())
	case errors.Is(err, practice.ErrInvalidCount):
		writeMessage(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &serr), errors.Is(err, ai.ErrTruncated):
		slog.Warn("model returned unusable output", "path", r.URL.Path, "error", err)
		writeMessage(w, http.StatusBadGateway, "model returned unusable output")
	case errors.Is(err, ai.ErrNoProvider):
		writeMessage(w, http.StatusServiceUnavailable, "no model provider configured")
	default:
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeMessage(w, http.StatusInternalServerError, "internal server error")
	}
}

func validationError(field, format string, args ...any) error {
	v := &ingest.ValidationError{}
	v.Add(field, format, args...)
	return v
}
