package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/commco/backend/internal/logging"
	"github.com/commco/backend/internal/pipeline"
)

// errorResponse is the body of every non-2xx reply. Code is the stable run
// error code when the failure came from the sync or reply path.
type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func respondJSON(ctx context.Context, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logging.FromContext(ctx).Warn("write response body", "status", status, "error", err)
	}
}

func respondError(ctx context.Context, w http.ResponseWriter, status int, message string) {
	respondJSON(ctx, w, status, errorResponse{Error: message})
}

// respondFailure translates a domain error into status, message and code.
func respondFailure(ctx context.Context, w http.ResponseWriter, err error) int {
	status, message := statusFor(err)
	body := errorResponse{Error: message}
	if status != http.StatusBadRequest && status != http.StatusInternalServerError {
		body.Code = pipeline.ErrorCode(err)
	}
	respondJSON(ctx, w, status, body)
	return status
}
