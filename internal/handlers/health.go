package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/commco/backend/internal/logging"
)

// HealthHandler responds with service health information.
type HealthHandler struct {
	DB Pinger
}

// Handle implements GET /healthz.
func (HealthHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	respondJSON(r.Context(), w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready implements GET /readyz. The service is ready once the database answers.
func (h HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	if h.DB == nil {
		respondError(ctx, w, http.StatusServiceUnavailable, "database unavailable")
		return
	}

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := h.DB.Ping(pingCtx); err != nil {
		logging.FromContext(ctx).Warn("readiness check failed", "error", err)
		respondError(ctx, w, http.StatusServiceUnavailable, "database unavailable")
		return
	}

	respondJSON(ctx, w, http.StatusOK, map[string]string{"status": "ready"})
}
