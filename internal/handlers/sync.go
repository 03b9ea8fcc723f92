package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/commco/backend/internal/logging"
	"github.com/commco/backend/internal/models"
	"github.com/commco/backend/internal/pipeline"
	"github.com/commco/backend/internal/repositories"
)

// SyncHandler triggers channel syncs and reports on queued jobs.
type SyncHandler struct {
	Channels          ChannelStore
	Queue             SyncQueue
	Limiter           RateLimiter
	TrustForwardedFor bool
}

type jobResponse struct {
	Job models.SyncJob `json:"job"`
}

// Trigger handles POST /api/v1/channels/{channelID}/sync.
func (h SyncHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	logger := logging.FromContext(ctx)

	if h.Channels == nil || h.Queue == nil {
		logger.Error("sync dependencies unavailable", "hasChannels", h.Channels != nil, "hasQueue", h.Queue != nil)
		respondError(ctx, w, http.StatusInternalServerError, "sync service unavailable")
		return
	}

	channelID := strings.TrimSpace(r.PathValue("channelID"))
	if channelID == "" {
		respondError(ctx, w, http.StatusBadRequest, "channel id is required")
		return
	}

	if !allowSync(w, h.Limiter, callerAddress(r, h.TrustForwardedFor), channelID) {
		respondError(ctx, w, http.StatusTooManyRequests, "too many sync requests")
		return
	}

	if _, err := h.Channels.FindChannel(ctx, channelID); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			respondError(ctx, w, http.StatusNotFound, "channel not found")
			return
		}
		logger.Error("sync channel lookup failed", "channelId", channelID, "error", err)
		respondError(ctx, w, http.StatusInternalServerError, "unable to load channel")
		return
	}

	job, err := h.Queue.Enqueue(ctx, channelID)
	if err != nil {
		if errors.Is(err, pipeline.ErrQueueFull) || errors.Is(err, pipeline.ErrQueueClosed) {
			w.Header().Set("Retry-After", "30")
			respondError(ctx, w, http.StatusServiceUnavailable, "sync queue is busy")
			return
		}
		logger.Error("enqueue sync failed", "channelId", channelID, "error", err)
		respondError(ctx, w, http.StatusInternalServerError, "unable to schedule sync")
		return
	}

	w.Header().Set("Location", "/api/v1/sync-jobs/"+job.ID)
	respondJSON(ctx, w, http.StatusAccepted, jobResponse{Job: job})
}

// Job handles GET /api/v1/sync-jobs/{jobID}.
func (h SyncHandler) Job(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	if h.Queue == nil {
		respondError(ctx, w, http.StatusInternalServerError, "sync service unavailable")
		return
	}

	job, ok := h.Queue.Job(strings.TrimSpace(r.PathValue("jobID")))
	if !ok {
		respondError(ctx, w, http.StatusNotFound, "job not found")
		return
	}

	respondJSON(ctx, w, http.StatusOK, jobResponse{Job: job})
}
