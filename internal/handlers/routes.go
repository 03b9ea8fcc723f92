package handlers

import (
	"net/http"

	"github.com/commco/backend/internal/models"
)

// Instrumenter wraps a route handler with request metrics.
type Instrumenter interface {
	Instrument(route string, next http.Handler) http.Handler
	Handler() http.Handler
}

// Dependencies aggregates collaborators required by HTTP handlers.
type Dependencies struct {
	DB          Pinger
	Channels    ChannelStore
	Comments    CommentStore
	Queue       SyncQueue
	Replies     Replier
	Taxonomy    models.Taxonomy
	SyncLimiter RateLimiter
	Metrics     Instrumenter
	// TrustForwardedFor lets the sync limiter key callers by X-Forwarded-For.
	TrustForwardedFor bool
}

// RegisterRoutes wires HTTP handlers into the provided ServeMux.
func RegisterRoutes(mux *http.ServeMux, deps Dependencies) {
	health := HealthHandler{DB: deps.DB}
	syncs := SyncHandler{Channels: deps.Channels, Queue: deps.Queue, Limiter: deps.SyncLimiter, TrustForwardedFor: deps.TrustForwardedFor}
	comments := CommentHandler{Channels: deps.Channels, Comments: deps.Comments, Replies: deps.Replies, Taxonomy: deps.Taxonomy}

	handle := func(pattern, route string, h http.HandlerFunc) {
		if deps.Metrics == nil {
			mux.Handle(pattern, h)
			return
		}
		mux.Handle(pattern, deps.Metrics.Instrument(route, h))
	}

	mux.HandleFunc("/healthz", health.Handle)
	mux.HandleFunc("/readyz", health.Ready)
	handle("/api/v1/channels/{channelID}/sync", "/api/v1/channels/:id/sync", syncs.Trigger)
	handle("/api/v1/sync-jobs/{jobID}", "/api/v1/sync-jobs/:id", syncs.Job)
	handle("/api/v1/channels/{channelID}/comments", "/api/v1/channels/:id/comments", comments.List)
	handle("/api/v1/comments/{commentID}/reply", "/api/v1/comments/:id/reply", comments.Reply)
	if deps.Metrics != nil {
		mux.Handle("/metrics", deps.Metrics.Handler())
	}
}
