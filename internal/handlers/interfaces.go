package handlers

import (
	"context"

	"github.com/commco/backend/internal/models"
)

// Pinger reports whether the database is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ChannelStore resolves channels addressed by the API.
type ChannelStore interface {
	FindChannel(ctx context.Context, id string) (models.Channel, error)
}

// CommentStore lists synchronized comments for display.
type CommentStore interface {
	ListComments(ctx context.Context, channelID string, category models.Category, limit int) ([]models.Comment, error)
}

// SyncQueue schedules sync runs and reports on them.
type SyncQueue interface {
	Enqueue(ctx context.Context, channelID string) (models.SyncJob, error)
	Job(id string) (models.SyncJob, bool)
}

// Replier posts a reply to a stored comment.
type Replier interface {
	Reply(ctx context.Context, commentID, text string) (string, error)
}
