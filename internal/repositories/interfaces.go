package repositories

import (
	"context"
	"time"

	"github.com/commco/backend/internal/models"
)

// AccountRepository defines the data access contract for creator accounts.
type AccountRepository interface {
	FindAccount(ctx context.Context, id string) (models.Account, error)
	UpsertAccount(ctx context.Context, account models.Account) (models.Account, error)
	UpdateCredential(ctx context.Context, accountID string, accessToken, refreshToken []byte, expiresAt time.Time) error
	DeleteAccount(ctx context.Context, id string) error
}

// ChannelRepository defines the data access contract for channels.
type ChannelRepository interface {
	FindChannel(ctx context.Context, id string) (models.Channel, error)
	ListChannels(ctx context.Context, accountID string) ([]models.Channel, error)
	CreateChannel(ctx context.Context, channel models.Channel) error
}

// CommentRepository defines the data access contract for synchronized comments.
type CommentRepository interface {
	FindComment(ctx context.Context, id string) (models.Comment, error)
	FindCommentByExternalID(ctx context.Context, channelID, externalID string) (models.Comment, error)
	ListComments(ctx context.Context, channelID string, category models.Category, limit int) ([]models.Comment, error)
	CommitBatch(ctx context.Context, changes models.ChangeSet) error
}
