package replies

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/commco/backend/internal/logging"
	"github.com/commco/backend/internal/models"
)

// MaxReplyLength bounds the text accepted by the provider for one comment.
const MaxReplyLength = 10000

// ErrInvalidReply indicates the reply text is empty or too long.
var ErrInvalidReply = errors.New("invalid reply")

// Store resolves a stored comment to the channel and account that own it.
type Store interface {
	FindComment(ctx context.Context, id string) (models.Comment, error)
	FindChannel(ctx context.Context, id string) (models.Channel, error)
	FindAccount(ctx context.Context, id string) (models.Account, error)
}

// CredentialSource yields a usable credential for an account.
type CredentialSource interface {
	Fresh(ctx context.Context, account models.Account) (models.Credential, error)
}

// Poster publishes a reply under a provider comment.
type Poster interface {
	Reply(ctx context.Context, cred models.Credential, parentExternalID, text string) (string, error)
}

// Service posts replies to synchronized comments on behalf of the channel owner.
type Service struct {
	store  Store
	creds  CredentialSource
	poster Poster
}

// NewService constructs a Service.
func NewService(store Store, creds CredentialSource, poster Poster) *Service {
	return &Service{store: store, creds: creds, poster: poster}
}

// Reply posts text as a reply to the stored comment and returns the provider id
// of the new reply.
func (s *Service) Reply(ctx context.Context, commentID, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("%w: text is required", ErrInvalidReply)
	}
	if utf8.RuneCountInString(text) > MaxReplyLength {
		return "", fmt.Errorf("%w: text exceeds %d characters", ErrInvalidReply, MaxReplyLength)
	}

	comment, err := s.store.FindComment(ctx, commentID)
	if err != nil {
		return "", fmt.Errorf("load comment %s: %w", commentID, err)
	}
	channel, err := s.store.FindChannel(ctx, comment.ChannelID)
	if err != nil {
		return "", fmt.Errorf("load channel %s: %w", comment.ChannelID, err)
	}
	account, err := s.store.FindAccount(ctx, channel.AccountID)
	if err != nil {
		return "", fmt.Errorf("load account %s: %w", channel.AccountID, err)
	}

	cred, err := s.creds.Fresh(ctx, account)
	if err != nil {
		return "", err
	}

	replyID, err := s.poster.Reply(ctx, cred, comment.ExternalID, text)
	if err != nil {
		return "", err
	}

	logging.FromContext(ctx).Info("reply posted",
		slog.String("comment_id", comment.ID),
		slog.String("reply_id", replyID),
	)
	return replyID, nil
}
