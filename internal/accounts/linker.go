package accounts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/commco/backend/internal/credentials"
	"github.com/commco/backend/internal/logging"
	"github.com/commco/backend/internal/models"
)

var (
	// ErrInvalidIdentity indicates the authentication collaborator handed over
	// an identity or credential that cannot be stored.
	ErrInvalidIdentity = errors.New("invalid identity")
	// ErrNoChannel indicates the linked user owns no channel at the provider.
	ErrNoChannel = errors.New("account owns no channel")
)

// Store persists accounts and their channels.
type Store interface {
	UpsertAccount(ctx context.Context, account models.Account) (models.Account, error)
	ListChannels(ctx context.Context, accountID string) ([]models.Channel, error)
	CreateChannel(ctx context.Context, channel models.Channel) error
}

// ChannelLister reports the channels a credential's owner controls.
type ChannelLister interface {
	ListOwnedChannels(ctx context.Context, cred models.Credential) ([]string, error)
}

// Linker stores the outcome of a completed consent and makes sure the account
// has a channel to synchronize.
type Linker struct {
	store  Store
	creds  *credentials.Store
	lister ChannelLister

	now   func() time.Time
	newID func() string
}

// NewLinker constructs a Linker.
func NewLinker(store Store, creds *credentials.Store, lister ChannelLister) *Linker {
	return &Linker{
		store:  store,
		creds:  creds,
		lister: lister,
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// Link upserts the account for identity with cred encrypted at rest. When the
// account has no channel yet, the first channel the user owns is created.
func (l *Linker) Link(ctx context.Context, identity models.Identity, cred models.Credential) (models.Account, []models.Channel, error) {
	identity.ExternalID = strings.TrimSpace(identity.ExternalID)
	identity.Email = strings.TrimSpace(strings.ToLower(identity.Email))
	if identity.ExternalID == "" || identity.Email == "" {
		return models.Account{}, nil, fmt.Errorf("%w: external id and email are required", ErrInvalidIdentity)
	}
	if strings.TrimSpace(cred.AccessToken) == "" {
		return models.Account{}, nil, fmt.Errorf("%w: access token is required", ErrInvalidIdentity)
	}

	access, refresh, err := l.creds.Encrypt(cred)
	if err != nil {
		return models.Account{}, nil, err
	}

	account, err := l.store.UpsertAccount(ctx, models.Account{
		ID:                    l.newID(),
		ExternalID:            identity.ExternalID,
		Email:                 identity.Email,
		AccessTokenEncrypted:  access,
		RefreshTokenEncrypted: refresh,
		TokenExpiresAt:        cred.ExpiresAt,
		CreatedAt:             l.now().UTC(),
	})
	if err != nil {
		return models.Account{}, nil, fmt.Errorf("upsert account: %w", err)
	}

	logger := logging.FromContext(ctx).With(slog.String("account_id", account.ID))

	channels, err := l.store.ListChannels(ctx, account.ID)
	if err != nil {
		return models.Account{}, nil, fmt.Errorf("list channels: %w", err)
	}
	if len(channels) > 0 {
		logger.Info("account relinked", slog.Int("channels", len(channels)))
		return account, channels, nil
	}

	owned, err := l.lister.ListOwnedChannels(ctx, cred)
	if err != nil {
		return models.Account{}, nil, fmt.Errorf("list owned channels: %w", err)
	}
	if len(owned) == 0 {
		return account, nil, ErrNoChannel
	}

	channel := models.Channel{
		ID:         l.newID(),
		AccountID:  account.ID,
		ExternalID: owned[0],
		CreatedAt:  l.now().UTC(),
	}
	if err := l.store.CreateChannel(ctx, channel); err != nil {
		return models.Account{}, nil, fmt.Errorf("create channel %s: %w", channel.ExternalID, err)
	}

	logger.Info("account linked", slog.String("channel_id", channel.ID), slog.String("channel_external_id", channel.ExternalID))
	return account, []models.Channel{channel}, nil
}
