package credentials

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/commco/backend/internal/logging"
	"github.com/commco/backend/internal/models"
)

// Keeper hands out usable credentials for an account, renewing and persisting
// them first when needed.
type Keeper struct {
	store          *Store
	refresher      Refresher
	refreshTimeout time.Duration
	writeTimeout   time.Duration
}

// NewKeeper constructs a Keeper. Zero timeouts disable the per-call deadline.
func NewKeeper(store *Store, refresher Refresher, refreshTimeout, writeTimeout time.Duration) *Keeper {
	return &Keeper{
		store:          store,
		refresher:      refresher,
		refreshTimeout: refreshTimeout,
		writeTimeout:   writeTimeout,
	}
}

// Fresh decrypts the account's credential and refreshes it when expired. A
// renewed credential is written back before it is returned.
func (k *Keeper) Fresh(ctx context.Context, account models.Account) (models.Credential, error) {
	cred, err := k.store.Credential(account)
	if err != nil {
		return models.Credential{}, err
	}

	refreshCtx, cancel := withTimeout(ctx, k.refreshTimeout)
	updated, renewed, err := k.refresher.Refresh(refreshCtx, cred)
	cancel()
	if err != nil {
		return models.Credential{}, err
	}
	if !renewed {
		return cred, nil
	}

	writeCtx, cancel := withTimeout(ctx, k.writeTimeout)
	defer cancel()
	if err := k.store.Save(writeCtx, account.ID, updated); err != nil {
		return models.Credential{}, fmt.Errorf("%w: %w", ErrCredentialWrite, err)
	}

	logging.FromContext(ctx).Info("credential renewed",
		slog.String("account_id", account.ID),
		slog.Time("expires_at", updated.ExpiresAt),
	)
	return updated, nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
