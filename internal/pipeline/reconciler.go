package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/commco/backend/internal/classifier"
	"github.com/commco/backend/internal/logging"
	"github.com/commco/backend/internal/models"
	"github.com/commco/backend/internal/repositories"
)

// Store is the persistence the reconciler reads from and commits to.
type Store interface {
	FindChannel(ctx context.Context, id string) (models.Channel, error)
	FindAccount(ctx context.Context, id string) (models.Account, error)
	FindCommentByExternalID(ctx context.Context, channelID, externalID string) (models.Comment, error)
	CommitBatch(ctx context.Context, changes models.ChangeSet) error
}

// CredentialSource yields a usable credential for an account, refreshing and
// persisting it first when it has expired.
type CredentialSource interface {
	Fresh(ctx context.Context, account models.Account) (models.Credential, error)
}

// CommentSource lists a channel's most recent comments.
type CommentSource interface {
	FetchLatest(ctx context.Context, cred models.Credential, channelExternalID string, maxResults int) ([]models.RawComment, error)
}

// Observer receives run and queue measurements.
type Observer interface {
	ObserveSync(outcome string, summary models.RunSummary, elapsed time.Duration)
	ObserveQueueDepth(depth int)
}

type nopObserver struct{}

func (nopObserver) ObserveSync(string, models.RunSummary, time.Duration) {}
func (nopObserver) ObserveQueueDepth(int)                                {}

// ReconcilerConfig bounds each blocking step of a run. Zero timeouts leave the
// step bounded only by the run's own context.
type ReconcilerConfig struct {
	MaxResults      int
	LookupTimeout   time.Duration
	FetchTimeout    time.Duration
	ClassifyTimeout time.Duration
	CommitTimeout   time.Duration
}

// Reconciler synchronizes one channel's recent comments into the store.
type Reconciler struct {
	store      Store
	creds      CredentialSource
	source     CommentSource
	classifier classifier.Classifier
	cfg        ReconcilerConfig
	observer   Observer

	now   func() time.Time
	newID func() string
}

// NewReconciler wires a Reconciler. observer may be nil.
func NewReconciler(store Store, creds CredentialSource, source CommentSource, cls classifier.Classifier, cfg ReconcilerConfig, observer Observer) *Reconciler {
	if observer == nil {
		observer = nopObserver{}
	}
	return &Reconciler{
		store:      store,
		creds:      creds,
		source:     source,
		classifier: cls,
		cfg:        cfg,
		observer:   observer,
		now:        time.Now,
		newID:      uuid.NewString,
	}
}

// Sync fetches the channel's latest comments, classifies each one and commits
// new comments and changed categories in a single batch. Nothing is written
// when the run fails or is cancelled before the commit.
func (r *Reconciler) Sync(ctx context.Context, channelID string) (summary models.RunSummary, err error) {
	start := r.now()
	defer func() {
		outcome := "succeeded"
		if err != nil {
			outcome = ErrorCode(err)
		}
		r.observer.ObserveSync(outcome, summary, r.now().Sub(start))
	}()

	stageCtx, stage := logging.StartStage(ctx, string(StageLoadAccount))
	channel, account, err := r.load(stageCtx, channelID)
	stage.End(err)
	if err != nil {
		return models.RunSummary{}, failure(ctx, StageLoadAccount, err)
	}

	stageCtx, stage = logging.StartStage(ctx, string(StageRefreshCredential))
	cred, err := r.creds.Fresh(stageCtx, account)
	stage.End(err)
	if err != nil {
		return models.RunSummary{}, failure(ctx, StageRefreshCredential, err)
	}

	stageCtx, stage = logging.StartStage(ctx, string(StageFetchRemote))
	fetched, err := r.fetch(stageCtx, cred, channel)
	stage.End(err)
	if err != nil {
		return models.RunSummary{}, failure(ctx, StageFetchRemote, err)
	}
	summary.Fetched = len(fetched)

	stageCtx, stage = logging.StartStage(ctx, string(StageReconcileEach))
	changes, err := r.reconcile(stageCtx, channel, fetched)
	stage.End(err)
	if err != nil {
		return models.RunSummary{Fetched: summary.Fetched}, failure(ctx, StageReconcileEach, err)
	}
	summary.Created = len(changes.Inserts)
	summary.Updated = len(changes.Updates)

	if changes.Empty() {
		logging.FromContext(ctx).Info("sync finished with nothing to commit", slog.Int("fetched", summary.Fetched))
		return summary, nil
	}

	stageCtx, stage = logging.StartStage(ctx, string(StageCommit))
	err = r.commit(stageCtx, changes)
	stage.End(err)
	if err != nil {
		return models.RunSummary{Fetched: summary.Fetched}, failure(ctx, StageCommit, err)
	}

	logging.FromContext(ctx).Info("sync finished",
		slog.Int("fetched", summary.Fetched),
		slog.Int("created", summary.Created),
		slog.Int("updated", summary.Updated),
	)
	return summary, nil
}

func (r *Reconciler) load(ctx context.Context, channelID string) (models.Channel, models.Account, error) {
	channel, err := r.store.FindChannel(ctx, channelID)
	if err != nil {
		return models.Channel{}, models.Account{}, fmt.Errorf("load channel %s: %w", channelID, err)
	}
	account, err := r.store.FindAccount(ctx, channel.AccountID)
	if err != nil {
		return models.Channel{}, models.Account{}, fmt.Errorf("load account %s: %w", channel.AccountID, err)
	}
	return channel, account, nil
}

func (r *Reconciler) fetch(ctx context.Context, cred models.Credential, channel models.Channel) ([]models.RawComment, error) {
	ctx, cancel := withTimeout(ctx, r.cfg.FetchTimeout)
	defer cancel()
	return r.source.FetchLatest(ctx, cred, channel.ExternalID, r.cfg.MaxResults)
}

func (r *Reconciler) reconcile(ctx context.Context, channel models.Channel, fetched []models.RawComment) (models.ChangeSet, error) {
	var changes models.ChangeSet
	seen := make(map[string]struct{}, len(fetched))
	logger := logging.FromContext(ctx)

	for _, raw := range fetched {
		if err := ctx.Err(); err != nil {
			return models.ChangeSet{}, err
		}
		if _, dup := seen[raw.ExternalID]; dup {
			logger.Debug("skipping duplicate comment in fetch", slog.String("external_id", raw.ExternalID))
			continue
		}
		seen[raw.ExternalID] = struct{}{}

		existing, found, err := r.lookup(ctx, channel.ID, raw.ExternalID)
		if err != nil {
			return models.ChangeSet{}, err
		}

		category := r.classify(ctx, raw.Text)

		switch {
		case !found:
			now := r.now().UTC()
			changes.Inserts = append(changes.Inserts, models.Comment{
				ID:              r.newID(),
				ChannelID:       channel.ID,
				ExternalID:      raw.ExternalID,
				TextOriginal:    raw.Text,
				AuthorName:      raw.AuthorName,
				AuthorAvatarURL: raw.AuthorAvatarURL,
				VideoID:         raw.VideoID,
				PublishedAt:     raw.PublishedAt,
				Category:        category,
				CreatedAt:       now,
				UpdatedAt:       now,
			})
		case existing.Category != category:
			changes.Updates = append(changes.Updates, models.CategoryUpdate{
				ChannelID:  channel.ID,
				ExternalID: raw.ExternalID,
				Category:   category,
			})
		}
	}

	if err := ctx.Err(); err != nil {
		return models.ChangeSet{}, err
	}
	return changes, nil
}

func (r *Reconciler) lookup(ctx context.Context, channelID, externalID string) (models.Comment, bool, error) {
	ctx, cancel := withTimeout(ctx, r.cfg.LookupTimeout)
	defer cancel()

	existing, err := r.store.FindCommentByExternalID(ctx, channelID, externalID)
	if errors.Is(err, repositories.ErrNotFound) {
		return models.Comment{}, false, nil
	}
	if err != nil {
		return models.Comment{}, false, fmt.Errorf("%w: look up comment %s: %w", repositories.ErrPersistence, externalID, err)
	}
	return existing, true, nil
}

func (r *Reconciler) classify(ctx context.Context, text string) models.Category {
	ctx, cancel := withTimeout(ctx, r.cfg.ClassifyTimeout)
	defer cancel()
	return r.classifier.Classify(ctx, text)
}

func (r *Reconciler) commit(ctx context.Context, changes models.ChangeSet) error {
	ctx, cancel := withTimeout(ctx, r.cfg.CommitTimeout)
	defer cancel()
	if err := r.store.CommitBatch(ctx, changes); err != nil {
		return fmt.Errorf("commit %d inserts and %d updates: %w", len(changes.Inserts), len(changes.Updates), err)
	}
	return nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
