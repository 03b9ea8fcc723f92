package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/commco/backend/internal/accounts"
	"github.com/commco/backend/internal/classifier"
	"github.com/commco/backend/internal/config"
	"github.com/commco/backend/internal/credentials"
	"github.com/commco/backend/internal/db"
	"github.com/commco/backend/internal/metrics"
	"github.com/commco/backend/internal/pipeline"
	"github.com/commco/backend/internal/replies"
	"github.com/commco/backend/internal/repositories"
	"github.com/commco/backend/internal/storage"
	"github.com/commco/backend/internal/youtube"
)

// components holds the wired collaborators shared by every command.
type components struct {
	store      *repositories.PostgresStore
	taxonomy   config.Classification
	keeper     *credentials.Keeper
	creds      *credentials.Store
	youtube    *youtube.Client
	classifier classifier.Classifier
	reconciler *pipeline.Reconciler
	linker     *accounts.Linker
	replies    *replies.Service
	archive    pipeline.Archiver
	metrics    *metrics.Metrics

	closers []func() error
}

// buildComponents wires together the concrete implementations used by the commands.
func buildComponents(ctx context.Context, pool db.Pool, cfg config.Config, logger *slog.Logger) (*components, error) {
	classification, err := config.LoadClassification(cfg.CategoriesFile)
	if err != nil {
		return nil, err
	}

	cipher, err := newCipher(cfg.Encryption)
	if err != nil {
		return nil, err
	}

	c := &components{
		store:    repositories.NewPostgresStore(pool),
		taxonomy: classification,
		metrics:  metrics.New(),
	}

	c.creds = credentials.NewStore(cipher, c.store)
	refresher := credentials.NewOAuthRefresher(credentials.OAuthConfig{
		ClientID:     cfg.Google.ClientID,
		ClientSecret: cfg.Google.ClientSecret,
		TokenURL:     cfg.Google.TokenURL,
		Skew:         cfg.Google.TokenExpirySkew,
	})
	c.keeper = credentials.NewKeeper(c.creds, refresher, cfg.Sync.RefreshTimeout, cfg.Sync.CommitTimeout)
	c.youtube = youtube.NewClient(youtube.Config{
		Endpoint: cfg.Google.YouTubeEndpoint,
		Timeout:  cfg.Sync.FetchTimeout,
	})

	c.classifier, err = c.newClassifier(ctx, cfg, logger)
	if err != nil {
		c.close()
		return nil, err
	}

	c.reconciler = pipeline.NewReconciler(c.store, c.keeper, c.youtube, c.classifier, pipeline.ReconcilerConfig{
		MaxResults:      cfg.Sync.MaxResults,
		LookupTimeout:   cfg.Sync.LookupTimeout,
		FetchTimeout:    cfg.Sync.FetchTimeout,
		ClassifyTimeout: cfg.Sync.ClassifyTimeout,
		CommitTimeout:   cfg.Sync.CommitTimeout,
	}, c.metrics)
	c.linker = accounts.NewLinker(c.store, c.creds, c.youtube)
	c.replies = replies.NewService(c.store, c.keeper, c.youtube)

	if strings.TrimSpace(cfg.Archive.Bucket) != "" {
		s3Store, err := storage.NewS3Store(ctx, cfg.Archive)
		if err != nil {
			c.close()
			return nil, fmt.Errorf("configure run archive: %w", err)
		}
		c.archive = storage.NewRunArchive(s3Store, cfg.Archive.Prefix)
	}

	return c, nil
}

func newCipher(cfg config.EncryptionConfig) (credentials.Cipher, error) {
	switch cfg.Cipher {
	case config.CipherAge:
		if strings.TrimSpace(cfg.AgeIdentity) == "" {
			return nil, errors.New("COMMCO_AGE_IDENTITY is required for the age cipher")
		}
		return credentials.NewAgeCipher(cfg.AgeIdentity)
	case config.CipherXChaCha, "":
		if strings.TrimSpace(cfg.Key) == "" {
			return nil, errors.New("COMMCO_ENCRYPTION_KEY is required for the xchacha cipher")
		}
		return credentials.NewXChaChaCipher(cfg.Key)
	default:
		return nil, fmt.Errorf("unknown credential cipher %q", cfg.Cipher)
	}
}

// newClassifier picks the model-backed classifier when an API key is set and
// puts a cache in front of it when one is configured. Without a key every
// comment gets the fallback category.
func (c *components) newClassifier(ctx context.Context, cfg config.Config, logger *slog.Logger) (classifier.Classifier, error) {
	tax := c.taxonomy.Taxonomy
	if strings.TrimSpace(cfg.Classifier.APIKey) == "" {
		logger.Warn("no classifier api key configured, comments will use the fallback category", "fallback", tax.Fallback)
		return classifier.FallbackClassifier{Taxonomy: tax}, nil
	}

	gemini, err := classifier.NewGeminiClassifier(classifier.GeminiConfig{
		APIKey:   cfg.Classifier.APIKey,
		URL:      cfg.Classifier.APIURL,
		Taxonomy: tax,
		Prompt:   c.taxonomy.Prompt,
		RPS:      cfg.Classifier.RPS,
		Burst:    cfg.Classifier.Burst,
		Timeout:  cfg.Sync.ClassifyTimeout,
		Observer: c.metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("configure classifier: %w", err)
	}

	switch {
	case strings.TrimSpace(cfg.RedisURL) != "":
		cache, err := classifier.NewRedisCache(ctx, cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("configure classification cache: %w", err)
		}
		c.closers = append(c.closers, cache.Close)
		return classifier.NewCachingClassifier(gemini, cache, cfg.Classifier.CacheTTL, tax, c.metrics), nil
	case cfg.Classifier.CacheTTL > 0:
		return classifier.NewCachingClassifier(gemini, classifier.NewMemoryCache(), cfg.Classifier.CacheTTL, tax, c.metrics), nil
	}
	return gemini, nil
}

func (c *components) close() {
	for _, fn := range c.closers {
		_ = fn()
	}
	c.closers = nil
}
