package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/commco/backend/internal/config"
	"github.com/commco/backend/internal/db"
	"github.com/commco/backend/internal/db/migrations"
	"github.com/commco/backend/internal/handlers"
	"github.com/commco/backend/internal/httpserver"
	"github.com/commco/backend/internal/logging"
	"github.com/commco/backend/internal/middleware"
	"github.com/commco/backend/internal/models"
	"github.com/commco/backend/internal/pipeline"
)

// Serve runs the HTTP API and the sync workers until ctx is cancelled.
func Serve(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	c, err := buildComponents(ctx, pool, cfg, logger)
	if err != nil {
		return err
	}
	defer c.close()
	c.metrics.RegisterPool(pool)

	queue := pipeline.NewQueue(c.reconciler, pipeline.NewJobTracker(0), c.archive, c.metrics, pipeline.QueueConfig{
		QueueSize:  cfg.Sync.QueueSize,
		Workers:    cfg.Sync.Workers,
		RunTimeout: cfg.Sync.RunTimeout,
	}, logger)

	mux := http.NewServeMux()
	handlers.RegisterRoutes(mux, handlers.Dependencies{
		DB:          pool,
		Channels:    c.store,
		Comments:    c.store,
		Queue:       queue,
		Replies:     c.replies,
		Taxonomy:    c.taxonomy.Taxonomy,
		SyncLimiter: middleware.NewKeyedRateLimiter(cfg.SyncRateLimit, time.Minute, 1, 10*time.Minute),
		Metrics:     c.metrics,

		TrustForwardedFor: cfg.TrustForwardedFor,
	})

	srv := httpserver.New(cfg.AppPort, middleware.RequestLogger(logger)(mux), logger)
	ln, err := srv.Listen()
	if err != nil {
		return err
	}

	serveErr := srv.Run(ctx, ln)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), httpserver.ShutdownTimeout)
	defer cancel()
	if err := queue.Shutdown(shutdownCtx); err != nil {
		logger.Warn("sync queue did not drain before shutdown", "error", err)
	}
	return serveErr
}

// Migrate applies ("up") or verifies ("status") the embedded schema migrations.
func Migrate(ctx context.Context, cfg config.Config, command string, out io.Writer) error {
	sqlDB, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer sqlDB.Close()

	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}

	switch command {
	case "up", "":
		if err := migrations.Up(sqlDB); err != nil {
			return err
		}
		fmt.Fprintln(out, "schema is up to date")
		return nil
	case "status":
		if err := migrations.Status(sqlDB); err != nil {
			return err
		}
		fmt.Fprintln(out, "schema is at the latest version")
		return nil
	default:
		return fmt.Errorf("unknown migrate command %q", command)
	}
}

// SyncChannel runs one reconciliation inline and prints its summary.
func SyncChannel(ctx context.Context, cfg config.Config, logger *slog.Logger, channelID string, out io.Writer) error {
	return withComponents(ctx, cfg, logger, func(ctx context.Context, c *components) error {
		ctx, cancel := context.WithTimeout(ctx, cfg.Sync.RunTimeout)
		defer cancel()

		summary, err := c.reconciler.Sync(logging.WithJob(ctx, uuid.NewString(), channelID), channelID)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, summary.String())
		return nil
	})
}

// LinkAccount stores a credential obtained out of band and creates the
// account's first channel.
func LinkAccount(ctx context.Context, cfg config.Config, logger *slog.Logger, identity models.Identity, cred models.Credential, out io.Writer) error {
	return withComponents(ctx, cfg, logger, func(ctx context.Context, c *components) error {
		account, channels, err := c.linker.Link(ctx, identity, cred)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "account %s linked\n", account.ID)
		for _, ch := range channels {
			fmt.Fprintf(out, "channel %s (%s)\n", ch.ID, ch.ExternalID)
		}
		return nil
	})
}

// RemoveAccount deletes an account together with its channels and comments.
func RemoveAccount(ctx context.Context, cfg config.Config, logger *slog.Logger, accountID string, out io.Writer) error {
	return withComponents(ctx, cfg, logger, func(ctx context.Context, c *components) error {
		if err := c.store.DeleteAccount(ctx, accountID); err != nil {
			return fmt.Errorf("delete account %s: %w", accountID, err)
		}
		fmt.Fprintf(out, "account %s removed\n", accountID)
		return nil
	})
}

func withComponents(ctx context.Context, cfg config.Config, logger *slog.Logger, fn func(context.Context, *components) error) error {
	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	c, err := buildComponents(ctx, pool, cfg, logger)
	if err != nil {
		return err
	}
	defer c.close()

	return fn(logging.WithLogger(ctx, logger), c)
}
