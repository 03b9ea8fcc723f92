package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/commco/backend/internal/app"
	"github.com/commco/backend/internal/config"
	"github.com/commco/backend/internal/logging"
	"github.com/commco/backend/internal/models"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// setup reads the environment configuration and installs the default logger.
func setup() (config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("loading config: %w", err)
	}

	logger, err := logging.NewLogger(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("configuring logger: %w", err)
	}
	slog.SetDefault(logger)
	return cfg, logger, nil
}

var rootCmd = &cobra.Command{
	Use:          "commco",
	Short:        "Comment sync and classification backend",
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and sync workers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		return app.Serve(cmd.Context(), cfg, logger)
	},
}

var migrateCmd = &cobra.Command{
	Use:       "migrate [up|status]",
	Short:     "Apply or check the database schema",
	Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"up", "status"},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := setup()
		if err != nil {
			return err
		}
		command := "up"
		if len(args) == 1 {
			command = args[0]
		}
		return app.Migrate(cmd.Context(), cfg, command, cmd.OutOrStdout())
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync <channel-id>",
	Short: "Synchronize one channel now and print the summary",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		return app.SyncChannel(cmd.Context(), cfg, logger, args[0], cmd.OutOrStdout())
	},
}

var (
	linkExternalID   string
	linkEmail        string
	linkAccessToken  string
	linkRefreshToken string
	linkExpiresIn    time.Duration
)

var linkCmd = &cobra.Command{
	Use:   "link",
	Short: "Store a provider credential for an account and link its channel",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}

		cred := models.Credential{AccessToken: linkAccessToken, RefreshToken: linkRefreshToken}
		if linkExpiresIn > 0 {
			cred.ExpiresAt = time.Now().Add(linkExpiresIn).UTC()
		}
		identity := models.Identity{ExternalID: linkExternalID, Email: linkEmail}
		return app.LinkAccount(cmd.Context(), cfg, logger, identity, cred, cmd.OutOrStdout())
	},
}

var removeAccountCmd = &cobra.Command{
	Use:   "remove-account <account-id>",
	Short: "Delete an account with its channels and comments",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		return app.RemoveAccount(cmd.Context(), cfg, logger, args[0], cmd.OutOrStdout())
	},
}

func init() {
	linkCmd.Flags().StringVar(&linkExternalID, "external-id", "", "provider user id")
	linkCmd.Flags().StringVar(&linkEmail, "email", "", "account email")
	linkCmd.Flags().StringVar(&linkAccessToken, "access-token", "", "OAuth access token")
	linkCmd.Flags().StringVar(&linkRefreshToken, "refresh-token", "", "OAuth refresh token")
	linkCmd.Flags().DurationVar(&linkExpiresIn, "expires-in", time.Hour, "access token lifetime")
	_ = linkCmd.MarkFlagRequired("external-id")
	_ = linkCmd.MarkFlagRequired("email")
	_ = linkCmd.MarkFlagRequired("access-token")

	rootCmd.AddCommand(serveCmd, migrateCmd, syncCmd, linkCmd, removeAccountCmd)
}
