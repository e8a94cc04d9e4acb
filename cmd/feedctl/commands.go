package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mamadbah2/poultrydesk/internal/app"
	"github.com/mamadbah2/poultrydesk/internal/config"
	"github.com/mamadbah2/poultrydesk/internal/domain/models"
	"github.com/mamadbah2/poultrydesk/pkg/logger"
)

// newRootCommand builds the feedctl command tree writing results to out.
func newRootCommand(out io.Writer) *cobra.Command {
	var envFile string

	root := &cobra.Command{
		Use:           "feedctl",
		Short:         "Operate the poultry feed accrual engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&envFile, "env", "", "path to a .env file")

	withApp := func(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
		cfg, err := config.Load(envFile)
		if err != nil {
			return err
		}
		log, err := logger.New(cfg.LogLevel)
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()

		ctx := cmd.Context()
		a, err := app.New(ctx, cfg, log.Named("feedctl"))
		if err != nil {
			return err
		}
		defer func() {
			if err := a.Close(context.WithoutCancel(ctx)); err != nil {
				log.Error("failed to close connections", zap.Error(err))
			}
		}()
		return fn(ctx, a)
	}

	migrate := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(_ context.Context, a *app.App) error {
				if err := a.Migrate(); err != nil {
					return err
				}
				_, err := fmt.Fprintln(out, "schema up to date")
				return err
			})
		},
	}

	var userID string
	sync := &cobra.Command{
		Use:   "sync",
		Short: "Accrue feed for active cycles now",
		Long: `Bring every active cycle up to today's age and deduct the consumed feed.

Examples:
  # Every tenant, as the daily job does
  feedctl sync

  # A single tenant
  feedctl sync --user 7f0c2c8e`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				report, err := a.Driver.SyncAll(ctx, models.SyncScope{UserID: userID})
				if err != nil {
					return err
				}
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(report.Record())
			})
		},
	}
	sync.Flags().StringVar(&userID, "user", "", "only sync this tenant's cycles")

	root.AddCommand(migrate, sync)
	return root
}
