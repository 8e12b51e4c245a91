package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Ramsey-B/fern/config"
	"github.com/Ramsey-B/fern/internal/app"
	"github.com/Ramsey-B/fern/pkg/backfill"
)

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var opts backfill.Options

	cmd := &cobra.Command{
		Use:   "fern-backfill",
		Short: "Normalize deal foreign keys and record each deal under associations.deals of the entities it references",
		Long: `Scans every deal of a tenant (or a single deal), rewrites its derived
primaryCompanyId and id arrays, and records the deal under each referenced
company, contact, salesperson and location. Safe to run repeatedly.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger, err := app.NewLogger(cfg)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			store, closeStore, err := app.OpenDocstore(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer func() { _ = closeStore() }()

			stats, err := backfill.NewJob(store, logger, time.Now).Run(ctx, opts)
			if err != nil {
				logger.WithError(err).Error("backfill failed")
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(stats)
		},
	}

	cmd.Flags().StringVar(&opts.TenantID, "tenant", "", "tenant to backfill (required)")
	cmd.Flags().StringVar(&opts.DealID, "deal", "", "only backfill this deal")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "report changes without writing them")
	cmd.Flags().IntVar(&opts.BatchSize, "batch-size", backfill.DefaultBatchSize, "deal updates per committed batch")
	_ = cmd.MarkFlagRequired("tenant")

	return cmd
}
