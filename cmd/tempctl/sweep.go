package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"tempinbox/backend/internal/service"
	"tempinbox/backend/internal/storage"
	"tempinbox/backend/internal/storage/memory"
	redisstore "tempinbox/backend/internal/storage/redis"
	"tempinbox/backend/internal/storage/sqlstore"
)

var sweepCmd = &cobra.Command{
	Use:       "sweep <expired|aged|read|orphans|all>",
	Short:     "Run one retention sweep",
	Long:      "Runs a single retention pass, for cron-style scheduling outside the server. When redis is configured the pass takes the same lease as the in-process scheduler.",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"expired", "aged", "read", "orphans", "all"},
	RunE: func(cmd *cobra.Command, args []string) error {
		kinds, err := sweepKinds(args[0])
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if cfg.Database.Type == "" {
			return fmt.Errorf("sweep needs a database: set TEMPINBOX_DATABASE_TYPE and TEMPINBOX_DATABASE_DSN")
		}
		store, err := sqlstore.Open(sqlstore.Options{
			Driver:      cfg.Database.Type,
			DSN:         cfg.Database.DSN,
			AutoMigrate: cfg.Database.AutoMigrate,
		}, log)
		if err != nil {
			return err
		}
		defer store.Close()

		var leases storage.LeaseRepository = memory.NewStore()
		if cfg.Redis.Address != "" {
			client, err := redisstore.New(&cfg.Redis, log)
			if err != nil {
				return err
			}
			defer client.Close()
			leases = client
		}

		attachments := service.NewAttachmentService(store, log)
		retention := service.NewRetentionService(store, attachments, cfg.Retention, log)
		scheduler := service.NewScheduler(retention, leases, cfg.Retention.SweepInterval, kinds, log)

		report := service.SweepReport{}
		for _, kind := range kinds {
			result, ran, err := scheduler.RunOnce(ctx, kind)
			if err != nil {
				return fmt.Errorf("sweep %s: %w", kind, err)
			}
			if !ran {
				log.Info("sweep skipped, lease held by another instance", zap.String("sweep", string(kind)))
				continue
			}
			report.Results = append(report.Results, result)
		}

		return printJSON(cmd.OutOrStdout(), report)
	},
}

func sweepKinds(arg string) ([]service.SweepKind, error) {
	if arg == "all" {
		return service.AllSweepKinds, nil
	}
	kind, err := service.ParseSweepKind(arg)
	if err != nil {
		return nil, err
	}
	return []service.SweepKind{kind}, nil
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}
