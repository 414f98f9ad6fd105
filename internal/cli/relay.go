package cli

import (
	"context"
	"errors"

	"github.com/maltedev/product-image-scraper/internal/database"
	"github.com/spf13/cobra"
)

func newRelayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Forward outbox events to Redis streams",
		Long: `Polls the outbox_event table and publishes pending events to their Redis
stream. Failed publishes are retried with backoff and dead-lettered after
repeated failures. Requires DB_HOST and REDIS_ADDR.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if !cfg.DatabaseEnabled() || !cfg.RedisEnabled() {
				return errors.New("relay needs both DB_HOST and REDIS_ADDR")
			}

			ctx := cmd.Context()
			db, err := openDatabase(ctx, cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			redisClient, err := openRedis(ctx, cfg)
			if err != nil {
				return err
			}
			defer redisClient.Close()

			relay := database.NewRelay(database.NewOutboxRepository(db), redisClient, logger, database.RelayConfig{
				PollInterval: cfg.Relay.PollInterval,
				BatchSize:    cfg.Relay.BatchSize,
				MaxLen:       cfg.Relay.StreamMaxLen,
			})

			if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}

	return cmd
}
