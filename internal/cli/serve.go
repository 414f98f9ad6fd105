package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/maltedev/product-image-scraper/internal/api"
	"github.com/maltedev/product-image-scraper/internal/browser"
	"github.com/maltedev/product-image-scraper/internal/database"
	"github.com/maltedev/product-image-scraper/internal/events"
	"github.com/maltedev/product-image-scraper/internal/images"
	"github.com/maltedev/product-image-scraper/internal/intake"
	"github.com/maltedev/product-image-scraper/internal/jobs"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var (
		port    int
		workers int
		engine  string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the image download job API",
		Long: `Starts an HTTP server accepting image download jobs.

When DB_HOST is set every finished job is stored with an IMAGES_DOWNLOADED
outbox event. When REDIS_ADDR is set the server also accepts jobs from
REDIS_REQUEST_STREAM and, with a database, relays outbox events to Redis.`,
		Example: `  # Start on the default port
  image-scraper serve

  # Four workers driving a static engine
  image-scraper serve --port 9090 --workers 4 --engine static`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}
			if cmd.Flags().Changed("workers") {
				cfg.Jobs.Workers = workers
			}
			if engine != "" {
				cfg.Browser.Engine = engine
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			b, err := browser.NewEngine(browserOptions(cfg), logger)
			if err != nil {
				return fmt.Errorf("failed to start browser: %w", err)
			}
			defer b.Close()

			downloader := images.NewDownloader(
				b,
				images.NewFetcher(cfg.Images.FetchTimeout, logger),
				images.NewSentenceCache(logger),
				logger,
			)

			manager := jobs.NewManager(downloader, images.Options{
				Selector:    cfg.Images.Selector,
				ParentDir:   cfg.Images.ParentDir,
				UserAgent:   cfg.Images.UserAgent,
				UseAltJSON:  cfg.Images.UseAltJSON,
				AltJSONPath: cfg.Images.AltJSONPath,
				MaxThreads:  cfg.Images.MaxThreads,
				WaitTimeout: cfg.Images.WaitTimeout,
			}, cfg.Jobs.Workers, logger)

			var redisClient *redis.Client
			if cfg.RedisEnabled() {
				redisClient, err = openRedis(ctx, cfg)
				if err != nil {
					return err
				}
				defer redisClient.Close()
			}

			var (
				outbox api.OutboxCounter
				relay  *database.Relay
			)
			if cfg.DatabaseEnabled() {
				db, err := openDatabase(ctx, cfg)
				if err != nil {
					return err
				}
				defer db.Close()

				manager.SetRecorder(events.NewPublisher(db, cfg.Redis.Stream, logger))
				repo := database.NewOutboxRepository(db)
				outbox = repo

				if redisClient != nil {
					relay = database.NewRelay(repo, redisClient, logger, database.RelayConfig{
						PollInterval: cfg.Relay.PollInterval,
						BatchSize:    cfg.Relay.BatchSize,
						MaxLen:       cfg.Relay.StreamMaxLen,
					})
					go func() {
						if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
							logger.Error("relay stopped with error", "error", err)
						}
					}()
				}
			}

			if redisClient != nil && cfg.Redis.RequestStream != "" {
				consumer := intake.NewConsumer(redisClient, manager, intake.Config{
					Stream:   cfg.Redis.RequestStream,
					Group:    cfg.Redis.ConsumerGroup,
					Consumer: cfg.Redis.ConsumerName,
				}, logger)
				go func() {
					if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
						logger.Error("stream intake stopped with error", "error", err)
					}
				}()
			}

			workersDone := make(chan struct{})
			go func() {
				defer close(workersDone)
				if err := manager.Start(ctx); err != nil {
					logger.Error("job workers stopped with error", "error", err)
				}
			}()

			handlers := api.NewHandlers(manager, outbox, logger)
			if relay != nil {
				handlers.SetRelay(relay)
			}
			server := &http.Server{
				Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
				Handler:      api.NewRouter(handlers, cfg.Server.AllowedOrigins),
				ReadTimeout:  cfg.Server.ReadTimeout,
				WriteTimeout: cfg.Server.WriteTimeout,
				IdleTimeout:  60 * time.Second,
			}

			serverErr := make(chan error, 1)
			go func() {
				logger.Info("server starting", "addr", server.Addr, "workers", cfg.Jobs.Workers, "engine", cfg.Browser.Engine)
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serverErr <- err
				}
			}()

			select {
			case <-ctx.Done():
			case err := <-serverErr:
				cancel()
				<-workersDone
				return fmt.Errorf("server failed: %w", err)
			}

			logger.Info("shutting down server...")
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer shutdownCancel()

			if err := server.Shutdown(shutdownCtx); err != nil {
				logger.Error("server shutdown failed", "error", err)
				return err
			}
			cancel()
			<-workersDone

			logger.Info("server stopped")
			return nil
		},
	}

	cmd.Flags().IntVar(&port, "port", 8080, "Port to listen on")
	cmd.Flags().IntVar(&workers, "workers", 2, "Concurrent download jobs")
	cmd.Flags().StringVar(&engine, "engine", "", "Browser engine: playwright, rod or static")

	return cmd
}
