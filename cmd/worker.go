package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"example.com/astrocoach/services/insight/config"
	"example.com/astrocoach/services/insight/internal/cache"
	"example.com/astrocoach/services/insight/internal/messaging"
	"example.com/astrocoach/services/insight/internal/search"
	"example.com/astrocoach/services/insight/internal/services"
	"example.com/astrocoach/services/insight/internal/tracing"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start the background worker",
	Long:  `Start the background worker to process queued scenario requests and refresh derived tables`,
	RunE:  runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.LoadConfig(".")
	if err != nil {
		return err
	}

	// Configure logging
	if cfg.Environment == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	// Set up signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// Create an error group to manage goroutines
	g, ctx := errgroup.WithContext(ctx)

	// Initialize database connections
	db, readOnlyDB, err := initDatabases(cfg)
	if err != nil {
		return err
	}

	// Initialize cache
	redisCache, err := cache.NewRedisCache(cfg.Redis)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize Redis cache, continuing without caching")
	}

	// Initialize tracer
	tracer, err := tracing.NewTracer(cfg.Tracing)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize tracer, continuing without tracing")
		tracer = &tracing.NewRelicTracer{}
	}

	// Initialize Elasticsearch client
	elasticClient, err := search.NewElasticClient(cfg.Elastic)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize Elasticsearch client, continuing without search functionality")
	}

	// Initialize completion publisher
	publisher, err := messaging.NewServiceBusClient(cfg.Azure, cfg.Azure.ResultQueue, "worker")
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize Service Bus publisher, continuing without completion messages")
		publisher = nil
	}

	// Initialize services
	insightService := services.NewInsightService(db, readOnlyDB, redisCache, elasticClient, publisher, tracer, cfg.Simulation)

	// Initialize the scenario request consumer
	processor, err := messaging.NewRequestProcessor(cfg.Azure)
	if err != nil {
		return err
	}
	defer processor.Close()

	// Start the service bus processor
	g.Go(func() error {
		log.Info().Str("queue", cfg.Azure.RequestQueue).Msg("Starting Azure Service Bus processor")
		return processor.ProcessMessages(ctx, insightService.HandleScenarioRequest)
	})

	// Start the periodic refresh job for derived tables
	g.Go(func() error {
		log.Info().Dur("interval", cfg.Simulation.RefreshInterval).Msg("Starting refresh cron job")

		// Create a scheduler
		scheduler, err := gocron.NewScheduler()
		if err != nil {
			return err
		}

		// Rebuild behavioral features and trend labels on a fixed interval
		_, err = scheduler.NewJob(
			gocron.DurationJob(cfg.Simulation.RefreshInterval),
			gocron.NewTask(func() {
				if _, err := insightService.RefreshBehavioralFeatures(ctx); err != nil {
					log.Error().Err(err).Msg("Failed to refresh behavioral features")
				}
				if _, err := insightService.RefreshTrendLabels(ctx); err != nil {
					log.Error().Err(err).Msg("Failed to refresh trend labels")
				}
			}),
			gocron.WithStartAt(gocron.WithStartImmediately()),
		)
		if err != nil {
			return err
		}

		// Start the scheduler
		scheduler.Start()

		// Wait for context cancellation
		<-ctx.Done()

		// Shutdown the scheduler
		return scheduler.Shutdown()
	})

	// Wait for any goroutine to exit
	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Worker error")
		return err
	}

	log.Info().Msg("Worker shutting down gracefully")
	return nil
}
