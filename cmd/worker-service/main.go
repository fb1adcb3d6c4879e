package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ontimehq/shorts-pipeline/internal/cache"
	"github.com/ontimehq/shorts-pipeline/internal/capacity"
	"github.com/ontimehq/shorts-pipeline/internal/config"
	"github.com/ontimehq/shorts-pipeline/internal/evict"
	"github.com/ontimehq/shorts-pipeline/internal/execx"
	"github.com/ontimehq/shorts-pipeline/internal/fetch"
	"github.com/ontimehq/shorts-pipeline/internal/ladder"
	"github.com/ontimehq/shorts-pipeline/internal/metrics"
	"github.com/ontimehq/shorts-pipeline/internal/publish"
	"github.com/ontimehq/shorts-pipeline/internal/queue"
	"github.com/ontimehq/shorts-pipeline/internal/storage"
	"github.com/ontimehq/shorts-pipeline/internal/transcode"
	"github.com/ontimehq/shorts-pipeline/internal/worker"
	"github.com/ontimehq/shorts-pipeline/shared/logger"
	"github.com/ontimehq/shorts-pipeline/shared/postgresql"
	"github.com/ontimehq/shorts-pipeline/shared/rabbitmq"
	sharedredis "github.com/ontimehq/shorts-pipeline/shared/redis"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	// Parse command-line flags
	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	// Initialize PostgreSQL client
	dbClient, err := initPostgreSQL(&cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	appLogger.Info("Database connection established")

	// Initialize RabbitMQ client
	rabbitClient, err := initRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}

	appLogger.Info("RabbitMQ connection established")

	// Initialize the metadata cache; Redis when configured, in-process
	// otherwise.
	var (
		metaCache   cache.Cache
		redisClient *sharedredis.Client
	)
	if cfg.Redis.Host != "" {
		redisClient, err = sharedredis.NewClient(&sharedredis.Config{
			Host:     cfg.Redis.Host,
			Port:     cfg.Redis.Port,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize Redis: %w", err)
		}
		metaCache = cache.NewRedis(redisClient.GetClient(), cfg.Redis.KeyPrefix)
	} else {
		appLogger.Info("Redis not configured, using in-process metadata cache")
		metaCache = cache.NewMemory()
	}

	// Assemble the pipeline
	store := storage.NewStorage(dbClient.GetDB(), appLogger.Logger)
	jobPublisher := queue.NewPublisher(rabbitClient, appLogger.Logger)

	capCfg := capacityConfig(&cfg.Capacity)
	gate := capacity.NewGate(capCfg, store, ladder.EstimateBytes, appLogger.Logger)

	runner := execx.OSRunner{}
	fetcher := fetch.NewFetcher(fetch.Config{
		CookiesPath:      cfg.Fetcher.CookiesPath,
		ClientIdentities: cfg.Fetcher.ClientIdentities,
		FormatChain:      cfg.Fetcher.FormatChain,
		DownloadTimeout:  cfg.Fetcher.DownloadTimeout,
		ProbeTimeout:     cfg.Fetcher.ProbeTimeout,
		MetadataTTL:      cfg.Fetcher.MetadataTTL,
	}, runner, metaCache, appLogger.Logger)

	transcoder := transcode.NewTranscoder(transcode.Config{
		SegmentSeconds: cfg.Transcoder.SegmentSeconds,
		Preset:         cfg.Transcoder.Preset,
		EncodeTimeout:  cfg.Transcoder.EncodeTimeout,
		ProbeTimeout:   cfg.Transcoder.ProbeTimeout,
	}, runner, appLogger.Logger)

	emitter := metrics.NewEmitter(store,
		metrics.FileSink{Path: cfg.Media.MetricsPath},
		capCfg.Global,
		appLogger.Logger,
	)

	artifactPub := publish.NewPublisher(cfg.Media.Root, store, emitter, appLogger.Logger)

	sweeper := evict.NewSweeper(evict.Config{
		LowWaterBytes:      cfg.Eviction.LowWater(capCfg.Global.SoftBytes),
		MaxDeletionsPerRun: cfg.Eviction.MaxDeletions,
		Interval:           cfg.Eviction.Interval,
	}, store, emitter, cfg.Media.Root, appLogger.Logger)

	retry := worker.DefaultRetryPolicy(cfg.Pipeline.MaxRetries)
	if cfg.Pipeline.RetryBaseDelay > 0 {
		retry.BaseDelay = cfg.Pipeline.RetryBaseDelay
	}
	if cfg.Pipeline.RetryMaxDelay > 0 {
		retry.MaxDelay = cfg.Pipeline.RetryMaxDelay
	}

	// Create worker instance
	workerInstance := worker.NewWorker(&worker.Config{
		Logger:          appLogger.Logger,
		Storage:         store,
		RabbitClient:    rabbitClient,
		Publisher:       jobPublisher,
		Gate:            gate,
		Fetcher:         fetcher,
		Transcoder:      transcoder,
		ArtifactPub:     artifactPub,
		Retry:           retry,
		Concurrency:     cfg.Worker.Concurrency,
		PrefetchCount:   cfg.RabbitMQ.Consumer.PrefetchCount,
		JobTimeout:      cfg.Worker.JobTimeout,
		ScratchBase:     cfg.Media.ScratchDir,
		DurationCapSecs: cfg.Pipeline.DurationCapSeconds,
	})

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start worker in a goroutine
	errChan := make(chan error, 1)
	go func() {
		if err := workerInstance.Start(ctx); err != nil {
			errChan <- err
		}
	}()

	// Sweeper runs alongside the worker pool
	go sweeper.Run(ctx)

	appLogger.Info("Worker service started successfully")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
	case err := <-errChan:
		appLogger.Error("Worker error",
			slog.Any("error", err),
		)
		return err
	}

	// Cancel context to stop worker and sweeper
	cancel()

	// Give worker time to shutdown gracefully
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
	defer shutdownCancel()

	// Stop worker
	done := make(chan struct{})
	go func() {
		workerInstance.Stop()
		close(done)
	}()

	select {
	case <-done:
		appLogger.Info("Worker stopped gracefully")
	case <-shutdownCtx.Done():
		appLogger.Warn("Worker shutdown timeout exceeded, forcing exit")
	}

	// Cleanup function to close all resources
	cleanup := func() {
		if dbClient != nil {
			dbClient.Close()
		}
		if rabbitClient != nil {
			rabbitClient.Close()
		}
		if redisClient != nil {
			redisClient.Close()
		}
	}
	cleanup()

	appLogger.Info("Worker service shutdown complete")
	appLogger.Close()
	return nil
}

// capacityConfig maps the YAML limits onto the admission gate's view.
func capacityConfig(cfg *config.CapacityConfig) capacity.Config {
	overrides := make(map[string]capacity.Limits, len(cfg.TenantOverrides))
	for tenant, lim := range cfg.TenantOverrides {
		overrides[tenant] = capacity.Limits{
			SoftBytes: int64(lim.SoftBytes),
			HardBytes: int64(lim.HardBytes),
		}
	}
	return capacity.Config{
		Global: capacity.Limits{
			SoftBytes: int64(cfg.GlobalSoftBytes),
			HardBytes: int64(cfg.GlobalHardBytes),
		},
		TenantDefault: capacity.Limits{
			SoftBytes: int64(cfg.TenantSoftBytes),
			HardBytes: int64(cfg.TenantHardBytes),
		},
		TenantOverrides:  overrides,
		WarnFraction:     cfg.WarnFraction,
		CriticalFraction: cfg.CriticalFraction,
	}
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	}

	return logger.New(loggerCfg)
}

// initPostgreSQL initializes the PostgreSQL database client
func initPostgreSQL(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	dbConfig := &postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}

	return postgresql.NewClient(dbConfig, logger)
}

// initRabbitMQ initializes the RabbitMQ client
func initRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	rabbitConfig := &rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		QueueName:          cfg.Queue.Name,
		QueueDurable:       cfg.Queue.Durable,
		QueueAutoDelete:    cfg.Queue.AutoDelete,
		QueueExclusive:     cfg.Queue.Exclusive,
		RoutingKey:         cfg.RoutingKey,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}

	return rabbitmq.NewClient(rabbitConfig, logger)
}
