package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"

	"seller-gateway/internal/auth"
	"seller-gateway/internal/cache"
	"seller-gateway/internal/checkpoint"
	"seller-gateway/internal/events"
	"seller-gateway/internal/marketplace"
	"seller-gateway/internal/storage"
	"seller-gateway/internal/telemetry"
	"seller-gateway/internal/uploads"
	"seller-gateway/internal/wizard"
)

const serviceName = "seller-gateway"

func main() {
	// Use JSON traced logging
	baseHandler := slog.NewJSONHandler(os.Stdout, nil)
	logger := slog.New(telemetry.NewTraceHandler(baseHandler))
	slog.SetDefault(logger)

	cfg, err := loadConfig()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	shutdownTracer, err := telemetry.InitTracer(cfg.Tracing)
	if err != nil {
		slog.Error("Failed to initialize tracer", "error", err)
		os.Exit(1)
	}

	app := &application{
		config:         cfg,
		logger:         logger,
		shutdownTracer: shutdownTracer,
	}

	slog.Info("Connecting to Redis cache", "addr", cfg.Redis.Addr)
	app.cache, err = cache.NewRedisClient(cfg.Redis)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}

	// Checkpoints make sessions resumable and let any replica serve them
	var store wizard.CheckpointStore
	switch cfg.CheckpointStore {
	case "postgres":
		slog.Info("Connecting to database for wizard checkpoints")
		app.conn, err = pgxpool.New(context.Background(), cfg.DatabaseDSN)
		if err != nil {
			slog.Error("Failed to connect to database", "error", err)
			os.Exit(1)
		}
		pgStore := checkpoint.NewPostgresStore(app.conn, cfg.CheckpointTTL)
		if err := pgStore.EnsureSchema(context.Background()); err != nil {
			slog.Error("Failed to prepare checkpoint table", "error", err)
			os.Exit(1)
		}
		app.purger = pgStore
		store = pgStore
	case "memory":
		slog.Warn("Wizard checkpoints are kept in memory and will not survive a restart")
		store = checkpoint.NewMemoryStore(cfg.CheckpointTTL)
	default:
		store = checkpoint.NewRedisStore(app.cache, cfg.CheckpointTTL)
	}

	// Drafts live in the marketplace API; images go there too unless
	// object storage is configured
	client := marketplace.NewClient(cfg.MarketplaceURL, cfg.RequestTimeout, logger)

	var uploader wizard.ImageUploader = client
	if cfg.UploadBackend == "storage" {
		slog.Info("Connecting to object storage", "endpoint", cfg.Storage.Endpoint)
		provider, err := storage.NewMinioProvider(
			cfg.Storage.Endpoint,
			cfg.Storage.AccessKeyID,
			cfg.Storage.SecretAccessKey,
			cfg.Storage.UseSSL,
			cfg.Storage.PublicURL,
		)
		if err != nil {
			slog.Error("Failed to initialize MinIO provider", "error", err)
			os.Exit(1)
		}
		bucket := storage.Bucket(cfg.Storage.Bucket)
		if err := provider.EnsurePublicBucket(context.Background(), bucket); err != nil {
			slog.Error("Failed to prepare image bucket", "bucket", bucket, "error", err)
			os.Exit(1)
		}
		uploader = uploads.NewStorageUploader(provider, bucket, logger)
	}

	// Events are optional, without NATS the wizard just doesn't announce
	// drafts and submissions
	var observer wizard.Observer
	if cfg.NatsURL != "" {
		slog.Info("Connecting to event bus", "endpoint", cfg.NatsURL)
		bus, err := events.NewNATSBus(cfg.NatsURL, logger)
		if err != nil {
			slog.Error("Failed to initialize event bus", "error", err)
			os.Exit(1)
		}
		if err := bus.EnsureStream(cfg.NatsStream, cfg.Events.DraftCreated, cfg.Events.ListingSubmitted); err != nil {
			slog.Error("Failed to prepare event stream", "error", err)
			os.Exit(1)
		}
		app.eventBus = bus
		observer = events.NewEventHandler(bus, cfg.Events, logger)
	}

	// Claims live in Redis whatever the checkpoint store, so two replicas
	// serving one session never both create its draft
	app.manager = wizard.NewManager(wizard.Deps{
		Gateway:     client,
		Uploader:    uploader,
		Store:       store,
		Observer:    observer,
		Logger:      logger,
		Policy:      cfg.policy(),
		Claims:      checkpoint.NewRedisDraftClaims(app.cache, cfg.CheckpointTTL),
		IdleTimeout: cfg.CheckpointTTL,
	})

	slog.Info("Connecting to authorization service", "url", cfg.Authorization.URL)
	app.authenticator, err = auth.NewAuthenticator(context.Background(), cfg.Authorization.URL, cfg.Authorization.ClientID)
	if err != nil {
		slog.Error("Failed to initialize authenticator", "error", err)
		os.Exit(1)
	}

	if err := app.run(app.mount()); err != nil {
		slog.Error("Failed to start server", "error", err)
		os.Exit(1)
	}
}
