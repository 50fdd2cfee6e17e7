package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"couple-sync-backend/internal/blob"
	"couple-sync-backend/internal/config"
	"couple-sync-backend/internal/docstore"
	"couple-sync-backend/internal/handlers"
	"couple-sync-backend/internal/metrics"
	"couple-sync-backend/internal/notify"
	"couple-sync-backend/internal/repository"
	"couple-sync-backend/internal/scheduler"
	"couple-sync-backend/internal/services"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func Run() {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Setup logger
	setupLogger(cfg.Log.Level, cfg.Log.Format)
	metrics.MustRegister()

	ctx := context.Background()

	// Connect to the document store
	store, closeStore, err := openStore(ctx, cfg.Store)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Store.Driver).Msg("Failed to open document store")
	}
	defer closeStore()
	log.Info().Str("driver", cfg.Store.Driver).Msg("Document store ready")

	blobs, err := openBlobStore(ctx, cfg.Blob)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Blob.Driver).Msg("Failed to open blob store")
	}

	notifier, err := openNotifier(cfg.Notify)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Notify.Driver).Msg("Failed to create notifier")
	}
	defer notifier.Close()

	settings, err := serviceSettings(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid service settings")
	}
	clock := services.SystemClock()

	// Initialize repositories
	userRepo := repository.NewUserRepository(store)
	coupleRepo := repository.NewCoupleRepository(store)
	inviteRepo := repository.NewInviteRepository(store)
	photoRepo := repository.NewPhotoRepository(store)
	momentRepo := repository.NewSyncMomentRepository(store)

	// Initialize services
	hub := services.NewSessionHub(userRepo)
	userService := services.NewUserService(userRepo, clock, settings)
	coupleService := services.NewCoupleService(store, coupleRepo, userRepo, clock, settings)
	pairingService := services.NewPairingService(store, inviteRepo, userRepo, coupleService, clock, settings)
	momentService := services.NewSyncMomentService(store, momentRepo, coupleRepo, userRepo, hub, clock, settings)
	photoService := services.NewPhotoService(photoRepo, userRepo, coupleService, momentService, blobs, notifier, clock, settings)

	// Initialize handlers
	router := handlers.NewRouter(handlers.RouterConfig{
		CORSOrigins:    cfg.Server.CORSOrigins,
		JoinRateLimit:  cfg.Pairing.JoinRateLimit,
		RequestLogging: true,
	}, handlers.Handlers{
		Users:  handlers.NewUserHandler(userService),
		Pairs:  handlers.NewPairHandler(pairingService, coupleService, userService, hub),
		Photos: handlers.NewPhotoHandler(photoService, momentService),
		WebSocket: handlers.NewWebSocketHandler(hub, userService, momentService, services.SessionDeps{
			Users:     userRepo,
			Couples:   coupleRepo,
			Photos:    photoRepo,
			Invites:   inviteRepo,
			FeedLimit: settings.FeedLimit,
		}),
		Auth: userService,
	})

	sched := scheduler.NewScheduler(momentService, scheduler.NewLocker(store), cfg.SyncMoment.SweepSchedule)
	if err := sched.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start scheduler")
	}

	// Create HTTP server
	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().
			Str("host", cfg.Server.Host).
			Int("port", cfg.Server.Port).
			Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	// Shutdown HTTP server
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// websocket connections are hijacked, so Shutdown does not close them
	hub.Close()
	sched.Stop()
	photoService.Wait()

	log.Info().Msg("Server exited")
}

// openStore connects the configured document store backend
func openStore(ctx context.Context, cfg config.StoreConfig) (docstore.Store, func(), error) {
	switch cfg.Driver {
	case "postgres":
		db, err := pgxpool.New(ctx, cfg.Postgres.DSN())
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		// Test database connection
		if err := db.Ping(ctx); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("failed to ping database: %w", err)
		}
		store, err := docstore.NewPostgresStore(ctx, db)
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		return store, func() {
			store.Close()
			db.Close()
		}, nil
	case "redis":
		store, err := docstore.NewRedisStore(ctx, docstore.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		})
		if err != nil {
			return nil, nil, err
		}
		return store, func() { store.Close() }, nil
	default:
		log.Warn().Msg("Using in-memory document store; data is lost on restart")
		store := docstore.NewMemoryStore()
		return store, func() { store.Close() }, nil
	}
}

// openBlobStore creates the configured photo storage
func openBlobStore(ctx context.Context, cfg config.BlobConfig) (blob.Store, error) {
	switch cfg.Driver {
	case "s3":
		return blob.NewS3Store(ctx, blob.S3Config{
			Region:          cfg.Region,
			Bucket:          cfg.Bucket,
			AccessKeyID:     cfg.AccessKey,
			SecretAccessKey: cfg.SecretKey,
			Endpoint:        cfg.Endpoint,
			PublicBaseURL:   cfg.PublicBaseURL,
			URLExpiry:       cfg.URLExpiry,
		})
	case "minio":
		return blob.NewMinioStore(ctx, blob.MinioConfig{
			Endpoint:  cfg.Endpoint,
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
			Bucket:    cfg.Bucket,
			UseSSL:    cfg.UseSSL,
			URLExpiry: cfg.URLExpiry,
		})
	default:
		return blob.NewMemoryStore(cfg.PublicBaseURL), nil
	}
}

// openNotifier creates the configured new photo notifier
func openNotifier(cfg config.NotifyConfig) (notify.Notifier, error) {
	switch cfg.Driver {
	case "apns":
		return notify.NewAPNsNotifier(notify.APNsConfig{
			KeyPath:    cfg.APNs.KeyPath,
			KeyID:      cfg.APNs.KeyID,
			TeamID:     cfg.APNs.TeamID,
			Topic:      cfg.APNs.Topic,
			Production: cfg.APNs.Production,
		})
	case "amqp":
		return notify.NewAMQPNotifier(notify.AMQPConfig{
			URL:        cfg.AMQP.URL,
			Exchange:   cfg.AMQP.Exchange,
			RoutingKey: cfg.AMQP.RoutingKey,
		})
	default:
		return notify.NewLogNotifier(log.Logger), nil
	}
}

// serviceSettings converts configuration into service settings
func serviceSettings(cfg *config.Config) (services.Settings, error) {
	loc, err := cfg.Streak.Location()
	if err != nil {
		return services.Settings{}, err
	}
	s := services.DefaultSettings()
	s.InviteTTL = cfg.Pairing.InviteTTL
	s.CodeAttempts = cfg.Pairing.CodeAttempts
	s.StreakLocation = loc
	s.Tx = docstore.TxOptions{MaxAttempts: cfg.Transaction.MaxAttempts, BaseBackoff: cfg.Transaction.BaseBackoff}
	s.FeedLimit = cfg.Photos.FeedLimit
	s.ThumbnailWidth = cfg.Photos.ThumbnailWidth
	s.SyncMomentWindow = cfg.SyncMoment.Window
	s.SyncMomentRetention = cfg.SyncMoment.Retention
	s.JWTSecret = cfg.JWT.Secret
	s.JWTExpiryDays = cfg.JWT.ExpiryDays
	return s, nil
}

// setupLogger configures zerolog logger
func setupLogger(level, format string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	var out io.Writer = zerolog.ConsoleWriter{Out: os.Stderr}
	if format == "json" {
		out = os.Stderr
	}
	log.Logger = log.Output(out)

	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
