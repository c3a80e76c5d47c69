package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"matching-game-service/config"
	"matching-game-service/handlers"
	"matching-game-service/middleware"
	"matching-game-service/services"
	"matching-game-service/stores"
	"matching-game-service/utils"
	"matching-game-service/workers"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	config.SetupLogger(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := stores.Open(cfg.DBDriver, cfg.DatabaseURL, cfg.LogLevel != "debug")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	store := stores.NewGormStore(db)
	if err := store.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate database")
	}

	clock := clockwork.NewRealClock()
	broker := services.NewBroker()
	catalog := services.NewCatalogService(store, store)
	progression := services.NewProgressionService(store, store, catalog, broker, clock)
	sessions := services.NewSessionService(catalog, store, progression, services.WithClock(clock))

	sweeper := services.NewSweeper(store, sessions, progression, clock, cfg.SessionGrace)
	if err := sweeper.Start(cfg.SweepInterval, cfg.RetryInterval); err != nil {
		log.Fatal().Err(err).Msg("failed to start sweeper")
	}

	deps := handlers.Deps{Catalog: catalog, Progression: progression, Sessions: sessions, Broker: broker}
	if source := catalogSource(ctx, cfg); source != nil {
		syncWorker := workers.NewCatalogSyncWorker(store, source, cfg.CatalogSyncInterval)
		syncWorker.Start(ctx)
		deps.Syncer = syncWorker
	}

	app := handlers.NewApp()

	// Only Gateway requests allowed
	app.Use(middleware.GatewayAuthMiddleware(cfg.ServiceToken))

	app.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Join(cfg.AllowedOrigins, ","),
		AllowMethods:     "GET,POST,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, Cache-Control",
		ExposeHeaders:    "Content-Length, Content-Type, X-Request-ID",
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	handlers.Register(app, deps)

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Error().Err(err).Msg("server error")
		}
	}()

	log.Info().
		Str("port", cfg.Port).
		Str("db_driver", cfg.DBDriver).
		Str("catalog_source", cfg.CatalogSource).
		Strs("cors_origins", cfg.AllowedOrigins).
		Msg("matching game service running")

	<-ctx.Done()
	log.Info().Msg("shutting down server")

	if err := app.ShutdownWithTimeout(cfg.ShutdownTimeout); err != nil {
		log.Warn().Err(err).Msg("http shutdown")
	}
	if err := sweeper.Stop(); err != nil {
		log.Warn().Err(err).Msg("sweeper shutdown")
	}
	// active sessions stay in the store; the sweeper of the next process expires them
	sessions.Shutdown()
}

func catalogSource(ctx context.Context, cfg *config.Config) workers.CatalogSource {
	switch cfg.CatalogSource {
	case config.CatalogSourceFile:
		return workers.FileSource{Path: cfg.CatalogFile}
	case config.CatalogSourceHTTP:
		return workers.HTTPSource{URL: cfg.CatalogURL}
	case config.CatalogSourceR2:
		client, err := utils.NewR2Client(ctx, cfg.R2.AccountID, cfg.R2.AccessKeyID, cfg.R2.AccessKeySecret, cfg.R2.Bucket)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize R2 client")
		}
		return workers.R2Source{Client: client, Key: cfg.CatalogObjectKey}
	default:
		return nil
	}
}
