package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"jobchat/backend/internal/api/handler"
	"jobchat/backend/internal/api/router"
	"jobchat/backend/internal/auth"
	"jobchat/backend/internal/config"
	"jobchat/backend/internal/exchange"
	"jobchat/backend/internal/gateway"
	"jobchat/backend/internal/lifecycle"
	"jobchat/backend/internal/localization"
	"jobchat/backend/internal/logging"
	"jobchat/backend/internal/notify"
	"jobchat/backend/internal/signalhub"
	"jobchat/backend/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

func setupStorage(cfg config.Config) storage.Storage {
	if cfg.StoreDriver == "memory" {
		log.Warn().Msg("using in-memory store, data is lost on restart")
		return storage.NewMemoryStore()
	}

	db, err := storage.OpenPostgres(cfg.DB)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect PostgreSQL")
	}
	if err := storage.Migrate(db); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}
	return storage.NewStorageService(db)
}

// setupNotifier connects Redis. Without Redis the service still works:
// signals stay in-process and offline alerts are not queued.
func setupNotifier(ctx context.Context, cfg config.Config, hub *signalhub.Hub) notify.Notifier {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		if cfg.IsProduction() {
			log.Fatal().Err(err).Str("addr", cfg.Redis.Addr).Msg("failed to connect Redis")
		}
		log.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("Redis unavailable, using in-process signals")
		_ = rdb.Close()
		return signalhub.LocalNotifier{Hub: hub}
	}

	n := notify.NewRedisNotifier(rdb)
	go hub.Listen(ctx, n.Subscribe(ctx))
	return n
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	logging.Setup(cfg)
	log.Info().Str("env", cfg.Env).Str("store", cfg.StoreDriver).Msg("starting job chat backend")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. Dependencies
	store := setupStorage(cfg)
	hub := signalhub.NewHub()
	notifier := setupNotifier(ctx, cfg, hub)

	loc, err := localization.Bundled()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load translations")
	}

	// 2. Core services
	engine := lifecycle.NewEngine(store, notifier)
	x := exchange.NewService(store, notifier)
	g := gateway.NewService(store, notifier, cfg.Polling)

	go hub.Run(ctx)

	// 3. HTTP
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	h := handler.NewHandler(engine, x, g, hub, auth.NewTokens(cfg.JWT), loc, cfg.Polling)
	r := router.New(h, router.Options{DevTokens: !cfg.IsProduction()})

	server := &http.Server{
		Addr:           ":" + cfg.Port,
		Handler:        r,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}
