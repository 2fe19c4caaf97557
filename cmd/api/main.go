package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/tianwen8/puzzlerank.pro-sub000/internal/api"
	"github.com/tianwen8/puzzlerank.pro-sub000/internal/api/handlers"
	redisCache "github.com/tianwen8/puzzlerank.pro-sub000/internal/cache/redis"
	"github.com/tianwen8/puzzlerank.pro-sub000/internal/collector"
	"github.com/tianwen8/puzzlerank.pro-sub000/internal/game"
	"github.com/tianwen8/puzzlerank.pro-sub000/internal/metrics"
	"github.com/tianwen8/puzzlerank.pro-sub000/internal/middleware/ratelimit"
	"github.com/tianwen8/puzzlerank.pro-sub000/internal/scheduler"
	"github.com/tianwen8/puzzlerank.pro-sub000/internal/source"
	"github.com/tianwen8/puzzlerank.pro-sub000/internal/storage"
	"github.com/tianwen8/puzzlerank.pro-sub000/internal/storage/local"
	"github.com/tianwen8/puzzlerank.pro-sub000/internal/verifier"
	"github.com/tianwen8/puzzlerank.pro-sub000/pkg/config"
	appLogger "github.com/tianwen8/puzzlerank.pro-sub000/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting answer verification API server")

	metrics.Init()

	numbering, err := game.NewNumbering(cfg.Game.AnchorDate, cfg.Game.AnchorNumber)
	if err != nil {
		appLogger.Fatal("Invalid game numbering config", zap.Error(err))
	}

	store := openStore(cfg)
	defer store.Close()

	registry, err := source.NewRegistry(cfg.Sources)
	if err != nil {
		appLogger.Fatal("Invalid source configuration", zap.Error(err))
	}
	if err := store.SaveSources(registry.All()); err != nil {
		appLogger.Warn("Failed to persist source registry", zap.Error(err))
	}

	col, err := collector.New(registry, store, numbering, cfg.Collector, cfg.Sources)
	if err != nil {
		appLogger.Fatal("Failed to build collector", zap.Error(err))
	}
	v := verifier.New(col, registry, store, numbering, cfg.Verifier, cfg.Storage.WriteRetries)

	var cache handlers.Cache
	var invalidator scheduler.Invalidator
	if cfg.Redis.Enabled {
		rc, err := redisCache.NewClient(cfg.Redis)
		if err != nil {
			appLogger.Warn("Redis unavailable, serving without cache", zap.Error(err))
		} else {
			defer rc.Close()
			cache = rc
			invalidator = rc
		}
	}

	sched := scheduler.New(store, v, numbering, invalidator, cfg.Scheduler)

	limiter := ratelimit.New(cfg.Scheduler.AdminRatePerMinute)
	defer limiter.Stop()

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	api.Register(app, api.Deps{
		Predictions:  handlers.NewPredictionHandler(store, numbering, cache),
		Admin:        handlers.NewAdminHandler(sched),
		AdminLimiter: limiter,
	})

	sched.Start()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	sched.Stop()
	app.Shutdown()
	appLogger.Info("Server stopped")
}

// openStore opens the configured engine, falling back to the JSON
// file store when SQLite cannot be opened. A missing store is fatal;
// a degraded one is not.
func openStore(cfg *config.Config) storage.Store {
	store, err := storage.NewByEngine(cfg.Storage.Engine, storagePath(cfg))
	if err == nil {
		appLogger.Info("Store opened", zap.String("engine", cfg.Storage.Engine))
		return store
	}

	if cfg.Storage.Engine == storage.EngineLocal {
		appLogger.Fatal("Failed to open local store", zap.Error(err))
	}

	appLogger.Warn("Failed to open SQLite store, falling back to local JSON store", zap.Error(err))
	fallback, ferr := local.NewStore(cfg.Storage.LocalPath)
	if ferr != nil {
		appLogger.Fatal("Failed to open fallback store", zap.Error(ferr))
	}
	return fallback
}

func storagePath(cfg *config.Config) string {
	if cfg.Storage.Engine == storage.EngineLocal {
		return cfg.Storage.LocalPath
	}
	return cfg.Storage.SQLitePath
}
