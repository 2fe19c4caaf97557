package api

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/tianwen8/puzzlerank.pro-sub000/internal/api/handlers"
	"github.com/tianwen8/puzzlerank.pro-sub000/internal/metrics"
	"github.com/tianwen8/puzzlerank.pro-sub000/internal/middleware/ratelimit"
	"github.com/tianwen8/puzzlerank.pro-sub000/internal/middleware/security"
	"github.com/tianwen8/puzzlerank.pro-sub000/internal/middleware/validation"
)

// Deps carries the wired handlers the router mounts. AdminLimiter may
// be nil to leave the admin routes unthrottled (tests do this).
type Deps struct {
	Predictions  *handlers.PredictionHandler
	Admin        *handlers.AdminHandler
	AdminLimiter *ratelimit.Limiter
	Development  bool
}

// Register mounts all routes and shared middleware on app.
func Register(app *fiber.App, deps Deps) {
	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept",
		AllowMethods: "GET, POST, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{
		IsDevelopment: deps.Development,
	}))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})
	app.Get("/metrics", metrics.MetricsHandler())

	v1 := app.Group("/api/v1")

	// Static prediction routes must be mounted before the
	// :gameNumber parameter route.
	v1.Get("/predictions/today", deps.Predictions.GetToday)
	v1.Get("/predictions/history", deps.Predictions.GetHistory)
	v1.Get("/predictions/candidates", deps.Predictions.GetCandidates)
	v1.Get("/predictions/:gameNumber", deps.Predictions.GetByGameNumber)
	v1.Get("/predictions/:gameNumber/logs", deps.Predictions.GetLogs)
	v1.Get("/stats", deps.Predictions.GetStats)

	admin := v1.Group("/admin")
	if deps.AdminLimiter != nil {
		admin.Use(deps.AdminLimiter.Middleware())
	}
	admin.Use(validation.Middleware(validation.Config{}))
	admin.Post("/scheduler/start", deps.Admin.StartScheduler)
	admin.Post("/scheduler/stop", deps.Admin.StopScheduler)
	admin.Post("/collect", deps.Admin.Collect)
	admin.Post("/verify", deps.Admin.Verify)
	admin.Post("/backfill", deps.Admin.Backfill)
}
