package validation

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/tianwen8/puzzlerank.pro-sub000/pkg/logger"
)

type Config struct {
	// MaxBackfillSpan caps how many games one backfill request may
	// cover. Each game costs one HTTP round trip per source.
	MaxBackfillSpan int
}

// Middleware guards the admin routes: POST bodies must be JSON, and
// backfill ranges must stay within the configured span.
func Middleware(cfg Config) fiber.Handler {
	if cfg.MaxBackfillSpan <= 0 {
		cfg.MaxBackfillSpan = 366
	}

	return func(c *fiber.Ctx) error {
		if c.Method() == fiber.MethodPost && len(c.Body()) > 0 {
			contentType := c.Get("Content-Type")
			if !strings.Contains(contentType, "application/json") {
				return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
					"error": "Content-Type must be application/json",
				})
			}
		}

		if strings.HasSuffix(c.Path(), "/backfill") {
			var req struct {
				StartGameNumber int `json:"start_game_number"`
				EndGameNumber   int `json:"end_game_number"`
			}
			if err := c.BodyParser(&req); err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Invalid JSON format",
				})
			}
			if span := req.EndGameNumber - req.StartGameNumber + 1; span > cfg.MaxBackfillSpan {
				logger.Warn("Backfill span rejected",
					zap.String("ip", c.IP()),
					zap.Int("span", span),
					zap.Int("max", cfg.MaxBackfillSpan),
				)
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Backfill range exceeds the allowed span",
				})
			}
		}

		return c.Next()
	}
}
