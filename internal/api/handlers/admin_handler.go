package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/tianwen8/puzzlerank.pro-sub000/internal/scheduler"
	"github.com/tianwen8/puzzlerank.pro-sub000/pkg/logger"
)

type AdminHandler struct {
	scheduler *scheduler.Scheduler
}

func NewAdminHandler(s *scheduler.Scheduler) *AdminHandler {
	return &AdminHandler{scheduler: s}
}

func (h *AdminHandler) StartScheduler(c *fiber.Ctx) error {
	h.scheduler.Start()
	return c.JSON(fiber.Map{
		"status":  "started",
		"running": h.scheduler.IsRunning(),
	})
}

func (h *AdminHandler) StopScheduler(c *fiber.Ctx) error {
	h.scheduler.Stop()
	return c.JSON(fiber.Map{
		"status":  "stopped",
		"running": h.scheduler.IsRunning(),
	})
}

// Collect triggers the daily collection pipeline immediately. The
// per-date idempotency guard still applies.
func (h *AdminHandler) Collect(c *fiber.Ctx) error {
	result := h.scheduler.RunDailyCollectionNow()
	status := fiber.StatusOK
	if !result.Success {
		status = fiber.StatusBadGateway
	}
	return c.Status(status).JSON(result)
}

// Verify triggers one re-verification pass for today's prediction.
func (h *AdminHandler) Verify(c *fiber.Ctx) error {
	result := h.scheduler.RunHourlyVerificationNow()
	status := fiber.StatusOK
	if !result.Success {
		status = fiber.StatusBadGateway
	}
	return c.Status(status).JSON(result)
}

// Backfill processes a historical game-number range synchronously.
func (h *AdminHandler) Backfill(c *fiber.Ctx) error {
	var req struct {
		StartGameNumber int `json:"start_game_number"`
		EndGameNumber   int `json:"end_game_number"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse backfill request", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if req.StartGameNumber <= 0 || req.EndGameNumber < req.StartGameNumber {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "start_game_number must be positive and end_game_number must not precede it",
		})
	}

	result := h.scheduler.RunBackfill(c.Context(), req.StartGameNumber, req.EndGameNumber)
	status := fiber.StatusOK
	if !result.Success {
		status = fiber.StatusBadGateway
	}
	return c.Status(status).JSON(result)
}
