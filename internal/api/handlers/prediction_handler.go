package handlers

import (
	"context"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/tianwen8/puzzlerank.pro-sub000/internal/game"
	"github.com/tianwen8/puzzlerank.pro-sub000/internal/storage"
	"github.com/tianwen8/puzzlerank.pro-sub000/internal/storage/models"
	"github.com/tianwen8/puzzlerank.pro-sub000/pkg/logger"
)

const (
	defaultHistoryLimit = 30
	maxHistoryLimit     = 100
)

// Cache is the optional read-side cache in front of the store. A nil
// Cache means every read goes to the store.
type Cache interface {
	GetToday(ctx context.Context) (*models.Prediction, error)
	SetToday(ctx context.Context, p *models.Prediction) error
	GetPrediction(ctx context.Context, gameNumber int) (*models.Prediction, error)
	SetPrediction(ctx context.Context, p *models.Prediction) error
}

type PredictionHandler struct {
	store     storage.Store
	numbering *game.Numbering
	cache     Cache
}

func NewPredictionHandler(store storage.Store, numbering *game.Numbering, cache Cache) *PredictionHandler {
	return &PredictionHandler{
		store:     store,
		numbering: numbering,
		cache:     cache,
	}
}

// GetToday serves the prediction for the current UTC date. A day
// without a prediction yet is a normal answer, not an error.
func (h *PredictionHandler) GetToday(c *fiber.Ctx) error {
	now := time.Now().UTC()
	gameNumber := h.numbering.TodayNumber()

	if h.cache != nil {
		if p, err := h.cache.GetToday(c.Context()); err == nil && p != nil && p.GameNumber == gameNumber {
			return c.JSON(todayEnvelope(gameNumber, now, p))
		}
	}

	p, err := h.store.GetByDate(now)
	if err != nil {
		logger.Error("Failed to read today's prediction", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to read prediction",
		})
	}

	if p != nil && h.cache != nil {
		if err := h.cache.SetToday(c.Context(), p); err != nil {
			logger.Warn("Failed to cache today's prediction", zap.Error(err))
		}
	}
	return c.JSON(todayEnvelope(gameNumber, now, p))
}

func todayEnvelope(gameNumber int, now time.Time, p *models.Prediction) fiber.Map {
	return fiber.Map{
		"game_number": gameNumber,
		"date":        now.Format("2006-01-02"),
		"prediction":  p,
	}
}

// GetHistory serves verified predictions, newest first.
func (h *PredictionHandler) GetHistory(c *fiber.Ctx) error {
	limit := parseLimit(c.Query("limit"))

	predictions, err := h.store.GetVerifiedHistory(limit)
	if err != nil {
		logger.Error("Failed to read verified history", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to read history",
		})
	}

	return c.JSON(fiber.Map{
		"count":       len(predictions),
		"predictions": predictions,
	})
}

// GetCandidates serves unverified candidate predictions, newest first.
func (h *PredictionHandler) GetCandidates(c *fiber.Ctx) error {
	limit := parseLimit(c.Query("limit"))

	predictions, err := h.store.GetCandidates(limit)
	if err != nil {
		logger.Error("Failed to read candidates", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to read candidates",
		})
	}

	return c.JSON(fiber.Map{
		"count":       len(predictions),
		"predictions": predictions,
	})
}

// GetByGameNumber serves one prediction by its game number.
func (h *PredictionHandler) GetByGameNumber(c *fiber.Ctx) error {
	gameNumber, err := strconv.Atoi(c.Params("gameNumber"))
	if err != nil || gameNumber < 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid game number",
		})
	}

	if h.cache != nil {
		if p, cerr := h.cache.GetPrediction(c.Context(), gameNumber); cerr == nil && p != nil {
			return c.JSON(p)
		}
	}

	p, err := h.store.GetByGameNumber(gameNumber)
	if err != nil {
		logger.Error("Failed to read prediction",
			zap.Int("game_number", gameNumber),
			zap.Error(err),
		)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to read prediction",
		})
	}
	if p == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":       "Prediction not found",
			"game_number": gameNumber,
		})
	}

	if h.cache != nil {
		if err := h.cache.SetPrediction(c.Context(), p); err != nil {
			logger.Warn("Failed to cache prediction", zap.Error(err))
		}
	}
	return c.JSON(p)
}

// GetLogs serves the collection audit trail for one game number.
func (h *PredictionHandler) GetLogs(c *fiber.Ctx) error {
	gameNumber, err := strconv.Atoi(c.Params("gameNumber"))
	if err != nil || gameNumber < 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid game number",
		})
	}

	logs, err := h.store.GetCollectionLogs(gameNumber)
	if err != nil {
		logger.Error("Failed to read collection logs",
			zap.Int("game_number", gameNumber),
			zap.Error(err),
		)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to read collection logs",
		})
	}

	return c.JSON(fiber.Map{
		"game_number": gameNumber,
		"count":       len(logs),
		"logs":        logs,
	})
}

// GetStats serves aggregate store statistics.
func (h *PredictionHandler) GetStats(c *fiber.Ctx) error {
	stats, err := h.store.GetStats()
	if err != nil {
		logger.Error("Failed to read stats", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to read stats",
		})
	}
	return c.JSON(stats)
}

func parseLimit(raw string) int {
	if raw == "" {
		return defaultHistoryLimit
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		return maxHistoryLimit
	}
	return limit
}
