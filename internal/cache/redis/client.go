package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/tianwen8/puzzlerank.pro-sub000/internal/metrics"
	"github.com/tianwen8/puzzlerank.pro-sub000/internal/storage/models"
	"github.com/tianwen8/puzzlerank.pro-sub000/pkg/config"
	"github.com/tianwen8/puzzlerank.pro-sub000/pkg/logger"
)

const (
	todayKey      = "prediction:today"
	predictionKey = "prediction:game:%d"
)

// Client is a read-side cache in front of the prediction store. The
// store stays the source of truth; a cold or down Redis only costs a
// store read.
type Client struct {
	client *redis.Client
	ttl    time.Duration
}

func NewClient(cfg config.RedisConfig) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx := context.Background()
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	ttl := time.Duration(cfg.TTLSec) * time.Second
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	logger.Info("Redis cache initialized",
		zap.String("addr", fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)),
		zap.Duration("ttl", ttl),
	)

	return &Client{client: client, ttl: ttl}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

// GetToday returns the cached today prediction, or nil on a miss.
func (c *Client) GetToday(ctx context.Context) (*models.Prediction, error) {
	data, err := c.client.Get(ctx, todayKey).Bytes()
	if err == redis.Nil {
		metrics.CacheMisses.Inc()
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get today cache: %w", err)
	}

	var p models.Prediction
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached prediction: %w", err)
	}

	metrics.CacheHits.Inc()
	logger.Debug("Today prediction cache hit", zap.Int("game_number", p.GameNumber))
	return &p, nil
}

func (c *Client) SetToday(ctx context.Context, p *models.Prediction) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal prediction: %w", err)
	}

	if err := c.client.Set(ctx, todayKey, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set today cache: %w", err)
	}

	logger.Debug("Today prediction cached", zap.Int("game_number", p.GameNumber))
	return nil
}

// GetPrediction returns the cached prediction for one game number, or
// nil on a miss.
func (c *Client) GetPrediction(ctx context.Context, gameNumber int) (*models.Prediction, error) {
	data, err := c.client.Get(ctx, fmt.Sprintf(predictionKey, gameNumber)).Bytes()
	if err == redis.Nil {
		metrics.CacheMisses.Inc()
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get prediction cache: %w", err)
	}

	var p models.Prediction
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached prediction: %w", err)
	}

	metrics.CacheHits.Inc()
	return &p, nil
}

func (c *Client) SetPrediction(ctx context.Context, p *models.Prediction) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal prediction: %w", err)
	}
	return c.client.Set(ctx, fmt.Sprintf(predictionKey, p.GameNumber), data, c.ttl).Err()
}

// InvalidateToday drops the today entry and every per-game entry so
// readers see fresh pipeline results immediately.
func (c *Client) InvalidateToday(ctx context.Context) error {
	if err := c.client.Del(ctx, todayKey).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("failed to invalidate today cache: %w", err)
	}

	iter := c.client.Scan(ctx, 0, "prediction:game:*", 0).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			logger.Warn("Failed to delete cache key", zap.Error(err))
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to iterate cache keys: %w", err)
	}

	logger.Debug("Prediction cache invalidated")
	return nil
}
