package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tianwen8/puzzlerank.pro-sub000/internal/game"
	"github.com/tianwen8/puzzlerank.pro-sub000/internal/metrics"
	"github.com/tianwen8/puzzlerank.pro-sub000/internal/storage"
	"github.com/tianwen8/puzzlerank.pro-sub000/internal/storage/models"
	"github.com/tianwen8/puzzlerank.pro-sub000/pkg/config"
	"github.com/tianwen8/puzzlerank.pro-sub000/pkg/logger"
	"github.com/tianwen8/puzzlerank.pro-sub000/pkg/retry"
)

const dateLayout = "2006-01-02"

var errNoOutcomes = errors.New("collection produced zero outcomes")

// VerifyRunner is the slice of the verifier the scheduler drives.
type VerifyRunner interface {
	Verify(ctx context.Context, gameNumber int) (*models.VerificationResult, error)
}

// Invalidator lets the scheduler drop a stale read-side cache entry
// after a pipeline run. May be nil.
type Invalidator interface {
	InvalidateToday(ctx context.Context) error
}

// Scheduler owns the daily-collection control loop. It is an explicit,
// constructible service: no package-level state, so independent
// instances (e.g. in tests) never share anything.
type Scheduler struct {
	store     storage.Store
	verifier  VerifyRunner
	numbering *game.Numbering
	cache     Invalidator
	cfg       config.SchedulerConfig

	mu            sync.Mutex
	running       bool
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	lastCollected string
	lastHour      time.Time
}

func New(store storage.Store, verifier VerifyRunner, numbering *game.Numbering, cache Invalidator, cfg config.SchedulerConfig) *Scheduler {
	if cfg.TickSec <= 0 {
		cfg.TickSec = 60
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelaySec <= 0 {
		cfg.RetryDelaySec = 30
	}
	if cfg.BackfillDelaySec < 0 {
		cfg.BackfillDelaySec = 0
	}
	return &Scheduler{
		store:     store,
		verifier:  verifier,
		numbering: numbering,
		cache:     cache,
		cfg:       cfg,
	}
}

// Start launches the control loop. Calling it while already running is
// a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		logger.Debug("Scheduler already running")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.running = true
	s.lastHour = time.Now().UTC().Truncate(time.Hour)

	s.wg.Add(1)
	go s.loop(ctx)

	logger.Info("Scheduler started", zap.Int("tick_sec", s.cfg.TickSec))
}

// Stop halts future ticks. In-flight pipeline work completes; only a
// retry waiting out its delay window observes the stop early.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
	logger.Info("Scheduler stopped")
}

func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(time.Duration(s.cfg.TickSec) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx, time.Now().UTC())
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	if s.dueForCollection(now) {
		s.runDaily(ctx, now)
		return
	}

	hour := now.Truncate(time.Hour)
	s.mu.Lock()
	due := hour.After(s.lastHour)
	if due {
		s.lastHour = hour
	}
	s.mu.Unlock()
	if due {
		s.runHourly(now)
	}
}

// dueForCollection reports whether the first collection for now's UTC
// date still has to happen.
func (s *Scheduler) dueForCollection(now time.Time) bool {
	if now.Hour() == 0 && now.Minute() < s.cfg.DailyCutoffMinute {
		return false
	}

	today := now.Format(dateLayout)
	s.mu.Lock()
	collected := s.lastCollected == today
	s.mu.Unlock()
	if collected {
		return false
	}

	existing, err := s.store.GetByDate(now)
	if err != nil {
		logger.Warn("Failed to check today's prediction", zap.Error(err))
		return false
	}
	if existing != nil {
		s.markCollected(today)
		return false
	}
	return true
}

func (s *Scheduler) markCollected(day string) {
	s.mu.Lock()
	s.lastCollected = day
	s.mu.Unlock()
}

// runDaily executes the full pipeline for now's game number, retrying
// a totally failed run before writing a rejected placeholder so the
// day is always represented.
func (s *Scheduler) runDaily(ctx context.Context, now time.Time) models.TaskResult {
	start := time.Now()
	today := now.Format(dateLayout)
	gameNumber := s.numbering.NumberForDate(now)

	s.markCollected(today)

	logger.Info("Daily collection starting",
		zap.Int("game_number", gameNumber),
		zap.String("date", today),
	)

	policy := retry.Fixed(s.cfg.MaxRetries, time.Duration(s.cfg.RetryDelaySec)*time.Second)
	policy.Logger = logger.Log

	var result *models.VerificationResult
	err := retry.Do(ctx, policy, func() error {
		// The attempt itself is never cancelled by Stop; only the
		// delay between attempts observes ctx.
		res, verr := s.verifier.Verify(context.Background(), gameNumber)
		if verr != nil {
			return verr
		}
		if len(res.Sources) == 0 {
			return errNoOutcomes
		}
		result = res
		return nil
	})

	if err != nil {
		logger.Error("Daily collection failed after retries",
			zap.Int("game_number", gameNumber),
			zap.Error(err),
		)
		s.writePlaceholder(gameNumber)
		metrics.SchedulerTasks.WithLabelValues("daily_collection", "failed").Inc()
		return taskResult("daily_collection", false, gameNumber, start,
			fmt.Sprintf("collection failed after %d attempts: %v", s.cfg.MaxRetries, err))
	}

	s.invalidateCache()
	metrics.SchedulerTasks.WithLabelValues("daily_collection", "ok").Inc()
	return taskResult("daily_collection", true, gameNumber, start,
		fmt.Sprintf("collected with status %s (confidence %.3f)", result.Status, result.Confidence))
}

func (s *Scheduler) runHourly(now time.Time) models.TaskResult {
	start := time.Now()
	gameNumber := s.numbering.NumberForDate(now)

	existing, err := s.store.GetByGameNumber(gameNumber)
	if err != nil {
		return taskResult("hourly_verification", false, gameNumber, start,
			fmt.Sprintf("store read failed: %v", err))
	}
	if existing == nil {
		return taskResult("hourly_verification", true, gameNumber, start,
			"no prediction for today yet, daily collection pending")
	}
	if existing.Status == models.StatusVerified {
		return taskResult("hourly_verification", true, gameNumber, start,
			"already verified, nothing to do")
	}

	result, err := s.verifier.Verify(context.Background(), gameNumber)
	if err != nil {
		metrics.SchedulerTasks.WithLabelValues("hourly_verification", "failed").Inc()
		return taskResult("hourly_verification", false, gameNumber, start,
			fmt.Sprintf("verification failed: %v", err))
	}

	if result.Status != existing.Status || result.Confidence != existing.ConfidenceScore {
		s.invalidateCache()
	}
	metrics.SchedulerTasks.WithLabelValues("hourly_verification", "ok").Inc()
	return taskResult("hourly_verification", true, gameNumber, start,
		fmt.Sprintf("re-verified with status %s (confidence %.3f)", result.Status, result.Confidence))
}

// RunDailyCollectionNow triggers the daily pipeline on demand. The
// same per-date idempotency guard applies as for scheduled runs.
func (s *Scheduler) RunDailyCollectionNow() models.TaskResult {
	now := time.Now().UTC()
	if !s.dueForCollection(now) {
		return taskResult("daily_collection", true, s.numbering.NumberForDate(now), time.Now(),
			"already collected for this date")
	}
	return s.runDaily(context.Background(), now)
}

// RunHourlyVerificationNow triggers one re-verification pass for
// today's prediction on demand.
func (s *Scheduler) RunHourlyVerificationNow() models.TaskResult {
	return s.runHourly(time.Now().UTC())
}

// RunBackfill processes an explicit game-number range sequentially,
// skipping numbers that are already verified and pausing between
// requests so sources are not hammered.
func (s *Scheduler) RunBackfill(ctx context.Context, startNumber, endNumber int) models.TaskResult {
	start := time.Now()

	if startNumber <= 0 || endNumber < startNumber {
		return taskResult("historical_backfill", false, 0,
			start, fmt.Sprintf("invalid range %d..%d", startNumber, endNumber))
	}

	processed, skipped, failed := 0, 0, 0
	delay := time.Duration(s.cfg.BackfillDelaySec) * time.Second

	for n := startNumber; n <= endNumber; n++ {
		if ctx.Err() != nil {
			break
		}

		existing, err := s.store.GetByGameNumber(n)
		if err == nil && existing != nil && existing.Status == models.StatusVerified {
			skipped++
			continue
		}

		if _, err := s.verifier.Verify(ctx, n); err != nil {
			logger.Warn("Backfill verification failed",
				zap.Int("game_number", n),
				zap.Error(err),
			)
			failed++
		} else {
			processed++
		}

		if n < endNumber && delay > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(delay):
			}
		}
	}

	s.invalidateCache()
	metrics.SchedulerTasks.WithLabelValues("historical_backfill", "ok").Inc()
	return taskResult("historical_backfill", failed == 0, 0, start,
		fmt.Sprintf("processed %d, skipped %d verified, failed %d", processed, skipped, failed))
}

func (s *Scheduler) writePlaceholder(gameNumber int) {
	existing, err := s.store.GetByGameNumber(gameNumber)
	if err == nil && existing != nil {
		return
	}

	p := &models.Prediction{
		GameNumber: gameNumber,
		Date:       s.numbering.DateForNumber(gameNumber),
		Status:     models.StatusRejected,
	}
	if err := s.store.Upsert(p); err != nil {
		logger.Error("Failed to write rejected placeholder",
			zap.Int("game_number", gameNumber),
			zap.Error(err),
		)
		return
	}
	logger.Info("Rejected placeholder written", zap.Int("game_number", gameNumber))
}

func (s *Scheduler) invalidateCache() {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateToday(context.Background()); err != nil {
		logger.Warn("Failed to invalidate prediction cache", zap.Error(err))
	}
}

func taskResult(task string, success bool, gameNumber int, start time.Time, message string) models.TaskResult {
	result := models.TaskResult{
		Task:            task,
		Success:         success,
		GameNumber:      gameNumber,
		Message:         message,
		ExecutionTimeMs: time.Since(start).Milliseconds(),
		Timestamp:       time.Now().UTC(),
	}
	logger.Info("Task finished",
		zap.String("task", task),
		zap.Bool("success", success),
		zap.String("message", message),
	)
	return result
}
