package collector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tianwen8/puzzlerank.pro-sub000/internal/game"
	"github.com/tianwen8/puzzlerank.pro-sub000/internal/metrics"
	"github.com/tianwen8/puzzlerank.pro-sub000/internal/source"
	"github.com/tianwen8/puzzlerank.pro-sub000/internal/storage"
	"github.com/tianwen8/puzzlerank.pro-sub000/internal/storage/models"
	"github.com/tianwen8/puzzlerank.pro-sub000/pkg/circuitbreaker"
	"github.com/tianwen8/puzzlerank.pro-sub000/pkg/config"
	"github.com/tianwen8/puzzlerank.pro-sub000/pkg/logger"
	"github.com/tianwen8/puzzlerank.pro-sub000/pkg/utils"
)

const maxBodyBytes = 2 << 20

// Collector fans out one fetch-and-extract attempt per active source.
// It never fails as a whole: every per-source problem becomes a failed
// SourceOutcome.
type Collector struct {
	registry   *source.Registry
	store      storage.Store
	numbering  *game.Numbering
	httpClient *http.Client
	timeout    time.Duration
	userAgent  string

	extractors map[string]Extractor

	breakerMu sync.Mutex
	breakers  map[string]*circuitbreaker.Breaker
}

func New(registry *source.Registry, store storage.Store, numbering *game.Numbering, cfg config.CollectorConfig, sources []config.SourceConfig) (*Collector, error) {
	extractors := make(map[string]Extractor, len(sources))
	for _, sc := range sources {
		ex, err := NewExtractor(sc)
		if err != nil {
			return nil, err
		}
		extractors[sc.Name] = ex
	}

	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Collector{
		registry:  registry,
		store:     store,
		numbering: numbering,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		timeout:    timeout,
		userAgent:  cfg.UserAgent,
		extractors: extractors,
		breakers:   make(map[string]*circuitbreaker.Breaker),
	}, nil
}

// Collect runs one attempt against every active source concurrently.
// Each goroutine writes only its own outcome slot; aggregation happens
// after all of them have settled. The returned slice carries one entry
// per attempted source, in no particular order.
func (c *Collector) Collect(ctx context.Context, gameNumber int) []models.SourceOutcome {
	sources := c.registry.ActiveSources()
	outcomes := make([]models.SourceOutcome, len(sources))

	var wg sync.WaitGroup
	for i, src := range sources {
		wg.Add(1)
		go func(slot int, src models.VerificationSource) {
			defer wg.Done()
			outcomes[slot] = c.collectOne(ctx, gameNumber, src)
		}(i, src)
	}
	wg.Wait()

	for _, outcome := range outcomes {
		c.registry.RecordOutcome(outcome.SourceName, outcome.Success)
		metrics.SourceOutcomes.WithLabelValues(outcome.SourceName, string(outcome.Status)).Inc()

		entry := &models.CollectionLogEntry{
			ID:             uuid.New().String(),
			GameNumber:     gameNumber,
			SourceName:     outcome.SourceName,
			CollectedWord:  outcome.Word,
			Status:         outcome.Status,
			ResponseTimeMs: outcome.ResponseTimeMs,
			ErrorMessage:   outcome.Error,
			RawDataRef:     outcome.RawDataRef,
			CreatedAt:      time.Now().UTC(),
		}
		if err := c.store.AppendCollectionLog(entry); err != nil {
			logger.Warn("Failed to append collection log",
				zap.String("source", outcome.SourceName),
				zap.Int("game_number", gameNumber),
				zap.Error(err),
			)
		}
	}

	logger.Info("Collection round finished",
		zap.Int("game_number", gameNumber),
		zap.Int("sources", len(outcomes)),
		zap.Int("successes", countSuccesses(outcomes)),
	)
	return outcomes
}

func (c *Collector) collectOne(ctx context.Context, gameNumber int, src models.VerificationSource) models.SourceOutcome {
	outcome := models.SourceOutcome{
		SourceName: src.Name,
		Status:     models.CollectionFailed,
	}

	breaker := c.breakerFor(src.Name)
	if !breaker.Allow() {
		outcome.Error = "circuit breaker open"
		return outcome
	}

	extractor, ok := c.extractors[src.Name]
	if !ok {
		outcome.Error = "no extractor configured"
		breaker.RecordFailure()
		return outcome
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	body, err := c.fetch(reqCtx, gameNumber, src)
	outcome.ResponseTimeMs = time.Since(start).Milliseconds()
	metrics.CollectionDuration.WithLabelValues(src.Name).Observe(time.Since(start).Seconds())

	if err != nil {
		if isTimeout(err) {
			outcome.Status = models.CollectionTimeout
		}
		outcome.Error = err.Error()
		breaker.RecordFailure()
		return outcome
	}

	outcome.RawDataRef = utils.HashBytes(body)

	word, found := extractor.Extract(body)
	if !found {
		outcome.Error = "no valid word in response"
		breaker.RecordFailure()
		return outcome
	}

	outcome.Word = word
	outcome.Success = true
	outcome.Status = models.CollectionSuccess
	breaker.RecordSuccess()

	logger.Debug("Source collected",
		zap.String("source", src.Name),
		zap.Int("game_number", gameNumber),
		zap.Int64("response_time_ms", outcome.ResponseTimeMs),
	)
	return outcome
}

func (c *Collector) fetch(ctx context.Context, gameNumber int, src models.VerificationSource) ([]byte, error) {
	url := c.buildURL(src.URLTemplate, gameNumber)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("source returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return body, nil
}

// buildURL substitutes {gameNumber} and {date} into a source's URL
// template. The date is the puzzle's own UTC date, not "now", so that
// backfill requests hit the right page.
func (c *Collector) buildURL(template string, gameNumber int) string {
	url := strings.ReplaceAll(template, "{gameNumber}", strconv.Itoa(gameNumber))
	date := c.numbering.DateForNumber(gameNumber).Format("2006-01-02")
	return strings.ReplaceAll(url, "{date}", date)
}

func (c *Collector) breakerFor(name string) *circuitbreaker.Breaker {
	c.breakerMu.Lock()
	defer c.breakerMu.Unlock()

	b, ok := c.breakers[name]
	if !ok {
		b = circuitbreaker.New(name, circuitbreaker.Config{
			FailureThreshold: 5,
			SuccessThreshold: 1,
			OpenTimeout:      30 * time.Minute,
			Logger:           logger.Log,
		})
		c.breakers[name] = b
	}
	return b
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}

func countSuccesses(outcomes []models.SourceOutcome) int {
	n := 0
	for _, o := range outcomes {
		if o.Success {
			n++
		}
	}
	return n
}
