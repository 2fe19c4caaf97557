package verifier

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/tianwen8/puzzlerank.pro-sub000/internal/collector"
	"github.com/tianwen8/puzzlerank.pro-sub000/internal/game"
	"github.com/tianwen8/puzzlerank.pro-sub000/internal/hints"
	"github.com/tianwen8/puzzlerank.pro-sub000/internal/metrics"
	"github.com/tianwen8/puzzlerank.pro-sub000/internal/source"
	"github.com/tianwen8/puzzlerank.pro-sub000/internal/storage"
	"github.com/tianwen8/puzzlerank.pro-sub000/internal/storage/models"
	"github.com/tianwen8/puzzlerank.pro-sub000/pkg/config"
	"github.com/tianwen8/puzzlerank.pro-sub000/pkg/logger"
	"github.com/tianwen8/puzzlerank.pro-sub000/pkg/retry"
)

// Verifier reconciles the collector's raw outcomes into a weighted
// consensus and persists the resulting Prediction.
type Verifier struct {
	collector  *collector.Collector
	registry   *source.Registry
	store      storage.Store
	numbering  *game.Numbering
	cfg        config.VerifierConfig
	storeRetry retry.Config
}

func New(c *collector.Collector, registry *source.Registry, store storage.Store, numbering *game.Numbering, cfg config.VerifierConfig, writeRetries int) *Verifier {
	if cfg.VerifiedThreshold <= 0 {
		cfg.VerifiedThreshold = 0.7
	}
	if cfg.CandidateThreshold <= 0 {
		cfg.CandidateThreshold = 0.3
	}
	if cfg.MinSources <= 0 {
		cfg.MinSources = 2
	}
	if cfg.AgreementBonus <= 0 {
		cfg.AgreementBonus = 0.2
	}
	if writeRetries <= 0 {
		writeRetries = 3
	}
	return &Verifier{
		collector:  c,
		registry:   registry,
		store:      store,
		numbering:  numbering,
		cfg:        cfg,
		storeRetry: retry.Fixed(writeRetries, 500*time.Millisecond),
	}
}

// Verify runs collection and consensus for one game number and upserts
// the Prediction. A game number already verified is terminal: the
// stored state is returned untouched.
func (v *Verifier) Verify(ctx context.Context, gameNumber int) (*models.VerificationResult, error) {
	existing, err := v.store.GetByGameNumber(gameNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing prediction: %w", err)
	}
	if existing != nil && existing.Status == models.StatusVerified {
		logger.Debug("Prediction already verified, skipping",
			zap.Int("game_number", gameNumber),
		)
		return &models.VerificationResult{
			GameNumber:    gameNumber,
			ConsensusWord: existing.VerifiedWord,
			Confidence:    existing.ConfidenceScore,
			Status:        models.StatusVerified,
		}, nil
	}

	outcomes := v.collector.Collect(ctx, gameNumber)
	result := v.Consensus(gameNumber, outcomes)

	if err := v.persist(ctx, result, existing); err != nil {
		return nil, err
	}

	metrics.ConsensusConfidence.Observe(result.Confidence)
	metrics.VerificationsTotal.WithLabelValues(string(result.Status)).Inc()

	logger.Info("Verification completed",
		zap.Int("game_number", gameNumber),
		zap.String("status", string(result.Status)),
		zap.String("word", result.ConsensusWord),
		zap.Float64("confidence", result.Confidence),
	)
	return result, nil
}

// Consensus computes the weighted-vote winner over a set of raw
// outcomes. Pure apart from the registry weight lookup.
func (v *Verifier) Consensus(gameNumber int, outcomes []models.SourceOutcome) *models.VerificationResult {
	result := &models.VerificationResult{
		GameNumber: gameNumber,
		Sources:    make([]models.WeightedOutcome, 0, len(outcomes)),
		Status:     models.StatusRejected,
	}

	scores := make(map[string]float64)
	votes := make(map[string]int)
	contributors := make(map[string][]string)
	var firstSeen []string
	var totalWeight float64
	successful := 0

	for _, outcome := range outcomes {
		weight := v.registry.WeightFor(outcome.SourceName)
		result.Sources = append(result.Sources, models.WeightedOutcome{
			SourceOutcome: outcome,
			Weight:        weight,
		})

		if !outcome.Success || !collector.ValidWord(outcome.Word) {
			continue
		}
		successful++
		// Unknown or inactive sources stay logged but carry no vote.
		if weight <= 0 {
			continue
		}
		totalWeight += weight
		if _, seen := scores[outcome.Word]; !seen {
			firstSeen = append(firstSeen, outcome.Word)
		}
		scores[outcome.Word] += weight
		votes[outcome.Word]++
		contributors[outcome.Word] = append(contributors[outcome.Word], outcome.SourceName)
	}

	if successful == 0 || totalWeight == 0 {
		return result
	}

	// Winner: max score, ties by raw vote count, then first-seen order.
	winner := ""
	for _, word := range firstSeen {
		if winner == "" ||
			scores[word] > scores[winner] ||
			(scores[word] == scores[winner] && votes[word] > votes[winner]) {
			winner = word
		}
	}

	contributing := len(contributors[winner])
	confidence := scores[winner] / totalWeight
	confidence += minFloat(float64(contributing)/float64(successful), 1) * v.cfg.AgreementBonus
	if confidence > 1 {
		confidence = 1
	}

	result.ConsensusWord = winner
	result.Confidence = confidence

	switch {
	case confidence >= v.cfg.VerifiedThreshold && contributing >= v.cfg.MinSources:
		result.Status = models.StatusVerified
	case confidence > v.cfg.CandidateThreshold:
		result.Status = models.StatusCandidate
	default:
		result.Status = models.StatusRejected
	}
	return result
}

func (v *Verifier) persist(ctx context.Context, result *models.VerificationResult, existing *models.Prediction) error {
	p := &models.Prediction{
		GameNumber:      result.GameNumber,
		Date:            v.numbering.DateForNumber(result.GameNumber),
		PredictedWord:   result.ConsensusWord,
		Status:          result.Status,
		ConfidenceScore: result.Confidence,
	}
	if existing != nil {
		p.CreatedAt = existing.CreatedAt
	}
	if result.Status == models.StatusVerified {
		p.VerifiedWord = result.ConsensusWord
	}
	if result.ConsensusWord != "" {
		p.Hints = hints.Generate(result.ConsensusWord)
		for _, src := range result.Sources {
			if src.Success && src.Word == result.ConsensusWord && src.Weight > 0 {
				p.VerificationSources = append(p.VerificationSources, src.SourceName)
			}
		}
	}

	if err := retry.Do(ctx, v.storeRetry, func() error {
		return v.store.Upsert(p)
	}); err != nil {
		return fmt.Errorf("failed to persist prediction: %w", err)
	}
	return nil
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
