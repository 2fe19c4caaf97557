package local

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tianwen8/puzzlerank.pro-sub000/internal/storage/models"
	"github.com/tianwen8/puzzlerank.pro-sub000/pkg/logger"
)

// fileState is the on-disk layout. Predictions are keyed by the game
// number rendered as a string so the map survives JSON round-trips.
type fileState struct {
	Predictions map[string]models.Prediction `json:"predictions"`
	Logs        []models.CollectionLogEntry  `json:"collection_logs"`
	Sources     []models.VerificationSource  `json:"verification_sources"`
}

// Store is the degraded local fallback. It honors the same contract as
// the sqlite store; every write is flushed atomically via rename.
type Store struct {
	filePath string
	mu       sync.RWMutex
	state    fileState
}

func NewStore(filePath string) (*Store, error) {
	s := &Store{
		filePath: filePath,
		state: fileState{
			Predictions: make(map[string]models.Prediction),
			Logs:        make([]models.CollectionLogEntry, 0),
			Sources:     make([]models.VerificationSource, 0),
		},
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	logger.Info("Local store initialized", zap.String("path", filePath))
	return s, nil
}

func (s *Store) Close() error {
	return nil
}

func (s *Store) Upsert(p *models.Prediction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strconv.Itoa(p.GameNumber)
	stored := *p
	now := time.Now()
	if existing, ok := s.state.Predictions[key]; ok {
		stored.CreatedAt = existing.CreatedAt
	} else if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	stored.Date = midnightUTC(stored.Date)

	s.state.Predictions[key] = stored
	return s.persistLocked()
}

func (s *Store) UpdateStatus(gameNumber int, status models.PredictionStatus, word string, confidence float64, sources []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strconv.Itoa(gameNumber)
	p, ok := s.state.Predictions[key]
	if !ok {
		return fmt.Errorf("no prediction for game number %d", gameNumber)
	}

	p.Status = status
	p.PredictedWord = word
	p.VerifiedWord = ""
	if status == models.StatusVerified {
		p.VerifiedWord = word
	}
	p.ConfidenceScore = confidence
	p.VerificationSources = sources
	p.UpdatedAt = time.Now()

	s.state.Predictions[key] = p
	return s.persistLocked()
}

func (s *Store) GetByGameNumber(gameNumber int) (*models.Prediction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.state.Predictions[strconv.Itoa(gameNumber)]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (s *Store) GetByDate(date time.Time) (*models.Prediction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	want := midnightUTC(date)
	for _, p := range s.state.Predictions {
		if midnightUTC(p.Date).Equal(want) {
			found := p
			return &found, nil
		}
	}
	return nil, nil
}

func (s *Store) GetLatestVerified() (*models.Prediction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *models.Prediction
	for _, p := range s.state.Predictions {
		if p.Status != models.StatusVerified {
			continue
		}
		if latest == nil || p.GameNumber > latest.GameNumber {
			found := p
			latest = &found
		}
	}
	return latest, nil
}

func (s *Store) GetCandidates(limit int) ([]models.Prediction, error) {
	list := s.filterByStatus(models.StatusCandidate)
	sort.Slice(list, func(i, j int) bool { return list[i].Date.Before(list[j].Date) })
	return clamp(list, limit), nil
}

func (s *Store) GetVerifiedHistory(limit int) ([]models.Prediction, error) {
	list := s.filterByStatus(models.StatusVerified)
	sort.Slice(list, func(i, j int) bool { return list[i].GameNumber > list[j].GameNumber })
	return clamp(list, limit), nil
}

func (s *Store) AppendCollectionLog(entry *models.CollectionLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *entry
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	s.state.Logs = append(s.state.Logs, stored)
	return s.persistLocked()
}

func (s *Store) GetCollectionLogs(gameNumber int) ([]models.CollectionLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var entries []models.CollectionLogEntry
	for _, e := range s.state.Logs {
		if e.GameNumber == gameNumber {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

func (s *Store) SaveSources(sources []models.VerificationSource) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.Sources = append([]models.VerificationSource(nil), sources...)
	return s.persistLocked()
}

func (s *Store) LoadSources() ([]models.VerificationSource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := append([]models.VerificationSource(nil), s.state.Sources...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Weight != out[j].Weight {
			return out[i].Weight > out[j].Weight
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (s *Store) GetStats() (*models.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &models.Stats{Total: len(s.state.Predictions)}
	for _, p := range s.state.Predictions {
		switch p.Status {
		case models.StatusVerified:
			stats.Verified++
		case models.StatusCandidate:
			stats.Candidates++
		}
	}
	if stats.Total > 0 {
		stats.VerificationRate = float64(stats.Verified) / float64(stats.Total)
	}
	return stats, nil
}

func (s *Store) filterByStatus(status models.PredictionStatus) []models.Prediction {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var list []models.Prediction
	for _, p := range s.state.Predictions {
		if p.Status == status {
			list = append(list, p)
		}
	}
	return list
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.filePath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read local store: %w", err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, &s.state); err != nil {
		return fmt.Errorf("failed to parse local store: %w", err)
	}
	if s.state.Predictions == nil {
		s.state.Predictions = make(map[string]models.Prediction)
	}
	return nil
}

func (s *Store) persistLocked() error {
	data, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal local store: %w", err)
	}

	if dir := filepath.Dir(s.filePath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	tmp := s.filePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write local store: %w", err)
	}
	if err := os.Rename(tmp, s.filePath); err != nil {
		return fmt.Errorf("failed to replace local store: %w", err)
	}
	return nil
}

func clamp(list []models.Prediction, limit int) []models.Prediction {
	if limit > 0 && len(list) > limit {
		return list[:limit]
	}
	return list
}

func midnightUTC(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
