package storage

import (
	"errors"
	"strings"
	"time"

	"github.com/tianwen8/puzzlerank.pro-sub000/internal/storage/local"
	"github.com/tianwen8/puzzlerank.pro-sub000/internal/storage/models"
	"github.com/tianwen8/puzzlerank.pro-sub000/internal/storage/sqlite"
)

const (
	EngineSQLite = "sqlite"
	EngineLocal  = "local"
)

// Store is the durable record of predictions and collection attempts.
// Implementations must make Upsert atomic per game number; no wider
// transactional guarantees are required. Point reads return (nil, nil)
// when no row exists: "no data yet" is a result, not an error.
type Store interface {
	GetByGameNumber(gameNumber int) (*models.Prediction, error)
	GetByDate(date time.Time) (*models.Prediction, error)
	GetLatestVerified() (*models.Prediction, error)
	GetCandidates(limit int) ([]models.Prediction, error)
	GetVerifiedHistory(limit int) ([]models.Prediction, error)
	Upsert(p *models.Prediction) error
	UpdateStatus(gameNumber int, status models.PredictionStatus, word string, confidence float64, sources []string) error

	AppendCollectionLog(entry *models.CollectionLogEntry) error
	GetCollectionLogs(gameNumber int) ([]models.CollectionLogEntry, error)

	SaveSources(sources []models.VerificationSource) error
	LoadSources() ([]models.VerificationSource, error)

	GetStats() (*models.Stats, error)
	Close() error
}

// NewByEngine selects the store implementation once at startup. The
// degraded local store honors the same contract as sqlite so the rest
// of the pipeline stays storage-agnostic.
func NewByEngine(engine, path string) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(engine)) {
	case "", EngineSQLite:
		return sqlite.NewStore(path)
	case EngineLocal:
		return local.NewStore(path)
	default:
		return nil, errors.New("unsupported storage engine: " + engine)
	}
}
