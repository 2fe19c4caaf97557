package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/tianwen8/puzzlerank.pro-sub000/internal/storage/models"
	"github.com/tianwen8/puzzlerank.pro-sub000/pkg/logger"
)

const dateLayout = "2006-01-02"

type Store struct {
	db *sql.DB
}

func NewStore(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}

	logger.Info("SQLite store initialized", zap.String("path", dbPath))
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS predictions (
		game_number INTEGER PRIMARY KEY,
		date TEXT UNIQUE NOT NULL,
		predicted_word TEXT,
		verified_word TEXT,
		status TEXT NOT NULL,
		confidence_score REAL NOT NULL DEFAULT 0,
		verification_sources TEXT,
		hints TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_predictions_status ON predictions(status);
	CREATE INDEX IF NOT EXISTS idx_predictions_date ON predictions(date);

	CREATE TABLE IF NOT EXISTS collection_logs (
		id TEXT PRIMARY KEY,
		game_number INTEGER NOT NULL,
		source_name TEXT NOT NULL,
		collected_word TEXT,
		status TEXT NOT NULL,
		response_time_ms INTEGER,
		error_message TEXT,
		raw_data_ref TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_logs_game ON collection_logs(game_number);
	CREATE INDEX IF NOT EXISTS idx_logs_source ON collection_logs(source_name);

	CREATE TABLE IF NOT EXISTS verification_sources (
		name TEXT PRIMARY KEY,
		url_template TEXT NOT NULL,
		weight REAL NOT NULL,
		is_active INTEGER NOT NULL DEFAULT 1,
		success_rate REAL NOT NULL DEFAULT 0
	);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

func (s *Store) Upsert(p *models.Prediction) error {
	sourcesJSON, _ := json.Marshal(p.VerificationSources)
	hintsJSON := ""
	if p.Hints != nil {
		raw, _ := json.Marshal(p.Hints)
		hintsJSON = string(raw)
	}

	query := `
		INSERT INTO predictions (game_number, date, predicted_word, verified_word, status,
			confidence_score, verification_sources, hints, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(game_number) DO UPDATE SET
			predicted_word = excluded.predicted_word,
			verified_word = excluded.verified_word,
			status = excluded.status,
			confidence_score = excluded.confidence_score,
			verification_sources = excluded.verification_sources,
			hints = excluded.hints,
			updated_at = excluded.updated_at
	`

	now := time.Now()
	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	_, err := s.db.Exec(
		query,
		p.GameNumber,
		p.Date.UTC().Format(dateLayout),
		p.PredictedWord,
		p.VerifiedWord,
		string(p.Status),
		p.ConfidenceScore,
		string(sourcesJSON),
		hintsJSON,
		createdAt.Unix(),
		now.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert prediction: %w", err)
	}

	logger.Debug("Prediction upserted",
		zap.Int("game_number", p.GameNumber),
		zap.String("status", string(p.Status)),
	)
	return nil
}

func (s *Store) UpdateStatus(gameNumber int, status models.PredictionStatus, word string, confidence float64, sources []string) error {
	sourcesJSON, _ := json.Marshal(sources)

	verifiedWord := ""
	if status == models.StatusVerified {
		verifiedWord = word
	}

	query := `
		UPDATE predictions
		SET status = ?, predicted_word = ?, verified_word = ?, confidence_score = ?,
			verification_sources = ?, updated_at = ?
		WHERE game_number = ?
	`

	res, err := s.db.Exec(query, string(status), word, verifiedWord, confidence,
		string(sourcesJSON), time.Now().Unix(), gameNumber)
	if err != nil {
		return fmt.Errorf("failed to update status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("no prediction for game number %d", gameNumber)
	}
	return nil
}

const predictionColumns = `game_number, date, predicted_word, verified_word, status,
	confidence_score, verification_sources, hints, created_at, updated_at`

func (s *Store) GetByGameNumber(gameNumber int) (*models.Prediction, error) {
	row := s.db.QueryRow(
		`SELECT `+predictionColumns+` FROM predictions WHERE game_number = ?`, gameNumber)
	return scanPrediction(row)
}

func (s *Store) GetByDate(date time.Time) (*models.Prediction, error) {
	row := s.db.QueryRow(
		`SELECT `+predictionColumns+` FROM predictions WHERE date = ?`,
		date.UTC().Format(dateLayout))
	return scanPrediction(row)
}

func (s *Store) GetLatestVerified() (*models.Prediction, error) {
	row := s.db.QueryRow(
		`SELECT ` + predictionColumns + ` FROM predictions WHERE status = 'verified'
		 ORDER BY game_number DESC LIMIT 1`)
	return scanPrediction(row)
}

func (s *Store) GetCandidates(limit int) ([]models.Prediction, error) {
	rows, err := s.db.Query(
		`SELECT `+predictionColumns+` FROM predictions WHERE status = 'candidate'
		 ORDER BY date ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get candidates: %w", err)
	}
	defer rows.Close()
	return scanPredictions(rows)
}

func (s *Store) GetVerifiedHistory(limit int) ([]models.Prediction, error) {
	rows, err := s.db.Query(
		`SELECT `+predictionColumns+` FROM predictions WHERE status = 'verified'
		 ORDER BY game_number DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get verified history: %w", err)
	}
	defer rows.Close()
	return scanPredictions(rows)
}

func (s *Store) AppendCollectionLog(entry *models.CollectionLogEntry) error {
	query := `
		INSERT INTO collection_logs (id, game_number, source_name, collected_word, status,
			response_time_ms, error_message, raw_data_ref, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := s.db.Exec(
		query,
		entry.ID,
		entry.GameNumber,
		entry.SourceName,
		entry.CollectedWord,
		string(entry.Status),
		entry.ResponseTimeMs,
		entry.ErrorMessage,
		entry.RawDataRef,
		createdAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to append collection log: %w", err)
	}
	return nil
}

func (s *Store) GetCollectionLogs(gameNumber int) ([]models.CollectionLogEntry, error) {
	rows, err := s.db.Query(
		`SELECT id, game_number, source_name, collected_word, status, response_time_ms,
			error_message, raw_data_ref, created_at
		 FROM collection_logs WHERE game_number = ? ORDER BY created_at ASC, id ASC`, gameNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to get collection logs: %w", err)
	}
	defer rows.Close()

	var entries []models.CollectionLogEntry
	for rows.Next() {
		var e models.CollectionLogEntry
		var status string
		var createdAt int64

		err := rows.Scan(&e.ID, &e.GameNumber, &e.SourceName, &e.CollectedWord, &status,
			&e.ResponseTimeMs, &e.ErrorMessage, &e.RawDataRef, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan log row: %w", err)
		}
		e.Status = models.CollectionStatus(status)
		e.CreatedAt = time.Unix(createdAt, 0).UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *Store) SaveSources(sources []models.VerificationSource) error {
	query := `
		INSERT INTO verification_sources (name, url_template, weight, is_active, success_rate)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			url_template = excluded.url_template,
			weight = excluded.weight,
			is_active = excluded.is_active,
			success_rate = excluded.success_rate
	`

	for _, src := range sources {
		active := 0
		if src.IsActive {
			active = 1
		}
		if _, err := s.db.Exec(query, src.Name, src.URLTemplate, src.Weight, active, src.SuccessRate); err != nil {
			return fmt.Errorf("failed to save source %q: %w", src.Name, err)
		}
	}
	return nil
}

func (s *Store) LoadSources() ([]models.VerificationSource, error) {
	rows, err := s.db.Query(
		`SELECT name, url_template, weight, is_active, success_rate
		 FROM verification_sources ORDER BY weight DESC, name ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to load sources: %w", err)
	}
	defer rows.Close()

	var sources []models.VerificationSource
	for rows.Next() {
		var src models.VerificationSource
		var active int
		if err := rows.Scan(&src.Name, &src.URLTemplate, &src.Weight, &active, &src.SuccessRate); err != nil {
			return nil, fmt.Errorf("failed to scan source row: %w", err)
		}
		src.IsActive = active == 1
		sources = append(sources, src)
	}
	return sources, rows.Err()
}

func (s *Store) GetStats() (*models.Stats, error) {
	query := `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN status = 'verified' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'candidate' THEN 1 ELSE 0 END), 0)
		FROM predictions
	`

	var stats models.Stats
	if err := s.db.QueryRow(query).Scan(&stats.Total, &stats.Verified, &stats.Candidates); err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}
	if stats.Total > 0 {
		stats.VerificationRate = float64(stats.Verified) / float64(stats.Total)
	}
	return &stats, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPrediction(row rowScanner) (*models.Prediction, error) {
	var p models.Prediction
	var dateStr, status, sourcesJSON, hintsJSON string
	var createdAt, updatedAt int64

	err := row.Scan(&p.GameNumber, &dateStr, &p.PredictedWord, &p.VerifiedWord, &status,
		&p.ConfidenceScore, &sourcesJSON, &hintsJSON, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan prediction: %w", err)
	}

	date, err := time.Parse(dateLayout, dateStr)
	if err != nil {
		return nil, fmt.Errorf("corrupt date %q: %w", dateStr, err)
	}

	p.Date = date
	p.Status = models.PredictionStatus(status)
	p.CreatedAt = time.Unix(createdAt, 0).UTC()
	p.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	if sourcesJSON != "" {
		_ = json.Unmarshal([]byte(sourcesJSON), &p.VerificationSources)
	}
	if hintsJSON != "" {
		var hints models.HintPayload
		if err := json.Unmarshal([]byte(hintsJSON), &hints); err == nil {
			p.Hints = &hints
		}
	}
	return &p, nil
}

func scanPredictions(rows *sql.Rows) ([]models.Prediction, error) {
	var predictions []models.Prediction
	for rows.Next() {
		p, err := scanPrediction(rows)
		if err != nil {
			return nil, err
		}
		predictions = append(predictions, *p)
	}
	return predictions, rows.Err()
}
