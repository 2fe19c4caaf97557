package models

import "time"

type PredictionStatus string

const (
	StatusCandidate PredictionStatus = "candidate"
	StatusVerified  PredictionStatus = "verified"
	StatusRejected  PredictionStatus = "rejected"
)

type CollectionStatus string

const (
	CollectionSuccess CollectionStatus = "success"
	CollectionFailed  CollectionStatus = "failed"
	CollectionTimeout CollectionStatus = "timeout"
)

// Prediction is the single durable record for one game number.
// VerifiedWord is set only while Status is StatusVerified.
type Prediction struct {
	GameNumber          int              `json:"game_number"`
	Date                time.Time        `json:"date"`
	PredictedWord       string           `json:"predicted_word,omitempty"`
	VerifiedWord        string           `json:"verified_word,omitempty"`
	Status              PredictionStatus `json:"status"`
	ConfidenceScore     float64          `json:"confidence_score"`
	VerificationSources []string         `json:"verification_sources,omitempty"`
	Hints               *HintPayload     `json:"hints,omitempty"`
	CreatedAt           time.Time        `json:"created_at"`
	UpdatedAt           time.Time        `json:"updated_at"`
}

// HintPayload is the presentation payload derived from a known word.
// The engine generates it but otherwise treats it as opaque.
type HintPayload struct {
	FirstLetter string   `json:"first_letter"`
	LastLetter  string   `json:"last_letter"`
	LetterCount int      `json:"letter_count"`
	Vowels      []string `json:"vowels"`
	Consonants  []string `json:"consonants"`
	Scrambled   string   `json:"scrambled"`
}

// SourceOutcome is the result of one fetch-and-extract attempt against
// a single source. Failures are values here, never errors.
type SourceOutcome struct {
	SourceName     string           `json:"source_name"`
	Word           string           `json:"word,omitempty"`
	Success        bool             `json:"success"`
	Status         CollectionStatus `json:"status"`
	ResponseTimeMs int64            `json:"response_time_ms"`
	Error          string           `json:"error,omitempty"`
	RawDataRef     string           `json:"raw_data_ref,omitempty"`
}

// CollectionLogEntry is the append-only audit record of one attempt.
type CollectionLogEntry struct {
	ID             string           `json:"id"`
	GameNumber     int              `json:"game_number"`
	SourceName     string           `json:"source_name"`
	CollectedWord  string           `json:"collected_word,omitempty"`
	Status         CollectionStatus `json:"status"`
	ResponseTimeMs int64            `json:"response_time_ms"`
	ErrorMessage   string           `json:"error_message,omitempty"`
	RawDataRef     string           `json:"raw_data_ref,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
}

// VerificationSource is one configured data source.
// SuccessRate is a rolling figure, informational only.
type VerificationSource struct {
	Name        string  `json:"name"`
	URLTemplate string  `json:"url_template"`
	Weight      float64 `json:"weight"`
	IsActive    bool    `json:"is_active"`
	SuccessRate float64 `json:"success_rate"`
}

// WeightedOutcome pairs a source outcome with the registry weight that
// applied to it during consensus voting.
type WeightedOutcome struct {
	SourceOutcome
	Weight float64 `json:"weight"`
}

type VerificationResult struct {
	GameNumber    int               `json:"game_number"`
	Sources       []WeightedOutcome `json:"sources"`
	ConsensusWord string            `json:"consensus_word,omitempty"`
	Confidence    float64           `json:"confidence"`
	Status        PredictionStatus  `json:"status"`
}

type TaskResult struct {
	Task            string    `json:"task"`
	Success         bool      `json:"success"`
	GameNumber      int       `json:"game_number,omitempty"`
	Message         string    `json:"message"`
	ExecutionTimeMs int64     `json:"execution_time_ms"`
	Timestamp       time.Time `json:"timestamp"`
}

type Stats struct {
	Total            int     `json:"total"`
	Verified         int     `json:"verified"`
	Candidates       int     `json:"candidates"`
	VerificationRate float64 `json:"verification_rate"`
}
