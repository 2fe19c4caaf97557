package sqlite_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/tianwen8/puzzlerank.pro-sub000/internal/storage/models"
	"github.com/tianwen8/puzzlerank.pro-sub000/internal/storage/sqlite"
)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()

	st, err := sqlite.NewStore(filepath.Join(t.TempDir(), "predictions.db"))
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	t.Cleanup(func() {
		_ = st.Close()
	})
	return st
}

func samplePrediction(gameNumber int) *models.Prediction {
	return &models.Prediction{
		GameNumber:          gameNumber,
		Date:                time.Date(2024, 8, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, gameNumber-1500),
		PredictedWord:       "GROAN",
		Status:              models.StatusCandidate,
		ConfidenceScore:     0.52,
		VerificationSources: []string{"nyt", "tomsguide"},
	}
}

func TestUpsertAndGetByGameNumber(t *testing.T) {
	t.Parallel()

	st := newTestStore(t)

	p := samplePrediction(1500)
	p.Hints = &models.HintPayload{FirstLetter: "G", LastLetter: "N", LetterCount: 5}
	if err := st.Upsert(p); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	got, err := st.GetByGameNumber(1500)
	if err != nil {
		t.Fatalf("GetByGameNumber() error = %v", err)
	}
	if got == nil {
		t.Fatalf("expected prediction, got nil")
	}
	if got.PredictedWord != "GROAN" || got.Status != models.StatusCandidate {
		t.Fatalf("unexpected prediction: %+v", got)
	}
	if len(got.VerificationSources) != 2 || got.VerificationSources[0] != "nyt" {
		t.Fatalf("sources round-trip failed: %v", got.VerificationSources)
	}
	if got.Hints == nil || got.Hints.FirstLetter != "G" {
		t.Fatalf("hints round-trip failed: %+v", got.Hints)
	}

	byDate, err := st.GetByDate(p.Date)
	if err != nil {
		t.Fatalf("GetByDate() error = %v", err)
	}
	if byDate == nil || byDate.GameNumber != 1500 {
		t.Fatalf("GetByDate() = %+v", byDate)
	}
}

func TestGetByGameNumberAbsent(t *testing.T) {
	t.Parallel()

	st := newTestStore(t)

	got, err := st.GetByGameNumber(9999)
	if err != nil {
		t.Fatalf("GetByGameNumber() error = %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for missing row, got %+v", got)
	}
}

func TestUpsertIsIdempotentPerGameNumber(t *testing.T) {
	t.Parallel()

	st := newTestStore(t)

	p := samplePrediction(1501)
	if err := st.Upsert(p); err != nil {
		t.Fatalf("first Upsert() error = %v", err)
	}
	first, err := st.GetByGameNumber(1501)
	if err != nil {
		t.Fatalf("GetByGameNumber() error = %v", err)
	}

	if err := st.Upsert(p); err != nil {
		t.Fatalf("second Upsert() error = %v", err)
	}
	second, err := st.GetByGameNumber(1501)
	if err != nil {
		t.Fatalf("GetByGameNumber() error = %v", err)
	}

	if !first.CreatedAt.Equal(second.CreatedAt) {
		t.Fatalf("created_at changed on re-upsert: %v vs %v", first.CreatedAt, second.CreatedAt)
	}
	if first.PredictedWord != second.PredictedWord ||
		first.Status != second.Status ||
		first.ConfidenceScore != second.ConfidenceScore {
		t.Fatalf("re-upsert with identical data changed the row: %+v vs %+v", first, second)
	}

	stats, err := st.GetStats()
	if err != nil {
		t.Fatalf("GetStats() error = %v", err)
	}
	if stats.Total != 1 {
		t.Fatalf("expected a single row per game number, total = %d", stats.Total)
	}
}

func TestUpdateStatusSetsVerifiedWordOnlyWhenVerified(t *testing.T) {
	t.Parallel()

	st := newTestStore(t)

	if err := st.Upsert(samplePrediction(1502)); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	err := st.UpdateStatus(1502, models.StatusVerified, "GROAN", 0.87, []string{"nyt", "tomsguide"})
	if err != nil {
		t.Fatalf("UpdateStatus() error = %v", err)
	}
	got, _ := st.GetByGameNumber(1502)
	if got.VerifiedWord != "GROAN" {
		t.Fatalf("verified word not set: %+v", got)
	}

	err = st.UpdateStatus(1502, models.StatusCandidate, "GROAN", 0.5, []string{"nyt"})
	if err != nil {
		t.Fatalf("UpdateStatus() error = %v", err)
	}
	got, _ = st.GetByGameNumber(1502)
	if got.VerifiedWord != "" {
		t.Fatalf("verified word should be cleared off the verified status: %+v", got)
	}

	if err := st.UpdateStatus(4242, models.StatusRejected, "", 0, nil); err == nil {
		t.Fatalf("expected error updating a missing game number")
	}
}

func TestVerifiedHistoryAndCandidatesOrdering(t *testing.T) {
	t.Parallel()

	st := newTestStore(t)

	for i, status := range []models.PredictionStatus{
		models.StatusVerified, models.StatusCandidate, models.StatusVerified,
		models.StatusRejected, models.StatusCandidate,
	} {
		p := samplePrediction(1500 + i)
		p.Status = status
		if status == models.StatusVerified {
			p.VerifiedWord = p.PredictedWord
		}
		if err := st.Upsert(p); err != nil {
			t.Fatalf("Upsert(%d) error = %v", 1500+i, err)
		}
	}

	history, err := st.GetVerifiedHistory(10)
	if err != nil {
		t.Fatalf("GetVerifiedHistory() error = %v", err)
	}
	if len(history) != 2 || history[0].GameNumber != 1502 || history[1].GameNumber != 1500 {
		t.Fatalf("verified history wrongly ordered: %+v", history)
	}

	candidates, err := st.GetCandidates(10)
	if err != nil {
		t.Fatalf("GetCandidates() error = %v", err)
	}
	if len(candidates) != 2 || !candidates[0].Date.Before(candidates[1].Date) {
		t.Fatalf("candidates must be ordered by ascending date: %+v", candidates)
	}

	latest, err := st.GetLatestVerified()
	if err != nil {
		t.Fatalf("GetLatestVerified() error = %v", err)
	}
	if latest == nil || latest.GameNumber != 1502 {
		t.Fatalf("GetLatestVerified() = %+v", latest)
	}

	stats, err := st.GetStats()
	if err != nil {
		t.Fatalf("GetStats() error = %v", err)
	}
	if stats.Total != 5 || stats.Verified != 2 || stats.Candidates != 2 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.VerificationRate != 0.4 {
		t.Fatalf("verification rate = %v, want 0.4", stats.VerificationRate)
	}
}

func TestCollectionLogAppendAndRead(t *testing.T) {
	t.Parallel()

	st := newTestStore(t)

	entries := []*models.CollectionLogEntry{
		{ID: "log-1", GameNumber: 1500, SourceName: "nyt", CollectedWord: "GROAN",
			Status: models.CollectionSuccess, ResponseTimeMs: 120},
		{ID: "log-2", GameNumber: 1500, SourceName: "tomsguide",
			Status: models.CollectionTimeout, ResponseTimeMs: 10000, ErrorMessage: "deadline exceeded"},
		{ID: "log-3", GameNumber: 1501, SourceName: "nyt", CollectedWord: "CRISP",
			Status: models.CollectionSuccess, ResponseTimeMs: 95},
	}
	for _, e := range entries {
		if err := st.AppendCollectionLog(e); err != nil {
			t.Fatalf("AppendCollectionLog(%s) error = %v", e.ID, err)
		}
	}

	logs, err := st.GetCollectionLogs(1500)
	if err != nil {
		t.Fatalf("GetCollectionLogs() error = %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("len(logs) = %d, want 2", len(logs))
	}
	if logs[1].Status != models.CollectionTimeout || logs[1].ErrorMessage == "" {
		t.Fatalf("timeout entry not preserved: %+v", logs[1])
	}
}

func TestSourcesRoundTrip(t *testing.T) {
	t.Parallel()

	st := newTestStore(t)

	in := []models.VerificationSource{
		{Name: "nyt", URLTemplate: "https://example.com/{date}.json", Weight: 0.35, IsActive: true},
		{Name: "tomsguide", URLTemplate: "https://example.com/today", Weight: 0.3, IsActive: false},
	}
	if err := st.SaveSources(in); err != nil {
		t.Fatalf("SaveSources() error = %v", err)
	}

	out, err := st.LoadSources()
	if err != nil {
		t.Fatalf("LoadSources() error = %v", err)
	}
	if len(out) != 2 || out[0].Name != "nyt" || out[1].IsActive {
		t.Fatalf("sources round-trip failed: %+v", out)
	}
}
