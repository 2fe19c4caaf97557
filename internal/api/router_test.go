package api_test

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"

	"github.com/tianwen8/puzzlerank.pro-sub000/internal/api"
	"github.com/tianwen8/puzzlerank.pro-sub000/internal/api/handlers"
	"github.com/tianwen8/puzzlerank.pro-sub000/internal/collector"
	"github.com/tianwen8/puzzlerank.pro-sub000/internal/game"
	"github.com/tianwen8/puzzlerank.pro-sub000/internal/middleware/ratelimit"
	"github.com/tianwen8/puzzlerank.pro-sub000/internal/scheduler"
	"github.com/tianwen8/puzzlerank.pro-sub000/internal/source"
	"github.com/tianwen8/puzzlerank.pro-sub000/internal/storage"
	"github.com/tianwen8/puzzlerank.pro-sub000/internal/storage/local"
	"github.com/tianwen8/puzzlerank.pro-sub000/internal/storage/models"
	"github.com/tianwen8/puzzlerank.pro-sub000/internal/verifier"
	"github.com/tianwen8/puzzlerank.pro-sub000/pkg/config"
)

type testApp struct {
	app       *fiber.App
	store     storage.Store
	numbering *game.Numbering
}

func newTestApp(t *testing.T, sourceBody string, limiter *ratelimit.Limiter) *testApp {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, sourceBody)
	}))
	t.Cleanup(srv.Close)

	configs := []config.SourceConfig{
		{Name: "alpha", URLTemplate: srv.URL + "/a/{gameNumber}", Weight: 0.3, IsActive: true, Extractor: "regex", Pattern: `answer is ([A-Za-z]{5})`},
		{Name: "beta", URLTemplate: srv.URL + "/b/{gameNumber}", Weight: 0.25, IsActive: true, Extractor: "regex", Pattern: `answer is ([A-Za-z]{5})`},
	}
	registry, err := source.NewRegistry(configs)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	numbering, err := game.NewNumbering("2021-06-19", 0)
	if err != nil {
		t.Fatalf("NewNumbering() error = %v", err)
	}
	st, err := local.NewStore(filepath.Join(t.TempDir(), "predictions.json"))
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	t.Cleanup(func() { st.Close() })

	col, err := collector.New(registry, st, numbering, config.CollectorConfig{TimeoutSec: 2}, configs)
	if err != nil {
		t.Fatalf("collector.New() error = %v", err)
	}
	v := verifier.New(col, registry, st, numbering, config.VerifierConfig{
		VerifiedThreshold:  0.7,
		CandidateThreshold: 0.3,
		MinSources:         2,
		AgreementBonus:     0.2,
	}, 1)
	sched := scheduler.New(st, v, numbering, nil, config.SchedulerConfig{TickSec: 3600, MaxRetries: 1})

	app := fiber.New()
	api.Register(app, api.Deps{
		Predictions:  handlers.NewPredictionHandler(st, numbering, nil),
		Admin:        handlers.NewAdminHandler(sched),
		AdminLimiter: limiter,
	})

	return &testApp{app: app, store: st, numbering: numbering}
}

func (ta *testApp) get(t *testing.T, path string) (*http.Response, []byte) {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, path, nil)
	resp, err := ta.app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test(%s) error = %v", path, err)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}
	resp.Body.Close()
	return resp, body
}

func (ta *testApp) post(t *testing.T, path, body string) (*http.Response, []byte) {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := ta.app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test(%s) error = %v", path, err)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}
	resp.Body.Close()
	return resp, data
}

func TestGetTodayIsNullBeforeCollection(t *testing.T) {
	t.Parallel()

	ta := newTestApp(t, "the answer is CRANE today", nil)

	resp, body := ta.get(t, "/api/v1/predictions/today")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200 (missing data is not an error)", resp.StatusCode)
	}

	var out struct {
		GameNumber int                `json:"game_number"`
		Prediction *models.Prediction `json:"prediction"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Prediction != nil {
		t.Fatalf("prediction = %+v, want null before any collection", out.Prediction)
	}
	if out.GameNumber != ta.numbering.TodayNumber() {
		t.Fatalf("game_number = %d, want %d", out.GameNumber, ta.numbering.TodayNumber())
	}
}

func TestAdminCollectThenGetToday(t *testing.T) {
	t.Parallel()

	ta := newTestApp(t, "the answer is CRANE today", nil)

	resp, body := ta.post(t, "/api/v1/admin/collect", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("collect status = %d, body %s", resp.StatusCode, body)
	}

	resp, body = ta.get(t, "/api/v1/predictions/today")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("today status = %d, body %s", resp.StatusCode, body)
	}

	var out struct {
		Prediction *models.Prediction `json:"prediction"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Prediction == nil {
		t.Fatal("prediction is null after collection")
	}
	p := *out.Prediction
	if p.PredictedWord != "CRANE" {
		t.Fatalf("predicted word = %q, want CRANE", p.PredictedWord)
	}
	if p.Status != models.StatusVerified {
		t.Fatalf("status = %v, want verified (two agreeing sources)", p.Status)
	}
	if p.Hints == nil || p.Hints.FirstLetter != "C" {
		t.Fatalf("hints = %+v, want first letter C", p.Hints)
	}
}

func TestGetPredictionByGameNumber(t *testing.T) {
	t.Parallel()

	ta := newTestApp(t, "the answer is CRANE today", nil)

	if err := ta.store.Upsert(&models.Prediction{
		GameNumber:    1500,
		Date:          ta.numbering.DateForNumber(1500),
		PredictedWord: "SLATE",
		Status:        models.StatusCandidate,
	}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	resp, body := ta.get(t, "/api/v1/predictions/1500")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var p models.Prediction
	if err := json.Unmarshal(body, &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if p.GameNumber != 1500 || p.PredictedWord != "SLATE" {
		t.Fatalf("got %+v, want game 1500 SLATE", p)
	}

	if resp, _ := ta.get(t, "/api/v1/predictions/9999"); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing game status = %d, want 404", resp.StatusCode)
	}
	if resp, _ := ta.get(t, "/api/v1/predictions/abc"); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("non-numeric game status = %d, want 400", resp.StatusCode)
	}
}

func TestGetHistoryAndCandidates(t *testing.T) {
	t.Parallel()

	ta := newTestApp(t, "the answer is CRANE today", nil)

	for n := 1500; n < 1505; n++ {
		status := models.StatusVerified
		if n%2 == 0 {
			status = models.StatusCandidate
		}
		if err := ta.store.Upsert(&models.Prediction{
			GameNumber:    n,
			Date:          ta.numbering.DateForNumber(n),
			PredictedWord: "SLATE",
			Status:        status,
		}); err != nil {
			t.Fatalf("Upsert() error = %v", err)
		}
	}

	resp, body := ta.get(t, "/api/v1/predictions/history?limit=2")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("history status = %d", resp.StatusCode)
	}
	var history struct {
		Count       int                 `json:"count"`
		Predictions []models.Prediction `json:"predictions"`
	}
	if err := json.Unmarshal(body, &history); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if history.Count != 2 {
		t.Fatalf("history count = %d, want 2 (limit)", history.Count)
	}
	for _, p := range history.Predictions {
		if p.Status != models.StatusVerified {
			t.Fatalf("history contains non-verified prediction %+v", p)
		}
	}

	resp, body = ta.get(t, "/api/v1/predictions/candidates")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("candidates status = %d", resp.StatusCode)
	}
	var candidates struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(body, &candidates); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if candidates.Count != 3 {
		t.Fatalf("candidates count = %d, want 3", candidates.Count)
	}
}

func TestGetCollectionLogs(t *testing.T) {
	t.Parallel()

	ta := newTestApp(t, "the answer is CRANE today", nil)

	if err := ta.store.AppendCollectionLog(&models.CollectionLogEntry{
		ID:            "log-1",
		GameNumber:    1500,
		SourceName:    "alpha",
		CollectedWord: "SLATE",
		Status:        models.CollectionSuccess,
	}); err != nil {
		t.Fatalf("AppendCollectionLog() error = %v", err)
	}

	resp, body := ta.get(t, "/api/v1/predictions/1500/logs")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("logs status = %d", resp.StatusCode)
	}
	var out struct {
		Count int                         `json:"count"`
		Logs  []models.CollectionLogEntry `json:"logs"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Count != 1 || out.Logs[0].SourceName != "alpha" {
		t.Fatalf("logs = %+v, want one alpha entry", out)
	}
}

func TestGetStats(t *testing.T) {
	t.Parallel()

	ta := newTestApp(t, "the answer is CRANE today", nil)

	if err := ta.store.Upsert(&models.Prediction{
		GameNumber: 1500,
		Date:       ta.numbering.DateForNumber(1500),
		Status:     models.StatusVerified,
	}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	resp, body := ta.get(t, "/api/v1/stats")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stats status = %d", resp.StatusCode)
	}
	var stats models.Stats
	if err := json.Unmarshal(body, &stats); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if stats.Total != 1 || stats.Verified != 1 {
		t.Fatalf("stats = %+v, want total 1 verified 1", stats)
	}
}

func TestAdminBackfillRejectsBadRequests(t *testing.T) {
	t.Parallel()

	ta := newTestApp(t, "the answer is CRANE today", nil)

	resp, _ := ta.post(t, "/api/v1/admin/backfill", "not json")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("malformed body status = %d, want 400", resp.StatusCode)
	}

	resp, _ = ta.post(t, "/api/v1/admin/backfill", `{"start_game_number":10,"end_game_number":5}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("descending range status = %d, want 400", resp.StatusCode)
	}
}

func TestAdminBackfillProcessesRange(t *testing.T) {
	t.Parallel()

	ta := newTestApp(t, "the answer is SLATE today", nil)

	resp, body := ta.post(t, "/api/v1/admin/backfill", `{"start_game_number":1501,"end_game_number":1502}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("backfill status = %d, body %s", resp.StatusCode, body)
	}

	for n := 1501; n <= 1502; n++ {
		p, err := ta.store.GetByGameNumber(n)
		if err != nil || p == nil {
			t.Fatalf("GetByGameNumber(%d) = %v, %v, want stored prediction", n, p, err)
		}
		if p.PredictedWord != "SLATE" {
			t.Fatalf("game %d word = %q, want SLATE", n, p.PredictedWord)
		}
	}
}

func TestAdminRoutesAreRateLimited(t *testing.T) {
	t.Parallel()

	limiter := ratelimit.New(2)
	t.Cleanup(limiter.Stop)

	ta := newTestApp(t, "the answer is CRANE today", limiter)

	for i := 0; i < 2; i++ {
		resp, _ := ta.post(t, "/api/v1/admin/scheduler/start", "")
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("request %d status = %d, want 200", i+1, resp.StatusCode)
		}
	}
	resp, _ := ta.post(t, "/api/v1/admin/scheduler/start", "")
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("throttled request status = %d, want 429", resp.StatusCode)
	}

	// Public routes are not throttled by the admin limiter.
	if resp, _ := ta.get(t, "/api/v1/stats"); resp.StatusCode != http.StatusOK {
		t.Fatalf("public route status = %d, want 200", resp.StatusCode)
	}

	ta.post(t, "/api/v1/admin/scheduler/stop", "")
}
