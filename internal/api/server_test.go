package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/riskradar/riskradar/internal/alert"
	"github.com/riskradar/riskradar/internal/archive"
	"github.com/riskradar/riskradar/internal/feed"
	"github.com/riskradar/riskradar/internal/stream"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type stubRunner struct {
	mu    sync.Mutex
	dates []string
	err   error
}

func (s *stubRunner) RunDaily(_ context.Context, date string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dates = append(s.dates, date)
	return s.err
}

type fixture struct {
	store      archive.Store
	clock      fixedClock
	runner     *stubRunner
	hotlistHub *stream.Hub
	riskHub    *stream.Hub
	server     *Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := archive.NewFSStore(t.TempDir(), zaptest.NewLogger(t))
	require.NoError(t, err)
	clock := fixedClock{now: time.Date(2025, 11, 18, 12, 0, 0, 0, time.UTC)}
	hotlistHub := stream.NewHub(stream.Config{})
	riskHub := stream.NewHub(stream.Config{})
	t.Cleanup(hotlistHub.Close)
	t.Cleanup(riskHub.Close)
	runner := &stubRunner{}
	alerts := alert.NewService(store, clock, riskHub, alert.Config{}, zaptest.NewLogger(t))
	srv := NewServer(store, alerts, hotlistHub, riskHub, runner, clock, zaptest.NewLogger(t))
	return &fixture{
		store:      store,
		clock:      clock,
		runner:     runner,
		hotlistHub: hotlistHub,
		riskHub:    riskHub,
		server:     srv,
	}
}

func (f *fixture) seed(t *testing.T, date, name string, hour int, hot float64) {
	t.Helper()
	_, err := f.store.Merge(date, feed.HourlySnapshot{
		Date:  date,
		Hour:  hour,
		Items: []feed.HotItem{{Rank: 1, Name: name, Hot: hot}},
	})
	require.NoError(t, err)
}

func (f *fixture) annotate(t *testing.T, date, name, category string, score float64) {
	t.Helper()
	at := f.clock.now.Add(-time.Hour)
	require.NoError(t, f.store.UpdateTopic(date, name, func(rec *feed.TopicRecord) {
		rec.Annotated = true
		rec.AnnotatedAt = &at
		rec.Category = category
		rec.Region = "Beijing"
		rec.Sentiment = -0.4
		rec.RiskScore = score
		rec.RiskBand = feed.BandHigh
	}))
}

func (f *fixture) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	rec := f.get(t, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = f.get(t, "/readyz")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestDaily30(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.seed(t, "2025-11-18", "TopicA", 9, 5000)
	f.annotate(t, "2025-11-18", "TopicA", "society", 61)

	rec := f.get(t, "/api/daily30")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	data := body["data"].([]any)
	require.Len(t, data, 30)

	last := data[29].(map[string]any)
	assert.Equal(t, "2025-11-18", last["date"])
	assert.Equal(t, 5000.0, last["heat"])
	assert.Equal(t, 61.0, last["risk"])

	first := data[0].(map[string]any)
	assert.Equal(t, 0.0, first["heat"])
}

func TestHotlistCurrentFromHub(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.hotlistHub.Publish(json.RawMessage(`{"date":"2025-11-18","hour":11,"items":[]}`))

	rec := f.get(t, "/api/hotlist/current")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, 11.0, body["hour"])
}

func TestHotlistCurrentFallsBackToArchive(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.seed(t, "2025-11-18", "TopicA", 9, 5000)
	f.seed(t, "2025-11-18", "TopicB", 10, 7000)

	rec := f.get(t, "/api/hotlist/current")
	require.Equal(t, http.StatusOK, rec.Code)
	var snap feed.HourlySnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, 10, snap.Hour)
	require.Len(t, snap.Items, 1)
	assert.Equal(t, "TopicB", snap.Items[0].Name)
}

func TestRiskLatest(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.seed(t, "2025-11-18", "TopicA", 9, 5000)
	f.annotate(t, "2025-11-18", "TopicA", "society", 61)

	rec := f.get(t, "/api/risk/latest")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	warnings := body["warnings"].([]any)
	require.Len(t, warnings, 1)
	w := warnings[0].(map[string]any)
	assert.Equal(t, "TopicA", w["name"])
	assert.Equal(t, 1.0, w["rank"])
}

func TestRiskLatestEmpty(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	rec := f.get(t, "/api/risk/latest")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Empty(t, body["warnings"])
}

func TestEventDetail(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.seed(t, "2025-11-18", "TopicA", 9, 5000)
	f.annotate(t, "2025-11-18", "TopicA", "society", 61)

	rec := f.get(t, "/api/events/2025-11-18/TopicA")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	event := body["event"].(map[string]any)
	assert.Equal(t, "TopicA", event["name"])
	assert.Equal(t, 61.0, event["risk_score"])

	rec = f.get(t, "/api/events/2025-11-18/Nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.get(t, "/api/events/not-a-date/TopicA")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.get(t, "/api/events/2025-11-01/TopicA")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCentralDataDeduplicates(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.seed(t, "2025-11-18", "TopicA", 9, 5000)
	f.annotate(t, "2025-11-18", "TopicA", "society", 61)
	f.seed(t, "2025-11-17", "TopicA", 9, 3000)
	f.annotate(t, "2025-11-17", "TopicA", "society", 40)
	f.seed(t, "2025-11-17", "TopicB", 10, 2000)
	f.annotate(t, "2025-11-17", "TopicB", "finance", 30)
	// Unannotated topics never appear.
	f.seed(t, "2025-11-18", "Pending", 11, 9000)

	rec := f.get(t, "/api/central?range=week")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	data := body["data"].([]any)
	require.Len(t, data, 2)

	top := data[0].(map[string]any)
	assert.Equal(t, "TopicA", top["name"])
	assert.Equal(t, "2025-11-18", top["date"])
	assert.Equal(t, 61.0, top["risk_score"])

	rec = f.get(t, "/api/central?range=decade")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthEndpoints(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.seed(t, "2025-11-18", "Flu Outbreak", 9, 8000)
	f.annotate(t, "2025-11-18", "Flu Outbreak", "health", 55)
	f.seed(t, "2025-11-18", "TopicB", 9, 2000)
	f.annotate(t, "2025-11-18", "TopicB", "finance", 20)

	rec := f.get(t, "/api/health/dates")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, []any{"2025-11-18"}, body["dates"])

	rec = f.get(t, "/api/health/timeline")
	require.Equal(t, http.StatusOK, rec.Code)
	body = decodeBody(t, rec)
	events := body["events"].([]any)
	require.Len(t, events, 1)
	ev := events[0].(map[string]any)
	assert.Equal(t, "Flu Outbreak", ev["name"])
	summary := body["summary"].(map[string]any)
	assert.Equal(t, 1.0, summary["total_events"])

	slug := ev["slug"].(string)
	rec = f.get(t, "/api/health/events/"+slug)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.get(t, "/api/health/events/no-such-slug")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.get(t, "/api/health/timeline?hours=bogus")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRunDailyEndpoint(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	req := httptest.NewRequest(http.MethodPost, "/api/admin/run_daily?date=2025-11-17", nil)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"2025-11-17"}, f.runner.dates)

	// Date defaults to today.
	req = httptest.NewRequest(http.MethodPost, "/api/admin/run_daily", nil)
	rec = httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2025-11-18", f.runner.dates[1])

	req = httptest.NewRequest(http.MethodPost, "/api/admin/run_daily?date=17-11-2025", nil)
	rec = httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStreamHotlistSSE(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.hotlistHub.Publish(json.RawMessage(`{"hour":9}`))

	srv := httptest.NewServer(f.server.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/stream/hotlist", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(line, "data: "))
	assert.Contains(t, line, `"hour":9`)
}
