package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/riskradar/riskradar/internal/archive"
	"github.com/riskradar/riskradar/internal/feed"
	"github.com/riskradar/riskradar/internal/risk"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

// stubAnnotator records which topics it saw and returns canned annotations.
type stubAnnotator struct {
	mu     sync.Mutex
	seen   []string
	bySent map[string]float64
}

func (s *stubAnnotator) Annotate(_ context.Context, topic string, _ string) (feed.Annotation, []feed.Post) {
	s.mu.Lock()
	s.seen = append(s.seen, topic)
	s.mu.Unlock()
	sent := -0.5
	if s.bySent != nil {
		if v, ok := s.bySent[topic]; ok {
			sent = v
		}
	}
	ann := feed.Annotation{Sentiment: sent, Region: "Beijing", Category: "society", Source: "heuristic"}
	return ann, []feed.Post{{ID: "p-" + topic, Text: "about " + topic}}
}

func newStore(t *testing.T) archive.Store {
	t.Helper()
	s, err := archive.NewFSStore(t.TempDir(), zaptest.NewLogger(t))
	require.NoError(t, err)
	return s
}

func seedDay(t *testing.T, store archive.Store, date string, names ...string) {
	t.Helper()
	items := make([]feed.HotItem, 0, len(names))
	for i, name := range names {
		items = append(items, feed.HotItem{Rank: i + 1, Name: name, Hot: float64(1000 * (len(names) - i))})
	}
	_, err := store.Merge(date, feed.HourlySnapshot{Date: date, Hour: 9, Items: items})
	require.NoError(t, err)
}

func newScheduler(store archive.Store, ann Annotator, now time.Time, cfg Config, onComplete func(string), t *testing.T) *Scheduler {
	t.Helper()
	return NewScheduler(store, ann, risk.NewEngine(risk.Weights{}), fixedClock{now}, cfg, onComplete, zaptest.NewLogger(t))
}

func TestRunDailyAnnotatesAndMarks(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	seedDay(t, store, "2025-11-18", "TopicA", "TopicB")
	now := time.Date(2025, 11, 18, 9, 30, 0, 0, time.UTC)
	ann := &stubAnnotator{}
	var completed atomic.Value
	s := newScheduler(store, ann, now, Config{}, func(date string) { completed.Store(date) }, t)

	require.NoError(t, s.RunDaily(context.Background(), "2025-11-18"))

	arch, err := store.Load("2025-11-18")
	require.NoError(t, err)
	for _, name := range []string{"TopicA", "TopicB"} {
		rec := arch.Topics[name]
		require.NotNil(t, rec)
		assert.True(t, rec.Annotated)
		require.NotNil(t, rec.AnnotatedAt)
		assert.Equal(t, "society", rec.Category)
		assert.Equal(t, "Beijing", rec.Region)
		assert.NotZero(t, rec.RiskScore)
		assert.NotEmpty(t, rec.RiskBand)
		assert.Len(t, rec.Posts, 1)
	}
	assert.True(t, store.IsDailyProcessed("2025-11-18"))
	assert.Equal(t, "2025-11-18", completed.Load())
}

func TestRunDailyRecordsPassMetrics(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	seedDay(t, store, "2025-11-19", "TopicA")
	now := time.Date(2025, 11, 19, 9, 30, 0, 0, time.UTC)
	s := newScheduler(store, &stubAnnotator{}, now, Config{}, nil, t)

	require.NoError(t, s.RunDaily(context.Background(), "2025-11-19"))

	passes, err := testutil.GatherAndCount(prometheus.DefaultGatherer, "riskradar_daily_passes_total")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, passes, 1)
	annotated, err := testutil.GatherAndCount(prometheus.DefaultGatherer, "riskradar_topics_annotated_total")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, annotated, 1)
}

func TestRunDailySkipsProcessedDate(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	seedDay(t, store, "2025-11-18", "TopicA")
	require.NoError(t, store.MarkDailyProcessed("2025-11-18"))

	ann := &stubAnnotator{}
	now := time.Date(2025, 11, 18, 10, 0, 0, 0, time.UTC)
	s := newScheduler(store, ann, now, Config{}, nil, t)

	require.NoError(t, s.RunDaily(context.Background(), "2025-11-18"))
	assert.Empty(t, ann.seen)
}

func TestRunDailyMissingArchiveDoesNotMark(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	ann := &stubAnnotator{}
	now := time.Date(2025, 11, 18, 10, 0, 0, 0, time.UTC)
	s := newScheduler(store, ann, now, Config{}, nil, t)

	require.NoError(t, s.RunDaily(context.Background(), "2025-11-18"))
	assert.False(t, store.IsDailyProcessed("2025-11-18"))
	assert.Empty(t, ann.seen)

	// An archive appears later: the same date can still be processed.
	seedDay(t, store, "2025-11-18", "TopicA")
	require.NoError(t, s.RunDaily(context.Background(), "2025-11-18"))
	assert.True(t, store.IsDailyProcessed("2025-11-18"))
	assert.Equal(t, []string{"TopicA"}, ann.seen)
}

func TestRunDailyResumesAfterRestart(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	seedDay(t, store, "2025-11-18", "TopicA", "TopicB", "TopicC")
	now := time.Date(2025, 11, 18, 9, 30, 0, 0, time.UTC)

	// Simulate a pass that annotated one topic and crashed before marking.
	at := now.Add(-time.Hour)
	require.NoError(t, store.UpdateTopic("2025-11-18", "TopicA", func(rec *feed.TopicRecord) {
		rec.Annotated = true
		rec.AnnotatedAt = &at
	}))

	ann := &stubAnnotator{}
	s := newScheduler(store, ann, now, Config{}, nil, t)
	require.NoError(t, s.RunDaily(context.Background(), "2025-11-18"))

	assert.ElementsMatch(t, []string{"TopicB", "TopicC"}, ann.seen)
	assert.True(t, store.IsDailyProcessed("2025-11-18"))
}

func TestRunDailyTopKCapsByPeakHot(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	// seedDay assigns descending hot values in name order.
	seedDay(t, store, "2025-11-18", "Hottest", "Middle", "Coldest")
	now := time.Date(2025, 11, 18, 9, 30, 0, 0, time.UTC)
	ann := &stubAnnotator{}
	s := newScheduler(store, ann, now, Config{TopK: 2}, nil, t)

	require.NoError(t, s.RunDaily(context.Background(), "2025-11-18"))
	assert.ElementsMatch(t, []string{"Hottest", "Middle"}, ann.seen)

	arch, err := store.Load("2025-11-18")
	require.NoError(t, err)
	assert.False(t, arch.Topics["Coldest"].Annotated)
	assert.True(t, store.IsDailyProcessed("2025-11-18"))
}

func TestRunDailyRejectsBadDate(t *testing.T) {
	t.Parallel()

	s := newScheduler(newStore(t), &stubAnnotator{}, time.Now(), Config{}, nil, t)
	require.Error(t, s.RunDaily(context.Background(), "18-11-2025"))
}

func TestGateCheckBeforeTriggerTime(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	seedDay(t, store, "2025-11-18", "TopicA")
	ann := &stubAnnotator{}
	now := time.Date(2025, 11, 18, 9, 0, 0, 0, time.UTC)
	s := newScheduler(store, ann, now, Config{DailyAt: "09:30"}, nil, t)

	require.NoError(t, s.GateCheck(context.Background()))
	assert.Empty(t, ann.seen)
	assert.False(t, store.IsDailyProcessed("2025-11-18"))
}

func TestGateCheckAfterTriggerTime(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	seedDay(t, store, "2025-11-18", "TopicA")
	ann := &stubAnnotator{}
	now := time.Date(2025, 11, 18, 14, 45, 0, 0, time.UTC)
	s := newScheduler(store, ann, now, Config{DailyAt: "09:30"}, nil, t)

	require.NoError(t, s.GateCheck(context.Background()))
	assert.Equal(t, []string{"TopicA"}, ann.seen)
	assert.True(t, store.IsDailyProcessed("2025-11-18"))

	// The marker makes subsequent checks no-ops.
	require.NoError(t, s.GateCheck(context.Background()))
	assert.Len(t, ann.seen, 1)
}

func TestGateCheckInvalidTriggerTime(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	s := newScheduler(store, &stubAnnotator{}, time.Now(), Config{DailyAt: "quarter past"}, nil, t)
	require.Error(t, s.GateCheck(context.Background()))
}

func TestRunDailyWorkerPoolProcessesAll(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	names := []string{"A", "B", "C", "D", "E", "F", "G", "H"}
	seedDay(t, store, "2025-11-18", names...)
	now := time.Date(2025, 11, 18, 9, 30, 0, 0, time.UTC)
	ann := &stubAnnotator{}
	s := newScheduler(store, ann, now, Config{Workers: 4}, nil, t)

	require.NoError(t, s.RunDaily(context.Background(), "2025-11-18"))
	assert.ElementsMatch(t, names, ann.seen)
}
