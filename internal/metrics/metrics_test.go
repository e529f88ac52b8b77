package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInit(t *testing.T) {
	// Reset collectors for testing purposes.
	hotlistFetchesTotal = nil
	dailyPassesTotal = nil
	httpRequestsTotal = nil
	httpRequestDurationSeconds = nil

	// Call Init multiple times to test idempotency.
	Init()
	Init()

	if hotlistFetchesTotal == nil || dailyPassesTotal == nil ||
		httpRequestsTotal == nil || httpRequestDurationSeconds == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}

	// A simple check to see if a metric can be used.
	ObserveHotListFetch("ok")
	if val := testutil.ToFloat64(hotlistFetchesTotal.WithLabelValues("ok")); val != 1 {
		t.Errorf("Expected hotlistFetchesTotal{ok} to be 1, got %f", val)
	}
}

func TestObservers(t *testing.T) {
	Init()

	ObserveHourMerged()
	if val := testutil.ToFloat64(hoursMergedTotal); val < 1 {
		t.Errorf("Expected hoursMergedTotal >= 1, got %f", val)
	}

	ObserveTopicAnnotated("classifier")
	if val := testutil.ToFloat64(topicsAnnotatedTotal.WithLabelValues("classifier")); val != 1 {
		t.Errorf("Expected topicsAnnotatedTotal{classifier} to be 1, got %f", val)
	}

	ObserveDailyPass("ok", 2*time.Second)
	if val := testutil.ToFloat64(dailyPassesTotal.WithLabelValues("ok")); val != 1 {
		t.Errorf("Expected dailyPassesTotal{ok} to be 1, got %f", val)
	}

	SetStreamSubscribers("hotlist", 3)
	if val := testutil.ToFloat64(streamSubscribers.WithLabelValues("hotlist")); val != 3 {
		t.Errorf("Expected streamSubscribers{hotlist} to be 3, got %f", val)
	}

	ObserveStreamDrop("risk")
	if val := testutil.ToFloat64(streamDropsTotal.WithLabelValues("risk")); val != 1 {
		t.Errorf("Expected streamDropsTotal{risk} to be 1, got %f", val)
	}
}
