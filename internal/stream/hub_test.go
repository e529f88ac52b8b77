package stream

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func payload(s string) json.RawMessage { return json.RawMessage(s) }

func TestSubscribeReceivesCurrentSnapshot(t *testing.T) {
	t.Parallel()

	h := NewHub(Config{})
	h.Publish(payload(`{"v":1}`))

	sub := h.Subscribe()
	defer sub.Close()

	select {
	case got := <-sub.Events():
		assert.JSONEq(t, `{"v":1}`, string(got))
	case <-time.After(time.Second):
		t.Fatal("expected immediate snapshot for late joiner")
	}
}

func TestSubscribeBeforeFirstPublish(t *testing.T) {
	t.Parallel()

	h := NewHub(Config{})
	sub := h.Subscribe()
	defer sub.Close()

	select {
	case <-sub.Events():
		t.Fatal("no snapshot should be delivered before first publish")
	default:
	}

	h.Publish(payload(`{"v":2}`))
	select {
	case got := <-sub.Events():
		assert.JSONEq(t, `{"v":2}`, string(got))
	case <-time.After(time.Second):
		t.Fatal("expected published snapshot")
	}
}

func TestPublishFanout(t *testing.T) {
	t.Parallel()

	h := NewHub(Config{})
	a := h.Subscribe()
	b := h.Subscribe()
	defer a.Close()
	defer b.Close()

	h.Publish(payload(`{"v":3}`))
	for _, sub := range []*Subscriber{a, b} {
		select {
		case got := <-sub.Events():
			assert.JSONEq(t, `{"v":3}`, string(got))
		case <-time.After(time.Second):
			t.Fatal("fanout did not reach subscriber")
		}
	}
}

func TestSlowSubscriberGetsLatest(t *testing.T) {
	t.Parallel()

	h := NewHub(Config{BufferSize: 1})
	sub := h.Subscribe()
	defer sub.Close()

	for i := 0; i < 10; i++ {
		h.Publish(payload(`{"v":` + string(rune('0'+i)) + `}`))
	}
	h.Publish(payload(`{"v":99}`))

	var last json.RawMessage
	for {
		select {
		case got := <-sub.Events():
			last = got
			continue
		default:
		}
		break
	}
	assert.JSONEq(t, `{"v":99}`, string(last))
}

func TestSlowSubscriberDropsAreCounted(t *testing.T) {
	t.Parallel()

	h := NewHub(Config{Name: "droptest", BufferSize: 1})
	sub := h.Subscribe()
	defer sub.Close()

	h.Publish(payload(`{"v":1}`))
	h.Publish(payload(`{"v":2}`))
	h.Publish(payload(`{"v":3}`))

	// The first drop is logged and swaps the counter to zero; the second
	// lands within the rate-limit window and stays pending.
	assert.Equal(t, int64(1), h.dropped.Load())
	series, err := testutil.GatherAndCount(prometheus.DefaultGatherer, "riskradar_stream_drops_total")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, series, 1)
}

func TestPublishNeverBlocks(t *testing.T) {
	t.Parallel()

	h := NewHub(Config{BufferSize: 1})
	sub := h.Subscribe()
	defer sub.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			h.Publish(payload(`{"v":1}`))
		}
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publisher blocked on slow subscriber")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	t.Parallel()

	h := NewHub(Config{})
	sub := h.Subscribe()
	require.Equal(t, 1, h.SubscriberCount())

	sub.Close()
	assert.Equal(t, 0, h.SubscriberCount())

	_, open := <-sub.Events()
	assert.False(t, open)
}

func TestCloseClosesSubscriberChannels(t *testing.T) {
	t.Parallel()

	h := NewHub(Config{})
	sub := h.Subscribe()
	h.Close()

	_, open := <-sub.Events()
	assert.False(t, open)

	// After shutdown everything is a no-op.
	h.Publish(payload(`{"v":1}`))
	late := h.Subscribe()
	_, open = <-late.Events()
	assert.False(t, open)
}

func TestCurrent(t *testing.T) {
	t.Parallel()

	h := NewHub(Config{})
	assert.Nil(t, h.Current())
	h.Publish(payload(`{"v":7}`))
	assert.JSONEq(t, `{"v":7}`, string(h.Current()))
}
