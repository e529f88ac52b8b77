// Package stream fans out full-state snapshots to live subscribers. Each
// publication replaces the previous one: a subscriber that falls behind
// receives the newest snapshot, never a backlog of stale ones.
package stream

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/riskradar/riskradar/internal/metrics"
)

// Config controls buffering for the Hub.
//   - Name: channel label used in metrics (default "stream").
//   - BufferSize: per-subscriber channel capacity (default 8).
//   - Logger: optional structured logger used for warnings.
type Config struct {
	Name       string
	BufferSize int
	Logger     *zap.Logger
}

const (
	defaultName       = "stream"
	defaultBufferSize = 8
	dropLogInterval   = 5 * time.Second
)

// Hub broadcasts JSON snapshots to registered subscribers. It is safe for
// concurrent use and never blocks publishers: when a subscriber's buffer is
// full the oldest queued snapshot is discarded in favor of the newest.
type Hub struct {
	cfg         Config
	logger      *zap.Logger
	dropLimiter rateLimiter
	dropped     atomic.Int64

	mu      sync.Mutex
	subs    map[string]*Subscriber
	current json.RawMessage
	closed  bool
}

// Subscriber is one live consumer of a Hub. Callers read from Events and must
// call Close when done; the channel is closed when the Hub shuts down.
type Subscriber struct {
	ID  string
	ch  chan json.RawMessage
	hub *Hub
}

// Events returns the snapshot channel for this subscriber.
func (s *Subscriber) Events() <-chan json.RawMessage {
	return s.ch
}

// Close detaches the subscriber from its Hub and releases its channel.
func (s *Subscriber) Close() {
	if s == nil || s.hub == nil {
		return
	}
	s.hub.unsubscribe(s.ID)
}

// NewHub initializes a Hub ready to accept subscribers and publications.
func NewHub(cfg Config) *Hub {
	if cfg.Name == "" {
		cfg.Name = defaultName
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	metrics.Init()
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		cfg:         cfg,
		logger:      logger,
		dropLimiter: rateLimiter{interval: dropLogInterval},
		subs:        make(map[string]*Subscriber),
	}
}

// Subscribe registers a new consumer. If a snapshot has already been
// published the subscriber receives it immediately, so late joiners start
// from current state rather than waiting for the next publication.
func (h *Hub) Subscribe() *Subscriber {
	sub := &Subscriber{
		ID:  uuid.NewString(),
		ch:  make(chan json.RawMessage, h.cfg.BufferSize),
		hub: h,
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(sub.ch)
		sub.hub = nil
		return sub
	}
	h.subs[sub.ID] = sub
	if h.current != nil {
		sub.ch <- h.current
	}
	return sub
}

// Publish records payload as the current snapshot and fans it out. It never
// blocks; a subscriber whose buffer is full has its oldest entry evicted so
// the newest snapshot always lands.
func (h *Hub) Publish(payload json.RawMessage) {
	if h == nil || len(payload) == 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.current = payload
	for _, sub := range h.subs {
		h.send(sub, payload)
	}
}

// Current returns the most recently published snapshot, or nil.
func (h *Hub) Current() json.RawMessage {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current
}

// SubscriberCount reports the number of attached subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close detaches all subscribers and closes their channels. Subsequent
// publications and subscriptions are no-ops.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, sub := range h.subs {
		close(sub.ch)
		delete(h.subs, id)
	}
}

func (h *Hub) send(sub *Subscriber, payload json.RawMessage) {
	select {
	case sub.ch <- payload:
		return
	default:
	}
	// Buffer full: evict one stale snapshot, then retry once. The evicted
	// snapshot is lost to this subscriber and counts as a drop.
	select {
	case <-sub.ch:
		h.recordDrop(sub)
	default:
	}
	select {
	case sub.ch <- payload:
	default:
		h.recordDrop(sub)
	}
}

func (h *Hub) recordDrop(sub *Subscriber) {
	h.dropped.Add(1)
	metrics.ObserveStreamDrop(h.cfg.Name)
	if h.dropLimiter.Allow(time.Now()) {
		count := h.dropped.Swap(0)
		h.logger.Warn("stream snapshots dropped for slow subscriber",
			zap.String("channel", h.cfg.Name),
			zap.String("subscriber", sub.ID),
			zap.Int64("dropped", count))
	}
}

func (h *Hub) unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	sub, ok := h.subs[id]
	if !ok {
		return
	}
	delete(h.subs, id)
	close(sub.ch)
}

type rateLimiter struct {
	interval time.Duration
	last     atomic.Int64
}

func (r *rateLimiter) Allow(now time.Time) bool {
	if r == nil || r.interval <= 0 {
		return true
	}
	nano := now.UnixNano()
	last := r.last.Load()
	if nano-last < r.interval.Nanoseconds() {
		return false
	}
	return r.last.CompareAndSwap(last, nano)
}
