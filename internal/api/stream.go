package api

import (
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/riskradar/riskradar/internal/metrics"
	"github.com/riskradar/riskradar/internal/stream"
)

const heartbeatInterval = 15 * time.Second

// streamSnapshots serves a hub over SSE. Every published snapshot arrives as
// one "data:" event carrying the full JSON payload; a comment line keeps
// idle connections alive through proxies.
func (s *Server) streamSnapshots(hub *stream.Hub, channel string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if hub == nil {
			writeError(w, http.StatusServiceUnavailable, "stream unavailable")
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			writeError(w, http.StatusInternalServerError, "streaming unsupported")
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		sub := hub.Subscribe()
		defer sub.Close()
		metrics.SetStreamSubscribers(channel, hub.SubscriberCount())
		defer func() { metrics.SetStreamSubscribers(channel, hub.SubscriberCount()) }()

		s.logger.Debug("stream subscriber connected",
			zap.String("channel", channel), zap.String("subscriber", sub.ID))

		heartbeat := time.NewTicker(heartbeatInterval)
		defer heartbeat.Stop()
		for {
			select {
			case <-r.Context().Done():
				return
			case <-heartbeat.C:
				if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
					return
				}
				flusher.Flush()
			case payload, open := <-sub.Events():
				if !open {
					return
				}
				if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
					return
				}
				flusher.Flush()
			}
		}
	}
}
