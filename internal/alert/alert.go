// Package alert derives the rolling high-risk leaderboard from persisted
// daily archives and pushes it to live subscribers.
package alert

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/riskradar/riskradar/internal/archive"
	"github.com/riskradar/riskradar/internal/feed"
	"github.com/riskradar/riskradar/internal/stream"
)

const (
	defaultWindowDays = 7
	defaultTopK       = 5
)

// Config tunes the leaderboard window. Zero values take the defaults of a
// seven day window and five entries.
type Config struct {
	WindowDays int
	TopK       int
}

// Service computes rolling risk warnings over recent archives.
type Service struct {
	store  archive.Store
	clock  feed.Clock
	hub    *stream.Hub
	logger *zap.Logger
	cfg    Config
}

// NewService builds a Service. hub may be nil when no live push is wanted.
func NewService(store archive.Store, clock feed.Clock, hub *stream.Hub, cfg Config, logger *zap.Logger) *Service {
	if cfg.WindowDays <= 0 {
		cfg.WindowDays = defaultWindowDays
	}
	if cfg.TopK <= 0 {
		cfg.TopK = defaultTopK
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, clock: clock, hub: hub, logger: logger, cfg: cfg}
}

// Top returns the ranked warnings for the window ending today. Every
// annotated topic of every day in the window is a candidate; a topic hot on
// several days contributes one candidate per day. Days without an archive
// are skipped.
func (s *Service) Top() ([]feed.RiskWarning, error) {
	now := s.clock.Now()
	end := feed.DateOf(now)
	start := feed.DateOf(now.AddDate(0, 0, -(s.cfg.WindowDays - 1)))

	var candidates []feed.RiskWarning
	for i := 0; i < s.cfg.WindowDays; i++ {
		date := feed.DateOf(now.AddDate(0, 0, -i))
		a, err := s.store.Load(date)
		if err != nil {
			if errors.Is(err, archive.ErrNotFound) {
				continue
			}
			if errors.Is(err, archive.ErrCorrupt) {
				s.logger.Warn("skipping corrupt archive in risk window", zap.String("date", date))
				continue
			}
			return nil, fmt.Errorf("load archive %s: %w", date, err)
		}
		for _, topic := range a.Topics {
			if !topic.Annotated {
				continue
			}
			w := feed.RiskWarning{
				Name:        topic.Name,
				Date:        date,
				RiskScore:   topic.RiskScore,
				RiskBand:    topic.RiskBand,
				RiskDims:    topic.RiskDims,
				WindowStart: start,
				WindowEnd:   end,
			}
			if topic.AnnotatedAt != nil {
				w.AnnotatedAt = *topic.AnnotatedAt
			}
			candidates = append(candidates, w)
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.RiskScore != b.RiskScore {
			return a.RiskScore > b.RiskScore
		}
		if !a.AnnotatedAt.Equal(b.AnnotatedAt) {
			return a.AnnotatedAt.After(b.AnnotatedAt)
		}
		return a.Name < b.Name
	})
	if len(candidates) > s.cfg.TopK {
		candidates = candidates[:s.cfg.TopK]
	}
	for i := range candidates {
		candidates[i].Rank = i + 1
	}
	return candidates, nil
}

// Envelope is the wire form of a leaderboard push.
type Envelope struct {
	GeneratedAt time.Time          `json:"generated_at"`
	WindowStart string             `json:"window_start"`
	WindowEnd   string             `json:"window_end"`
	Warnings    []feed.RiskWarning `json:"warnings"`
}

// Publish recomputes the leaderboard and pushes the full snapshot to the
// risk stream. Subscribers always receive the complete current list.
func (s *Service) Publish() error {
	warnings, err := s.Top()
	if err != nil {
		return err
	}
	if s.hub == nil {
		return nil
	}
	now := s.clock.Now()
	env := Envelope{
		GeneratedAt: now,
		WindowStart: feed.DateOf(now.AddDate(0, 0, -(s.cfg.WindowDays - 1))),
		WindowEnd:   feed.DateOf(now),
		Warnings:    warnings,
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal risk snapshot: %w", err)
	}
	s.hub.Publish(payload)
	s.logger.Info("published risk leaderboard",
		zap.Int("warnings", len(warnings)),
		zap.String("window_end", env.WindowEnd))
	return nil
}
