// Package pipeline runs the once-daily annotation and scoring pass over a
// date's archive. The pass is marker-guarded: once a date is marked
// processed it is never annotated again, and the marker is only written
// after a pass actually ran over an existing archive.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/riskradar/riskradar/internal/archive"
	"github.com/riskradar/riskradar/internal/feed"
	"github.com/riskradar/riskradar/internal/metrics"
	"github.com/riskradar/riskradar/internal/risk"
)

const (
	defaultWorkers      = 3
	defaultTopicTimeout = 60 * time.Second
)

// Annotator produces an annotation and the posts that informed it.
type Annotator interface {
	Annotate(ctx context.Context, topic string, date string) (feed.Annotation, []feed.Post)
}

// Config tunes a daily pass.
type Config struct {
	// Workers is the annotation pool size (default 3).
	Workers int
	// TopK, when positive, caps a pass to the K hottest unannotated topics
	// by peak hot value. Zero disables the cap.
	TopK int
	// TopicTimeout bounds the annotation of a single topic (default 60s).
	TopicTimeout time.Duration
	// DailyAt is the local wall-clock time ("15:04") the pass becomes due.
	DailyAt string
	// Location is the zone DailyAt is interpreted in.
	Location *time.Location
}

// Scheduler owns the daily pass and its trigger condition.
type Scheduler struct {
	store     archive.Store
	annotator Annotator
	engine    *risk.Engine
	clock     feed.Clock
	logger    *zap.Logger
	cfg       Config

	// onComplete fires after a pass marks its date processed.
	onComplete func(date string)

	mu      sync.Mutex
	running map[string]bool
}

// NewScheduler builds a Scheduler. onComplete may be nil.
func NewScheduler(store archive.Store, annotator Annotator, engine *risk.Engine, clock feed.Clock, cfg Config, onComplete func(date string), logger *zap.Logger) *Scheduler {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.TopicTimeout <= 0 {
		cfg.TopicTimeout = defaultTopicTimeout
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	return &Scheduler{
		store:      store,
		annotator:  annotator,
		engine:     engine,
		clock:      clock,
		logger:     logger,
		cfg:        cfg,
		onComplete: onComplete,
		running:    make(map[string]bool),
	}
}

// GateCheck runs the daily pass for today once the configured trigger time
// has been reached and today is not yet processed. It is cheap to call
// often; a restart after the trigger time still runs the pass.
func (s *Scheduler) GateCheck(ctx context.Context) error {
	now := s.clock.Now().In(s.cfg.Location)
	due, err := s.dueAt(now)
	if err != nil {
		return err
	}
	if now.Before(due) {
		return nil
	}
	date := feed.DateOf(now)
	if s.store.IsDailyProcessed(date) {
		return nil
	}
	return s.RunDaily(ctx, date)
}

func (s *Scheduler) dueAt(now time.Time) (time.Time, error) {
	at := s.cfg.DailyAt
	if at == "" {
		at = "09:30"
	}
	parsed, err := time.Parse("15:04", at)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid daily trigger time %q: %w", at, err)
	}
	return time.Date(now.Year(), now.Month(), now.Day(),
		parsed.Hour(), parsed.Minute(), 0, 0, s.cfg.Location), nil
}

// RunDaily annotates and scores every unannotated topic of date's archive,
// then marks the date processed and fires the completion hook. A processed
// date is a no-op. A date with no archive is skipped without marking so a
// later merge can still create it. Per-topic failures do not abort the
// pass; they are collected and returned after completion.
func (s *Scheduler) RunDaily(ctx context.Context, date string) error {
	if _, err := feed.ParseDate(date); err != nil {
		return err
	}
	if !s.begin(date) {
		s.logger.Info("daily pass already running", zap.String("date", date))
		return nil
	}
	defer s.end(date)

	if s.store.IsDailyProcessed(date) {
		s.logger.Info("daily pass already completed", zap.String("date", date))
		return nil
	}
	arch, err := s.store.Load(date)
	if err != nil {
		if errors.Is(err, archive.ErrNotFound) {
			s.logger.Info("no archive for date yet; daily pass deferred", zap.String("date", date))
			return nil
		}
		return fmt.Errorf("load archive for daily pass: %w", err)
	}

	started := s.clock.Now()
	targets := s.selectTargets(arch)
	s.logger.Info("daily pass starting",
		zap.String("date", date),
		zap.Int("topics", len(targets)),
		zap.Int("workers", s.cfg.Workers))

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		result   *multierror.Error
		failures int
	)
	names := make(chan string)
	for i := 0; i < s.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for name := range names {
				if err := s.processTopic(ctx, arch, date, name); err != nil {
					s.logger.Warn("topic annotation failed",
						zap.String("date", date), zap.String("topic", name), zap.Error(err))
					mu.Lock()
					result = multierror.Append(result, err)
					failures++
					mu.Unlock()
				}
			}
		}()
	}
	for _, name := range targets {
		names <- name
	}
	close(names)
	wg.Wait()

	if err := s.store.MarkDailyProcessed(date); err != nil {
		return fmt.Errorf("mark daily processed: %w", err)
	}
	outcome := "ok"
	if failures > 0 {
		outcome = "partial"
	}
	metrics.ObserveDailyPass(outcome, s.clock.Now().Sub(started))
	s.logger.Info("daily pass completed",
		zap.String("date", date),
		zap.Int("topics", len(targets)),
		zap.Int("failures", failures))
	if s.onComplete != nil {
		s.onComplete(date)
	}
	return result.ErrorOrNil()
}

// selectTargets returns the unannotated topic names of arch, hottest first,
// capped at TopK when the cap is enabled.
func (s *Scheduler) selectTargets(arch *feed.DailyArchive) []string {
	type candidate struct {
		name string
		peak float64
	}
	var candidates []candidate
	for name, rec := range arch.Topics {
		if rec.Annotated {
			continue
		}
		candidates = append(candidates, candidate{name: name, peak: arch.History(name).Peak})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].peak != candidates[j].peak {
			return candidates[i].peak > candidates[j].peak
		}
		return candidates[i].name < candidates[j].name
	})
	if s.cfg.TopK > 0 && len(candidates) > s.cfg.TopK {
		candidates = candidates[:s.cfg.TopK]
	}
	names := make([]string, len(candidates))
	for i, c := range candidates {
		names[i] = c.name
	}
	return names
}

func (s *Scheduler) processTopic(ctx context.Context, arch *feed.DailyArchive, date, name string) error {
	topicCtx, cancel := context.WithTimeout(ctx, s.cfg.TopicTimeout)
	defer cancel()

	ann, posts := s.annotator.Annotate(topicCtx, name, date)
	history := arch.History(name)
	scored := s.engine.Score(feed.TopicRecord{
		Name:      name,
		Sentiment: ann.Sentiment,
		Category:  ann.Category,
	}, history)
	annotatedAt := s.clock.Now()

	err := s.store.UpdateTopic(date, name, func(rec *feed.TopicRecord) {
		rec.Sentiment = ann.Sentiment
		rec.Region = ann.Region
		rec.Category = ann.Category
		rec.Source = ann.Source
		rec.Posts = posts
		rec.RiskDims = scored.Dims
		rec.RiskScore = scored.Score
		rec.RiskBand = scored.Band
		rec.Annotated = true
		at := annotatedAt
		rec.AnnotatedAt = &at
	})
	if err != nil {
		return fmt.Errorf("update topic %q: %w", name, err)
	}
	metrics.ObserveTopicAnnotated(ann.Source)
	return nil
}

func (s *Scheduler) begin(date string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running[date] {
		return false
	}
	s.running[date] = true
	return true
}

func (s *Scheduler) end(date string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, date)
}
