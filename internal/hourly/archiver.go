// Package hourly backfills daily archives from the upstream hot list. Every
// tick it scans for hours that have elapsed but were never merged, covering
// both the current day and a short lookback window so restarts and upstream
// gaps heal themselves.
package hourly

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/riskradar/riskradar/internal/archive"
	"github.com/riskradar/riskradar/internal/feed"
	"github.com/riskradar/riskradar/internal/metrics"
	"github.com/riskradar/riskradar/internal/source"
	"github.com/riskradar/riskradar/internal/stream"
)

const defaultLookbackDays = 1

// Config tunes the archiver scan.
type Config struct {
	// LookbackDays is how many previous days are scanned for missed hours
	// in addition to the current day (default 1).
	LookbackDays int
	// Location is the zone the hour arithmetic runs in.
	Location *time.Location
}

// Archiver merges hourly hot-list snapshots into daily archives.
type Archiver struct {
	src    feed.HotListSource
	store  archive.Store
	clock  feed.Clock
	hub    *stream.Hub
	logger *zap.Logger
	cfg    Config
}

// NewArchiver builds an Archiver. hub may be nil when no live push is wanted.
func NewArchiver(src feed.HotListSource, store archive.Store, clock feed.Clock, hub *stream.Hub, cfg Config, logger *zap.Logger) *Archiver {
	if cfg.LookbackDays < 0 {
		cfg.LookbackDays = defaultLookbackDays
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	return &Archiver{src: src, store: store, clock: clock, hub: hub, logger: logger, cfg: cfg}
}

// pendingHour identifies one hour that has elapsed but is absent from its
// date's archive.
type pendingHour struct {
	date string
	hour int
}

// RunTick scans for pending hours and merges whatever the upstream can
// serve. Failures are logged and left pending for the next tick; a merged
// current-day hour is pushed to the hot-list stream.
func (a *Archiver) RunTick(ctx context.Context) error {
	now := a.clock.Now().In(a.cfg.Location)
	pending := a.collectPendingHours(now)
	if len(pending) == 0 {
		return nil
	}
	a.logger.Debug("hourly scan found pending hours", zap.Int("count", len(pending)))

	today := feed.DateOf(now)
	var latest *feed.HourlySnapshot
	merged := 0
	for _, p := range pending {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("hourly tick interrupted: %w", err)
		}
		snap, err := a.src.FetchHour(ctx, p.date, p.hour)
		if err != nil {
			if errors.Is(err, source.ErrHourUnavailable) {
				metrics.ObserveHotListFetch("unavailable")
				a.logger.Debug("hour not yet published upstream",
					zap.String("date", p.date), zap.Int("hour", p.hour))
			} else {
				metrics.ObserveHotListFetch("error")
				a.logger.Warn("hot list fetch failed; will retry next tick",
					zap.String("date", p.date), zap.Int("hour", p.hour), zap.Error(err))
			}
			continue
		}
		metrics.ObserveHotListFetch("ok")
		if len(snap.Items) == 0 {
			a.logger.Warn("skipping empty hot list snapshot",
				zap.String("date", p.date), zap.Int("hour", p.hour))
			continue
		}
		if _, err := a.store.Merge(p.date, snap); err != nil {
			a.logger.Warn("archive merge failed; will retry next tick",
				zap.String("date", p.date), zap.Int("hour", p.hour), zap.Error(err))
			continue
		}
		merged++
		metrics.ObserveHourMerged()
		if p.date == today && (latest == nil || snap.Hour > latest.Hour) {
			s := snap
			latest = &s
		}
	}
	if merged > 0 {
		a.logger.Info("hourly snapshots merged", zap.Int("merged", merged), zap.Int("pending", len(pending)))
	}
	if latest != nil {
		a.publish(*latest)
	}
	return nil
}

// collectPendingHours lists every elapsed hour missing from its archive,
// oldest first, across the lookback window ending now.
func (a *Archiver) collectPendingHours(now time.Time) []pendingHour {
	var pending []pendingHour
	for offset := a.cfg.LookbackDays; offset >= 0; offset-- {
		day := now.AddDate(0, 0, -offset)
		date := feed.DateOf(day)
		maxHour := 23
		if offset == 0 {
			maxHour = now.Hour()
		}
		existing, err := a.store.Load(date)
		switch {
		case err == nil:
		case errors.Is(err, archive.ErrNotFound):
		case errors.Is(err, archive.ErrCorrupt):
			// Treat the date as empty; the merge quarantines the bad file
			// and rebuilds from upstream.
			a.logger.Warn("archive unreadable; re-collecting the day",
				zap.String("date", date), zap.Error(err))
			existing = nil
		default:
			a.logger.Warn("cannot read archive during scan", zap.String("date", date), zap.Error(err))
			continue
		}
		for hour := 0; hour <= maxHour; hour++ {
			if existing != nil && existing.HasHour(hour) {
				continue
			}
			pending = append(pending, pendingHour{date: date, hour: hour})
		}
	}
	return pending
}

func (a *Archiver) publish(snap feed.HourlySnapshot) {
	if a.hub == nil {
		return
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		a.logger.Warn("cannot marshal hot list snapshot", zap.Error(err))
		return
	}
	a.hub.Publish(payload)
}
