// Package archive persists per-date daily archives and their processed
// markers on the local filesystem.
package archive

import (
	"errors"

	"github.com/riskradar/riskradar/internal/feed"
)

// ErrNotFound indicates no archive exists for the requested date.
var ErrNotFound = errors.New("archive not found")

// ErrCorrupt indicates the archive file for a date exists but cannot be
// decoded.
var ErrCorrupt = errors.New("archive corrupt")

// Store is the durable record of daily archives. Implementations must
// serialize writers of the same date and must never let writers of different
// dates block each other.
type Store interface {
	// Load returns the archive for date, or ErrNotFound / ErrCorrupt.
	Load(date string) (*feed.DailyArchive, error)
	// Merge folds an hourly snapshot into date's archive, creating the
	// archive on first merge. Re-merging an hour already present is a no-op.
	Merge(date string, snap feed.HourlySnapshot) (*feed.DailyArchive, error)
	// Save atomically persists the archive.
	Save(a *feed.DailyArchive) error
	// UpdateTopic applies mutate to one topic record under the date lock and
	// persists the result. The record must already exist.
	UpdateTopic(date, name string, mutate func(*feed.TopicRecord)) error
	// MarkDailyProcessed records that the daily pipeline completed for date.
	MarkDailyProcessed(date string) error
	// IsDailyProcessed reports whether the daily pipeline completed for date.
	IsDailyProcessed(date string) bool
	// Dates lists all dates with a persisted archive, ascending.
	Dates() ([]string, error)
}
