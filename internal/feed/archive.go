package feed

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// DailyArchive is the durable per-date record. HourList grows monotonically
// within a day; once an hour is present its hot values are never overwritten.
type DailyArchive struct {
	Date      string                     `json:"date"`
	HourList  []int                      `json:"hour_list"`
	HotValues map[string]map[int]float64 `json:"hot_values"`
	Topics    map[string]*TopicRecord    `json:"topics"`
}

// NewDailyArchive returns an empty archive for the given date.
func NewDailyArchive(date string) *DailyArchive {
	return &DailyArchive{
		Date:      date,
		HourList:  []int{},
		HotValues: map[string]map[int]float64{},
		Topics:    map[string]*TopicRecord{},
	}
}

// HasHour reports whether the given hour has already been merged.
func (a *DailyArchive) HasHour(hour int) bool {
	for _, h := range a.HourList {
		if h == hour {
			return true
		}
	}
	return false
}

// Merge folds an hourly snapshot into the archive. Re-merging an hour that is
// already in HourList is a no-op, which makes the operation idempotent.
// It reports whether the archive changed.
func (a *DailyArchive) Merge(snap HourlySnapshot) (bool, error) {
	if snap.Date != a.Date {
		return false, fmt.Errorf("snapshot date %q does not match archive date %q", snap.Date, a.Date)
	}
	if snap.Hour < 0 || snap.Hour > 23 {
		return false, fmt.Errorf("snapshot hour %d out of range", snap.Hour)
	}
	if a.HasHour(snap.Hour) {
		return false, nil
	}
	seen := hourTimestamp(a.Date, snap.Hour)
	for _, item := range snap.Items {
		name := strings.TrimSpace(item.Name)
		if name == "" {
			continue
		}
		hours := a.HotValues[name]
		if hours == nil {
			hours = map[int]float64{}
			a.HotValues[name] = hours
		}
		hours[snap.Hour] = item.Hot

		rec := a.Topics[name]
		if rec == nil {
			rec = &TopicRecord{
				Name:      name,
				Slug:      Slugify(name),
				FirstSeen: seen,
			}
			a.Topics[name] = rec
		}
		if rec.FirstSeen == "" || seen < rec.FirstSeen {
			rec.FirstSeen = seen
		}
		if seen > rec.LastSeen {
			rec.LastSeen = seen
		}
	}
	a.HourList = append(a.HourList, snap.Hour)
	sort.Ints(a.HourList)
	return true, nil
}

// History summarizes the hot-value trajectory of one topic plus the day-wide
// maximum, in the shape the risk engine consumes.
func (a *DailyArchive) History(name string) HotHistory {
	h := HotHistory{
		First: firstHot(a.HotValues[name]),
		Peak:  peakHot(a.HotValues[name]),
	}
	for _, hours := range a.HotValues {
		if p := peakHot(hours); p > h.DayMax {
			h.DayMax = p
		}
	}
	return h
}

// LatestHot returns the topic's hot value at its most recent merged hour.
func (a *DailyArchive) LatestHot(name string) float64 {
	hours := a.HotValues[name]
	if len(hours) == 0 {
		return 0
	}
	latest := -1
	for h := range hours {
		if h > latest {
			latest = h
		}
	}
	return hours[latest]
}

// HeatTotal sums the latest hot value of every topic in the archive.
func (a *DailyArchive) HeatTotal() float64 {
	var total float64
	for name := range a.Topics {
		total += a.LatestHot(name)
	}
	return total
}

// RiskTotal sums the risk scores of every annotated topic.
func (a *DailyArchive) RiskTotal() float64 {
	var total float64
	for _, rec := range a.Topics {
		if rec.Annotated {
			total += rec.RiskScore
		}
	}
	return total
}

func firstHot(hours map[int]float64) float64 {
	if len(hours) == 0 {
		return 0
	}
	earliest := 24
	for h := range hours {
		if h < earliest {
			earliest = h
		}
	}
	return hours[earliest]
}

func peakHot(hours map[int]float64) float64 {
	var peak float64
	for _, v := range hours {
		if v > peak {
			peak = v
		}
	}
	return peak
}

func hourTimestamp(date string, hour int) string {
	return fmt.Sprintf("%sT%02d:00:00", date, hour)
}

// Slugify lowercases a topic name and collapses runs of non-alphanumeric
// characters into single hyphens, giving a stable identifier for URLs and
// file names.
func Slugify(name string) string {
	var b strings.Builder
	lastHyphen := true
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		case r > 127:
			// Keep non-ASCII runes; topic names are frequently not English.
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}

// ParseDate validates an archive date key.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateFormat, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return t, nil
}
