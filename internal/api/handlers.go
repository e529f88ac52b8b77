package api

import (
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/riskradar/riskradar/internal/archive"
	"github.com/riskradar/riskradar/internal/feed"
)

// daily30 handles GET /api/daily30. It returns 30 entries, one per calendar
// day ending today, each carrying the day's total heat and risk. Days
// without an archive contribute zeros.
func (s *Server) daily30(w http.ResponseWriter, _ *http.Request) {
	type dayTotals struct {
		Date string  `json:"date"`
		Heat float64 `json:"heat"`
		Risk float64 `json:"risk"`
	}
	now := s.clock.Now()
	out := make([]dayTotals, 0, 30)
	for i := 29; i >= 0; i-- {
		date := feed.DateOf(now.AddDate(0, 0, -i))
		entry := dayTotals{Date: date}
		a, err := s.store.Load(date)
		if err == nil {
			entry.Heat = a.HeatTotal()
			entry.Risk = a.RiskTotal()
		} else if !errors.Is(err, archive.ErrNotFound) {
			s.logger.Warn("daily30 archive load failed", zap.String("date", date), zap.Error(err))
		}
		out = append(out, entry)
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": out})
}

// hotlistCurrent handles GET /api/hotlist/current, serving the most recently
// merged hour snapshot.
func (s *Server) hotlistCurrent(w http.ResponseWriter, _ *http.Request) {
	if s.hotlistHub != nil {
		if current := s.hotlistHub.Current(); current != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(current)
			return
		}
	}
	// Nothing published since startup: reconstruct from today's archive.
	if snap, ok := s.latestArchivedHour(); ok {
		writeJSON(w, http.StatusOK, snap)
		return
	}
	writeJSON(w, http.StatusOK, feed.HourlySnapshot{Hour: -1})
}

func (s *Server) latestArchivedHour() (feed.HourlySnapshot, bool) {
	today := feed.DateOf(s.clock.Now())
	a, err := s.store.Load(today)
	if err != nil || len(a.HourList) == 0 {
		return feed.HourlySnapshot{}, false
	}
	hour := a.HourList[len(a.HourList)-1]
	snap := feed.HourlySnapshot{Date: today, Hour: hour}
	for name, hot := range a.HotValues {
		if v, ok := hot[hour]; ok {
			snap.Items = append(snap.Items, feed.HotItem{Name: name, Hot: v})
		}
	}
	sort.Slice(snap.Items, func(i, j int) bool {
		if snap.Items[i].Hot != snap.Items[j].Hot {
			return snap.Items[i].Hot > snap.Items[j].Hot
		}
		return snap.Items[i].Name < snap.Items[j].Name
	})
	for i := range snap.Items {
		snap.Items[i].Rank = i + 1
	}
	return snap, true
}

// riskLatest handles GET /api/risk/latest, returning the current rolling
// top-5 risk warnings.
func (s *Server) riskLatest(w http.ResponseWriter, _ *http.Request) {
	warnings, err := s.alerts.Top()
	if err != nil {
		s.logger.Error("risk leaderboard computation failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to compute risk warnings")
		return
	}
	if warnings == nil {
		warnings = []feed.RiskWarning{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"warnings": warnings})
}

// eventDetail handles GET /api/events/{date}/{name}.
func (s *Server) eventDetail(w http.ResponseWriter, r *http.Request) {
	date := chi.URLParam(r, "date")
	name := chi.URLParam(r, "name")
	if _, err := feed.ParseDate(date); err != nil {
		writeError(w, http.StatusBadRequest, "invalid date")
		return
	}
	a, err := s.store.Load(date)
	if err != nil {
		if errors.Is(err, archive.ErrNotFound) {
			writeError(w, http.StatusNotFound, "event not found")
			return
		}
		s.logger.Error("event detail load failed", zap.String("date", date), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load archive")
		return
	}
	rec, ok := a.Topics[name]
	if !ok {
		// The UI links by slug as well as by display name.
		for _, candidate := range a.Topics {
			if candidate.Slug == name {
				rec = candidate
				ok = true
				break
			}
		}
	}
	if !ok {
		writeError(w, http.StatusNotFound, "event not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"date":  date,
		"event": rec,
		"history": map[string]float64{
			"first":   a.History(rec.Name).First,
			"peak":    a.History(rec.Name).Peak,
			"day_max": a.History(rec.Name).DayMax,
		},
	})
}

// centralEntry is one row of the deduplicated cross-day dataset.
type centralEntry struct {
	Name      string  `json:"name"`
	Date      string  `json:"date"`
	Category  string  `json:"category"`
	Region    string  `json:"region"`
	Sentiment float64 `json:"sentiment"`
	RiskScore float64 `json:"risk_score"`
	RiskBand  string  `json:"risk_band"`
	Heat      float64 `json:"heat"`
}

// centralData handles GET /api/central?range=week|month|halfyear. Annotated
// topics are deduplicated across the range; the most recent sighting wins.
func (s *Server) centralData(w http.ResponseWriter, r *http.Request) {
	days, ok := map[string]int{"week": 7, "month": 30, "halfyear": 182}[rangeParam(r)]
	if !ok {
		writeError(w, http.StatusBadRequest, "range must be week, month or halfyear")
		return
	}
	now := s.clock.Now()
	seen := make(map[string]bool)
	out := make([]centralEntry, 0)
	for i := 0; i < days; i++ {
		date := feed.DateOf(now.AddDate(0, 0, -i))
		a, err := s.store.Load(date)
		if err != nil {
			if !errors.Is(err, archive.ErrNotFound) {
				s.logger.Warn("central data load failed", zap.String("date", date), zap.Error(err))
			}
			continue
		}
		for name, rec := range a.Topics {
			if seen[name] || !rec.Annotated {
				continue
			}
			seen[name] = true
			out = append(out, centralEntry{
				Name:      name,
				Date:      date,
				Category:  rec.Category,
				Region:    rec.Region,
				Sentiment: rec.Sentiment,
				RiskScore: rec.RiskScore,
				RiskBand:  string(rec.RiskBand),
				Heat:      a.History(name).Peak,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RiskScore != out[j].RiskScore {
			return out[i].RiskScore > out[j].RiskScore
		}
		return out[i].Name < out[j].Name
	})
	writeJSON(w, http.StatusOK, map[string]any{"data": out})
}

func rangeParam(r *http.Request) string {
	v := strings.TrimSpace(r.URL.Query().Get("range"))
	if v == "" {
		return "week"
	}
	return v
}

// healthDates handles GET /api/health/dates: dates whose archive carries at
// least one health-category topic.
func (s *Server) healthDates(w http.ResponseWriter, _ *http.Request) {
	dates, err := s.store.Dates()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list archive dates")
		return
	}
	out := make([]string, 0)
	for _, date := range dates {
		a, err := s.store.Load(date)
		if err != nil {
			continue
		}
		for _, rec := range a.Topics {
			if rec.Category == "health" {
				out = append(out, date)
				break
			}
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"dates": out})
}

// healthEventView is one health-category topic projected for the timeline.
type healthEventView struct {
	Slug      string  `json:"slug"`
	Name      string  `json:"name"`
	Date      string  `json:"date"`
	Region    string  `json:"region"`
	StartTS   int64   `json:"start_ts"`
	EndTS     int64   `json:"end_ts"`
	RiskScore float64 `json:"risk_score"`
	RiskBand  string  `json:"risk_band"`
	Peak      float64 `json:"peak"`
}

// healthTimeline handles GET /api/health/timeline?hours=N. It projects the
// health-category topics of recent archives; hours, when positive, keeps
// only topics last seen within that window.
func (s *Server) healthTimeline(w http.ResponseWriter, r *http.Request) {
	hours := 0
	if raw := r.URL.Query().Get("hours"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			writeError(w, http.StatusBadRequest, "invalid hours")
			return
		}
		hours = v
	}
	now := s.clock.Now()
	var cutoff int64
	if hours > 0 {
		cutoff = now.Add(-time.Duration(hours) * time.Hour).Unix()
	}

	events := make([]healthEventView, 0)
	byRegion := make(map[string]int)
	for i := 0; i < 7; i++ {
		date := feed.DateOf(now.AddDate(0, 0, -i))
		a, err := s.store.Load(date)
		if err != nil {
			continue
		}
		for _, rec := range a.Topics {
			if rec.Category != "health" {
				continue
			}
			view := healthView(date, rec)
			if cutoff > 0 && view.EndTS < cutoff {
				continue
			}
			view.Peak = a.History(rec.Name).Peak
			events = append(events, view)
			byRegion[rec.Region]++
		}
	}
	sort.Slice(events, func(i, j int) bool {
		if events[i].EndTS != events[j].EndTS {
			return events[i].EndTS > events[j].EndTS
		}
		return events[i].Name < events[j].Name
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"updated_at": now,
		"summary": map[string]any{
			"total_events": len(events),
			"by_region":    byRegion,
		},
		"events": events,
	})
}

// healthEvent handles GET /api/health/events/{slug}, scanning recent dates
// for the health topic with that slug.
func (s *Server) healthEvent(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	now := s.clock.Now()
	for i := 0; i < 7; i++ {
		date := feed.DateOf(now.AddDate(0, 0, -i))
		a, err := s.store.Load(date)
		if err != nil {
			continue
		}
		for _, rec := range a.Topics {
			if rec.Category == "health" && rec.Slug == slug {
				writeJSON(w, http.StatusOK, map[string]any{
					"date":  date,
					"event": rec,
				})
				return
			}
		}
	}
	writeError(w, http.StatusNotFound, "event not found")
}

// runDaily handles POST /api/admin/run_daily?date=YYYY-MM-DD. The pass is
// marker-guarded: a processed date is never re-annotated.
func (s *Server) runDaily(w http.ResponseWriter, r *http.Request) {
	date := strings.TrimSpace(r.URL.Query().Get("date"))
	if date == "" {
		date = feed.DateOf(s.clock.Now())
	} else if _, err := feed.ParseDate(date); err != nil {
		writeError(w, http.StatusBadRequest, "invalid date format, expected YYYY-MM-DD")
		return
	}
	if err := s.runner.RunDaily(r.Context(), date); err != nil {
		s.logger.Error("manual daily pass failed", zap.String("date", date), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "daily pass failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":          true,
		"ran_at":      s.clock.Now(),
		"target_date": date,
	})
}

func healthView(date string, rec *feed.TopicRecord) healthEventView {
	view := healthEventView{
		Slug:      rec.Slug,
		Name:      rec.Name,
		Date:      date,
		Region:    rec.Region,
		RiskScore: rec.RiskScore,
		RiskBand:  string(rec.RiskBand),
	}
	if t, err := time.Parse(seenLayout, rec.FirstSeen); err == nil {
		view.StartTS = t.Unix()
	}
	if t, err := time.Parse(seenLayout, rec.LastSeen); err == nil {
		view.EndTS = t.Unix()
	}
	return view
}

// seenLayout matches the zone-less first_seen/last_seen archive stamps.
const seenLayout = "2006-01-02T15:04:05"
