// Package feed defines the domain model shared by the archiver, the daily
// pipeline, and the read API.
package feed

import (
	"time"
)

// HotItem is one entry of an hourly trending list.
type HotItem struct {
	Rank int     `json:"rank"`
	Name string  `json:"name"`
	Hot  float64 `json:"hot"`
}

// HourlySnapshot is one hour's ranked hot-topic list as delivered by the
// external source. It is ephemeral; merging it into a DailyArchive is the
// only way it becomes durable.
type HourlySnapshot struct {
	Date  string    `json:"date"`
	Hour  int       `json:"hour"`
	Items []HotItem `json:"items"`
}

// Post is a single social post retrieved for a topic.
type Post struct {
	ID          string   `json:"post_id"`
	PublishedAt string   `json:"published_at,omitempty"`
	Account     string   `json:"account_name,omitempty"`
	Text        string   `json:"content_text"`
	Media       []string `json:"media,omitempty"`
	Reposts     int      `json:"reposts"`
	Comments    int      `json:"comments"`
	Likes       int      `json:"likes"`
}

// Annotation is the sentiment/region/category classification attached to a
// topic once per day. Source records which path produced it (classifier or
// one of the heuristic fallbacks).
type Annotation struct {
	Sentiment float64 `json:"sentiment"`
	Region    string  `json:"region"`
	Category  string  `json:"category"`
	Source    string  `json:"source,omitempty"`
}

// RiskDims are the four independent risk signals, each in [0,100].
type RiskDims struct {
	Negative        float64 `json:"negative"`
	Growth          float64 `json:"growth"`
	Sensitive       float64 `json:"sensitive"`
	MassInvolvement float64 `json:"mass_involvement"`
}

// Band is the qualitative label derived from an aggregate risk score.
type Band string

// Risk bands in ascending severity.
const (
	BandLow    Band = "low"
	BandMedium Band = "medium"
	BandHigh   Band = "high"
)

// TopicRecord is the per-topic state inside a DailyArchive. Hot-value fields
// are written by the hourly archiver; annotation and risk fields are written
// exactly once per date by the daily pipeline.
type TopicRecord struct {
	Name        string     `json:"name"`
	Slug        string     `json:"slug"`
	FirstSeen   string     `json:"first_seen"`
	LastSeen    string     `json:"last_seen"`
	Category    string     `json:"category,omitempty"`
	Region      string     `json:"region,omitempty"`
	Sentiment   float64    `json:"sentiment"`
	RiskDims    RiskDims   `json:"risk_dims"`
	RiskScore   float64    `json:"risk_score"`
	RiskBand    Band       `json:"risk_band,omitempty"`
	Annotated   bool       `json:"annotated"`
	AnnotatedAt *time.Time `json:"annotated_at,omitempty"`
	Source      string     `json:"annotation_source,omitempty"`
	Posts       []Post     `json:"posts,omitempty"`
}

// RiskWarning is one entry of the rolling top-5 pushed to subscribers. It is
// derived from archives and never persisted on its own.
type RiskWarning struct {
	Name        string    `json:"name"`
	Date        string    `json:"date"`
	RiskScore   float64   `json:"risk_score"`
	RiskBand    Band      `json:"risk_band"`
	RiskDims    RiskDims  `json:"risk_dims"`
	Rank        int       `json:"rank"`
	WindowStart string    `json:"window_start"`
	WindowEnd   string    `json:"window_end"`
	AnnotatedAt time.Time `json:"annotated_at"`
}

// HotHistory summarizes a topic's hot-value trajectory within one day, in the
// form the risk engine consumes.
type HotHistory struct {
	// First is the hot value at the earliest merged hour the topic appeared.
	First float64
	// Peak is the maximum hot value across the topic's merged hours.
	Peak float64
	// DayMax is the maximum peak across all topics of the day.
	DayMax float64
}

// DateFormat is the layout of archive keys.
const DateFormat = "2006-01-02"

// DateOf renders t as an archive date key.
func DateOf(t time.Time) string {
	return t.Format(DateFormat)
}
