// Package risk turns an annotated topic into a bounded risk score. Everything
// here is pure: no I/O, no clocks, same input same output.
package risk

import (
	"fmt"

	"github.com/riskradar/riskradar/internal/feed"
)

const (
	minScore = 0.0
	maxScore = 100.0

	// negativeFloor is the value every non-negative sentiment maps to.
	negativeFloor = 10.0

	sensitiveHigh = 85.0
	sensitiveLow  = 40.0

	bandHighThreshold   = 50.0
	bandMediumThreshold = 20.0
)

// sensitiveCategories lists the categories that score high on the sensitive
// dimension. Membership is binary; there is no middle tier.
var sensitiveCategories = map[string]struct{}{
	"politics":  {},
	"society":   {},
	"finance":   {},
	"military":  {},
	"education": {},
}

// Weights combine the four dimensions into the aggregate score. They must
// sum to 1.
type Weights struct {
	Negative        float64 `mapstructure:"negative"`
	Growth          float64 `mapstructure:"growth"`
	Sensitive       float64 `mapstructure:"sensitive"`
	MassInvolvement float64 `mapstructure:"mass_involvement"`
}

// DefaultWeights returns the standard weighting table.
func DefaultWeights() Weights {
	return Weights{
		Negative:        0.35,
		Growth:          0.25,
		Sensitive:       0.20,
		MassInvolvement: 0.20,
	}
}

// Validate checks the weights sum to 1 within a small tolerance.
func (w Weights) Validate() error {
	sum := w.Negative + w.Growth + w.Sensitive + w.MassInvolvement
	if sum < 0.999 || sum > 1.001 {
		return fmt.Errorf("risk weights must sum to 1, got %.3f", sum)
	}
	return nil
}

// Result is the output of a scoring pass.
type Result struct {
	Dims  feed.RiskDims
	Score float64
	Band  feed.Band
}

// Engine scores annotated topics with a fixed weight table.
type Engine struct {
	weights Weights
}

// NewEngine builds an Engine; zero weights fall back to the defaults.
func NewEngine(w Weights) *Engine {
	if w == (Weights{}) {
		w = DefaultWeights()
	}
	return &Engine{weights: w}
}

// Score computes the four dimensions and the weighted aggregate for a topic.
func (e *Engine) Score(rec feed.TopicRecord, history feed.HotHistory) Result {
	dims := feed.RiskDims{
		Negative:        Negative(rec.Sentiment),
		Growth:          Growth(history.First, history.Peak),
		Sensitive:       Sensitive(rec.Category),
		MassInvolvement: MassInvolvement(history.Peak, history.DayMax),
	}
	score := clamp(e.weights.Negative*dims.Negative +
		e.weights.Growth*dims.Growth +
		e.weights.Sensitive*dims.Sensitive +
		e.weights.MassInvolvement*dims.MassInvolvement)
	return Result{Dims: dims, Score: score, Band: BandOf(score)}
}

// Negative maps sentiment in [-1,1] to [0,100]. Non-negative sentiment sits
// on a low floor; negative sentiment climbs linearly toward 100.
func Negative(sentiment float64) float64 {
	if sentiment >= 0 {
		return negativeFloor
	}
	if sentiment < -1 {
		sentiment = -1
	}
	return clamp(negativeFloor + (maxScore-negativeFloor)*(-sentiment))
}

// Growth scores the topic's rise within the day: peak hot value relative to
// the first-observed hot value, centered at 50 and clamped to one doubling in
// either direction. A zero first observation is treated as explosive growth.
func Growth(first, peak float64) float64 {
	if first == 0 && peak == 0 {
		return 50
	}
	if first <= 0 {
		return 100
	}
	ratio := (peak - first) / first
	if ratio > 1 {
		ratio = 1
	}
	if ratio < -1 {
		ratio = -1
	}
	return clamp(50 + 50*ratio)
}

// Sensitive is the binary high/low indicator from category membership.
func Sensitive(category string) float64 {
	if _, ok := sensitiveCategories[category]; ok {
		return sensitiveHigh
	}
	return sensitiveLow
}

// MassInvolvement normalizes the topic's peak hot value against the day's
// maximum across all topics.
func MassInvolvement(peak, dayMax float64) float64 {
	if dayMax <= 0 || peak <= 0 {
		return 0
	}
	return clamp(maxScore * peak / dayMax)
}

// BandOf labels an aggregate score.
func BandOf(score float64) feed.Band {
	switch {
	case score >= bandHighThreshold:
		return feed.BandHigh
	case score >= bandMediumThreshold:
		return feed.BandMedium
	default:
		return feed.BandLow
	}
}

func clamp(v float64) float64 {
	if v < minScore {
		return minScore
	}
	if v > maxScore {
		return maxScore
	}
	return v
}
