// Package recency weights observations by their business-day age using
// exponential half-life decay. It is deliberately separate from the
// step-function decay in package temporal, which scores issue balances.
package recency

import (
	"math"
	"time"

	"github.com/matthewbaird/signalintel/internal/calendar"
	"github.com/matthewbaird/signalintel/internal/types"
)

// Trend directions.
const (
	Improving = "improving"
	Stable    = "stable"
	Declining = "declining"
)

// Options configures a Weighter.
type Options struct {
	HalfLifeDays float64 // business days for a weight to halve
	MinWeight    float64 // floor applied to every weight
	// StableTolerance is the largest |weighted - unweighted| mean difference
	// still reported as stable.
	StableTolerance float64
}

// DefaultOptions returns the defaults used when the config leaves recency unset.
func DefaultOptions() Options {
	return Options{
		HalfLifeDays:    10,
		MinWeight:       0.1,
		StableTolerance: 0.01,
	}
}

// Observation is one value observed at a point in time.
type Observation struct {
	Value      float64   `json:"value"`
	ObservedAt time.Time `json:"observed_at"`
}

// Trend compares the recency-weighted mean of a series with its plain mean.
// Higher values are treated as better.
type Trend struct {
	WeightedMean   float64 `json:"weighted_mean"`
	UnweightedMean float64 `json:"unweighted_mean"`
	RecencyDelta   float64 `json:"recency_delta"`
	Slope          int     `json:"slope"` // -1, 0, +1
	Direction      string  `json:"direction"`
}

// Weighter computes recency weights against a business calendar.
type Weighter struct {
	cal  *calendar.Calendar
	opts Options
}

// New validates opts and returns a Weighter.
func New(cal *calendar.Calendar, opts Options) (*Weighter, error) {
	if opts.HalfLifeDays <= 0 {
		return nil, &types.ConfigurationError{Component: "recency", Field: "half_life_days", Reason: "must be positive"}
	}
	if opts.MinWeight < 0 || opts.MinWeight > 1 {
		return nil, &types.ConfigurationError{Component: "recency", Field: "min_weight", Reason: "must be within [0, 1]"}
	}
	if opts.StableTolerance < 0 {
		opts.StableTolerance = 0
	}
	return &Weighter{cal: cal, opts: opts}, nil
}

// Weight returns 1.0 for observations at or after ref, otherwise
// 0.5^(business_days/half_life) floored at the minimum weight.
func (w *Weighter) Weight(observed, ref time.Time) float64 {
	if !observed.Before(ref) {
		return 1.0
	}
	age := w.cal.BusinessDaysBetween(observed, ref)
	weight := math.Pow(0.5, float64(age)/w.opts.HalfLifeDays)
	return math.Max(weight, w.opts.MinWeight)
}

// WeightedAverage returns Σ(value·weight)/Σ(weight), or 0 for an empty series.
func (w *Weighter) WeightedAverage(obs []Observation, ref time.Time) float64 {
	var sum, total float64
	for _, o := range obs {
		weight := w.Weight(o.ObservedAt, ref)
		sum += o.Value * weight
		total += weight
	}
	if total == 0 {
		return 0
	}
	return sum / total
}

// WeightedTrend reports whether recent observations sit above or below the
// series mean. A series with fewer than two points is stable.
func (w *Weighter) WeightedTrend(obs []Observation, ref time.Time) Trend {
	tr := Trend{Direction: Stable}
	if len(obs) == 0 {
		return tr
	}
	var sum float64
	for _, o := range obs {
		sum += o.Value
	}
	tr.UnweightedMean = sum / float64(len(obs))
	tr.WeightedMean = w.WeightedAverage(obs, ref)
	tr.RecencyDelta = tr.WeightedMean - tr.UnweightedMean
	if len(obs) < 2 {
		return tr
	}
	switch {
	case tr.RecencyDelta > w.opts.StableTolerance:
		tr.Slope, tr.Direction = 1, Improving
	case tr.RecencyDelta < -w.opts.StableTolerance:
		tr.Slope, tr.Direction = -1, Declining
	}
	return tr
}

// WeightedPercentile returns the weighted fraction of population strictly
// below value plus half the weight exactly equal to it. An empty population
// yields 0.5.
func (w *Weighter) WeightedPercentile(value float64, population []Observation, ref time.Time) float64 {
	var below, equal, total float64
	for _, o := range population {
		weight := w.Weight(o.ObservedAt, ref)
		total += weight
		switch {
		case o.Value < value:
			below += weight
		case o.Value == value:
			equal += weight
		}
	}
	if total == 0 {
		return 0.5
	}
	return (below + equal/2) / total
}
