package signals

import (
	"sort"
	"time"

	"github.com/matthewbaird/signalintel/internal/recency"
	"github.com/matthewbaird/signalintel/internal/types"
)

// Summarize produces an EntitySummary from the signals recorded against one
// entity. weighter may be nil, in which case scores are unweighted and the
// trend is reported as stable.
func (r *Registry) Summarize(sigs []types.Signal, weighter *recency.Weighter, entityType, entityID string, asOf time.Time) types.EntitySummary {
	byType := make(map[string]*types.TypeSummary)
	byValence := make(map[string]int)
	obs := make([]recency.Observation, 0, len(sigs))

	for _, s := range sigs {
		ts, exists := byType[s.SignalType]
		if !exists {
			ts = &types.TypeSummary{
				SignalType: s.SignalType,
				BySeverity: make(map[string]int),
				Valence:    s.Valence,
			}
			if reg, ok := r.Get(s.SignalType); ok {
				ts.Category = reg.Category
			}
			byType[s.SignalType] = ts
		}
		ts.SignalCount++
		ts.BySeverity[string(s.Severity)]++
		byValence[s.Valence.String()]++
		obs = append(obs, recency.Observation{
			Value:      float64(s.Valence) * s.Magnitude,
			ObservedAt: s.DetectedAt,
		})
	}

	result := make(map[string]types.TypeSummary, len(byType))
	for id, ts := range byType {
		result[id] = *ts
	}

	summary := types.EntitySummary{
		EntityType:       entityType,
		EntityID:         entityID,
		AsOf:             asOf,
		Types:            result,
		ByValence:        byValence,
		DominantPolarity: dominantPolarity(byValence),
		Trend:            recency.Stable,
	}
	if weighter != nil {
		summary.WeightedScore = weighter.WeightedAverage(obs, asOf)
		summary.Trend = weighter.WeightedTrend(obs, asOf).Direction
	} else if len(obs) > 0 {
		var sum float64
		for _, o := range obs {
			sum += o.Value
		}
		summary.WeightedScore = sum / float64(len(obs))
	}
	summary.OverallSentiment, summary.SentimentReason = computeSentiment(sigs)
	return summary
}

// dominantPolarity returns the polarity with the highest count. Ties go to
// the alphabetically first label so the result is stable.
func dominantPolarity(byValence map[string]int) string {
	labels := make([]string, 0, len(byValence))
	for p := range byValence {
		labels = append(labels, p)
	}
	sort.Strings(labels)

	best := ""
	bestCount := 0
	for _, p := range labels {
		if c := byValence[p]; c > bestCount {
			best = p
			bestCount = c
		}
	}
	return best
}

// computeSentiment determines overall sentiment from the severities and
// valences of the signals.
func computeSentiment(sigs []types.Signal) (string, string) {
	var criticalCount, warningCount, negativeCount, positiveCount int
	for _, s := range sigs {
		switch s.Valence {
		case types.ValenceNegative:
			negativeCount++
			switch s.Severity {
			case types.SeverityCritical:
				criticalCount++
			case types.SeverityWarning:
				warningCount++
			}
		case types.ValencePositive:
			positiveCount++
		}
	}

	if criticalCount > 0 {
		return "critical", "Critical signals present requiring immediate attention."
	}
	if warningCount >= 2 || negativeCount > positiveCount*2 {
		return "concerning", "Multiple warning signals or predominantly negative activity."
	}
	if negativeCount > positiveCount {
		return "mixed", "More negative than positive signals, but no critical concerns."
	}
	return "positive", "Activity is predominantly positive or neutral."
}
