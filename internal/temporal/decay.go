package temporal

import "time"

// decayStep is one bucket of the decay policy: ages strictly below MaxDays
// (or up to and including it when Inclusive) use Multiplier.
type decayStep struct {
	MaxDays    float64
	Inclusive  bool
	Multiplier float64
}

var decaySteps = []decayStep{
	{MaxDays: 30, Multiplier: 1.0},
	{MaxDays: 90, Multiplier: 0.8},
	{MaxDays: 180, Multiplier: 0.5},
	{MaxDays: 365, Inclusive: true, Multiplier: 0.25},
}

const oldestMultiplier = 0.1

// DecayMultiplier returns the discount applied to a signal's magnitude for
// its age: 1.0 under 30 days, 0.8 under 90, 0.5 under 180, 0.25 up to 365,
// and 0.1 beyond a year. A negative age counts as fresh.
func DecayMultiplier(age time.Duration) float64 {
	days := age.Hours() / 24
	for _, s := range decaySteps {
		if days < s.MaxDays || (s.Inclusive && days <= s.MaxDays) {
			return s.Multiplier
		}
	}
	return oldestMultiplier
}

// DecayMultiplierAt returns DecayMultiplier for a signal detected at
// detectedAt, evaluated at now.
func DecayMultiplierAt(detectedAt, now time.Time) float64 {
	return DecayMultiplier(now.Sub(detectedAt))
}
