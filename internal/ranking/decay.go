package ranking

import (
	"math"
	"time"
)

// Half-life constants for the decay terms.
const (
	// ScoreHalfLife is the half-life applied to post-age decay in the
	// composite score (boost, bookmark, and pinned terms).
	ScoreHalfLife = 12 * time.Hour

	// BoostHalfLife is the half-life applied to individual boost events when
	// materializing the cached engagement score.
	BoostHalfLife = 24 * time.Hour
)

// Decay computes the half-life decay factor for an event at t observed at now.
// The factor halves every halfLife of elapsed age.
//
// Negative ages (t in the future relative to now, e.g. clock skew between
// writers) are clamped to zero so the factor never exceeds 1.0.
func Decay(now, t time.Time, halfLife time.Duration) float64 {
	if halfLife <= 0 {
		return 1.0
	}

	age := now.Sub(t)
	if age < 0 {
		age = 0
	}

	return math.Pow(0.5, age.Seconds()/halfLife.Seconds())
}

// TierWeight maps an actor tier to its boost weight. Tiers are small ordinals
// (1 = free, 2 = supporter, 3 = premium); out-of-range values are clamped so a
// malformed tier can never zero out or amplify an event.
func TierWeight(tier int) float64 {
	if tier < 1 {
		tier = 1
	}
	if tier > 3 {
		tier = 3
	}
	return float64(tier)
}
