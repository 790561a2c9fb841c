package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Tiers holds the five ascending profit thresholds, as percentages above the
// entry price. Tiers[0] is goal 1.
type Tiers [MaxGoal]float64

// DefaultTiers are the stock goal percentages.
var DefaultTiers = Tiers{30, 60, 90, 120, 150}

// Validate checks that every tier is positive and strictly above the previous.
func (t Tiers) Validate() error {
	prev := 0.0
	for i, pct := range t {
		if pct <= prev {
			return fmt.Errorf("goal %d (%.2f%%) must be greater than %.2f%%", i+1, pct, prev)
		}
		prev = pct
	}
	return nil
}

// Percent returns the configured percentage for goal (1-based).
func (t Tiers) Percent(goal int) float64 {
	if goal < 1 || goal > MaxGoal {
		return 0
	}
	return t[goal-1]
}

// GoalPrice returns entry * (1 + pct/100) for the given goal, rounded to
// cents.
func (t Tiers) GoalPrice(entry float64, goal int) float64 {
	if goal < 1 || goal > MaxGoal {
		return 0
	}
	return t.goalPrice(entry, goal).InexactFloat64()
}

func (t Tiers) goalPrice(entry float64, goal int) decimal.Decimal {
	pct := decimal.NewFromFloat(t.Percent(goal)).Div(decimal.NewFromInt(100))
	return decimal.NewFromFloat(entry).Mul(decimal.NewFromInt(1).Add(pct)).Round(2)
}

// HighestNewTier returns the highest goal whose price the peak has reached
// and that is above lastGoal, or 0 when there is none. Intermediate goals are
// collapsed into the highest one.
func (t Tiers) HighestNewTier(entry, peak float64, lastGoal int) int {
	rp := decimal.NewFromFloat(peak).Round(2)
	for goal := MaxGoal; goal > lastGoal && goal >= 1; goal-- {
		if rp.GreaterThanOrEqual(t.goalPrice(entry, goal)) {
			return goal
		}
	}
	return 0
}
