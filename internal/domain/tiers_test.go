package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTiersValidate(t *testing.T) {
	require.NoError(t, DefaultTiers.Validate())
	assert.Error(t, Tiers{30, 30, 90, 120, 150}.Validate())
	assert.Error(t, Tiers{0, 60, 90, 120, 150}.Validate())
	assert.Error(t, Tiers{30, 60, 50, 120, 150}.Validate())
}

func TestTiersGoalPrice(t *testing.T) {
	assert.Equal(t, 1.30, DefaultTiers.GoalPrice(1.00, 1))
	assert.Equal(t, 1.90, DefaultTiers.GoalPrice(1.00, 3))
	assert.Equal(t, 5.00, DefaultTiers.GoalPrice(2.00, 5))
	assert.Equal(t, 0.0, DefaultTiers.GoalPrice(2.00, 6))
}

func TestTiersHighestNewTier(t *testing.T) {
	tests := []struct {
		name     string
		entry    float64
		peak     float64
		lastGoal int
		want     int
	}{
		{"below first goal", 1.00, 1.29, 0, 0},
		{"exactly first goal", 1.00, 1.30, 0, 1},
		{"rounds peak to cents", 1.00, 1.295, 0, 1},
		{"skips intermediate goals", 1.00, 1.95, 1, 3},
		{"already at reached goal", 1.00, 1.95, 3, 0},
		{"already above reached goal", 1.00, 1.35, 2, 0},
		{"top goal", 1.00, 2.60, 0, 5},
		{"terminal at five", 1.00, 9.99, 5, 0},
		{"fractional entry", 0.37, 0.48, 0, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DefaultTiers.HighestNewTier(tt.entry, tt.peak, tt.lastGoal))
		})
	}
}
