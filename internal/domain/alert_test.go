package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAlertStatusTransitions(t *testing.T) {
	tests := []struct {
		name    string
		from    AlertStatus
		to      AlertStatus
		allowed bool
	}{
		{"new to acknowledged", AlertStatusNew, AlertStatusAcknowledged, true},
		{"new to resolved", AlertStatusNew, AlertStatusResolved, true},
		{"new to suppressed", AlertStatusNew, AlertStatusSuppressed, true},
		{"acknowledged to resolved", AlertStatusAcknowledged, AlertStatusResolved, true},
		{"acknowledged to suppressed", AlertStatusAcknowledged, AlertStatusSuppressed, false},
		{"acknowledged to new", AlertStatusAcknowledged, AlertStatusNew, false},
		{"resolved is terminal", AlertStatusResolved, AlertStatusAcknowledged, false},
		{"resolved cannot reopen", AlertStatusResolved, AlertStatusNew, false},
		{"suppressed is terminal", AlertStatusSuppressed, AlertStatusResolved, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestAlertStatusTerminal(t *testing.T) {
	assert.False(t, AlertStatusNew.Terminal())
	assert.False(t, AlertStatusAcknowledged.Terminal())
	assert.True(t, AlertStatusResolved.Terminal())
	assert.True(t, AlertStatusSuppressed.Terminal())
}

func TestSeverityRank(t *testing.T) {
	assert.Greater(t, SeverityCritical.Rank(), SeverityHigh.Rank())
	assert.Greater(t, SeverityHigh.Rank(), SeverityMedium.Rank())
	assert.Greater(t, SeverityMedium.Rank(), SeverityLow.Rank())
	assert.Greater(t, SeverityLow.Rank(), SeverityInfo.Rank())
	assert.Equal(t, 0, Severity("bogus").Rank())
	assert.False(t, Severity("bogus").Valid())
}

func TestEscalationPolicyLevelFor(t *testing.T) {
	policy := EscalationPolicy{
		Severity:   SeverityHigh,
		Levels:     []int{1, 2, 3},
		Timeframes: map[int]int{1: 15, 2: 60, 3: 240},
	}

	tests := []struct {
		name    string
		elapsed float64
		want    int
	}{
		{"before first boundary", 14, 0},
		{"at first boundary", 15, 1},
		{"past first boundary", 16, 1},
		{"just before second", 59, 1},
		{"past second boundary", 61, 2},
		{"past final boundary", 500, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, policy.LevelFor(tt.elapsed))
		})
	}
}

func TestEscalationPolicyLevelForSkipsMissingTimeframe(t *testing.T) {
	policy := EscalationPolicy{
		Levels:     []int{1, 2},
		Timeframes: map[int]int{1: 10},
	}
	assert.Equal(t, 1, policy.LevelFor(1000))
}
