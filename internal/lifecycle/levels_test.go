package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptoExecCore/internal/domain"
	"cryptoExecCore/internal/ports"
)

func TestInitialLevels_ATRStop(t *testing.T) {
	levels, err := InitialLevels(Presets()[ProfileBalanced], domain.Buy, 50, 1)
	require.NoError(t, err)
	assert.InDelta(t, 48.5, levels.StopLoss, 1e-9)
	assert.InDelta(t, 52.25, levels.TakeProfit1, 1e-9)
	assert.InDelta(t, 54.5, levels.TakeProfit2, 1e-9)
}

func TestInitialLevels_ShortMirrors(t *testing.T) {
	levels, err := InitialLevels(Presets()[ProfileBalanced], domain.Sell, 50, 1)
	require.NoError(t, err)
	assert.InDelta(t, 51.5, levels.StopLoss, 1e-9)
	assert.InDelta(t, 47.75, levels.TakeProfit1, 1e-9)
	assert.InDelta(t, 45.5, levels.TakeProfit2, 1e-9)
}

func TestStopDistance(t *testing.T) {
	tests := []struct {
		name    string
		profile Profile
		entry   float64
		atr     float64
		want    float64
		wantErr bool
	}{
		{"atr multiple", Profile{StopMethod: StopATR, ATRMultiplier: 2}, 100, 1.5, 3, false},
		{"fixed percent", Profile{StopMethod: StopFixed, StopLossPct: 0.03}, 200, 0, 6, false},
		{"hybrid takes the wider atr", Profile{StopMethod: StopHybrid, ATRMultiplier: 1.5, StopLossPct: 0.01}, 100, 2, 3, false},
		{"hybrid takes the wider percent", Profile{StopMethod: StopHybrid, ATRMultiplier: 1.5, StopLossPct: 0.05}, 100, 2, 5, false},
		{"hybrid without atr uses percent", Profile{StopMethod: StopHybrid, ATRMultiplier: 1.5, StopLossPct: 0.02}, 100, 0, 2, false},
		{"clamped to max percent", Profile{StopMethod: StopATR, ATRMultiplier: 3, MaxStopLossPct: 0.05}, 100, 4, 5, false},
		{"floored at min distance", Profile{StopMethod: StopFixed, StopLossPct: 0.001, MinStopDistance: 0.5}, 100, 0, 0.5, false},
		{"atr method without atr", Profile{StopMethod: StopATR, ATRMultiplier: 2}, 100, 0, 0, true},
		{"stop beyond entry", Profile{StopMethod: StopATR, ATRMultiplier: 2}, 10, 6, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := StopDistance(tt.profile, tt.entry, tt.atr)
			if tt.wantErr {
				assert.ErrorIs(t, err, ports.ErrInvalidRequest)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}
