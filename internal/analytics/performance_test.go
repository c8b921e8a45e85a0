package analytics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptoExecCore/internal/domain"
)

func closedTrade(id int64, pnl float64, exit time.Time, reason domain.ExitReason) *domain.Trade {
	return &domain.Trade{
		ID:          id,
		Symbol:      "BTCUSDT",
		Status:      domain.TradeStatusClosed,
		RealizedPNL: pnl,
		EntryTime:   exit.Add(-2 * time.Hour),
		ExitTime:    exit,
		ExitReason:  reason,
	}
}

func TestAnalyzePerformance(t *testing.T) {
	base := time.Date(2026, 1, 30, 12, 0, 0, 0, time.UTC)
	trades := []*domain.Trade{
		// Given out of order; analysis runs in exit order.
		closedTrade(3, -500, base.Add(48*time.Hour), domain.ExitReasonStopLoss),
		closedTrade(1, 1000, base, domain.ExitReasonTakeProfit2),
		closedTrade(2, 200, base.Add(24*time.Hour), domain.ExitReasonTrailingStop),
		{ID: 4, Status: domain.TradeStatusOpen, RealizedPNL: 50},
	}
	trades[1].TP1PartialExecuted = true

	m := AnalyzePerformance(trades, 10000)

	assert.Equal(t, 3, m.TotalTrades, "open trades are ignored")
	assert.Equal(t, 2, m.WinningTrades)
	assert.Equal(t, 1, m.LosingTrades)
	assert.InDelta(t, 2.0/3.0, m.WinRate, 1e-12)
	assert.Equal(t, 700.0, m.TotalProfit)
	assert.Equal(t, 10700.0, m.FinalBalance)
	assert.InDelta(t, 0.07, m.ReturnOnInvestment, 1e-12)
	assert.Equal(t, 600.0, m.AverageWin)
	assert.Equal(t, 500.0, m.AverageLoss)
	assert.InDelta(t, 2.4, m.ProfitFactor, 1e-12)
	assert.InDelta(t, 700.0/3.0, m.Expectancy, 1e-9)
	assert.Equal(t, 2, m.MaxConsecutiveWins)
	assert.Equal(t, 1, m.MaxConsecutiveLosses)
	assert.Equal(t, 2*time.Hour, m.AverageTradeDuration)
	assert.Equal(t, 1, m.PartialExits)
	assert.Equal(t, 1, m.ByExitReason[domain.ExitReasonStopLoss])

	// Peak 11200 after the second trade, then 10700.
	assert.InDelta(t, 500.0/11200.0, m.MaxDrawdown, 1e-12)
	require.Len(t, m.EquityCurve, 3)
	assert.Equal(t, 11000.0, m.EquityCurve[0].Value)

	monthly := m.GetMonthlyReturns()
	require.Len(t, monthly, 2)
	assert.Equal(t, time.January, monthly[0].Month.Month())
	assert.Equal(t, 1200.0, monthly[0].Return)
	assert.Equal(t, -500.0, monthly[1].Return)

	assert.Equal(t, int64(3), trades[0].ID, "input order is preserved")
}

func TestAnalyzePerformance_Empty(t *testing.T) {
	m := AnalyzePerformance(nil, 5000)
	assert.Equal(t, 0, m.TotalTrades)
	assert.Equal(t, 5000.0, m.FinalBalance)
	assert.Zero(t, m.ProfitFactor)
	assert.Empty(t, m.GetMonthlyReturns())
}

func TestAnalyzePerformance_NoLosses(t *testing.T) {
	base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	m := AnalyzePerformance([]*domain.Trade{
		closedTrade(1, 10, base, domain.ExitReasonTakeProfit2),
		closedTrade(2, 0, base.Add(time.Hour), domain.ExitReasonBreakeven),
	}, 100)

	assert.Equal(t, 1, m.WinningTrades)
	assert.Equal(t, 0, m.LosingTrades)
	assert.Zero(t, m.ProfitFactor, "undefined without losses")
	assert.Zero(t, m.MaxDrawdown)
}
