// Package analytics summarizes closed trades into performance figures.
package analytics

import (
	"math"
	"sort"
	"time"

	"cryptoExecCore/internal/domain"
)

// PerformanceMetrics holds the performance of a set of closed trades.
type PerformanceMetrics struct {
	TotalTrades          int
	WinningTrades        int
	LosingTrades         int
	WinRate              float64
	TotalProfit          float64
	GrossProfit          float64
	GrossLoss            float64 // Positive
	ProfitFactor         float64
	AverageWin           float64
	AverageLoss          float64 // Positive
	Expectancy           float64 // Mean PnL per trade
	FinalBalance         float64
	ReturnOnInvestment   float64
	MaxDrawdown          float64 // Fraction of peak balance
	MaxConsecutiveWins   int
	MaxConsecutiveLosses int
	AverageTradeDuration time.Duration
	PartialExits         int // Trades that banked TP1 before closing
	ByExitReason         map[domain.ExitReason]int
	MonthlyReturns       map[string]float64
	EquityCurve          []EquityPoint
}

// EquityPoint is the balance after a trade closed.
type EquityPoint struct {
	Time     time.Time
	Value    float64
	Drawdown float64
}

// MonthlyReturn is the realized PnL of one calendar month.
type MonthlyReturn struct {
	Month  time.Time
	Return float64
}

// AnalyzePerformance replays closed trades in exit order on top of
// initialBalance. Open trades are ignored. trades is not modified.
func AnalyzePerformance(trades []*domain.Trade, initialBalance float64) *PerformanceMetrics {
	m := &PerformanceMetrics{
		FinalBalance:   initialBalance,
		ByExitReason:   make(map[domain.ExitReason]int),
		MonthlyReturns: make(map[string]float64),
	}

	closed := make([]*domain.Trade, 0, len(trades))
	for _, t := range trades {
		if t.Status == domain.TradeStatusClosed {
			closed = append(closed, t)
		}
	}
	if len(closed) == 0 {
		return m
	}
	sort.SliceStable(closed, func(i, j int) bool { return closed[i].ExitTime.Before(closed[j].ExitTime) })

	balance, peak := initialBalance, initialBalance
	var wins, losses int
	var totalDuration time.Duration
	for _, t := range closed {
		pnl := t.RealizedPNL
		m.TotalTrades++
		m.ByExitReason[t.ExitReason]++
		if t.TP1PartialExecuted {
			m.PartialExits++
		}
		switch {
		case pnl > 0:
			m.WinningTrades++
			m.GrossProfit += pnl
			wins++
			losses = 0
		case pnl < 0:
			m.LosingTrades++
			m.GrossLoss -= pnl
			losses++
			wins = 0
		default:
			wins, losses = 0, 0
		}
		if wins > m.MaxConsecutiveWins {
			m.MaxConsecutiveWins = wins
		}
		if losses > m.MaxConsecutiveLosses {
			m.MaxConsecutiveLosses = losses
		}

		balance += pnl
		m.MonthlyReturns[t.ExitTime.UTC().Format("2006-01")] += pnl
		peak = math.Max(peak, balance)
		dd := 0.0
		if peak > 0 {
			dd = (peak - balance) / peak
		}
		m.MaxDrawdown = math.Max(m.MaxDrawdown, dd)
		m.EquityCurve = append(m.EquityCurve, EquityPoint{Time: t.ExitTime, Value: balance, Drawdown: dd})
		totalDuration += t.ExitTime.Sub(t.EntryTime)
	}

	m.FinalBalance = balance
	m.TotalProfit = m.GrossProfit - m.GrossLoss
	m.WinRate = float64(m.WinningTrades) / float64(m.TotalTrades)
	m.Expectancy = m.TotalProfit / float64(m.TotalTrades)
	m.AverageTradeDuration = totalDuration / time.Duration(m.TotalTrades)
	if m.WinningTrades > 0 {
		m.AverageWin = m.GrossProfit / float64(m.WinningTrades)
	}
	if m.LosingTrades > 0 {
		m.AverageLoss = m.GrossLoss / float64(m.LosingTrades)
	}
	if m.GrossLoss > 0 {
		m.ProfitFactor = m.GrossProfit / m.GrossLoss
	}
	if initialBalance > 0 {
		m.ReturnOnInvestment = (balance - initialBalance) / initialBalance
	}
	return m
}

// GetMonthlyReturns returns the monthly returns in calendar order.
func (m *PerformanceMetrics) GetMonthlyReturns() []MonthlyReturn {
	returns := make([]MonthlyReturn, 0, len(m.MonthlyReturns))
	for month, profit := range m.MonthlyReturns {
		date, _ := time.Parse("2006-01", month)
		returns = append(returns, MonthlyReturn{Month: date, Return: profit})
	}
	sort.Slice(returns, func(i, j int) bool {
		return returns[i].Month.Before(returns[j].Month)
	})
	return returns
}
