// Package indicators computes the price indicators used for entry signals
// and volatility-based stops. Every function reads the most recent window of
// klines ordered oldest first and reports the value at the last kline.
package indicators

import (
	"errors"
	"fmt"
)

// ErrInsufficientData is wrapped by every error caused by a short window.
var ErrInsufficientData = errors.New("insufficient data")

// ErrInvalidPeriod is returned for a period below one.
var ErrInvalidPeriod = errors.New("period must be positive")

// InsufficientDataError names the indicator and how many klines it needed.
type InsufficientDataError struct {
	Indicator string
	Need      int
	Have      int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("%s: need %d klines, have %d", e.Indicator, e.Need, e.Have)
}

func (e *InsufficientDataError) Unwrap() error { return ErrInsufficientData }

// Lookback returns how many klines an indicator needs for the given period.
func Lookback(name string, period int) int {
	switch name {
	case NameRSI, NameATR:
		return period + 1
	default:
		return period
	}
}

// Indicator names.
const (
	NameSMA = "SMA"
	NameEMA = "EMA"
	NameRSI = "RSI"
	NameATR = "ATR"
)

func checkWindow(name string, period, have int) error {
	if period < 1 {
		return fmt.Errorf("%s: %w", name, ErrInvalidPeriod)
	}
	if need := Lookback(name, period); have < need {
		return &InsufficientDataError{Indicator: name, Need: need, Have: have}
	}
	return nil
}
