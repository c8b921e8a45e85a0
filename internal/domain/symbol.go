package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// SymbolInfo carries the trading rules of a symbol.
type SymbolInfo struct {
	Symbol      string
	BaseAsset   string
	QuoteAsset  string
	Status      string
	TickSize    float64 // Price increment; zero means unconstrained
	StepSize    float64 // Quantity increment; zero means unconstrained
	MinQty      float64
	MinNotional float64
}

// RoundPrice rounds price to the nearest tick.
func (s SymbolInfo) RoundPrice(price float64) float64 {
	if s.TickSize <= 0 {
		return price
	}
	tick := decimal.NewFromFloat(s.TickSize)
	p := decimal.NewFromFloat(price).Div(tick).Round(0).Mul(tick)
	f, _ := p.Float64()
	return f
}

// RoundQuantity floors qty to the step size so the rounded quantity never
// exceeds what was sized.
func (s SymbolInfo) RoundQuantity(qty float64) float64 {
	if s.StepSize <= 0 {
		return qty
	}
	step := decimal.NewFromFloat(s.StepSize)
	q := decimal.NewFromFloat(qty).Div(step).Floor().Mul(step)
	f, _ := q.Float64()
	return f
}

func isMultiple(value, increment float64) bool {
	if increment <= 0 {
		return true
	}
	return decimal.NewFromFloat(value).Mod(decimal.NewFromFloat(increment)).IsZero()
}

// CheckIntent verifies the intent against tick size, step size, minimum
// quantity and minimum notional. refPrice is used for market orders.
func (s SymbolInfo) CheckIntent(intent OrderIntent, refPrice float64) error {
	if !isMultiple(intent.Quantity, s.StepSize) {
		return fmt.Errorf("quantity %v is not a multiple of step size %v", intent.Quantity, s.StepSize)
	}
	if s.MinQty > 0 && intent.Quantity < s.MinQty {
		return fmt.Errorf("quantity %v below minimum %v", intent.Quantity, s.MinQty)
	}
	if intent.Type == OrderTypeLimit && !isMultiple(intent.Price, s.TickSize) {
		return fmt.Errorf("price %v is not a multiple of tick size %v", intent.Price, s.TickSize)
	}
	if intent.Type == OrderTypeStop && !isMultiple(intent.StopPrice, s.TickSize) {
		return fmt.Errorf("stop price %v is not a multiple of tick size %v", intent.StopPrice, s.TickSize)
	}
	if s.MinNotional > 0 {
		notional := intent.Notional(refPrice)
		if notional < s.MinNotional {
			return fmt.Errorf("notional %.8f below minimum %.8f", notional, s.MinNotional)
		}
	}
	return nil
}
