package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// OrderIntent is a request to trade, before any backend has seen it.
type OrderIntent struct {
	Symbol        string
	Side          OrderSide
	Type          OrderType
	Quantity      float64
	Price         float64 // Limit price; zero for market orders
	StopPrice     float64 // Trigger price for STOP orders
	ClientOrderID string  // Idempotency token, optional
	ReduceOnly    bool    // Set on orders that only reduce an existing trade
}

// Validate checks the intent is well formed. Symbol rules are checked separately
// against SymbolInfo because they depend on the backend.
func (o OrderIntent) Validate() error {
	if strings.TrimSpace(o.Symbol) == "" {
		return fmt.Errorf("order intent: symbol is required")
	}
	if !o.Side.Valid() {
		return fmt.Errorf("order intent: invalid side %q", o.Side)
	}
	if o.Quantity <= 0 {
		return fmt.Errorf("order intent: quantity must be positive, got %v", o.Quantity)
	}
	switch o.Type {
	case OrderTypeMarket:
	case OrderTypeLimit:
		if o.Price <= 0 {
			return fmt.Errorf("order intent: limit order requires a positive price")
		}
	case OrderTypeStop:
		if o.StopPrice <= 0 {
			return fmt.Errorf("order intent: stop order requires a positive stop price")
		}
	default:
		return fmt.Errorf("order intent: invalid type %q", o.Type)
	}
	return nil
}

// ReferencePrice returns the price the intent is expected to execute at,
// falling back to marketPrice for market orders.
func (o OrderIntent) ReferencePrice(marketPrice float64) float64 {
	switch {
	case o.Type == OrderTypeLimit && o.Price > 0:
		return o.Price
	case o.Type == OrderTypeStop && o.StopPrice > 0:
		if o.Price > 0 {
			return o.Price
		}
		return o.StopPrice
	default:
		return marketPrice
	}
}

// Notional returns quantity × reference price.
func (o OrderIntent) Notional(marketPrice float64) float64 {
	return o.Quantity * o.ReferencePrice(marketPrice)
}

// NewClientOrderID returns a fresh idempotency token accepted by exchanges
// that cap client ids at 36 characters.
func NewClientOrderID() string {
	return "x-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:30]
}

// OrderResult is the normalized outcome of an order as reported by a backend.
type OrderResult struct {
	OrderID           string
	ClientOrderID     string
	Symbol            string
	Side              OrderSide
	Type              OrderType
	Status            OrderStatus
	RequestedQuantity float64
	FilledQuantity    float64
	AvgFillPrice      float64
	Commission        float64
	CommissionAsset   string
	FilledAt          time.Time
}

// Validate enforces the result invariants: filled quantity never exceeds the
// requested quantity and a FILLED result always carries a positive price.
func (r *OrderResult) Validate() error {
	if r == nil {
		return fmt.Errorf("order result is nil")
	}
	if r.FilledQuantity < 0 {
		return fmt.Errorf("order %s: negative filled quantity %v", r.OrderID, r.FilledQuantity)
	}
	if r.RequestedQuantity > 0 && r.FilledQuantity > r.RequestedQuantity*(1+1e-9) {
		return fmt.Errorf("order %s: filled quantity %v exceeds requested %v", r.OrderID, r.FilledQuantity, r.RequestedQuantity)
	}
	if r.Status == OrderStatusFilled && r.AvgFillPrice <= 0 {
		return fmt.Errorf("order %s: FILLED without a positive average price", r.OrderID)
	}
	return nil
}

// HasFill reports whether any quantity was executed.
func (r *OrderResult) HasFill() bool {
	return r != nil && r.FilledQuantity > 0 && r.AvgFillPrice > 0
}
