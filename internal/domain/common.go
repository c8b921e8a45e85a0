package domain

// OrderSide represents the side of an order (BUY or SELL).
type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

// Opposite returns the side that closes a position opened with s.
func (s OrderSide) Opposite() OrderSide {
	if s == Buy {
		return Sell
	}
	return Buy
}

// Valid reports whether s is BUY or SELL.
func (s OrderSide) Valid() bool {
	return s == Buy || s == Sell
}

// OrderType represents how an order is executed.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
	OrderTypeStop   OrderType = "STOP"
)

// OrderStatus represents the fill state of an order as reported by a backend.
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "NEW"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCanceled        OrderStatus = "CANCELED"
	OrderStatusRejected        OrderStatus = "REJECTED"
)

// IsFinal reports whether no further fills can happen for the status.
func (s OrderStatus) IsFinal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusRejected:
		return true
	default:
		return false
	}
}

// TradeStatus represents whether a trade still holds exposure.
type TradeStatus string

const (
	TradeStatusOpen   TradeStatus = "OPEN"
	TradeStatusClosed TradeStatus = "CLOSED"
)

// ExitReason indicates why (part of) a trade was closed.
type ExitReason string

const (
	ExitReasonStopLoss     ExitReason = "STOP_LOSS"
	ExitReasonBreakeven    ExitReason = "BREAKEVEN_STOP"
	ExitReasonTrailingStop ExitReason = "TRAILING_STOP"
	ExitReasonTakeProfit1  ExitReason = "TAKE_PROFIT_1"
	ExitReasonTakeProfit2  ExitReason = "TAKE_PROFIT_2"
	ExitReasonManual       ExitReason = "MANUAL"
	ExitReasonStrategyExit ExitReason = "STRATEGY_EXIT"
	ExitReasonEmergency    ExitReason = "EMERGENCY"
	ExitReasonUnknown      ExitReason = "UNKNOWN"
)
