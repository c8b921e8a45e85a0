package domain

import "time"

// TradeEventKind classifies an account-visible event.
type TradeEventKind string

const (
	EventSignalSkipped      TradeEventKind = "SIGNAL_SKIPPED"
	EventBreakerBlocked     TradeEventKind = "BREAKER_BLOCKED"
	EventLimitViolation     TradeEventKind = "LIMIT_VIOLATION"
	EventOrderFailed        TradeEventKind = "ORDER_FAILED"
	EventTradeOpened        TradeEventKind = "TRADE_OPENED"
	EventPartialExit        TradeEventKind = "PARTIAL_EXIT"
	EventTradeClosed        TradeEventKind = "TRADE_CLOSED"
	EventCloseFailed        TradeEventKind = "CLOSE_FAILED"
	EventCloseFailureAlert  TradeEventKind = "CLOSE_FAILURE_ALERT"
	EventConfigurationError TradeEventKind = "CONFIGURATION_ERROR"
	EventInvariantViolation TradeEventKind = "INVARIANT_VIOLATION"
)

// TradeEvent records why a trade was skipped, blocked or failed so the account
// owner can see it.
type TradeEvent struct {
	ID        int64
	UserID    int64
	TradeID   int64 // Zero when no trade exists yet
	Symbol    string
	Kind      TradeEventKind
	Message   string
	CreatedAt time.Time
}
