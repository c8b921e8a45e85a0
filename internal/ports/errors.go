package ports

import "errors"

// Standard application-level errors.
// Adapters should wrap underlying infrastructure errors with these standard errors.
var (
	// General Errors
	ErrUnknown            = errors.New("unknown error occurred")
	ErrInvalidRequest     = errors.New("invalid request parameters or format")
	ErrNotFound           = errors.New("resource not found")
	ErrTimeout            = errors.New("operation timed out")
	ErrContextCanceled    = errors.New("operation canceled via context")
	ErrConfigurationError = errors.New("invalid or missing configuration")
	ErrCredentialsMissing = errors.New("exchange credentials missing or undecryptable")

	// Exchange Specific Errors
	ErrExchangeUnavailable  = errors.New("exchange API is unavailable")
	ErrRateLimited          = errors.New("API rate limit exceeded")
	ErrClockSkew            = errors.New("local clock outside exchange tolerance")
	ErrAuthenticationFailed = errors.New("exchange authentication failed (check API keys)")
	ErrInsufficientFunds    = errors.New("insufficient funds for operation")
	ErrInvalidSymbol        = errors.New("invalid or unsupported symbol")
	ErrInvalidOrder         = errors.New("order rejected by trading rules")
	ErrOrderNotFound        = errors.New("order not found on the exchange")
	ErrOrderPlacementFailed = errors.New("failed to place order")

	// Trading Policy Errors
	ErrLimitViolation = errors.New("trading limit violated")
	ErrBreakerBlocked = errors.New("circuit breaker blocked new entries")

	// Invariant Violations
	ErrDuplicatePosition = errors.New("an open trade already exists for this user, symbol and strategy")
	ErrStopRetreat       = errors.New("stop-loss may not move against the position")
	ErrPhaseRegression   = errors.New("trade phase may not move backwards")

	// Database Specific Errors
	ErrDuplicateEntry = errors.New("database record already exists")
	ErrDBConnection   = errors.New("database connection error")
	ErrQueryFailed    = errors.New("database query failed")
	ErrUpdateFailed   = errors.New("database update failed")
)

// IsTransient reports whether err is worth retrying for an idempotent read.
func IsTransient(err error) bool {
	return errors.Is(err, ErrExchangeUnavailable) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrRateLimited)
}
