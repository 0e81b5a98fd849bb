package ports

import "errors"

// Standard application-level errors.
// Adapters wrap underlying infrastructure errors with these so callers can use errors.Is.
var (
	// General Errors
	ErrUnknown            = errors.New("unknown error occurred")
	ErrInvalidRequest     = errors.New("invalid request parameters or format")
	ErrNotFound           = errors.New("resource not found")
	ErrTimeout            = errors.New("operation timed out")
	ErrContextCanceled    = errors.New("operation canceled via context")
	ErrConfigurationError = errors.New("invalid or missing configuration")

	// Order Submission Errors
	ErrInvalidQuantity         = errors.New("quantity must be positive")
	ErrInvalidOrder            = errors.New("invalid order")
	ErrInsufficientBuyingPower = errors.New("insufficient buying power")
	ErrInsufficientCash        = errors.New("insufficient cash to cover short")
	ErrRiskLimit               = errors.New("order exceeds risk limit")

	// Snapshot Errors
	ErrInvalidSnapshot = errors.New("invalid state snapshot")

	// Market Data Errors
	ErrExchangeUnavailable  = errors.New("exchange API is unavailable")
	ErrConnectionFailed     = errors.New("failed to connect to the exchange")
	ErrRateLimited          = errors.New("API rate limit exceeded")
	ErrAuthenticationFailed = errors.New("exchange authentication failed (check API keys)")
	ErrSymbolNotFound       = errors.New("symbol not found on the exchange")

	// Database Specific Errors
	ErrDBConnection = errors.New("database connection error")
	ErrQueryFailed  = errors.New("database query failed")
	ErrUpdateFailed = errors.New("database update failed")
)
