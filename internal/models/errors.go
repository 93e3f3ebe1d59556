package models

import (
	"errors"
	"fmt"
)

// Sentinel error kinds. Callers classify failures with errors.Is and
// decide between retry, fallback and clean shutdown.
var (
	// ErrInvalidToken means the exchange rejected our credentials.
	// Fatal for that account; the caller may fall back to an alternate token.
	ErrInvalidToken = errors.New("invalid token")

	// ErrTransport covers connection loss, timeouts and send failures.
	// Never propagates out of the transport except as status events.
	ErrTransport = errors.New("transport failure")

	// ErrConfig marks invalid configuration rejected synchronously.
	ErrConfig = errors.New("invalid configuration")

	// ErrRiskAbort stops a session cleanly: balance too low, consecutive
	// losses, daily cap, or martingale level exceeded.
	ErrRiskAbort = errors.New("risk abort")

	// ErrIntegrity marks a corrupt persisted record.
	ErrIntegrity = errors.New("integrity check failed")

	// ErrInternalTimeout marks a stuck in-flight operation that was reset.
	ErrInternalTimeout = errors.New("internal timeout")
)

// ExchangeError is an error frame returned by the exchange.
type ExchangeError struct {
	Code    string
	Message string
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("exchange error %s: %s", e.Code, e.Message)
}

// IsRateLimit reports whether the exchange asked us to slow down.
func (e *ExchangeError) IsRateLimit() bool {
	return e.Code == "RateLimit"
}

// IsAuthFailure reports token-level rejection.
func (e *ExchangeError) IsAuthFailure() bool {
	return e.Code == "InvalidToken" || e.Code == "AuthorizationRequired"
}
