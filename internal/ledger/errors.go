package ledger

import (
	"errors"
	"fmt"
)

// Stable error taxonomy. Handlers map these to status codes and user-facing
// text; names never change once shipped.
var (
	ErrUserNotFound        = errors.New("user not found")
	ErrWalletNotFound      = errors.New("wallet not found")
	ErrWalletFrozen        = errors.New("wallet is frozen")
	ErrUserBanned          = errors.New("user is banned")
	ErrProviderUnavailable = errors.New("provider unavailable")
	ErrProviderRejected    = errors.New("provider rejected the request")
	ErrIllegalTransition   = errors.New("illegal transaction status transition")
	ErrStatePersistence    = errors.New("conversation state persistence failed")
)

// InsufficientFundsError carries the numbers the user is shown.
type InsufficientFundsError struct {
	Required  int64
	Available int64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: required %d, available %d", e.Required, e.Available)
}

func (e *InsufficientFundsError) Shortfall() int64 {
	return e.Required - e.Available
}

func IsInsufficientFunds(err error) bool {
	var target *InsufficientFundsError
	return errors.As(err, &target)
}

// LimitExceededError reports which cap was hit and what headroom remains.
type LimitExceededError struct {
	Scope     string // "minimum", "maximum", "daily", "monthly"
	Limit     int64
	Remaining int64
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("%s transfer limit exceeded: limit %d, remaining %d", e.Scope, e.Limit, e.Remaining)
}

// ValidationError names the failing field so chat prompts can point at it.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// AuthError covers bad PINs and dead sessions.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	return e.Reason
}
