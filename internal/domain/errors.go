package domain

import "errors"

var (
	// Account errors
	ErrAccountNotFound   = errors.New("account not found")
	ErrAccountExists     = errors.New("account already exists")
	ErrAccountFrozen     = errors.New("account frozen")
	ErrAccountClosed     = errors.New("account closed")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrBalanceOverflow   = errors.New("balance overflow")
	ErrCurrencyMismatch  = errors.New("currency mismatch")

	// Event errors
	ErrSameAccount         = errors.New("cannot transfer to same account")
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrMissingDestination  = errors.New("transfer requires a destination account")
	ErrMissingReversalRef  = errors.New("reversal requires the reversed event id")
	ErrOccurredInFuture    = errors.New("event occurred in the future")
	ErrOriginalNotFound    = errors.New("reversed event not found")
	ErrOriginalRejected    = errors.New("reversed event was rejected")
	ErrOriginalIsReversal  = errors.New("cannot reverse a reversal")
	ErrAlreadyReversed     = errors.New("event already reversed")
	ErrReversalAccount     = errors.New("reversal account does not match reversed event")
	ErrReversalAmount      = errors.New("reversal amount does not match reversed event")
	ErrUnsupportedCurrency = errors.New("unsupported currency")

	// Store errors
	ErrConflict         = errors.New("concurrent modification conflict")
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrRecordNotFound   = errors.New("idempotency record not found")

	// Processing errors
	ErrRetriesExhausted   = errors.New("retries exhausted")
	ErrPublishUnavailable = errors.New("outcome publisher unavailable")
)

// ValidationError is a business-rule violation. It becomes the permanent
// rejected outcome of the event and is never retried.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string {
	return e.Err.Error()
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Reject wraps err as a ValidationError.
func Reject(err error) error {
	return &ValidationError{Err: err}
}

// IsValidationError reports whether err is a business-rule violation.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
