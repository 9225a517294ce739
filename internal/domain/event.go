package domain

import (
	"strings"
	"time"
)

// EventType is the kind of inbound transaction event.
type EventType string

const (
	EventTypeDeposit    EventType = "Deposit"
	EventTypeWithdrawal EventType = "Withdrawal"
	EventTypeTransfer   EventType = "Transfer"
	EventTypeReversal   EventType = "Reversal"
)

// ParseEventType matches s case-insensitively against the known types.
func ParseEventType(s string) (EventType, bool) {
	for _, t := range []EventType{EventTypeDeposit, EventTypeWithdrawal, EventTypeTransfer, EventTypeReversal} {
		if strings.EqualFold(s, string(t)) {
			return t, true
		}
	}
	return "", false
}

// Money is an amount in minor units of Currency.
type Money struct {
	Amount   int64
	Currency string
}

// String renders the amount as a fixed-point decimal with its currency.
func (m Money) String() string {
	return FormatAmount(m.Amount, m.Currency) + " " + m.Currency
}

// Event is an immutable inbound transaction message.
type Event struct {
	OccurredAt           time.Time
	ID                   string
	Type                 EventType
	AccountID            string
	DestinationAccountID string
	ReversesEventID      string
	CorrelationID        string
	Amount               Money
}

// Validate checks the structural invariants of the event.
func (e *Event) Validate() error {
	switch e.Type {
	case EventTypeTransfer:
		if e.DestinationAccountID == "" {
			return ErrMissingDestination
		}
		if e.DestinationAccountID == e.AccountID {
			return ErrSameAccount
		}
	case EventTypeReversal:
		if e.ReversesEventID == "" {
			return ErrMissingReversalRef
		}
		if e.ReversesEventID == e.ID {
			return ErrOriginalIsReversal
		}
		// Amount is optional for reversals.
		if e.Amount.Amount == 0 {
			return nil
		}
	}

	if e.Amount.Amount <= 0 {
		return ErrInvalidAmount
	}

	return nil
}

// ShardKey is the key events are partitioned and ordered by.
func (e *Event) ShardKey() string {
	return e.AccountID
}
