package domain

import "time"

// Result is the terminal outcome of applying an event.
type Result string

const (
	ResultAccepted Result = "accepted"
	ResultRejected Result = "rejected"
)

// Outcome is what an event did to the store, as persisted alongside its
// idempotency record.
type Outcome struct {
	Result                Result
	Reason                string
	EventType             EventType
	AccountID             string
	DestinationAccountID  string
	ReversesEventID       string
	Amount                Money
	NewBalance            *int64
	DestinationNewBalance *int64
}

// IdempotencyRecord marks an event as applied. Its presence means the
// event must never be applied again.
type IdempotencyRecord struct {
	CommittedAt   time.Time
	PublishedAt   *time.Time
	EventID       string
	CorrelationID string
	Outcome       Outcome
}

// Published reports whether the outcome reached the outcome topic.
func (r *IdempotencyRecord) Published() bool {
	return r.PublishedAt != nil
}

// OutcomeEvent is the message emitted for a committed outcome.
type OutcomeEvent struct {
	ProcessedAt           time.Time
	NewBalance            *Money
	DestinationNewBalance *Money
	EventID               string
	CorrelationID         string
	EventType             EventType
	Result                Result
	Reason                string
	AccountID             string
	DestinationAccountID  string
}

// OutcomeEvent derives the outbound message from the stored record, so a
// re-publish always carries the same content as the first publish.
func (r *IdempotencyRecord) OutcomeEvent() OutcomeEvent {
	evt := OutcomeEvent{
		ProcessedAt:          r.CommittedAt,
		EventID:              r.EventID,
		CorrelationID:        r.CorrelationID,
		EventType:            r.Outcome.EventType,
		Result:               r.Outcome.Result,
		Reason:               r.Outcome.Reason,
		AccountID:            r.Outcome.AccountID,
		DestinationAccountID: r.Outcome.DestinationAccountID,
	}

	currency := r.Outcome.Amount.Currency
	if r.Outcome.NewBalance != nil {
		evt.NewBalance = &Money{Amount: *r.Outcome.NewBalance, Currency: currency}
	}
	if r.Outcome.DestinationNewBalance != nil {
		evt.DestinationNewBalance = &Money{Amount: *r.Outcome.DestinationNewBalance, Currency: currency}
	}

	return evt
}
