// Package codec converts between wire messages and domain events.
package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/iho/txstream/internal/domain"
)

// Kind classifies a decode failure.
type Kind string

const (
	MalformedEnvelope Kind = "MalformedEnvelope"
	UnsupportedType   Kind = "UnsupportedType"
	InvalidAmount     Kind = "InvalidAmount"
)

// DecodeError is returned for messages that can never be processed.
type DecodeError struct {
	Kind Kind
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Kind, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func decodeErr(kind Kind, format string, args ...any) *DecodeError {
	return &DecodeError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

type envelope struct {
	EventID               string     `json:"eventId"`
	OccurredAt            string     `json:"occurredAt"`
	Type                  string     `json:"type"`
	AccountRef            string     `json:"accountRef"`
	DestinationAccountRef string     `json:"destinationAccountRef"`
	Amount                *moneyWire `json:"amount"`
	CorrelationID         string     `json:"correlationId"`
	ReversesEventID       string     `json:"reversesEventId"`
}

// moneyWire carries value as either a JSON string or a JSON number literal.
type moneyWire struct {
	Value    json.RawMessage `json:"value"`
	Currency string          `json:"currency"`
}

// Decode parses a raw message into a validated event.
func Decode(raw []byte) (*domain.Event, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, decodeErr(MalformedEnvelope, "empty message")
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, &DecodeError{Kind: MalformedEnvelope, Err: err}
	}

	if strings.TrimSpace(env.EventID) == "" {
		return nil, decodeErr(MalformedEnvelope, "eventId is required")
	}
	if strings.TrimSpace(env.AccountRef) == "" {
		return nil, decodeErr(MalformedEnvelope, "accountRef is required")
	}
	if env.Type == "" {
		return nil, decodeErr(MalformedEnvelope, "type is required")
	}

	eventType, ok := domain.ParseEventType(env.Type)
	if !ok {
		return nil, decodeErr(UnsupportedType, "unsupported event type %q", env.Type)
	}

	if env.OccurredAt == "" {
		return nil, decodeErr(MalformedEnvelope, "occurredAt is required")
	}
	occurredAt, err := time.Parse(time.RFC3339Nano, env.OccurredAt)
	if err != nil {
		return nil, decodeErr(MalformedEnvelope, "occurredAt: %v", err)
	}

	event := &domain.Event{
		ID:                   env.EventID,
		OccurredAt:           occurredAt.UTC(),
		Type:                 eventType,
		AccountID:            env.AccountRef,
		DestinationAccountID: env.DestinationAccountRef,
		ReversesEventID:      env.ReversesEventID,
		CorrelationID:        env.CorrelationID,
	}
	if event.CorrelationID == "" {
		event.CorrelationID = event.ID
	}

	money, err := decodeMoney(env.Amount, eventType == domain.EventTypeReversal)
	if err != nil {
		return nil, err
	}
	event.Amount = money

	if err := event.Validate(); err != nil {
		if errors.Is(err, domain.ErrInvalidAmount) {
			return nil, &DecodeError{Kind: InvalidAmount, Err: err}
		}
		return nil, &DecodeError{Kind: MalformedEnvelope, Err: err}
	}

	return event, nil
}

func decodeMoney(m *moneyWire, optional bool) (domain.Money, error) {
	if m == nil || len(m.Value) == 0 || string(m.Value) == "null" {
		if optional {
			if m != nil && m.Currency != "" {
				currency, err := domain.NormalizeCurrency(m.Currency)
				if err != nil {
					return domain.Money{}, &DecodeError{Kind: MalformedEnvelope, Err: err}
				}
				return domain.Money{Currency: currency}, nil
			}
			return domain.Money{}, nil
		}
		return domain.Money{}, decodeErr(InvalidAmount, "amount is required")
	}

	currency, err := domain.NormalizeCurrency(m.Currency)
	if err != nil {
		return domain.Money{}, &DecodeError{Kind: MalformedEnvelope, Err: err}
	}

	literal := string(m.Value)
	if m.Value[0] == '"' {
		if err := json.Unmarshal(m.Value, &literal); err != nil {
			return domain.Money{}, &DecodeError{Kind: InvalidAmount, Err: err}
		}
	}

	minor, err := domain.ParseAmount(literal, currency)
	if err != nil {
		return domain.Money{}, &DecodeError{Kind: InvalidAmount, Err: err}
	}

	return domain.Money{Amount: minor, Currency: currency}, nil
}

type outcomeWire struct {
	EventID               string     `json:"eventId"`
	CorrelationID         string     `json:"correlationId"`
	EventType             string     `json:"eventType"`
	Result                string     `json:"result"`
	Reason                string     `json:"reason,omitempty"`
	AccountRef            string     `json:"accountRef"`
	NewBalance            *moneyJSON `json:"newBalance,omitempty"`
	DestinationAccountRef string     `json:"destinationAccountRef,omitempty"`
	DestinationNewBalance *moneyJSON `json:"destinationNewBalance,omitempty"`
	ProcessedAt           time.Time  `json:"processedAt"`
}

type moneyJSON struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

func toMoneyJSON(m *domain.Money) *moneyJSON {
	if m == nil {
		return nil
	}
	return &moneyJSON{Value: domain.FormatAmount(m.Amount, m.Currency), Currency: m.Currency}
}

// EncodeOutcome serializes an outcome event for the outcome topic.
func EncodeOutcome(evt domain.OutcomeEvent) ([]byte, error) {
	payload, err := json.Marshal(outcomeWire{
		EventID:               evt.EventID,
		CorrelationID:         evt.CorrelationID,
		EventType:             string(evt.EventType),
		Result:                string(evt.Result),
		Reason:                evt.Reason,
		AccountRef:            evt.AccountID,
		NewBalance:            toMoneyJSON(evt.NewBalance),
		DestinationAccountRef: evt.DestinationAccountID,
		DestinationNewBalance: toMoneyJSON(evt.DestinationNewBalance),
		ProcessedAt:           evt.ProcessedAt.UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("encode outcome %s: %w", evt.EventID, err)
	}

	return payload, nil
}
