package codec

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/iho/txstream/internal/domain"
)

func TestDecode(t *testing.T) {
	t.Parallel()

	raw := []byte(`{
		"eventId": "evt-1",
		"occurredAt": "2024-03-01T10:00:00Z",
		"type": "transfer",
		"accountRef": "acc-a",
		"destinationAccountRef": "acc-b",
		"amount": {"value": "100.50", "currency": "usd"},
		"somethingNew": {"nested": true}
	}`)

	event, err := Decode(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if event.Type != domain.EventTypeTransfer {
		t.Errorf("expected Transfer, got %s", event.Type)
	}
	if event.Amount.Amount != 10050 || event.Amount.Currency != "USD" {
		t.Errorf("unexpected amount: %+v", event.Amount)
	}
	if event.CorrelationID != "evt-1" {
		t.Errorf("expected correlation id to default to event id, got %q", event.CorrelationID)
	}
	if !event.OccurredAt.Equal(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected occurredAt: %s", event.OccurredAt)
	}
}

func TestDecode_NumericAmount(t *testing.T) {
	t.Parallel()

	raw := []byte(`{"eventId":"e","occurredAt":"2024-03-01T10:00:00.123Z","type":"Deposit",
		"accountRef":"a","amount":{"value":12.5,"currency":"EUR"},"correlationId":"c-9"}`)

	event, err := Decode(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if event.Amount.Amount != 1250 {
		t.Errorf("expected 1250 minor units, got %d", event.Amount.Amount)
	}
	if event.CorrelationID != "c-9" {
		t.Errorf("expected correlation id c-9, got %q", event.CorrelationID)
	}
}

func TestDecode_Reversal(t *testing.T) {
	t.Parallel()

	raw := []byte(`{"eventId":"r1","occurredAt":"2024-03-01T10:00:00Z","type":"Reversal",
		"accountRef":"a","reversesEventId":"e1"}`)

	event, err := Decode(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if event.ReversesEventID != "e1" || event.Amount.Amount != 0 {
		t.Errorf("unexpected reversal: %+v", event)
	}
}

func TestDecode_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		kind Kind
	}{
		{name: "empty", raw: ``, kind: MalformedEnvelope},
		{name: "not json", raw: `{"eventId":`, kind: MalformedEnvelope},
		{name: "missing event id", raw: `{"occurredAt":"2024-03-01T10:00:00Z","type":"Deposit","accountRef":"a","amount":{"value":"1","currency":"USD"}}`, kind: MalformedEnvelope},
		{name: "missing account", raw: `{"eventId":"e","occurredAt":"2024-03-01T10:00:00Z","type":"Deposit","amount":{"value":"1","currency":"USD"}}`, kind: MalformedEnvelope},
		{name: "bad timestamp", raw: `{"eventId":"e","occurredAt":"yesterday","type":"Deposit","accountRef":"a","amount":{"value":"1","currency":"USD"}}`, kind: MalformedEnvelope},
		{name: "unknown type", raw: `{"eventId":"e","occurredAt":"2024-03-01T10:00:00Z","type":"Refund","accountRef":"a","amount":{"value":"1","currency":"USD"}}`, kind: UnsupportedType},
		{name: "missing amount", raw: `{"eventId":"e","occurredAt":"2024-03-01T10:00:00Z","type":"Deposit","accountRef":"a"}`, kind: InvalidAmount},
		{name: "negative amount", raw: `{"eventId":"e","occurredAt":"2024-03-01T10:00:00Z","type":"Deposit","accountRef":"a","amount":{"value":"-1","currency":"USD"}}`, kind: InvalidAmount},
		{name: "too precise", raw: `{"eventId":"e","occurredAt":"2024-03-01T10:00:00Z","type":"Deposit","accountRef":"a","amount":{"value":"1.001","currency":"USD"}}`, kind: InvalidAmount},
		{name: "amount object", raw: `{"eventId":"e","occurredAt":"2024-03-01T10:00:00Z","type":"Deposit","accountRef":"a","amount":{"value":{"x":1},"currency":"USD"}}`, kind: InvalidAmount},
		{name: "unknown currency", raw: `{"eventId":"e","occurredAt":"2024-03-01T10:00:00Z","type":"Deposit","accountRef":"a","amount":{"value":"1","currency":"ZZZ"}}`, kind: MalformedEnvelope},
		{name: "transfer without destination", raw: `{"eventId":"e","occurredAt":"2024-03-01T10:00:00Z","type":"Transfer","accountRef":"a","amount":{"value":"1","currency":"USD"}}`, kind: MalformedEnvelope},
		{name: "transfer to self", raw: `{"eventId":"e","occurredAt":"2024-03-01T10:00:00Z","type":"Transfer","accountRef":"a","destinationAccountRef":"a","amount":{"value":"1","currency":"USD"}}`, kind: MalformedEnvelope},
		{name: "reversal without reference", raw: `{"eventId":"e","occurredAt":"2024-03-01T10:00:00Z","type":"Reversal","accountRef":"a"}`, kind: MalformedEnvelope},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.raw))

			var de *DecodeError
			if !errors.As(err, &de) {
				t.Fatalf("expected DecodeError, got %v", err)
			}
			if de.Kind != tt.kind {
				t.Fatalf("expected kind %s, got %s (%v)", tt.kind, de.Kind, err)
			}
		})
	}
}

func TestEncodeOutcome(t *testing.T) {
	t.Parallel()

	processedAt := time.Date(2024, 3, 1, 10, 0, 1, 0, time.UTC)
	payload, err := EncodeOutcome(domain.OutcomeEvent{
		EventID:               "e1",
		CorrelationID:         "c1",
		EventType:             domain.EventTypeTransfer,
		Result:                domain.ResultAccepted,
		AccountID:             "a",
		NewBalance:            &domain.Money{Amount: 4950, Currency: "USD"},
		DestinationAccountID:  "b",
		DestinationNewBalance: &domain.Money{Amount: 10050, Currency: "USD"},
		ProcessedAt:           processedAt,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal(payload, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if got["eventType"] != "Transfer" || got["result"] != "accepted" {
		t.Errorf("unexpected payload: %s", payload)
	}
	if _, ok := got["reason"]; ok {
		t.Errorf("reason must be omitted for accepted outcomes: %s", payload)
	}

	dest := got["destinationNewBalance"].(map[string]any)
	if dest["value"] != "100.50" || dest["currency"] != "USD" {
		t.Errorf("unexpected destination balance: %v", dest)
	}
	if got["processedAt"] != "2024-03-01T10:00:01Z" {
		t.Errorf("unexpected processedAt: %v", got["processedAt"])
	}
}

func TestEncodeOutcome_Rejected(t *testing.T) {
	t.Parallel()

	payload, err := EncodeOutcome(domain.OutcomeEvent{
		EventID:       "e2",
		CorrelationID: "e2",
		EventType:     domain.EventTypeWithdrawal,
		Result:        domain.ResultRejected,
		Reason:        "insufficient funds",
		AccountID:     "a",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal(payload, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got["reason"] != "insufficient funds" {
		t.Errorf("unexpected reason: %v", got["reason"])
	}
	if _, ok := got["newBalance"]; ok {
		t.Errorf("rejected outcome must not carry a balance: %s", payload)
	}
}
