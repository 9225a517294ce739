package generated

import (
	"github.com/jackc/pgx/v5/pgtype"
)

type Account struct {
	ID        string             `json:"id"`
	Currency  string             `json:"currency"`
	Balance   int64              `json:"balance"`
	Version   int64              `json:"version"`
	Status    string             `json:"status"`
	CreatedAt pgtype.Timestamptz `json:"created_at"`
	UpdatedAt pgtype.Timestamptz `json:"updated_at"`
}

type IdempotencyRecord struct {
	EventID               string             `json:"event_id"`
	CorrelationID         string             `json:"correlation_id"`
	EventType             string             `json:"event_type"`
	Result                string             `json:"result"`
	Reason                string             `json:"reason"`
	AccountID             string             `json:"account_id"`
	DestinationAccountID  pgtype.Text        `json:"destination_account_id"`
	ReversesEventID       pgtype.Text        `json:"reverses_event_id"`
	Amount                int64              `json:"amount"`
	Currency              string             `json:"currency"`
	NewBalance            pgtype.Int8        `json:"new_balance"`
	DestinationNewBalance pgtype.Int8        `json:"destination_new_balance"`
	CommittedAt           pgtype.Timestamptz `json:"committed_at"`
	PublishedAt           pgtype.Timestamptz `json:"published_at"`
}
