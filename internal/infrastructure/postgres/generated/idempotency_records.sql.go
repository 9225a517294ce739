package generated

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const deletePublishedRecords = `-- name: DeletePublishedRecords :execrows
DELETE FROM idempotency_records WHERE published_at IS NOT NULL AND committed_at < $1
`

func (q *Queries) DeletePublishedRecords(ctx context.Context, committedAt pgtype.Timestamptz) (int64, error) {
	result, err := q.db.Exec(ctx, deletePublishedRecords, committedAt)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const getAcceptedReversal = `-- name: GetAcceptedReversal :one
SELECT event_id, correlation_id, event_type, result, reason, account_id, destination_account_id,
       reverses_event_id, amount, currency, new_balance, destination_new_balance, committed_at, published_at
FROM idempotency_records WHERE reverses_event_id = $1 AND result = 'accepted'
`

func (q *Queries) GetAcceptedReversal(ctx context.Context, reversesEventID pgtype.Text) (IdempotencyRecord, error) {
	row := q.db.QueryRow(ctx, getAcceptedReversal, reversesEventID)
	var i IdempotencyRecord
	err := row.Scan(
		&i.EventID,
		&i.CorrelationID,
		&i.EventType,
		&i.Result,
		&i.Reason,
		&i.AccountID,
		&i.DestinationAccountID,
		&i.ReversesEventID,
		&i.Amount,
		&i.Currency,
		&i.NewBalance,
		&i.DestinationNewBalance,
		&i.CommittedAt,
		&i.PublishedAt,
	)
	return i, err
}

const getIdempotencyRecord = `-- name: GetIdempotencyRecord :one
SELECT event_id, correlation_id, event_type, result, reason, account_id, destination_account_id,
       reverses_event_id, amount, currency, new_balance, destination_new_balance, committed_at, published_at
FROM idempotency_records WHERE event_id = $1
`

func (q *Queries) GetIdempotencyRecord(ctx context.Context, eventID string) (IdempotencyRecord, error) {
	row := q.db.QueryRow(ctx, getIdempotencyRecord, eventID)
	var i IdempotencyRecord
	err := row.Scan(
		&i.EventID,
		&i.CorrelationID,
		&i.EventType,
		&i.Result,
		&i.Reason,
		&i.AccountID,
		&i.DestinationAccountID,
		&i.ReversesEventID,
		&i.Amount,
		&i.Currency,
		&i.NewBalance,
		&i.DestinationNewBalance,
		&i.CommittedAt,
		&i.PublishedAt,
	)
	return i, err
}

const insertIdempotencyRecord = `-- name: InsertIdempotencyRecord :execrows
INSERT INTO idempotency_records (
    event_id, correlation_id, event_type, result, reason, account_id, destination_account_id,
    reverses_event_id, amount, currency, new_balance, destination_new_balance, committed_at, published_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
ON CONFLICT (event_id) DO NOTHING
`

type InsertIdempotencyRecordParams struct {
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

func (q *Queries) InsertIdempotencyRecord(ctx context.Context, arg InsertIdempotencyRecordParams) (int64, error) {
	result, err := q.db.Exec(ctx, insertIdempotencyRecord,
		arg.EventID,
		arg.CorrelationID,
		arg.EventType,
		arg.Result,
		arg.Reason,
		arg.AccountID,
		arg.DestinationAccountID,
		arg.ReversesEventID,
		arg.Amount,
		arg.Currency,
		arg.NewBalance,
		arg.DestinationNewBalance,
		arg.CommittedAt,
		arg.PublishedAt,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const listUnpublishedRecords = `-- name: ListUnpublishedRecords :many
SELECT event_id, correlation_id, event_type, result, reason, account_id, destination_account_id,
       reverses_event_id, amount, currency, new_balance, destination_new_balance, committed_at, published_at
FROM idempotency_records
WHERE published_at IS NULL AND committed_at < $1
ORDER BY committed_at
LIMIT $2
`

type ListUnpublishedRecordsParams struct {
	CommittedAt pgtype.Timestamptz `json:"committed_at"`
	Limit       int32              `json:"limit"`
}

func (q *Queries) ListUnpublishedRecords(ctx context.Context, arg ListUnpublishedRecordsParams) ([]IdempotencyRecord, error) {
	rows, err := q.db.Query(ctx, listUnpublishedRecords, arg.CommittedAt, arg.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []IdempotencyRecord{}
	for rows.Next() {
		var i IdempotencyRecord
		if err := rows.Scan(
			&i.EventID,
			&i.CorrelationID,
			&i.EventType,
			&i.Result,
			&i.Reason,
			&i.AccountID,
			&i.DestinationAccountID,
			&i.ReversesEventID,
			&i.Amount,
			&i.Currency,
			&i.NewBalance,
			&i.DestinationNewBalance,
			&i.CommittedAt,
			&i.PublishedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const markRecordPublished = `-- name: MarkRecordPublished :execrows
UPDATE idempotency_records SET published_at = $2 WHERE event_id = $1 AND published_at IS NULL
`

type MarkRecordPublishedParams struct {
	EventID     string             `json:"event_id"`
	PublishedAt pgtype.Timestamptz `json:"published_at"`
}

func (q *Queries) MarkRecordPublished(ctx context.Context, arg MarkRecordPublishedParams) (int64, error) {
	result, err := q.db.Exec(ctx, markRecordPublished, arg.EventID, arg.PublishedAt)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}
