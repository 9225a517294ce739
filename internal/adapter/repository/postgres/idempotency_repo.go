package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/iho/txstream/internal/domain"
	"github.com/iho/txstream/internal/infrastructure/postgres/generated"
)

// IdempotencyRepository implements usecase.IdempotencyLedger and
// usecase.OutcomeRepository. Records are inserted only by StateStore.Commit.
type IdempotencyRepository struct {
	queries *generated.Queries
}

// NewIdempotencyRepository creates a new IdempotencyRepository.
func NewIdempotencyRepository(pool *pgxpool.Pool) *IdempotencyRepository {
	return newIdempotencyRepositoryWithDB(pool)
}

func newIdempotencyRepositoryWithDB(db generated.DBTX) *IdempotencyRepository {
	return &IdempotencyRepository{queries: generated.New(db)}
}

// HasBeenProcessed reports whether a record exists for eventID.
func (r *IdempotencyRepository) HasBeenProcessed(ctx context.Context, eventID string) (bool, error) {
	_, err := r.Get(ctx, eventID)
	if errors.Is(err, domain.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	return true, nil
}

// Get returns the committed record of eventID.
func (r *IdempotencyRepository) Get(ctx context.Context, eventID string) (*domain.IdempotencyRecord, error) {
	row, err := r.queries.GetIdempotencyRecord(ctx, eventID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrRecordNotFound
		}

		return nil, classify(err)
	}

	return rowToRecord(row), nil
}

// GetAcceptedReversal returns the accepted reversal of originalEventID.
func (r *IdempotencyRepository) GetAcceptedReversal(ctx context.Context, originalEventID string) (*domain.IdempotencyRecord, error) {
	row, err := r.queries.GetAcceptedReversal(ctx, textOrNull(originalEventID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrRecordNotFound
		}

		return nil, classify(err)
	}

	return rowToRecord(row), nil
}

// MarkPublished records that the outcome reached the outcome topic.
// Marking an already published record is a no-op.
func (r *IdempotencyRepository) MarkPublished(ctx context.Context, eventID string, publishedAt time.Time) error {
	_, err := r.queries.MarkRecordPublished(ctx, generated.MarkRecordPublishedParams{
		EventID:     eventID,
		PublishedAt: timeToPgTimestamptz(publishedAt),
	})

	return classify(err)
}

// ListUnpublished returns the oldest unpublished records committed before
// committedBefore.
func (r *IdempotencyRepository) ListUnpublished(ctx context.Context, committedBefore time.Time, limit int) ([]*domain.IdempotencyRecord, error) {
	rows, err := r.queries.ListUnpublishedRecords(ctx, generated.ListUnpublishedRecordsParams{
		CommittedAt: timeToPgTimestamptz(committedBefore),
		Limit:       int32(limit),
	})
	if err != nil {
		return nil, classify(err)
	}

	records := make([]*domain.IdempotencyRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, rowToRecord(row))
	}

	return records, nil
}

// Prune deletes published records committed before committedBefore.
func (r *IdempotencyRepository) Prune(ctx context.Context, committedBefore time.Time) (int64, error) {
	deleted, err := r.queries.DeletePublishedRecords(ctx, timeToPgTimestamptz(committedBefore))
	if err != nil {
		return 0, classify(err)
	}

	return deleted, nil
}

func recordToParams(rec *domain.IdempotencyRecord) generated.InsertIdempotencyRecordParams {
	o := rec.Outcome

	params := generated.InsertIdempotencyRecordParams{
		EventID:               rec.EventID,
		CorrelationID:         rec.CorrelationID,
		EventType:             string(o.EventType),
		Result:                string(o.Result),
		Reason:                o.Reason,
		AccountID:             o.AccountID,
		DestinationAccountID:  textOrNull(o.DestinationAccountID),
		ReversesEventID:       textOrNull(o.ReversesEventID),
		Amount:                o.Amount.Amount,
		Currency:              o.Amount.Currency,
		NewBalance:            int8OrNull(o.NewBalance),
		DestinationNewBalance: int8OrNull(o.DestinationNewBalance),
		CommittedAt:           timeToPgTimestamptz(rec.CommittedAt),
	}
	if rec.PublishedAt != nil {
		params.PublishedAt = timeToPgTimestamptz(*rec.PublishedAt)
	}

	return params
}

func rowToRecord(row generated.IdempotencyRecord) *domain.IdempotencyRecord {
	rec := &domain.IdempotencyRecord{
		EventID:       row.EventID,
		CorrelationID: row.CorrelationID,
		CommittedAt:   row.CommittedAt.Time,
		Outcome: domain.Outcome{
			Result:                domain.Result(row.Result),
			Reason:                row.Reason,
			EventType:             domain.EventType(row.EventType),
			AccountID:             row.AccountID,
			DestinationAccountID:  row.DestinationAccountID.String,
			ReversesEventID:       row.ReversesEventID.String,
			Amount:                domain.Money{Amount: row.Amount, Currency: row.Currency},
			NewBalance:            int8Ptr(row.NewBalance),
			DestinationNewBalance: int8Ptr(row.DestinationNewBalance),
		},
	}

	if row.PublishedAt.Valid {
		t := row.PublishedAt.Time
		rec.PublishedAt = &t
	}

	return rec
}

func textOrNull(s string) pgtype.Text {
	return pgtype.Text{String: s, Valid: s != ""}
}

func int8OrNull(v *int64) pgtype.Int8 {
	if v == nil {
		return pgtype.Int8{}
	}
	return pgtype.Int8{Int64: *v, Valid: true}
}

func int8Ptr(v pgtype.Int8) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}
