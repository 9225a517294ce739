package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/iho/txstream/internal/domain"
	"github.com/iho/txstream/internal/infrastructure/postgres/generated"
)

// DefaultTransactionTimeout is the maximum duration of one commit.
const DefaultTransactionTimeout = 10 * time.Second

type pgxPool interface {
	generated.DBTX
	Begin(context.Context) (pgx.Tx, error)
}

// StateStore implements usecase.StateStore.
type StateStore struct {
	pool      pgxPool
	queries   *generated.Queries
	txTimeout time.Duration
}

// NewStateStore creates a new StateStore.
func NewStateStore(pool *pgxpool.Pool) *StateStore {
	return newStateStoreWithPool(pool)
}

func newStateStoreWithPool(pool pgxPool) *StateStore {
	return &StateStore{
		pool:      pool,
		queries:   generated.New(pool),
		txTimeout: DefaultTransactionTimeout,
	}
}

// LoadForUpdate reads an account and the version a commit must match.
func (s *StateStore) LoadForUpdate(ctx context.Context, accountID string) (*domain.Account, error) {
	row, err := s.queries.GetAccountByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAccountNotFound
		}

		return nil, classify(err)
	}

	return rowToAccount(row), nil
}

// Commit applies mutations and inserts record in a single transaction.
func (s *StateStore) Commit(ctx context.Context, mutations []domain.AccountMutation, record *domain.IdempotencyRecord) error {
	// Lock rows in a stable order (DEADLOCK PREVENTION)
	sorted := make([]domain.AccountMutation, len(mutations))
	copy(sorted, mutations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].AccountID < sorted[j].AccountID })

	txCtx, cancel := context.WithTimeout(ctx, s.txTimeout)
	defer cancel()

	tx, err := s.pool.Begin(txCtx)
	if err != nil {
		return classify(err)
	}
	defer func() { _ = tx.Rollback(txCtx) }()

	queries := s.queries.WithTx(tx)
	updatedAt := timeToPgTimestamptz(record.CommittedAt)

	for _, m := range sorted {
		rows, err := queries.UpdateAccountBalanceVersioned(txCtx, generated.UpdateAccountBalanceVersionedParams{
			ID:        m.AccountID,
			Balance:   m.NewBalance,
			Version:   m.ExpectedVersion,
			UpdatedAt: updatedAt,
		})
		if err != nil {
			return classify(err)
		}
		if rows == 0 {
			return fmt.Errorf("%w: account %s moved past version %d", domain.ErrConflict, m.AccountID, m.ExpectedVersion)
		}
	}

	rows, err := queries.InsertIdempotencyRecord(txCtx, recordToParams(record))
	if err != nil {
		return classify(err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: event %s already recorded", domain.ErrConflict, record.EventID)
	}

	if err := tx.Commit(txCtx); err != nil {
		return classify(err)
	}

	return nil
}
