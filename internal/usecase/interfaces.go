//go:generate mockgen -source=interfaces.go -destination=mocks/mockgen/mock_interfaces.go -package=mockgen

package usecase

import (
	"context"
	"time"

	"github.com/iho/txstream/internal/domain"
)

// StateStore is the transactional store of record for account balances.
type StateStore interface {
	// LoadForUpdate returns the account with its current version. No lock
	// is held; Commit rejects the mutation if the version moved.
	LoadForUpdate(ctx context.Context, accountID string) (*domain.Account, error)
	// Commit applies every mutation and inserts the idempotency record in
	// one transaction. It returns domain.ErrConflict when a version check
	// fails or the record already exists, and domain.ErrStoreUnavailable
	// on infrastructure failures.
	Commit(ctx context.Context, mutations []domain.AccountMutation, record *domain.IdempotencyRecord) error
}

// IdempotencyLedger answers whether an event was already applied.
type IdempotencyLedger interface {
	HasBeenProcessed(ctx context.Context, eventID string) (bool, error)
	Get(ctx context.Context, eventID string) (*domain.IdempotencyRecord, error)
	// GetAcceptedReversal returns the accepted reversal of originalEventID.
	GetAcceptedReversal(ctx context.Context, originalEventID string) (*domain.IdempotencyRecord, error)
	MarkPublished(ctx context.Context, eventID string, publishedAt time.Time) error
}

// OutcomeRepository supports the out-of-band maintenance of records.
type OutcomeRepository interface {
	ListUnpublished(ctx context.Context, committedBefore time.Time, limit int) ([]*domain.IdempotencyRecord, error)
	MarkPublished(ctx context.Context, eventID string, publishedAt time.Time) error
	Prune(ctx context.Context, committedBefore time.Time) (int64, error)
}

// OutcomePublisher emits outcome events to downstream consumers.
type OutcomePublisher interface {
	Publish(ctx context.Context, event domain.OutcomeEvent) error
}

// AccountRepository defines data access for account provisioning.
type AccountRepository interface {
	Create(ctx context.Context, account *domain.Account) error
	GetByID(ctx context.Context, id string) (*domain.Account, error)
	UpdateStatus(ctx context.Context, id string, status domain.AccountStatus, updatedAt time.Time) error
}

// IDGenerator generates unique IDs.
type IDGenerator interface {
	Generate() string
}
