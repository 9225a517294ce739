//go:build integration

package postgres

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/iho/txstream/internal/domain"
	pginfra "github.com/iho/txstream/internal/infrastructure/postgres"
	"github.com/iho/txstream/internal/usecase"
	"github.com/iho/txstream/internal/usecase/mocks"
)

func setupTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("txstream_test"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("terminate postgres container: %v", err)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	require.NoError(t, pginfra.RunMigrations(connStr, findMigrationsDir(), zerolog.Nop()))

	pool, err := pginfra.NewPool(ctx, connStr, 4, 1)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	return pool
}

// findMigrationsDir walks up from the package directory to the module root.
func findMigrationsDir() string {
	dir, err := os.Getwd()
	if err != nil {
		return "migrations"
	}
	for range 10 {
		candidate := filepath.Join(dir, "migrations")
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate
		}
		dir = filepath.Dir(dir)
	}
	return "migrations"
}

func openTestAccount(t *testing.T, repo *AccountRepository, id string, balance int64) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, repo.Create(context.Background(), &domain.Account{
		ID:        id,
		Currency:  "USD",
		Balance:   balance,
		Status:    domain.AccountStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}))
}

func TestIntegration_CommitAndReplay(t *testing.T) {
	pool := setupTestPool(t)
	ctx := context.Background()

	accounts := NewAccountRepository(pool)
	store := NewStateStore(pool)
	ledger := NewIdempotencyRepository(pool)

	openTestAccount(t, accounts, "acc-a", 100)
	openTestAccount(t, accounts, "acc-b", 0)

	src, err := store.LoadForUpdate(ctx, "acc-a")
	require.NoError(t, err)
	dst, err := store.LoadForUpdate(ctx, "acc-b")
	require.NoError(t, err)

	record := &domain.IdempotencyRecord{
		EventID:       "evt-1",
		CorrelationID: "corr-1",
		CommittedAt:   time.Now().UTC().Truncate(time.Microsecond),
		Outcome: domain.Outcome{
			Result:               domain.ResultAccepted,
			EventType:            domain.EventTypeTransfer,
			AccountID:            "acc-a",
			DestinationAccountID: "acc-b",
			Amount:               domain.Money{Amount: 40, Currency: "USD"},
		},
	}
	require.NoError(t, store.Commit(ctx, []domain.AccountMutation{src.Debit(40), dst.Credit(40)}, record))

	got, err := accounts.GetByID(ctx, "acc-a")
	require.NoError(t, err)
	assert.Equal(t, int64(60), got.Balance)
	assert.Equal(t, src.Version+1, got.Version)

	processed, err := ledger.HasBeenProcessed(ctx, "evt-1")
	require.NoError(t, err)
	assert.True(t, processed)

	stored, err := ledger.Get(ctx, "evt-1")
	require.NoError(t, err)
	assert.Equal(t, "corr-1", stored.CorrelationID)
	assert.Equal(t, "acc-b", stored.Outcome.DestinationAccountID)
	assert.False(t, stored.Published())

	// Same mutations against stale versions lose.
	err = store.Commit(ctx, []domain.AccountMutation{src.Debit(40), dst.Credit(40)}, &domain.IdempotencyRecord{
		EventID:     "evt-2",
		CommittedAt: time.Now().UTC(),
		Outcome:     domain.Outcome{Result: domain.ResultAccepted, EventType: domain.EventTypeTransfer, AccountID: "acc-a"},
	})
	assert.True(t, errors.Is(err, domain.ErrConflict), "expected conflict, got %v", err)

	// A second record for the same event is rejected and leaves balances alone.
	err = store.Commit(ctx, nil, record)
	assert.True(t, errors.Is(err, domain.ErrConflict), "expected conflict, got %v", err)

	unpublished, err := ledger.ListUnpublished(ctx, time.Now().Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, unpublished, 1)

	require.NoError(t, ledger.MarkPublished(ctx, "evt-1", time.Now().UTC()))
	require.NoError(t, ledger.MarkPublished(ctx, "evt-1", time.Now().UTC()))

	unpublished, err = ledger.ListUnpublished(ctx, time.Now().Add(time.Minute), 10)
	require.NoError(t, err)
	assert.Empty(t, unpublished)

	deleted, err := ledger.Prune(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
}

func TestIntegration_ReversalUniqueness(t *testing.T) {
	pool := setupTestPool(t)
	ctx := context.Background()

	accounts := NewAccountRepository(pool)
	store := NewStateStore(pool)
	ledger := NewIdempotencyRepository(pool)

	openTestAccount(t, accounts, "acc-a", 100)

	reversal := func(eventID string) *domain.IdempotencyRecord {
		return &domain.IdempotencyRecord{
			EventID:       eventID,
			CorrelationID: eventID,
			CommittedAt:   time.Now().UTC(),
			Outcome: domain.Outcome{
				Result:          domain.ResultAccepted,
				EventType:       domain.EventTypeReversal,
				AccountID:       "acc-a",
				ReversesEventID: "evt-original",
				Amount:          domain.Money{Amount: 10, Currency: "USD"},
			},
		}
	}

	require.NoError(t, store.Commit(ctx, nil, reversal("rev-1")))

	err := store.Commit(ctx, nil, reversal("rev-2"))
	assert.True(t, errors.Is(err, domain.ErrConflict), "expected conflict, got %v", err)

	found, err := ledger.GetAcceptedReversal(ctx, "evt-original")
	require.NoError(t, err)
	assert.Equal(t, "rev-1", found.EventID)

	_, err = ledger.GetAcceptedReversal(ctx, "evt-other")
	assert.ErrorIs(t, err, domain.ErrRecordNotFound)
}

func TestIntegration_AccountLifecycle(t *testing.T) {
	pool := setupTestPool(t)
	ctx := context.Background()

	accounts := NewAccountRepository(pool)
	openTestAccount(t, accounts, "acc-1", 0)

	now := time.Now().UTC()
	err := accounts.Create(ctx, &domain.Account{ID: "acc-1", Currency: "USD", Status: domain.AccountStatusActive, CreatedAt: now, UpdatedAt: now})
	assert.ErrorIs(t, err, domain.ErrAccountExists)

	require.NoError(t, accounts.UpdateStatus(ctx, "acc-1", domain.AccountStatusFrozen, now))
	got, err := accounts.GetByID(ctx, "acc-1")
	require.NoError(t, err)
	assert.Equal(t, domain.AccountStatusFrozen, got.Status)

	assert.ErrorIs(t, accounts.UpdateStatus(ctx, "missing", domain.AccountStatusFrozen, now), domain.ErrAccountNotFound)
}

func TestIntegration_ConcurrentOpposingTransfers(t *testing.T) {
	const (
		workers   = 4
		perWorker = 25
		amount    = 7
		opening   = 100000
	)

	pool := setupTestPool(t)
	ctx := context.Background()

	accounts := NewAccountRepository(pool)
	openTestAccount(t, accounts, "acc-a", opening)
	openTestAccount(t, accounts, "acc-b", opening)

	store := NewStateStore(pool)
	pub := mocks.NewMockOutcomePublisher()
	p := usecase.NewProcessor(NewIdempotencyRepository(pool), store, pub, nil, zerolog.Nop(), usecase.ProcessorConfig{
		MaxAttempts:     200,
		InitialInterval: time.Millisecond,
		MaxInterval:     20 * time.Millisecond,
	})

	var accepted, exhausted, aToB, bToA, torn atomic.Int64

	done := make(chan struct{})
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		for {
			select {
			case <-done:
				return
			default:
			}
			var total, minVersion, maxVersion int64
			err := pool.QueryRow(ctx,
				"SELECT SUM(balance)::bigint, MIN(version), MAX(version) FROM accounts WHERE id IN ('acc-a', 'acc-b')",
			).Scan(&total, &minVersion, &maxVersion)
			if err != nil {
				continue
			}
			if total != 2*opening || minVersion != maxVersion {
				torn.Add(1)
			}
			time.Sleep(time.Millisecond)
		}
	}()

	var wg sync.WaitGroup
	errs := make(chan error, workers*perWorker)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				src, dst := "acc-a", "acc-b"
				if (w+i)%2 == 1 {
					src, dst = "acc-b", "acc-a"
				}
				id := uuid.NewString()
				event := &domain.Event{
					ID:                   id,
					CorrelationID:        id,
					OccurredAt:           time.Now().UTC(),
					Type:                 domain.EventTypeTransfer,
					AccountID:            src,
					DestinationAccountID: dst,
					Amount:               domain.Money{Amount: amount, Currency: "USD"},
				}

				res, err := p.Process(ctx, event)
				switch {
				case errors.Is(err, domain.ErrRetriesExhausted):
					exhausted.Add(1)
					continue
				case err != nil:
					errs <- err
					continue
				}
				if res.Status != usecase.StatusAccepted {
					errs <- errors.New("transfer " + id + " was " + res.Status.String())
					continue
				}
				accepted.Add(1)
				if src == "acc-a" {
					aToB.Add(1)
				} else {
					bToA.Add(1)
				}
			}
		}(w)
	}
	wg.Wait()
	close(done)
	<-readerDone
	close(errs)

	for err := range errs {
		t.Errorf("unexpected error: %v", err)
	}

	a, err := accounts.GetByID(ctx, "acc-a")
	require.NoError(t, err)
	b, err := accounts.GetByID(ctx, "acc-b")
	require.NoError(t, err)
	t.Logf("accepted=%d exhausted=%d A=%d/v%d B=%d/v%d", accepted.Load(), exhausted.Load(), a.Balance, a.Version, b.Balance, b.Version)

	assert.Equal(t, int64(workers*perWorker), accepted.Load()+exhausted.Load())
	assert.Positive(t, accepted.Load())
	assert.Zero(t, torn.Load(), "a reader saw one transfer leg without the other")

	assert.Equal(t, int64(2*opening), a.Balance+b.Balance)
	assert.Equal(t, int64(opening)-amount*aToB.Load()+amount*bToA.Load(), a.Balance)
	assert.Equal(t, accepted.Load(), a.Version)
	assert.Equal(t, accepted.Load(), b.Version)
	assert.Len(t, pub.Published(), int(accepted.Load()))
}
