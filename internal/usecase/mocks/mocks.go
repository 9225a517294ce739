package mocks

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/iho/txstream/internal/domain"
)

// MockAccountRepository is a mock implementation of AccountRepository.
type MockAccountRepository struct {
	mu       sync.RWMutex
	accounts map[string]*domain.Account

	CreateFunc       func(ctx context.Context, account *domain.Account) error
	GetByIDFunc      func(ctx context.Context, id string) (*domain.Account, error)
	UpdateStatusFunc func(ctx context.Context, id string, status domain.AccountStatus, updatedAt time.Time) error
}

func NewMockAccountRepository() *MockAccountRepository {
	return &MockAccountRepository{
		accounts: make(map[string]*domain.Account),
	}
}

func (m *MockAccountRepository) Create(ctx context.Context, account *domain.Account) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, account)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[account.ID] = account
	return nil
}

func (m *MockAccountRepository) GetByID(ctx context.Context, id string) (*domain.Account, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if acc, ok := m.accounts[id]; ok {
		copied := *acc
		return &copied, nil
	}
	return nil, domain.ErrAccountNotFound
}

func (m *MockAccountRepository) UpdateStatus(ctx context.Context, id string, status domain.AccountStatus, updatedAt time.Time) error {
	if m.UpdateStatusFunc != nil {
		return m.UpdateStatusFunc(ctx, id, status, updatedAt)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	acc, ok := m.accounts[id]
	if !ok {
		return domain.ErrAccountNotFound
	}
	acc.Status = status
	acc.UpdatedAt = updatedAt
	return nil
}

// MockIDGenerator is a mock implementation of IDGenerator.
type MockIDGenerator struct {
	GenerateFunc func() string
	counter      int
	mu           sync.Mutex
}

func NewMockIDGenerator() *MockIDGenerator {
	return &MockIDGenerator{}
}

func (m *MockIDGenerator) Generate() string {
	if m.GenerateFunc != nil {
		return m.GenerateFunc()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counter++
	return "mock-id-" + string(rune('0'+m.counter))
}

// MemoryStore is an in-memory StateStore, IdempotencyLedger and
// OutcomeRepository with the same commit semantics as the PostgreSQL
// store: version checks, record uniqueness and all-or-nothing writes.
type MemoryStore struct {
	mu       sync.Mutex
	accounts map[string]*domain.Account
	records  map[string]*domain.IdempotencyRecord

	// Commits counts successful commits.
	Commits int

	LoadForUpdateFunc func(ctx context.Context, accountID string) (*domain.Account, error)
	CommitFunc        func(ctx context.Context, mutations []domain.AccountMutation, record *domain.IdempotencyRecord) error
	GetFunc           func(ctx context.Context, eventID string) (*domain.IdempotencyRecord, error)
	MarkPublishedFunc func(ctx context.Context, eventID string, publishedAt time.Time) error
}

func NewMemoryStore(accounts ...*domain.Account) *MemoryStore {
	s := &MemoryStore{
		accounts: make(map[string]*domain.Account),
		records:  make(map[string]*domain.IdempotencyRecord),
	}
	for _, acc := range accounts {
		copied := *acc
		s.accounts[acc.ID] = &copied
	}
	return s
}

// Account returns a snapshot of a stored account.
func (s *MemoryStore) Account(id string) *domain.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[id]
	if !ok {
		return nil
	}
	copied := *acc
	return &copied
}

// Snapshot returns copies of the given accounts read under one lock, as a
// single consistent view.
func (s *MemoryStore) Snapshot(ids ...string) []domain.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Account, 0, len(ids))
	for _, id := range ids {
		if acc, ok := s.accounts[id]; ok {
			out = append(out, *acc)
		}
	}
	return out
}

// Record returns a snapshot of a stored idempotency record.
func (s *MemoryStore) Record(eventID string) *domain.IdempotencyRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[eventID]
	if !ok {
		return nil
	}
	copied := *rec
	return &copied
}

// PutRecord stores a record directly, bypassing Commit.
func (s *MemoryStore) PutRecord(record *domain.IdempotencyRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *record
	s.records[record.EventID] = &copied
}

func (s *MemoryStore) LoadForUpdate(ctx context.Context, accountID string) (*domain.Account, error) {
	if s.LoadForUpdateFunc != nil {
		return s.LoadForUpdateFunc(ctx, accountID)
	}
	if acc := s.Account(accountID); acc != nil {
		return acc, nil
	}
	return nil, domain.ErrAccountNotFound
}

func (s *MemoryStore) Commit(ctx context.Context, mutations []domain.AccountMutation, record *domain.IdempotencyRecord) error {
	if s.CommitFunc != nil {
		return s.CommitFunc(ctx, mutations, record)
	}
	return s.CommitDirect(mutations, record)
}

// CommitDirect applies the commit without consulting CommitFunc, so a
// CommitFunc can inject failures and then delegate.
func (s *MemoryStore) CommitDirect(mutations []domain.AccountMutation, record *domain.IdempotencyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sorted := append([]domain.AccountMutation(nil), mutations...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].AccountID < sorted[j].AccountID })

	for _, m := range sorted {
		acc, ok := s.accounts[m.AccountID]
		if !ok || acc.Version != m.ExpectedVersion || m.NewBalance < 0 {
			return domain.ErrConflict
		}
	}

	if _, exists := s.records[record.EventID]; exists {
		return domain.ErrConflict
	}
	if ref := record.Outcome.ReversesEventID; ref != "" && record.Outcome.Result == domain.ResultAccepted {
		for _, r := range s.records {
			if r.Outcome.ReversesEventID == ref && r.Outcome.Result == domain.ResultAccepted {
				return domain.ErrConflict
			}
		}
	}

	for _, m := range sorted {
		acc := s.accounts[m.AccountID]
		acc.Balance = m.NewBalance
		acc.Version++
		acc.UpdatedAt = record.CommittedAt
	}

	copied := *record
	s.records[record.EventID] = &copied
	s.Commits++

	return nil
}

func (s *MemoryStore) HasBeenProcessed(ctx context.Context, eventID string) (bool, error) {
	_, err := s.Get(ctx, eventID)
	if err == domain.ErrRecordNotFound {
		return false, nil
	}
	return err == nil, err
}

func (s *MemoryStore) Get(ctx context.Context, eventID string) (*domain.IdempotencyRecord, error) {
	if s.GetFunc != nil {
		return s.GetFunc(ctx, eventID)
	}
	if rec := s.Record(eventID); rec != nil {
		return rec, nil
	}
	return nil, domain.ErrRecordNotFound
}

func (s *MemoryStore) GetAcceptedReversal(ctx context.Context, originalEventID string) (*domain.IdempotencyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.records {
		if r.Outcome.ReversesEventID == originalEventID && r.Outcome.Result == domain.ResultAccepted {
			copied := *r
			return &copied, nil
		}
	}
	return nil, domain.ErrRecordNotFound
}

func (s *MemoryStore) MarkPublished(ctx context.Context, eventID string, publishedAt time.Time) error {
	if s.MarkPublishedFunc != nil {
		return s.MarkPublishedFunc(ctx, eventID, publishedAt)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.records[eventID]; ok && rec.PublishedAt == nil {
		rec.PublishedAt = &publishedAt
	}
	return nil
}

func (s *MemoryStore) ListUnpublished(ctx context.Context, committedBefore time.Time, limit int) ([]*domain.IdempotencyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.IdempotencyRecord
	for _, r := range s.records {
		if r.PublishedAt == nil && r.CommittedAt.Before(committedBefore) {
			copied := *r
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CommittedAt.Before(out[j].CommittedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) Prune(ctx context.Context, committedBefore time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var deleted int64
	for id, r := range s.records {
		if r.PublishedAt != nil && r.CommittedAt.Before(committedBefore) {
			delete(s.records, id)
			deleted++
		}
	}
	return deleted, nil
}

// MockOutcomePublisher records published outcomes.
type MockOutcomePublisher struct {
	mu        sync.Mutex
	published []domain.OutcomeEvent

	PublishFunc func(ctx context.Context, event domain.OutcomeEvent) error
}

func NewMockOutcomePublisher() *MockOutcomePublisher {
	return &MockOutcomePublisher{}
}

func (m *MockOutcomePublisher) Publish(ctx context.Context, event domain.OutcomeEvent) error {
	if m.PublishFunc != nil {
		if err := m.PublishFunc(ctx, event); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, event)
	return nil
}

// Published returns the outcomes published so far.
func (m *MockOutcomePublisher) Published() []domain.OutcomeEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.OutcomeEvent(nil), m.published...)
}
