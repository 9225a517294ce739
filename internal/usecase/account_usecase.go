package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/iho/txstream/internal/domain"
)

// AccountUseCase provisions accounts. Balances are never set here: they
// only move through processed events.
type AccountUseCase struct {
	accountRepo AccountRepository
	idGen       IDGenerator
}

// NewAccountUseCase creates a new AccountUseCase.
func NewAccountUseCase(accountRepo AccountRepository, idGen IDGenerator) *AccountUseCase {
	return &AccountUseCase{
		accountRepo: accountRepo,
		idGen:       idGen,
	}
}

// OpenAccountInput represents input for opening an account.
type OpenAccountInput struct {
	ID       string // generated when empty
	Currency string
}

// OpenAccount opens a new active account with a zero balance.
func (uc *AccountUseCase) OpenAccount(ctx context.Context, input OpenAccountInput) (*domain.Account, error) {
	currency, err := domain.NormalizeCurrency(input.Currency)
	if err != nil {
		return nil, err
	}

	id := strings.TrimSpace(input.ID)
	if id == "" {
		id = uc.idGen.Generate()
	}

	now := time.Now().UTC()

	account := &domain.Account{
		ID:        id,
		Currency:  currency,
		Balance:   0,
		Version:   0,
		Status:    domain.AccountStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := uc.accountRepo.Create(ctx, account); err != nil {
		return nil, err
	}

	return account, nil
}

// GetAccount retrieves an account by ID.
func (uc *AccountUseCase) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	return uc.accountRepo.GetByID(ctx, id)
}

// SetStatus moves an account to status. Closed accounts stay closed.
func (uc *AccountUseCase) SetStatus(ctx context.Context, id string, status domain.AccountStatus) (*domain.Account, error) {
	if !status.IsValid() {
		return nil, fmt.Errorf("invalid account status %q", status)
	}

	account, err := uc.accountRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if account.Status == domain.AccountStatusClosed && status != domain.AccountStatusClosed {
		return nil, domain.ErrAccountClosed
	}

	now := time.Now().UTC()
	if err := uc.accountRepo.UpdateStatus(ctx, id, status, now); err != nil {
		return nil, err
	}

	account.Status = status
	account.UpdatedAt = now

	return account, nil
}
