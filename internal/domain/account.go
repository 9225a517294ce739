package domain

import (
	"math"
	"time"
)

// AccountStatus is the lifecycle state of an account.
type AccountStatus string

const (
	AccountStatusActive AccountStatus = "active"
	AccountStatusFrozen AccountStatus = "frozen"
	AccountStatusClosed AccountStatus = "closed"
)

// IsValid reports whether s is a known status.
func (s AccountStatus) IsValid() bool {
	switch s {
	case AccountStatusActive, AccountStatusFrozen, AccountStatusClosed:
		return true
	}
	return false
}

// Account holds a balance in minor units of a single currency.
type Account struct {
	ID        string
	Currency  string
	Balance   int64
	Version   int64
	Status    AccountStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ValidateActive checks the account can take part in a mutation.
func (a *Account) ValidateActive() error {
	switch a.Status {
	case AccountStatusFrozen:
		return ErrAccountFrozen
	case AccountStatusClosed:
		return ErrAccountClosed
	}
	return nil
}

// ValidateDebit checks if account can be debited by amount.
func (a *Account) ValidateDebit(amount int64) error {
	if amount > a.Balance {
		return ErrInsufficientFunds
	}
	return nil
}

// ValidateCredit checks if account can be credited by amount.
func (a *Account) ValidateCredit(amount int64) error {
	if a.Balance > math.MaxInt64-amount {
		return ErrBalanceOverflow
	}
	return nil
}

// Debit returns the mutation that removes amount from the account.
func (a *Account) Debit(amount int64) AccountMutation {
	return AccountMutation{
		AccountID:       a.ID,
		ExpectedVersion: a.Version,
		Delta:           -amount,
		NewBalance:      a.Balance - amount,
	}
}

// Credit returns the mutation that adds amount to the account.
func (a *Account) Credit(amount int64) AccountMutation {
	return AccountMutation{
		AccountID:       a.ID,
		ExpectedVersion: a.Version,
		Delta:           amount,
		NewBalance:      a.Balance + amount,
	}
}

// AccountMutation is a versioned balance change. It applies only if the
// stored version still equals ExpectedVersion, and bumps it by one.
type AccountMutation struct {
	AccountID       string
	ExpectedVersion int64
	Delta           int64
	NewBalance      int64
}
