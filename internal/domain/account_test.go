package domain

import (
	"errors"
	"math"
	"testing"
)

func TestAccount_ValidateDebit(t *testing.T) {
	tests := []struct {
		name        string
		balance     int64
		debitAmount int64
		expectError error
	}{
		{
			name:        "debit more than balance",
			balance:     100,
			debitAmount: 150,
			expectError: ErrInsufficientFunds,
		},
		{
			name:        "debit exact balance",
			balance:     100,
			debitAmount: 100,
		},
		{
			name:        "debit less than balance",
			balance:     100,
			debitAmount: 50,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			acc := &Account{Balance: tt.balance}

			err := acc.ValidateDebit(tt.debitAmount)
			if !errors.Is(err, tt.expectError) {
				t.Errorf("expected error %v, got %v", tt.expectError, err)
			}
		})
	}
}

func TestAccount_ValidateCredit(t *testing.T) {
	acc := &Account{Balance: math.MaxInt64 - 10}

	if err := acc.ValidateCredit(10); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := acc.ValidateCredit(11); !errors.Is(err, ErrBalanceOverflow) {
		t.Fatalf("expected ErrBalanceOverflow, got %v", err)
	}
}

func TestAccount_ValidateActive(t *testing.T) {
	tests := []struct {
		status AccountStatus
		want   error
	}{
		{AccountStatusActive, nil},
		{AccountStatusFrozen, ErrAccountFrozen},
		{AccountStatusClosed, ErrAccountClosed},
	}

	for _, tt := range tests {
		acc := &Account{Status: tt.status}
		if err := acc.ValidateActive(); !errors.Is(err, tt.want) {
			t.Errorf("status %s: expected %v, got %v", tt.status, tt.want, err)
		}
	}
}

func TestAccount_DebitCredit(t *testing.T) {
	acc := &Account{ID: "acc-1", Balance: 100, Version: 7}

	debit := acc.Debit(30)
	if debit.NewBalance != 70 || debit.Delta != -30 || debit.ExpectedVersion != 7 {
		t.Errorf("unexpected debit mutation: %+v", debit)
	}

	credit := acc.Credit(30)
	if credit.NewBalance != 130 || credit.Delta != 30 || credit.ExpectedVersion != 7 {
		t.Errorf("unexpected credit mutation: %+v", credit)
	}

	if acc.Balance != 100 {
		t.Errorf("mutations must not change the loaded account, got balance %d", acc.Balance)
	}
}
