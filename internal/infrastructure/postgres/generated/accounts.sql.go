package generated

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const createAccount = `-- name: CreateAccount :one
INSERT INTO accounts (id, currency, balance, version, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING id, currency, balance, version, status, created_at, updated_at
`

type CreateAccountParams struct {
	ID        string             `json:"id"`
	Currency  string             `json:"currency"`
	Balance   int64              `json:"balance"`
	Version   int64              `json:"version"`
	Status    string             `json:"status"`
	CreatedAt pgtype.Timestamptz `json:"created_at"`
	UpdatedAt pgtype.Timestamptz `json:"updated_at"`
}

func (q *Queries) CreateAccount(ctx context.Context, arg CreateAccountParams) (Account, error) {
	row := q.db.QueryRow(ctx, createAccount,
		arg.ID,
		arg.Currency,
		arg.Balance,
		arg.Version,
		arg.Status,
		arg.CreatedAt,
		arg.UpdatedAt,
	)
	var i Account
	err := row.Scan(
		&i.ID,
		&i.Currency,
		&i.Balance,
		&i.Version,
		&i.Status,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const getAccountByID = `-- name: GetAccountByID :one
SELECT id, currency, balance, version, status, created_at, updated_at FROM accounts WHERE id = $1
`

func (q *Queries) GetAccountByID(ctx context.Context, id string) (Account, error) {
	row := q.db.QueryRow(ctx, getAccountByID, id)
	var i Account
	err := row.Scan(
		&i.ID,
		&i.Currency,
		&i.Balance,
		&i.Version,
		&i.Status,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const updateAccountBalanceVersioned = `-- name: UpdateAccountBalanceVersioned :execrows
UPDATE accounts
SET balance = $2, version = version + 1, updated_at = $4
WHERE id = $1 AND version = $3
`

type UpdateAccountBalanceVersionedParams struct {
	ID        string             `json:"id"`
	Balance   int64              `json:"balance"`
	Version   int64              `json:"version"`
	UpdatedAt pgtype.Timestamptz `json:"updated_at"`
}

func (q *Queries) UpdateAccountBalanceVersioned(ctx context.Context, arg UpdateAccountBalanceVersionedParams) (int64, error) {
	result, err := q.db.Exec(ctx, updateAccountBalanceVersioned,
		arg.ID,
		arg.Balance,
		arg.Version,
		arg.UpdatedAt,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const updateAccountStatus = `-- name: UpdateAccountStatus :execrows
UPDATE accounts SET status = $2, updated_at = $3 WHERE id = $1
`

type UpdateAccountStatusParams struct {
	ID        string             `json:"id"`
	Status    string             `json:"status"`
	UpdatedAt pgtype.Timestamptz `json:"updated_at"`
}

func (q *Queries) UpdateAccountStatus(ctx context.Context, arg UpdateAccountStatusParams) (int64, error) {
	result, err := q.db.Exec(ctx, updateAccountStatus, arg.ID, arg.Status, arg.UpdatedAt)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}
