package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"journal/internal/domain"
)

// GetAccount looks up an account by ID.
func (r *Repository) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	var acct domain.Account
	err := r.pool.QueryRow(ctx,
		"SELECT id, name, created_at FROM journal_accounts WHERE id = $1", id,
	).Scan(&acct.ID, &acct.Name, &acct.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("account %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return &acct, nil
}

// GetOrCreateAccount looks up an account by ID. If it doesn't exist, creates it.
func (r *Repository) GetOrCreateAccount(ctx context.Context, id string) (*domain.Account, error) {
	if err := ensureAccounts(ctx, r.pool, []string{id}); err != nil {
		return nil, err
	}
	return r.GetAccount(ctx, id)
}

// AccountExists checks if an account with the given ID exists.
func (r *Repository) AccountExists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM journal_accounts WHERE id = $1)", id,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check account: %w", err)
	}
	return exists, nil
}

// ListAccounts returns all accounts.
func (r *Repository) ListAccounts(ctx context.Context) ([]domain.Account, error) {
	rows, err := r.pool.Query(ctx,
		"SELECT id, name, created_at FROM journal_accounts ORDER BY created_at, id")
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}

	accounts, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Account, error) {
		var acct domain.Account
		err := row.Scan(&acct.ID, &acct.Name, &acct.CreatedAt)
		return acct, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan account: %w", err)
	}
	if accounts == nil {
		accounts = []domain.Account{}
	}
	return accounts, nil
}

// listAccountIDs returns the ids of every account that has trades.
func (r *Repository) listAccountIDs(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		"SELECT DISTINCT account_id FROM journal_trades ORDER BY account_id")
	if err != nil {
		return nil, fmt.Errorf("list trading accounts: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan account id: %w", err)
	}
	return ids, nil
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// ensureAccounts creates any missing accounts, named after their id.
func ensureAccounts(ctx context.Context, db execer, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := db.Exec(ctx, `
		INSERT INTO journal_accounts (id, name)
		SELECT id, id FROM unnest($1::text[]) AS id
		ON CONFLICT (id) DO NOTHING
	`, ids)
	if err != nil {
		return fmt.Errorf("create accounts: %w", err)
	}
	return nil
}
