/**
 * @description
 * This file implements the data access layer for normalized accounts.
 * It provides a clean interface for the application logic to interact with the
 * `accounts` table in the database.
 *
 * @dependencies
 * - context: For managing request-scoped deadlines and cancellations.
 * - github.com/jackc/pgx/v5/pgxpool: The PostgreSQL driver.
 * - The service's internal domain package for the NormalizedAccount model.
 */
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/transfa/openbanking-service/internal/domain"
)

const accountColumns = `account_id, customer_id, bank_name, account_status, balance_amount, balance_position, account_currency, account_address`

// PostgresAccountRepository is the PostgreSQL implementation of the AccountRepository.
type PostgresAccountRepository struct {
	db     *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgresAccountRepository creates a new instance of PostgresAccountRepository.
func NewPostgresAccountRepository(db *pgxpool.Pool, logger *slog.Logger) *PostgresAccountRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresAccountRepository{db: db, logger: logger}
}

// Upsert writes every record in one transaction. Either all rows are written
// or none are.
func (r *PostgresAccountRepository) Upsert(ctx context.Context, accounts []domain.NormalizedAccount) ([]domain.NormalizedAccount, error) {
	if len(accounts) == 0 {
		return []domain.NormalizedAccount{}, nil
	}
	if err := validateKeys(accounts); err != nil {
		return nil, err
	}

	query := `
        INSERT INTO accounts (` + accountColumns + `, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
        ON CONFLICT (account_id, customer_id) DO UPDATE SET
            bank_name = EXCLUDED.bank_name,
            account_status = EXCLUDED.account_status,
            balance_amount = EXCLUDED.balance_amount,
            balance_position = EXCLUDED.balance_position,
            account_currency = EXCLUDED.account_currency,
            account_address = EXCLUDED.account_address,
            updated_at = NOW()
        RETURNING ` + accountColumns

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, persistenceErr("upsert", fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, acc := range accounts {
		batch.Queue(query,
			acc.AccountID,
			acc.CustomerID,
			acc.BankName,
			acc.AccountStatus,
			acc.BalanceAmount,
			acc.BalancePosition,
			acc.AccountCurrency,
			acc.AccountAddress,
		)
	}

	results := tx.SendBatch(ctx, batch)
	stored := make([]domain.NormalizedAccount, 0, len(accounts))
	for range accounts {
		acc, err := scanAccount(results.QueryRow())
		if err != nil {
			results.Close()
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) {
				r.logger.Error("account upsert rejected by database", "code", pgErr.Code, "constraint", pgErr.ConstraintName)
			}
			return nil, persistenceErr("upsert", err)
		}
		stored = append(stored, acc)
	}
	if err := results.Close(); err != nil {
		return nil, persistenceErr("upsert", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, persistenceErr("upsert", fmt.Errorf("failed to commit transaction: %w", err))
	}

	r.logger.Info("upserted accounts", "count", len(stored))
	return stored, nil
}

// Query returns stored accounts matching the filter, ordered by customer and account.
func (r *PostgresAccountRepository) Query(ctx context.Context, filter domain.AccountFilter) ([]domain.NormalizedAccount, error) {
	query := `
        SELECT ` + accountColumns + `
        FROM accounts
        WHERE ($1 = '' OR customer_id = $1)
          AND ($2 = '' OR account_id = $2)
        ORDER BY customer_id, account_id
        LIMIT NULLIF($3, 0)
    `
	rows, err := r.db.Query(ctx, query, filter.CustomerID, filter.AccountID, filter.Limit)
	if err != nil {
		return nil, persistenceErr("query", fmt.Errorf("failed to query accounts: %w", err))
	}
	defer rows.Close()

	accounts := []domain.NormalizedAccount{}
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, persistenceErr("query", fmt.Errorf("failed to scan account row: %w", err))
		}
		accounts = append(accounts, acc)
	}
	if err := rows.Err(); err != nil {
		return nil, persistenceErr("query", err)
	}
	return accounts, nil
}

// CustomerExists reports whether any account is stored for customerID.
func (r *PostgresAccountRepository) CustomerExists(ctx context.Context, customerID string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE customer_id = $1)`, customerID).Scan(&exists)
	if err != nil {
		return false, persistenceErr("customer_exists", err)
	}
	return exists, nil
}

// ListCustomerIDs returns every distinct stored customer id.
func (r *PostgresAccountRepository) ListCustomerIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.Query(ctx, `SELECT DISTINCT customer_id FROM accounts ORDER BY customer_id`)
	if err != nil {
		return nil, persistenceErr("list_customers", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, persistenceErr("list_customers", err)
	}
	return ids, nil
}

func scanAccount(row pgx.Row) (domain.NormalizedAccount, error) {
	var acc domain.NormalizedAccount
	err := row.Scan(
		&acc.AccountID,
		&acc.CustomerID,
		&acc.BankName,
		&acc.AccountStatus,
		&acc.BalanceAmount,
		&acc.BalancePosition,
		&acc.AccountCurrency,
		&acc.AccountAddress,
	)
	return acc, err
}
