/**
 * @description
 * This file implements read access to the transactions table. Transactions are
 * written by other systems; this service only lists them per account.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5/pgxpool: The PostgreSQL driver.
 * - The service's internal domain package for the Transaction model.
 */
package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/transfa/openbanking-service/internal/domain"
)

// PostgresTransactionRepository is the PostgreSQL implementation of the TransactionRepository.
type PostgresTransactionRepository struct {
	db *pgxpool.Pool
}

// NewPostgresTransactionRepository creates a new instance of PostgresTransactionRepository.
func NewPostgresTransactionRepository(db *pgxpool.Pool) *PostgresTransactionRepository {
	return &PostgresTransactionRepository{db: db}
}

// ListByAccountID retrieves all transactions for a given account, newest first.
func (r *PostgresTransactionRepository) ListByAccountID(ctx context.Context, accountID string) ([]domain.Transaction, error) {
	query := `
        SELECT id, account_id, amount, currency, credit_debit_indicator, description, status, booking_date_time
        FROM transactions
        WHERE account_id = $1
        ORDER BY booking_date_time DESC
    `
	rows, err := r.db.Query(ctx, query, accountID)
	if err != nil {
		return nil, persistenceErr("list_transactions", fmt.Errorf("failed to query transactions: %w", err))
	}
	defer rows.Close()

	transactions := []domain.Transaction{}
	for rows.Next() {
		var t domain.Transaction
		err := rows.Scan(&t.ID, &t.AccountID, &t.Amount, &t.Currency, &t.CreditDebit, &t.Description, &t.Status, &t.BookingDateTime)
		if err != nil {
			return nil, persistenceErr("list_transactions", fmt.Errorf("failed to scan transaction row: %w", err))
		}
		transactions = append(transactions, t)
	}
	if err := rows.Err(); err != nil {
		return nil, persistenceErr("list_transactions", err)
	}

	return transactions, nil
}
