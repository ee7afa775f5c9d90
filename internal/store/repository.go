/**
 * @description
 * This file defines the interfaces for the data access layer (repositories).
 * Defining interfaces allows for dependency injection and easy mocking in tests,
 * promoting a loosely coupled architecture.
 *
 * @notes
 * - Any component that needs to interact with the store should depend on these
 *   interfaces, not on the concrete PostgreSQL or in-memory implementations.
 * - Every storage failure is reported as a *PersistenceError.
 */
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/transfa/openbanking-service/internal/domain"
)

// ErrPersistence matches any *PersistenceError via errors.Is.
var ErrPersistence = errors.New("persistence error")

// ErrCacheMiss is returned by OfferCache when no unexpired entry exists.
var ErrCacheMiss = errors.New("no valid cached offers found")

// PersistenceError reports a store transport or storage failure.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("store %s failed: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }

func persistenceErr(op string, err error) error {
	return &PersistenceError{Op: op, Err: err}
}

// AccountRepository defines the contract for storing normalized accounts.
// Rows are keyed by (account_id, customer_id); a repeated key overwrites the row.
type AccountRepository interface {
	Upsert(ctx context.Context, accounts []domain.NormalizedAccount) ([]domain.NormalizedAccount, error)
	Query(ctx context.Context, filter domain.AccountFilter) ([]domain.NormalizedAccount, error)
	CustomerExists(ctx context.Context, customerID string) (bool, error)
	ListCustomerIDs(ctx context.Context) ([]string, error)
}

// TransactionRepository defines the contract for reading stored transactions.
type TransactionRepository interface {
	ListByAccountID(ctx context.Context, accountID string) ([]domain.Transaction, error)
}

// OfferCache defines the contract for caching the gateway's institution offers.
type OfferCache interface {
	CacheOffers(ctx context.Context, offers map[string]interface{}, ttl time.Duration) error
	GetCachedOffers(ctx context.Context) (map[string]interface{}, error)
}

// validateKeys rejects records that cannot be addressed by the composite key.
func validateKeys(accounts []domain.NormalizedAccount) error {
	for i, acc := range accounts {
		if domain.StringValue(acc.AccountID) == "" {
			return persistenceErr("upsert", fmt.Errorf("record %d has no account_id", i))
		}
		if domain.StringValue(acc.CustomerID) == "" {
			return persistenceErr("upsert", fmt.Errorf("record %d has no customer_id", i))
		}
	}
	return nil
}
