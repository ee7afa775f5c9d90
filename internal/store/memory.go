/**
 * @description
 * In-memory implementations of the store interfaces. They back sandbox runs
 * (STORE_DRIVER=memory), the CLI's --dry-run mode and tests, and follow the same
 * last-write-wins semantics as the PostgreSQL repositories.
 */
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/transfa/openbanking-service/internal/domain"
)

type accountKey struct {
	accountID  string
	customerID string
}

// MemoryAccountRepository keeps accounts in a map keyed by (account_id, customer_id).
type MemoryAccountRepository struct {
	mu   sync.RWMutex
	rows map[accountKey]domain.NormalizedAccount
}

// NewMemoryAccountRepository creates an empty MemoryAccountRepository.
func NewMemoryAccountRepository() *MemoryAccountRepository {
	return &MemoryAccountRepository{rows: make(map[accountKey]domain.NormalizedAccount)}
}

// Upsert validates every record first, then writes them all.
func (r *MemoryAccountRepository) Upsert(ctx context.Context, accounts []domain.NormalizedAccount) ([]domain.NormalizedAccount, error) {
	if err := validateKeys(accounts); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, persistenceErr("upsert", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	stored := make([]domain.NormalizedAccount, 0, len(accounts))
	for _, acc := range accounts {
		key := accountKey{accountID: *acc.AccountID, customerID: *acc.CustomerID}
		r.rows[key] = acc
		stored = append(stored, acc)
	}
	return stored, nil
}

// Query returns matching accounts ordered by customer and account.
func (r *MemoryAccountRepository) Query(ctx context.Context, filter domain.AccountFilter) ([]domain.NormalizedAccount, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]accountKey, 0, len(r.rows))
	for key := range r.rows {
		if filter.CustomerID != "" && key.customerID != filter.CustomerID {
			continue
		}
		if filter.AccountID != "" && key.accountID != filter.AccountID {
			continue
		}
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].customerID != keys[j].customerID {
			return keys[i].customerID < keys[j].customerID
		}
		return keys[i].accountID < keys[j].accountID
	})
	if filter.Limit > 0 && len(keys) > filter.Limit {
		keys = keys[:filter.Limit]
	}

	accounts := make([]domain.NormalizedAccount, 0, len(keys))
	for _, key := range keys {
		accounts = append(accounts, r.rows[key])
	}
	return accounts, nil
}

// CustomerExists reports whether any account is stored for customerID.
func (r *MemoryAccountRepository) CustomerExists(ctx context.Context, customerID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for key := range r.rows {
		if key.customerID == customerID {
			return true, nil
		}
	}
	return false, nil
}

// ListCustomerIDs returns every distinct stored customer id, sorted.
func (r *MemoryAccountRepository) ListCustomerIDs(ctx context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{})
	ids := []string{}
	for key := range r.rows {
		if _, ok := seen[key.customerID]; ok {
			continue
		}
		seen[key.customerID] = struct{}{}
		ids = append(ids, key.customerID)
	}
	sort.Strings(ids)
	return ids, nil
}

// MemoryTransactionRepository holds transactions added with Add.
type MemoryTransactionRepository struct {
	mu           sync.RWMutex
	transactions []domain.Transaction
}

// NewMemoryTransactionRepository creates a MemoryTransactionRepository seeded with transactions.
func NewMemoryTransactionRepository(transactions ...domain.Transaction) *MemoryTransactionRepository {
	return &MemoryTransactionRepository{transactions: append([]domain.Transaction(nil), transactions...)}
}

// Add stores a transaction.
func (r *MemoryTransactionRepository) Add(t domain.Transaction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transactions = append(r.transactions, t)
}

// ListByAccountID returns the account's transactions, newest first.
func (r *MemoryTransactionRepository) ListByAccountID(ctx context.Context, accountID string) ([]domain.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := []domain.Transaction{}
	for _, t := range r.transactions {
		if t.AccountID == accountID {
			result = append(result, t)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].BookingDateTime.After(result[j].BookingDateTime)
	})
	return result, nil
}

// MemoryOfferCache holds a single cached offers response.
type MemoryOfferCache struct {
	mu        sync.Mutex
	offers    map[string]interface{}
	expiresAt time.Time
	now       func() time.Time
}

// NewMemoryOfferCache creates an empty MemoryOfferCache.
func NewMemoryOfferCache() *MemoryOfferCache {
	return &MemoryOfferCache{now: time.Now}
}

// CacheOffers replaces the cached offers with a copy valid for ttl.
func (c *MemoryOfferCache) CacheOffers(ctx context.Context, offers map[string]interface{}, ttl time.Duration) error {
	if len(offers) == 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offers = offers
	c.expiresAt = c.now().Add(ttl)
	return nil
}

// GetCachedOffers returns the cached offers, or ErrCacheMiss once they expire.
func (c *MemoryOfferCache) GetCachedOffers(ctx context.Context) (map[string]interface{}, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.offers == nil || !c.now().Before(c.expiresAt) {
		return nil, ErrCacheMiss
	}
	return c.offers, nil
}
