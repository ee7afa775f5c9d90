/**
 * @description
 * This file implements caching of the gateway's institution offers.
 * Offers change rarely, so GET /offers serves the cached copy until it expires
 * instead of calling the gateway on every request.
 *
 * @dependencies
 * - context: For managing request-scoped deadlines and cancellations.
 * - github.com/jackc/pgx/v5/pgxpool: The PostgreSQL driver.
 */
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresOfferCache is the PostgreSQL implementation of the OfferCache.
type PostgresOfferCache struct {
	db     *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgresOfferCache creates a new instance of PostgresOfferCache.
func NewPostgresOfferCache(db *pgxpool.Pool, logger *slog.Logger) *PostgresOfferCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresOfferCache{db: db, logger: logger}
}

// CacheOffers replaces the cached offers with a copy valid for ttl.
func (r *PostgresOfferCache) CacheOffers(ctx context.Context, offers map[string]interface{}, ttl time.Duration) error {
	if len(offers) == 0 {
		r.logger.Warn("not caching empty offers response")
		return nil
	}

	offersJSON, err := json.Marshal(offers)
	if err != nil {
		return persistenceErr("cache_offers", fmt.Errorf("failed to marshal offers: %w", err))
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return persistenceErr("cache_offers", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM cached_offers`); err != nil {
		return persistenceErr("cache_offers", fmt.Errorf("failed to delete existing cached offers: %w", err))
	}

	now := time.Now()
	expiresAt := now.Add(ttl)
	insertQuery := `
		INSERT INTO cached_offers (offers_data, cached_at, expires_at)
		VALUES ($1, $2, $3)
	`
	if _, err := tx.Exec(ctx, insertQuery, offersJSON, now, expiresAt); err != nil {
		return persistenceErr("cache_offers", fmt.Errorf("failed to insert cached offers: %w", err))
	}

	if err := tx.Commit(ctx); err != nil {
		return persistenceErr("cache_offers", err)
	}

	r.logger.Debug("cached offers", "expires_at", expiresAt)
	return nil
}

// GetCachedOffers retrieves the newest unexpired offers, or ErrCacheMiss.
func (r *PostgresOfferCache) GetCachedOffers(ctx context.Context) (map[string]interface{}, error) {
	query := `
		SELECT offers_data
		FROM cached_offers
		WHERE expires_at > NOW()
		ORDER BY cached_at DESC
		LIMIT 1
	`

	var offersJSON []byte
	err := r.db.QueryRow(ctx, query).Scan(&offersJSON)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCacheMiss
		}
		return nil, persistenceErr("get_cached_offers", err)
	}

	var offers map[string]interface{}
	if err := json.Unmarshal(offersJSON, &offers); err != nil {
		return nil, persistenceErr("get_cached_offers", fmt.Errorf("failed to unmarshal cached offers: %w", err))
	}
	return offers, nil
}
