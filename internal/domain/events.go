/**
 * @description
 * This file defines the domain models for events exchanged over the message broker.
 * These structs represent the contract for messages published and consumed by the
 * openbanking-service.
 */
package domain

import "time"

// CustomerSyncRequestedEvent is consumed when another service asks for a
// customer's gateway accounts to be refreshed into the store.
type CustomerSyncRequestedEvent struct {
	CustomerID string `json:"customer_id"`
}

// AccountsSyncedEvent is published after a customer's accounts were upserted.
type AccountsSyncedEvent struct {
	EventID       string    `json:"event_id"`
	CustomerID    string    `json:"customer_id"`
	AccountsCount int       `json:"accounts_count"`
	TotalCredit   float64   `json:"total_credit"`
	TotalDebit    float64   `json:"total_debit"`
	TotalBalance  float64   `json:"total_balance"`
	SyncedAt      time.Time `json:"synced_at"`
}
