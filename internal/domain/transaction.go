/**
 * @description
 * This file defines the Transaction model read back from the transactions table.
 * The service never writes transactions; it only exposes them per account.
 */
package domain

import "time"

// Transaction is a stored movement on an aggregated account.
type Transaction struct {
	ID              string    `json:"id"`
	AccountID       string    `json:"account_id"`
	Amount          float64   `json:"amount"`
	Currency        *string   `json:"currency"`
	CreditDebit     *string   `json:"credit_debit_indicator"`
	Description     *string   `json:"description"`
	Status          *string   `json:"status"`
	BookingDateTime time.Time `json:"booking_date_time"`
}
