/**
 * @description
 * This file defines the normalized account model produced from gateway account
 * records, and the per-customer summary aggregated over those accounts.
 *
 * @notes
 * - Nullable upstream fields are pointers so they serialize as JSON null.
 * - A NormalizedAccount is identified in the store by (AccountID, CustomerID).
 */
package domain

// Balance positions reported by the gateway.
const (
	PositionCredit = "credit"
	PositionDebit  = "debit"
)

// NormalizedAccount is the flat internal shape of one gateway account record.
type NormalizedAccount struct {
	BankName        *string `json:"bank_name"`
	AccountStatus   *string `json:"account_status"`
	BalanceAmount   float64 `json:"balance_amount"`
	BalancePosition *string `json:"balance_position"`
	AccountCurrency *string `json:"account_currency"`
	AccountAddress  *string `json:"account_address"`
	AccountID       *string `json:"account_id"`
	CustomerID      *string `json:"customer_id"`
}

// AccountSummary aggregates the normalized accounts of one customer.
// TotalBalance is always TotalCredit - TotalDebit.
type AccountSummary struct {
	CustomerID   *string             `json:"customerId"`
	Accounts     []NormalizedAccount `json:"accounts"`
	TotalCredit  float64             `json:"total_credit"`
	TotalDebit   float64             `json:"total_debit"`
	TotalBalance float64             `json:"total_balance"`
}

// AccountFilter narrows a store query. Empty fields match everything.
type AccountFilter struct {
	CustomerID string
	AccountID  string
	Limit      int
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string {
	return &s
}

// StringValue dereferences p, returning "" for nil.
func StringValue(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
