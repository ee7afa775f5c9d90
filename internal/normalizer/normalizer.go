/**
 * @description
 * Package normalizer maps the semi-structured account records returned by the
 * Open-Banking gateway onto the flat NormalizedAccount shape and aggregates the
 * credit, debit and net totals for a customer.
 *
 * @notes
 * - The input is the decoded gateway body as-is; nothing here performs I/O.
 * - Sums are accumulated as decimals and converted to float64 once at the end.
 */
package normalizer

import (
	"encoding/json"
	"io"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/transfa/openbanking-service/internal/domain"
)

// Normalizer converts raw gateway account responses into account summaries.
type Normalizer struct {
	logger *slog.Logger
}

// New creates a Normalizer. A nil logger discards trace output.
func New(logger *slog.Logger) *Normalizer {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Normalizer{logger: logger}
}

// Normalize extracts every record under raw["data"] and aggregates the totals.
//
// The summary customer id starts as fallbackCustomerID and is replaced by each
// record's non-null customerId in order, so the last one seen wins. Each
// account carries the customer id in effect when it was read.
func (n *Normalizer) Normalize(raw map[string]interface{}, fallbackCustomerID string) domain.AccountSummary {
	records, _ := raw["data"].([]interface{})

	var customerID *string
	if fallbackCustomerID != "" {
		customerID = domain.StringPtr(fallbackCustomerID)
	}

	accounts := make([]domain.NormalizedAccount, 0, len(records))
	totalCredit := decimal.Zero
	totalDebit := decimal.Zero

	for i, item := range records {
		record, ok := item.(map[string]interface{})
		if !ok {
			// A non-object entry has no fields; every optional field defaults.
			record = map[string]interface{}{}
		}

		if id := stringField(record, "customerId"); id != nil {
			customerID = id
		}

		balance := mapField(record, "availableBalance")
		amount, valid := parseAmount(balance["balanceAmount"])
		if !valid {
			n.logger.Warn("non-numeric balance amount; using zero",
				"component", "normalizer",
				"index", i,
				"account_id", domain.StringValue(stringField(record, "accountId")),
				"value", balance["balanceAmount"],
			)
		}

		account := domain.NormalizedAccount{
			BankName:        bankName(record),
			AccountStatus:   stringField(record, "accountStatus"),
			BalanceAmount:   amount.InexactFloat64(),
			BalancePosition: stringField(balance, "balancePosition"),
			AccountCurrency: stringField(record, "accountCurrency"),
			AccountAddress:  stringField(mapField(record, "mainRoute"), "address"),
			AccountID:       stringField(record, "accountId"),
			CustomerID:      customerID,
		}
		accounts = append(accounts, account)

		switch domain.StringValue(account.BalancePosition) {
		case domain.PositionCredit:
			totalCredit = totalCredit.Add(amount)
		case domain.PositionDebit:
			totalDebit = totalDebit.Add(amount)
		}

		n.logger.Debug("normalized account record",
			"component", "normalizer",
			"index", i,
			"account_id", domain.StringValue(account.AccountID),
			"balance_amount", account.BalanceAmount,
			"balance_position", domain.StringValue(account.BalancePosition),
		)
	}

	summary := domain.AccountSummary{
		CustomerID:  customerID,
		Accounts:    accounts,
		TotalCredit: totalCredit.InexactFloat64(),
		TotalDebit:  totalDebit.InexactFloat64(),
	}
	// Derived from the published totals so the three fields always agree.
	summary.TotalBalance = summary.TotalCredit - summary.TotalDebit

	n.logger.Debug("normalized account summary",
		"component", "normalizer",
		"customer_id", domain.StringValue(summary.CustomerID),
		"accounts_count", len(summary.Accounts),
		"total_credit", summary.TotalCredit,
		"total_debit", summary.TotalDebit,
		"total_balance", summary.TotalBalance,
	)

	return summary
}

// bankName prefers the institution's trade name over its plain English name.
func bankName(record map[string]interface{}) *string {
	name := mapField(mapField(record, "institutionBasicInfo"), "name")
	if trade := stringField(mapField(name, "tradeName"), "enName"); trade != nil && *trade != "" {
		return trade
	}
	if plain := stringField(name, "enName"); plain != nil && *plain != "" {
		return plain
	}
	return nil
}

// parseAmount coerces a balance amount. Absent and null values are zero and
// valid; anything that does not parse as a number is zero and invalid.
func parseAmount(v interface{}) (decimal.Decimal, bool) {
	switch value := v.(type) {
	case nil:
		return decimal.Zero, true
	case json.Number:
		d, err := decimal.NewFromString(value.String())
		if err != nil {
			return decimal.Zero, false
		}
		return d, true
	case float64:
		return decimal.NewFromFloat(value), true
	case int:
		return decimal.NewFromInt(int64(value)), true
	case int64:
		return decimal.NewFromInt(value), true
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(value))
		if err != nil {
			return decimal.Zero, false
		}
		return d, true
	default:
		return decimal.Zero, false
	}
}

func mapField(m map[string]interface{}, key string) map[string]interface{} {
	if m == nil {
		return nil
	}
	nested, _ := m[key].(map[string]interface{})
	return nested
}

// stringField returns m[key] as a string pointer. Numeric identifiers are kept
// in their textual form; other types and absent keys yield nil.
func stringField(m map[string]interface{}, key string) *string {
	if m == nil {
		return nil
	}
	switch value := m[key].(type) {
	case string:
		return domain.StringPtr(value)
	case json.Number:
		return domain.StringPtr(value.String())
	default:
		return nil
	}
}
