package normalizer

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/transfa/openbanking-service/internal/domain"
)

func decode(t *testing.T, body string) map[string]interface{} {
	t.Helper()
	dec := json.NewDecoder(bytes.NewBufferString(body))
	dec.UseNumber()
	var raw map[string]interface{}
	if err := dec.Decode(&raw); err != nil {
		t.Fatalf("failed to decode fixture: %v", err)
	}
	return raw
}

func TestNormalize_EndToEndExample(t *testing.T) {
	raw := decode(t, `{"data":[
		{"accountId":"A1","availableBalance":{"balanceAmount":100,"balancePosition":"credit"},"accountCurrency":"JOD"},
		{"accountId":"A2","availableBalance":{"balanceAmount":40,"balancePosition":"debit"}}
	]}`)

	summary := New(nil).Normalize(raw, "IND_CUST_001")

	if len(summary.Accounts) != 2 {
		t.Fatalf("expected 2 accounts, got %d", len(summary.Accounts))
	}
	if summary.TotalCredit != 100 || summary.TotalDebit != 40 || summary.TotalBalance != 60 {
		t.Fatalf("unexpected totals credit=%v debit=%v balance=%v", summary.TotalCredit, summary.TotalDebit, summary.TotalBalance)
	}
	if got := domain.StringValue(summary.Accounts[0].AccountCurrency); got != "JOD" {
		t.Fatalf("expected JOD currency, got %q", got)
	}
	if summary.Accounts[1].AccountCurrency != nil {
		t.Fatalf("expected nil currency for A2, got %q", *summary.Accounts[1].AccountCurrency)
	}
	if got := domain.StringValue(summary.CustomerID); got != "IND_CUST_001" {
		t.Fatalf("expected fallback customer id, got %q", got)
	}
}

func TestNormalize_PositionRouting(t *testing.T) {
	tests := []struct {
		name       string
		position   string
		wantCredit float64
		wantDebit  float64
	}{
		{name: "credit", position: `"credit"`, wantCredit: 25.5, wantDebit: 0},
		{name: "debit", position: `"debit"`, wantCredit: 0, wantDebit: 25.5},
		{name: "other", position: `"pending"`, wantCredit: 0, wantDebit: 0},
		{name: "missing", position: `null`, wantCredit: 0, wantDebit: 0},
		{name: "case sensitive", position: `"Credit"`, wantCredit: 0, wantDebit: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := decode(t, `{"data":[{"accountId":"A1","availableBalance":{"balanceAmount":25.5,"balancePosition":`+tt.position+`}}]}`)
			summary := New(nil).Normalize(raw, "C1")

			if summary.TotalCredit != tt.wantCredit || summary.TotalDebit != tt.wantDebit {
				t.Fatalf("expected credit=%v debit=%v, got credit=%v debit=%v", tt.wantCredit, tt.wantDebit, summary.TotalCredit, summary.TotalDebit)
			}
			if summary.TotalBalance != summary.TotalCredit-summary.TotalDebit {
				t.Fatalf("net balance %v != %v - %v", summary.TotalBalance, summary.TotalCredit, summary.TotalDebit)
			}
			if len(summary.Accounts) != 1 {
				t.Fatalf("account must remain listed regardless of position, got %d", len(summary.Accounts))
			}
		})
	}
}

func TestNormalize_BankNameFallback(t *testing.T) {
	tests := []struct {
		name string
		info string
		want *string
	}{
		{name: "trade name preferred", info: `{"name":{"tradeName":{"enName":"A"},"enName":"B"}}`, want: domain.StringPtr("A")},
		{name: "plain name only", info: `{"name":{"enName":"B"}}`, want: domain.StringPtr("B")},
		{name: "empty trade name falls back", info: `{"name":{"tradeName":{"enName":""},"enName":"B"}}`, want: domain.StringPtr("B")},
		{name: "neither", info: `{"name":{}}`, want: nil},
		{name: "no institution info", info: `null`, want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := decode(t, `{"data":[{"accountId":"A1","institutionBasicInfo":`+tt.info+`}]}`)
			got := New(nil).Normalize(raw, "C1").Accounts[0].BankName

			if tt.want == nil {
				if got != nil {
					t.Fatalf("expected nil bank name, got %q", *got)
				}
				return
			}
			if got == nil || *got != *tt.want {
				t.Fatalf("expected %q, got %v", *tt.want, got)
			}
		})
	}
}

func TestNormalize_BalanceAmountCoercion(t *testing.T) {
	tests := []struct {
		name    string
		balance string
		want    float64
	}{
		{name: "missing amount", balance: `{"balancePosition":"credit"}`, want: 0},
		{name: "null amount", balance: `{"balanceAmount":null,"balancePosition":"credit"}`, want: 0},
		{name: "missing balance object", balance: `null`, want: 0},
		{name: "numeric string", balance: `{"balanceAmount":"12.75","balancePosition":"credit"}`, want: 12.75},
		{name: "non-numeric string clamps", balance: `{"balanceAmount":"abc","balancePosition":"credit"}`, want: 0},
		{name: "boolean clamps", balance: `{"balanceAmount":true,"balancePosition":"credit"}`, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := decode(t, `{"data":[{"accountId":"A1","availableBalance":`+tt.balance+`}]}`)
			summary := New(nil).Normalize(raw, "C1")

			if got := summary.Accounts[0].BalanceAmount; got != tt.want {
				t.Fatalf("expected balance %v, got %v", tt.want, got)
			}
			if summary.TotalCredit != tt.want {
				t.Fatalf("expected credit total %v, got %v", tt.want, summary.TotalCredit)
			}
		})
	}
}

func TestNormalize_EmptyOrMalformedData(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "empty list", body: `{"data":[]}`},
		{name: "missing data", body: `{"meta":{}}`},
		{name: "data is object", body: `{"data":{"accountId":"A1"}}`},
		{name: "data is string", body: `{"data":"nope"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			summary := New(nil).Normalize(decode(t, tt.body), "C1")
			if len(summary.Accounts) != 0 {
				t.Fatalf("expected no accounts, got %d", len(summary.Accounts))
			}
			if summary.TotalCredit != 0 || summary.TotalDebit != 0 || summary.TotalBalance != 0 {
				t.Fatalf("expected zero totals, got %+v", summary)
			}
		})
	}
}

func TestNormalize_NilRawResponse(t *testing.T) {
	summary := New(nil).Normalize(nil, "")
	if len(summary.Accounts) != 0 || summary.CustomerID != nil {
		t.Fatalf("expected empty summary with nil customer, got %+v", summary)
	}
}

func TestNormalize_LastCustomerIDWins(t *testing.T) {
	raw := decode(t, `{"data":[
		{"accountId":"A1","customerId":"FIRST"},
		{"accountId":"A2"},
		{"accountId":"A3","customerId":"LAST"},
		{"accountId":"A4","customerId":null}
	]}`)

	summary := New(nil).Normalize(raw, "FALLBACK")

	if got := domain.StringValue(summary.CustomerID); got != "LAST" {
		t.Fatalf("expected last non-null customer id, got %q", got)
	}
	want := []string{"FIRST", "FIRST", "LAST", "LAST"}
	for i, acc := range summary.Accounts {
		if got := domain.StringValue(acc.CustomerID); got != want[i] {
			t.Fatalf("account %d: expected customer %q, got %q", i, want[i], got)
		}
	}
}

func TestNormalize_ExtractsFlatFields(t *testing.T) {
	raw := decode(t, `{"data":[{
		"accountId":12345,
		"accountStatus":"active",
		"accountCurrency":"JOD",
		"mainRoute":{"address":"JO71CBJO0000000000001234567890","schema":"IBAN"},
		"availableBalance":{"balanceAmount":"10.10","balancePosition":"credit"}
	}]}`)

	acc := New(nil).Normalize(raw, "C1").Accounts[0]

	if domain.StringValue(acc.AccountID) != "12345" {
		t.Fatalf("expected numeric account id kept as text, got %v", acc.AccountID)
	}
	if domain.StringValue(acc.AccountStatus) != "active" {
		t.Fatalf("unexpected status %v", acc.AccountStatus)
	}
	if domain.StringValue(acc.AccountAddress) != "JO71CBJO0000000000001234567890" {
		t.Fatalf("unexpected address %v", acc.AccountAddress)
	}
	if domain.StringValue(acc.BalancePosition) != "credit" {
		t.Fatalf("unexpected position %v", acc.BalancePosition)
	}
}

func TestNormalize_SumsWithoutFloatDrift(t *testing.T) {
	raw := decode(t, `{"data":[
		{"availableBalance":{"balanceAmount":0.1,"balancePosition":"credit"}},
		{"availableBalance":{"balanceAmount":0.2,"balancePosition":"credit"}}
	]}`)

	summary := New(nil).Normalize(raw, "C1")
	if summary.TotalCredit != 0.3 {
		t.Fatalf("expected 0.3, got %v", summary.TotalCredit)
	}
}

func TestNormalize_BalanceEqualsCreditMinusDebit(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "empty", body: `{"data":[]}`},
		{name: "cents", body: `{"data":[
			{"availableBalance":{"balanceAmount":0.1,"balancePosition":"credit"}},
			{"availableBalance":{"balanceAmount":0.2,"balancePosition":"credit"}},
			{"availableBalance":{"balanceAmount":0.1,"balancePosition":"debit"}}
		]}`},
		{name: "mixed", body: `{"data":[
			{"availableBalance":{"balanceAmount":100.7,"balancePosition":"credit"}},
			{"availableBalance":{"balanceAmount":40.3,"balancePosition":"debit"}}
		]}`},
		{name: "debit only", body: `{"data":[
			{"availableBalance":{"balanceAmount":"19.99","balancePosition":"debit"}},
			{"availableBalance":{"balanceAmount":0.01,"balancePosition":"debit"}}
		]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			summary := New(nil).Normalize(decode(t, tt.body), "C1")
			if summary.TotalBalance != summary.TotalCredit-summary.TotalDebit {
				t.Fatalf("total_balance %v != total_credit %v - total_debit %v",
					summary.TotalBalance, summary.TotalCredit, summary.TotalDebit)
			}
		})
	}
}
