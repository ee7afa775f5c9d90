package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/transfa/openbanking-service/internal/app"
	"github.com/transfa/openbanking-service/internal/config"
	"github.com/transfa/openbanking-service/internal/domain"
	"github.com/transfa/openbanking-service/internal/store"
	"github.com/transfa/openbanking-service/pkg/gatewayclient"
	"github.com/transfa/openbanking-service/pkg/metrics"
	"github.com/transfa/openbanking-service/pkg/middleware"
)

const twoAccountsBody = `{"data":[
  {"accountId":"A1","customerId":"IND_CUST_001","availableBalance":{"balanceAmount":100,"balancePosition":"credit"},"accountCurrency":"JOD","tradeName":{"enName":"Bank A"}},
  {"accountId":"A2","availableBalance":{"balanceAmount":40,"balancePosition":"debit"}}
]}`

// fakeGateway answers like the sandbox gateway. The customer header picks the scenario.
func fakeGateway(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/accounts"):
			switch r.Header.Get("x-customer-id") {
			case "EMPTY":
				io.WriteString(w, `{"data":[]}`)
			case "BROKEN":
				w.WriteHeader(http.StatusInternalServerError)
				io.WriteString(w, `{"message":"boom"}`)
			default:
				io.WriteString(w, twoAccountsBody)
			}
		case strings.HasSuffix(r.URL.Path, "/institution/offers"):
			io.WriteString(w, `{"data":[{"offerId":"O1"}]}`)
		case strings.HasSuffix(r.URL.Path, "/paymentPlan/PP1/blocks"):
			io.WriteString(w, `[{"blockId":"B1","blockPaymentAmount":{"amount":"10.00","currency":"JOD"}}]`)
		case strings.HasSuffix(r.URL.Path, "/paymentPlan"):
			io.WriteString(w, `{"paymentPlanId":"PP1","status":"CREATED"}`)
		case strings.HasSuffix(r.URL.Path, "/PIS/initiation"):
			w.WriteHeader(http.StatusUnprocessableEntity)
			io.WriteString(w, `{"error":"insufficient funds"}`)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

type testEnv struct {
	router   http.Handler
	accounts *store.MemoryAccountRepository
}

type limiterStub struct {
	count      int
	retryAfter int
}

func (l *limiterStub) ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (int, int, error) {
	return l.count, l.retryAfter, nil
}

func newTestEnv(t *testing.T, cfg config.Config, limiter app.RateLimiter) testEnv {
	t.Helper()
	return newTestEnvWithHTTPLimiter(t, cfg, limiter, nil)
}

func newTestEnvWithHTTPLimiter(t *testing.T, cfg config.Config, limiter app.RateLimiter, httpLimiter *middleware.RateLimiter) testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	templates, err := gatewayclient.LoadTemplates("")
	if err != nil {
		t.Fatalf("failed to load templates: %v", err)
	}
	gw := fakeGateway(t)
	m := metrics.New()
	client := gatewayclient.NewClient(gatewayclient.Config{
		BaseURL:       gw.URL,
		AccountsPath:  "/Accounts/v0.4.3/accounts",
		OffersPath:    "/Offers/v0.4.3/institution/offers",
		PISPath:       "/PIS/v0.4.3",
		Authorization: "Bearer test",
		FinancialID:   "fin-1",
		Timeout:       5 * time.Second,
		Templates:     templates,
	}, m, logger)

	accounts := store.NewMemoryAccountRepository()
	txRepo := store.NewMemoryTransactionRepository(domain.Transaction{
		ID:              "T1",
		AccountID:       "A1",
		Amount:          12.5,
		BookingDateTime: time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC),
	})
	accountService := app.NewAccountService(client, nil, accounts, txRepo, nil, "", m, logger)
	if limiter != nil {
		accountService.SetSyncRateLimiter(limiter, 1)
	}
	paymentService := app.NewPaymentService(client, store.NewMemoryOfferCache(), time.Minute, logger)

	return testEnv{
		router:   NewRouter(cfg, accountService, paymentService, m, httpLimiter, logger),
		accounts: accounts,
	}
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeMap(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("response is not a JSON object: %v (%s)", err, rec.Body.String())
	}
	return out
}

func TestFetchAccounts_StoresAndSummarizes(t *testing.T) {
	env := newTestEnv(t, config.Config{}, nil)

	rec := do(t, env.router, http.MethodPost, "/fetch-accounts?customer_id=IND_CUST_001", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeMap(t, rec)
	if body["customerId"] != "IND_CUST_001" || body["accounts_count"] != float64(2) {
		t.Fatalf("unexpected summary %v", body)
	}
	if body["total_credit"] != float64(100) || body["total_debit"] != float64(40) || body["total_balance"] != float64(60) {
		t.Fatalf("unexpected totals %v", body)
	}

	exists, _ := env.accounts.CustomerExists(context.Background(), "IND_CUST_001")
	if !exists {
		t.Fatal("expected accounts to be stored")
	}
}

func TestFetchAccounts_ErrorMapping(t *testing.T) {
	env := newTestEnv(t, config.Config{}, nil)

	tests := []struct {
		name       string
		target     string
		wantStatus int
		wantDetail string
	}{
		{name: "missing customer", target: "/fetch-accounts", wantStatus: http.StatusBadRequest},
		{name: "no accounts", target: "/fetch-accounts?customer_id=EMPTY", wantStatus: http.StatusNotFound, wantDetail: noAccountsDetail},
		{name: "gateway failure", target: "/fetch-accounts?customer_id=BROKEN", wantStatus: http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, env.router, http.MethodPost, tt.target, "")
			if rec.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d: %s", tt.wantStatus, rec.Code, rec.Body.String())
			}
			detail, _ := decodeMap(t, rec)["detail"].(string)
			if detail == "" {
				t.Fatal("expected a detail message")
			}
			if tt.wantDetail != "" && detail != tt.wantDetail {
				t.Fatalf("expected detail %q, got %q", tt.wantDetail, detail)
			}
		})
	}
}

func TestFetchAccounts_RateLimited(t *testing.T) {
	env := newTestEnv(t, config.Config{}, &limiterStub{count: 2, retryAfter: 42})

	rec := do(t, env.router, http.MethodPost, "/fetch-accounts?customer_id=IND_CUST_001", "")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "42" {
		t.Fatalf("expected Retry-After 42, got %q", rec.Header().Get("Retry-After"))
	}
}

func TestPreviewAccounts_DoesNotStore(t *testing.T) {
	env := newTestEnv(t, config.Config{}, nil)

	for _, target := range []string{"/accounts?customer_id=IND_CUST_001", "/accounts/IND_CUST_001"} {
		rec := do(t, env.router, http.MethodGet, target, "")
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d: %s", target, rec.Code, rec.Body.String())
		}
		body := decodeMap(t, rec)
		if body["source"] != "gateway" || body["stored_in_database"] != false || body["accounts_count"] != float64(2) {
			t.Fatalf("%s: unexpected preview %v", target, body)
		}
	}

	ids, _ := env.accounts.ListCustomerIDs(context.Background())
	if len(ids) != 0 {
		t.Fatalf("preview must not write to the store, found %v", ids)
	}

	do(t, env.router, http.MethodPost, "/fetch-accounts?customer_id=IND_CUST_001", "")
	body := decodeMap(t, do(t, env.router, http.MethodGet, "/accounts/IND_CUST_001", ""))
	if body["stored_in_database"] != true {
		t.Fatalf("expected stored_in_database after a sync, got %v", body)
	}
}

func TestCustomerExists(t *testing.T) {
	env := newTestEnv(t, config.Config{}, nil)

	body := decodeMap(t, do(t, env.router, http.MethodGet, "/customer-exists/IND_CUST_001", ""))
	if body["exists"] != false || body["customer_id"] != "IND_CUST_001" {
		t.Fatalf("unexpected response %v", body)
	}

	do(t, env.router, http.MethodPost, "/fetch-accounts?customer_id=IND_CUST_001", "")
	body = decodeMap(t, do(t, env.router, http.MethodGet, "/customer-exists/IND_CUST_001", ""))
	if body["exists"] != true {
		t.Fatalf("expected customer to exist after sync, got %v", body)
	}
}

func TestListTransactions(t *testing.T) {
	env := newTestEnv(t, config.Config{}, nil)

	rec := do(t, env.router, http.MethodGet, "/accounts/A1/transactions", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var txs []domain.Transaction
	if err := json.Unmarshal(rec.Body.Bytes(), &txs); err != nil || len(txs) != 1 || txs[0].ID != "T1" {
		t.Fatalf("unexpected transactions %s (%v)", rec.Body.String(), err)
	}

	rec = do(t, env.router, http.MethodGet, "/accounts/UNKNOWN/transactions", "")
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Fatalf("expected an empty list, got %s", rec.Body.String())
	}
}

func TestPaymentEndpoints(t *testing.T) {
	env := newTestEnv(t, config.Config{}, nil)

	t.Run("create plan", func(t *testing.T) {
		rec := do(t, env.router, http.MethodPost, "/payment-plan", `{"amount":"10.00","customer_id":"IND_CUST_001"}`)
		if rec.Code != http.StatusOK || decodeMap(t, rec)["paymentPlanId"] != "PP1" {
			t.Fatalf("unexpected response %d: %s", rec.Code, rec.Body.String())
		}
	})

	t.Run("invalid body", func(t *testing.T) {
		rec := do(t, env.router, http.MethodPost, "/payment-plan", `{"amount":`)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("non-positive amount", func(t *testing.T) {
		rec := do(t, env.router, http.MethodPost, "/payment-plan", `{"amount":0,"customer_id":"IND_CUST_001"}`)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("blocks", func(t *testing.T) {
		rec := do(t, env.router, http.MethodPost, "/payment-plan/blocks", `{"payment_plan_id":"PP1","customer_id":"IND_CUST_001"}`)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		var blocks []domain.SettlementBlockView
		if err := json.Unmarshal(rec.Body.Bytes(), &blocks); err != nil || len(blocks) != 1 || blocks[0].BlockID != "B1" {
			t.Fatalf("unexpected blocks %s (%v)", rec.Body.String(), err)
		}
	})

	t.Run("initiate relays upstream status", func(t *testing.T) {
		rec := do(t, env.router, http.MethodPost, "/payment-initiate",
			`{"payment_plan_id":"PP1","block_id":"B1","amount":10,"customer_id":"IND_CUST_001"}`)
		if rec.Code != http.StatusUnprocessableEntity {
			t.Fatalf("expected upstream 422, got %d", rec.Code)
		}
		if strings.TrimSpace(rec.Body.String()) != `{"error":"insufficient funds"}` {
			t.Fatalf("expected upstream body verbatim, got %s", rec.Body.String())
		}
	})

	t.Run("execute", func(t *testing.T) {
		rec := do(t, env.router, http.MethodPost, "/payment-plan/execute", `{"amount":"10.00","customer_id":"IND_CUST_001"}`)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		body := decodeMap(t, rec)
		if body["paymentPlanId"] != "PP1" || body["blockId"] != "B1" {
			t.Fatalf("unexpected result %v", body)
		}
		initiation, _ := body["initiation"].(map[string]interface{})
		if initiation["status_code"] != float64(http.StatusUnprocessableEntity) {
			t.Fatalf("unexpected initiation %v", initiation)
		}
	})

	t.Run("offers", func(t *testing.T) {
		rec := do(t, env.router, http.MethodGet, "/offers", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		if _, ok := decodeMap(t, rec)["data"]; !ok {
			t.Fatalf("expected offers payload, got %s", rec.Body.String())
		}
	})
}

func TestRouter_APIKeyAndPublicRoutes(t *testing.T) {
	env := newTestEnv(t, config.Config{APIKey: "secret"}, nil)

	if rec := do(t, env.router, http.MethodGet, "/health", ""); rec.Code != http.StatusOK {
		t.Fatalf("health must stay public, got %d", rec.Code)
	}
	if rec := do(t, env.router, http.MethodGet, "/metrics", ""); rec.Code != http.StatusOK {
		t.Fatalf("metrics must stay public, got %d", rec.Code)
	}
	if rec := do(t, env.router, http.MethodGet, "/offers", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without API key, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/offers", nil)
	req.Header.Set("X-API-Key", "secret")
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with API key, got %d", rec.Code)
	}
}

func TestRouter_APIKeyCheckedBeforeRateLimit(t *testing.T) {
	httpLimiter := middleware.NewRateLimiter(1, 1, time.Minute)
	defer httpLimiter.Stop()
	env := newTestEnvWithHTTPLimiter(t, config.Config{APIKey: "secret", HTTPRateLimitPerMinute: 1}, nil, httpLimiter)

	send := func(key string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/offers", nil)
		if key != "" {
			req.Header.Set(middleware.APIKeyHeader, key)
		}
		rec := httptest.NewRecorder()
		env.router.ServeHTTP(rec, req)
		return rec
	}

	for i := 0; i < 3; i++ {
		if rec := send("wrong"); rec.Code != http.StatusUnauthorized {
			t.Fatalf("request %d: expected 401 with a bad key, got %d", i, rec.Code)
		}
	}
	if rec := send("secret"); rec.Code != http.StatusOK {
		t.Fatalf("rejected requests must not spend the bucket, got %d", rec.Code)
	}
	rec := send("secret")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 once the bucket is spent, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("expected a Retry-After header")
	}
}
