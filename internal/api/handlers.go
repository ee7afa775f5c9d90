/**
 * @description
 * This file contains the HTTP handlers for the openbanking-service API. Handlers
 * decode requests, call the application services and map their errors onto
 * status codes with a `{"detail": "..."}` body.
 *
 * @dependencies
 * - net/http, encoding/json: Standard Go libraries.
 * - github.com/go-chi/chi/v5: For URL parameter extraction.
 * - github.com/shopspring/decimal: Payment amounts.
 */
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/transfa/openbanking-service/internal/app"
	"github.com/transfa/openbanking-service/internal/domain"
	"github.com/transfa/openbanking-service/internal/store"
	"github.com/transfa/openbanking-service/pkg/gatewayclient"
)

const noAccountsDetail = "No accounts found or missing required fields."

// AccountSummaryResponse is the JSON shape of a customer's aggregated accounts.
type AccountSummaryResponse struct {
	CustomerID    *string                    `json:"customerId"`
	AccountsCount int                        `json:"accounts_count"`
	Accounts      []domain.NormalizedAccount `json:"accounts"`
	TotalBalance  float64                    `json:"total_balance"`
	TotalCredit   float64                    `json:"total_credit"`
	TotalDebit    float64                    `json:"total_debit"`
}

// AccountPreviewResponse adds where the data came from to a summary.
type AccountPreviewResponse struct {
	AccountSummaryResponse
	Source           string `json:"source"`
	StoredInDatabase bool   `json:"stored_in_database"`
}

func newSummaryResponse(summary domain.AccountSummary) AccountSummaryResponse {
	accounts := summary.Accounts
	if accounts == nil {
		accounts = []domain.NormalizedAccount{}
	}
	return AccountSummaryResponse{
		CustomerID:    summary.CustomerID,
		AccountsCount: len(accounts),
		Accounts:      accounts,
		TotalBalance:  summary.TotalBalance,
		TotalCredit:   summary.TotalCredit,
		TotalDebit:    summary.TotalDebit,
	}
}

// AccountHandler holds dependencies for account-related handlers.
type AccountHandler struct {
	service *app.AccountService
	logger  *slog.Logger
}

// NewAccountHandler creates a new AccountHandler.
func NewAccountHandler(service *app.AccountService, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{service: service, logger: logger.With("component", "account_handler")}
}

// FetchAccounts syncs a customer's accounts into the store and returns the summary.
func (h *AccountHandler) FetchAccounts(w http.ResponseWriter, r *http.Request) {
	customerID := r.URL.Query().Get("customer_id")

	summary, err := h.service.SyncCustomer(r.Context(), customerID, app.TriggerHTTP)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, newSummaryResponse(summary))
}

// PreviewAccounts returns a customer's normalized accounts without storing them.
// The customer is taken from the path when present, otherwise from ?customer_id.
func (h *AccountHandler) PreviewAccounts(w http.ResponseWriter, r *http.Request) {
	customerID := chi.URLParam(r, "id")
	if customerID == "" {
		customerID = r.URL.Query().Get("customer_id")
	}

	preview, err := h.service.PreviewCustomer(r.Context(), customerID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, AccountPreviewResponse{
		AccountSummaryResponse: newSummaryResponse(preview.Summary),
		Source:                 "gateway",
		StoredInDatabase:       preview.StoredInDatabase,
	})
}

// CustomerExists reports whether the store holds any account for the customer.
func (h *AccountHandler) CustomerExists(w http.ResponseWriter, r *http.Request) {
	customerID := chi.URLParam(r, "customer_id")

	exists, err := h.service.CustomerExists(r.Context(), customerID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"customer_id": customerID,
		"exists":      exists,
	})
}

// ListTransactions returns the stored transactions of an account.
func (h *AccountHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "id")

	transactions, err := h.service.ListTransactions(r.Context(), accountID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if transactions == nil {
		transactions = []domain.Transaction{}
	}

	writeJSON(w, http.StatusOK, transactions)
}

// PaymentHandler holds dependencies for offers and payment handlers.
type PaymentHandler struct {
	service *app.PaymentService
	logger  *slog.Logger
}

// NewPaymentHandler creates a new PaymentHandler.
func NewPaymentHandler(service *app.PaymentService, logger *slog.Logger) *PaymentHandler {
	return &PaymentHandler{service: service, logger: logger.With("component", "payment_handler")}
}

// PaymentPlanRequest is the payload for creating or executing a payment plan.
type PaymentPlanRequest struct {
	Amount     decimal.Decimal `json:"amount"`
	CustomerID string          `json:"customer_id"`
}

// PaymentBlocksRequest is the payload for listing a plan's settlement blocks.
type PaymentBlocksRequest struct {
	PaymentPlanID string `json:"payment_plan_id"`
	CustomerID    string `json:"customer_id"`
}

// PaymentInitiateRequest is the payload for initiating a payment against a block.
type PaymentInitiateRequest struct {
	PaymentPlanID string          `json:"payment_plan_id"`
	BlockID       string          `json:"block_id"`
	Amount        decimal.Decimal `json:"amount"`
	CustomerID    string          `json:"customer_id"`
}

// Offers returns the gateway's institution offers.
func (h *PaymentHandler) Offers(w http.ResponseWriter, r *http.Request) {
	offers, err := h.service.Offers(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, offers)
}

// CreatePaymentPlan creates a payment plan for the requested amount.
func (h *PaymentHandler) CreatePaymentPlan(w http.ResponseWriter, r *http.Request) {
	var req PaymentPlanRequest
	if !decodeBody(w, r, &req) {
		return
	}

	plan, err := h.service.CreatePlan(r.Context(), req.Amount, req.CustomerID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

// PaymentPlanBlocks lists a payment plan's settlement blocks.
func (h *PaymentHandler) PaymentPlanBlocks(w http.ResponseWriter, r *http.Request) {
	var req PaymentBlocksRequest
	if !decodeBody(w, r, &req) {
		return
	}

	blocks, err := h.service.Blocks(r.Context(), req.PaymentPlanID, req.CustomerID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, blocks)
}

// InitiatePayment relays the gateway's initiation response, status and body, unchanged.
func (h *PaymentHandler) InitiatePayment(w http.ResponseWriter, r *http.Request) {
	var req PaymentInitiateRequest
	if !decodeBody(w, r, &req) {
		return
	}

	resp, err := h.service.Initiate(r.Context(), req.PaymentPlanID, req.BlockID, req.Amount, req.CustomerID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/json"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(resp.StatusCode)
	if _, err := w.Write(resp.Body); err != nil {
		h.logger.Warn("failed to write initiation response", "error", err)
	}
}

// ExecutePaymentPlan runs plan creation, block lookup and initiation in one call.
func (h *PaymentHandler) ExecutePaymentPlan(w http.ResponseWriter, r *http.Request) {
	var req PaymentPlanRequest
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := h.service.Pay(r.Context(), req.Amount, req.CustomerID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	initiation := map[string]interface{}{"status_code": result.Initiation.StatusCode}
	if json.Valid(result.Initiation.Body) {
		initiation["body"] = json.RawMessage(result.Initiation.Body)
	} else {
		initiation["body"] = string(result.Initiation.Body)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"paymentPlanId": result.PaymentPlanID,
		"blockId":       result.BlockID,
		"paymentPlan":   result.Plan,
		"initiation":    initiation,
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeDetail(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

// writeError maps service errors onto HTTP responses.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var rateLimitErr *app.RateLimitError
	switch {
	case errors.Is(err, app.ErrInvalidInput):
		writeDetail(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrNoAccounts):
		writeDetail(w, http.StatusNotFound, noAccountsDetail)
	case errors.As(err, &rateLimitErr):
		w.Header().Set("Retry-After", strconv.Itoa(rateLimitErr.RetryAfterSeconds))
		writeDetail(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, gatewayclient.ErrUpstream):
		logger.Error("gateway request failed", "error", err)
		writeDetail(w, http.StatusBadGateway, err.Error())
	case errors.Is(err, store.ErrPersistence):
		logger.Error("store operation failed", "error", err)
		writeDetail(w, http.StatusInternalServerError, err.Error())
	default:
		logger.Error("unhandled error", "error", err)
		writeDetail(w, http.StatusInternalServerError, "Internal server error")
	}
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": strings.TrimSpace(detail)})
}

// writeJSON is a helper to write JSON responses.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "component", "api", "error", err)
	}
}
