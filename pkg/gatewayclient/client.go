/**
 * @description
 * This package provides a client for the Open-Banking gateway. It encapsulates
 * the logic for making credentialed HTTP requests to the gateway's Accounts,
 * Offers and Payment Initiation Services endpoints.
 *
 * Key features:
 * - Credential headers come from configuration, never from literals.
 * - Every request gets fresh x-interactions-id and x-idempotency-key values.
 * - Non-2xx responses and transport failures surface as *UpstreamError.
 * - No retries; the per-request timeout is configurable.
 *
 * @dependencies
 * - github.com/google/uuid: request correlation identifiers.
 * - github.com/shopspring/decimal: payment amounts.
 * - The service's internal domain package for gateway request/response models.
 */
package gatewayclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/transfa/openbanking-service/internal/domain"
	"github.com/transfa/openbanking-service/pkg/metrics"
)

// Operation names used in errors, logs and metrics.
const (
	OpFetchAccounts     = "fetch_accounts"
	OpFetchOffers       = "fetch_offers"
	OpCreatePaymentPlan = "create_payment_plan"
	OpGetBlocks         = "get_payment_plan_blocks"
	OpInitiatePayment   = "initiate_payment"
)

// Fixed pagination sent with every list request.
const (
	defaultSkip  = "0"
	defaultLimit = "10"
	defaultSort  = "desc"
)

// shortBodyThreshold is the body length at or below which the sandbox is
// considered to have returned no blocks.
const shortBodyThreshold = 20

// ErrUpstream matches any *UpstreamError via errors.Is.
var ErrUpstream = errors.New("upstream gateway error")

// UpstreamError reports a transport failure or a non-success gateway status.
type UpstreamError struct {
	Operation  string
	StatusCode int
	Body       string
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("gateway %s failed: status %d, body: %s", e.Operation, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("gateway %s failed: %v", e.Operation, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

func (e *UpstreamError) Is(target error) bool { return target == ErrUpstream }

// RawResponse is an undecoded gateway response.
type RawResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Config holds the connection and credential settings for the gateway.
type Config struct {
	BaseURL           string
	AccountsPath      string
	OffersPath        string
	PISPath           string
	Authorization     string
	FinancialID       string
	JWSSignature      string
	CustomerUserAgent string
	CustomerIPAddress string
	Timeout           time.Duration
	StubMode          bool
	Templates         domain.PaymentTemplates
}

// Client is a client for the Open-Banking gateway.
type Client struct {
	cfg        Config
	httpClient *http.Client
	metrics    *metrics.Metrics
	logger     *slog.Logger
	now        func() time.Time
}

// NewClient creates a new gateway client. m may be nil.
func NewClient(cfg Config, m *metrics.Metrics, logger *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}
}

// FetchAccounts fetches the first page of a customer's accounts and returns the
// decoded body unmodified.
func (c *Client) FetchAccounts(ctx context.Context, customerID string) (map[string]interface{}, error) {
	endpoint := c.cfg.BaseURL + c.cfg.AccountsPath + "?" + paginationQuery()
	var resp map[string]interface{}
	if err := c.do(ctx, OpFetchAccounts, http.MethodGet, endpoint, customerID, nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// FetchOffers fetches the first page of institution offers.
func (c *Client) FetchOffers(ctx context.Context) (map[string]interface{}, error) {
	endpoint := c.cfg.BaseURL + c.cfg.OffersPath + "?" + paginationQuery()
	var resp map[string]interface{}
	if err := c.do(ctx, OpFetchOffers, http.MethodGet, endpoint, "", nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// CreatePaymentPlan submits the payment plan template with amount filled in.
func (c *Client) CreatePaymentPlan(ctx context.Context, amount decimal.Decimal, customerID string) (map[string]interface{}, error) {
	endpoint := c.cfg.BaseURL + c.cfg.PISPath + "/paymentPlan"
	body := BuildPaymentPlanRequest(c.cfg.Templates.PaymentPlan, amount)
	var resp map[string]interface{}
	if err := c.do(ctx, OpCreatePaymentPlan, http.MethodPost, endpoint, customerID, body, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// GetPaymentPlanBlocks fetches the settlement blocks of a payment plan.
// In stub mode a short body is replaced by the canned sandbox block list.
func (c *Client) GetPaymentPlanBlocks(ctx context.Context, paymentPlanID, customerID string) ([]domain.SettlementBlock, error) {
	endpoint := fmt.Sprintf("%s%s/paymentPlan/%s/blocks", c.cfg.BaseURL, c.cfg.PISPath, url.PathEscape(paymentPlanID))

	raw, err := c.send(ctx, OpGetBlocks, http.MethodGet, endpoint, customerID, nil)
	if err != nil {
		return nil, err
	}
	if raw.StatusCode != http.StatusOK {
		return nil, &UpstreamError{Operation: OpGetBlocks, StatusCode: raw.StatusCode, Body: string(raw.Body)}
	}

	trimmed := bytes.TrimSpace(raw.Body)
	if len(trimmed) <= shortBodyThreshold {
		if c.cfg.StubMode {
			c.logger.Warn("gateway returned short blocks body; substituting stub blocks",
				"component", "gatewayclient", "payment_plan_id", paymentPlanID, "body_length", len(trimmed))
			return StubBlocks()
		}
		if len(trimmed) == 0 {
			return []domain.SettlementBlock{}, nil
		}
	}

	var blocks []domain.SettlementBlock
	if err := json.Unmarshal(trimmed, &blocks); err != nil {
		return nil, &UpstreamError{Operation: OpGetBlocks, Err: fmt.Errorf("failed to unmarshal response body: %w", err)}
	}
	return blocks, nil
}

// InitiatePayment submits a payment instruction against a block and returns
// the gateway's response without decoding or checking its status.
func (c *Client) InitiatePayment(ctx context.Context, paymentPlanID, blockID string, amount decimal.Decimal, customerID string) (*RawResponse, error) {
	endpoint := c.cfg.BaseURL + c.cfg.PISPath + "/PIS/initiation"
	body := BuildPaymentInitiationRequest(c.cfg.Templates.PaymentInitiation, paymentPlanID, blockID, amount, c.now())
	return c.send(ctx, OpInitiatePayment, http.MethodPost, endpoint, customerID, body)
}

// do sends a request, requires a 2xx status and decodes the body into target.
func (c *Client) do(ctx context.Context, operation, method, endpoint, customerID string, body, target interface{}) error {
	raw, err := c.send(ctx, operation, method, endpoint, customerID, body)
	if err != nil {
		return err
	}

	if raw.StatusCode < 200 || raw.StatusCode >= 300 {
		c.logger.Warn("gateway returned non-success status",
			"component", "gatewayclient", "operation", operation, "status", raw.StatusCode, "body", string(raw.Body))
		return &UpstreamError{Operation: operation, StatusCode: raw.StatusCode, Body: string(raw.Body)}
	}

	if target != nil {
		dec := json.NewDecoder(bytes.NewReader(raw.Body))
		dec.UseNumber()
		if err := dec.Decode(target); err != nil {
			return &UpstreamError{Operation: operation, Err: fmt.Errorf("failed to unmarshal response body: %w", err)}
		}
	}
	return nil
}

// send performs one HTTP exchange. Only transport failures are errors.
func (c *Client) send(ctx context.Context, operation, method, endpoint, customerID string, body interface{}) (*RawResponse, error) {
	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create http request: %w", err)
	}
	c.setHeaders(req, customerID, body != nil)

	c.logger.Debug("making gateway request", "component", "gatewayclient", "operation", operation, "method", method, "url", endpoint)
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.ObserveGatewayRequest(operation, metrics.OutcomeTransportError, time.Since(start))
		return nil, &UpstreamError{Operation: operation, Err: fmt.Errorf("http request failed: %w", err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		c.metrics.ObserveGatewayRequest(operation, metrics.OutcomeTransportError, time.Since(start))
		return nil, &UpstreamError{Operation: operation, Err: fmt.Errorf("failed to read response body: %w", err)}
	}
	c.metrics.ObserveGatewayRequest(operation, metrics.OutcomeForStatus(resp.StatusCode), time.Since(start))

	return &RawResponse{StatusCode: resp.StatusCode, Header: resp.Header, Body: respBody}, nil
}

func (c *Client) setHeaders(req *http.Request, customerID string, hasBody bool) {
	if hasBody {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", c.cfg.Authorization)
	req.Header.Set("x-financial-id", c.cfg.FinancialID)
	req.Header.Set("x-auth-date", c.now().UTC().Format(time.RFC3339))
	req.Header.Set("x-interactions-id", uuid.NewString())
	req.Header.Set("x-idempotency-key", uuid.NewString())
	if c.cfg.JWSSignature != "" {
		req.Header.Set("x-jws-signature", c.cfg.JWSSignature)
	}
	if c.cfg.CustomerUserAgent != "" {
		req.Header.Set("x-customer-user-agent", c.cfg.CustomerUserAgent)
	}
	if c.cfg.CustomerIPAddress != "" {
		req.Header.Set("x-customer-ip-address", c.cfg.CustomerIPAddress)
	}
	if customerID != "" {
		req.Header.Set("x-customer-id", customerID)
	}
}

func paginationQuery() string {
	q := url.Values{}
	q.Set("skip", defaultSkip)
	q.Set("limit", defaultLimit)
	q.Set("sort", defaultSort)
	return q.Encode()
}
