/**
 * @description
 * This file contains the core business logic for the openbanking-service, implemented
 * as an `AccountService`. It orchestrates operations by coordinating the gateway
 * client, the account normalizer, the store and the event publisher.
 *
 * @notes
 * - This service layer keeps the API handlers (controllers) thin and focused
 *   on HTTP concerns, while the business logic remains independent.
 * - A customer with zero normalized accounts is reported as ErrNoAccounts, never
 *   as an empty success.
 */
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/transfa/openbanking-service/internal/domain"
	"github.com/transfa/openbanking-service/internal/normalizer"
	"github.com/transfa/openbanking-service/internal/store"
	"github.com/transfa/openbanking-service/pkg/gatewayclient"
	"github.com/transfa/openbanking-service/pkg/metrics"
)

var (
	// ErrNoAccounts is returned when the gateway yields no accounts for a customer.
	ErrNoAccounts = errors.New("no accounts found or missing required fields")
	// ErrInvalidInput is returned for malformed caller input.
	ErrInvalidInput = errors.New("invalid input")
	// ErrRateLimited matches any *RateLimitError via errors.Is.
	ErrRateLimited = errors.New("rate limit exceeded")
)

// Sync triggers, used in logs and metrics.
const (
	TriggerHTTP     = "http"
	TriggerEvent    = "event"
	TriggerSchedule = "schedule"
	TriggerCLI      = "cli"
)

// AccountsSyncedRoutingKey is the routing key of the event published after an upsert.
const AccountsSyncedRoutingKey = "accounts.synced"

// RateLimitError is returned when a customer exceeds the sync rate limit.
type RateLimitError struct {
	RetryAfterSeconds int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("too many sync requests; retry after %d seconds", e.RetryAfterSeconds)
}

func (e *RateLimitError) Is(target error) bool { return target == ErrRateLimited }

// GatewayClient is the subset of the gateway client used by the services.
type GatewayClient interface {
	FetchAccounts(ctx context.Context, customerID string) (map[string]interface{}, error)
	FetchOffers(ctx context.Context) (map[string]interface{}, error)
	CreatePaymentPlan(ctx context.Context, amount decimal.Decimal, customerID string) (map[string]interface{}, error)
	GetPaymentPlanBlocks(ctx context.Context, paymentPlanID, customerID string) ([]domain.SettlementBlock, error)
	InitiatePayment(ctx context.Context, paymentPlanID, blockID string, amount decimal.Decimal, customerID string) (*gatewayclient.RawResponse, error)
}

// EventPublisher publishes domain events to the message broker.
type EventPublisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body interface{}) error
}

// RateLimiter counts requests per subject within a window.
type RateLimiter interface {
	ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (count int, retryAfterSeconds int, err error)
}

// PreviewResult is a normalized summary that was not written to the store.
type PreviewResult struct {
	Summary          domain.AccountSummary
	StoredInDatabase bool
}

// AccountService provides methods for aggregating and storing customer accounts.
type AccountService struct {
	gateway        GatewayClient
	normalizer     *normalizer.Normalizer
	accountRepo    store.AccountRepository
	txRepo         store.TransactionRepository
	publisher      EventPublisher
	eventsExchange string
	metrics        *metrics.Metrics
	logger         *slog.Logger

	rateLimiter     RateLimiter
	syncLimitPerMin int
	now             func() time.Time
}

// NewAccountService creates a new instance of AccountService. publisher and m may be nil.
func NewAccountService(
	gateway GatewayClient,
	norm *normalizer.Normalizer,
	accountRepo store.AccountRepository,
	txRepo store.TransactionRepository,
	publisher EventPublisher,
	eventsExchange string,
	m *metrics.Metrics,
	logger *slog.Logger,
) *AccountService {
	if logger == nil {
		logger = slog.Default()
	}
	if norm == nil {
		norm = normalizer.New(logger)
	}
	return &AccountService{
		gateway:        gateway,
		normalizer:     norm,
		accountRepo:    accountRepo,
		txRepo:         txRepo,
		publisher:      publisher,
		eventsExchange: eventsExchange,
		metrics:        m,
		logger:         logger.With("component", "account_service"),
		now:            time.Now,
	}
}

// SetSyncRateLimiter limits HTTP-triggered syncs to limitPerMinute per customer.
func (s *AccountService) SetSyncRateLimiter(limiter RateLimiter, limitPerMinute int) {
	s.rateLimiter = limiter
	s.syncLimitPerMin = limitPerMinute
}

// SyncCustomer fetches a customer's accounts from the gateway, normalizes them,
// upserts them into the store and publishes an accounts.synced event.
func (s *AccountService) SyncCustomer(ctx context.Context, customerID, trigger string) (summary domain.AccountSummary, err error) {
	upserted := 0
	defer func() { s.metrics.ObserveSync(trigger, err, upserted) }()

	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return domain.AccountSummary{}, fmt.Errorf("%w: customer_id is required", ErrInvalidInput)
	}
	if trigger == TriggerHTTP {
		if err := s.checkRateLimit(ctx, customerID); err != nil {
			return domain.AccountSummary{}, err
		}
	}

	summary, err = s.fetchSummary(ctx, customerID)
	if err != nil {
		return domain.AccountSummary{}, err
	}

	stored, err := s.accountRepo.Upsert(ctx, summary.Accounts)
	if err != nil {
		s.logger.Error("failed to upsert accounts", "customer_id", customerID, "error", err)
		return domain.AccountSummary{}, fmt.Errorf("failed to upsert accounts: %w", err)
	}
	upserted = len(stored)

	s.publishSynced(ctx, summary)
	s.logger.Info("customer accounts synced", "customer_id", customerID, "trigger", trigger, "accounts", upserted)
	return summary, nil
}

// PreviewCustomer fetches and normalizes a customer's accounts without storing them.
func (s *AccountService) PreviewCustomer(ctx context.Context, customerID string) (PreviewResult, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return PreviewResult{}, fmt.Errorf("%w: customer_id is required", ErrInvalidInput)
	}

	summary, err := s.fetchSummary(ctx, customerID)
	if err != nil {
		return PreviewResult{}, err
	}

	stored, err := s.accountRepo.CustomerExists(ctx, customerID)
	if err != nil {
		s.logger.Warn("could not check stored accounts for preview", "customer_id", customerID, "error", err)
		stored = false
	}
	return PreviewResult{Summary: summary, StoredInDatabase: stored}, nil
}

// CustomerExists reports whether any account is stored for customerID.
func (s *AccountService) CustomerExists(ctx context.Context, customerID string) (bool, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return false, fmt.Errorf("%w: customer_id is required", ErrInvalidInput)
	}
	return s.accountRepo.CustomerExists(ctx, customerID)
}

// StoredAccounts returns the accounts currently stored for customerID.
func (s *AccountService) StoredAccounts(ctx context.Context, customerID string) ([]domain.NormalizedAccount, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return nil, fmt.Errorf("%w: customer_id is required", ErrInvalidInput)
	}
	return s.accountRepo.Query(ctx, domain.AccountFilter{CustomerID: customerID})
}

// ListTransactions returns the stored transactions of one account.
func (s *AccountService) ListTransactions(ctx context.Context, accountID string) ([]domain.Transaction, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return nil, fmt.Errorf("%w: account_id is required", ErrInvalidInput)
	}
	return s.txRepo.ListByAccountID(ctx, accountID)
}

func (s *AccountService) fetchSummary(ctx context.Context, customerID string) (domain.AccountSummary, error) {
	raw, err := s.gateway.FetchAccounts(ctx, customerID)
	if err != nil {
		s.logger.Error("failed to fetch accounts from gateway", "customer_id", customerID, "error", err)
		return domain.AccountSummary{}, fmt.Errorf("failed to fetch accounts: %w", err)
	}

	summary := s.normalizer.Normalize(raw, customerID)
	if len(summary.Accounts) == 0 {
		return domain.AccountSummary{}, ErrNoAccounts
	}
	return summary, nil
}

func (s *AccountService) checkRateLimit(ctx context.Context, customerID string) error {
	if s.rateLimiter == nil || s.syncLimitPerMin <= 0 {
		return nil
	}
	count, retryAfter, err := s.rateLimiter.ConsumeRateLimit(ctx, "fetch_accounts", customerID, s.syncLimitPerMin, time.Minute)
	if err != nil {
		// Fail open when the limiter backend is unreachable.
		s.logger.Warn("sync rate limiter unavailable", "customer_id", customerID, "error", err)
		return nil
	}
	if count > s.syncLimitPerMin {
		return &RateLimitError{RetryAfterSeconds: retryAfter}
	}
	return nil
}

func (s *AccountService) publishSynced(ctx context.Context, summary domain.AccountSummary) {
	if s.publisher == nil || s.eventsExchange == "" {
		return
	}
	event := domain.AccountsSyncedEvent{
		EventID:       uuid.NewString(),
		CustomerID:    domain.StringValue(summary.CustomerID),
		AccountsCount: len(summary.Accounts),
		TotalCredit:   summary.TotalCredit,
		TotalDebit:    summary.TotalDebit,
		TotalBalance:  summary.TotalBalance,
		SyncedAt:      s.now().UTC(),
	}
	if err := s.publisher.Publish(ctx, s.eventsExchange, AccountsSyncedRoutingKey, event); err != nil {
		s.logger.Warn("failed to publish accounts.synced event", "customer_id", event.CustomerID, "error", err)
	}
}
