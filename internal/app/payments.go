/**
 * @description
 * This file contains the `PaymentService`, a thin orchestration layer over the
 * gateway's Offers and Payment Initiation Services endpoints.
 *
 * @notes
 * - Initiation responses are returned as-is; the gateway's status is the caller's
 *   to interpret.
 * - Offers are served from the OfferCache when one is configured.
 */
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/transfa/openbanking-service/internal/domain"
	"github.com/transfa/openbanking-service/internal/store"
	"github.com/transfa/openbanking-service/pkg/gatewayclient"
)

// PaymentResult is the outcome of the plan, block and initiation sequence.
type PaymentResult struct {
	PaymentPlanID string                     `json:"paymentPlanId"`
	BlockID       string                     `json:"blockId"`
	Plan          map[string]interface{}     `json:"paymentPlan"`
	Initiation    *gatewayclient.RawResponse `json:"-"`
}

// PaymentService provides methods for offers, payment plans and initiations.
type PaymentService struct {
	gateway    GatewayClient
	offerCache store.OfferCache
	offersTTL  time.Duration
	logger     *slog.Logger
}

// NewPaymentService creates a new instance of PaymentService. offerCache may be
// nil, and a zero offersTTL disables caching.
func NewPaymentService(gateway GatewayClient, offerCache store.OfferCache, offersTTL time.Duration, logger *slog.Logger) *PaymentService {
	if logger == nil {
		logger = slog.Default()
	}
	return &PaymentService{
		gateway:    gateway,
		offerCache: offerCache,
		offersTTL:  offersTTL,
		logger:     logger.With("component", "payment_service"),
	}
}

// Offers returns the institution offers, from cache when possible.
func (s *PaymentService) Offers(ctx context.Context) (map[string]interface{}, error) {
	caching := s.offerCache != nil && s.offersTTL > 0
	if caching {
		cached, err := s.offerCache.GetCachedOffers(ctx)
		if err == nil {
			return cached, nil
		}
		if !errors.Is(err, store.ErrCacheMiss) {
			s.logger.Warn("failed to read cached offers; fetching from gateway", "error", err)
		}
	}

	offers, err := s.gateway.FetchOffers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch offers: %w", err)
	}

	if caching {
		if err := s.offerCache.CacheOffers(ctx, offers, s.offersTTL); err != nil {
			s.logger.Warn("failed to cache offers", "error", err)
		}
	}
	return offers, nil
}

// CreatePlan creates a payment plan for amount on behalf of customerID.
func (s *PaymentService) CreatePlan(ctx context.Context, amount decimal.Decimal, customerID string) (map[string]interface{}, error) {
	if err := validatePayment(amount, customerID); err != nil {
		return nil, err
	}
	plan, err := s.gateway.CreatePaymentPlan(ctx, amount, strings.TrimSpace(customerID))
	if err != nil {
		return nil, fmt.Errorf("failed to create payment plan: %w", err)
	}
	return plan, nil
}

// Blocks returns a plan's settlement blocks with their decoded token claims.
func (s *PaymentService) Blocks(ctx context.Context, paymentPlanID, customerID string) ([]domain.SettlementBlockView, error) {
	paymentPlanID = strings.TrimSpace(paymentPlanID)
	if paymentPlanID == "" {
		return nil, fmt.Errorf("%w: payment_plan_id is required", ErrInvalidInput)
	}

	blocks, err := s.gateway.GetPaymentPlanBlocks(ctx, paymentPlanID, strings.TrimSpace(customerID))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch payment plan blocks: %w", err)
	}

	views := make([]domain.SettlementBlockView, 0, len(blocks))
	for _, block := range blocks {
		view := domain.SettlementBlockView{SettlementBlock: block}
		claims, err := block.TokenClaims()
		switch {
		case err == nil:
			view.TokenClaims = claims
		case !errors.Is(err, domain.ErrNoBlockToken):
			s.logger.Debug("block token not decodable", "block_id", block.BlockID, "error", err)
		}
		views = append(views, view)
	}
	return views, nil
}

// Initiate submits a payment against one block and returns the raw gateway response.
func (s *PaymentService) Initiate(ctx context.Context, paymentPlanID, blockID string, amount decimal.Decimal, customerID string) (*gatewayclient.RawResponse, error) {
	if strings.TrimSpace(paymentPlanID) == "" || strings.TrimSpace(blockID) == "" {
		return nil, fmt.Errorf("%w: payment_plan_id and block_id are required", ErrInvalidInput)
	}
	if err := validatePayment(amount, customerID); err != nil {
		return nil, err
	}
	resp, err := s.gateway.InitiatePayment(ctx, strings.TrimSpace(paymentPlanID), strings.TrimSpace(blockID), amount, strings.TrimSpace(customerID))
	if err != nil {
		return nil, fmt.Errorf("failed to initiate payment: %w", err)
	}
	s.logger.Info("payment initiation submitted", "payment_plan_id", paymentPlanID, "block_id", blockID, "status", resp.StatusCode)
	return resp, nil
}

// Pay creates a plan for amount, takes its first settlement block and initiates
// a payment against it.
func (s *PaymentService) Pay(ctx context.Context, amount decimal.Decimal, customerID string) (*PaymentResult, error) {
	plan, err := s.CreatePlan(ctx, amount, customerID)
	if err != nil {
		return nil, err
	}

	planID, _ := plan["paymentPlanId"].(string)
	if planID == "" {
		return nil, &gatewayclient.UpstreamError{
			Operation: gatewayclient.OpCreatePaymentPlan,
			Err:       errors.New("response has no paymentPlanId"),
		}
	}

	blocks, err := s.gateway.GetPaymentPlanBlocks(ctx, planID, strings.TrimSpace(customerID))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch payment plan blocks: %w", err)
	}
	if len(blocks) == 0 || blocks[0].BlockID == "" {
		return nil, &gatewayclient.UpstreamError{
			Operation: gatewayclient.OpGetBlocks,
			Err:       fmt.Errorf("payment plan %s has no settlement blocks", planID),
		}
	}

	resp, err := s.Initiate(ctx, planID, blocks[0].BlockID, amount, customerID)
	if err != nil {
		return nil, err
	}
	return &PaymentResult{PaymentPlanID: planID, BlockID: blocks[0].BlockID, Plan: plan, Initiation: resp}, nil
}

func validatePayment(amount decimal.Decimal, customerID string) error {
	if strings.TrimSpace(customerID) == "" {
		return fmt.Errorf("%w: customer_id is required", ErrInvalidInput)
	}
	if !amount.IsPositive() {
		return fmt.Errorf("%w: amount must be greater than zero", ErrInvalidInput)
	}
	return nil
}
