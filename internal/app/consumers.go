/**
 * @description
 * This file defines the event handler that processes messages from RabbitMQ asking
 * for a customer's gateway accounts to be refreshed into the store.
 *
 * @dependencies
 * - context, encoding/json, log/slog: Standard Go libraries.
 * - The service's internal packages for domain models, storage, and the gateway client.
 */
package app

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/transfa/openbanking-service/internal/domain"
	"github.com/transfa/openbanking-service/internal/store"
	"github.com/transfa/openbanking-service/pkg/gatewayclient"
)

// SyncRequestedRoutingKey is the routing key the sync handler is bound to.
const SyncRequestedRoutingKey = "customer.sync.requested"

// CustomerSyncer syncs one customer's accounts into the store.
type CustomerSyncer interface {
	SyncCustomer(ctx context.Context, customerID, trigger string) (domain.AccountSummary, error)
}

// SyncEventHandler handles customer sync request events.
type SyncEventHandler struct {
	syncer  CustomerSyncer
	timeout time.Duration
	logger  *slog.Logger
}

// NewSyncEventHandler creates a new instance of SyncEventHandler.
func NewSyncEventHandler(syncer CustomerSyncer, logger *slog.Logger) *SyncEventHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SyncEventHandler{
		syncer:  syncer,
		timeout: 45 * time.Second,
		logger:  logger.With("component", "sync_event_handler"),
	}
}

// HandleSyncRequested processes a customer.sync.requested event. It returns true
// to ack the message and false to requeue it.
func (h *SyncEventHandler) HandleSyncRequested(body []byte) bool {
	var event domain.CustomerSyncRequestedEvent
	if err := json.Unmarshal(body, &event); err != nil {
		h.logger.Error("failed to unmarshal customer.sync.requested event; acking", "error", err)
		return true
	}

	customerID := strings.TrimSpace(event.CustomerID)
	if customerID == "" {
		h.logger.Warn("customer.sync.requested event missing customer_id; acking")
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	_, err := h.syncer.SyncCustomer(ctx, customerID, TriggerEvent)
	if err == nil {
		return true
	}
	if isRetryable(err) {
		h.logger.Error("customer sync failed; requeueing", "customer_id", customerID, "error", err)
		return false
	}
	h.logger.Warn("customer sync failed permanently; acking", "customer_id", customerID, "error", err)
	return true
}

// isRetryable reports whether a sync failure may succeed on redelivery: store
// failures, transport failures and gateway 5xx responses.
func isRetryable(err error) bool {
	if errors.Is(err, store.ErrPersistence) {
		return true
	}
	var upstreamErr *gatewayclient.UpstreamError
	if errors.As(err, &upstreamErr) {
		return upstreamErr.StatusCode == 0 || upstreamErr.StatusCode >= 500
	}
	return false
}
