/**
 * @description
 * Scheduled job implementations for the openbanking-service.
 */
package app

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// CustomerLister lists the customers that have stored accounts.
type CustomerLister interface {
	ListCustomerIDs(ctx context.Context) ([]string, error)
}

// ResyncReport summarizes one run of the resync job.
type ResyncReport struct {
	Customers  int
	Synced     int
	NoAccounts int
	Failed     int
}

// Jobs contains the logic for all scheduled tasks.
type Jobs struct {
	customers   CustomerLister
	syncer      CustomerSyncer
	perCustomer time.Duration
	logger      *slog.Logger
}

// NewJobs creates a new Jobs runner.
func NewJobs(customers CustomerLister, syncer CustomerSyncer, logger *slog.Logger) *Jobs {
	if logger == nil {
		logger = slog.Default()
	}
	return &Jobs{
		customers:   customers,
		syncer:      syncer,
		perCustomer: 45 * time.Second,
		logger:      logger.With("component", "jobs"),
	}
}

// ResyncStoredCustomers refreshes every customer already present in the store.
// Customers are synced one after another; a failure is logged and the run continues.
func (j *Jobs) ResyncStoredCustomers() {
	j.logger.Info("starting stored customer resync job")
	report, err := j.Resync(context.Background())
	if err != nil {
		j.logger.Error("failed to list stored customers", "error", err)
		return
	}
	j.logger.Info("stored customer resync job finished",
		"customers", report.Customers, "synced", report.Synced, "no_accounts", report.NoAccounts, "failed", report.Failed)
}

// Resync runs the resync job and returns its report.
func (j *Jobs) Resync(ctx context.Context) (ResyncReport, error) {
	ids, err := j.customers.ListCustomerIDs(ctx)
	if err != nil {
		return ResyncReport{}, err
	}

	report := ResyncReport{Customers: len(ids)}
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		syncCtx, cancel := context.WithTimeout(ctx, j.perCustomer)
		_, err := j.syncer.SyncCustomer(syncCtx, id, TriggerSchedule)
		cancel()

		switch {
		case err == nil:
			report.Synced++
		case errors.Is(err, ErrNoAccounts):
			report.NoAccounts++
			j.logger.Warn("stored customer no longer has gateway accounts", "customer_id", id)
		default:
			report.Failed++
			j.logger.Error("failed to resync customer", "customer_id", id, "error", err)
		}
	}
	return report, nil
}
