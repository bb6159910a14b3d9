package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/frahmantamala/affiliate-payouts/internal/core/datamodel/audit"
	"github.com/frahmantamala/affiliate-payouts/internal/core/datamodel/batch"
	"github.com/frahmantamala/affiliate-payouts/internal/core/events"
	"github.com/frahmantamala/affiliate-payouts/internal/provider"
)

// ReconcileRepository is what the reconcile worker reads and writes.
type ReconcileRepository interface {
	ListStaleProcessingTransactions(olderThan time.Time, limit int) ([]*batch.DisbursementTransaction, error)
	UpdateTransactionStatus(id int64, status string, providerTxID, errorMessage *string) error
	GetBatchProvider(batchID int64) (string, error)
}

// Reconciler polls the provider for transactions stuck in processing, where
// a webhook was lost or the provider settled out of band.
type Reconciler struct {
	repo        ReconcileRepository
	commissions CommissionSettler
	providers   ProviderRegistry
	auditor     AuditRecorder
	eventBus    *events.EventBus
	staleAfter  time.Duration
	batchSize   int
	logger      *slog.Logger
}

func NewReconciler(
	repo ReconcileRepository,
	commissions CommissionSettler,
	providers ProviderRegistry,
	auditor AuditRecorder,
	eventBus *events.EventBus,
	staleAfter time.Duration,
	logger *slog.Logger,
) *Reconciler {
	if staleAfter <= 0 {
		staleAfter = 10 * time.Minute
	}
	return &Reconciler{
		repo:        repo,
		commissions: commissions,
		providers:   providers,
		auditor:     auditor,
		eventBus:    eventBus,
		staleAfter:  staleAfter,
		batchSize:   50,
		logger:      logger,
	}
}

// Run polls on the given interval until the context is cancelled.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.logger.Info("reconcile worker started", "interval", interval.String(), "stale_after", r.staleAfter.String())

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reconcile worker stopped")
			return
		case <-ticker.C:
			if n, err := r.ReconcileOnce(ctx); err != nil {
				r.logger.Error("reconcile pass failed", "error", err)
			} else if n > 0 {
				r.logger.Info("reconcile pass settled transactions", "settled", n)
			}
		}
	}
}

// ReconcileOnce settles every stale processing transaction whose provider
// status has reached a terminal state. It returns the number settled.
func (r *Reconciler) ReconcileOnce(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-r.staleAfter)
	txs, err := r.repo.ListStaleProcessingTransactions(cutoff, r.batchSize)
	if err != nil {
		return 0, err
	}

	settled := 0

	for _, tx := range txs {
		if tx.ProviderTxID == nil {
			continue
		}

		// the provider was recorded immutably on the batch at creation
		name, err := r.repo.GetBatchProvider(tx.BatchID)
		if err != nil {
			r.logger.Error("reconcile: failed to resolve batch provider", "error", err, "batch_id", tx.BatchID)
			continue
		}
		p, err := r.providers.Get(name)
		if err != nil {
			r.logger.Error("reconcile: provider not registered", "provider", name, "transaction_id", tx.ID)
			continue
		}

		status, err := p.GetPaymentStatus(ctx, *tx.ProviderTxID)
		if err != nil {
			r.logger.Warn("reconcile: status poll failed",
				"error", err, "transaction_id", tx.ID, "provider_tx_id", *tx.ProviderTxID)
			continue
		}

		switch status.Status {
		case provider.ResultStatusCompleted:
			if err := r.repo.UpdateTransactionStatus(tx.ID, batch.StatusCompleted, tx.ProviderTxID, nil); err != nil {
				r.logger.Error("reconcile: failed to complete transaction", "error", err, "transaction_id", tx.ID)
				continue
			}
			if err := r.commissions.MarkPaid(tx.ID); err != nil {
				r.logger.Error("reconcile: failed to settle commissions", "error", err, "transaction_id", tx.ID)
			}
			_ = r.auditor.Record(ctx, "reconcile.payment_completed", audit.StatusSuccess, map[string]interface{}{
				"provider_tx_id": *tx.ProviderTxID,
			}, &tx.BatchID, &tx.ID)
			r.eventBus.Publish(ctx, events.NewPaymentCompletedEvent(tx.ID, tx.BatchID, tx.PayeeID, tx.AmountCents, *tx.ProviderTxID))
			settled++

		case provider.ResultStatusFailed:
			reason := "payment failed at provider (reconciled)"
			if err := r.repo.UpdateTransactionStatus(tx.ID, batch.StatusFailed, nil, &reason); err != nil {
				r.logger.Error("reconcile: failed to fail transaction", "error", err, "transaction_id", tx.ID)
				continue
			}
			if err := r.commissions.ReleaseClaims(tx.ID); err != nil {
				r.logger.Error("reconcile: failed to release commissions", "error", err, "transaction_id", tx.ID)
			}
			_ = r.auditor.Record(ctx, "reconcile.payment_failed", audit.StatusFailure, map[string]interface{}{
				"provider_tx_id": *tx.ProviderTxID,
			}, &tx.BatchID, &tx.ID)
			r.eventBus.Publish(ctx, events.NewPaymentFailedEvent(tx.ID, tx.BatchID, tx.PayeeID, tx.AmountCents, reason, tx.RetryCount))
			settled++

		default:
			// still pending on the provider side; leave it for the next pass
		}
	}

	return settled, nil
}
