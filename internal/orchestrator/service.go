// Package orchestrator drives batch execution: claiming the processing slot,
// submitting the batch to the provider, settling per-payment results and
// retrying failed payments with exponential backoff.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	apperrors "github.com/frahmantamala/affiliate-payouts/internal"
	"github.com/frahmantamala/affiliate-payouts/internal/core/datamodel/audit"
	"github.com/frahmantamala/affiliate-payouts/internal/core/datamodel/batch"
	"github.com/frahmantamala/affiliate-payouts/internal/core/events"
	"github.com/frahmantamala/affiliate-payouts/internal/provider"
	"github.com/frahmantamala/affiliate-payouts/internal/retry"
)

// BatchRepository is the execution-time slice of the batch store.
type BatchRepository interface {
	GetByID(id int64) (*batch.PaymentBatch, error)
	MarkProcessing(id int64) (bool, error)
	Finalize(id int64, status string, errorMessage *string) error
	GetTransactionsByBatch(batchID int64) ([]*batch.DisbursementTransaction, error)
	UpdateTransactionStatus(id int64, status string, providerTxID, errorMessage *string) error
	IncrementTransactionRetry(id int64) error
}

// CommissionSettler settles or releases the commissions claimed by a
// transaction once its outcome is known.
type CommissionSettler interface {
	MarkPaid(transactionID int64) error
	ReleaseClaims(transactionID int64) error
}

type AuditRecorder interface {
	Record(ctx context.Context, action, status string, details interface{}, batchID, transactionID *int64) error
}

type ProviderRegistry interface {
	Get(name string) (provider.Provider, error)
}

// ExecutionResult summarizes one batch execution run.
type ExecutionResult struct {
	BatchID      int64    `json:"batch_id"`
	Success      bool     `json:"success"`
	SuccessCount int      `json:"success_count"`
	FailedCount  int      `json:"failed_count"`
	PendingCount int      `json:"pending_count"`
	Errors       []string `json:"errors,omitempty"`
}

type Service struct {
	repo        BatchRepository
	commissions CommissionSettler
	providers   ProviderRegistry
	auditor     AuditRecorder
	eventBus    *events.EventBus
	policy      retry.Policy
	logger      *slog.Logger
}

func NewService(
	repo BatchRepository,
	commissions CommissionSettler,
	providers ProviderRegistry,
	auditor AuditRecorder,
	eventBus *events.EventBus,
	policy retry.Policy,
	logger *slog.Logger,
) *Service {
	return &Service{
		repo:        repo,
		commissions: commissions,
		providers:   providers,
		auditor:     auditor,
		eventBus:    eventBus,
		policy:      policy,
		logger:      logger,
	}
}

// ExecuteBatch runs a batch end to end. The processing slot is claimed with
// a conditional update so only one batch can execute at a time across all
// server instances. Authentication or submission failure fails the whole
// batch without touching its transactions; after submission every payment
// settles independently, failed ones retried up to the policy ceiling.
func (s *Service) ExecuteBatch(ctx context.Context, batchID int64) (*ExecutionResult, error) {
	b, err := s.repo.GetByID(batchID)
	if err != nil {
		return nil, apperrors.ErrBatchNotFound
	}
	if !b.Executable() {
		s.logger.Warn("batch not executable", "batch_id", batchID, "status", b.Status)
		return nil, apperrors.ErrBatchNotExecutable
	}

	claimed, err := s.repo.MarkProcessing(batchID)
	if err != nil {
		s.logger.Error("failed to claim processing slot", "error", err, "batch_id", batchID)
		return nil, apperrors.NewInternalError("failed to start batch execution", err)
	}
	if !claimed {
		// lost the race: either the batch moved on or another batch holds
		// the slot
		current, err := s.repo.GetByID(batchID)
		if err == nil && !current.Executable() {
			return nil, apperrors.ErrBatchNotExecutable
		}
		s.logger.Warn("processing slot busy", "batch_id", batchID)
		return nil, apperrors.ErrBatchInFlight
	}

	s.logger.Info("batch execution started",
		"batch_id", batchID,
		"reference", b.Reference,
		"provider", b.Provider,
		"payment_count", b.PaymentCount)

	p, err := s.providers.Get(b.Provider)
	if err != nil {
		return nil, s.abortBatch(ctx, b, "provider not registered: "+b.Provider, err)
	}

	if err := p.Authenticate(ctx); err != nil {
		s.logger.Error("provider authentication failed", "error", err, "batch_id", batchID, "provider", b.Provider)
		return nil, s.abortBatch(ctx, b, "provider authentication failed", err)
	}

	txs, err := s.repo.GetTransactionsByBatch(batchID)
	if err != nil {
		return nil, s.abortBatch(ctx, b, "failed to load transactions", err)
	}

	items := make([]provider.BatchPaymentItem, 0, len(txs))
	byRef := make(map[string]*batch.DisbursementTransaction, len(txs))
	for _, tx := range txs {
		items = append(items, provider.BatchPaymentItem{
			TransactionRef:    tx.TransactionRef,
			ProviderAccountID: tx.ProviderAccountID,
			AmountMinor:       tx.AmountMinor,
			Currency:          tx.Currency,
		})
		byRef[tx.TransactionRef] = tx
	}

	results, err := p.SendBatchPayment(ctx, items)
	if err != nil {
		s.logger.Error("batch submission failed", "error", err, "batch_id", batchID, "provider", b.Provider)
		return nil, s.abortBatch(ctx, b, "batch submission failed", err)
	}

	outcome := s.settleResults(ctx, b, p, byRef, results)

	status := batch.StatusCompleted
	var finalErr *string
	if outcome.SuccessCount != len(txs) {
		status = batch.StatusFailed
		msg := fmt.Sprintf("%d of %d payments did not complete", len(txs)-outcome.SuccessCount, len(txs))
		finalErr = &msg
	}
	if err := s.repo.Finalize(batchID, status, finalErr); err != nil {
		s.logger.Error("failed to finalize batch", "error", err, "batch_id", batchID)
		return nil, apperrors.NewInternalError("failed to finalize batch", err)
	}

	outcome.Success = status == batch.StatusCompleted

	auditStatus := audit.StatusSuccess
	if !outcome.Success {
		auditStatus = audit.StatusFailure
	}
	_ = s.auditor.Record(ctx, "batch.execute", auditStatus, map[string]interface{}{
		"reference":     b.Reference,
		"provider":      b.Provider,
		"success_count": outcome.SuccessCount,
		"failed_count":  outcome.FailedCount,
		"pending_count": outcome.PendingCount,
	}, &batchID, nil)

	s.eventBus.Publish(ctx, events.NewBatchFinishedEvent(batchID, outcome.SuccessCount, outcome.FailedCount))

	s.logger.Info("batch execution finished",
		"batch_id", batchID,
		"status", status,
		"success_count", outcome.SuccessCount,
		"failed_count", outcome.FailedCount,
		"pending_count", outcome.PendingCount)

	return outcome, nil
}

// abortBatch fails a batch before any payment was settled. Transactions stay
// in pending with their commission claims intact, so the batch can be
// cancelled and rebuilt.
func (s *Service) abortBatch(ctx context.Context, b *batch.PaymentBatch, reason string, cause error) error {
	msg := reason
	if cause != nil {
		msg = fmt.Sprintf("%s: %v", reason, cause)
	}
	if err := s.repo.Finalize(b.ID, batch.StatusFailed, &msg); err != nil {
		s.logger.Error("failed to record batch abort", "error", err, "batch_id", b.ID)
	}

	_ = s.auditor.Record(ctx, "batch.execute", audit.StatusFailure, map[string]interface{}{
		"reference": b.Reference,
		"provider":  b.Provider,
		"reason":    msg,
	}, &b.ID, nil)

	s.eventBus.Publish(ctx, events.NewBatchFinishedEvent(b.ID, 0, b.PaymentCount))

	return apperrors.NewExternalError(reason, apperrors.ErrCodeProviderUnavailable, cause)
}

type settlement struct {
	succeeded bool
	pending   bool
	errMsg    string
}

// settleResults applies the provider's per-item outcomes. Failed payments
// retry concurrently with backoff; the call returns only once every payment
// reached a stable state.
func (s *Service) settleResults(
	ctx context.Context,
	b *batch.PaymentBatch,
	p provider.Provider,
	byRef map[string]*batch.DisbursementTransaction,
	results []provider.PaymentResult,
) *ExecutionResult {
	outcome := &ExecutionResult{BatchID: b.ID}

	var mu sync.Mutex
	var wg sync.WaitGroup

	record := func(tx *batch.DisbursementTransaction, st settlement) {
		mu.Lock()
		defer mu.Unlock()
		switch {
		case st.succeeded:
			outcome.SuccessCount++
		case st.pending:
			outcome.PendingCount++
		default:
			outcome.FailedCount++
			outcome.Errors = append(outcome.Errors,
				fmt.Sprintf("transaction %s: %s", tx.TransactionRef, st.errMsg))
		}
	}

	seen := make(map[string]bool, len(results))
	for _, res := range results {
		tx, ok := byRef[res.TransactionRef]
		if !ok {
			s.logger.Warn("provider returned unknown transaction ref",
				"batch_id", b.ID, "transaction_ref", res.TransactionRef)
			continue
		}
		if seen[res.TransactionRef] {
			s.logger.Warn("provider returned duplicate transaction ref",
				"batch_id", b.ID, "transaction_ref", res.TransactionRef)
			continue
		}
		seen[res.TransactionRef] = true

		switch res.Status {
		case provider.ResultStatusCompleted:
			s.settleSuccess(ctx, b, tx, res.ProviderTxID)
			record(tx, settlement{succeeded: true})

		case provider.ResultStatusPending:
			s.markPending(b, tx, res.ProviderTxID)
			record(tx, settlement{pending: true})

		default:
			wg.Add(1)
			go func(tx *batch.DisbursementTransaction, res provider.PaymentResult) {
				defer wg.Done()
				record(tx, s.retryPayment(ctx, b, p, tx, res))
			}(tx, res)
		}
	}

	// items the provider never reported back count as failed, with no
	// provider-side state to retry against
	for ref, tx := range byRef {
		if seen[ref] {
			continue
		}
		msg := "no result returned by provider"
		s.settleFailure(ctx, b, tx, msg)
		record(tx, settlement{errMsg: msg})
	}

	wg.Wait()
	return outcome
}

// retryPayment re-submits a single failed payment with exponential backoff
// until it completes, goes pending, or exhausts the attempt ceiling. The
// initial batch submission counts as attempt one.
func (s *Service) retryPayment(
	ctx context.Context,
	b *batch.PaymentBatch,
	p provider.Provider,
	tx *batch.DisbursementTransaction,
	first provider.PaymentResult,
) settlement {
	lastFailure := first.FailureReason
	if lastFailure == "" {
		lastFailure = "payment failed"
	}
	s.markRetryable(b, tx, lastFailure)

	item := provider.BatchPaymentItem{
		TransactionRef:    tx.TransactionRef,
		ProviderAccountID: tx.ProviderAccountID,
		AmountMinor:       tx.AmountMinor,
		Currency:          tx.Currency,
	}

	for attempt := 2; attempt <= s.policy.MaxAttempts; attempt++ {
		delay := s.policy.Delay(attempt - 1)
		select {
		case <-ctx.Done():
			s.settleFailure(ctx, b, tx, "execution cancelled: "+ctx.Err().Error())
			return settlement{errMsg: "execution cancelled"}
		case <-time.After(delay):
		}

		if err := s.repo.IncrementTransactionRetry(tx.ID); err != nil {
			s.logger.Error("failed to record retry", "error", err, "transaction_id", tx.ID)
		}

		s.logger.Info("retrying payment",
			"batch_id", b.ID,
			"transaction_id", tx.ID,
			"attempt", attempt,
			"delay_ms", delay.Milliseconds())

		results, err := p.SendBatchPayment(ctx, []provider.BatchPaymentItem{item})
		if err != nil {
			lastFailure = err.Error()
			continue
		}
		if len(results) == 0 {
			lastFailure = "no result returned by provider"
			continue
		}

		res := results[0]
		switch res.Status {
		case provider.ResultStatusCompleted:
			s.settleSuccess(ctx, b, tx, res.ProviderTxID)
			return settlement{succeeded: true}
		case provider.ResultStatusPending:
			s.markPending(b, tx, res.ProviderTxID)
			return settlement{pending: true}
		default:
			lastFailure = res.FailureReason
			if lastFailure == "" {
				lastFailure = "payment failed"
			}
		}
	}

	s.settleFailure(ctx, b, tx, lastFailure)
	return settlement{errMsg: lastFailure}
}

func (s *Service) settleSuccess(ctx context.Context, b *batch.PaymentBatch, tx *batch.DisbursementTransaction, providerTxID string) {
	var ptx *string
	if providerTxID != "" {
		ptx = &providerTxID
	}
	if err := s.repo.UpdateTransactionStatus(tx.ID, batch.StatusCompleted, ptx, nil); err != nil {
		s.logger.Error("failed to mark transaction completed", "error", err, "transaction_id", tx.ID)
		return
	}
	if err := s.commissions.MarkPaid(tx.ID); err != nil {
		s.logger.Error("failed to settle commissions", "error", err, "transaction_id", tx.ID)
	}

	s.eventBus.Publish(ctx, events.NewPaymentCompletedEvent(tx.ID, b.ID, tx.PayeeID, tx.AmountCents, providerTxID))

	s.logger.Info("payment completed",
		"batch_id", b.ID,
		"transaction_id", tx.ID,
		"payee_id", tx.PayeeID,
		"amount_cents", tx.AmountCents,
		"provider_tx_id", providerTxID)
}

// settleFailure records a permanent failure and releases the claimed
// commissions so the payee's balance can roll into a future batch.
func (s *Service) settleFailure(ctx context.Context, b *batch.PaymentBatch, tx *batch.DisbursementTransaction, reason string) {
	if err := s.repo.UpdateTransactionStatus(tx.ID, batch.StatusFailed, nil, &reason); err != nil {
		s.logger.Error("failed to mark transaction failed", "error", err, "transaction_id", tx.ID)
	}
	if err := s.commissions.ReleaseClaims(tx.ID); err != nil {
		s.logger.Error("failed to release commissions", "error", err, "transaction_id", tx.ID)
	}

	_ = s.auditor.Record(ctx, "payment.fail", audit.StatusFailure, map[string]interface{}{
		"transaction_ref": tx.TransactionRef,
		"payee_id":        tx.PayeeID,
		"amount_cents":    tx.AmountCents,
		"reason":          reason,
	}, &b.ID, &tx.ID)

	s.eventBus.Publish(ctx, events.NewPaymentFailedEvent(tx.ID, b.ID, tx.PayeeID, tx.AmountCents, reason, tx.RetryCount))

	s.logger.Warn("payment permanently failed",
		"batch_id", b.ID,
		"transaction_id", tx.ID,
		"payee_id", tx.PayeeID,
		"reason", reason)
}

func (s *Service) markPending(b *batch.PaymentBatch, tx *batch.DisbursementTransaction, providerTxID string) {
	var ptx *string
	if providerTxID != "" {
		ptx = &providerTxID
	}
	if err := s.repo.UpdateTransactionStatus(tx.ID, batch.StatusProcessing, ptx, nil); err != nil {
		s.logger.Error("failed to mark transaction processing", "error", err, "transaction_id", tx.ID)
	}
	s.logger.Info("payment pending provider confirmation",
		"batch_id", b.ID,
		"transaction_id", tx.ID,
		"provider_tx_id", providerTxID)
}

func (s *Service) markRetryable(b *batch.PaymentBatch, tx *batch.DisbursementTransaction, reason string) {
	if err := s.repo.UpdateTransactionStatus(tx.ID, batch.StatusFailed, nil, &reason); err != nil {
		s.logger.Error("failed to mark transaction failed", "error", err, "transaction_id", tx.ID)
	}
}
