package batch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/frahmantamala/affiliate-payouts/internal"
	commissionpkg "github.com/frahmantamala/affiliate-payouts/internal/commission"
	"github.com/frahmantamala/affiliate-payouts/internal/core/datamodel/audit"
	"github.com/frahmantamala/affiliate-payouts/internal/core/datamodel/batch"
	"github.com/frahmantamala/affiliate-payouts/internal/core/datamodel/payee"
	"github.com/frahmantamala/affiliate-payouts/internal/core/events"
	"github.com/frahmantamala/affiliate-payouts/internal/money"
)

// Repository defines the batch data access the manager needs. Execution-time
// mutations live on the orchestrator's interface; this one covers lifecycle
// operations that never talk to the provider.
type Repository interface {
	Create(b *batch.PaymentBatch) error
	GetByID(id int64) (*batch.PaymentBatch, error)
	List(limit, offset int) ([]*batch.PaymentBatch, error)
	UpdateTotals(id int64, totalCents int64, paymentCount int) error
	SetStatus(id int64, status string, errorMessage *string) error
	DeleteWithTransactions(id int64) error
	CreateTransaction(t *batch.DisbursementTransaction) error
	DeleteTransaction(id int64) error
}

type PayeeRepository interface {
	GetByID(id int64) (*payee.Payee, error)
}

// Aggregator is the slice of the commission service the batch manager uses.
type Aggregator interface {
	ListAllPayable() ([]*commissionpkg.PayableAggregate, error)
	AggregateForPayee(payeeID int64) (*commissionpkg.PayableAggregate, error)
	MarkClaimed(commissionIDs []int64, transactionID int64) (int64, error)
	ReleaseClaims(transactionID int64) error
}

type AuditRecorder interface {
	Record(ctx context.Context, action, status string, details interface{}, batchID, transactionID *int64) error
}

type ProviderChecker interface {
	Has(name string) bool
}

// Service owns batch lifecycle state transitions that do not require calling
// the payment provider: creation from an aggregator snapshot, reads,
// cancellation and deletion.
type Service struct {
	repo       Repository
	payees     PayeeRepository
	aggregator Aggregator
	auditor    AuditRecorder
	providers  ProviderChecker
	eventBus   *events.EventBus
	currency   string
	logger     *slog.Logger
}

func NewService(
	repo Repository,
	payees PayeeRepository,
	aggregator Aggregator,
	auditor AuditRecorder,
	providers ProviderChecker,
	eventBus *events.EventBus,
	currency string,
	logger *slog.Logger,
) *Service {
	return &Service{
		repo:       repo,
		payees:     payees,
		aggregator: aggregator,
		auditor:    auditor,
		providers:  providers,
		eventBus:   eventBus,
		currency:   currency,
		logger:     logger,
	}
}

// CreateBatch snapshots the current payable aggregates (optionally filtered
// to specific payees), creates one disbursement transaction per payee and
// claims the contributing commissions. A payee whose commissions get claimed
// by a concurrent batch between snapshot and claim is dropped, not failed.
func (s *Service) CreateBatch(ctx context.Context, providerName string, payeeFilter []int64) (*batch.PaymentBatch, error) {
	if !s.providers.Has(providerName) {
		return nil, apperrors.NewValidationError(
			fmt.Sprintf("unknown payment provider %q", providerName),
			apperrors.ErrCodeInvalidProvider)
	}

	aggregates, err := s.snapshotPayable(payeeFilter)
	if err != nil {
		return nil, err
	}
	if len(aggregates) == 0 {
		return nil, apperrors.ErrNoEligiblePayees
	}

	b := &batch.PaymentBatch{
		Reference: newBatchReference(),
		Status:    batch.StatusPending,
		Provider:  providerName,
		Currency:  s.currency,
	}
	if err := s.repo.Create(b); err != nil {
		s.logger.Error("failed to create batch", "error", err)
		return nil, apperrors.NewInternalError("failed to create batch", err)
	}

	var totalCents int64
	var included []*batch.DisbursementTransaction

	for _, agg := range aggregates {
		p, err := s.payees.GetByID(agg.PayeeID)
		if err != nil {
			s.logger.Warn("skipping payee without record", "payee_id", agg.PayeeID, "error", err)
			continue
		}
		if !p.Active || p.ProviderAccountID == "" {
			s.logger.Warn("skipping payee without active provider account", "payee_id", agg.PayeeID)
			continue
		}

		tx := &batch.DisbursementTransaction{
			BatchID:           b.ID,
			TransactionRef:    newTransactionRef(),
			PayeeID:           agg.PayeeID,
			ProviderAccountID: p.ProviderAccountID,
			AmountCents:       agg.TotalCents,
			AmountMinor:       money.CentsToMinorUnits(agg.TotalCents),
			Currency:          s.currency,
			Status:            batch.StatusPending,
		}
		if err := s.repo.CreateTransaction(tx); err != nil {
			s.logger.Error("failed to create transaction", "error", err, "payee_id", agg.PayeeID)
			continue
		}

		claimed, err := s.aggregator.MarkClaimed(agg.CommissionIDs, tx.ID)
		if err != nil || claimed != int64(len(agg.CommissionIDs)) {
			// lost the claim race: undo this payee entirely
			s.logger.Warn("claim race lost, dropping payee from batch",
				"payee_id", agg.PayeeID,
				"requested", len(agg.CommissionIDs),
				"claimed", claimed,
				"error", err)
			_ = s.aggregator.ReleaseClaims(tx.ID)
			_ = s.repo.DeleteTransaction(tx.ID)
			continue
		}

		totalCents += agg.TotalCents
		included = append(included, tx)
	}

	if len(included) == 0 {
		_ = s.repo.DeleteWithTransactions(b.ID)
		return nil, apperrors.ErrNoEligiblePayees
	}

	if err := s.repo.UpdateTotals(b.ID, totalCents, len(included)); err != nil {
		s.logger.Error("failed to update batch totals", "error", err, "batch_id", b.ID)
		return nil, apperrors.NewInternalError("failed to update batch totals", err)
	}

	b.TotalCents = totalCents
	b.PaymentCount = len(included)
	b.Transactions = make([]batch.DisbursementTransaction, 0, len(included))
	for _, tx := range included {
		b.Transactions = append(b.Transactions, *tx)
	}

	_ = s.auditor.Record(ctx, "batch.create", audit.StatusSuccess, map[string]interface{}{
		"reference":     b.Reference,
		"provider":      providerName,
		"total_cents":   totalCents,
		"payment_count": len(included),
	}, &b.ID, nil)

	s.eventBus.Publish(ctx, events.NewBatchCreatedEvent(b.ID, b.Reference, providerName, totalCents, len(included)))

	s.logger.Info("batch created",
		"batch_id", b.ID,
		"reference", b.Reference,
		"provider", providerName,
		"total_cents", totalCents,
		"payment_count", len(included))

	return b, nil
}

func (s *Service) snapshotPayable(payeeFilter []int64) ([]*commissionpkg.PayableAggregate, error) {
	if len(payeeFilter) == 0 {
		return s.aggregator.ListAllPayable()
	}

	aggregates := make([]*commissionpkg.PayableAggregate, 0, len(payeeFilter))
	for _, payeeID := range payeeFilter {
		agg, err := s.aggregator.AggregateForPayee(payeeID)
		if err != nil {
			return nil, err
		}
		if agg.CanPayout {
			aggregates = append(aggregates, agg)
		}
	}
	return aggregates, nil
}

func (s *Service) GetBatch(id int64) (*batch.PaymentBatch, error) {
	b, err := s.repo.GetByID(id)
	if err != nil {
		s.logger.Error("batch not found", "error", err, "batch_id", id)
		return nil, apperrors.ErrBatchNotFound
	}
	return b, nil
}

func (s *Service) ListBatches(limit, offset int) ([]*batch.PaymentBatch, error) {
	batches, err := s.repo.List(limit, offset)
	if err != nil {
		s.logger.Error("failed to list batches", "error", err)
		return nil, err
	}
	return batches, nil
}

// DeleteBatch removes a batch and its transactions, releasing every claimed
// commission back to the unclaimed approved pool. Only pending or cancelled
// batches may be deleted; anything the provider has seen stays.
func (s *Service) DeleteBatch(ctx context.Context, id int64) error {
	b, err := s.repo.GetByID(id)
	if err != nil {
		return apperrors.ErrBatchNotFound
	}

	if !b.Deletable() {
		s.logger.Warn("refusing to delete batch", "batch_id", id, "status", b.Status)
		return apperrors.ErrCannotDeleteBatch
	}

	for _, tx := range b.Transactions {
		if err := s.aggregator.ReleaseClaims(tx.ID); err != nil {
			s.logger.Error("failed to release commissions during delete",
				"error", err, "batch_id", id, "transaction_id", tx.ID)
			return apperrors.NewInternalError("failed to release claimed commissions", err)
		}
	}

	if err := s.repo.DeleteWithTransactions(id); err != nil {
		s.logger.Error("failed to delete batch", "error", err, "batch_id", id)
		return apperrors.NewInternalError("failed to delete batch", err)
	}

	_ = s.auditor.Record(ctx, "batch.delete", audit.StatusSuccess, map[string]interface{}{
		"reference": b.Reference,
		"status":    b.Status,
	}, &id, nil)

	s.logger.Info("batch deleted", "batch_id", id, "reference", b.Reference)
	return nil
}

// CancelBatch marks a not-yet-executed batch cancelled and releases its
// claims so the commissions can join a later batch.
func (s *Service) CancelBatch(ctx context.Context, id int64) error {
	b, err := s.repo.GetByID(id)
	if err != nil {
		return apperrors.ErrBatchNotFound
	}

	if !b.Executable() {
		s.logger.Warn("refusing to cancel batch", "batch_id", id, "status", b.Status)
		return apperrors.ErrCannotCancelBatch
	}

	for _, tx := range b.Transactions {
		if err := s.aggregator.ReleaseClaims(tx.ID); err != nil {
			s.logger.Error("failed to release commissions during cancel",
				"error", err, "batch_id", id, "transaction_id", tx.ID)
			return apperrors.NewInternalError("failed to release claimed commissions", err)
		}
	}

	if err := s.repo.SetStatus(id, batch.StatusCancelled, nil); err != nil {
		s.logger.Error("failed to cancel batch", "error", err, "batch_id", id)
		return apperrors.NewInternalError("failed to cancel batch", err)
	}

	_ = s.auditor.Record(ctx, "batch.cancel", audit.StatusSuccess, map[string]interface{}{
		"reference": b.Reference,
	}, &id, nil)

	s.logger.Info("batch cancelled", "batch_id", id, "reference", b.Reference)
	return nil
}

// newBatchReference produces names like BATCH-2026-4F2A9C.
func newBatchReference() string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")[:6])
	return fmt.Sprintf("BATCH-%d-%s", time.Now().Year(), suffix)
}

func newTransactionRef() string {
	return "dtx_" + uuid.New().String()
}
