package orchestrator_test

import (
	"context"
	"errors"
	"log/slog"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/frahmantamala/affiliate-payouts/internal/core/datamodel/batch"
	"github.com/frahmantamala/affiliate-payouts/internal/core/events"
	"github.com/frahmantamala/affiliate-payouts/internal/orchestrator"
	"github.com/frahmantamala/affiliate-payouts/internal/provider"
)

// Mock repository for the reconcile worker
type mockReconcileRepository struct {
	stale        []*batch.DisbursementTransaction
	providers    map[int64]string // batch id -> provider name
	transactions map[int64]*batch.DisbursementTransaction
}

func newMockReconcileRepository() *mockReconcileRepository {
	return &mockReconcileRepository{
		providers:    make(map[int64]string),
		transactions: make(map[int64]*batch.DisbursementTransaction),
	}
}

func (m *mockReconcileRepository) addStale(tx *batch.DisbursementTransaction, providerName string) {
	m.stale = append(m.stale, tx)
	m.transactions[tx.ID] = tx
	m.providers[tx.BatchID] = providerName
}

func (m *mockReconcileRepository) ListStaleProcessingTransactions(olderThan time.Time, limit int) ([]*batch.DisbursementTransaction, error) {
	return m.stale, nil
}

func (m *mockReconcileRepository) UpdateTransactionStatus(id int64, status string, providerTxID, errorMessage *string) error {
	t, ok := m.transactions[id]
	if !ok {
		return errors.New("transaction not found")
	}
	t.Status = status
	if errorMessage != nil {
		t.ErrorMessage = errorMessage
	}
	return nil
}

func (m *mockReconcileRepository) GetBatchProvider(batchID int64) (string, error) {
	name, ok := m.providers[batchID]
	if !ok {
		return "", errors.New("batch not found")
	}
	return name, nil
}

// statusProvider answers status polls from a fixed table.
type statusProvider struct {
	name     string
	statuses map[string]string
}

func (p *statusProvider) Name() string { return p.name }

func (p *statusProvider) Authenticate(ctx context.Context) error { return nil }

func (p *statusProvider) SendBatchPayment(ctx context.Context, items []provider.BatchPaymentItem) ([]provider.PaymentResult, error) {
	return nil, errors.New("not supported")
}

func (p *statusProvider) GetPaymentStatus(ctx context.Context, providerTxID string) (*provider.PaymentStatus, error) {
	status, ok := p.statuses[providerTxID]
	if !ok {
		return nil, errors.New("unknown payment")
	}
	return &provider.PaymentStatus{ProviderTxID: providerTxID, Status: status}, nil
}

func (p *statusProvider) GetPayeeInfo(ctx context.Context, payeeID string) (*provider.PayeeInfo, error) {
	return nil, errors.New("not supported")
}

func (p *statusProvider) VerifyWebhook(signature string, payload []byte) bool { return false }

var _ = Describe("Reconciler", func() {
	var (
		repo       *mockReconcileRepository
		settler    *mockCommissionSettler
		auditor    *mockAuditRecorder
		rail       *statusProvider
		reconciler *orchestrator.Reconciler
		ctx        context.Context
	)

	staleTransaction := func(id int64, providerTxID string) *batch.DisbursementTransaction {
		return &batch.DisbursementTransaction{
			ID:             id,
			BatchID:        1,
			TransactionRef: "dtx_stale",
			ProviderTxID:   &providerTxID,
			PayeeID:        1,
			AmountCents:    6000,
			Status:         batch.StatusProcessing,
		}
	}

	BeforeEach(func() {
		repo = newMockReconcileRepository()
		settler = &mockCommissionSettler{}
		auditor = &mockAuditRecorder{}
		rail = &statusProvider{name: "rise", statuses: make(map[string]string)}
		reconciler = orchestrator.NewReconciler(
			repo, settler, provider.NewRegistry(rail), auditor,
			events.NewEventBus(slog.Default()), 10*time.Minute, slog.Default())
		ctx = context.Background()
	})

	It("should settle a transaction the provider reports completed", func() {
		// Given
		tx := staleTransaction(10, "rise_1")
		repo.addStale(tx, "rise")
		rail.statuses["rise_1"] = provider.ResultStatusCompleted

		// When
		settled, err := reconciler.ReconcileOnce(ctx)

		// Then
		Expect(err).ToNot(HaveOccurred())
		Expect(settled).To(Equal(1))
		Expect(tx.Status).To(Equal(batch.StatusCompleted))
		Expect(settler.paidIDs()).To(ConsistOf(int64(10)))
		Expect(auditor.actions).To(ContainElement("reconcile.payment_completed"))
	})

	It("should fail a transaction the provider reports failed and release its claims", func() {
		// Given
		tx := staleTransaction(11, "rise_2")
		repo.addStale(tx, "rise")
		rail.statuses["rise_2"] = provider.ResultStatusFailed

		// When
		settled, err := reconciler.ReconcileOnce(ctx)

		// Then
		Expect(err).ToNot(HaveOccurred())
		Expect(settled).To(Equal(1))
		Expect(tx.Status).To(Equal(batch.StatusFailed))
		Expect(settler.releasedIDs()).To(ConsistOf(int64(11)))
		Expect(auditor.actions).To(ContainElement("reconcile.payment_failed"))
	})

	It("should leave still-pending payments for the next pass", func() {
		// Given
		tx := staleTransaction(12, "rise_3")
		repo.addStale(tx, "rise")
		rail.statuses["rise_3"] = provider.ResultStatusPending

		// When
		settled, err := reconciler.ReconcileOnce(ctx)

		// Then
		Expect(err).ToNot(HaveOccurred())
		Expect(settled).To(BeZero())
		Expect(tx.Status).To(Equal(batch.StatusProcessing))
	})

	It("should skip transactions whose status poll fails", func() {
		// Given the provider does not know the payment
		tx := staleTransaction(13, "rise_unknown")
		repo.addStale(tx, "rise")

		// When
		settled, err := reconciler.ReconcileOnce(ctx)

		// Then
		Expect(err).ToNot(HaveOccurred())
		Expect(settled).To(BeZero())
		Expect(tx.Status).To(Equal(batch.StatusProcessing))
	})
})
