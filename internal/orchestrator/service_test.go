package orchestrator_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	apperrors "github.com/frahmantamala/affiliate-payouts/internal"
	"github.com/frahmantamala/affiliate-payouts/internal/core/datamodel/batch"
	"github.com/frahmantamala/affiliate-payouts/internal/core/events"
	"github.com/frahmantamala/affiliate-payouts/internal/orchestrator"
	"github.com/frahmantamala/affiliate-payouts/internal/provider"
	"github.com/frahmantamala/affiliate-payouts/internal/provider/mock"
	"github.com/frahmantamala/affiliate-payouts/internal/retry"
)

func TestOrchestrator(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Orchestrator Suite")
}

// Mock repository for testing
type mockBatchRepository struct {
	mu           sync.Mutex
	batches      map[int64]*batch.PaymentBatch
	transactions map[int64]*batch.DisbursementTransaction
	slotHolder   int64 // batch id currently processing, 0 when free
}

func newMockBatchRepository() *mockBatchRepository {
	return &mockBatchRepository{
		batches:      make(map[int64]*batch.PaymentBatch),
		transactions: make(map[int64]*batch.DisbursementTransaction),
	}
}

func (m *mockBatchRepository) addBatch(b *batch.PaymentBatch) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches[b.ID] = b
	if b.Status == batch.StatusProcessing {
		m.slotHolder = b.ID
	}
}

func (m *mockBatchRepository) addTransaction(t *batch.DisbursementTransaction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transactions[t.ID] = t
}

func (m *mockBatchRepository) transaction(id int64) *batch.DisbursementTransaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transactions[id]
}

func (m *mockBatchRepository) batchStatus(id int64) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.batches[id].Status
}

func (m *mockBatchRepository) GetByID(id int64) (*batch.PaymentBatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.batches[id]
	if !ok {
		return nil, errors.New("batch not found")
	}
	copied := *b
	return &copied, nil
}

func (m *mockBatchRepository) MarkProcessing(id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.batches[id]
	if !ok {
		return false, nil
	}
	if m.slotHolder != 0 {
		return false, nil
	}
	if b.Status != batch.StatusPending && b.Status != batch.StatusQueued {
		return false, nil
	}
	b.Status = batch.StatusProcessing
	now := time.Now()
	b.ExecutedAt = &now
	m.slotHolder = id
	return true, nil
}

func (m *mockBatchRepository) Finalize(id int64, status string, errorMessage *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.batches[id]
	if !ok {
		return errors.New("batch not found")
	}
	b.Status = status
	b.ErrorMessage = errorMessage
	if m.slotHolder == id {
		m.slotHolder = 0
	}
	return nil
}

func (m *mockBatchRepository) GetTransactionsByBatch(batchID int64) ([]*batch.DisbursementTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*batch.DisbursementTransaction
	for _, t := range m.transactions {
		if t.BatchID == batchID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *mockBatchRepository) UpdateTransactionStatus(id int64, status string, providerTxID, errorMessage *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.transactions[id]
	if !ok {
		return errors.New("transaction not found")
	}
	t.Status = status
	if providerTxID != nil {
		t.ProviderTxID = providerTxID
	}
	if errorMessage != nil {
		t.ErrorMessage = errorMessage
	}
	return nil
}

func (m *mockBatchRepository) IncrementTransactionRetry(id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.transactions[id]
	if !ok {
		return errors.New("transaction not found")
	}
	t.RetryCount++
	now := time.Now()
	t.LastRetryAt = &now
	return nil
}

type mockCommissionSettler struct {
	mu       sync.Mutex
	paid     []int64
	released []int64
}

func (m *mockCommissionSettler) MarkPaid(transactionID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.paid = append(m.paid, transactionID)
	return nil
}

func (m *mockCommissionSettler) ReleaseClaims(transactionID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.released = append(m.released, transactionID)
	return nil
}

func (m *mockCommissionSettler) paidIDs() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int64(nil), m.paid...)
}

func (m *mockCommissionSettler) releasedIDs() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int64(nil), m.released...)
}

type mockAuditRecorder struct {
	mu      sync.Mutex
	actions []string
}

func (m *mockAuditRecorder) Record(ctx context.Context, action, status string, details interface{}, batchID, transactionID *int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.actions = append(m.actions, action)
	return nil
}

// repeatingResultProvider completes every payment, then repeats the first
// item's ref with a contradictory failed entry, as a buggy rail might.
type repeatingResultProvider struct{}

func (p *repeatingResultProvider) Name() string { return provider.NameMock }

func (p *repeatingResultProvider) Authenticate(ctx context.Context) error { return nil }

func (p *repeatingResultProvider) SendBatchPayment(ctx context.Context, items []provider.BatchPaymentItem) ([]provider.PaymentResult, error) {
	results := make([]provider.PaymentResult, 0, len(items)+1)
	for i, item := range items {
		results = append(results, provider.PaymentResult{
			TransactionRef: item.TransactionRef,
			ProviderTxID:   fmt.Sprintf("dup_tx_%d", i),
			Status:         provider.ResultStatusCompleted,
		})
	}
	results = append(results, provider.PaymentResult{
		TransactionRef: items[0].TransactionRef,
		Status:         provider.ResultStatusFailed,
		FailureReason:  "duplicate result entry",
	})
	return results, nil
}

func (p *repeatingResultProvider) GetPaymentStatus(ctx context.Context, providerTxID string) (*provider.PaymentStatus, error) {
	return nil, errors.New("not supported")
}

func (p *repeatingResultProvider) GetPayeeInfo(ctx context.Context, payeeID string) (*provider.PayeeInfo, error) {
	return nil, errors.New("not supported")
}

func (p *repeatingResultProvider) VerifyWebhook(signature string, payload []byte) bool { return false }

var _ = Describe("Orchestrator Service", func() {
	var (
		repo         *mockBatchRepository
		settler      *mockCommissionSettler
		auditor      *mockAuditRecorder
		mockProvider *mock.Provider
		service      *orchestrator.Service
		ctx          context.Context
	)

	// millisecond-scale backoff so retry paths finish instantly
	policy := retry.Policy{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		Multiplier:   2,
		MaxDelay:     5 * time.Millisecond,
	}

	seedExecutableBatch := func() *batch.PaymentBatch {
		b := &batch.PaymentBatch{
			ID:           1,
			Reference:    "BATCH-2026-AAAAAA",
			Status:       batch.StatusPending,
			Provider:     "mock",
			Currency:     "USD",
			TotalCents:   13500,
			PaymentCount: 2,
		}
		repo.addBatch(b)
		repo.addTransaction(&batch.DisbursementTransaction{
			ID: 10, BatchID: 1, TransactionRef: "dtx_a", PayeeID: 1,
			ProviderAccountID: "acct_1", AmountCents: 6000, AmountMinor: 60_000_000,
			Currency: "USD", Status: batch.StatusPending,
		})
		repo.addTransaction(&batch.DisbursementTransaction{
			ID: 11, BatchID: 1, TransactionRef: "dtx_b", PayeeID: 2,
			ProviderAccountID: "acct_2", AmountCents: 7500, AmountMinor: 75_000_000,
			Currency: "USD", Status: batch.StatusPending,
		})
		return b
	}

	BeforeEach(func() {
		repo = newMockBatchRepository()
		settler = &mockCommissionSettler{}
		auditor = &mockAuditRecorder{}
		mockProvider = mock.New()
		registry := provider.NewRegistry(mockProvider)
		service = orchestrator.NewService(
			repo, settler, registry, auditor,
			events.NewEventBus(slog.Default()), policy, slog.Default())
		ctx = context.Background()
	})

	Describe("ExecuteBatch", func() {
		Context("when every payment succeeds", func() {
			It("should complete the batch and settle every commission", func() {
				// Given
				seedExecutableBatch()

				// When
				result, err := service.ExecuteBatch(ctx, 1)

				// Then
				Expect(err).ToNot(HaveOccurred())
				Expect(result.Success).To(BeTrue())
				Expect(result.SuccessCount).To(Equal(2))
				Expect(result.FailedCount).To(BeZero())
				Expect(repo.batchStatus(1)).To(Equal(batch.StatusCompleted))
				Expect(settler.paidIDs()).To(ConsistOf(int64(10), int64(11)))
				Expect(mockProvider.AuthCalls()).To(Equal(1))

				for _, id := range []int64{10, 11} {
					tx := repo.transaction(id)
					Expect(tx.Status).To(Equal(batch.StatusCompleted))
					Expect(tx.ProviderTxID).ToNot(BeNil())
				}
			})
		})

		Context("when one payment fails permanently", func() {
			It("should fail the batch but settle the successful payment", func() {
				// Given acct_2 rejects every attempt
				seedExecutableBatch()
				mockProvider.FailAccount("acct_2", "recipient account closed")

				// When
				result, err := service.ExecuteBatch(ctx, 1)

				// Then
				Expect(err).ToNot(HaveOccurred())
				Expect(result.Success).To(BeFalse())
				Expect(result.SuccessCount).To(Equal(1))
				Expect(result.FailedCount).To(Equal(1))
				Expect(result.Errors).To(HaveLen(1))
				Expect(result.Errors[0]).To(ContainSubstring("recipient account closed"))

				Expect(repo.batchStatus(1)).To(Equal(batch.StatusFailed))
				Expect(settler.paidIDs()).To(ConsistOf(int64(10)))
				Expect(settler.releasedIDs()).To(ConsistOf(int64(11)))

				failed := repo.transaction(11)
				Expect(failed.Status).To(Equal(batch.StatusFailed))
				Expect(*failed.ErrorMessage).To(ContainSubstring("recipient account closed"))
			})

			It("should submit the payment exactly the maximum number of times", func() {
				// Given
				seedExecutableBatch()
				mockProvider.FailAccount("acct_2", "recipient account closed")

				// When
				_, err := service.ExecuteBatch(ctx, 1)

				// Then one batch submission plus two single-item retries
				Expect(err).ToNot(HaveOccurred())
				Expect(mockProvider.SubmittedItemCount("acct_2")).To(Equal(policy.MaxAttempts))
				Expect(repo.transaction(11).RetryCount).To(Equal(policy.MaxAttempts - 1))
			})
		})

		Context("when a payment recovers on retry", func() {
			It("should settle it as a success", func() {
				// Given acct_2 fails the initial submission, then recovers
				seedExecutableBatch()
				mockProvider.FailAccount("acct_2", "temporary rail outage")
				go func() {
					for len(mockProvider.Submissions()) == 0 {
						time.Sleep(100 * time.Microsecond)
					}
					mockProvider.SucceedAccount("acct_2")
				}()

				// When
				result, err := service.ExecuteBatch(ctx, 1)

				// Then
				Expect(err).ToNot(HaveOccurred())
				Expect(result.SuccessCount).To(Equal(2))
				Expect(repo.batchStatus(1)).To(Equal(batch.StatusCompleted))
				Expect(settler.releasedIDs()).To(BeEmpty())
			})
		})

		Context("when provider authentication fails", func() {
			It("should fail the batch and leave transactions untouched", func() {
				// Given
				seedExecutableBatch()
				mockProvider.SetAuthFailure(true)

				// When
				_, err := service.ExecuteBatch(ctx, 1)

				// Then the whole batch aborts as an external error
				appErr, ok := apperrors.IsAppError(err)
				Expect(ok).To(BeTrue())
				Expect(appErr.Code).To(Equal(apperrors.ErrCodeProviderUnavailable))

				Expect(repo.batchStatus(1)).To(Equal(batch.StatusFailed))
				Expect(repo.transaction(10).Status).To(Equal(batch.StatusPending))
				Expect(repo.transaction(11).Status).To(Equal(batch.StatusPending))
				Expect(settler.releasedIDs()).To(BeEmpty())
			})
		})

		Context("when batch submission fails outright", func() {
			It("should abort without settling anything", func() {
				// Given
				seedExecutableBatch()
				mockProvider.SetSubmitFailure(true)

				// When
				_, err := service.ExecuteBatch(ctx, 1)

				// Then
				appErr, ok := apperrors.IsAppError(err)
				Expect(ok).To(BeTrue())
				Expect(appErr.Code).To(Equal(apperrors.ErrCodeProviderUnavailable))
				Expect(settler.paidIDs()).To(BeEmpty())
				Expect(repo.transaction(10).Status).To(Equal(batch.StatusPending))
			})
		})

		Context("when the provider repeats a result for the same transaction", func() {
			It("should settle each transaction exactly once", func() {
				// Given a rail whose response lists the first ref twice,
				// the second time as failed
				seedExecutableBatch()
				dupService := orchestrator.NewService(
					repo, settler, provider.NewRegistry(&repeatingResultProvider{}), auditor,
					events.NewEventBus(slog.Default()), policy, slog.Default())

				// When
				result, err := dupService.ExecuteBatch(ctx, 1)

				// Then only the first result per ref counts
				Expect(err).ToNot(HaveOccurred())
				Expect(result.Success).To(BeTrue())
				Expect(result.SuccessCount).To(Equal(2))
				Expect(result.FailedCount).To(BeZero())
				Expect(settler.paidIDs()).To(ConsistOf(int64(10), int64(11)))
				Expect(settler.releasedIDs()).To(BeEmpty())
				Expect(repo.batchStatus(1)).To(Equal(batch.StatusCompleted))
			})
		})

		Context("when the batch is not executable", func() {
			It("should reject completed batches", func() {
				// Given
				repo.addBatch(&batch.PaymentBatch{ID: 2, Status: batch.StatusCompleted, Provider: "mock"})

				// When
				_, err := service.ExecuteBatch(ctx, 2)

				// Then
				Expect(err).To(Equal(apperrors.ErrBatchNotExecutable))
			})

			It("should report a missing batch as not found", func() {
				_, err := service.ExecuteBatch(ctx, 999)
				Expect(err).To(Equal(apperrors.ErrBatchNotFound))
			})
		})

		Context("when another batch holds the processing slot", func() {
			It("should refuse with the in-flight conflict", func() {
				// Given batch 3 already processing
				repo.addBatch(&batch.PaymentBatch{ID: 3, Status: batch.StatusProcessing, Provider: "mock"})
				seedExecutableBatch()

				// When
				_, err := service.ExecuteBatch(ctx, 1)

				// Then
				Expect(err).To(Equal(apperrors.ErrBatchInFlight))
				Expect(repo.batchStatus(1)).To(Equal(batch.StatusPending))
			})
		})
	})
})
