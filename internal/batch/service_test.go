package batch_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	apperrors "github.com/frahmantamala/affiliate-payouts/internal"
	batchPkg "github.com/frahmantamala/affiliate-payouts/internal/batch"
	commissionPkg "github.com/frahmantamala/affiliate-payouts/internal/commission"
	"github.com/frahmantamala/affiliate-payouts/internal/core/datamodel/batch"
	"github.com/frahmantamala/affiliate-payouts/internal/core/datamodel/payee"
	"github.com/frahmantamala/affiliate-payouts/internal/core/events"
)

func TestBatchService(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Batch Service Suite")
}

// Mock repository for testing
type mockBatchRepository struct {
	batches      map[int64]*batch.PaymentBatch
	transactions map[int64]*batch.DisbursementTransaction
	nextID       int64
	createError  error
	txError      error
}

func newMockBatchRepository() *mockBatchRepository {
	return &mockBatchRepository{
		batches:      make(map[int64]*batch.PaymentBatch),
		transactions: make(map[int64]*batch.DisbursementTransaction),
	}
}

func (m *mockBatchRepository) Create(b *batch.PaymentBatch) error {
	if m.createError != nil {
		return m.createError
	}
	m.nextID++
	b.ID = m.nextID
	m.batches[b.ID] = b
	return nil
}

func (m *mockBatchRepository) GetByID(id int64) (*batch.PaymentBatch, error) {
	b, ok := m.batches[id]
	if !ok {
		return nil, errors.New("batch not found")
	}
	copied := *b
	copied.Transactions = nil
	for _, tx := range m.transactions {
		if tx.BatchID == id {
			copied.Transactions = append(copied.Transactions, *tx)
		}
	}
	return &copied, nil
}

func (m *mockBatchRepository) List(limit, offset int) ([]*batch.PaymentBatch, error) {
	var out []*batch.PaymentBatch
	for _, b := range m.batches {
		out = append(out, b)
	}
	return out, nil
}

func (m *mockBatchRepository) UpdateTotals(id int64, totalCents int64, paymentCount int) error {
	b, ok := m.batches[id]
	if !ok {
		return errors.New("batch not found")
	}
	b.TotalCents = totalCents
	b.PaymentCount = paymentCount
	return nil
}

func (m *mockBatchRepository) SetStatus(id int64, status string, errorMessage *string) error {
	b, ok := m.batches[id]
	if !ok {
		return errors.New("batch not found")
	}
	b.Status = status
	b.ErrorMessage = errorMessage
	return nil
}

func (m *mockBatchRepository) DeleteWithTransactions(id int64) error {
	delete(m.batches, id)
	for txID, tx := range m.transactions {
		if tx.BatchID == id {
			delete(m.transactions, txID)
		}
	}
	return nil
}

func (m *mockBatchRepository) CreateTransaction(t *batch.DisbursementTransaction) error {
	if m.txError != nil {
		return m.txError
	}
	m.nextID++
	t.ID = m.nextID
	m.transactions[t.ID] = t
	return nil
}

func (m *mockBatchRepository) DeleteTransaction(id int64) error {
	delete(m.transactions, id)
	return nil
}

type mockPayeeRepository struct {
	payees map[int64]*payee.Payee
}

func (m *mockPayeeRepository) GetByID(id int64) (*payee.Payee, error) {
	p, ok := m.payees[id]
	if !ok {
		return nil, errors.New("payee not found")
	}
	return p, nil
}

type mockAggregator struct {
	aggregates    []*commissionPkg.PayableAggregate
	claimShort    map[int64]int64 // payee id -> claimed count override
	released      []int64
	claimedByTx   map[int64][]int64
}

func newMockAggregator() *mockAggregator {
	return &mockAggregator{
		claimShort:  make(map[int64]int64),
		claimedByTx: make(map[int64][]int64),
	}
}

func (m *mockAggregator) ListAllPayable() ([]*commissionPkg.PayableAggregate, error) {
	return m.aggregates, nil
}

func (m *mockAggregator) AggregateForPayee(payeeID int64) (*commissionPkg.PayableAggregate, error) {
	for _, agg := range m.aggregates {
		if agg.PayeeID == payeeID {
			return agg, nil
		}
	}
	return &commissionPkg.PayableAggregate{PayeeID: payeeID}, nil
}

func (m *mockAggregator) MarkClaimed(commissionIDs []int64, transactionID int64) (int64, error) {
	m.claimedByTx[transactionID] = commissionIDs
	for payeeID, short := range m.claimShort {
		for _, agg := range m.aggregates {
			if agg.PayeeID == payeeID && sameIDs(agg.CommissionIDs, commissionIDs) {
				return short, nil
			}
		}
	}
	return int64(len(commissionIDs)), nil
}

func (m *mockAggregator) ReleaseClaims(transactionID int64) error {
	m.released = append(m.released, transactionID)
	return nil
}

func sameIDs(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

type mockAuditRecorder struct {
	actions []string
}

func (m *mockAuditRecorder) Record(ctx context.Context, action, status string, details interface{}, batchID, transactionID *int64) error {
	m.actions = append(m.actions, action)
	return nil
}

type mockProviderChecker struct {
	known map[string]bool
}

func (m *mockProviderChecker) Has(name string) bool {
	return m.known[name]
}

var _ = Describe("Batch Service", func() {
	var (
		repo       *mockBatchRepository
		payees     *mockPayeeRepository
		aggregator *mockAggregator
		auditor    *mockAuditRecorder
		service    *batchPkg.Service
		ctx        context.Context
	)

	BeforeEach(func() {
		repo = newMockBatchRepository()
		payees = &mockPayeeRepository{payees: map[int64]*payee.Payee{
			1: {ID: 1, Name: "Ava", Email: "ava@example.com", ProviderAccountID: "acct_1", Active: true},
			2: {ID: 2, Name: "Noah", Email: "noah@example.com", ProviderAccountID: "acct_2", Active: true},
			3: {ID: 3, Name: "Leo", Email: "leo@example.com", ProviderAccountID: "", Active: true},
		}}
		aggregator = newMockAggregator()
		auditor = &mockAuditRecorder{}
		checker := &mockProviderChecker{known: map[string]bool{"mock": true, "rise": true}}
		service = batchPkg.NewService(
			repo, payees, aggregator, auditor, checker,
			events.NewEventBus(slog.Default()), "USD", slog.Default())
		ctx = context.Background()
	})

	Describe("CreateBatch", func() {
		Context("with payable aggregates for two payees", func() {
			BeforeEach(func() {
				aggregator.aggregates = []*commissionPkg.PayableAggregate{
					{PayeeID: 1, CommissionIDs: []int64{10, 11}, TotalCents: 6000, Count: 2, CanPayout: true},
					{PayeeID: 2, CommissionIDs: []int64{12}, TotalCents: 7500, Count: 1, CanPayout: true},
				}
			})

			It("should create one transaction per payee and claim their commissions", func() {
				// When
				b, err := service.CreateBatch(ctx, "mock", nil)

				// Then
				Expect(err).ToNot(HaveOccurred())
				Expect(b.Status).To(Equal(batch.StatusPending))
				Expect(b.Provider).To(Equal("mock"))
				Expect(b.TotalCents).To(Equal(int64(13500)))
				Expect(b.PaymentCount).To(Equal(2))
				Expect(b.Reference).To(MatchRegexp(`^BATCH-\d{4}-[0-9A-F]{6}$`))
				Expect(b.Transactions).To(HaveLen(2))
				Expect(auditor.actions).To(ContainElement("batch.create"))

				for _, tx := range b.Transactions {
					// amounts convert to 1e6-scale minor units
					Expect(tx.AmountMinor).To(Equal(tx.AmountCents * 10000))
					Expect(tx.Currency).To(Equal("USD"))
					Expect(tx.Status).To(Equal(batch.StatusPending))
					Expect(tx.TransactionRef).To(HavePrefix("dtx_"))
				}
			})

			It("should drop a payee whose claim is raced away", func() {
				// Given payee 1 loses half its claims to a concurrent batch
				aggregator.claimShort[1] = 1

				// When
				b, err := service.CreateBatch(ctx, "mock", nil)

				// Then only payee 2 remains and payee 1's claims are released
				Expect(err).ToNot(HaveOccurred())
				Expect(b.PaymentCount).To(Equal(1))
				Expect(b.Transactions[0].PayeeID).To(Equal(int64(2)))
				Expect(aggregator.released).To(HaveLen(1))
			})
		})

		Context("when no payee meets the threshold", func() {
			It("should return the no-eligible-payees conflict", func() {
				// When
				_, err := service.CreateBatch(ctx, "mock", nil)

				// Then
				Expect(err).To(Equal(apperrors.ErrNoEligiblePayees))
			})
		})

		Context("when every eligible payee lacks a provider account", func() {
			It("should delete the empty batch and return the conflict", func() {
				// Given payee 3 has no provider account id
				aggregator.aggregates = []*commissionPkg.PayableAggregate{
					{PayeeID: 3, CommissionIDs: []int64{13}, TotalCents: 6100, Count: 1, CanPayout: true},
				}

				// When
				_, err := service.CreateBatch(ctx, "mock", nil)

				// Then
				Expect(err).To(Equal(apperrors.ErrNoEligiblePayees))
				Expect(repo.batches).To(BeEmpty())
			})
		})

		Context("with an unknown provider", func() {
			It("should reject the request", func() {
				// When
				_, err := service.CreateBatch(ctx, "paypal", nil)

				// Then
				appErr, ok := apperrors.IsAppError(err)
				Expect(ok).To(BeTrue())
				Expect(appErr.Code).To(Equal(apperrors.ErrCodeInvalidProvider))
			})
		})

		Context("with a payee filter", func() {
			It("should only include the filtered payees", func() {
				// Given
				aggregator.aggregates = []*commissionPkg.PayableAggregate{
					{PayeeID: 1, CommissionIDs: []int64{10}, TotalCents: 6000, Count: 1, CanPayout: true},
					{PayeeID: 2, CommissionIDs: []int64{12}, TotalCents: 7500, Count: 1, CanPayout: true},
				}

				// When
				b, err := service.CreateBatch(ctx, "mock", []int64{2})

				// Then
				Expect(err).ToNot(HaveOccurred())
				Expect(b.PaymentCount).To(Equal(1))
				Expect(b.Transactions[0].PayeeID).To(Equal(int64(2)))
			})
		})
	})

	Describe("DeleteBatch", func() {
		It("should delete a pending batch and release its claims", func() {
			// Given
			aggregator.aggregates = []*commissionPkg.PayableAggregate{
				{PayeeID: 1, CommissionIDs: []int64{10}, TotalCents: 6000, Count: 1, CanPayout: true},
			}
			b, err := service.CreateBatch(ctx, "mock", nil)
			Expect(err).ToNot(HaveOccurred())

			// When
			err = service.DeleteBatch(ctx, b.ID)

			// Then
			Expect(err).ToNot(HaveOccurred())
			Expect(repo.batches).To(BeEmpty())
			Expect(aggregator.released).ToNot(BeEmpty())
		})

		It("should refuse to delete a completed batch", func() {
			// Given
			b := &batch.PaymentBatch{Status: batch.StatusCompleted}
			Expect(repo.Create(b)).To(Succeed())

			// When
			err := service.DeleteBatch(ctx, b.ID)

			// Then
			Expect(err).To(Equal(apperrors.ErrCannotDeleteBatch))
		})

		It("should refuse to delete a processing batch", func() {
			// Given
			b := &batch.PaymentBatch{Status: batch.StatusProcessing}
			Expect(repo.Create(b)).To(Succeed())

			// When
			err := service.DeleteBatch(ctx, b.ID)

			// Then
			Expect(err).To(Equal(apperrors.ErrCannotDeleteBatch))
		})

		It("should return not-found for a missing batch", func() {
			Expect(service.DeleteBatch(ctx, 999)).To(Equal(apperrors.ErrBatchNotFound))
		})
	})

	Describe("CancelBatch", func() {
		It("should cancel a pending batch and release its claims", func() {
			// Given
			aggregator.aggregates = []*commissionPkg.PayableAggregate{
				{PayeeID: 1, CommissionIDs: []int64{10}, TotalCents: 6000, Count: 1, CanPayout: true},
			}
			b, err := service.CreateBatch(ctx, "mock", nil)
			Expect(err).ToNot(HaveOccurred())

			// When
			err = service.CancelBatch(ctx, b.ID)

			// Then
			Expect(err).ToNot(HaveOccurred())
			Expect(repo.batches[b.ID].Status).To(Equal(batch.StatusCancelled))
			Expect(aggregator.released).ToNot(BeEmpty())
		})

		It("should refuse to cancel a processing batch", func() {
			// Given
			b := &batch.PaymentBatch{Status: batch.StatusProcessing}
			Expect(repo.Create(b)).To(Succeed())

			// When
			err := service.CancelBatch(ctx, b.ID)

			// Then
			Expect(err).To(Equal(apperrors.ErrCannotCancelBatch))
		})
	})
})
