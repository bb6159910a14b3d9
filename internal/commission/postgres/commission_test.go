package postgres

import (
	"testing"
	"time"

	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/frahmantamala/affiliate-payouts/internal/core/datamodel/commission"
)

func TestCommissionRepository(t *testing.T) {
	gomega.RegisterFailHandler(ginkgo.Fail)
	ginkgo.RunSpecs(t, "Commission Repository Suite")
}

var _ = ginkgo.Describe("CommissionRepository", func() {
	var (
		db   *gorm.DB
		repo *CommissionRepository
	)

	ginkgo.BeforeEach(func() {
		// Use in-memory SQLite for testing
		var err error
		db, err = gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
			NowFunc: func() time.Time {
				return time.Now().UTC()
			},
		})
		gomega.Expect(err).ToNot(gomega.HaveOccurred())

		err = db.AutoMigrate(&commission.Commission{})
		gomega.Expect(err).ToNot(gomega.HaveOccurred())

		repo = NewCommissionRepository(db).(*CommissionRepository)
	})

	seed := func(payeeID int64, amountCents int64, status string) *commission.Commission {
		c := &commission.Commission{
			PayeeID:     payeeID,
			AmountCents: amountCents,
			Status:      status,
		}
		gomega.Expect(db.Create(c).Error).ToNot(gomega.HaveOccurred())
		return c
	}

	ginkgo.Describe("GetPayableByPayee", func() {
		ginkgo.It("should only return approved unclaimed rows for the payee", func() {
			// Given
			eligible := seed(1, 2500, commission.StatusApproved)
			seed(1, 1000, commission.StatusPending)
			seed(2, 9000, commission.StatusApproved)
			claimed := seed(1, 3000, commission.StatusApproved)
			_, err := repo.ClaimForTransaction([]int64{claimed.ID}, 55)
			gomega.Expect(err).ToNot(gomega.HaveOccurred())

			// When
			rows, err := repo.GetPayableByPayee(1)

			// Then
			gomega.Expect(err).ToNot(gomega.HaveOccurred())
			gomega.Expect(rows).To(gomega.HaveLen(1))
			gomega.Expect(rows[0].ID).To(gomega.Equal(eligible.ID))
		})
	})

	ginkgo.Describe("ClaimForTransaction", func() {
		ginkgo.It("should claim approved unclaimed rows and report the count", func() {
			// Given
			a := seed(1, 2500, commission.StatusApproved)
			b := seed(1, 3000, commission.StatusApproved)

			// When
			claimed, err := repo.ClaimForTransaction([]int64{a.ID, b.ID}, 77)

			// Then
			gomega.Expect(err).ToNot(gomega.HaveOccurred())
			gomega.Expect(claimed).To(gomega.Equal(int64(2)))

			var got commission.Commission
			gomega.Expect(db.First(&got, a.ID).Error).ToNot(gomega.HaveOccurred())
			gomega.Expect(got.DisbursementTransactionID).ToNot(gomega.BeNil())
			gomega.Expect(*got.DisbursementTransactionID).To(gomega.Equal(int64(77)))
		})

		ginkgo.It("should never claim a row twice", func() {
			// Given a commission already claimed by transaction 77
			c := seed(1, 2500, commission.StatusApproved)
			first, err := repo.ClaimForTransaction([]int64{c.ID}, 77)
			gomega.Expect(err).ToNot(gomega.HaveOccurred())
			gomega.Expect(first).To(gomega.Equal(int64(1)))

			// When a second transaction tries to claim the same row
			second, err := repo.ClaimForTransaction([]int64{c.ID}, 88)

			// Then the second claim wins nothing and the link is unchanged
			gomega.Expect(err).ToNot(gomega.HaveOccurred())
			gomega.Expect(second).To(gomega.BeZero())

			var got commission.Commission
			gomega.Expect(db.First(&got, c.ID).Error).ToNot(gomega.HaveOccurred())
			gomega.Expect(*got.DisbursementTransactionID).To(gomega.Equal(int64(77)))
		})

		ginkgo.It("should skip rows that are not approved", func() {
			// Given
			c := seed(1, 2500, commission.StatusPending)

			// When
			claimed, err := repo.ClaimForTransaction([]int64{c.ID}, 77)

			// Then
			gomega.Expect(err).ToNot(gomega.HaveOccurred())
			gomega.Expect(claimed).To(gomega.BeZero())
		})

		ginkgo.It("should claim nothing for an empty id list", func() {
			claimed, err := repo.ClaimForTransaction(nil, 77)
			gomega.Expect(err).ToNot(gomega.HaveOccurred())
			gomega.Expect(claimed).To(gomega.BeZero())
		})
	})

	ginkgo.Describe("ReleaseByTransaction", func() {
		ginkgo.It("should return claimed rows to the unclaimed pool", func() {
			// Given
			a := seed(1, 2500, commission.StatusApproved)
			b := seed(1, 3000, commission.StatusApproved)
			_, err := repo.ClaimForTransaction([]int64{a.ID, b.ID}, 77)
			gomega.Expect(err).ToNot(gomega.HaveOccurred())

			// When
			released, err := repo.ReleaseByTransaction(77)

			// Then
			gomega.Expect(err).ToNot(gomega.HaveOccurred())
			gomega.Expect(released).To(gomega.Equal(int64(2)))

			rows, err := repo.GetPayableByPayee(1)
			gomega.Expect(err).ToNot(gomega.HaveOccurred())
			gomega.Expect(rows).To(gomega.HaveLen(2))
		})

		ginkgo.It("should leave paid rows untouched", func() {
			// Given a commission settled by transaction 77
			c := seed(1, 2500, commission.StatusApproved)
			_, err := repo.ClaimForTransaction([]int64{c.ID}, 77)
			gomega.Expect(err).ToNot(gomega.HaveOccurred())
			_, err = repo.MarkPaidByTransaction(77)
			gomega.Expect(err).ToNot(gomega.HaveOccurred())

			// When
			released, err := repo.ReleaseByTransaction(77)

			// Then
			gomega.Expect(err).ToNot(gomega.HaveOccurred())
			gomega.Expect(released).To(gomega.BeZero())

			var got commission.Commission
			gomega.Expect(db.First(&got, c.ID).Error).ToNot(gomega.HaveOccurred())
			gomega.Expect(got.Status).To(gomega.Equal(commission.StatusPaid))
		})
	})

	ginkgo.Describe("MarkPaidByTransaction", func() {
		ginkgo.It("should settle claimed rows with a paid timestamp", func() {
			// Given
			c := seed(1, 2500, commission.StatusApproved)
			_, err := repo.ClaimForTransaction([]int64{c.ID}, 77)
			gomega.Expect(err).ToNot(gomega.HaveOccurred())

			// When
			paid, err := repo.MarkPaidByTransaction(77)

			// Then
			gomega.Expect(err).ToNot(gomega.HaveOccurred())
			gomega.Expect(paid).To(gomega.Equal(int64(1)))

			var got commission.Commission
			gomega.Expect(db.First(&got, c.ID).Error).ToNot(gomega.HaveOccurred())
			gomega.Expect(got.Status).To(gomega.Equal(commission.StatusPaid))
			gomega.Expect(got.PaidAt).ToNot(gomega.BeNil())
		})
	})
})
