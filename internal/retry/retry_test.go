package retry_test

import (
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/frahmantamala/affiliate-payouts/internal/retry"
)

func TestRetry(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Retry Suite")
}

var _ = Describe("Policy", func() {
	var policy retry.Policy

	BeforeEach(func() {
		policy = retry.DefaultPolicy()
	})

	Describe("Delay", func() {
		It("should double the delay per attempt", func() {
			Expect(policy.Delay(1)).To(Equal(1000 * time.Millisecond))
			Expect(policy.Delay(2)).To(Equal(2000 * time.Millisecond))
			Expect(policy.Delay(3)).To(Equal(4000 * time.Millisecond))
			Expect(policy.Delay(4)).To(Equal(8000 * time.Millisecond))
		})

		It("should cap the delay at the maximum", func() {
			Expect(policy.Delay(10)).To(Equal(30 * time.Second))
			Expect(policy.Delay(100)).To(Equal(30 * time.Second))
		})

		It("should treat out-of-range attempts as the first", func() {
			Expect(policy.Delay(0)).To(Equal(policy.Delay(1)))
			Expect(policy.Delay(-3)).To(Equal(policy.Delay(1)))
		})
	})

	Describe("CanRetry", func() {
		It("should allow retrying a failed transaction under the ceiling", func() {
			Expect(policy.CanRetry(retry.StatusFailed, 1)).To(BeTrue())
			Expect(policy.CanRetry(retry.StatusFailed, 2)).To(BeTrue())
		})

		It("should refuse once the attempt ceiling is reached", func() {
			Expect(policy.CanRetry(retry.StatusFailed, 3)).To(BeFalse())
			Expect(policy.CanRetry(retry.StatusFailed, 10)).To(BeFalse())
		})

		It("should refuse statuses other than failed", func() {
			Expect(policy.CanRetry("completed", 0)).To(BeFalse())
			Expect(policy.CanRetry("pending", 0)).To(BeFalse())
			Expect(policy.CanRetry("cancelled", 0)).To(BeFalse())
		})
	})
})
