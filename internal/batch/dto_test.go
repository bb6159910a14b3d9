package batch_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	apperrors "github.com/frahmantamala/affiliate-payouts/internal"
	batchPkg "github.com/frahmantamala/affiliate-payouts/internal/batch"
)

var _ = Describe("CreateBatchRequest", func() {
	Describe("Validate", func() {
		It("should accept an empty request", func() {
			req := batchPkg.CreateBatchRequest{}
			Expect(req.Validate()).To(Succeed())
		})

		It("should accept unique positive payee ids", func() {
			req := batchPkg.CreateBatchRequest{PayeeIDs: []int64{1, 2, 3}}
			Expect(req.Validate()).To(Succeed())
		})

		It("should reject non-positive payee ids with field details", func() {
			// Given
			req := batchPkg.CreateBatchRequest{PayeeIDs: []int64{1, 0}}

			// When
			err := req.Validate()

			// Then
			appErr, ok := apperrors.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Code).To(Equal(apperrors.ErrCodeValidationFailed))

			details, ok := appErr.Details.(apperrors.ValidationErrors)
			Expect(ok).To(BeTrue())
			Expect(details.Errors).To(HaveLen(1))
			Expect(details.Errors[0].Field).To(Equal("payee_ids"))
			Expect(details.Errors[0].Message).To(ContainSubstring("positive"))
		})

		It("should reject duplicate payee ids", func() {
			// Given
			req := batchPkg.CreateBatchRequest{PayeeIDs: []int64{7, 7}}

			// When
			err := req.Validate()

			// Then
			appErr, ok := apperrors.IsAppError(err)
			Expect(ok).To(BeTrue())

			details, ok := appErr.Details.(apperrors.ValidationErrors)
			Expect(ok).To(BeTrue())
			Expect(details.Errors[0].Message).To(ContainSubstring("unique"))
		})
	})
})
