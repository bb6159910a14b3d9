package batch

import (
	apperrors "github.com/frahmantamala/affiliate-payouts/internal"
	"github.com/frahmantamala/affiliate-payouts/internal/core/common/validation"
	"github.com/frahmantamala/affiliate-payouts/internal/core/datamodel/batch"
	"github.com/frahmantamala/affiliate-payouts/internal/money"
)

type CreateBatchRequest struct {
	Provider string  `json:"provider,omitempty"`
	PayeeIDs []int64 `json:"payee_ids,omitempty"`
}

func (r *CreateBatchRequest) Validate() error {
	v := validation.NewValidator()
	v.Field("payee_ids", r.PayeeIDs).Custom(validatePayeeIDs)

	if err := v.Validate(); err != nil {
		return err
	}
	return nil
}

func validatePayeeIDs(value interface{}) *apperrors.AppError {
	ids, ok := value.([]int64)
	if !ok {
		return nil
	}

	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if id <= 0 {
			return apperrors.NewValidationFieldError("payee_ids", "payee ids must be positive", apperrors.ErrCodeValidationFailed)
		}
		if _, dup := seen[id]; dup {
			return apperrors.NewValidationFieldError("payee_ids", "payee ids must be unique", apperrors.ErrCodeValidationFailed)
		}
		seen[id] = struct{}{}
	}
	return nil
}

// BatchResponse is the API shape for a batch; Total carries the formatted
// decimal alongside the raw cents.
type BatchResponse struct {
	*batch.PaymentBatch
	Total string `json:"total"`
}

func NewBatchResponse(b *batch.PaymentBatch) *BatchResponse {
	return &BatchResponse{
		PaymentBatch: b,
		Total:        money.FormatCents(b.TotalCents),
	}
}

type BatchListResponse struct {
	Batches []*BatchResponse `json:"batches"`
	Limit   int              `json:"limit"`
	Offset  int              `json:"offset"`
}
