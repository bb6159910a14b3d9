package batch

import "time"

const (
	StatusPending    = "pending"
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusCancelled  = "cancelled"
)

// PaymentBatch is one unit of disbursement work submitted to a provider.
// At most one batch may be in processing at any time, system-wide; that
// invariant is enforced by a conditional update in the repository, not by
// in-process locking.
type PaymentBatch struct {
	ID           int64      `json:"id" gorm:"primaryKey"`
	Reference    string     `json:"reference" gorm:"column:reference;not null;uniqueIndex"`
	Status       string     `json:"status" gorm:"column:status;default:pending;index"`
	Provider     string     `json:"provider" gorm:"column:provider;not null"`
	TotalCents   int64      `json:"total_cents" gorm:"column:total_cents;not null"`
	Currency     string     `json:"currency" gorm:"column:currency;not null"`
	PaymentCount int        `json:"payment_count" gorm:"column:payment_count;not null"`
	ErrorMessage *string    `json:"error_message,omitempty" gorm:"column:error_message"`
	ScheduledAt  *time.Time `json:"scheduled_at,omitempty" gorm:"column:scheduled_at"`
	ExecutedAt   *time.Time `json:"executed_at,omitempty" gorm:"column:executed_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty" gorm:"column:completed_at"`
	FailedAt     *time.Time `json:"failed_at,omitempty" gorm:"column:failed_at"`
	CreatedAt    time.Time  `json:"created_at" gorm:"column:created_at"`
	UpdatedAt    time.Time  `json:"updated_at" gorm:"column:updated_at"`

	Transactions []DisbursementTransaction `json:"transactions,omitempty" gorm:"foreignKey:BatchID"`
}

func (PaymentBatch) TableName() string {
	return "payment_batches"
}

// Executable reports whether the orchestrator may start executing the batch.
func (b *PaymentBatch) Executable() bool {
	return b.Status == StatusPending || b.Status == StatusQueued
}

// Deletable reports whether the batch may be removed. Anything that has been
// handed to the provider must be kept for the audit trail.
func (b *PaymentBatch) Deletable() bool {
	return b.Status == StatusPending || b.Status == StatusCancelled
}

// DisbursementTransaction is one payee's payment leg within a batch. Failed
// is the only retryable state; completed and cancelled are terminal.
type DisbursementTransaction struct {
	ID                int64      `json:"id" gorm:"primaryKey"`
	BatchID           int64      `json:"batch_id" gorm:"column:batch_id;not null;index"`
	TransactionRef    string     `json:"transaction_ref" gorm:"column:transaction_ref;not null;uniqueIndex"`
	ProviderTxID      *string    `json:"provider_tx_id,omitempty" gorm:"column:provider_tx_id;index"`
	PayeeID           int64      `json:"payee_id" gorm:"column:payee_id;not null;index"`
	ProviderAccountID string     `json:"provider_account_id" gorm:"column:provider_account_id;not null"`
	AmountCents       int64      `json:"amount_cents" gorm:"column:amount_cents;not null"`
	AmountMinor       int64      `json:"amount_minor" gorm:"column:amount_minor;not null"`
	Currency          string     `json:"currency" gorm:"column:currency;not null"`
	Status            string     `json:"status" gorm:"column:status;default:pending;index"`
	RetryCount        int        `json:"retry_count" gorm:"column:retry_count;default:0"`
	LastRetryAt       *time.Time `json:"last_retry_at,omitempty" gorm:"column:last_retry_at"`
	ErrorMessage      *string    `json:"error_message,omitempty" gorm:"column:error_message"`
	CreatedAt         time.Time  `json:"created_at" gorm:"column:created_at"`
	UpdatedAt         time.Time  `json:"updated_at" gorm:"column:updated_at"`
}

func (DisbursementTransaction) TableName() string {
	return "disbursement_transactions"
}

// Terminal reports whether the transaction can no longer change state.
func (t *DisbursementTransaction) Terminal() bool {
	return t.Status == StatusCompleted || t.Status == StatusCancelled
}
