package commission

import "time"

const (
	StatusPending   = "pending"
	StatusApproved  = "approved"
	StatusPaid      = "paid"
	StatusCancelled = "cancelled"
)

// Commission is a single earned-but-unpaid amount owed to a payee. A set
// DisbursementTransactionID means the commission is claimed by a batch and
// must not be picked up again.
type Commission struct {
	ID                        int64      `json:"id" gorm:"primaryKey"`
	PayeeID                   int64      `json:"payee_id" gorm:"column:payee_id;not null;index"`
	AmountCents               int64      `json:"amount_cents" gorm:"column:amount_cents;not null"`
	Status                    string     `json:"status" gorm:"column:status;default:pending;index"`
	Description               string     `json:"description" gorm:"column:description"`
	DisbursementTransactionID *int64     `json:"disbursement_transaction_id,omitempty" gorm:"column:disbursement_transaction_id;index"`
	PaidAt                    *time.Time `json:"paid_at,omitempty" gorm:"column:paid_at"`
	CreatedAt                 time.Time  `json:"created_at" gorm:"column:created_at"`
	UpdatedAt                 time.Time  `json:"updated_at" gorm:"column:updated_at"`
}

func (Commission) TableName() string {
	return "commissions"
}

// Claimed reports whether the commission is already linked to a
// disbursement transaction.
func (c *Commission) Claimed() bool {
	return c.DisbursementTransactionID != nil
}

// Payable reports whether the commission can contribute to a new payout.
func (c *Commission) Payable() bool {
	return c.Status == StatusApproved && !c.Claimed()
}
