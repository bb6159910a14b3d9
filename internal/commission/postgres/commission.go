package postgres

import (
	"time"

	"gorm.io/gorm"

	commissionpkg "github.com/frahmantamala/affiliate-payouts/internal/commission"
	"github.com/frahmantamala/affiliate-payouts/internal/core/datamodel/commission"
)

type CommissionRepository struct {
	db *gorm.DB
}

func NewCommissionRepository(db *gorm.DB) commissionpkg.Repository {
	return &CommissionRepository{
		db: db,
	}
}

func (r *CommissionRepository) Create(c *commission.Commission) error {
	return r.db.Create(c).Error
}

func (r *CommissionRepository) GetByID(id int64) (*commission.Commission, error) {
	var c commission.Commission
	err := r.db.First(&c, id).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *CommissionRepository) GetPayableByPayee(payeeID int64) ([]*commission.Commission, error) {
	var rows []*commission.Commission
	err := r.db.
		Where("payee_id = ? AND status = ? AND disbursement_transaction_id IS NULL", payeeID, commission.StatusApproved).
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}

func (r *CommissionRepository) GetAllPayable() ([]*commission.Commission, error) {
	var rows []*commission.Commission
	err := r.db.
		Where("status = ? AND disbursement_transaction_id IS NULL", commission.StatusApproved).
		Order("payee_id ASC, created_at ASC").
		Find(&rows).Error
	return rows, err
}

// ClaimForTransaction links commissions to a transaction only where they are
// still approved and unclaimed; the WHERE clause is the double-payment guard.
// Returns the number of rows actually claimed.
func (r *CommissionRepository) ClaimForTransaction(ids []int64, transactionID int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	result := r.db.Model(&commission.Commission{}).
		Where("id IN ? AND status = ? AND disbursement_transaction_id IS NULL", ids, commission.StatusApproved).
		Updates(map[string]interface{}{
			"disbursement_transaction_id": transactionID,
			"updated_at":                  time.Now(),
		})
	return result.RowsAffected, result.Error
}

// ReleaseByTransaction clears the claim link for a transaction's commissions,
// returning them to the unclaimed approved pool. Already-paid rows are left
// untouched.
func (r *CommissionRepository) ReleaseByTransaction(transactionID int64) (int64, error) {
	result := r.db.Model(&commission.Commission{}).
		Where("disbursement_transaction_id = ? AND status = ?", transactionID, commission.StatusApproved).
		Updates(map[string]interface{}{
			"disbursement_transaction_id": nil,
			"updated_at":                  time.Now(),
		})
	return result.RowsAffected, result.Error
}

func (r *CommissionRepository) MarkPaidByTransaction(transactionID int64) (int64, error) {
	now := time.Now()
	result := r.db.Model(&commission.Commission{}).
		Where("disbursement_transaction_id = ? AND status = ?", transactionID, commission.StatusApproved).
		Updates(map[string]interface{}{
			"status":     commission.StatusPaid,
			"paid_at":    now,
			"updated_at": now,
		})
	return result.RowsAffected, result.Error
}
