package postgres

import (
	"time"

	"gorm.io/gorm"

	"github.com/frahmantamala/affiliate-payouts/internal/core/datamodel/batch"
)

// BatchRepository is the single gorm-backed store for batches and their
// disbursement transactions. The lifecycle manager, the orchestrator, the
// webhook handler and the reconcile worker each consume their own slice of
// it through package-local interfaces.
type BatchRepository struct {
	db *gorm.DB
}

func NewBatchRepository(db *gorm.DB) *BatchRepository {
	return &BatchRepository{
		db: db,
	}
}

func (r *BatchRepository) Create(b *batch.PaymentBatch) error {
	return r.db.Create(b).Error
}

func (r *BatchRepository) GetByID(id int64) (*batch.PaymentBatch, error) {
	var b batch.PaymentBatch
	err := r.db.Preload("Transactions").First(&b, id).Error
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *BatchRepository) List(limit, offset int) ([]*batch.PaymentBatch, error) {
	var batches []*batch.PaymentBatch
	err := r.db.
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&batches).Error
	return batches, err
}

func (r *BatchRepository) UpdateTotals(id int64, totalCents int64, paymentCount int) error {
	return r.db.Model(&batch.PaymentBatch{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"total_cents":   totalCents,
			"payment_count": paymentCount,
			"updated_at":    time.Now(),
		}).Error
}

func (r *BatchRepository) SetStatus(id int64, status string, errorMessage *string) error {
	updates := map[string]interface{}{
		"status":     status,
		"updated_at": time.Now(),
	}
	if errorMessage != nil {
		updates["error_message"] = *errorMessage
	}
	return r.db.Model(&batch.PaymentBatch{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *BatchRepository) DeleteWithTransactions(id int64) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("batch_id = ?", id).Delete(&batch.DisbursementTransaction{}).Error; err != nil {
			return err
		}
		return tx.Delete(&batch.PaymentBatch{}, id).Error
	})
}

// MarkProcessing flips a batch to processing only if it is still executable
// and no other batch holds the processing slot. The condition runs inside a
// single UPDATE so concurrent executors cannot both win; the caller checks
// the returned flag to tell winner from loser.
func (r *BatchRepository) MarkProcessing(id int64) (bool, error) {
	now := time.Now()
	result := r.db.Model(&batch.PaymentBatch{}).
		Where("id = ? AND status IN ?", id, []string{batch.StatusPending, batch.StatusQueued}).
		Where("NOT EXISTS (SELECT 1 FROM payment_batches pb WHERE pb.status = ? AND pb.id <> payment_batches.id)", batch.StatusProcessing).
		Updates(map[string]interface{}{
			"status":      batch.StatusProcessing,
			"executed_at": now,
			"updated_at":  now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// Finalize records the batch's terminal outcome with the matching timestamp.
func (r *BatchRepository) Finalize(id int64, status string, errorMessage *string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"status":     status,
		"updated_at": now,
	}
	switch status {
	case batch.StatusCompleted:
		updates["completed_at"] = now
	case batch.StatusFailed:
		updates["failed_at"] = now
	}
	if errorMessage != nil {
		updates["error_message"] = *errorMessage
	}
	return r.db.Model(&batch.PaymentBatch{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *BatchRepository) GetBatchProvider(batchID int64) (string, error) {
	var b batch.PaymentBatch
	err := r.db.Select("provider").First(&b, batchID).Error
	if err != nil {
		return "", err
	}
	return b.Provider, nil
}

func (r *BatchRepository) CountByStatus(statuses ...string) (int64, error) {
	var count int64
	err := r.db.Model(&batch.PaymentBatch{}).
		Where("status IN ?", statuses).
		Count(&count).Error
	return count, err
}

func (r *BatchRepository) CreateTransaction(t *batch.DisbursementTransaction) error {
	return r.db.Create(t).Error
}

func (r *BatchRepository) DeleteTransaction(id int64) error {
	return r.db.Delete(&batch.DisbursementTransaction{}, id).Error
}

func (r *BatchRepository) GetTransaction(id int64) (*batch.DisbursementTransaction, error) {
	var t batch.DisbursementTransaction
	err := r.db.First(&t, id).Error
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *BatchRepository) GetTransactionByRef(ref string) (*batch.DisbursementTransaction, error) {
	var t batch.DisbursementTransaction
	err := r.db.Where("transaction_ref = ?", ref).First(&t).Error
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *BatchRepository) GetTransactionByProviderTxID(providerTxID string) (*batch.DisbursementTransaction, error) {
	var t batch.DisbursementTransaction
	err := r.db.Where("provider_tx_id = ?", providerTxID).First(&t).Error
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *BatchRepository) GetTransactionsByBatch(batchID int64) ([]*batch.DisbursementTransaction, error) {
	var txs []*batch.DisbursementTransaction
	err := r.db.
		Where("batch_id = ?", batchID).
		Order("id ASC").
		Find(&txs).Error
	return txs, err
}

func (r *BatchRepository) UpdateTransactionStatus(id int64, status string, providerTxID, errorMessage *string) error {
	updates := map[string]interface{}{
		"status":     status,
		"updated_at": time.Now(),
	}
	if providerTxID != nil {
		updates["provider_tx_id"] = *providerTxID
	}
	if errorMessage != nil {
		updates["error_message"] = *errorMessage
	}
	return r.db.Model(&batch.DisbursementTransaction{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *BatchRepository) IncrementTransactionRetry(id int64) error {
	now := time.Now()
	return r.db.Model(&batch.DisbursementTransaction{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"retry_count":   gorm.Expr("retry_count + 1"),
			"last_retry_at": now,
			"updated_at":    now,
		}).Error
}

// ListStaleProcessingTransactions returns transactions that have been sitting
// in processing longer than the cutoff, for the reconcile worker to poll
// against the provider.
func (r *BatchRepository) ListStaleProcessingTransactions(olderThan time.Time, limit int) ([]*batch.DisbursementTransaction, error) {
	var txs []*batch.DisbursementTransaction
	err := r.db.
		Where("status = ? AND updated_at < ? AND provider_tx_id IS NOT NULL", batch.StatusProcessing, olderThan).
		Order("updated_at ASC").
		Limit(limit).
		Find(&txs).Error
	return txs, err
}

func (r *BatchRepository) CountTransactionsByStatusSince(status string, since time.Time) (int64, error) {
	var count int64
	err := r.db.Model(&batch.DisbursementTransaction{}).
		Where("status = ? AND updated_at >= ?", status, since).
		Count(&count).Error
	return count, err
}
