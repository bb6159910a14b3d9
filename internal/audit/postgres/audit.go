package postgres

import (
	"gorm.io/gorm"

	auditpkg "github.com/frahmantamala/affiliate-payouts/internal/audit"
	"github.com/frahmantamala/affiliate-payouts/internal/core/datamodel/audit"
)

type AuditRepository struct {
	db *gorm.DB
}

func NewAuditRepository(db *gorm.DB) auditpkg.Repository {
	return &AuditRepository{
		db: db,
	}
}

func (r *AuditRepository) Create(l *audit.Log) error {
	return r.db.Create(l).Error
}

func (r *AuditRepository) List(f auditpkg.Filter) ([]*audit.Log, int64, error) {
	q := r.db.Model(&audit.Log{})

	if f.Action != "" {
		q = q.Where("action = ?", f.Action)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Actor != "" {
		q = q.Where("actor = ?", f.Actor)
	}
	if f.BatchID != nil {
		q = q.Where("batch_id = ?", *f.BatchID)
	}
	if f.TransactionID != nil {
		q = q.Where("transaction_id = ?", *f.TransactionID)
	}
	if f.From != nil {
		q = q.Where("created_at >= ?", *f.From)
	}
	if f.To != nil {
		q = q.Where("created_at <= ?", *f.To)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var logs []*audit.Log
	err := q.
		Order("created_at DESC, id DESC").
		Limit(f.Limit).
		Offset(f.Offset).
		Find(&logs).Error
	return logs, total, err
}
