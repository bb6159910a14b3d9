package postgres

import (
	"gorm.io/gorm"

	"github.com/frahmantamala/affiliate-payouts/internal/core/datamodel/payee"
)

type PayeeRepository struct {
	db *gorm.DB
}

func NewPayeeRepository(db *gorm.DB) *PayeeRepository {
	return &PayeeRepository{
		db: db,
	}
}

func (r *PayeeRepository) Create(p *payee.Payee) error {
	return r.db.Create(p).Error
}

func (r *PayeeRepository) GetByID(id int64) (*payee.Payee, error) {
	var p payee.Payee
	err := r.db.First(&p, id).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PayeeRepository) GetByEmail(email string) (*payee.Payee, error) {
	var p payee.Payee
	err := r.db.Where("email = ?", email).First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PayeeRepository) ListActive() ([]*payee.Payee, error) {
	var payees []*payee.Payee
	err := r.db.
		Where("active = ?", true).
		Order("id ASC").
		Find(&payees).Error
	return payees, err
}
