package payee

import "time"

// Payee is an affiliate who receives disbursements. ProviderAccountID is the
// account identifier on the payment rail used when submitting batch items.
type Payee struct {
	ID                int64     `json:"id" gorm:"primaryKey"`
	Name              string    `json:"name" gorm:"column:name;not null"`
	Email             string    `json:"email" gorm:"column:email;not null;uniqueIndex"`
	ProviderAccountID string    `json:"provider_account_id" gorm:"column:provider_account_id;not null"`
	Active            bool      `json:"active" gorm:"column:active;default:true"`
	CreatedAt         time.Time `json:"created_at" gorm:"column:created_at"`
	UpdatedAt         time.Time `json:"updated_at" gorm:"column:updated_at"`
}

func (Payee) TableName() string {
	return "payees"
}
