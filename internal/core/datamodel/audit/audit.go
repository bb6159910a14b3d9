package audit

import (
	"encoding/json"
	"time"
)

const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Log is an append-only record of an orchestration action. Rows are never
// updated or deleted.
type Log struct {
	ID            int64           `json:"id" gorm:"primaryKey"`
	Action        string          `json:"action" gorm:"column:action;not null;index"`
	Status        string          `json:"status" gorm:"column:status;not null"`
	Actor         string          `json:"actor" gorm:"column:actor;not null"`
	Details       json.RawMessage `json:"details,omitempty" gorm:"column:details;type:jsonb"`
	BatchID       *int64          `json:"batch_id,omitempty" gorm:"column:batch_id;index"`
	TransactionID *int64          `json:"transaction_id,omitempty" gorm:"column:transaction_id;index"`
	CreatedAt     time.Time       `json:"created_at" gorm:"column:created_at;index"`
}

func (Log) TableName() string {
	return "audit_logs"
}
