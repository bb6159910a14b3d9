package webhookevent

import (
	"encoding/json"
	"time"
)

// Event is a verified inbound provider event. EventID carries the provider's
// own identifier; the unique index on it is what makes replay a no-op.
type Event struct {
	ID         int64           `json:"id" gorm:"primaryKey"`
	EventID    string          `json:"event_id" gorm:"column:event_id;not null;uniqueIndex"`
	EventType  string          `json:"event_type" gorm:"column:event_type;not null;index"`
	Provider   string          `json:"provider" gorm:"column:provider;not null"`
	Payload    json.RawMessage `json:"payload" gorm:"column:payload;type:jsonb"`
	Processed  bool            `json:"processed" gorm:"column:processed;default:false"`
	ReceivedAt time.Time       `json:"received_at" gorm:"column:received_at"`
}

func (Event) TableName() string {
	return "webhook_events"
}
