package postgres

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/frahmantamala/affiliate-payouts/internal/core/datamodel/webhookevent"
	webhookpkg "github.com/frahmantamala/affiliate-payouts/internal/webhook"
)

type EventRepository struct {
	db *gorm.DB
}

func NewEventRepository(db *gorm.DB) webhookpkg.EventRepository {
	return &EventRepository{
		db: db,
	}
}

// Insert relies on the unique index over event_id: a replayed delivery
// conflicts, inserts nothing and reports created=false.
func (r *EventRepository) Insert(e *webhookevent.Event) (bool, error) {
	if e.ReceivedAt.IsZero() {
		e.ReceivedAt = time.Now()
	}

	result := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "event_id"}},
		DoNothing: true,
	}).Create(e)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *EventRepository) MarkProcessed(id int64) error {
	return r.db.Model(&webhookevent.Event{}).
		Where("id = ?", id).
		Update("processed", true).Error
}

func (r *EventRepository) GetByEventID(eventID string) (*webhookevent.Event, error) {
	var e webhookevent.Event
	err := r.db.Where("event_id = ?", eventID).First(&e).Error
	if err != nil {
		return nil, err
	}
	return &e, nil
}
