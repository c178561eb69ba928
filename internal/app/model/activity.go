package model

import "time"

// ActivityType values written to the diary log.
const (
	ActivityVisited = "visited"
	ActivityRemoved = "removed"
)

// Activity is a diary entry produced from pin events. EventID makes
// redelivered events idempotent.
type Activity struct {
	ID           string    `db:"id" gorm:"type:uuid;primaryKey"`
	EventID      string    `db:"event_id" gorm:"size:64;not null;uniqueIndex"`
	UserID       string    `db:"user_id" gorm:"size:64;not null;index:idx_activities_user_date,priority:1"`
	PinID        string    `db:"pin_id" gorm:"type:uuid;not null"`
	ActivityType string    `db:"activity_type" gorm:"size:20;not null"`
	Detail       string    `db:"detail" gorm:"size:64"`
	CreatedAt    time.Time `db:"created_at" gorm:"not null;index:idx_activities_user_date,priority:2,sort:desc"`
}
