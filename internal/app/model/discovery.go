package model

import "time"

// DiscoveryRecord marks the first time a user came within range of a pin.
// The composite primary key is what makes "first discovery" race-free.
type DiscoveryRecord struct {
	UserID            string    `db:"user_id" gorm:"primaryKey;size:64"`
	PinID             string    `db:"pin_id" gorm:"primaryKey;type:uuid;index"`
	DistanceMeters    int       `db:"distance_meters" gorm:"not null"`
	FirstDiscoveredAt time.Time `db:"first_discovered_at" gorm:"not null"`
}

func (DiscoveryRecord) TableName() string {
	return "discoveries"
}
