package model

import "time"

// PinRemovedEvent is published whenever a pin is soft-deleted.
type PinRemovedEvent struct {
	ID        string        `json:"id"`
	PinID     string        `json:"pin_id"`
	OwnerID   string        `json:"owner_id"`
	Reason    RemovalReason `json:"reason"`
	Timestamp time.Time     `json:"timestamp"`
}

// FirstDiscoveryEvent is published once per (user, pin) pair.
type FirstDiscoveryEvent struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	PinID          string    `json:"pin_id"`
	DistanceMeters int       `json:"distance_meters"`
	Timestamp      time.Time `json:"timestamp"`
}

const (
	PinStreamName          = "PINS"
	PinStreamSubjects      = "pins.>"
	PinRemovedSubject      = "pins.removed"
	PinDiscoveredSubject   = "pins.discovered"
	ActivityConsumerName   = "pin-activity-logger"
	PinStreamMaxBytes      = 1024 * 1024 * 100 // 100MB
	PinStreamMaxAge        = 7 * 24 * time.Hour
	ActivityFetchBatchSize = 10
)
