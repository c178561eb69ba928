package model

import "time"

// Category drives a pin's default lifetime and who may discover it.
type Category string

const (
	CategoryNormal    Category = "normal"
	CategoryCommunity Category = "community"
	CategoryPaid      Category = "paid"
)

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	switch c {
	case CategoryNormal, CategoryCommunity, CategoryPaid:
		return true
	}
	return false
}

// RemovalReason records why a pin was soft-deleted.
type RemovalReason string

const (
	RemovalReported RemovalReason = "reported"
	RemovalExpired  RemovalReason = "expired"
	RemovalManual   RemovalReason = "manual"
)

// Pin is a location-anchored note. Rows are never physically deleted.
type Pin struct {
	ID         string  `db:"id" gorm:"type:uuid;primaryKey"`
	CreatedBy  string  `db:"created_by" gorm:"size:64;not null;index"`
	Title      string  `db:"title" gorm:"size:200;not null"`
	Directions string  `db:"directions" gorm:"size:500;not null"`
	Details    *string `db:"details" gorm:"type:text"`

	Latitude  float64 `db:"latitude" gorm:"not null;index:idx_pins_lat_lon,priority:1"`
	Longitude float64 `db:"longitude" gorm:"not null;index:idx_pins_lat_lon,priority:2"`
	Geohash   string  `db:"geohash" gorm:"size:12;not null;index"`

	Category    Category `db:"category" gorm:"size:16;not null;default:normal"`
	VisibleFrom *string  `db:"visible_from" gorm:"size:5"`
	VisibleTo   *string  `db:"visible_to" gorm:"size:5"`

	LikeCount        int `db:"like_count" gorm:"not null;default:0"`
	ReportCount      int `db:"report_count" gorm:"not null;default:0"`
	PassThroughCount int `db:"pass_through_count" gorm:"not null;default:0"`
	HideCount        int `db:"hide_count" gorm:"not null;default:0"`

	ExpiresAt      *time.Time     `db:"expires_at" gorm:"index"`
	ExtensionCount int            `db:"extension_count" gorm:"not null;default:0"`
	IsDeleted      bool           `db:"is_deleted" gorm:"not null;default:false;index"`
	RemovalReason  *RemovalReason `db:"removal_reason" gorm:"size:16"`

	CreatedAt time.Time `db:"created_at" gorm:"autoCreateTime;index"`
	UpdatedAt time.Time `db:"updated_at" gorm:"autoUpdateTime"`
}

// ActiveAt reports whether the pin is neither deleted nor time-expired at now.
// The visibility window and the radius are checked by the discovery engine.
func (p *Pin) ActiveAt(now time.Time) bool {
	if p.IsDeleted {
		return false
	}
	return p.ExpiresAt == nil || p.ExpiresAt.After(now)
}

// PinRef is the slice of a pin the lifecycle passes and the proximity index need.
type PinRef struct {
	ID             string
	CreatedBy      string
	Latitude       float64
	Longitude      float64
	ExpiresAt      *time.Time
	ExtensionCount int
}

// Ref extracts the index-relevant fields of p.
func (p *Pin) Ref() PinRef {
	return PinRef{
		ID:             p.ID,
		CreatedBy:      p.CreatedBy,
		Latitude:       p.Latitude,
		Longitude:      p.Longitude,
		ExpiresAt:      p.ExpiresAt,
		ExtensionCount: p.ExtensionCount,
	}
}

// Counters are the engagement counters returned after an interaction.
type Counters struct {
	LikeCount        int `json:"like_count"`
	ReportCount      int `json:"report_count"`
	PassThroughCount int `json:"pass_through_count"`
	HideCount        int `json:"hide_count"`
}
