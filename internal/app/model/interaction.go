package model

import "time"

// InteractionKind is what a user did to a pin.
type InteractionKind string

const (
	InteractionLike     InteractionKind = "like"
	InteractionUnlike   InteractionKind = "unlike"
	InteractionReport   InteractionKind = "report"
	InteractionUnreport InteractionKind = "unreport"
	InteractionHide     InteractionKind = "hide"
)

// Valid reports whether k is a known interaction kind.
func (k InteractionKind) Valid() bool {
	switch k {
	case InteractionLike, InteractionUnlike, InteractionReport, InteractionUnreport, InteractionHide:
		return true
	}
	return false
}

// Vote values stored on Interaction.Vote.
const (
	VoteLike   = "like"
	VoteReport = "report"
)

// Interaction holds a user's current vote on a pin. A user has at most one
// vote per pin; flipping rewrites Vote in place.
type Interaction struct {
	UserID    string    `db:"user_id" gorm:"primaryKey;size:64"`
	PinID     string    `db:"pin_id" gorm:"primaryKey;type:uuid;index"`
	Vote      string    `db:"vote" gorm:"size:16;not null"`
	UpdatedAt time.Time `db:"updated_at" gorm:"autoUpdateTime"`
}

// PinHide records that a user hid a pin from their own discoveries.
type PinHide struct {
	UserID    string    `db:"user_id" gorm:"primaryKey;size:64"`
	PinID     string    `db:"pin_id" gorm:"primaryKey;type:uuid"`
	CreatedAt time.Time `db:"created_at" gorm:"autoCreateTime"`
}
