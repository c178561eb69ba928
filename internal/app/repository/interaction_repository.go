package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sifan077/PinRadar/internal/app/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// InteractionResult is the outcome of applying one interaction.
type InteractionResult struct {
	Counters model.Counters
	// Changed is false when the interaction was already in effect.
	Changed bool
}

// InteractionRepository records votes and hides and keeps the pin counters
// in step with them.
type InteractionRepository interface {
	Apply(ctx context.Context, userID, pinID string, kind model.InteractionKind, now time.Time) (*InteractionResult, error)
}

type interactionRepository struct {
	db *gorm.DB
}

// NewInteractionRepository returns a GORM-backed InteractionRepository.
func NewInteractionRepository(db *gorm.DB) InteractionRepository {
	return &interactionRepository{db: db}
}

// counterDelta is applied as a relative update; no count is ever read,
// modified and written back from Go.
type counterDelta struct {
	like, report, hide int
}

func (d counterDelta) zero() bool {
	return d.like == 0 && d.report == 0 && d.hide == 0
}

func (r *interactionRepository) Apply(ctx context.Context, userID, pinID string, kind model.InteractionKind, now time.Time) (*InteractionResult, error) {
	var result InteractionResult

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var active int64
		if err := tx.Model(&model.Pin{}).
			Where("id = ? AND is_deleted = ?", pinID, false).
			Where("expires_at IS NULL OR expires_at > ?", now).
			Count(&active).Error; err != nil {
			return err
		}
		if active == 0 {
			return ErrPinNotFound
		}

		delta, err := applyVote(tx, userID, pinID, kind)
		if err != nil {
			return err
		}

		if !delta.zero() {
			res := tx.Model(&model.Pin{}).
				Where("id = ? AND is_deleted = ?", pinID, false).
				Updates(map[string]interface{}{
					"like_count":   gorm.Expr("GREATEST(like_count + ?, 0)", delta.like),
					"report_count": gorm.Expr("GREATEST(report_count + ?, 0)", delta.report),
					"hide_count":   gorm.Expr("hide_count + ?", delta.hide),
					"updated_at":   now,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return ErrPinNotFound
			}
			result.Changed = true
		}

		return tx.Model(&model.Pin{}).
			Select("like_count", "report_count", "pass_through_count", "hide_count").
			Where("id = ?", pinID).
			Take(&result.Counters).Error
	})
	if err != nil {
		return nil, err
	}

	return &result, nil
}

// applyVote writes the interaction row with guarded statements and returns
// the counter movement it implies. A guard that matches no row means the
// interaction is already in effect.
func applyVote(tx *gorm.DB, userID, pinID string, kind model.InteractionKind) (counterDelta, error) {
	switch kind {
	case model.InteractionLike:
		return castVote(tx, userID, pinID, model.VoteLike, model.VoteReport, counterDelta{like: 1}, counterDelta{like: 1, report: -1})
	case model.InteractionReport:
		return castVote(tx, userID, pinID, model.VoteReport, model.VoteLike, counterDelta{report: 1}, counterDelta{report: 1, like: -1})
	case model.InteractionUnlike:
		return withdrawVote(tx, userID, pinID, model.VoteLike, counterDelta{like: -1})
	case model.InteractionUnreport:
		return withdrawVote(tx, userID, pinID, model.VoteReport, counterDelta{report: -1})
	case model.InteractionHide:
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&model.PinHide{UserID: userID, PinID: pinID})
		if res.Error != nil {
			return counterDelta{}, res.Error
		}
		if res.RowsAffected == 1 {
			return counterDelta{hide: 1}, nil
		}
		return counterDelta{}, nil
	default:
		return counterDelta{}, fmt.Errorf("unsupported interaction %q", kind)
	}
}

func castVote(tx *gorm.DB, userID, pinID, vote, opposite string, fresh, flip counterDelta) (counterDelta, error) {
	res := tx.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model.Interaction{UserID: userID, PinID: pinID, Vote: vote})
	if res.Error != nil {
		return counterDelta{}, res.Error
	}
	if res.RowsAffected == 1 {
		return fresh, nil
	}

	res = tx.Model(&model.Interaction{}).
		Where("user_id = ? AND pin_id = ? AND vote = ?", userID, pinID, opposite).
		Update("vote", vote)
	if res.Error != nil {
		return counterDelta{}, res.Error
	}
	if res.RowsAffected == 1 {
		return flip, nil
	}
	return counterDelta{}, nil
}

func withdrawVote(tx *gorm.DB, userID, pinID, vote string, delta counterDelta) (counterDelta, error) {
	res := tx.Where("user_id = ? AND pin_id = ? AND vote = ?", userID, pinID, vote).
		Delete(&model.Interaction{})
	if res.Error != nil {
		return counterDelta{}, res.Error
	}
	if res.RowsAffected == 1 {
		return delta, nil
	}
	return counterDelta{}, nil
}

// IsNotFound reports whether err is a missing-pin error from any repository.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrPinNotFound) || errors.Is(err, gorm.ErrRecordNotFound)
}
