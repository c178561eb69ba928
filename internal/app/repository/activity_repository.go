package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/sifan077/PinRadar/internal/app/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ActivityRepository defines the data access contract for diary activities.
type ActivityRepository interface {
	// Record stores an activity once per event id and reports whether it was new.
	Record(ctx context.Context, activity *model.Activity) (bool, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]model.Activity, error)
}

type activityRepository struct {
	db *gorm.DB
}

// NewActivityRepository returns a GORM-backed ActivityRepository.
func NewActivityRepository(db *gorm.DB) ActivityRepository {
	return &activityRepository{db: db}
}

func (r *activityRepository) Record(ctx context.Context, activity *model.Activity) (bool, error) {
	if activity.ID == "" {
		activity.ID = uuid.NewString()
	}

	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "event_id"}},
			DoNothing: true,
		}).
		Create(activity)
	return result.RowsAffected == 1, result.Error
}

func (r *activityRepository) ListByUser(ctx context.Context, userID string, limit int) ([]model.Activity, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	var result []model.Activity
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&result).Error; err != nil {
		return nil, err
	}
	return result, nil
}
