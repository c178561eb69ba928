package repository

import (
	"context"
	"errors"
	"time"

	"github.com/sifan077/PinRadar/internal/app/model"
	"github.com/sifan077/PinRadar/internal/geo"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrPinNotFound signals that the pin does not exist, is deleted or has expired.
	ErrPinNotFound = errors.New("pin not found")
	// ErrNotPinOwner signals an owner-only operation attempted by someone else.
	ErrNotPinOwner = errors.New("pin belongs to another user")
)

// PinRepository defines the data access contract for pins.
type PinRepository interface {
	Create(ctx context.Context, pin *model.Pin) error
	GetActive(ctx context.Context, id string, now time.Time) (*model.Pin, error)
	GetByIDs(ctx context.Context, ids []string) ([]model.Pin, error)
	ListNearby(ctx context.Context, box geo.BoundingBox, now time.Time, limit int) ([]model.Pin, error)
	ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]model.Pin, error)
	SoftDelete(ctx context.Context, id, ownerID string, reason model.RemovalReason, now time.Time) (*model.Pin, error)
	HiddenPinIDs(ctx context.Context, userID string, pinIDs []string) (map[string]struct{}, error)
}

type pinRepository struct {
	db *gorm.DB
}

// NewPinRepository returns a GORM-backed PinRepository.
func NewPinRepository(db *gorm.DB) PinRepository {
	return &pinRepository{db: db}
}

func (r *pinRepository) Create(ctx context.Context, pin *model.Pin) error {
	return r.db.WithContext(ctx).Create(pin).Error
}

func (r *pinRepository) GetActive(ctx context.Context, id string, now time.Time) (*model.Pin, error) {
	var pin model.Pin
	err := r.db.WithContext(ctx).
		Where("id = ? AND is_deleted = ?", id, false).
		Where("expires_at IS NULL OR expires_at > ?", now).
		First(&pin).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPinNotFound
		}
		return nil, err
	}
	return &pin, nil
}

// GetByIDs loads pins regardless of state; callers re-check discoverability.
func (r *pinRepository) GetByIDs(ctx context.Context, ids []string) ([]model.Pin, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var pins []model.Pin
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&pins).Error; err != nil {
		return nil, err
	}
	return pins, nil
}

// ListNearby returns active pins inside box, newest first, bounded by limit.
func (r *pinRepository) ListNearby(ctx context.Context, box geo.BoundingBox, now time.Time, limit int) ([]model.Pin, error) {
	if limit <= 0 {
		limit = 200
	}

	var pins []model.Pin
	err := r.db.WithContext(ctx).
		Where("is_deleted = ?", false).
		Where("expires_at IS NULL OR expires_at > ?", now).
		Where("latitude BETWEEN ? AND ?", box.MinLat, box.MaxLat).
		Where("longitude BETWEEN ? AND ?", box.MinLon, box.MaxLon).
		Order("created_at DESC").
		Limit(limit).
		Find(&pins).Error
	if err != nil {
		return nil, err
	}
	return pins, nil
}

func (r *pinRepository) ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]model.Pin, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	var result []model.Pin
	if err := r.db.WithContext(ctx).
		Where("created_by = ? AND is_deleted = ?", ownerID, false).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&result).Error; err != nil {
		return nil, err
	}

	return result, nil
}

// SoftDelete marks an owner's pin deleted. The is_deleted guard makes a
// second call a not-found rather than a second removal.
func (r *pinRepository) SoftDelete(ctx context.Context, id, ownerID string, reason model.RemovalReason, now time.Time) (*model.Pin, error) {
	var deleted []model.Pin
	result := r.db.WithContext(ctx).
		Model(&deleted).
		Clauses(clause.Returning{}).
		Where("id = ? AND created_by = ? AND is_deleted = ?", id, ownerID, false).
		Updates(map[string]interface{}{
			"is_deleted":     true,
			"removal_reason": reason,
			"updated_at":     now,
		})
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 || len(deleted) == 0 {
		var owner string
		err := r.db.WithContext(ctx).
			Model(&model.Pin{}).
			Select("created_by").
			Where("id = ? AND is_deleted = ?", id, false).
			Take(&owner).Error
		if err == nil && owner != ownerID {
			return nil, ErrNotPinOwner
		}
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		return nil, ErrPinNotFound
	}

	return &deleted[0], nil
}

func (r *pinRepository) HiddenPinIDs(ctx context.Context, userID string, pinIDs []string) (map[string]struct{}, error) {
	hidden := make(map[string]struct{})
	if len(pinIDs) == 0 {
		return hidden, nil
	}

	var ids []string
	if err := r.db.WithContext(ctx).
		Model(&model.PinHide{}).
		Where("user_id = ? AND pin_id IN ?", userID, pinIDs).
		Pluck("pin_id", &ids).Error; err != nil {
		return nil, err
	}
	for _, id := range ids {
		hidden[id] = struct{}{}
	}
	return hidden, nil
}
