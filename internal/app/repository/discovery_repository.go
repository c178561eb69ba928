package repository

import (
	"context"
	"fmt"

	"github.com/sifan077/PinRadar/internal/app/model"
)

// DiscoveryRepository records first discoveries.
type DiscoveryRepository interface {
	// RecordFirst inserts the (user, pin) record and bumps the pin's
	// pass-through counter in the same statement. It reports true only for
	// the call that created the record.
	RecordFirst(ctx context.Context, rec model.DiscoveryRecord) (bool, error)
}

type discoveryRepository struct {
	db Querier
}

// NewDiscoveryRepository returns a pgx-backed DiscoveryRepository.
func NewDiscoveryRepository(db Querier) DiscoveryRepository {
	return &discoveryRepository{db: db}
}

func (r *discoveryRepository) RecordFirst(ctx context.Context, rec model.DiscoveryRecord) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		WITH inserted AS (
			INSERT INTO discoveries (user_id, pin_id, distance_meters, first_discovered_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (user_id, pin_id) DO NOTHING
			RETURNING pin_id
		)
		UPDATE pins
		SET pass_through_count = pass_through_count + 1
		FROM inserted
		WHERE pins.id = inserted.pin_id`,
		rec.UserID, rec.PinID, rec.DistanceMeters, rec.FirstDiscoveredAt)
	if err != nil {
		return false, fmt.Errorf("record discovery: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
