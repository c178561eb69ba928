package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/sifan077/PinRadar/internal/app/model"
)

// LifecycleRepository holds the reconciler's bulk conditional updates. Every
// statement is guarded by is_deleted = FALSE plus its threshold, so running
// it twice, or concurrently, changes nothing the second time.
type LifecycleRepository interface {
	ExtendLikedPins(ctx context.Context, likeThreshold, extensionHours int, now time.Time) ([]model.PinRef, error)
	DeleteReportedPins(ctx context.Context, reportThreshold int, now time.Time) ([]model.PinRef, error)
	ExpirePins(ctx context.Context, now time.Time) ([]model.PinRef, error)
	ListActiveRefs(ctx context.Context, afterID string, now time.Time, limit int) ([]model.PinRef, error)
}

type lifecycleRepository struct {
	db Querier
}

// NewLifecycleRepository returns a pgx-backed LifecycleRepository.
func NewLifecycleRepository(db Querier) LifecycleRepository {
	return &lifecycleRepository{db: db}
}

const refColumns = `id::text, created_by, latitude, longitude, expires_at, extension_count`

// ExtendLikedPins lets extension_count catch up with floor(like_count / threshold)
// in one statement, moving expires_at by one increment per missing tier.
// SET expressions read the pre-update row.
func (r *lifecycleRepository) ExtendLikedPins(ctx context.Context, likeThreshold, extensionHours int, now time.Time) ([]model.PinRef, error) {
	rows, err := r.db.Query(ctx, `
		UPDATE pins
		SET expires_at = expires_at + make_interval(hours => $2 * (like_count / $1 - extension_count)),
		    extension_count = like_count / $1,
		    updated_at = $3
		WHERE is_deleted = FALSE
		  AND expires_at IS NOT NULL
		  AND expires_at > $3
		  AND like_count >= $1
		  AND extension_count < like_count / $1
		RETURNING `+refColumns,
		likeThreshold, extensionHours, now)
	if err != nil {
		return nil, fmt.Errorf("extend liked pins: %w", err)
	}
	return scanRefs(rows)
}

func (r *lifecycleRepository) DeleteReportedPins(ctx context.Context, reportThreshold int, now time.Time) ([]model.PinRef, error) {
	rows, err := r.db.Query(ctx, `
		UPDATE pins
		SET is_deleted = TRUE,
		    removal_reason = 'reported',
		    updated_at = $2
		WHERE is_deleted = FALSE
		  AND report_count >= $1
		RETURNING `+refColumns,
		reportThreshold, now)
	if err != nil {
		return nil, fmt.Errorf("delete reported pins: %w", err)
	}
	return scanRefs(rows)
}

func (r *lifecycleRepository) ExpirePins(ctx context.Context, now time.Time) ([]model.PinRef, error) {
	rows, err := r.db.Query(ctx, `
		UPDATE pins
		SET is_deleted = TRUE,
		    removal_reason = 'expired',
		    updated_at = $1
		WHERE is_deleted = FALSE
		  AND expires_at IS NOT NULL
		  AND expires_at <= $1
		RETURNING `+refColumns,
		now)
	if err != nil {
		return nil, fmt.Errorf("expire pins: %w", err)
	}
	return scanRefs(rows)
}

// ListActiveRefs pages through active pins by id. Pass an empty afterID for
// the first page.
func (r *lifecycleRepository) ListActiveRefs(ctx context.Context, afterID string, now time.Time, limit int) ([]model.PinRef, error) {
	if limit <= 0 {
		limit = 500
	}
	if afterID == "" {
		afterID = "00000000-0000-0000-0000-000000000000"
	}

	rows, err := r.db.Query(ctx, `
		SELECT `+refColumns+`
		FROM pins
		WHERE is_deleted = FALSE
		  AND (expires_at IS NULL OR expires_at > $1)
		  AND id > $2
		ORDER BY id
		LIMIT $3`,
		now, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list active pins: %w", err)
	}
	return scanRefs(rows)
}

func scanRefs(rows pgx.Rows) ([]model.PinRef, error) {
	defer rows.Close()

	var refs []model.PinRef
	for rows.Next() {
		var ref model.PinRef
		if err := rows.Scan(&ref.ID, &ref.CreatedBy, &ref.Latitude, &ref.Longitude, &ref.ExpiresAt, &ref.ExtensionCount); err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return refs, nil
}
