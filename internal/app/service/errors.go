package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sifan077/PinRadar/internal/app/repository"
	"github.com/sifan077/PinRadar/internal/geo"
)

var (
	// ErrInvalidCoordinate is returned for latitudes outside [-90, 90] or
	// longitudes outside [-180, 180].
	ErrInvalidCoordinate = geo.ErrInvalidCoordinate
	// ErrInvalidWindow is returned for malformed visibility windows.
	ErrInvalidWindow = geo.ErrInvalidWindow
	// ErrStoreUnavailable wraps durable store failures; callers may retry.
	ErrStoreUnavailable = errors.New("pin store unavailable")
	// ErrNotFound covers missing, deleted and expired pins alike.
	ErrNotFound = errors.New("pin not found")

	ErrForbidden          = errors.New("pin belongs to another user")
	ErrInvalidCategory    = errors.New("invalid pin category")
	ErrInvalidInteraction = errors.New("invalid interaction kind")
	ErrInvalidInput       = errors.New("invalid input")
)

// storeError classifies a repository failure for callers.
func storeError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case repository.IsNotFound(err):
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	case errors.Is(err, repository.ErrNotPinOwner):
		return fmt.Errorf("%s: %w", op, ErrForbidden)
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("%s: %w", op, err)
	default:
		return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
	}
}

// validPinID keeps malformed ids away from uuid columns.
func validPinID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
