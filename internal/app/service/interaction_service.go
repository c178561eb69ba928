package service

import (
	"context"
	"fmt"
	"time"

	"github.com/sifan077/PinRadar/internal/app/model"
	"github.com/sifan077/PinRadar/internal/app/repository"
)

// UpdatedCounters is the pin's engagement after an interaction.
type UpdatedCounters struct {
	PinID string `json:"pin_id"`
	model.Counters
	// AlreadyRecorded is set when the interaction was already in effect and
	// nothing changed.
	AlreadyRecorded bool `json:"already_recorded"`
}

// InteractionService records likes, reports and hides.
type InteractionService interface {
	RecordInteraction(ctx context.Context, userID, pinID string, kind model.InteractionKind) (*UpdatedCounters, error)
}

type interactionService struct {
	repo repository.InteractionRepository
	now  func() time.Time
}

// NewInteractionService returns an InteractionService backed by repo.
func NewInteractionService(repo repository.InteractionRepository) InteractionService {
	return &interactionService{repo: repo, now: time.Now}
}

// RecordInteraction applies kind for userID. Counters move through guarded
// relative updates; repeating an interaction is a successful no-op.
func (s *interactionService) RecordInteraction(ctx context.Context, userID, pinID string, kind model.InteractionKind) (*UpdatedCounters, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("record interaction: %w: %q", ErrInvalidInteraction, kind)
	}
	if userID == "" {
		return nil, fmt.Errorf("record interaction: %w: missing user", ErrInvalidInput)
	}
	if !validPinID(pinID) {
		return nil, fmt.Errorf("record interaction: %w", ErrNotFound)
	}

	res, err := s.repo.Apply(ctx, userID, pinID, kind, s.now())
	if err != nil {
		return nil, storeError("record interaction", err)
	}

	return &UpdatedCounters{
		PinID:           pinID,
		Counters:        res.Counters,
		AlreadyRecorded: !res.Changed,
	}, nil
}
