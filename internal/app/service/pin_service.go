package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sifan077/PinRadar/internal/app/model"
	"github.com/sifan077/PinRadar/internal/app/repository"
	"github.com/sifan077/PinRadar/internal/geo"
	"go.uber.org/zap"
)

// PinService defines behaviour-level operations on pins.
type PinService interface {
	CreatePin(ctx context.Context, input CreatePinInput) (*model.Pin, error)
	GetPin(ctx context.Context, id string) (*model.Pin, error)
	ListMine(ctx context.Context, ownerID string, limit, offset int) ([]model.Pin, error)
	DeletePin(ctx context.Context, ownerID, pinID string) error
}

// CreatePinInput captures data required to create a pin.
type CreatePinInput struct {
	OwnerID     string
	Title       string
	Directions  string
	Details     *string
	Latitude    float64
	Longitude   float64
	Category    model.Category
	VisibleFrom *string
	VisibleTo   *string
	// TTL overrides the category lifetime when positive.
	TTL time.Duration
	// NoExpiry is only honoured for community pins.
	NoExpiry bool
}

// Lifetimes holds the default lifetime per category; zero means no expiry.
type Lifetimes struct {
	Normal    time.Duration
	Community time.Duration
	Paid      time.Duration
}

func (l Lifetimes) For(c model.Category) time.Duration {
	switch c {
	case model.CategoryCommunity:
		return l.Community
	case model.CategoryPaid:
		return l.Paid
	default:
		return l.Normal
	}
}

type pinService struct {
	repo      repository.PinRepository
	index     *IndexWriter
	publisher EventPublisher
	lifetimes Lifetimes
	precision int
	logger    *zap.Logger
	now       func() time.Time
}

// NewPinService returns a service implementation backed by the given
// repository. index and publisher may be nil.
func NewPinService(repo repository.PinRepository, index *IndexWriter, publisher EventPublisher, lifetimes Lifetimes, precision int, logger *zap.Logger) PinService {
	if precision == 0 {
		precision = geo.DefaultPrecision
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &pinService{
		repo:      repo,
		index:     index,
		publisher: publisher,
		lifetimes: lifetimes,
		precision: precision,
		logger:    logger.Named("pins"),
		now:       time.Now,
	}
}

func (s *pinService) CreatePin(ctx context.Context, input CreatePinInput) (*model.Pin, error) {
	if input.Category == "" {
		input.Category = model.CategoryNormal
	}
	if !input.Category.Valid() {
		return nil, fmt.Errorf("create pin: %w: %q", ErrInvalidCategory, input.Category)
	}
	if strings.TrimSpace(input.OwnerID) == "" || strings.TrimSpace(input.Title) == "" {
		return nil, fmt.Errorf("create pin: %w: owner and title are required", ErrInvalidInput)
	}
	if input.NoExpiry && input.Category != model.CategoryCommunity {
		return nil, fmt.Errorf("create pin: %w: only community pins may skip expiry", ErrInvalidInput)
	}
	if input.TTL < 0 {
		return nil, fmt.Errorf("create pin: %w: negative lifetime", ErrInvalidInput)
	}

	hash, err := geo.Encode(input.Latitude, input.Longitude, s.precision)
	if err != nil {
		return nil, fmt.Errorf("create pin: %w", err)
	}
	if _, _, err := geo.ParseWindow(input.VisibleFrom, input.VisibleTo); err != nil {
		return nil, fmt.Errorf("create pin: %w", err)
	}

	now := s.now().UTC()
	pin := &model.Pin{
		ID:          uuid.NewString(),
		CreatedBy:   input.OwnerID,
		Title:       strings.TrimSpace(input.Title),
		Directions:  strings.TrimSpace(input.Directions),
		Details:     input.Details,
		Latitude:    input.Latitude,
		Longitude:   input.Longitude,
		Geohash:     hash,
		Category:    input.Category,
		VisibleFrom: input.VisibleFrom,
		VisibleTo:   input.VisibleTo,
		ExpiresAt:   s.expiry(input, now),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.repo.Create(ctx, pin); err != nil {
		return nil, storeError("create pin", err)
	}

	s.index.IndexPin(ctx, pin.Ref())
	return pin, nil
}

func (s *pinService) expiry(input CreatePinInput, now time.Time) *time.Time {
	if input.NoExpiry {
		return nil
	}
	ttl := input.TTL
	if ttl == 0 {
		ttl = s.lifetimes.For(input.Category)
	}
	if ttl == 0 {
		return nil
	}
	at := now.Add(ttl)
	return &at
}

func (s *pinService) GetPin(ctx context.Context, id string) (*model.Pin, error) {
	if !validPinID(id) {
		return nil, fmt.Errorf("get pin: %w", ErrNotFound)
	}
	pin, err := s.repo.GetActive(ctx, id, s.now())
	if err != nil {
		return nil, storeError("get pin", err)
	}
	return pin, nil
}

func (s *pinService) ListMine(ctx context.Context, ownerID string, limit, offset int) ([]model.Pin, error) {
	pins, err := s.repo.ListByOwner(ctx, ownerID, limit, offset)
	if err != nil {
		return nil, storeError("list pins", err)
	}
	return pins, nil
}

// DeletePin soft-deletes an owner's pin, evicts it from the index and
// announces the removal.
func (s *pinService) DeletePin(ctx context.Context, ownerID, pinID string) error {
	if !validPinID(pinID) {
		return fmt.Errorf("delete pin: %w", ErrNotFound)
	}

	now := s.now()
	pin, err := s.repo.SoftDelete(ctx, pinID, ownerID, model.RemovalManual, now)
	if err != nil {
		return storeError("delete pin", err)
	}

	s.index.RemovePin(ctx, pin.Ref())
	announceRemoval(ctx, s.publisher, s.logger, pin.Ref(), model.RemovalManual, now)
	return nil
}

// announceRemoval publishes a removal event; failures are logged only.
func announceRemoval(ctx context.Context, publisher EventPublisher, logger *zap.Logger, ref model.PinRef, reason model.RemovalReason, at time.Time) {
	if publisher == nil {
		return
	}
	event := model.PinRemovedEvent{
		ID:        RemovedEventID(ref.ID),
		PinID:     ref.ID,
		OwnerID:   ref.CreatedBy,
		Reason:    reason,
		Timestamp: at,
	}
	if err := publisher.PublishPinRemoved(ctx, event); err != nil {
		logger.Warn("publish pin removed failed",
			zap.String("pin_id", ref.ID),
			zap.String("reason", string(reason)),
			zap.Error(err))
	}
}
