package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/sifan077/PinRadar/internal/app/metrics"
	"github.com/sifan077/PinRadar/internal/app/model"
	"github.com/sifan077/PinRadar/internal/app/repository"
	"github.com/sifan077/PinRadar/internal/geo"
	"go.uber.org/zap"
)

// DiscoveredPin is one entry of a heartbeat answer.
type DiscoveredPin struct {
	ID             string         `json:"id"`
	Title          string         `json:"title"`
	Directions     string         `json:"directions"`
	Category       model.Category `json:"category"`
	Latitude       float64        `json:"lat"`
	Longitude      float64        `json:"lon"`
	DistanceMeters float64        `json:"distance_m"`
	LikeCount      int            `json:"like_count"`
	ReportCount    int            `json:"report_count"`
	Deprioritized  bool           `json:"deprioritized"`
	ExpiresAt      *time.Time     `json:"expires_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// DiscoveryResult is the heartbeat answer, nearest first.
type DiscoveryResult struct {
	Pins  []DiscoveredPin `json:"pins"`
	Count int             `json:"count"`
}

// HideLookup reports which of the given pins a user has hidden.
type HideLookup interface {
	HiddenPinIDs(ctx context.Context, userID string, pinIDs []string) (map[string]struct{}, error)
}

// DiscoveryOptions tunes the proximity query engine.
type DiscoveryOptions struct {
	RadiusMeters      float64
	Precision         int
	StoreTimeout      time.Duration
	Location          *time.Location
	DeprioritizeRatio float64
}

// DiscoveryService turns heartbeats into discovered pins.
type DiscoveryService struct {
	source      CandidateSource
	hides       HideLookup
	discoveries repository.DiscoveryRepository
	publisher   EventPublisher
	opts        DiscoveryOptions
	logger      *zap.Logger
	metrics     *metrics.Metrics
	now         func() time.Time

	pending sync.WaitGroup
}

// NewDiscoveryService wires the engine. hides may be nil.
func NewDiscoveryService(
	source CandidateSource,
	hides HideLookup,
	discoveries repository.DiscoveryRepository,
	publisher EventPublisher,
	opts DiscoveryOptions,
	logger *zap.Logger,
	m *metrics.Metrics,
) *DiscoveryService {
	if opts.RadiusMeters <= 0 {
		opts.RadiusMeters = 50
	}
	if opts.Precision == 0 {
		opts.Precision = geo.DefaultPrecision
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 2 * time.Second
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.DeprioritizeRatio <= 0 {
		opts.DeprioritizeRatio = 0.5
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DiscoveryService{
		source:      source,
		hides:       hides,
		discoveries: discoveries,
		publisher:   publisher,
		opts:        opts,
		logger:      logger.Named("discovery"),
		metrics:     metrics.OrDiscard(m),
		now:         time.Now,
	}
}

// ProcessHeartbeat returns the pins discoverable from (lat, lon) for userID.
// An empty result is not an error. Store failures, including timeouts, fail
// the whole call with ErrStoreUnavailable.
func (s *DiscoveryService) ProcessHeartbeat(ctx context.Context, userID string, lat, lon float64) (*DiscoveryResult, error) {
	started := time.Now()

	result, err := s.process(ctx, userID, lat, lon)
	outcome := "ok"
	switch {
	case errors.Is(err, ErrInvalidCoordinate):
		outcome = "invalid"
	case err != nil:
		outcome = "unavailable"
	}
	count := 0
	if result != nil {
		count = result.Count
	}
	s.metrics.ObserveHeartbeat(outcome, started, count)

	return result, err
}

func (s *DiscoveryService) process(ctx context.Context, userID string, lat, lon float64) (*DiscoveryResult, error) {
	buckets, err := geo.Cells(lat, lon, s.opts.Precision)
	if err != nil {
		return nil, err
	}
	now := s.now()

	sctx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
	defer cancel()

	candidates, err := s.source.Candidates(sctx, CandidateQuery{
		Latitude:  lat,
		Longitude: lon,
		Buckets:   buckets,
		Now:       now,
	})
	if err != nil {
		return nil, asUnavailable("heartbeat candidates", err)
	}

	hidden, err := s.hiddenAmong(sctx, userID, candidates)
	if err != nil {
		return nil, asUnavailable("heartbeat hides", err)
	}

	found := s.filter(userID, lat, lon, now, candidates, hidden)
	s.recordDiscoveries(userID, found, now)

	return &DiscoveryResult{Pins: found, Count: len(found)}, nil
}

// filter applies the discoverability rules to every candidate and ranks the
// survivors by distance.
func (s *DiscoveryService) filter(userID string, lat, lon float64, now time.Time, candidates []model.Pin, hidden map[string]struct{}) []DiscoveredPin {
	found := make([]DiscoveredPin, 0, len(candidates))
	seen := make(map[string]struct{}, len(candidates))

	for i := range candidates {
		pin := &candidates[i]
		if _, dup := seen[pin.ID]; dup {
			continue
		}
		seen[pin.ID] = struct{}{}

		if reason := s.rejectReason(userID, pin, now, hidden); reason != "" {
			s.metrics.CandidateDropped(reason)
			continue
		}

		distance := geo.DistanceMeters(lat, lon, pin.Latitude, pin.Longitude)
		if distance >= s.opts.RadiusMeters {
			s.metrics.CandidateDropped("distance")
			continue
		}

		found = append(found, DiscoveredPin{
			ID:             pin.ID,
			Title:          pin.Title,
			Directions:     pin.Directions,
			Category:       pin.Category,
			Latitude:       pin.Latitude,
			Longitude:      pin.Longitude,
			DistanceMeters: distance,
			LikeCount:      pin.LikeCount,
			ReportCount:    pin.ReportCount,
			Deprioritized:  Deprioritized(pin.LikeCount, pin.ReportCount, s.opts.DeprioritizeRatio),
			ExpiresAt:      pin.ExpiresAt,
			CreatedAt:      pin.CreatedAt,
		})
	}

	sort.SliceStable(found, func(i, j int) bool {
		if found[i].DistanceMeters != found[j].DistanceMeters {
			return found[i].DistanceMeters < found[j].DistanceMeters
		}
		return found[i].ID < found[j].ID
	})
	return found
}

func (s *DiscoveryService) rejectReason(userID string, pin *model.Pin, now time.Time, hidden map[string]struct{}) string {
	if !pin.ActiveAt(now) {
		return "inactive"
	}
	if pin.Category == model.CategoryPaid && pin.CreatedBy != userID {
		return "private"
	}
	if _, ok := hidden[pin.ID]; ok {
		return "hidden"
	}

	window, ok, err := geo.ParseWindow(pin.VisibleFrom, pin.VisibleTo)
	if err != nil {
		s.logger.Warn("dropping pin with unreadable window", zap.String("pin_id", pin.ID), zap.Error(err))
		return "window_invalid"
	}
	if ok && !window.Contains(now, s.opts.Location) {
		return "window"
	}
	return ""
}

// Deprioritized flags pins whose likes trail their reports by ratio.
func Deprioritized(likes, reports int, ratio float64) bool {
	return reports > 0 && float64(likes) < float64(reports)*ratio
}

func (s *DiscoveryService) hiddenAmong(ctx context.Context, userID string, pins []model.Pin) (map[string]struct{}, error) {
	if s.hides == nil || len(pins) == 0 {
		return nil, nil
	}
	ids := make([]string, len(pins))
	for i := range pins {
		ids[i] = pins[i].ID
	}
	return s.hides.HiddenPinIDs(ctx, userID, ids)
}

// recordDiscoveries logs first discoveries in the background. The caller's
// answer never waits on it; failures are only logged.
func (s *DiscoveryService) recordDiscoveries(userID string, found []DiscoveredPin, now time.Time) {
	if s.discoveries == nil || len(found) == 0 {
		return
	}

	s.pending.Add(1)
	go func() {
		defer s.pending.Done()

		ctx, cancel := context.WithTimeout(context.Background(), s.opts.StoreTimeout)
		defer cancel()

		for _, pin := range found {
			distance := int(math.Round(pin.DistanceMeters))
			first, err := s.discoveries.RecordFirst(ctx, model.DiscoveryRecord{
				UserID:            userID,
				PinID:             pin.ID,
				DistanceMeters:    distance,
				FirstDiscoveredAt: now,
			})
			if err != nil {
				s.logger.Warn("record discovery failed",
					zap.String("user_id", userID),
					zap.String("pin_id", pin.ID),
					zap.Error(err))
				continue
			}
			if !first {
				continue
			}

			s.metrics.FirstDiscovery()
			if s.publisher == nil {
				continue
			}
			event := model.FirstDiscoveryEvent{
				ID:             DiscoveryEventID(userID, pin.ID),
				UserID:         userID,
				PinID:          pin.ID,
				DistanceMeters: distance,
				Timestamp:      now,
			}
			if err := s.publisher.PublishFirstDiscovery(ctx, event); err != nil {
				s.logger.Warn("publish first discovery failed",
					zap.String("user_id", userID),
					zap.String("pin_id", pin.ID),
					zap.Error(err))
			}
		}
	}()
}

// Wait blocks until background discovery recording has finished.
func (s *DiscoveryService) Wait() {
	s.pending.Wait()
}

// asUnavailable makes sure a failure on the required path reads as
// ErrStoreUnavailable, whatever layer produced it.
func asUnavailable(op string, err error) error {
	if errors.Is(err, ErrStoreUnavailable) || errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}
