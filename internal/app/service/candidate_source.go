package service

import (
	"context"
	"errors"
	"time"

	"github.com/sifan077/PinRadar/internal/app/metrics"
	"github.com/sifan077/PinRadar/internal/app/model"
	"github.com/sifan077/PinRadar/internal/geo"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// CandidateQuery is one heartbeat's lookup.
type CandidateQuery struct {
	Latitude  float64
	Longitude float64
	// Buckets is the center cell followed by its neighbors.
	Buckets []string
	Now     time.Time
}

// CandidateSource yields pins that may be near the query point, loaded from
// the durable store. Results are candidates only; the engine re-checks every
// one. The returned slice may be shared between callers and must not be
// modified.
type CandidateSource interface {
	Candidates(ctx context.Context, q CandidateQuery) ([]model.Pin, error)
}

// PinLoader is the store access the candidate sources need.
type PinLoader interface {
	GetByIDs(ctx context.Context, ids []string) ([]model.Pin, error)
	ListNearby(ctx context.Context, box geo.BoundingBox, now time.Time, limit int) ([]model.Pin, error)
}

// DirectQueryCandidateSource reads the store with a bounding-box query around
// the point, newest pins first, capped at Limit rows.
type DirectQueryCandidateSource struct {
	store   PinLoader
	radius  float64
	limit   int
	metrics *metrics.Metrics
}

// NewDirectQueryCandidateSource creates the store-only source.
func NewDirectQueryCandidateSource(store PinLoader, radiusMeters float64, limit int, m *metrics.Metrics) *DirectQueryCandidateSource {
	return &DirectQueryCandidateSource{store: store, radius: radiusMeters, limit: limit, metrics: metrics.OrDiscard(m)}
}

func (s *DirectQueryCandidateSource) Candidates(ctx context.Context, q CandidateQuery) ([]model.Pin, error) {
	s.metrics.CandidateLookup(metrics.SourceDirect)

	box := geo.BoxAround(q.Latitude, q.Longitude, s.radius)
	pins, err := s.store.ListNearby(ctx, box, q.Now, s.limit)
	if err != nil {
		return nil, storeError("direct candidates", err)
	}
	return pins, nil
}

// CachedCandidateSource takes candidate ids from the proximity index and
// loads them from the store. It answers from the fallback source when the
// index errors, times out or is cold, and where the bucket neighborhood is
// narrower than the radius.
type CachedCandidateSource struct {
	index    BucketIndex
	store    PinLoader
	fallback CandidateSource
	radius   float64
	timeout  time.Duration
	logger   *zap.Logger
	metrics  *metrics.Metrics
	group    singleflight.Group
}

// NewCachedCandidateSource creates the cache-first source.
func NewCachedCandidateSource(idx BucketIndex, store PinLoader, fallback CandidateSource, radiusMeters float64, cacheTimeout time.Duration, logger *zap.Logger, m *metrics.Metrics) *CachedCandidateSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cacheTimeout <= 0 {
		cacheTimeout = 150 * time.Millisecond
	}
	return &CachedCandidateSource{
		index:    idx,
		store:    store,
		fallback: fallback,
		radius:   radiusMeters,
		timeout:  cacheTimeout,
		logger:   logger.Named("candidates"),
		metrics:  metrics.OrDiscard(m),
	}
}

func (s *CachedCandidateSource) Candidates(ctx context.Context, q CandidateQuery) ([]model.Pin, error) {
	if len(q.Buckets) == 0 {
		return s.fallback.Candidates(ctx, q)
	}
	if !geo.NeighborhoodCovers(q.Latitude, len(q.Buckets[0]), s.radius) {
		return s.fallback.Candidates(ctx, q)
	}

	// The nine buckets depend only on the center cell, so concurrent
	// heartbeats in one cell share a single lookup.
	v, err, _ := s.group.Do(q.Buckets[0], func() (any, error) {
		shared := context.WithoutCancel(ctx)
		if deadline, ok := ctx.Deadline(); ok {
			var cancel context.CancelFunc
			shared, cancel = context.WithDeadline(shared, deadline)
			defer cancel()
		}
		return s.lookup(shared, q)
	})
	if errors.Is(err, errIndexUnusable) {
		return s.fallback.Candidates(ctx, q)
	}
	if err != nil {
		return nil, err
	}
	return v.([]model.Pin), nil
}

var errIndexUnusable = errors.New("index unusable")

func (s *CachedCandidateSource) lookup(ctx context.Context, q CandidateQuery) ([]model.Pin, error) {
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	ids, err := s.index.Candidates(cctx, q.Buckets)
	cancel()
	if err != nil {
		s.logger.Debug("proximity index unavailable, using store",
			zap.String("geohash", q.Buckets[0]),
			zap.Error(err))
		return nil, errIndexUnusable
	}

	s.metrics.CandidateLookup(metrics.SourceCache)

	valid := ids[:0:0]
	for _, id := range ids {
		if !validPinID(id) {
			s.metrics.CandidateDropped("malformed")
			s.logger.Warn("dropping malformed index member", zap.String("pin_id", id))
			continue
		}
		valid = append(valid, id)
	}
	if len(valid) == 0 {
		return nil, nil
	}

	pins, err := s.store.GetByIDs(ctx, valid)
	if err != nil {
		return nil, storeError("load candidates", err)
	}
	return pins, nil
}
