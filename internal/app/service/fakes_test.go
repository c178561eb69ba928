package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/sifan077/PinRadar/internal/app/model"
	"github.com/sifan077/PinRadar/internal/app/repository"
	"github.com/sifan077/PinRadar/internal/geo"
)

var errStoreDown = errors.New("connection refused")

// memoryStore is an in-memory pin table implementing the pin, lifecycle and
// discovery repositories with the same guarded semantics as the SQL ones.
type memoryStore struct {
	mu          sync.Mutex
	pins        map[string]*model.Pin
	hides       map[string]map[string]bool
	discoveries map[[2]string]model.DiscoveryRecord

	// err fails every call when set.
	err error
	// extendErr fails only the extension pass.
	extendErr error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		pins:        map[string]*model.Pin{},
		hides:       map[string]map[string]bool{},
		discoveries: map[[2]string]model.DiscoveryRecord{},
	}
}

func (s *memoryStore) put(pin model.Pin) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := pin
	s.pins[pin.ID] = &p
}

func (s *memoryStore) get(id string) model.Pin {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.pins[id]
}

func (s *memoryStore) hide(userID, pinID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hides[userID] == nil {
		s.hides[userID] = map[string]bool{}
	}
	s.hides[userID][pinID] = true
}

func (s *memoryStore) discoveryCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.discoveries)
}

func (s *memoryStore) Create(_ context.Context, pin *model.Pin) error {
	if s.err != nil {
		return s.err
	}
	s.put(*pin)
	return nil
}

func (s *memoryStore) GetActive(_ context.Context, id string, now time.Time) (*model.Pin, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pins[id]
	if !ok || !p.ActiveAt(now) {
		return nil, repository.ErrPinNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *memoryStore) GetByIDs(_ context.Context, ids []string) ([]model.Pin, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Pin
	for _, id := range ids {
		if p, ok := s.pins[id]; ok {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (s *memoryStore) ListNearby(_ context.Context, box geo.BoundingBox, now time.Time, limit int) ([]model.Pin, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Pin
	for _, p := range s.pins {
		if !p.ActiveAt(now) {
			continue
		}
		if p.Latitude < box.MinLat || p.Latitude > box.MaxLat || p.Longitude < box.MinLon || p.Longitude > box.MaxLon {
			continue
		}
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memoryStore) ListByOwner(_ context.Context, ownerID string, _, _ int) ([]model.Pin, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Pin
	for _, p := range s.pins {
		if p.CreatedBy == ownerID && !p.IsDeleted {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (s *memoryStore) SoftDelete(_ context.Context, id, ownerID string, reason model.RemovalReason, now time.Time) (*model.Pin, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pins[id]
	if !ok || p.IsDeleted {
		return nil, repository.ErrPinNotFound
	}
	if p.CreatedBy != ownerID {
		return nil, repository.ErrNotPinOwner
	}
	p.IsDeleted = true
	p.RemovalReason = &reason
	p.UpdatedAt = now
	cp := *p
	return &cp, nil
}

func (s *memoryStore) HiddenPinIDs(_ context.Context, userID string, pinIDs []string) (map[string]struct{}, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]struct{}{}
	for _, id := range pinIDs {
		if s.hides[userID][id] {
			out[id] = struct{}{}
		}
	}
	return out, nil
}

func (s *memoryStore) ExtendLikedPins(_ context.Context, likeThreshold, extensionHours int, now time.Time) ([]model.PinRef, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.extendErr != nil {
		return nil, s.extendErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var refs []model.PinRef
	for _, p := range s.pins {
		tier := p.LikeCount / likeThreshold
		if p.IsDeleted || p.ExpiresAt == nil || !p.ExpiresAt.After(now) || p.LikeCount < likeThreshold || p.ExtensionCount >= tier {
			continue
		}
		at := p.ExpiresAt.Add(time.Duration(extensionHours*(tier-p.ExtensionCount)) * time.Hour)
		p.ExpiresAt = &at
		p.ExtensionCount = tier
		refs = append(refs, p.Ref())
	}
	return refs, nil
}

func (s *memoryStore) DeleteReportedPins(_ context.Context, reportThreshold int, now time.Time) ([]model.PinRef, error) {
	return s.softDeleteWhere(model.RemovalReported, now, func(p *model.Pin) bool {
		return p.ReportCount >= reportThreshold
	})
}

func (s *memoryStore) ExpirePins(_ context.Context, now time.Time) ([]model.PinRef, error) {
	return s.softDeleteWhere(model.RemovalExpired, now, func(p *model.Pin) bool {
		return p.ExpiresAt != nil && !p.ExpiresAt.After(now)
	})
}

func (s *memoryStore) softDeleteWhere(reason model.RemovalReason, now time.Time, match func(*model.Pin) bool) ([]model.PinRef, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var refs []model.PinRef
	for _, p := range s.pins {
		if p.IsDeleted || !match(p) {
			continue
		}
		r := reason
		p.IsDeleted = true
		p.RemovalReason = &r
		p.UpdatedAt = now
		refs = append(refs, p.Ref())
	}
	return refs, nil
}

func (s *memoryStore) ListActiveRefs(_ context.Context, afterID string, now time.Time, limit int) ([]model.PinRef, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var refs []model.PinRef
	for _, p := range s.pins {
		if p.ActiveAt(now) && p.ID > afterID {
			refs = append(refs, p.Ref())
		}
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].ID < refs[j].ID })
	if len(refs) > limit {
		refs = refs[:limit]
	}
	return refs, nil
}

func (s *memoryStore) RecordFirst(_ context.Context, rec model.DiscoveryRecord) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := [2]string{rec.UserID, rec.PinID}
	if _, ok := s.discoveries[key]; ok {
		return false, nil
	}
	s.discoveries[key] = rec
	if p, ok := s.pins[rec.PinID]; ok {
		p.PassThroughCount++
	}
	return true, nil
}

// memoryIndex is an in-memory BucketIndex.
type memoryIndex struct {
	mu      sync.Mutex
	buckets map[string]map[string]bool
	ttls    map[string]time.Duration
	warm    bool
	err     error
	// addErr fails Add only, leaving the other calls working.
	addErr error
}

func newMemoryIndex(warm bool) *memoryIndex {
	return &memoryIndex{buckets: map[string]map[string]bool{}, ttls: map[string]time.Duration{}, warm: warm}
}

func (i *memoryIndex) Add(_ context.Context, bucket, pinID string, ttl time.Duration) error {
	if i.err != nil {
		return i.err
	}
	if i.addErr != nil {
		return i.addErr
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.buckets[bucket] == nil {
		i.buckets[bucket] = map[string]bool{}
	}
	i.buckets[bucket][pinID] = true
	if ttl > i.ttls[bucket] {
		i.ttls[bucket] = ttl
	}
	return nil
}

func (i *memoryIndex) Remove(_ context.Context, bucket, pinID string) error {
	if i.err != nil {
		return i.err
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	delete(i.buckets[bucket], pinID)
	return nil
}

func (i *memoryIndex) Candidates(_ context.Context, buckets []string) ([]string, error) {
	if i.err != nil {
		return nil, i.err
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	if !i.warm {
		return nil, errors.New("cold")
	}
	var ids []string
	for _, b := range buckets {
		for id := range i.buckets[b] {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (i *memoryIndex) MarkWarm(context.Context, time.Time) error {
	if i.err != nil {
		return i.err
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	i.warm = true
	return nil
}

func (i *memoryIndex) MarkCold(context.Context) error {
	if i.err != nil {
		return i.err
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	i.warm = false
	return nil
}

func (i *memoryIndex) isWarm() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.warm
}

func (i *memoryIndex) contains(pinID string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	for _, members := range i.buckets {
		if members[pinID] {
			return true
		}
	}
	return false
}

// recordingPublisher keeps every published event.
type recordingPublisher struct {
	mu          sync.Mutex
	removed     []model.PinRemovedEvent
	discoveries []model.FirstDiscoveryEvent
	err         error
}

func (p *recordingPublisher) PublishPinRemoved(_ context.Context, event model.PinRemovedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.removed = append(p.removed, event)
	return p.err
}

func (p *recordingPublisher) PublishFirstDiscovery(_ context.Context, event model.FirstDiscoveryEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.discoveries = append(p.discoveries, event)
	return p.err
}

func (p *recordingPublisher) discoveryEvents() []model.FirstDiscoveryEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]model.FirstDiscoveryEvent(nil), p.discoveries...)
}

func (p *recordingPublisher) removedEvents() []model.PinRemovedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]model.PinRemovedEvent(nil), p.removed...)
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func ptr[T any](v T) *T {
	return &v
}
