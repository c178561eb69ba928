package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sifan077/PinRadar/internal/app/model"
	"github.com/sifan077/PinRadar/internal/app/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreatePinAppliesCategoryLifetimes(t *testing.T) {
	h := newHarness(t, modeCache)
	ctx := context.Background()

	cases := []struct {
		name     string
		input    CreatePinInput
		wantTTL  time.Duration
		noExpiry bool
	}{
		{name: "normal default", input: CreatePinInput{Category: model.CategoryNormal}, wantTTL: 72 * time.Hour},
		{name: "empty category is normal", input: CreatePinInput{}, wantTTL: 72 * time.Hour},
		{name: "paid default", input: CreatePinInput{Category: model.CategoryPaid}, wantTTL: 168 * time.Hour},
		{name: "community default", input: CreatePinInput{Category: model.CategoryCommunity}, noExpiry: true},
		{name: "explicit ttl", input: CreatePinInput{Category: model.CategoryNormal, TTL: 5 * time.Hour}, wantTTL: 5 * time.Hour},
		{name: "community no expiry", input: CreatePinInput{Category: model.CategoryCommunity, NoExpiry: true}, noExpiry: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := tc.input
			in.OwnerID = "owner"
			in.Title = "  bench with a view "
			in.Latitude, in.Longitude = tokyoLat, tokyoLon

			pin, err := h.pins.CreatePin(ctx, in)
			require.NoError(t, err)
			assert.Equal(t, "bench with a view", pin.Title)
			assert.Equal(t, "xn76cyd", pin.Geohash)
			if tc.noExpiry {
				assert.Nil(t, pin.ExpiresAt)
			} else {
				require.NotNil(t, pin.ExpiresAt)
				assert.Equal(t, testNow.Add(tc.wantTTL), *pin.ExpiresAt)
			}
			assert.True(t, h.index.contains(pin.ID))
		})
	}
}

func TestCreatePinValidation(t *testing.T) {
	h := newHarness(t, modeDirect)
	ctx := context.Background()
	base := CreatePinInput{OwnerID: "owner", Title: "t", Latitude: tokyoLat, Longitude: tokyoLon}

	bad := base
	bad.Category = "vip"
	_, err := h.pins.CreatePin(ctx, bad)
	assert.ErrorIs(t, err, ErrInvalidCategory)

	bad = base
	bad.Latitude = 123
	_, err = h.pins.CreatePin(ctx, bad)
	assert.ErrorIs(t, err, ErrInvalidCoordinate)

	bad = base
	bad.NoExpiry = true
	_, err = h.pins.CreatePin(ctx, bad)
	assert.ErrorIs(t, err, ErrInvalidInput)

	bad = base
	bad.VisibleFrom = ptr("25:00")
	bad.VisibleTo = ptr("26:00")
	_, err = h.pins.CreatePin(ctx, bad)
	assert.ErrorIs(t, err, ErrInvalidWindow)

	bad = base
	bad.Title = "   "
	_, err = h.pins.CreatePin(ctx, bad)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestCreatePinSurvivesIndexOutage(t *testing.T) {
	h := newHarness(t, modeCacheError)

	pin, err := h.pins.CreatePin(context.Background(), CreatePinInput{
		OwnerID: "owner", Title: "t", Latitude: tokyoLat, Longitude: tokyoLon,
	})
	require.NoError(t, err)
	assert.False(t, h.store.get(pin.ID).IsDeleted)

	result, err := h.discovery.ProcessHeartbeat(context.Background(), "walker", tokyoLat, tokyoLon)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Count)
	h.discovery.Wait()
}

func TestCreatePinStoreFailure(t *testing.T) {
	h := newHarness(t, modeCache)
	h.store.err = errStoreDown

	_, err := h.pins.CreatePin(context.Background(), CreatePinInput{
		OwnerID: "owner", Title: "t", Latitude: tokyoLat, Longitude: tokyoLon,
	})
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestGetPin(t *testing.T) {
	h := newHarness(t, modeDirect)
	active := h.seed(5, 0, nil)
	expired := h.seed(5, 5, func(p *model.Pin) { p.ExpiresAt = ptr(testNow.Add(-time.Hour)) })

	pin, err := h.pins.GetPin(context.Background(), active)
	require.NoError(t, err)
	assert.Equal(t, active, pin.ID)

	_, err = h.pins.GetPin(context.Background(), expired)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = h.pins.GetPin(context.Background(), uuid.NewString())
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = h.pins.GetPin(context.Background(), "../etc/passwd")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeletePin(t *testing.T) {
	h := newHarness(t, modeCache)
	ctx := context.Background()
	id := h.seed(5, 0, nil)

	err := h.pins.DeletePin(ctx, "intruder", id)
	assert.ErrorIs(t, err, ErrForbidden)
	assert.True(t, h.index.contains(id))

	require.NoError(t, h.pins.DeletePin(ctx, "owner", id))
	pin := h.store.get(id)
	assert.True(t, pin.IsDeleted)
	assert.Equal(t, model.RemovalManual, *pin.RemovalReason)
	assert.False(t, h.index.contains(id))

	removed := h.publisher.removedEvents()
	require.Len(t, removed, 1)
	assert.Equal(t, model.RemovalManual, removed[0].Reason)
	assert.Equal(t, RemovedEventID(id), removed[0].ID)

	err = h.pins.DeletePin(ctx, "owner", id)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Len(t, h.publisher.removedEvents(), 1)
}

func TestListMine(t *testing.T) {
	h := newHarness(t, modeDirect)
	h.seed(5, 0, nil)
	h.seed(6, 0, nil)
	h.seed(7, 0, func(p *model.Pin) { p.CreatedBy = "someone-else" })

	pins, err := h.pins.ListMine(context.Background(), "owner", 20, 0)
	require.NoError(t, err)
	assert.Len(t, pins, 2)
}

type mockInteractionRepository struct {
	applyFn func(ctx context.Context, userID, pinID string, kind model.InteractionKind, now time.Time) (*repository.InteractionResult, error)
}

func (m *mockInteractionRepository) Apply(ctx context.Context, userID, pinID string, kind model.InteractionKind, now time.Time) (*repository.InteractionResult, error) {
	if m.applyFn != nil {
		return m.applyFn(ctx, userID, pinID, kind, now)
	}
	return &repository.InteractionResult{Changed: true}, nil
}

func TestRecordInteraction(t *testing.T) {
	pinID := uuid.NewString()

	repo := &mockInteractionRepository{
		applyFn: func(_ context.Context, userID, id string, kind model.InteractionKind, _ time.Time) (*repository.InteractionResult, error) {
			assert.Equal(t, "walker", userID)
			assert.Equal(t, pinID, id)
			assert.Equal(t, model.InteractionLike, kind)
			return &repository.InteractionResult{Counters: model.Counters{LikeCount: 4}, Changed: true}, nil
		},
	}

	got, err := NewInteractionService(repo).RecordInteraction(context.Background(), "walker", pinID, model.InteractionLike)
	require.NoError(t, err)
	assert.Equal(t, 4, got.LikeCount)
	assert.False(t, got.AlreadyRecorded)
}

func TestRecordInteractionRepeatIsNoopSuccess(t *testing.T) {
	repo := &mockInteractionRepository{
		applyFn: func(context.Context, string, string, model.InteractionKind, time.Time) (*repository.InteractionResult, error) {
			return &repository.InteractionResult{Counters: model.Counters{ReportCount: 1}}, nil
		},
	}

	got, err := NewInteractionService(repo).RecordInteraction(context.Background(), "walker", uuid.NewString(), model.InteractionReport)
	require.NoError(t, err)
	assert.True(t, got.AlreadyRecorded)
	assert.Equal(t, 1, got.ReportCount)
}

func TestRecordInteractionErrors(t *testing.T) {
	svc := NewInteractionService(&mockInteractionRepository{
		applyFn: func(_ context.Context, _, pinID string, _ model.InteractionKind, _ time.Time) (*repository.InteractionResult, error) {
			if pinID == "00000000-0000-0000-0000-000000000001" {
				return nil, repository.ErrPinNotFound
			}
			return nil, errors.New("deadlock detected")
		},
	})
	ctx := context.Background()

	_, err := svc.RecordInteraction(ctx, "walker", uuid.NewString(), "superlike")
	assert.ErrorIs(t, err, ErrInvalidInteraction)

	_, err = svc.RecordInteraction(ctx, "walker", "nope", model.InteractionLike)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = svc.RecordInteraction(ctx, "walker", "00000000-0000-0000-0000-000000000001", model.InteractionUnlike)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = svc.RecordInteraction(ctx, "walker", uuid.NewString(), model.InteractionHide)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}
