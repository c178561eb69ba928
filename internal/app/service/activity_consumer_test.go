package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/sifan077/PinRadar/internal/app/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockActivityRepository struct {
	recordFn func(ctx context.Context, activity *model.Activity) (bool, error)
	recorded []model.Activity
}

func (m *mockActivityRepository) Record(ctx context.Context, activity *model.Activity) (bool, error) {
	if m.recordFn != nil {
		return m.recordFn(ctx, activity)
	}
	for _, a := range m.recorded {
		if a.EventID == activity.EventID {
			return false, nil
		}
	}
	m.recorded = append(m.recorded, *activity)
	return true, nil
}

func (m *mockActivityRepository) ListByUser(context.Context, string, int) ([]model.Activity, error) {
	return m.recorded, nil
}

func TestActivityFromDiscovery(t *testing.T) {
	repo := &mockActivityRepository{}
	c := NewActivityConsumer(nil, nil, repo)

	data, err := json.Marshal(model.FirstDiscoveryEvent{
		ID: DiscoveryEventID("walker", "pin-1"), UserID: "walker", PinID: "pin-1", DistanceMeters: 12, Timestamp: testNow,
	})
	require.NoError(t, err)

	require.NoError(t, c.Handle(context.Background(), model.PinDiscoveredSubject, data))
	require.NoError(t, c.Handle(context.Background(), model.PinDiscoveredSubject, data))

	require.Len(t, repo.recorded, 1)
	got := repo.recorded[0]
	assert.Equal(t, "walker", got.UserID)
	assert.Equal(t, model.ActivityVisited, got.ActivityType)
	assert.Equal(t, "12m", got.Detail)
}

func TestActivityFromRemovalGoesToOwner(t *testing.T) {
	repo := &mockActivityRepository{}
	c := NewActivityConsumer(nil, nil, repo)

	data, err := json.Marshal(model.PinRemovedEvent{
		ID: RemovedEventID("pin-1"), PinID: "pin-1", OwnerID: "owner", Reason: model.RemovalExpired, Timestamp: testNow,
	})
	require.NoError(t, err)

	require.NoError(t, c.Handle(context.Background(), model.PinRemovedSubject, data))
	require.Len(t, repo.recorded, 1)
	assert.Equal(t, "owner", repo.recorded[0].UserID)
	assert.Equal(t, model.ActivityRemoved, repo.recorded[0].ActivityType)
	assert.Equal(t, "expired", repo.recorded[0].Detail)
}

func TestActivityPoisonMessagesAreDropped(t *testing.T) {
	repo := &mockActivityRepository{}
	c := NewActivityConsumer(nil, nil, repo)

	assert.NoError(t, c.Handle(context.Background(), model.PinRemovedSubject, []byte("{not json")))
	assert.NoError(t, c.Handle(context.Background(), model.PinDiscoveredSubject, []byte(`{"id":""}`)))
	assert.NoError(t, c.Handle(context.Background(), "pins.unknown", []byte(`{}`)))
	assert.Empty(t, repo.recorded)
}

func TestActivityStoreFailureIsRetried(t *testing.T) {
	repo := &mockActivityRepository{
		recordFn: func(context.Context, *model.Activity) (bool, error) {
			return false, errors.New("db down")
		},
	}
	c := NewActivityConsumer(nil, nil, repo)

	data, _ := json.Marshal(model.PinRemovedEvent{ID: "e", PinID: "p", OwnerID: "o", Reason: model.RemovalManual})
	assert.Error(t, c.Handle(context.Background(), model.PinRemovedSubject, data))
}
