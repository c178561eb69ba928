package index

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newIndex(t *testing.T) (*ProximityIndex, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb), s
}

func TestAddIsIdempotent(t *testing.T) {
	idx, s := newIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Add(ctx, "xn76cyd", "pin-1", time.Hour))
	require.NoError(t, idx.Add(ctx, "xn76cyd", "pin-1", time.Hour))

	members, err := s.Members(Key("xn76cyd"))
	require.NoError(t, err)
	assert.Equal(t, []string{"pin-1"}, members)
}

func TestAddNeverShortensBucketTTL(t *testing.T) {
	idx, s := newIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Add(ctx, "xn76cyd", "long", 10*time.Hour))
	require.NoError(t, idx.Add(ctx, "xn76cyd", "short", time.Hour))
	assert.Equal(t, 10*time.Hour, s.TTL(Key("xn76cyd")))

	require.NoError(t, idx.Add(ctx, "xn76cyd", "longer", 20*time.Hour))
	assert.Equal(t, 20*time.Hour, s.TTL(Key("xn76cyd")))
}

func TestBucketExpires(t *testing.T) {
	idx, s := newIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Add(ctx, "xn76cyd", "pin-1", time.Minute))
	s.FastForward(2 * time.Minute)
	assert.False(t, s.Exists(Key("xn76cyd")))
}

func TestRemoveMissingMemberIsNoop(t *testing.T) {
	idx, _ := newIndex(t)
	require.NoError(t, idx.Remove(context.Background(), "xn76cyd", "never-indexed"))
}

func TestCandidatesRequireWarmIndex(t *testing.T) {
	idx, _ := newIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Add(ctx, "a", "pin-1", time.Hour))

	_, err := idx.Candidates(ctx, []string{"a", "b"})
	assert.ErrorIs(t, err, ErrCold)

	require.NoError(t, idx.MarkWarm(ctx, time.Now()))
	require.NoError(t, idx.Add(ctx, "b", "pin-2", time.Hour))
	require.NoError(t, idx.Add(ctx, "c", "pin-3", time.Hour))

	ids, err := idx.Candidates(ctx, []string{"a", "b", "empty"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"pin-1", "pin-2"}, ids)

	require.NoError(t, idx.MarkCold(ctx))
	_, err = idx.Candidates(ctx, []string{"a"})
	assert.ErrorIs(t, err, ErrCold)
}

func TestCandidatesFailWhenRedisDown(t *testing.T) {
	idx, s := newIndex(t)
	s.Close()

	_, err := idx.Candidates(context.Background(), []string{"a"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrCold)
}
