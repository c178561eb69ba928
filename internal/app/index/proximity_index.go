// Package index keeps the Redis proximity index: one set of pin ids per
// geohash bucket. It is a cache of candidates, never a source of truth.
package index

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix = "geo:"
	// warmKey exists once a full rebuild has completed against this Redis.
	warmKey = "geo:_warm"
)

// addScript adds a member and raises the bucket TTL without ever lowering it.
var addScript = redis.NewScript(`
redis.call('SADD', KEYS[1], ARGV[1])
local ttl = redis.call('PTTL', KEYS[1])
if ttl < tonumber(ARGV[2]) then
	redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return ttl
`)

// ErrCold means the index has not been rebuilt since Redis lost its data,
// so an empty answer cannot be trusted.
var ErrCold = errors.New("proximity index is cold")

// ProximityIndex stores bucket membership in Redis sets.
type ProximityIndex struct {
	rdb redis.UniversalClient
}

// New wraps rdb.
func New(rdb redis.UniversalClient) *ProximityIndex {
	return &ProximityIndex{rdb: rdb}
}

// Key returns the Redis key of a bucket.
func Key(bucket string) string {
	return keyPrefix + bucket
}

// Add puts pinID in bucket and makes sure the bucket lives at least ttl.
// An existing longer TTL is kept, so one short-lived pin never shortens the
// life of a bucket shared with others.
func (i *ProximityIndex) Add(ctx context.Context, bucket, pinID string, ttl time.Duration) error {
	if ttl < time.Second {
		ttl = time.Second
	}
	key := Key(bucket)

	err := addScript.Run(ctx, i.rdb, []string{key}, pinID, ttl.Milliseconds()).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("index add %s: %w", bucket, err)
	}
	return nil
}

// Remove drops pinID from bucket. Removing an absent member is a no-op.
func (i *ProximityIndex) Remove(ctx context.Context, bucket, pinID string) error {
	if err := i.rdb.SRem(ctx, Key(bucket), pinID).Err(); err != nil {
		return fmt.Errorf("index remove %s: %w", bucket, err)
	}
	return nil
}

// Candidates returns the union of the given buckets' members. It fails with
// ErrCold when the index has not been warmed.
func (i *ProximityIndex) Candidates(ctx context.Context, buckets []string) ([]string, error) {
	keys := make([]string, len(buckets))
	for n, b := range buckets {
		keys[n] = Key(b)
	}

	var (
		warm  *redis.IntCmd
		union *redis.StringSliceCmd
	)
	_, err := i.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		warm = pipe.Exists(ctx, warmKey)
		union = pipe.SUnion(ctx, keys...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("index candidates: %w", err)
	}
	if warm.Val() == 0 {
		return nil, ErrCold
	}
	return union.Val(), nil
}

// MarkWarm records that every active pin has been indexed.
func (i *ProximityIndex) MarkWarm(ctx context.Context, at time.Time) error {
	if err := i.rdb.Set(ctx, warmKey, at.UTC().Format(time.RFC3339), 0).Err(); err != nil {
		return fmt.Errorf("index mark warm: %w", err)
	}
	return nil
}

// MarkCold forgets the warm marker, forcing direct queries until the next rebuild.
func (i *ProximityIndex) MarkCold(ctx context.Context) error {
	if err := i.rdb.Del(ctx, warmKey).Err(); err != nil {
		return fmt.Errorf("index mark cold: %w", err)
	}
	return nil
}
