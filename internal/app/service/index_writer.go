package service

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sifan077/PinRadar/internal/app/metrics"
	"github.com/sifan077/PinRadar/internal/app/model"
	"github.com/sifan077/PinRadar/internal/geo"
	"go.uber.org/zap"
)

// BucketIndex is the proximity cache as seen by the writer and the cached
// candidate source. *index.ProximityIndex implements it.
type BucketIndex interface {
	Add(ctx context.Context, bucket, pinID string, ttl time.Duration) error
	Remove(ctx context.Context, bucket, pinID string) error
	Candidates(ctx context.Context, buckets []string) ([]string, error)
	MarkWarm(ctx context.Context, at time.Time) error
	MarkCold(ctx context.Context) error
}

// ActivePinLister pages through active pins for rebuilds.
type ActivePinLister interface {
	ListActiveRefs(ctx context.Context, afterID string, now time.Time, limit int) ([]model.PinRef, error)
}

// IndexWriterOptions configures an IndexWriter.
type IndexWriterOptions struct {
	Precision int
	// TTLCeiling bounds bucket lifetimes and is used for pins without expiry.
	TTLCeiling time.Duration
	// Timeout bounds every single cache call.
	Timeout time.Duration
}

// IndexWriter keeps the proximity index in step with the pin store. Index
// failures are logged and counted, never returned to the pin write path.
type IndexWriter struct {
	index   BucketIndex
	pins    ActivePinLister
	opts    IndexWriterOptions
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	// dirty is set when a write was lost and cleared by a complete rebuild.
	dirty atomic.Bool
}

// NewIndexWriter creates a writer. A nil index turns every write into a no-op.
func NewIndexWriter(idx BucketIndex, pins ActivePinLister, opts IndexWriterOptions, logger *zap.Logger, m *metrics.Metrics) *IndexWriter {
	if opts.Precision == 0 {
		opts.Precision = geo.DefaultPrecision
	}
	if opts.TTLCeiling <= 0 {
		opts.TTLCeiling = 7 * 24 * time.Hour
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 150 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IndexWriter{
		index:   idx,
		pins:    pins,
		opts:    opts,
		logger:  logger.Named("index_writer"),
		metrics: metrics.OrDiscard(m),
		now:     time.Now,
	}
}

// Enabled reports whether a cache is attached.
func (w *IndexWriter) Enabled() bool {
	return w != nil && w.index != nil
}

// TTLFor is how long the pin's bucket must live: the pin's remaining
// lifetime, capped at the ceiling.
func (w *IndexWriter) TTLFor(ref model.PinRef, now time.Time) time.Duration {
	if ref.ExpiresAt == nil {
		return w.opts.TTLCeiling
	}
	ttl := ref.ExpiresAt.Sub(now)
	if ttl > w.opts.TTLCeiling {
		return w.opts.TTLCeiling
	}
	if ttl < time.Second {
		return time.Second
	}
	return ttl
}

// IndexPin adds the pin to its bucket. Calling it again refreshes the TTL.
func (w *IndexWriter) IndexPin(ctx context.Context, ref model.PinRef) {
	if w == nil || w.index == nil {
		return
	}
	if err := w.add(ctx, ref, w.now()); err != nil {
		w.logger.Warn("index pin failed", zap.String("pin_id", ref.ID), zap.Error(err))
		w.invalidate(ctx)
	}
}

// NeedsRebuild reports whether an index write was lost since the last
// complete rebuild.
func (w *IndexWriter) NeedsRebuild() bool {
	return w.Enabled() && w.dirty.Load()
}

// invalidate stops the cache path from answering without a pin it failed to
// add: the warm marker is dropped and the next tick rebuilds.
func (w *IndexWriter) invalidate(ctx context.Context) {
	w.dirty.Store(true)

	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.opts.Timeout)
	defer cancel()
	if err := w.index.MarkCold(cctx); err != nil {
		w.logger.Warn("mark index cold failed", zap.Error(err))
	}
}

// RemovePin drops the pin from its bucket; unknown pins are a no-op.
func (w *IndexWriter) RemovePin(ctx context.Context, ref model.PinRef) {
	if w == nil || w.index == nil {
		return
	}

	bucket, err := geo.Encode(ref.Latitude, ref.Longitude, w.opts.Precision)
	if err != nil {
		w.logger.Warn("remove pin: bad location", zap.String("pin_id", ref.ID), zap.Error(err))
		return
	}

	cctx, cancel := context.WithTimeout(ctx, w.opts.Timeout)
	defer cancel()

	err = w.index.Remove(cctx, bucket, ref.ID)
	w.metrics.IndexWrite("remove", err)
	if err != nil {
		w.logger.Warn("remove pin from index failed",
			zap.String("pin_id", ref.ID),
			zap.String("geohash", bucket),
			zap.Error(err))
	}
}

// Rebuild re-adds every active pin in pages of batch and then marks the
// index warm. It stops at the first cache failure so a partial rebuild is
// never marked warm.
func (w *IndexWriter) Rebuild(ctx context.Context, batch int) (int, error) {
	if w == nil || w.index == nil {
		return 0, nil
	}
	if w.pins == nil {
		return 0, fmt.Errorf("rebuild: no pin lister")
	}
	if batch <= 0 {
		batch = 500
	}

	// Writes lost while the rebuild runs set the flag again.
	w.dirty.Store(false)
	indexed, err := w.rebuild(ctx, batch)
	if err != nil {
		w.dirty.Store(true)
	}
	return indexed, err
}

func (w *IndexWriter) rebuild(ctx context.Context, batch int) (int, error) {
	now := w.now()
	indexed := 0
	after := ""
	for {
		refs, err := w.pins.ListActiveRefs(ctx, after, now, batch)
		if err != nil {
			return indexed, storeError("rebuild index", err)
		}
		for _, ref := range refs {
			if err := w.add(ctx, ref, now); err != nil {
				return indexed, fmt.Errorf("rebuild index: %w", err)
			}
			indexed++
		}
		if len(refs) < batch {
			break
		}
		after = refs[len(refs)-1].ID
	}

	cctx, cancel := context.WithTimeout(ctx, w.opts.Timeout)
	defer cancel()
	if err := w.index.MarkWarm(cctx, now); err != nil {
		return indexed, fmt.Errorf("rebuild index: %w", err)
	}
	return indexed, nil
}

func (w *IndexWriter) add(ctx context.Context, ref model.PinRef, now time.Time) error {
	bucket, err := geo.Encode(ref.Latitude, ref.Longitude, w.opts.Precision)
	if err != nil {
		return err
	}

	cctx, cancel := context.WithTimeout(ctx, w.opts.Timeout)
	defer cancel()

	err = w.index.Add(cctx, bucket, ref.ID, w.TTLFor(ref, now))
	w.metrics.IndexWrite("add", err)
	return err
}
