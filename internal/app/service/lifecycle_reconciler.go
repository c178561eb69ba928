package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sifan077/PinRadar/internal/app/metrics"
	"github.com/sifan077/PinRadar/internal/app/model"
	"github.com/sifan077/PinRadar/internal/app/repository"
	"go.uber.org/zap"
)

// Reconciler pass names, used in logs, metrics and reports.
const (
	PassExtend  = "extend"
	PassReport  = "report"
	PassExpire  = "expire"
	PassReindex = "reindex"
)

// LifecycleOptions tunes the reconciler.
type LifecycleOptions struct {
	Interval        time.Duration
	LikeThreshold   int
	ReportThreshold int
	ExtensionHours  int
	// ReindexEvery rebuilds the proximity index every n ticks; 0 disables it.
	ReindexEvery int
	ReindexBatch int
	PassTimeout  time.Duration
}

// ReconcileReport summarises one tick.
type ReconcileReport struct {
	Extended  int
	Reported  int
	Expired   int
	Reindexed int
	// Failures maps a pass name to the error that stopped it.
	Failures map[string]error
}

// OK reports whether every pass of the tick succeeded.
func (r ReconcileReport) OK() bool {
	return len(r.Failures) == 0
}

// LifecycleReconciler periodically extends liked pins, removes reported
// ones and expires old ones. Ticks never overlap.
type LifecycleReconciler struct {
	repo      repository.LifecycleRepository
	index     *IndexWriter
	publisher EventPublisher
	opts      LifecycleOptions
	logger    *zap.Logger
	metrics   *metrics.Metrics
	now       func() time.Time

	tickMu sync.Mutex
	ticks  int

	mu      sync.Mutex
	running bool
	done    chan struct{}
	stopped chan struct{}
}

// NewLifecycleReconciler creates a reconciler. index and publisher may be nil.
func NewLifecycleReconciler(repo repository.LifecycleRepository, index *IndexWriter, publisher EventPublisher, opts LifecycleOptions, logger *zap.Logger, m *metrics.Metrics) *LifecycleReconciler {
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	if opts.LikeThreshold <= 0 {
		opts.LikeThreshold = 3
	}
	if opts.ReportThreshold <= 0 {
		opts.ReportThreshold = 3
	}
	if opts.ExtensionHours <= 0 {
		opts.ExtensionHours = 24
	}
	if opts.PassTimeout <= 0 {
		opts.PassTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LifecycleReconciler{
		repo:      repo,
		index:     index,
		publisher: publisher,
		opts:      opts,
		logger:    logger.Named("reconciler"),
		metrics:   metrics.OrDiscard(m),
		now:       time.Now,
	}
}

// Start warms the proximity index, runs a first tick at once and then ticks
// every interval until Stop is called or ctx ends.
func (r *LifecycleReconciler) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return errors.New("reconciler is already running")
	}
	r.running = true
	r.done = make(chan struct{})
	r.stopped = make(chan struct{})

	go r.run(ctx, r.done, r.stopped)
	return nil
}

// Stop ends the loop and waits for an in-flight tick to finish.
func (r *LifecycleReconciler) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	close(r.done)
	stopped := r.stopped
	r.mu.Unlock()

	<-stopped
}

func (r *LifecycleReconciler) run(ctx context.Context, done, stopped chan struct{}) {
	defer close(stopped)

	if r.index.Enabled() {
		r.reindex(ctx)
	}
	r.RunOnce(ctx)

	ticker := time.NewTicker(r.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reconciler stopped", zap.Error(ctx.Err()))
			return
		case <-done:
			r.logger.Info("reconciler stopped")
			return
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce performs one tick: extension, report deletion, expiry and a
// reindex every ReindexEvery ticks or after the index writer lost a write.
// Each pass is its own failure domain.
func (r *LifecycleReconciler) RunOnce(ctx context.Context) ReconcileReport {
	r.tickMu.Lock()
	defer r.tickMu.Unlock()

	report := ReconcileReport{Failures: map[string]error{}}
	now := r.now()

	r.pass(ctx, &report, PassExtend, func(ctx context.Context) (int, error) {
		refs, err := r.repo.ExtendLikedPins(ctx, r.opts.LikeThreshold, r.opts.ExtensionHours, now)
		if err != nil {
			return 0, err
		}
		for _, ref := range refs {
			r.index.IndexPin(ctx, ref)
		}
		report.Extended = len(refs)
		return len(refs), nil
	})

	r.pass(ctx, &report, PassReport, func(ctx context.Context) (int, error) {
		refs, err := r.repo.DeleteReportedPins(ctx, r.opts.ReportThreshold, now)
		if err != nil {
			return 0, err
		}
		r.evict(ctx, refs, model.RemovalReported, now)
		report.Reported = len(refs)
		return len(refs), nil
	})

	r.pass(ctx, &report, PassExpire, func(ctx context.Context) (int, error) {
		refs, err := r.repo.ExpirePins(ctx, now)
		if err != nil {
			return 0, err
		}
		r.evict(ctx, refs, model.RemovalExpired, now)
		report.Expired = len(refs)
		return len(refs), nil
	})

	r.ticks++
	scheduled := r.opts.ReindexEvery > 0 && r.ticks%r.opts.ReindexEvery == 0
	if r.index.Enabled() && (scheduled || r.index.NeedsRebuild()) {
		r.pass(ctx, &report, PassReindex, func(ctx context.Context) (int, error) {
			n, err := r.index.Rebuild(ctx, r.opts.ReindexBatch)
			report.Reindexed = n
			return n, err
		})
	}

	if report.Extended+report.Reported+report.Expired > 0 {
		r.logger.Info("reconciled pins",
			zap.Int("extended", report.Extended),
			zap.Int("reported", report.Reported),
			zap.Int("expired", report.Expired))
	}
	return report
}

func (r *LifecycleReconciler) pass(ctx context.Context, report *ReconcileReport, name string, fn func(context.Context) (int, error)) {
	started := time.Now()
	pctx, cancel := context.WithTimeout(ctx, r.opts.PassTimeout)
	defer cancel()

	n, err := fn(pctx)
	r.metrics.ObservePass(name, started, n, err)
	if err != nil {
		report.Failures[name] = fmt.Errorf("%s pass: %w", name, err)
		r.logger.Error("reconciler pass failed", zap.String("pass", name), zap.Error(err))
	}
}

// evict drops removed pins from the index and announces each removal.
func (r *LifecycleReconciler) evict(ctx context.Context, refs []model.PinRef, reason model.RemovalReason, now time.Time) {
	for _, ref := range refs {
		r.index.RemovePin(ctx, ref)
		announceRemoval(ctx, r.publisher, r.logger, ref, reason, now)
	}
}

func (r *LifecycleReconciler) reindex(ctx context.Context) {
	r.tickMu.Lock()
	defer r.tickMu.Unlock()

	pctx, cancel := context.WithTimeout(ctx, r.opts.PassTimeout)
	defer cancel()

	started := time.Now()
	n, err := r.index.Rebuild(pctx, r.opts.ReindexBatch)
	r.metrics.ObservePass(PassReindex, started, n, err)
	if err != nil {
		r.logger.Warn("index warm-up failed, discovery stays on the store", zap.Error(err))
		return
	}
	r.logger.Info("proximity index warmed", zap.Int("pins", n))
}
