package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/sifan077/PinRadar/config"
	"github.com/sifan077/PinRadar/internal/app/index"
	"github.com/sifan077/PinRadar/internal/app/metrics"
	"github.com/sifan077/PinRadar/internal/app/repository"
	"github.com/sifan077/PinRadar/internal/app/service"
	inthttp "github.com/sifan077/PinRadar/internal/http/handler"
	"github.com/sifan077/PinRadar/internal/infra/logger"
	natsclient "github.com/sifan077/PinRadar/internal/infra/nats"
	infraPostgres "github.com/sifan077/PinRadar/internal/infra/postgres"
	infraRedis "github.com/sifan077/PinRadar/internal/infra/redis"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// runtime holds the connections and components shared by every command.
type runtime struct {
	cfg     *config.Config
	isDev   bool
	log     *zap.Logger
	metrics *metrics.Metrics

	gorm  *gorm.DB
	pool  *pgxpool.Pool
	redis *redis.Client
	nats  *nats.Conn
	js    nats.JetStreamContext

	pins         repository.PinRepository
	interactions repository.InteractionRepository
	lifecycle    repository.LifecycleRepository
	discoveries  repository.DiscoveryRepository
	activities   repository.ActivityRepository
	bucketIndex  service.BucketIndex
	writer       *service.IndexWriter
	publisher    service.EventPublisher

	closers []func()
}

type bootstrapOptions struct {
	redis bool
	nats  bool
}

// bootstrap loads configuration and opens connections. Postgres is required;
// Redis and NATS degrade to the direct query path and log-only events.
func bootstrap(ctx context.Context, opts bootstrapOptions) (*runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	isDev := os.Getenv("APP_ENV") != "production"
	log, err := logger.Init(logger.FromConfig(cfg.Log, isDev))
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	rt := &runtime{cfg: cfg, isDev: isDev, log: log, metrics: metrics.Default()}
	rt.closers = append(rt.closers, func() { _ = logger.Sync() })

	log.Info("configuration loaded",
		zap.String("postgres_host", cfg.Postgres.Host),
		zap.Int("postgres_port", cfg.Postgres.Port),
		zap.String("postgres_db", cfg.Postgres.Database),
		zap.Bool("redis_enabled", cfg.Redis.Enabled && opts.redis),
		zap.Bool("nats_enabled", cfg.NATS.Enabled && opts.nats),
		zap.Float64("radius_meters", cfg.Discovery.RadiusMeters),
		zap.Int("geohash_precision", cfg.Discovery.GeohashPrecision))

	if err := rt.openPostgres(ctx); err != nil {
		rt.Close()
		return nil, err
	}
	if opts.redis && cfg.Redis.Enabled {
		rt.openRedis(ctx)
	}
	if opts.nats && cfg.NATS.Enabled {
		rt.openNATS()
	}

	rt.wire()
	return rt, nil
}

func (rt *runtime) openPostgres(ctx context.Context) error {
	gdb, err := infraPostgres.NewGorm(rt.cfg.Postgres)
	if err != nil {
		return fmt.Errorf("open gorm: %w", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return fmt.Errorf("access sql db: %w", err)
	}
	rt.gorm = gdb
	rt.closers = append(rt.closers, func() { _ = sqlDB.Close() })

	pool, err := infraPostgres.NewPool(ctx, rt.cfg.Postgres)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	rt.pool = pool
	rt.closers = append(rt.closers, pool.Close)

	rt.log.Info("connected to postgres")
	return nil
}

func (rt *runtime) openRedis(ctx context.Context) {
	client, err := infraRedis.NewClient(ctx, rt.cfg.Redis)
	if err != nil {
		rt.log.Warn("redis unavailable, proximity index and rate limit disabled", zap.Error(err))
		return
	}
	rt.redis = client
	rt.closers = append(rt.closers, func() { _ = client.Close() })
	rt.log.Info("connected to redis")
}

func (rt *runtime) openNATS() {
	conn, js, err := natsclient.Connect(rt.cfg.NATS)
	if err != nil {
		rt.log.Warn("nats unavailable, pin events are logged only", zap.Error(err))
		return
	}
	if err := natsclient.EnsureStream(js); err != nil {
		rt.log.Warn("jetstream stream setup failed, pin events are logged only", zap.Error(err))
		conn.Close()
		return
	}
	rt.nats, rt.js = conn, js
	rt.closers = append(rt.closers, func() { _ = conn.Drain() })
	rt.log.Info("connected to nats", zap.String("stream", "PINS"))
}

func (rt *runtime) wire() {
	rt.pins = repository.NewPinRepository(rt.gorm)
	rt.interactions = repository.NewInteractionRepository(rt.gorm)
	rt.lifecycle = repository.NewLifecycleRepository(rt.pool)
	rt.discoveries = repository.NewDiscoveryRepository(rt.pool)
	rt.activities = repository.NewActivityRepository(rt.gorm)

	if rt.redis != nil {
		rt.bucketIndex = index.New(rt.redis)
	}
	rt.writer = service.NewIndexWriter(rt.bucketIndex, rt.lifecycle, service.IndexWriterOptions{
		Precision:  rt.cfg.Discovery.GeohashPrecision,
		TTLCeiling: rt.cfg.Pins.IndexTTLCeiling,
		Timeout:    rt.cfg.Discovery.CacheTimeout,
	}, rt.log, rt.metrics)

	if rt.js != nil {
		rt.publisher = service.NewJetStreamPublisher(rt.js, rt.metrics)
	} else {
		rt.publisher = service.NewLogPublisher(rt.log)
	}
}

func (rt *runtime) reconciler() *service.LifecycleReconciler {
	lc := rt.cfg.Lifecycle
	return service.NewLifecycleReconciler(rt.lifecycle, rt.writer, rt.publisher, service.LifecycleOptions{
		Interval:        lc.Interval,
		LikeThreshold:   lc.LikeThreshold,
		ReportThreshold: lc.ReportThreshold,
		ExtensionHours:  lc.ExtensionHours,
		ReindexEvery:    lc.ReindexEvery,
		ReindexBatch:    lc.ReindexBatch,
		PassTimeout:     lc.PassTimeout,
	}, rt.log, rt.metrics)
}

func (rt *runtime) discovery() (*service.DiscoveryService, error) {
	dc := rt.cfg.Discovery
	loc, err := time.LoadLocation(dc.Timezone)
	if err != nil {
		return nil, fmt.Errorf("discovery timezone: %w", err)
	}

	var source service.CandidateSource = service.NewDirectQueryCandidateSource(rt.pins, dc.RadiusMeters, dc.FallbackLimit, rt.metrics)
	if rt.bucketIndex != nil {
		source = service.NewCachedCandidateSource(rt.bucketIndex, rt.pins, source, dc.RadiusMeters, dc.CacheTimeout, rt.log, rt.metrics)
	}

	return service.NewDiscoveryService(source, rt.pins, rt.discoveries, rt.publisher, service.DiscoveryOptions{
		RadiusMeters:      dc.RadiusMeters,
		Precision:         dc.GeohashPrecision,
		StoreTimeout:      dc.StoreTimeout,
		Location:          loc,
		DeprioritizeRatio: dc.DeprioritizeRatio,
	}, rt.log, rt.metrics), nil
}

func (rt *runtime) pinService() service.PinService {
	pc := rt.cfg.Pins
	return service.NewPinService(rt.pins, rt.writer, rt.publisher, service.Lifetimes{
		Normal:    pc.NormalTTL,
		Community: pc.CommunityTTL,
		Paid:      pc.PaidTTL,
	}, rt.cfg.Discovery.GeohashPrecision, rt.log)
}

// redisClient returns the Redis client as an interface, or a true nil.
func (rt *runtime) redisClient() redis.UniversalClient {
	if rt.redis == nil {
		return nil
	}
	return rt.redis
}

func (rt *runtime) optionalChecks() map[string]inthttp.HealthCheck {
	checks := map[string]inthttp.HealthCheck{}
	if rt.redis != nil {
		checks["redis"] = func(ctx context.Context) error { return rt.redis.Ping(ctx).Err() }
	}
	if rt.nats != nil {
		checks["nats"] = func(context.Context) error {
			if !rt.nats.IsConnected() {
				return fmt.Errorf("nats status %s", rt.nats.Status())
			}
			return nil
		}
	}
	return checks
}

// Close releases connections in reverse order of opening.
func (rt *runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
}
