package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sifan077/PinRadar/internal/geo"
	"github.com/spf13/viper"
)

type Config struct {
	Server ServerConfig `mapstructure:"server"`
	Log    LogConfig    `mapstructure:"log"`
	Auth   AuthConfig   `mapstructure:"auth"`

	// PostgreSQL
	Postgres PostgresConfig `mapstructure:"postgres"`

	// Redis
	Redis RedisConfig `mapstructure:"redis"`

	// NATS
	NATS NATSConfig `mapstructure:"nats"`

	// Prometheus
	Prometheus PrometheusConfig `mapstructure:"prometheus"`

	Discovery DiscoveryConfig `mapstructure:"discovery"`
	Lifecycle LifecycleConfig `mapstructure:"lifecycle"`
	Pins      PinsConfig      `mapstructure:"pins"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// HeartbeatRateLimit is the number of heartbeats a single user may send per minute.
	HeartbeatRateLimit int `mapstructure:"heartbeat_rate_limit"`
}

type LogConfig struct {
	Level    string `mapstructure:"level"`
	Encoding string `mapstructure:"encoding"`
}

type AuthConfig struct {
	// Secret signs user tokens. When empty the X-User-ID header is trusted.
	Secret   string        `mapstructure:"secret"`
	TokenTTL time.Duration `mapstructure:"token_ttl"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	Port     int    `mapstructure:"port"`
	SSLMode  string `mapstructure:"sslmode"`

	MaxConns          int32  `mapstructure:"max_conns"`
	MinConns          int32  `mapstructure:"min_conns"`
	MaxConnLifetime   string `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime   string `mapstructure:"max_conn_idle_time"`
	HealthCheckPeriod string `mapstructure:"health_check_period"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type NATSConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	User        string `mapstructure:"user"`
	Password    string `mapstructure:"password"`
	MonitorPort int    `mapstructure:"monitor_port"`
}

type PrometheusConfig struct {
	Port int `mapstructure:"port"`
}

// DiscoveryConfig tunes the heartbeat path.
type DiscoveryConfig struct {
	RadiusMeters      float64       `mapstructure:"radius_meters"`
	GeohashPrecision  int           `mapstructure:"geohash_precision"`
	FallbackLimit     int           `mapstructure:"fallback_limit"`
	StoreTimeout      time.Duration `mapstructure:"store_timeout"`
	CacheTimeout      time.Duration `mapstructure:"cache_timeout"`
	Timezone          string        `mapstructure:"timezone"`
	DeprioritizeRatio float64       `mapstructure:"deprioritize_ratio"`
}

// LifecycleConfig tunes the reconciler.
type LifecycleConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	LikeThreshold   int           `mapstructure:"like_threshold"`
	ReportThreshold int           `mapstructure:"report_threshold"`
	ExtensionHours  int           `mapstructure:"extension_hours"`
	ReindexEvery    int           `mapstructure:"reindex_every"`
	ReindexBatch    int           `mapstructure:"reindex_batch"`
	PassTimeout     time.Duration `mapstructure:"pass_timeout"`
}

// PinsConfig holds per-category default lifetimes. A zero TTL means the
// category does not expire by time.
type PinsConfig struct {
	NormalTTL       time.Duration `mapstructure:"normal_ttl"`
	CommunityTTL    time.Duration `mapstructure:"community_ttl"`
	PaidTTL         time.Duration `mapstructure:"paid_ttl"`
	IndexTTLCeiling time.Duration `mapstructure:"index_ttl_ceiling"`
}

func Load() (*Config, error) {
	// Load local .env for development (ignored when missing).
	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	v := viper.New()

	// Search for config/config.yaml (plus root for overrides).
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// Allow environment variables to override YAML entries.
	v.SetEnvPrefix("")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Preserve legacy env variable names.
	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Default returns the configuration used when no file or environment
// overrides are present.
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.heartbeat_rate_limit", 120)

	v.SetDefault("log.level", "info")
	v.SetDefault("auth.token_ttl", 24*time.Hour)

	v.SetDefault("redis.enabled", true)
	v.SetDefault("nats.enabled", true)
	v.SetDefault("prometheus.port", 9090)

	v.SetDefault("discovery.radius_meters", 50.0)
	v.SetDefault("discovery.geohash_precision", 7)
	v.SetDefault("discovery.fallback_limit", 200)
	v.SetDefault("discovery.store_timeout", 2*time.Second)
	v.SetDefault("discovery.cache_timeout", 150*time.Millisecond)
	v.SetDefault("discovery.timezone", "UTC")
	v.SetDefault("discovery.deprioritize_ratio", 0.5)

	v.SetDefault("lifecycle.interval", 60*time.Second)
	v.SetDefault("lifecycle.like_threshold", 3)
	v.SetDefault("lifecycle.report_threshold", 3)
	v.SetDefault("lifecycle.extension_hours", 24)
	v.SetDefault("lifecycle.reindex_every", 60)
	v.SetDefault("lifecycle.reindex_batch", 500)
	v.SetDefault("lifecycle.pass_timeout", 30*time.Second)

	v.SetDefault("pins.normal_ttl", 72*time.Hour)
	v.SetDefault("pins.community_ttl", time.Duration(0))
	v.SetDefault("pins.paid_ttl", 168*time.Hour)
	v.SetDefault("pins.index_ttl_ceiling", 168*time.Hour)
}

// Validate rejects settings the discovery and lifecycle engines cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if c.Discovery.RadiusMeters <= 0 {
		errs = append(errs, errors.New("discovery.radius_meters must be positive"))
	}
	if c.Discovery.GeohashPrecision < geo.MinPrecision || c.Discovery.GeohashPrecision > geo.MaxPrecision {
		errs = append(errs, fmt.Errorf("discovery.geohash_precision must be between 1 and 12, got %d", c.Discovery.GeohashPrecision))
	} else if maxRadius := geo.MaxRadius(c.Discovery.GeohashPrecision); c.Discovery.RadiusMeters > maxRadius {
		errs = append(errs, fmt.Errorf("discovery.radius_meters %.0f exceeds the %.0fm cell side at geohash_precision %d",
			c.Discovery.RadiusMeters, maxRadius, c.Discovery.GeohashPrecision))
	}
	if c.Discovery.FallbackLimit <= 0 {
		errs = append(errs, errors.New("discovery.fallback_limit must be positive"))
	}
	if _, err := time.LoadLocation(c.Discovery.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("discovery.timezone: %w", err))
	}
	if c.Lifecycle.Interval <= 0 {
		errs = append(errs, errors.New("lifecycle.interval must be positive"))
	}
	if c.Lifecycle.LikeThreshold <= 0 {
		errs = append(errs, errors.New("lifecycle.like_threshold must be positive"))
	}
	if c.Lifecycle.ReportThreshold <= 0 {
		errs = append(errs, errors.New("lifecycle.report_threshold must be positive"))
	}
	if c.Lifecycle.ExtensionHours <= 0 {
		errs = append(errs, errors.New("lifecycle.extension_hours must be positive"))
	}
	if c.Pins.NormalTTL <= 0 {
		errs = append(errs, errors.New("pins.normal_ttl must be positive"))
	}
	if c.Pins.CommunityTTL < 0 || c.Pins.PaidTTL < 0 {
		errs = append(errs, errors.New("pins ttl values must not be negative"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

func bindEnvVars(v *viper.Viper) {
	v.BindEnv("server.addr", "HTTP_ADDR")
	v.BindEnv("log.level", "LOG_LEVEL")
	v.BindEnv("log.encoding", "LOG_ENCODING")
	v.BindEnv("auth.secret", "AUTH_SECRET")

	// PostgreSQL
	v.BindEnv("postgres.host", "PG_HOST")
	v.BindEnv("postgres.user", "PG_USER")
	v.BindEnv("postgres.password", "PG_PASSWORD")
	v.BindEnv("postgres.database", "PG_DB")
	v.BindEnv("postgres.port", "PG_PORT")
	v.BindEnv("postgres.sslmode", "PG_SSLMODE")

	// Redis
	v.BindEnv("redis.enabled", "REDIS_ENABLED")
	v.BindEnv("redis.host", "REDIS_HOST")
	v.BindEnv("redis.port", "REDIS_PORT")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("redis.db", "REDIS_DB")

	// NATS
	v.BindEnv("nats.enabled", "NATS_ENABLED")
	v.BindEnv("nats.host", "NATS_HOST")
	v.BindEnv("nats.port", "NATS_PORT")
	v.BindEnv("nats.user", "NATS_USER")
	v.BindEnv("nats.password", "NATS_PASSWORD")
	v.BindEnv("nats.monitor_port", "NATS_MONITOR_PORT")

	// Prometheus
	v.BindEnv("prometheus.port", "PROM_PORT")

	// Discovery / lifecycle knobs kept from the first deployment.
	v.BindEnv("discovery.radius_meters", "DISCOVERY_RADIUS_METERS")
	v.BindEnv("discovery.geohash_precision", "GEOHASH_PRECISION")
	v.BindEnv("pins.normal_ttl", "DEFAULT_PIN_TTL")
}
