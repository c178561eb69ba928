package postgres

import (
	"testing"
	"time"

	"github.com/sifan077/PinRadar/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnStringDefaults(t *testing.T) {
	got := ConnString(config.PostgresConfig{User: "pin", Database: "pinradar"})
	assert.Equal(t, "postgres://pin@localhost:5432/pinradar?sslmode=disable", got)
}

func TestConnStringEscapesPassword(t *testing.T) {
	got := ConnString(config.PostgresConfig{
		Host: "db", Port: 6543, User: "pin", Password: "p@ss/word", Database: "pinradar", SSLMode: "require",
	})
	assert.Equal(t, "postgres://pin:p%40ss%2Fword@db:6543/pinradar?sslmode=require", got)
}

func TestPoolConfigAppliesTuning(t *testing.T) {
	cfg, err := PoolConfig(config.PostgresConfig{
		User:              "pin",
		Database:          "pinradar",
		MaxConns:          12,
		MinConns:          2,
		MaxConnLifetime:   "30m",
		MaxConnIdleTime:   "bogus",
		HealthCheckPeriod: "15s",
	})
	require.NoError(t, err)
	assert.EqualValues(t, 12, cfg.MaxConns)
	assert.EqualValues(t, 2, cfg.MinConns)
	assert.Equal(t, 30*time.Minute, cfg.MaxConnLifetime)
	assert.Equal(t, 15*time.Second, cfg.HealthCheckPeriod)
	assert.NotZero(t, cfg.MaxConnIdleTime)
}

func TestModelsCoverEveryTable(t *testing.T) {
	assert.Len(t, Models(), 5)
}
