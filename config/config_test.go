package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 50.0, cfg.Discovery.RadiusMeters)
	assert.Equal(t, 7, cfg.Discovery.GeohashPrecision)
	assert.Equal(t, 2*time.Second, cfg.Discovery.StoreTimeout)
	assert.Equal(t, 60*time.Second, cfg.Lifecycle.Interval)
	assert.Equal(t, 3, cfg.Lifecycle.LikeThreshold)
	assert.Equal(t, 3, cfg.Lifecycle.ReportThreshold)
	assert.Equal(t, 24, cfg.Lifecycle.ExtensionHours)
	assert.Equal(t, 72*time.Hour, cfg.Pins.NormalTTL)
	assert.Zero(t, cfg.Pins.CommunityTTL)
	assert.True(t, cfg.Redis.Enabled)

	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsBadPrecision(t *testing.T) {
	cfg := Default()
	cfg.Discovery.GeohashPrecision = 13

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "geohash_precision")
}

func TestValidateRejectsRadiusWiderThanCell(t *testing.T) {
	cfg := Default()
	cfg.Discovery.GeohashPrecision = 8

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "radius_meters")

	cfg.Discovery.GeohashPrecision = 7
	cfg.Discovery.RadiusMeters = 200
	require.Error(t, cfg.Validate())

	cfg.Discovery.RadiusMeters = 150
	require.NoError(t, cfg.Validate())
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.Discovery.RadiusMeters = 0
	cfg.Lifecycle.LikeThreshold = 0
	cfg.Discovery.Timezone = "Nowhere/Atlantis"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "radius_meters")
	assert.Contains(t, err.Error(), "like_threshold")
	assert.Contains(t, err.Error(), "timezone")
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("DISCOVERY_RADIUS_METERS", "75")
	t.Setenv("GEOHASH_PRECISION", "6")
	t.Setenv("PG_HOST", "db.internal")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 75.0, cfg.Discovery.RadiusMeters)
	assert.Equal(t, 6, cfg.Discovery.GeohashPrecision)
	assert.Equal(t, "db.internal", cfg.Postgres.Host)
}
