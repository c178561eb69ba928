package server

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sifan077/PinRadar/internal/app/service"
	"github.com/sifan077/PinRadar/internal/http/middleware"
	httpUtil "github.com/sifan077/PinRadar/internal/http/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubDiscovery struct{}

func (stubDiscovery) ProcessHeartbeat(context.Context, string, float64, float64) (*service.DiscoveryResult, error) {
	return &service.DiscoveryResult{Pins: []service.DiscoveredPin{}}, nil
}

func TestServerWiring(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	signer := httpUtil.NewTokenSigner([]byte("secret"), time.Hour)
	srv := New(Dependencies{
		Discovery:          stubDiscovery{},
		Tokens:             signer,
		Redis:              client,
		HeartbeatRateLimit: 1,
		Required:           nil,
	})
	app := srv.App()

	resp, err := app.Test(httptest.NewRequest("GET", "/health", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(middleware.RequestIDHeader))

	token, err := signer.Issue("walker")
	require.NoError(t, err)

	beat := func() int {
		req := httptest.NewRequest("POST", "/api/discovery/heartbeat", strings.NewReader(`{"lat":1,"lon":1}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)
		resp, err := app.Test(req)
		require.NoError(t, err)
		return resp.StatusCode
	}
	assert.Equal(t, fiber.StatusOK, beat())
	assert.Equal(t, fiber.StatusTooManyRequests, beat())

	req := httptest.NewRequest("POST", "/api/discovery/heartbeat", strings.NewReader(`{"lat":1,"lon":1}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}
