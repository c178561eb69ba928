package middleware

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	httpUtil "github.com/sifan077/PinRadar/internal/http/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func whoAmI(c *fiber.Ctx) error {
	return c.SendString(UserID(c))
}

func body(t *testing.T, r io.Reader) string {
	t.Helper()
	b, err := io.ReadAll(r)
	require.NoError(t, err)
	return string(b)
}

func TestAuthWithBearerToken(t *testing.T) {
	signer := httpUtil.NewTokenSigner([]byte("secret"), time.Hour)
	app := fiber.New()
	app.Get("/me", Auth(signer), whoAmI)

	token, err := signer.Issue("walker")
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "walker", body(t, resp.Body))

	// The development header is ignored once a secret is set.
	req = httptest.NewRequest("GET", "/me", nil)
	req.Header.Set(UserIDHeader, "walker")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	req = httptest.NewRequest("GET", "/me", nil)
	req.Header.Set("Authorization", "Bearer garbage.token")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestAuthTrustsHeaderWithoutSecret(t *testing.T) {
	app := fiber.New()
	app.Get("/me", Auth(httpUtil.NewTokenSigner(nil, time.Hour)), whoAmI)

	req := httptest.NewRequest("GET", "/me", nil)
	req.Header.Set(UserIDHeader, "walker")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "walker", body(t, resp.Body))

	resp, err = app.Test(httptest.NewRequest("GET", "/me", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestRateLimitPerUser(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	cfg := DefaultRateLimitConfig()
	cfg.MaxRequests = 2
	cfg.Window = time.Hour

	app := fiber.New()
	app.Post("/beat", Auth(httpUtil.NewTokenSigner(nil, 0)), RateLimit(client, cfg, nil), whoAmI)

	send := func(user string) int {
		req := httptest.NewRequest("POST", "/beat", nil)
		req.Header.Set(UserIDHeader, user)
		resp, err := app.Test(req)
		require.NoError(t, err)
		return resp.StatusCode
	}

	assert.Equal(t, fiber.StatusOK, send("walker"))
	assert.Equal(t, fiber.StatusOK, send("walker"))
	assert.Equal(t, fiber.StatusTooManyRequests, send("walker"))
	assert.Equal(t, fiber.StatusOK, send("runner"))
}

func TestRateLimitFailsOpen(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	mr.Close()

	cfg := DefaultRateLimitConfig()
	cfg.MaxRequests = 1

	app := fiber.New()
	app.Get("/", RateLimit(client, cfg, nil), whoAmI)

	for i := 0; i < 3; i++ {
		resp, err := app.Test(httptest.NewRequest("GET", "/", nil))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	}
}

func TestRequestIDAndRecovery(t *testing.T) {
	app := fiber.New()
	app.Use(RequestID(), Recovery(nil))
	app.Get("/boom", func(*fiber.Ctx) error { panic("kaboom") })

	req := httptest.NewRequest("GET", "/boom", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "abc-123", resp.Header.Get(RequestIDHeader))

	resp, err = app.Test(httptest.NewRequest("GET", "/boom", nil))
	require.NoError(t, err)
	assert.Len(t, resp.Header.Get(RequestIDHeader), 36)
}

func TestCORSPreflight(t *testing.T) {
	app := fiber.New()
	app.Use(CORS())
	app.Get("/", whoAmI)

	resp, err := app.Test(httptest.NewRequest("OPTIONS", "/", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}
