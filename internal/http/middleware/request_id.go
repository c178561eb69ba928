package middleware

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

const (
	RequestIDHeader = "X-Request-ID"

	localRequestID = "request_id"
	localUserID    = "user_id"
)

// RequestID echoes the caller's request id or mints one.
func RequestID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		rid := c.Get(RequestIDHeader)
		if rid == "" || len(rid) > 128 {
			rid = uuid.NewString()
		}
		c.Set(RequestIDHeader, rid)
		c.Locals(localRequestID, rid)
		return c.Next()
	}
}

// RequestIDFrom returns the id stored by RequestID, or "".
func RequestIDFrom(c *fiber.Ctx) string {
	rid, _ := c.Locals(localRequestID).(string)
	return rid
}
