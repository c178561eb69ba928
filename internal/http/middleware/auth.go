package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	httpUtil "github.com/sifan077/PinRadar/internal/http/util"
)

// UserIDHeader carries the caller's id when no auth secret is configured.
const UserIDHeader = "X-User-ID"

// Auth resolves the calling user. With a configured signer it requires a
// bearer token; without one it trusts X-User-ID, which is only suitable for
// development.
func Auth(tokens *httpUtil.TokenSigner) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var userID string

		if tokens.Enabled() {
			raw, ok := strings.CutPrefix(c.Get(fiber.HeaderAuthorization), "Bearer ")
			if !ok || raw == "" {
				return unauthorized(c, "missing bearer token")
			}
			id, err := tokens.Verify(strings.TrimSpace(raw))
			if err != nil {
				return unauthorized(c, err.Error())
			}
			userID = id
		} else {
			userID = strings.TrimSpace(c.Get(UserIDHeader))
			if userID == "" || len(userID) > 64 {
				return unauthorized(c, "missing "+UserIDHeader+" header")
			}
		}

		c.Locals(localUserID, userID)
		return c.Next()
	}
}

// UserID returns the id stored by Auth, or "".
func UserID(c *fiber.Ctx) string {
	id, _ := c.Locals(localUserID).(string)
	return id
}

func unauthorized(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
		"error": msg,
	})
}
