package middleware

import (
	"fmt"
	"runtime/debug"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// Recovery turns a handler panic into a 500 and logs the stack.
func Recovery(logger *zap.Logger) fiber.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *fiber.Ctx) (err error) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			logger.Error("panic recovered",
				zap.Error(fmt.Errorf("panic: %v", r)),
				zap.ByteString("stack", debug.Stack()),
				zap.String("method", c.Method()),
				zap.String("path", c.Path()),
				zap.String("request_id", RequestIDFrom(c)))

			err = c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "internal server error",
			})
		}()

		return c.Next()
	}
}
