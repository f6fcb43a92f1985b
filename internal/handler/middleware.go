package handler

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/production-control/internal/observability"
)

// CorrelationMiddleware carries the request id into the user context, so jobs enqueued by
// the request publish it and workers log it. Register it after the requestid middleware.
func CorrelationMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := strings.TrimSpace(c.Get(fiber.HeaderXRequestID))
		if id == "" {
			if local, ok := c.Locals("requestid").(string); ok {
				id = strings.TrimSpace(local)
			}
		}
		if id != "" {
			c.SetUserContext(observability.WithCorrelationID(c.UserContext(), id))
		}
		return c.Next()
	}
}
