package mgmt

import (
	"github.com/gofiber/fiber/v2"

	"github.com/p-blackswan/persona-curator/internal/metrics"
	"github.com/p-blackswan/persona-curator/internal/ratelimit"
)

// NewRateLimitMiddleware admits every non-probe request against the client's
// api bucket.
func NewRateLimitMiddleware(limiter *ratelimit.Limiter, m *metrics.Metrics) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if isProbe(c.Path()) {
			return c.Next()
		}

		allowed := limiter.Admit("ip:"+c.IP(), ratelimit.API, 1)
		m.RecordAdmission(string(ratelimit.API), allowed)
		if !allowed {
			return problemResponse(c, fiber.StatusTooManyRequests,
				"rate_limit_exceeded", "Too Many Requests",
				"Rate limit exceeded. Please try again later.")
		}

		return c.Next()
	}
}
