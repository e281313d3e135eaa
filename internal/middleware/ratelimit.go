package middleware

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/deckforge/api/internal/model"
	"github.com/deckforge/api/internal/ratelimit"
	"github.com/deckforge/api/pkg/response"
)

type RateLimiter struct {
	limiter *ratelimit.Limiter
}

func NewRateLimiter(limiter *ratelimit.Limiter) *RateLimiter {
	return &RateLimiter{limiter: limiter}
}

// Limit creates a rate limiting middleware keyed by the authenticated user
func (rl *RateLimiter) Limit(scope string, maxRequests int, window time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := GetUserID(c)
		if userID == "" {
			return c.Next() // auth middleware rejects anonymous calls
		}

		res, err := rl.limiter.Allow(c.UserContext(), scope, userID, maxRequests, window)
		if err != nil {
			var rlErr *model.RateLimitError
			if errors.As(err, &rlErr) {
				return response.RateLimited(c, rlErr.RetryAfter)
			}
			// If Redis fails, allow the request but log the error
			slog.Warn("rate limiter unavailable", "scope", scope, "error", err)
			return c.Next()
		}

		c.Set("X-RateLimit-Limit", fmt.Sprintf("%d", res.Limit))
		c.Set("X-RateLimit-Remaining", fmt.Sprintf("%d", res.Remaining))

		return c.Next()
	}
}

// DeckLimit limits new deck submissions per user per hour
func (rl *RateLimiter) DeckLimit(maxPerHour int) fiber.Handler {
	return rl.Limit("decks", maxPerHour, time.Hour)
}

// RevisionLimit limits revision requests per user per hour
func (rl *RateLimiter) RevisionLimit(maxPerHour int) fiber.Handler {
	return rl.Limit("revisions", maxPerHour, time.Hour)
}
