package middleware

import (
	"net/http"
	"os"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/capstack/origination/common/ratelimit"
)

// isInternalRequest checks if the request is from an internal service.
// Internal services set X-Internal-Service header to bypass rate limits.
func isInternalRequest(c echo.Context) bool {
	internalHeader := c.Request().Header.Get("X-Internal-Service")
	if internalHeader == "" {
		return false
	}

	// Verify against shared secret (prevents spoofing)
	expectedSecret := os.Getenv("INTERNAL_SERVICE_SECRET")
	if expectedSecret == "" {
		return false
	}

	return internalHeader == expectedSecret
}

// GlobalRateLimit caps total write traffic across all actors. It protects
// the database and the change feed, so it fails open: when the check itself
// errors the request goes through.
func GlobalRateLimit(limiter *ratelimit.RateLimiter, limit int64) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if isInternalRequest(c) {
				return next(c)
			}

			result, err := limiter.CheckGlobalLimit(c.Request().Context(), limit, 60)
			if err != nil {
				return next(c)
			}

			if !result.Allowed {
				return c.JSON(http.StatusTooManyRequests, map[string]interface{}{
					"error":               "global_rate_limit_exceeded",
					"message":             "Service is experiencing high load. Please try again later.",
					"retry_after_seconds": result.RetryAfterSeconds,
				})
			}

			return next(c)
		}
	}
}

// ActorRateLimit caps saves per actor. Requires the actor to be set in
// context by ExtractActor; unidentified requests pass through and are
// rejected later by the handlers that require an actor. Unlike the global
// guard this one fails closed: every admitted save writes a version row.
func ActorRateLimit(limiter *ratelimit.RateLimiter, limit int64) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if isInternalRequest(c) {
				return next(c)
			}

			actor, ok := c.Get("actor").(string)
			if !ok || actor == "" {
				return next(c)
			}

			result, err := limiter.CheckActorLimit(c.Request().Context(), actor, limit, 60)
			if err != nil {
				return limiterUnavailable(c)
			}

			if !result.Allowed {
				return c.JSON(http.StatusTooManyRequests, map[string]interface{}{
					"error":               "actor_rate_limit_exceeded",
					"message":             "You have exceeded your write quota. Please wait before trying again.",
					"actor":               actor,
					"current_count":       result.CurrentCount,
					"limit":               result.Limit,
					"retry_after_seconds": result.RetryAfterSeconds,
				})
			}

			return next(c)
		}
	}
}

// AutofillRateLimit caps extraction runs per resume, keyed on the :id path
// parameter. Unparseable IDs pass through for the handler to reject.
// Fails closed: an unmetered enqueue fans out to the extraction service.
func AutofillRateLimit(limiter *ratelimit.RateLimiter, limit int64) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if isInternalRequest(c) {
				return next(c)
			}

			resumeID, err := uuid.Parse(c.Param("id"))
			if err != nil {
				return next(c)
			}

			result, err := limiter.CheckAutofillLimit(c.Request().Context(), resumeID, limit, 3600)
			if err != nil {
				return limiterUnavailable(c)
			}

			if !result.Allowed {
				return c.JSON(http.StatusTooManyRequests, map[string]interface{}{
					"error":               "autofill_rate_limit_exceeded",
					"message":             "This resume has been autofilled too often. Please wait before trying again.",
					"resume_id":           resumeID,
					"retry_after_seconds": result.RetryAfterSeconds,
				})
			}

			return next(c)
		}
	}
}

// limiterUnavailable rejects a write whose quota could not be checked.
func limiterUnavailable(c echo.Context) error {
	return c.JSON(http.StatusServiceUnavailable, map[string]interface{}{
		"error":   "rate_limiter_unavailable",
		"message": "Write quota could not be checked. Please try again shortly.",
	})
}
