package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

const (
	// ActorKey is the context key for storing the acting user or agent
	ActorKey ContextKey = "actor"
)

// ExtractActor is a middleware that extracts the X-Actor-ID header and
// stores it in the request context. The actor identifies who a write
// belongs to; change events carry it so viewers can tell their own
// echoes from other people's edits.
//
// Usage:
//
//	api := e.Group("/api/v1/resumes")
//	api.Use(middleware.ExtractActor())
//
// Accessing in handlers:
//
//	actor := middleware.GetActor(c)
func ExtractActor() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			actor := c.Request().Header.Get("X-Actor-ID")
			if actor != "" {
				c.Set(string(ActorKey), actor)
			}
			return next(c)
		}
	}
}

// GetActor retrieves the actor from the request context.
// Returns empty string if not set.
func GetActor(c echo.Context) string {
	actor := c.Get(string(ActorKey))
	if actor == nil {
		return ""
	}
	return actor.(string)
}

// RequireActor ensures an actor exists in context.
// Returns a 401 error for the handler to propagate if not found.
func RequireActor(c echo.Context) (string, error) {
	actor := GetActor(c)
	if actor == "" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "X-Actor-ID header is required")
	}
	return actor, nil
}
