package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/capstack/origination/cmd/api/container"
	"github.com/capstack/origination/cmd/api/handlers"
	"github.com/capstack/origination/cmd/api/middleware"
	commonmw "github.com/capstack/origination/common/middleware"
)

// RegisterResumeRoutes registers all resume-related routes
func RegisterResumeRoutes(e *echo.Echo, c *container.Container) {
	cfg := c.Components.Config
	log := c.Components.Logger

	resumeHandler := handlers.NewResumeHandler(log, c.Store, c.Writer)
	versionHandler := handlers.NewVersionHandler(log, c.Store, c.Components.Cache, cfg.Cache.DefaultTTL)
	autofillHandler := handlers.NewAutofillHandler(log, c.Store, c.Components.Redis, cfg.Autofill.Stream, cfg.Autofill.JobTTL)

	// Resume routes with actor extraction middleware
	api := e.Group("/api/v1/resumes")
	api.Use(middleware.ExtractActor()) // Extract X-Actor-ID into context

	// Saves are throttled per actor, autofill per resume. Internal
	// services bypass all three checks.
	var saveGuard, autofillGuard []echo.MiddlewareFunc
	if cfg.RateLimit.Enabled {
		limits := cfg.RateLimit.Limits
		api.Use(commonmw.GlobalRateLimit(c.Limiter, limits.GlobalPerMinute))
		saveGuard = append(saveGuard, commonmw.ActorRateLimit(c.Limiter, limits.SavesPerActorPerMinute))
		autofillGuard = append(autofillGuard, commonmw.AutofillRateLimit(c.Limiter, limits.AutofillPerResumePerHour))
	}

	{
		api.POST("", resumeHandler.CreateResume)                  // POST /api/v1/resumes
		api.GET("/:id", resumeHandler.GetResume)                  // GET /api/v1/resumes/:id
		api.PATCH("/:id", resumeHandler.SaveResume, saveGuard...) // PATCH /api/v1/resumes/:id

		api.GET("/:id/versions", versionHandler.ListVersions)                // GET /api/v1/resumes/:id/versions
		api.GET("/:id/versions/:version_id", versionHandler.GetVersion)      // GET /api/v1/resumes/:id/versions/:version_id
		api.GET("/:id/versions/:from/diff/:to", versionHandler.DiffVersions) // GET /api/v1/resumes/:id/versions/:from/diff/:to

		api.POST("/:id/autofill", autofillHandler.EnqueueAutofill, autofillGuard...) // POST /api/v1/resumes/:id/autofill
	}
}
