package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/capstack/origination/cmd/api/middleware"
	"github.com/capstack/origination/common/autofill"
	"github.com/capstack/origination/common/logger"
	"github.com/capstack/origination/common/models"
	"github.com/capstack/origination/common/redis"
	"github.com/capstack/origination/common/store"
)

// AutofillHandler enqueues extraction jobs for the autofill worker
type AutofillHandler struct {
	log    *logger.Logger
	store  store.Store
	redis  *redis.Client
	stream string
	jobTTL time.Duration
}

// NewAutofillHandler creates a new autofill handler
func NewAutofillHandler(log *logger.Logger, st store.Store, redisClient *redis.Client, stream string, jobTTL time.Duration) *AutofillHandler {
	return &AutofillHandler{
		log:    log,
		store:  st,
		redis:  redisClient,
		stream: stream,
		jobTTL: jobTTL,
	}
}

// EnqueueAutofill queues an extraction run for a resume
// POST /api/v1/resumes/:id/autofill
func (h *AutofillHandler) EnqueueAutofill(c echo.Context) error {
	ctx := c.Request().Context()

	resumeID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid resume id")
	}

	actor, err := middleware.RequireActor(c)
	if err != nil {
		return err
	}

	var req struct {
		DocumentRefs []string `json:"document_refs"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "invalid request body",
		})
	}
	if len(req.DocumentRefs) == 0 {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "document_refs is required and cannot be empty",
		})
	}

	// Fail fast instead of queueing work for a resume that isn't there.
	if _, err := h.store.Load(ctx, resumeID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "resume not found")
		}
		h.log.Error("failed to load resume", "resume_id", resumeID, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load resume")
	}

	// One run per resume across all processes. The TTL reclaims the
	// slot if a worker dies mid-run.
	jobID := uuid.New()
	acquired, err := h.redis.SetNX(ctx, autofill.InflightKey(resumeID), jobID.String(), h.jobTTL)
	if err != nil {
		h.log.Error("failed to reserve autofill slot", "resume_id", resumeID, "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error": "failed to reserve autofill slot",
		})
	}
	if !acquired {
		return c.JSON(http.StatusConflict, map[string]interface{}{
			"error": "autofill already running for this resume",
		})
	}

	// Actor is left empty on purpose: the run writes under its own
	// autofill identity so the requester's session reloads the result.
	job := models.AutofillJob{
		ID:           jobID,
		ResumeID:     resumeID,
		DocumentRefs: req.DocumentRefs,
		EnqueuedAt:   time.Now().UTC(),
	}

	payload, err := json.Marshal(job)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error": "failed to encode job",
		})
	}

	if _, err := h.redis.AddToStream(ctx, h.stream, map[string]interface{}{"job": string(payload)}); err != nil {
		// Release the slot so a retry isn't locked out for the full TTL.
		_ = h.redis.Delete(ctx, autofill.InflightKey(resumeID))
		h.log.Error("failed to enqueue autofill job", "resume_id", resumeID, "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error": "failed to enqueue autofill job",
		})
	}

	h.log.Info("autofill job enqueued",
		"resume_id", resumeID,
		"job_id", jobID,
		"documents", len(req.DocumentRefs),
		"requested_by", actor)

	return c.JSON(http.StatusAccepted, map[string]interface{}{
		"job_id":    jobID,
		"resume_id": resumeID,
		"status":    "queued",
	})
}
