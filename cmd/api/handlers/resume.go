package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/capstack/origination/cmd/api/middleware"
	"github.com/capstack/origination/common/logger"
	"github.com/capstack/origination/common/resume"
	"github.com/capstack/origination/common/resumesync"
	"github.com/capstack/origination/common/store"
)

// ResumeHandler handles resume content requests
type ResumeHandler struct {
	log    *logger.Logger
	store  store.Store
	writer *resumesync.Writer
}

// NewResumeHandler creates a new resume handler
func NewResumeHandler(log *logger.Logger, st store.Store, writer *resumesync.Writer) *ResumeHandler {
	return &ResumeHandler{
		log:    log,
		store:  st,
		writer: writer,
	}
}

// CreateResume provisions a resume and optionally seeds its first version
// POST /api/v1/resumes
func (h *ResumeHandler) CreateResume(c echo.Context) error {
	ctx := c.Request().Context()

	actor, err := middleware.RequireActor(c)
	if err != nil {
		return err
	}

	var req struct {
		ResumeID *uuid.UUID      `json:"resume_id"`
		Content  json.RawMessage `json:"content"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "invalid request body",
		})
	}

	resumeID := uuid.New()
	if req.ResumeID != nil {
		resumeID = *req.ResumeID
	}

	if err := h.store.EnsurePointer(ctx, resumeID); err != nil {
		h.log.Error("failed to provision resume", "resume_id", resumeID, "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error": "failed to provision resume",
		})
	}

	// Version 1 is always written, empty when no seed was given, so a
	// fresh resume is immediately loadable and autofillable. Seed
	// content is stored verbatim, the import path for resumes migrated
	// from other systems.
	content := resume.NewContent()
	if len(req.Content) > 0 {
		if err := json.Unmarshal(req.Content, &content); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]interface{}{
				"error": "invalid seed content",
			})
		}
	}

	version, err := h.store.Persist(ctx, resumeID, content, actor)
	if err != nil {
		h.log.Error("failed to seed resume", "resume_id", resumeID, "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error": "failed to seed resume",
		})
	}

	h.log.Info("resume created", "resume_id", resumeID, "actor", actor)
	return c.JSON(http.StatusCreated, map[string]interface{}{
		"resume_id":      resumeID,
		"version_id":     version.ID,
		"version_number": version.VersionNumber,
	})
}

// GetResume returns the current version with per-field edit states
// GET /api/v1/resumes/:id
func (h *ResumeHandler) GetResume(c echo.Context) error {
	ctx := c.Request().Context()

	resumeID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid resume id")
	}

	version, err := h.store.Load(ctx, resumeID)
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "resume not found")
	}
	if errors.Is(err, store.ErrBrokenPointer) {
		h.log.Error("resume pointer targets a missing version", "resume_id", resumeID)
		return echo.NewHTTPError(http.StatusInternalServerError, "resume version pointer is broken")
	}
	if err != nil {
		h.log.Error("failed to load resume", "resume_id", resumeID, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load resume")
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"resume_id":            resumeID,
		"version_id":           version.ID,
		"version_number":       version.VersionNumber,
		"completeness_percent": version.CompletenessPercent,
		"created_by":           version.CreatedBy,
		"created_at":           version.CreatedAt,
		"content":              version.Content,
		"field_states":         fieldStates(version.Content),
	})
}

// SaveResume merges an interactive edit into the latest version
// PATCH /api/v1/resumes/:id
func (h *ResumeHandler) SaveResume(c echo.Context) error {
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
		Updates map[string]resume.Section  `json:"updates"`
		Locks   map[string]bool            `json:"locks"`
		Extra   map[string]json.RawMessage `json:"extra"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "invalid request body",
		})
	}

	if len(req.Updates) == 0 && len(req.Locks) == 0 && len(req.Extra) == 0 {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "nothing to save",
		})
	}

	h.log.Info("saving resume",
		"resume_id", resumeID,
		"actor", actor,
		"sections", len(req.Updates),
		"locks", len(req.Locks))

	upd := resume.Update{
		Sections: req.Updates,
		Locks:    req.Locks,
		Extra:    req.Extra,
	}

	result, err := h.writer.Save(ctx, resumeID, upd, actor)
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "resume not found")
	}
	if errors.Is(err, store.ErrWriteConflict) {
		// Two writers raced twice in a row. The client reloads and retries.
		return c.JSON(http.StatusConflict, map[string]interface{}{
			"error": "resume changed concurrently, reload and retry",
		})
	}
	if err != nil {
		h.log.Error("failed to save resume", "resume_id", resumeID, "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error": "failed to save resume",
		})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"resume_id":      resumeID,
		"version_id":     result.Version.ID,
		"version_number": result.Version.VersionNumber,
		"decisions":      result.Decisions,
	})
}

// fieldStates classifies every field of every section against the
// version's own lock map.
func fieldStates(content resume.Content) map[string]map[string]resume.State {
	states := make(map[string]map[string]resume.State, len(content.Sections))
	for sectionID, sec := range content.Sections {
		fields := make(map[string]resume.State, len(sec))
		for fieldID, rec := range sec {
			var value any
			var source *resume.Source
			if rec != nil {
				value = rec.Value
				source = rec.Source
			}
			fields[fieldID] = resume.Classify(value, content.Locked(fieldID), source)
		}
		states[sectionID] = fields
	}
	return states
}
