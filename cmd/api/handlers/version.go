package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/capstack/origination/common/cache"
	"github.com/capstack/origination/common/logger"
	"github.com/capstack/origination/common/store"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// VersionHandler handles version history and diff requests
type VersionHandler struct {
	log      *logger.Logger
	store    store.Store
	cache    cache.Cache
	cacheTTL time.Duration
}

// NewVersionHandler creates a new version handler. The cache is
// optional; diffs between immutable versions are cached when present.
func NewVersionHandler(log *logger.Logger, st store.Store, c cache.Cache, cacheTTL time.Duration) *VersionHandler {
	return &VersionHandler{
		log:      log,
		store:    st,
		cache:    c,
		cacheTTL: cacheTTL,
	}
}

// ListVersions returns version history, newest first
// GET /api/v1/resumes/:id/versions?limit=20
func (h *VersionHandler) ListVersions(c echo.Context) error {
	ctx := c.Request().Context()

	resumeID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid resume id")
	}

	limit := defaultHistoryLimit
	if raw := c.QueryParam("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 1 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}
		if limit > maxHistoryLimit {
			limit = maxHistoryLimit
		}
	}

	versions, err := h.store.History(ctx, resumeID, limit)
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "resume not found")
	}
	if err != nil {
		h.log.Error("failed to list versions", "resume_id", resumeID, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list versions")
	}

	// Content is omitted from the listing; individual versions carry it.
	rows := make([]map[string]interface{}, 0, len(versions))
	for _, v := range versions {
		rows = append(rows, map[string]interface{}{
			"version_id":           v.ID,
			"version_number":       v.VersionNumber,
			"status":               v.Status,
			"completeness_percent": v.CompletenessPercent,
			"created_by":           v.CreatedBy,
			"created_at":           v.CreatedAt,
		})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"resume_id": resumeID,
		"versions":  rows,
		"count":     len(rows),
	})
}

// GetVersion returns one historical version with its content
// GET /api/v1/resumes/:id/versions/:version_id
func (h *VersionHandler) GetVersion(c echo.Context) error {
	ctx := c.Request().Context()

	resumeID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid resume id")
	}
	versionID, err := uuid.Parse(c.Param("version_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid version id")
	}

	version, err := h.store.LoadVersion(ctx, resumeID, versionID)
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "version not found")
	}
	if err != nil {
		h.log.Error("failed to load version",
			"resume_id", resumeID, "version_id", versionID, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load version")
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"resume_id":            resumeID,
		"version_id":           version.ID,
		"version_number":       version.VersionNumber,
		"status":               version.Status,
		"completeness_percent": version.CompletenessPercent,
		"created_by":           version.CreatedBy,
		"created_at":           version.CreatedAt,
		"content":              version.Content,
	})
}

// DiffVersions returns a JSON merge patch that turns one version's
// content into another's
// GET /api/v1/resumes/:id/versions/:from/diff/:to
func (h *VersionHandler) DiffVersions(c echo.Context) error {
	ctx := c.Request().Context()

	resumeID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid resume id")
	}
	fromID, err := uuid.Parse(c.Param("from"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid from version id")
	}
	toID, err := uuid.Parse(c.Param("to"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid to version id")
	}

	// Versions never change once written, so a computed diff is valid
	// for as long as we care to keep it.
	cacheKey := fmt.Sprintf("diff:%s:%s", fromID, toID)
	if h.cache != nil {
		var cached map[string]interface{}
		hit, err := cache.GetJSON(ctx, h.cache, cacheKey, &cached)
		if err != nil {
			h.log.Warn("failed to read cached diff", "key", cacheKey, "error", err)
		}
		if hit {
			return c.JSON(http.StatusOK, cached)
		}
	}

	from, err := h.store.LoadVersion(ctx, resumeID, fromID)
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "from version not found")
	}
	if err != nil {
		h.log.Error("failed to load from version", "version_id", fromID, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load version")
	}

	to, err := h.store.LoadVersion(ctx, resumeID, toID)
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "to version not found")
	}
	if err != nil {
		h.log.Error("failed to load to version", "version_id", toID, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load version")
	}

	fromJSON, err := json.Marshal(from.Content)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to encode version content")
	}
	toJSON, err := json.Marshal(to.Content)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to encode version content")
	}

	patch, err := jsonpatch.CreateMergePatch(fromJSON, toJSON)
	if err != nil {
		h.log.Error("failed to compute diff",
			"from", fromID, "to", toID, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to compute diff")
	}

	response := map[string]interface{}{
		"resume_id": resumeID,
		"from": map[string]interface{}{
			"version_id":     from.ID,
			"version_number": from.VersionNumber,
		},
		"to": map[string]interface{}{
			"version_id":     to.ID,
			"version_number": to.VersionNumber,
		},
		"patch": json.RawMessage(patch),
	}

	if h.cache != nil {
		if err := cache.SetJSON(ctx, h.cache, cacheKey, response, h.cacheTTL); err != nil {
			h.log.Warn("failed to cache diff", "key", cacheKey, "error", err)
		}
	}

	return c.JSON(http.StatusOK, response)
}
