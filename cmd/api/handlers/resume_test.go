package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capstack/origination/cmd/api/middleware"
	"github.com/capstack/origination/common/logger"
	"github.com/capstack/origination/common/models"
	"github.com/capstack/origination/common/resume"
	"github.com/capstack/origination/common/resumesync"
	"github.com/capstack/origination/common/store"
)

func testLogger() *logger.Logger {
	return logger.New("error", "text")
}

type conflictingStore struct {
	store.Store
	mu        sync.Mutex
	conflicts int
}

func (c *conflictingStore) Persist(ctx context.Context, resumeID uuid.UUID, content resume.Content, authorID string) (*models.Version, error) {
	c.mu.Lock()
	if c.conflicts > 0 {
		c.conflicts--
		c.mu.Unlock()
		return nil, store.ErrWriteConflict
	}
	c.mu.Unlock()
	return c.Store.Persist(ctx, resumeID, content, authorID)
}

// newRequestContext builds an echo context the way the router would,
// with the actor already extracted.
func newRequestContext(t *testing.T, method, body, actor string) (echo.Context, *httptest.ResponseRecorder) {
	t.Helper()
	e := echo.New()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("{}")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, "/", reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if actor != "" {
		c.Set(string(middleware.ActorKey), actor)
	}
	return c, rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func seedHandlerResume(t *testing.T, st store.Store) uuid.UUID {
	t.Helper()
	resumeID := uuid.New()
	require.NoError(t, st.EnsurePointer(context.Background(), resumeID))

	content := resume.NewContent()
	content.Sections["propertyInfo"] = resume.Section{
		"propertyName": {Value: "Harborview Apartments", Source: resume.UserInput()},
		"unitCount":    {Value: "48", Source: resume.UserInput()},
		"yearBuilt":    {Value: nil},
	}
	content.Locks = resume.LockMap{"propertyName": true}

	_, err := st.Persist(context.Background(), resumeID, content, "seed")
	require.NoError(t, err)
	return resumeID
}

func TestCreateResumeSeedsEmptyFirstVersion(t *testing.T) {
	st := store.NewMemoryStore()
	h := NewResumeHandler(testLogger(), st, resumesync.NewWriter(st, nil, nil, testLogger()))

	c, rec := newRequestContext(t, http.MethodPost, "", "analyst-7")

	require.NoError(t, h.CreateResume(c))
	assert.Equal(t, http.StatusCreated, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, float64(1), body["version_number"])

	resumeID, err := uuid.Parse(body["resume_id"].(string))
	require.NoError(t, err)

	version, err := st.Load(context.Background(), resumeID)
	require.NoError(t, err)
	assert.Equal(t, "analyst-7", version.CreatedBy)
	assert.Empty(t, version.Content.Sections)
}

func TestCreateResumeWithSeedContent(t *testing.T) {
	st := store.NewMemoryStore()
	h := NewResumeHandler(testLogger(), st, resumesync.NewWriter(st, nil, nil, testLogger()))

	resumeID := uuid.New()
	body := `{
		"resume_id": "` + resumeID.String() + `",
		"content": {
			"propertyInfo": {"unitCount": "48"},
			"_lockedFields": {"unitCount": true},
			"completenessPercent": 25
		}
	}`
	c, rec := newRequestContext(t, http.MethodPost, body, "importer")

	require.NoError(t, h.CreateResume(c))
	assert.Equal(t, http.StatusCreated, rec.Code)

	version, err := st.Load(context.Background(), resumeID)
	require.NoError(t, err)
	assert.Equal(t, "48", version.Content.Field("propertyInfo", "unitCount").Value)
	assert.True(t, version.Content.Locked("unitCount"))
	assert.Equal(t, 25, version.CompletenessPercent)
}

func TestCreateResumeRequiresActor(t *testing.T) {
	st := store.NewMemoryStore()
	h := NewResumeHandler(testLogger(), st, resumesync.NewWriter(st, nil, nil, testLogger()))

	c, _ := newRequestContext(t, http.MethodPost, "", "")

	err := h.CreateResume(c)
	require.Error(t, err)
	he, ok := err.(*echo.HTTPError)
	require.True(t, ok)
	assert.Equal(t, http.StatusUnauthorized, he.Code)
}

func TestGetResumeReturnsFieldStates(t *testing.T) {
	st := store.NewMemoryStore()
	resumeID := seedHandlerResume(t, st)
	h := NewResumeHandler(testLogger(), st, resumesync.NewWriter(st, nil, nil, testLogger()))

	c, rec := newRequestContext(t, http.MethodGet, "", "")
	c.SetParamNames("id")
	c.SetParamValues(resumeID.String())

	require.NoError(t, h.GetResume(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, float64(1), body["version_number"])

	states := body["field_states"].(map[string]interface{})["propertyInfo"].(map[string]interface{})
	assert.Equal(t, "locked", states["propertyName"])
	assert.Equal(t, "editable", states["unitCount"])
	assert.Equal(t, "empty", states["yearBuilt"])

	// The lock map rides inside the content payload.
	content := body["content"].(map[string]interface{})
	locks := content["_lockedFields"].(map[string]interface{})
	assert.Equal(t, true, locks["propertyName"])
}

func TestGetResumeNotFound(t *testing.T) {
	st := store.NewMemoryStore()
	h := NewResumeHandler(testLogger(), st, resumesync.NewWriter(st, nil, nil, testLogger()))

	c, _ := newRequestContext(t, http.MethodGet, "", "")
	c.SetParamNames("id")
	c.SetParamValues(uuid.New().String())

	err := h.GetResume(c)
	require.Error(t, err)
	he, ok := err.(*echo.HTTPError)
	require.True(t, ok)
	assert.Equal(t, http.StatusNotFound, he.Code)
}

func TestSaveResumeAppliesUpdate(t *testing.T) {
	st := store.NewMemoryStore()
	resumeID := seedHandlerResume(t, st)
	h := NewResumeHandler(testLogger(), st, resumesync.NewWriter(st, nil, nil, testLogger()))

	body := `{
		"updates": {"propertyInfo": {"unitCount": "52"}},
		"locks": {"unitCount": true}
	}`
	c, rec := newRequestContext(t, http.MethodPatch, body, "analyst-7")
	c.SetParamNames("id")
	c.SetParamValues(resumeID.String())

	require.NoError(t, h.SaveResume(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	respBody := decodeBody(t, rec)
	assert.Equal(t, float64(2), respBody["version_number"])
	decisions := respBody["decisions"].([]interface{})
	require.Len(t, decisions, 1)

	version, err := st.Load(context.Background(), resumeID)
	require.NoError(t, err)
	assert.Equal(t, "52", version.Content.Field("propertyInfo", "unitCount").Value)
	assert.True(t, version.Content.Locked("unitCount"))
}

func TestSaveResumeConflictAfterRetry(t *testing.T) {
	st := store.NewMemoryStore()
	resumeID := seedHandlerResume(t, st)
	conflicted := &conflictingStore{Store: st, conflicts: 2}
	h := NewResumeHandler(testLogger(), conflicted, resumesync.NewWriter(conflicted, nil, nil, testLogger()))

	body := `{"updates": {"propertyInfo": {"unitCount": "52"}}}`
	c, rec := newRequestContext(t, http.MethodPatch, body, "analyst-7")
	c.SetParamNames("id")
	c.SetParamValues(resumeID.String())

	require.NoError(t, h.SaveResume(c))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestSaveResumeRejectsEmptyUpdate(t *testing.T) {
	st := store.NewMemoryStore()
	resumeID := seedHandlerResume(t, st)
	h := NewResumeHandler(testLogger(), st, resumesync.NewWriter(st, nil, nil, testLogger()))

	c, rec := newRequestContext(t, http.MethodPatch, "{}", "analyst-7")
	c.SetParamNames("id")
	c.SetParamValues(resumeID.String())

	require.NoError(t, h.SaveResume(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
