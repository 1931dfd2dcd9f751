package handlers

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capstack/origination/common/autofill"
	"github.com/capstack/origination/common/redis"
	"github.com/capstack/origination/common/store"
)

const testStream = "resume.autofill.jobs"

func newAutofillFixture(t *testing.T) (*AutofillHandler, *miniredis.Miniredis, *goredis.Client, store.Store) {
	t.Helper()
	mr := miniredis.RunT(t)
	raw := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { raw.Close() })

	st := store.NewMemoryStore()
	h := NewAutofillHandler(testLogger(), st, redis.NewClient(raw, testLogger()), testStream, 2*time.Minute)
	return h, mr, raw, st
}

func TestEnqueueAutofillAccepted(t *testing.T) {
	h, mr, raw, st := newAutofillFixture(t)
	resumeID := seedHandlerResume(t, st)

	body := `{"document_refs": ["doc-1", "doc-2"]}`
	c, rec := newRequestContext(t, http.MethodPost, body, "analyst-7")
	c.SetParamNames("id")
	c.SetParamValues(resumeID.String())

	require.NoError(t, h.EnqueueAutofill(c))
	assert.Equal(t, http.StatusAccepted, rec.Code)

	respBody := decodeBody(t, rec)
	assert.Equal(t, "queued", respBody["status"])
	jobID := respBody["job_id"].(string)

	// The in-flight guard holds the job id.
	guard, err := mr.Get(autofill.InflightKey(resumeID))
	require.NoError(t, err)
	assert.Equal(t, jobID, guard)

	// The job landed on the stream.
	entries, err := raw.XRange(context.Background(), testStream, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Values["job"].(string), resumeID.String())
}

func TestEnqueueAutofillConflictWhileRunning(t *testing.T) {
	h, mr, raw, st := newAutofillFixture(t)
	resumeID := seedHandlerResume(t, st)

	// A run is already holding the slot.
	require.NoError(t, mr.Set(autofill.InflightKey(resumeID), uuid.NewString()))

	body := `{"document_refs": ["doc-1"]}`
	c, rec := newRequestContext(t, http.MethodPost, body, "analyst-7")
	c.SetParamNames("id")
	c.SetParamValues(resumeID.String())

	require.NoError(t, h.EnqueueAutofill(c))
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Nothing was enqueued.
	entries, err := raw.XRange(context.Background(), testStream, "-", "+").Result()
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestEnqueueAutofillRequiresDocuments(t *testing.T) {
	h, _, _, st := newAutofillFixture(t)
	resumeID := seedHandlerResume(t, st)

	c, rec := newRequestContext(t, http.MethodPost, `{"document_refs": []}`, "analyst-7")
	c.SetParamNames("id")
	c.SetParamValues(resumeID.String())

	require.NoError(t, h.EnqueueAutofill(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEnqueueAutofillUnknownResume(t *testing.T) {
	h, _, _, _ := newAutofillFixture(t)

	body := `{"document_refs": ["doc-1"]}`
	c, _ := newRequestContext(t, http.MethodPost, body, "analyst-7")
	c.SetParamNames("id")
	c.SetParamValues(uuid.New().String())

	err := h.EnqueueAutofill(c)
	require.Error(t, err)
	he, ok := err.(*echo.HTTPError)
	require.True(t, ok)
	assert.Equal(t, http.StatusNotFound, he.Code)
}
