package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capstack/origination/common/logger"
	"github.com/capstack/origination/common/ratelimit"
)

func newTestLimiter(t *testing.T) *ratelimit.RateLimiter {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return ratelimit.NewRateLimiter(client, logger.New("error", "text"))
}

func runRequest(t *testing.T, mw echo.MiddlewareFunc, setup func(echo.Context)) *httptest.ResponseRecorder {
	t.Helper()

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if setup != nil {
		setup(c)
	}

	handler := mw(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})
	require.NoError(t, handler(c))
	return rec
}

func TestActorRateLimitBlocksOverQuota(t *testing.T) {
	limiter := newTestLimiter(t)
	mw := ActorRateLimit(limiter, 2)
	asActor := func(c echo.Context) { c.Set("actor", "analyst-7") }

	assert.Equal(t, http.StatusOK, runRequest(t, mw, asActor).Code)
	assert.Equal(t, http.StatusOK, runRequest(t, mw, asActor).Code)

	rec := runRequest(t, mw, asActor)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), "actor_rate_limit_exceeded")
}

func TestActorRateLimitIgnoresAnonymousRequests(t *testing.T) {
	limiter := newTestLimiter(t)
	mw := ActorRateLimit(limiter, 1)

	// Requests with no actor fall through to the handlers, which decide
	// whether an identity is required.
	assert.Equal(t, http.StatusOK, runRequest(t, mw, nil).Code)
	assert.Equal(t, http.StatusOK, runRequest(t, mw, nil).Code)
}

func TestAutofillRateLimitKeysOnResume(t *testing.T) {
	limiter := newTestLimiter(t)
	mw := AutofillRateLimit(limiter, 1)
	resumeA := uuid.New().String()
	resumeB := uuid.New().String()

	withID := func(id string) func(echo.Context) {
		return func(c echo.Context) {
			c.SetParamNames("id")
			c.SetParamValues(id)
		}
	}

	assert.Equal(t, http.StatusOK, runRequest(t, mw, withID(resumeA)).Code)
	rec := runRequest(t, mw, withID(resumeA))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), "autofill_rate_limit_exceeded")

	// A different resume has its own window.
	assert.Equal(t, http.StatusOK, runRequest(t, mw, withID(resumeB)).Code)
}

func TestInternalServiceBypassesLimits(t *testing.T) {
	t.Setenv("INTERNAL_SERVICE_SECRET", "shared-secret")

	limiter := newTestLimiter(t)
	mw := GlobalRateLimit(limiter, 1)

	internal := func(c echo.Context) {
		c.Request().Header.Set("X-Internal-Service", "shared-secret")
	}

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, runRequest(t, mw, internal).Code)
	}

	// A spoofed header without the right secret still counts against the
	// global window.
	spoofed := func(c echo.Context) {
		c.Request().Header.Set("X-Internal-Service", "wrong")
	}
	assert.Equal(t, http.StatusOK, runRequest(t, mw, spoofed).Code)
	assert.Equal(t, http.StatusTooManyRequests, runRequest(t, mw, spoofed).Code)
}

func TestWriteGuardsFailClosedWhenRedisIsDown(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	client := goredis.NewClient(&goredis.Options{Addr: addr})
	t.Cleanup(func() { client.Close() })
	limiter := ratelimit.NewRateLimiter(client, logger.New("error", "text"))

	asActor := func(c echo.Context) { c.Set("actor", "analyst-7") }
	rec := runRequest(t, ActorRateLimit(limiter, 10), asActor)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "rate_limiter_unavailable")

	withID := func(c echo.Context) {
		c.SetParamNames("id")
		c.SetParamValues(uuid.New().String())
	}
	rec = runRequest(t, AutofillRateLimit(limiter, 10), withID)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	// The global guard prefers availability and lets the request through.
	assert.Equal(t, http.StatusOK, runRequest(t, GlobalRateLimit(limiter, 10), nil).Code)
}
