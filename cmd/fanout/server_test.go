package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capstack/origination/common/notify"
	"github.com/capstack/origination/common/redis"
)

type fanoutFixture struct {
	mr     *miniredis.Miniredis
	redis  *redis.Client
	hub    *Hub
	server *Server
	ts     *httptest.Server
}

func newFanoutFixture(t *testing.T) *fanoutFixture {
	t.Helper()

	mr := miniredis.RunT(t)
	underlying := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { underlying.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	log := testLogger()
	wrapped := redis.NewClient(underlying, log)
	hub := NewHub(log)
	go hub.Run(ctx)

	server := NewServer(hub, wrapped, log)
	ts := httptest.NewServer(http.HandlerFunc(server.HandleWebSocket))
	t.Cleanup(ts.Close)

	return &fanoutFixture{mr: mr, redis: wrapped, hub: hub, server: server, ts: ts}
}

func (f *fanoutFixture) dial(t *testing.T, resumeID uuid.UUID, actor string) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(f.ts.URL, "http") +
		fmt.Sprintf("/?resume_id=%s&actor_id=%s", resumeID, actor)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) []byte {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	return data
}

func eventPayload(t *testing.T, resumeID uuid.UUID, actor string) []byte {
	t.Helper()
	payload, err := json.Marshal(notify.Event{
		Table:    "resume_versions",
		Type:     notify.EventInsert,
		ResumeID: resumeID,
		Actor:    actor,
	})
	require.NoError(t, err)
	return payload
}

func TestWebSocketDeliversBroadcast(t *testing.T) {
	f := newFanoutFixture(t)
	resumeID := uuid.New()

	conn := f.dial(t, resumeID, "analyst-2")
	require.Eventually(t, func() bool {
		return f.hub.GetConnectionCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	payload := eventPayload(t, resumeID, "analyst-1")
	f.hub.broadcast <- &Message{ResumeID: resumeID, Actor: "analyst-1", Data: payload}

	assert.JSONEq(t, string(payload), string(readFrame(t, conn)))
}

func TestWebSocketSkipsOwnWrites(t *testing.T) {
	f := newFanoutFixture(t)
	resumeID := uuid.New()

	conn := f.dial(t, resumeID, "analyst-1")
	require.Eventually(t, func() bool {
		return f.hub.GetConnectionCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	own := eventPayload(t, resumeID, "analyst-1")
	foreign := eventPayload(t, resumeID, "analyst-9")
	f.hub.broadcast <- &Message{ResumeID: resumeID, Actor: "analyst-1", Data: own}
	f.hub.broadcast <- &Message{ResumeID: resumeID, Actor: "analyst-9", Data: foreign}

	// Delivery is ordered, so the first frame proves the own-write was
	// never queued.
	assert.JSONEq(t, string(foreign), string(readFrame(t, conn)))
}

func TestWebSocketRejectsMissingResumeID(t *testing.T) {
	f := newFanoutFixture(t)

	resp, err := http.Get(f.ts.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWebSocketReplaysLastEvent(t *testing.T) {
	f := newFanoutFixture(t)
	resumeID := uuid.New()

	payload := eventPayload(t, resumeID, "analyst-1")
	require.NoError(t, f.mr.Set(lastEventKey(resumeID), string(payload)))

	// A viewer connecting after the write still hears about it.
	conn := f.dial(t, resumeID, "analyst-2")
	assert.JSONEq(t, string(payload), string(readFrame(t, conn)))
}

func TestWebSocketDoesNotReplayOwnEvent(t *testing.T) {
	f := newFanoutFixture(t)
	resumeID := uuid.New()

	own := eventPayload(t, resumeID, "analyst-1")
	require.NoError(t, f.mr.Set(lastEventKey(resumeID), string(own)))

	conn := f.dial(t, resumeID, "analyst-1")
	require.Eventually(t, func() bool {
		return f.hub.GetConnectionCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	foreign := eventPayload(t, resumeID, "analyst-9")
	f.hub.broadcast <- &Message{ResumeID: resumeID, Actor: "analyst-9", Data: foreign}

	// The first frame is the live event, not the cached own-write.
	assert.JSONEq(t, string(foreign), string(readFrame(t, conn)))
}

func TestStatsReportsConnections(t *testing.T) {
	f := newFanoutFixture(t)
	resumeID := uuid.New()

	f.dial(t, resumeID, "analyst-1")
	f.dial(t, resumeID, "analyst-2")
	f.dial(t, uuid.New(), "analyst-3")

	require.Eventually(t, func() bool {
		return f.hub.GetConnectionCount() == 3
	}, 2*time.Second, 10*time.Millisecond)

	rec := httptest.NewRecorder()
	f.server.HandleStats(rec, httptest.NewRequest(http.MethodGet, "/api/stats", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var stats struct {
		Connections int `json:"connections"`
		Resumes     int `json:"resumes"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 3, stats.Connections)
	assert.Equal(t, 2, stats.Resumes)
}
