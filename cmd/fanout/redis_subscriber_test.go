package main

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capstack/origination/common/notify"
	"github.com/capstack/origination/common/redis"
)

func newTestSubscriber(t *testing.T) (*RedisSubscriber, *Hub, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	underlying := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { underlying.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	log := testLogger()
	hub := NewHub(log)
	go hub.Run(ctx)

	return NewRedisSubscriber(redis.NewClient(underlying, log), hub, log), hub, mr
}

func TestSubscriberForwardsPublishedEvents(t *testing.T) {
	sub, hub, mr := newTestSubscriber(t)
	resumeID := uuid.New()

	viewer := newTestClient(hub, resumeID, "analyst-2", 8)
	hub.register <- viewer

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, sub.Subscribe(ctx))
	go sub.Listen(ctx)

	payload := eventPayload(t, resumeID, "analyst-1")
	require.NoError(t, sub.redis.PublishEvent(ctx, notify.EventChannel(resumeID), string(payload)))

	assert.JSONEq(t, string(payload), string(recv(t, viewer)))

	// The event is also cached for viewers who connect afterwards.
	cached, err := mr.Get(lastEventKey(resumeID))
	require.NoError(t, err)
	assert.JSONEq(t, string(payload), cached)
}

func TestSubscriberFallsBackToChannelForResumeID(t *testing.T) {
	sub, hub, _ := newTestSubscriber(t)
	resumeID := uuid.New()

	viewer := newTestClient(hub, resumeID, "analyst-2", 8)
	hub.register <- viewer

	// Payload without a resume_id; the channel name carries the identity.
	sub.handleMessage(context.Background(), notify.EventChannel(resumeID),
		[]byte(`{"table":"resume_versions","type":"insert","actor":"analyst-1"}`))

	msg := recv(t, viewer)
	assert.Contains(t, string(msg), `"actor":"analyst-1"`)
}

func TestSubscriberDropsUndecodableEvents(t *testing.T) {
	sub, hub, mr := newTestSubscriber(t)
	resumeID := uuid.New()

	viewer := newTestClient(hub, resumeID, "analyst-2", 8)
	hub.register <- viewer

	ctx := context.Background()
	sub.handleMessage(ctx, notify.EventChannel(resumeID), []byte(`not json`))
	sub.handleMessage(ctx, "resume:events:not-a-uuid",
		[]byte(`{"table":"resume_versions","type":"insert"}`))

	good := eventPayload(t, resumeID, "analyst-1")
	sub.handleMessage(ctx, notify.EventChannel(resumeID), good)

	// Only the well-formed event makes it through, and only it is cached.
	assert.JSONEq(t, string(good), string(recv(t, viewer)))
	assert.Len(t, mr.Keys(), 1)
}

func TestSubscriberStopsOnContextCancel(t *testing.T) {
	sub, _, _ := newTestSubscriber(t)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, sub.Subscribe(ctx))

	done := make(chan struct{})
	go func() {
		sub.Listen(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not stop")
	}
}
