package notify

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capstack/origination/common/logger"
	"github.com/capstack/origination/common/redis"
)

func TestEventChannelRoundTrip(t *testing.T) {
	resumeID := uuid.New()
	channel := EventChannel(resumeID)

	got, err := ResumeIDFromChannel(channel)
	require.NoError(t, err)
	assert.Equal(t, resumeID, got)

	_, err = ResumeIDFromChannel("workflow:events:abc")
	assert.Error(t, err)
	_, err = ResumeIDFromChannel("resume:events:not-a-uuid")
	assert.Error(t, err)
}

func TestMemoryFeedFanOut(t *testing.T) {
	ctx := context.Background()
	feed := NewMemoryFeed()
	resumeID := uuid.New()

	first, err := feed.Subscribe(ctx, resumeID)
	require.NoError(t, err)
	second, err := feed.Subscribe(ctx, resumeID)
	require.NoError(t, err)
	other, err := feed.Subscribe(ctx, uuid.New())
	require.NoError(t, err)

	ev := Event{Type: EventUpdate, ResumeID: resumeID, Actor: "user:amy"}
	require.NoError(t, feed.Publish(ctx, ev))

	assert.Equal(t, ev, <-first.Events())
	assert.Equal(t, ev, <-second.Events())
	select {
	case <-other.Events():
		t.Fatal("subscription for another resume must not receive the event")
	default:
	}

	// A closed subscription stops receiving and its channel ends.
	require.NoError(t, first.Close())
	require.NoError(t, feed.Publish(ctx, ev))
	assert.Equal(t, ev, <-second.Events())
	_, open := <-first.Events()
	assert.False(t, open)

	require.NoError(t, second.Close())
	require.NoError(t, other.Close())
}

func newTestRedisFeed(t *testing.T) (*RedisFeed, *goredis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	raw := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { raw.Close() })

	log := logger.New("error", "text")
	return NewRedisFeed(redis.NewClient(raw, log), log), raw
}

func waitEvent(t *testing.T, sub Subscription) Event {
	t.Helper()
	select {
	case ev := <-sub.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change event")
		return Event{}
	}
}

func TestRedisFeedPublishSubscribe(t *testing.T) {
	ctx := context.Background()
	feed, _ := newTestRedisFeed(t)
	resumeID := uuid.New()

	sub, err := feed.Subscribe(ctx, resumeID)
	require.NoError(t, err)
	defer sub.Close()

	want := Event{Table: "resume_versions", Type: EventInsert, ResumeID: resumeID, Actor: "user:amy"}
	require.NoError(t, feed.Publish(ctx, want))

	assert.Equal(t, want, waitEvent(t, sub))
}

func TestRedisFeedToleratesGarbagePayload(t *testing.T) {
	ctx := context.Background()
	feed, raw := newTestRedisFeed(t)
	resumeID := uuid.New()

	sub, err := feed.Subscribe(ctx, resumeID)
	require.NoError(t, err)
	defer sub.Close()

	// The payload is not trusted; identity falls back to the channel.
	require.NoError(t, raw.Publish(ctx, EventChannel(resumeID), "not json").Err())

	got := waitEvent(t, sub)
	assert.Equal(t, resumeID, got.ResumeID)
	assert.Equal(t, EventUpdate, got.Type)
	assert.Empty(t, got.Actor, "origin of a garbled event is indeterminate")
}

func TestRedisFeedSubscriptionCloses(t *testing.T) {
	ctx := context.Background()
	feed, _ := newTestRedisFeed(t)

	sub, err := feed.Subscribe(ctx, uuid.New())
	require.NoError(t, err)
	require.NoError(t, sub.Close())

	select {
	case _, open := <-sub.Events():
		assert.False(t, open)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for events channel to close")
	}
}
