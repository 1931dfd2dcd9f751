package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/capstack/origination/common/logger"
	"github.com/capstack/origination/common/redis"
)

// RedisFeed carries change events over Redis pub/sub, one channel per
// resume.
type RedisFeed struct {
	client *redis.Client
	log    *logger.Logger
}

// NewRedisFeed creates a Redis-backed change feed
func NewRedisFeed(client *redis.Client, log *logger.Logger) *RedisFeed {
	return &RedisFeed{client: client, log: log}
}

// Publish announces a change on the resume's channel
func (f *RedisFeed) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode change event: %w", err)
	}
	return f.client.PublishEvent(ctx, EventChannel(event.ResumeID), string(payload))
}

// Subscribe opens a pub/sub subscription for one resume
func (f *RedisFeed) Subscribe(ctx context.Context, resumeID uuid.UUID) (Subscription, error) {
	pubsub := f.client.Subscribe(ctx, EventChannel(resumeID))

	// Wait for confirmation that the subscription was established.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("subscribe to %s: %w", EventChannel(resumeID), err)
	}

	sub := &redisSubscription{
		pubsub: pubsub,
		out:    make(chan Event, 16),
		log:    f.log,
	}
	go sub.pump()

	return sub, nil
}

type redisSubscription struct {
	pubsub *goredis.PubSub
	out    chan Event
	log    *logger.Logger
}

func (s *redisSubscription) pump() {
	defer close(s.out)

	for msg := range s.pubsub.Channel() {
		ev, ok := decodeEvent(msg.Channel, msg.Payload)
		if !ok {
			s.log.Warn("dropping change event with unusable identity", "channel", msg.Channel)
			continue
		}

		select {
		case s.out <- ev:
		default:
			// The consumer re-fetches on every event, so dropping
			// under backpressure loses nothing durable.
			s.log.Warn("change event buffer full, dropping", "resume_id", ev.ResumeID)
		}
	}
}

// decodeEvent parses an event payload, falling back to an identity-only
// event derived from the channel name when the payload is unusable. The
// payload is advisory; the channel name is what is trusted.
func decodeEvent(channel, payload string) (Event, bool) {
	var ev Event
	if err := json.Unmarshal([]byte(payload), &ev); err == nil && ev.ResumeID != uuid.Nil {
		return ev, true
	}

	id, err := ResumeIDFromChannel(channel)
	if err != nil {
		return Event{}, false
	}
	return Event{Type: EventUpdate, ResumeID: id}, true
}

func (s *redisSubscription) Events() <-chan Event {
	return s.out
}

func (s *redisSubscription) Close() error {
	return s.pubsub.Close()
}
