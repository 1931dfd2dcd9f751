package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/capstack/origination/common/logger"
	"github.com/capstack/origination/common/notify"
	"github.com/capstack/origination/common/redis"
)

// lastEventTTL bounds how long a cached event stays useful. Viewers who
// connect later than this should do a full load anyway.
const lastEventTTL = 10 * time.Minute

// lastEventKey is where the most recent event for a resume is cached so a
// freshly connected viewer can catch up without waiting for the next write.
func lastEventKey(resumeID uuid.UUID) string {
	return fmt.Sprintf("resume:events:last:%s", resumeID)
}

// RedisSubscriber listens to Redis pub/sub and forwards change events to the Hub
type RedisSubscriber struct {
	redis  *redis.Client
	hub    *Hub
	log    *logger.Logger
	pubsub *goredis.PubSub
}

// NewRedisSubscriber creates a new RedisSubscriber instance
func NewRedisSubscriber(redisClient *redis.Client, hub *Hub, log *logger.Logger) *RedisSubscriber {
	return &RedisSubscriber{
		redis: redisClient,
		hub:   hub,
		log:   log,
	}
}

// Subscribe establishes the pattern subscription and waits for Redis to
// confirm it. One pattern covers every resume's channel.
func (s *RedisSubscriber) Subscribe(ctx context.Context) error {
	pubsub := s.redis.PSubscribe(ctx, notify.ChannelPattern)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return fmt.Errorf("failed to subscribe to %s: %w", notify.ChannelPattern, err)
	}

	s.pubsub = pubsub
	s.log.Info("redis subscription confirmed", "pattern", notify.ChannelPattern)
	return nil
}

// Listen forwards published events to the hub until ctx is cancelled.
// Subscribe must have succeeded first.
func (s *RedisSubscriber) Listen(ctx context.Context) {
	defer s.pubsub.Close()

	ch := s.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("redis subscriber stopping")
			return

		case msg := <-ch:
			if msg == nil {
				continue
			}
			s.handleMessage(ctx, msg.Channel, []byte(msg.Payload))
		}
	}
}

// handleMessage decodes one published event and hands it to the hub. The
// resume ID in the payload wins; the channel name is the fallback for
// payloads that predate the envelope.
func (s *RedisSubscriber) handleMessage(ctx context.Context, channel string, payload []byte) {
	var event notify.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		s.log.Warn("dropping undecodable event", "channel", channel, "error", err)
		return
	}

	resumeID := event.ResumeID
	if resumeID == uuid.Nil {
		fromChannel, err := notify.ResumeIDFromChannel(channel)
		if err != nil {
			s.log.Warn("dropping event with no resume id", "channel", channel)
			return
		}
		resumeID = fromChannel
	}

	// Cache the latest event so late joiners get an immediate nudge to load.
	if err := s.redis.Set(ctx, lastEventKey(resumeID), string(payload), lastEventTTL); err != nil {
		s.log.Warn("failed to cache last event", "resume_id", resumeID, "error", err)
	}

	s.log.Debug("forwarding event",
		"resume_id", resumeID,
		"actor", event.Actor,
		"size", len(payload))

	s.hub.broadcast <- &Message{
		ResumeID: resumeID,
		Actor:    event.Actor,
		Data:     payload,
	}
}
