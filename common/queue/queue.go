// Package queue provides the in-process event bus carrying typed
// signals between components, such as autofill completion.
package queue

import (
	"context"
	"sync"

	"github.com/capstack/origination/common/logger"
)

// Bus interface for in-process event fan-out. Every subscriber of a
// topic receives every message published to it.
type Bus interface {
	Publish(ctx context.Context, topic string, key string, message any) error
	Subscribe(ctx context.Context, topic string, handler MessageHandler) error
	Close() error
}

// MessageHandler processes messages
type MessageHandler func(ctx context.Context, key string, value any) error

// Message represents a bus message
type Message struct {
	Topic string
	Key   string
	Value any
}

// MemoryBus is an in-memory broadcast bus
type MemoryBus struct {
	subscribers map[string][]chan *Message
	mu          sync.RWMutex
	log         *logger.Logger
}

// NewMemoryBus creates a new in-memory bus
func NewMemoryBus(log *logger.Logger) *MemoryBus {
	return &MemoryBus{
		subscribers: make(map[string][]chan *Message),
		log:         log,
	}
}

// Publish delivers a message to every subscriber of a topic. A slow
// subscriber whose buffer is full drops the message rather than
// blocking the publisher.
func (b *MemoryBus) Publish(ctx context.Context, topic string, key string, message any) error {
	// Sends are non-blocking, so the lock is held only briefly. It also
	// keeps Close from closing a channel mid-send.
	b.mu.RLock()
	defer b.mu.RUnlock()

	msg := &Message{
		Topic: topic,
		Key:   key,
		Value: message,
	}

	for _, ch := range b.subscribers[topic] {
		select {
		case ch <- msg:
		case <-ctx.Done():
			return ctx.Err()
		default:
			b.log.Warn("bus subscriber buffer full, dropping message", "topic", topic, "key", key)
		}
	}

	return nil
}

// Subscribe registers a handler for a topic. The subscription runs
// until ctx is cancelled.
func (b *MemoryBus) Subscribe(ctx context.Context, topic string, handler MessageHandler) error {
	ch := make(chan *Message, 64)

	b.mu.Lock()
	b.subscribers[topic] = append(b.subscribers[topic], ch)
	b.mu.Unlock()

	b.log.Debug("subscribing to topic", "topic", topic)

	go func() {
		defer b.remove(topic, ch)
		for {
			select {
			case <-ctx.Done():
				b.log.Debug("subscription cancelled", "topic", topic)
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				if err := handler(ctx, msg.Key, msg.Value); err != nil {
					b.log.Error("message handler error", "topic", topic, "key", msg.Key, "error", err)
				}
			}
		}
	}()

	return nil
}

func (b *MemoryBus) remove(topic string, ch chan *Message) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subscribers[topic]
	for i, have := range subs {
		if have == ch {
			b.subscribers[topic] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
}

// Close drops all subscriptions
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for topic, subs := range b.subscribers {
		for _, ch := range subs {
			close(ch)
		}
		b.log.Debug("closed topic", "topic", topic)
	}
	b.subscribers = make(map[string][]chan *Message)

	return nil
}
