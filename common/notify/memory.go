package notify

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemoryFeed is an in-process Feed for tests and single-node runs
type MemoryFeed struct {
	mu   sync.Mutex
	subs map[uuid.UUID][]*memorySubscription
}

// NewMemoryFeed creates an empty in-memory feed
func NewMemoryFeed() *MemoryFeed {
	return &MemoryFeed{subs: make(map[uuid.UUID][]*memorySubscription)}
}

// Publish delivers the event to every open subscription for the resume
func (f *MemoryFeed) Publish(ctx context.Context, event Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, sub := range f.subs[event.ResumeID] {
		select {
		case sub.out <- event:
		default:
			// Same contract as the Redis feed: events are hints, a
			// saturated consumer just re-fetches later.
		}
	}
	return nil
}

// Subscribe opens a subscription for one resume
func (f *MemoryFeed) Subscribe(ctx context.Context, resumeID uuid.UUID) (Subscription, error) {
	sub := &memorySubscription{
		feed:     f,
		resumeID: resumeID,
		out:      make(chan Event, 16),
	}

	f.mu.Lock()
	f.subs[resumeID] = append(f.subs[resumeID], sub)
	f.mu.Unlock()

	return sub, nil
}

type memorySubscription struct {
	feed     *MemoryFeed
	resumeID uuid.UUID
	out      chan Event
	once     sync.Once
}

func (s *memorySubscription) Events() <-chan Event {
	return s.out
}

func (s *memorySubscription) Close() error {
	s.once.Do(func() {
		s.feed.mu.Lock()
		subs := s.feed.subs[s.resumeID]
		for i, have := range subs {
			if have == s {
				s.feed.subs[s.resumeID] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		close(s.out)
		s.feed.mu.Unlock()
	})
	return nil
}
