// Package notify carries resume change events between writers and the
// sessions observing a resume, and implements the client-side state
// machine that suppresses a writer's own echo.
package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Event types mirror the storage operations that raise them.
const (
	EventInsert = "insert"
	EventUpdate = "update"
)

// Event is one change-feed notification. Consumers trust only the
// identity it carries and always re-fetch content through the store;
// an empty Actor means the origin could not be determined.
type Event struct {
	Table    string    `json:"table"`
	Type     string    `json:"type"`
	ResumeID uuid.UUID `json:"resume_id"`
	Actor    string    `json:"actor,omitempty"`
}

// Feed is the change-feed boundary
type Feed interface {
	// Publish announces a change to every subscriber of the resume
	Publish(ctx context.Context, event Event) error

	// Subscribe opens a subscription scoped to one resume. The caller
	// must Close it to release the underlying connection.
	Subscribe(ctx context.Context, resumeID uuid.UUID) (Subscription, error)
}

// Subscription is a live event stream for one resume
type Subscription interface {
	// Events is closed when the subscription ends
	Events() <-chan Event
	Close() error
}

// ChannelPattern matches every resume's event channel
const ChannelPattern = "resume:events:*"

// EventChannel returns the pub/sub channel for one resume
func EventChannel(resumeID uuid.UUID) string {
	return fmt.Sprintf("resume:events:%s", resumeID)
}

// ResumeIDFromChannel extracts the resume identity from a channel name.
// Example: "resume:events:2f0c..." -> 2f0c...
func ResumeIDFromChannel(channel string) (uuid.UUID, error) {
	parts := strings.Split(channel, ":")
	if len(parts) != 3 || parts[0] != "resume" || parts[1] != "events" {
		return uuid.Nil, fmt.Errorf("invalid channel format: %s", channel)
	}
	id, err := uuid.Parse(parts[2])
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid resume id in channel %s: %w", channel, err)
	}
	return id, nil
}
