package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventQueueOpen  EventType = "queue_open"
	EventQueueClose EventType = "queue_close"
)

type QueueEvent struct {
	ID        string    `json:"id"`
	Type      EventType `json:"event"`
	Timestamp time.Time `json:"timestamp"`
}

// NewQueueEvent derives the event ID from its content, so a replayed event
// carries the same ID as the live one.
func NewQueueEvent(queueID string, eventType EventType, at time.Time) QueueEvent {
	at = at.UTC()
	name := fmt.Sprintf("%s/%s/%d", queueID, eventType, at.UnixNano())
	return QueueEvent{
		ID:        uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String(),
		Type:      eventType,
		Timestamp: at,
	}
}
