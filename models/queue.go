package models

import (
	"time"
)

type QueueState string

const (
	QueueOpen   QueueState = "open"
	QueueClosed QueueState = "closed"
)

// Snapshot is one complete observation of a queue page. It is never
// mutated once produced.
type Snapshot struct {
	State   QueueState     `json:"state"`
	Entries []Entry        `json:"entries"`
	Chat    []ChatMessage  `json:"chat"`
	Servers []ActiveServer `json:"servers"`
}

type ChatMessage struct {
	Name      string    `json:"name"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

type ActiveServer struct {
	Name     string `json:"name"`
	ImageURL string `json:"image_url"`
}

// HistoryRecord is a deduplicated snapshot together with the time it was
// observed.
type HistoryRecord struct {
	Snapshot
	Timestamp time.Time `json:"timestamp"`
}

// ContentHashes returns the identity of every entry in the snapshot, in
// page order.
func (s Snapshot) ContentHashes() []string {
	hashes := make([]string, 0, len(s.Entries))
	for _, entry := range s.Entries {
		hashes = append(hashes, entry.ContentHash())
	}
	return hashes
}

// Normalized returns a copy with non-nil slices and every timestamp in UTC,
// so that equal content always serializes to equal bytes.
func (s Snapshot) Normalized() Snapshot {
	out := Snapshot{
		State:   s.State,
		Entries: make([]Entry, 0, len(s.Entries)),
		Chat:    make([]ChatMessage, 0, len(s.Chat)),
		Servers: make([]ActiveServer, 0, len(s.Servers)),
	}
	for _, entry := range s.Entries {
		out.Entries = append(out.Entries, entry.normalized())
	}
	for _, msg := range s.Chat {
		msg.Timestamp = msg.Timestamp.UTC()
		out.Chat = append(out.Chat, msg)
	}
	out.Servers = append(out.Servers, s.Servers...)
	return out
}
