package models

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

type EntryState string

const (
	EntryWaiting    EntryState = "waiting"
	EntryInProgress EntryState = "in_progress"
	EntryServed     EntryState = "served"
	EntryRemoved    EntryState = "removed"
)

// SignupTimeLayout is the precision at which the signup time (in UTC) takes
// part in an entry's identity. Seconds are never shown upstream.
const SignupTimeLayout = "03:04 PM"

func (s EntryState) Valid() bool {
	switch s {
	case EntryWaiting, EntryInProgress, EntryServed, EntryRemoved:
		return true
	}
	return false
}

func (s EntryState) Terminal() bool {
	return s == EntryServed || s == EntryRemoved
}

func (s EntryState) rank() int {
	switch s {
	case EntryInProgress:
		return 1
	case EntryServed, EntryRemoved:
		return 2
	}
	return 0
}

// CanAdvance reports whether an entry stored in state s may take the
// observed state next. Repeating the current state is always allowed;
// otherwise states only move forward along
// waiting -> in_progress -> served|removed.
func (s EntryState) CanAdvance(next EntryState) bool {
	if s == next {
		return true
	}
	if s.Terminal() || !next.Valid() {
		return false
	}
	return next.rank() > s.rank()
}

type Question struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Entry is one person's position in the queue as seen in a single snapshot.
type Entry struct {
	ExternalID *string    `json:"id"`
	Name       string     `json:"name"`
	ImageURL   string     `json:"image_url"`
	TimeIn     time.Time  `json:"time_in"`
	TimeOut    *time.Time `json:"time_out"`
	Server     *string    `json:"server"`
	Status     EntryState `json:"status"`
	Questions  []Question `json:"questions"`
}

// ContentHash is the entry's durable identity.
func (e Entry) ContentHash() string {
	answers := make([]string, 0, len(e.Questions))
	for _, q := range e.Questions {
		answers = append(answers, q.Answer)
	}
	return Fingerprint(e.Name, answers, e.TimeIn)
}

// Fingerprint hashes the immutable parts of an entry: the name, each
// answer in order and the UTC signup time of day.
func Fingerprint(name string, answers []string, timeIn time.Time) string {
	h := sha256.New()
	h.Write([]byte(name))
	for _, answer := range answers {
		h.Write([]byte(answer))
	}
	h.Write([]byte(timeIn.UTC().Format(SignupTimeLayout)))
	return hex.EncodeToString(h.Sum(nil))
}

func (e Entry) normalized() Entry {
	e.TimeIn = e.TimeIn.UTC()
	if e.TimeOut != nil {
		t := e.TimeOut.UTC()
		e.TimeOut = &t
	}
	if e.Questions == nil {
		e.Questions = []Question{}
	}
	return e
}
