package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func testEntry() Entry {
	return Entry{
		Name:     "Alice",
		ImageURL: "https://example.com/alice.png",
		TimeIn:   time.Date(2024, 3, 4, 14, 0, 0, 0, time.UTC),
		Status:   EntryWaiting,
		Questions: []Question{
			{Question: "Course", Answer: "CS101"},
			{Question: "Location", Answer: "Table 4"},
		},
	}
}

func TestEntry_ContentHashStable(t *testing.T) {
	entry := testEntry()

	first := entry.ContentHash()
	second := entry.ContentHash()

	assert.Equal(t, first, second)
	assert.Len(t, first, 64)
}

func TestEntry_ContentHashIgnoresMutableFields(t *testing.T) {
	entry := testEntry()
	base := entry.ContentHash()

	entry.Status = EntryInProgress
	entry.Server = strPtr("Bob")
	entry.ExternalID = strPtr("42")
	out := time.Date(2024, 3, 4, 14, 30, 0, 0, time.UTC)
	entry.TimeOut = &out
	entry.ImageURL = "https://example.com/other.png"

	assert.Equal(t, base, entry.ContentHash())
}

func TestEntry_ContentHashSignupPrecision(t *testing.T) {
	entry := testEntry()
	base := entry.ContentHash()

	// Seconds and the date are below the fingerprint's precision.
	entry.TimeIn = time.Date(2024, 3, 5, 14, 0, 37, 0, time.UTC)
	assert.Equal(t, base, entry.ContentHash())

	entry.TimeIn = time.Date(2024, 3, 4, 14, 1, 0, 0, time.UTC)
	assert.NotEqual(t, base, entry.ContentHash())
}

func TestEntry_ContentHashIgnoresZone(t *testing.T) {
	entry := testEntry()
	base := entry.ContentHash()

	pacific := time.FixedZone("PST", -8*60*60)
	entry.TimeIn = entry.TimeIn.In(pacific)

	assert.Equal(t, base, entry.ContentHash())
}

func TestEntry_ContentHashDependsOnContent(t *testing.T) {
	base := testEntry().ContentHash()

	renamed := testEntry()
	renamed.Name = "Alicia"
	assert.NotEqual(t, base, renamed.ContentHash())

	reanswered := testEntry()
	reanswered.Questions[0].Answer = "CS102"
	assert.NotEqual(t, base, reanswered.ContentHash())

	reordered := testEntry()
	reordered.Questions[0], reordered.Questions[1] = reordered.Questions[1], reordered.Questions[0]
	assert.NotEqual(t, base, reordered.ContentHash())

	// Question text is not part of the identity.
	relabelled := testEntry()
	relabelled.Questions[0].Question = "Class"
	assert.Equal(t, base, relabelled.ContentHash())
}

func TestEntryState_CanAdvance(t *testing.T) {
	tests := []struct {
		from, to EntryState
		want     bool
	}{
		{EntryWaiting, EntryWaiting, true},
		{EntryWaiting, EntryInProgress, true},
		{EntryWaiting, EntryServed, true},
		{EntryWaiting, EntryRemoved, true},
		{EntryInProgress, EntryInProgress, true},
		{EntryInProgress, EntryServed, true},
		{EntryInProgress, EntryRemoved, true},
		{EntryInProgress, EntryWaiting, false},
		{EntryServed, EntryServed, true},
		{EntryServed, EntryWaiting, false},
		{EntryServed, EntryInProgress, false},
		{EntryServed, EntryRemoved, false},
		{EntryRemoved, EntryWaiting, false},
		{EntryRemoved, EntryServed, false},
		{EntryWaiting, EntryState("bogus"), false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanAdvance(tt.to))
		})
	}
}

func TestSnapshot_NormalizedSerializesEqualContentEqually(t *testing.T) {
	pacific := time.FixedZone("PST", -8*60*60)
	entry := testEntry()
	local := entry
	local.TimeIn = entry.TimeIn.In(pacific)
	local.Questions = append([]Question(nil), entry.Questions...)

	a := Snapshot{State: QueueOpen, Entries: []Entry{entry}}
	b := Snapshot{State: QueueOpen, Entries: []Entry{local}, Chat: []ChatMessage{}, Servers: []ActiveServer{}}

	rawA, err := json.Marshal(a.Normalized())
	require.NoError(t, err)
	rawB, err := json.Marshal(b.Normalized())
	require.NoError(t, err)

	assert.JSONEq(t, string(rawA), string(rawB))
	assert.Contains(t, string(rawA), `"chat":[]`)
}

func TestSnapshot_ContentHashes(t *testing.T) {
	second := testEntry()
	second.Name = "Carol"
	snap := Snapshot{State: QueueOpen, Entries: []Entry{testEntry(), second}}

	hashes := snap.ContentHashes()

	require.Len(t, hashes, 2)
	assert.Equal(t, testEntry().ContentHash(), hashes[0])
	assert.Equal(t, second.ContentHash(), hashes[1])
}

func TestHistoryRecord_JSONFlattensSnapshot(t *testing.T) {
	record := HistoryRecord{
		Snapshot:  Snapshot{State: QueueClosed}.Normalized(),
		Timestamp: time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC),
	}

	raw, err := json.Marshal(record)
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(raw, &fields))
	assert.Equal(t, "closed", fields["state"])
	assert.Contains(t, fields, "timestamp")
	assert.Contains(t, fields, "entries")
}

func TestNewEntryRecord(t *testing.T) {
	entry := testEntry()
	entry.ExternalID = strPtr("42")

	record := NewEntryRecord(entry)

	assert.Equal(t, entry.ContentHash(), record.ContentHash)
	assert.Equal(t, "42", *record.ExternalID)
	assert.Equal(t, EntryWaiting, record.Status)
	assert.Nil(t, record.TimeStarted)
	assert.False(t, record.Implicit)
	assert.Len(t, record.Questions, 2)
}

func TestNewQueueEvent_Deterministic(t *testing.T) {
	at := time.Date(2024, 3, 4, 9, 0, 0, 0, time.FixedZone("PST", -8*60*60))

	a := NewQueueEvent("q1", EventQueueOpen, at)
	b := NewQueueEvent("q1", EventQueueOpen, at.UTC())
	c := NewQueueEvent("q2", EventQueueOpen, at)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a.ID, c.ID)
	assert.Equal(t, time.UTC, a.Timestamp.Location())
}
