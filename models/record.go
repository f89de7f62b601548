package models

import (
	"time"
)

// EntryRecord is the persisted, reconciled state of one queue entry.
// ContentHash is its key; TimeOut and TimeStarted are write-once.
type EntryRecord struct {
	ContentHash string     `json:"content_hash"`
	ExternalID  *string    `json:"id"`
	Name        string     `json:"name"`
	ImageURL    string     `json:"image_url"`
	TimeIn      time.Time  `json:"time_in"`
	TimeOut     *time.Time `json:"time_out"`
	TimeStarted *time.Time `json:"time_started"`
	Server      *string    `json:"server"`
	Status      EntryState `json:"status"`
	Questions   []Question `json:"questions"`
	Implicit    bool       `json:"implicitly"`
}

// NewEntryRecord builds the record inserted the first time an entry's
// identity is seen.
func NewEntryRecord(e Entry) EntryRecord {
	e = e.normalized()
	return EntryRecord{
		ContentHash: e.ContentHash(),
		ExternalID:  e.ExternalID,
		Name:        e.Name,
		ImageURL:    e.ImageURL,
		TimeIn:      e.TimeIn,
		TimeOut:     e.TimeOut,
		Server:      e.Server,
		Status:      e.Status,
		Questions:   e.Questions,
	}
}
