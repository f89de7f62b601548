package store

import (
	"encoding/json"
	"fmt"
	"time"

	"queue-monitor/models"
)

const (
	fieldContentHash = "content_hash"
	fieldExternalID  = "external_id"
	fieldName        = "name"
	fieldImageURL    = "image_url"
	fieldTimeIn      = "time_in"
	fieldTimeOut     = "time_out"
	fieldTimeStarted = "time_started"
	fieldServer      = "server"
	fieldStatus      = "status"
	fieldQuestions   = "questions"
	fieldImplicit    = "implicitly"
)

// immutableFields returns the field/value pairs written only when an entry
// is first inserted. Absent optional values are omitted so that they stay
// settable later.
func immutableFields(rec models.EntryRecord) ([]any, error) {
	questions := rec.Questions
	if questions == nil {
		questions = []models.Question{}
	}
	raw, err := json.Marshal(questions)
	if err != nil {
		return nil, fmt.Errorf("marshal questions: %w", err)
	}

	fields := []any{
		fieldContentHash, rec.ContentHash,
		fieldName, rec.Name,
		fieldImageURL, rec.ImageURL,
		fieldTimeIn, formatTime(rec.TimeIn),
		fieldQuestions, string(raw),
	}
	if rec.TimeOut != nil {
		fields = append(fields, fieldTimeOut, formatTime(*rec.TimeOut))
	}
	return fields, nil
}

// entryFromFields maps a stored Redis hash back to a record.
func entryFromFields(values map[string]string) (models.EntryRecord, error) {
	rec := models.EntryRecord{
		ContentHash: values[fieldContentHash],
		Name:        values[fieldName],
		ImageURL:    values[fieldImageURL],
		Status:      models.EntryState(values[fieldStatus]),
		Implicit:    values[fieldImplicit] == "1",
	}

	var err error
	if rec.TimeIn, err = parseTime(values[fieldTimeIn]); err != nil {
		return rec, fmt.Errorf("entry %s time_in: %w", rec.ContentHash, err)
	}
	if rec.TimeOut, err = parseOptionalTime(values[fieldTimeOut]); err != nil {
		return rec, fmt.Errorf("entry %s time_out: %w", rec.ContentHash, err)
	}
	if rec.TimeStarted, err = parseOptionalTime(values[fieldTimeStarted]); err != nil {
		return rec, fmt.Errorf("entry %s time_started: %w", rec.ContentHash, err)
	}
	if v := values[fieldExternalID]; v != "" {
		rec.ExternalID = &v
	}
	if v := values[fieldServer]; v != "" {
		rec.Server = &v
	}

	rec.Questions = []models.Question{}
	if raw := values[fieldQuestions]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &rec.Questions); err != nil {
			return rec, fmt.Errorf("entry %s questions: %w", rec.ContentHash, err)
		}
	}
	return rec, nil
}

func optional(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func parseOptionalTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := parseTime(s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
