package models

import "time"

// UpdateRecord is a journal entry for a settled settings update.
type UpdateRecord struct {
	ID        string    `json:"id"`
	Fields    []string  `json:"fields"`
	Phase     string    `json:"phase"` // committed, rolled_back
	ErrorKind string    `json:"error_kind,omitempty"`
	Error     string    `json:"error,omitempty"`
	StartedAt time.Time `json:"started_at"`
	SettledAt time.Time `json:"settled_at"`
}
