package model

import "time"

// SessionStatus is the proctor-controlled status of a whole session.
type SessionStatus string

const (
	SessionStatusPreparing SessionStatus = "preparing"
	SessionStatusActive    SessionStatus = "active"
	SessionStatusEnded     SessionStatus = "ended"
)

// Valid reports whether s is a known session status.
func (s SessionStatus) Valid() bool {
	return s == SessionStatusPreparing || s == SessionStatusActive || s == SessionStatusEnded
}

// SessionStatusRecord is the session-level record read on every pull.
type SessionStatusRecord struct {
	SessionID    string        `json:"session_id"`
	Status       SessionStatus `json:"status"`
	Announcement string        `json:"announcement,omitempty"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// CandidateStatusRecord is the slice of the remote result record the device
// reads back on every pull.
type CandidateStatusRecord struct {
	ResultID         string       `json:"result_id"`
	Status           ResultStatus `json:"status"`
	ExtraTimeMinutes int          `json:"extra_time_minutes"`
}
