package model

import "time"

// CommandKind identifies an authority-issued command.
type CommandKind string

const (
	CommandAnnouncement CommandKind = "announcement"
	CommandExtraTime    CommandKind = "extra_time"
	CommandBlock        CommandKind = "block"
	CommandEndSession   CommandKind = "end_session"
)

// Command is delivered to the device by the periodic pull or the fast-path
// stream. ExtraTimeMinutes is the absolute total granted so far, not a delta.
type Command struct {
	Kind             CommandKind `json:"kind"`
	SessionID        string      `json:"session_id"`
	CandidateID      string      `json:"candidate_id,omitempty"`
	Announcement     string      `json:"announcement,omitempty"`
	ExtraTimeMinutes int         `json:"extra_time_minutes,omitempty"`
	Note             string      `json:"note,omitempty"`
	IssuedAt         time.Time   `json:"issued_at"`
}

// Targets reports whether the command applies to the given candidate.
// Session-wide commands carry no candidate id.
func (c Command) Targets(sessionID, candidateID string) bool {
	if c.SessionID != "" && c.SessionID != sessionID {
		return false
	}
	return c.CandidateID == "" || c.CandidateID == candidateID
}

// SyncSnapshot is what the synchronization engine reads from the controller
// on each tick.
type SyncSnapshot struct {
	Phase            Phase
	Record           *ResultRecord
	ExtraTimeMinutes int
	Announcement     string
}
