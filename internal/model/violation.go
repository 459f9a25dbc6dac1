package model

import "time"

// ViolationCategory classifies a violation log entry.
type ViolationCategory string

const (
	ViolationFocusLoss      ViolationCategory = "focus-loss"
	ViolationFullscreenExit ViolationCategory = "fullscreen-exit"
	// ViolationRemoteNote entries record authority activity (extra time,
	// block, forced end, announcements). They never count as violations.
	ViolationRemoteNote ViolationCategory = "remote-note"
)

// Counts reports whether entries of this category increment the violation count.
func (c ViolationCategory) Counts() bool {
	return c == ViolationFocusLoss || c == ViolationFullscreenExit
}

// ViolationLogEntry is one append-only line of the session activity log.
type ViolationLogEntry struct {
	At       time.Time         `json:"at"`
	Category ViolationCategory `json:"category"`
	Note     string            `json:"note,omitempty"`
}
