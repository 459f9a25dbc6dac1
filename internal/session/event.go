package session

import (
	"time"

	"github.com/stemsi/exstem-engine/internal/model"
)

// EventKind names what changed in the controller.
type EventKind string

const (
	EventStarted        EventKind = "started"
	EventResumed        EventKind = "resumed"
	EventAnswerRecorded EventKind = "answer_recorded"
	EventReviewToggled  EventKind = "review_toggled"
	EventNavigated      EventKind = "navigated"
	EventTick           EventKind = "tick"
	EventViolation      EventKind = "violation"
	EventAnnouncement   EventKind = "announcement"
	EventExtraTime      EventKind = "extra_time"
	EventConnectivity   EventKind = "connectivity"
	EventBlocked        EventKind = "blocked"
	EventFinalized      EventKind = "finalized"
	// EventAnomaly reports local data loss or a failed local write.
	EventAnomaly EventKind = "anomaly"
)

// Anomaly classifies an EventAnomaly.
type Anomaly string

const (
	AnomalyStateReset      Anomaly = "state_reset"
	AnomalyWriteFailed     Anomaly = "write_failed"
	AnomalyResultNotStored Anomaly = "result_not_stored"
)

// Event is published to subscribers after every state change. Only the
// fields relevant to Kind are set.
type Event struct {
	Kind             EventKind
	At               time.Time
	Phase            model.Phase
	Remaining        time.Duration
	QuestionID       string
	Cursor           int
	Category         model.ViolationCategory
	ViolationCount   int
	Announcement     string
	ExtraTimeMinutes int
	Online           bool
	Result           *model.ResultRecord
	Anomaly          Anomaly
	Note             string
}

// Progress summarizes answered questions with the shared empty rule.
type Progress struct {
	Answered        int
	Total           int
	MarkedForReview int
	Cursor          int
}

// Complete reports whether every question has a non-empty answer.
func (p Progress) Complete() bool {
	return p.Total > 0 && p.Answered == p.Total
}
