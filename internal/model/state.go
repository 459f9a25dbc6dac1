package model

// Phase is the lifecycle phase of a session on the device.
type Phase string

const (
	PhaseNotStarted Phase = "not_started"
	PhaseInProgress Phase = "in_progress"
	PhaseSubmitting Phase = "submitting"
	PhaseFinalized  Phase = "finalized"
	PhaseBlocked    Phase = "blocked"
)

// Terminal reports whether no further mutation is accepted in this phase.
func (p Phase) Terminal() bool {
	return p == PhaseFinalized || p == PhaseBlocked
}

// SessionState is the mutable aggregate owned by the session controller.
type SessionState struct {
	Cursor                       int                 `json:"cursor"`
	Answers                      AnswerMap           `json:"answers"`
	ViolationCount               int                 `json:"violation_count"`
	ViolationLog                 []ViolationLogEntry `json:"violation_log"`
	ExtraTimeMinutes             int                 `json:"extra_time_minutes"`
	LastAcknowledgedAnnouncement string              `json:"last_acknowledged_announcement"`
	PendingAnnouncement          string              `json:"pending_announcement,omitempty"`
	Online                       bool                `json:"-"`
	Phase                        Phase               `json:"-"`
}

// NewSessionState returns an empty state ready for a fresh start.
func NewSessionState() *SessionState {
	return &SessionState{
		Answers:      make(AnswerMap),
		ViolationLog: []ViolationLogEntry{},
		Phase:        PhaseNotStarted,
	}
}

// Clone returns a deep copy so callers can never alias controller state.
func (s *SessionState) Clone() *SessionState {
	if s == nil {
		return nil
	}
	out := *s
	out.Answers = s.Answers.Clone()
	out.ViolationLog = append([]ViolationLogEntry{}, s.ViolationLog...)
	return &out
}

// UnreadAnnouncement reports whether the pending announcement differs from
// the last one the candidate acknowledged.
func (s *SessionState) UnreadAnnouncement() bool {
	return s.PendingAnnouncement != "" && s.PendingAnnouncement != s.LastAcknowledgedAnnouncement
}
