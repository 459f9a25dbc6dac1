package model

import "time"

// Proctor is a supervisor account on proctord.
type Proctor struct {
	ID           int       `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// ProctorLoginRequest is the payload for proctor authentication.
type ProctorLoginRequest struct {
	Email    string `json:"email" binding:"required,email,max=255"`
	Password string `json:"password" binding:"required,min=6,max=128"`
}

// SessionStatusRequest opens, activates or ends a session.
type SessionStatusRequest struct {
	Status SessionStatus `json:"status" binding:"required,oneof=preparing active ended"`
}

// AnnouncementRequest broadcasts a message to every device in a session.
type AnnouncementRequest struct {
	Text string `json:"text" binding:"required,max=2000"`
}

// ExtraTimeRequest adds minutes to a candidate's allowance.
type ExtraTimeRequest struct {
	Minutes int `json:"minutes" binding:"required,min=1,max=600"`
}

// BlockRequest terminates a candidate's session.
type BlockRequest struct {
	Note string `json:"note" binding:"max=500"`
}

// DeviceTokenRequest asks for a device token bound to one candidate.
type DeviceTokenRequest struct {
	CandidateID string `json:"candidate_id" binding:"required,max=128"`
}

// DeviceTokenResponse is returned to the proctor, who hands it to the device.
type DeviceTokenResponse struct {
	Token       string    `json:"token"`
	ResultID    string    `json:"result_id"`
	CandidateID string    `json:"candidate_id"`
	SessionID   string    `json:"session_id"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// ResultSummary is one row of the proctor's result list and monitor snapshot.
type ResultSummary struct {
	ResultID         string       `json:"result_id"`
	CandidateID      string       `json:"candidate_id"`
	CandidateName    string       `json:"candidate_name"`
	CandidateNumber  string       `json:"candidate_number"`
	Status           ResultStatus `json:"status"`
	Final            bool         `json:"final"`
	Answered         int          `json:"answered"`
	TotalQuestions   int          `json:"total_questions"`
	FinalGrade       float64      `json:"final_grade"`
	Passed           bool         `json:"passed"`
	ViolationCount   int          `json:"violation_count"`
	ExtraTimeMinutes int          `json:"extra_time_minutes"`
	UpdatedAt        time.Time    `json:"updated_at"`
}

// SummaryOf projects a pushed record onto the proctor view.
func SummaryOf(rec *ResultRecord, status CandidateStatusRecord) ResultSummary {
	return ResultSummary{
		ResultID:         rec.ID,
		CandidateID:      rec.CandidateID,
		CandidateName:    rec.CandidateName,
		CandidateNumber:  rec.CandidateNumber,
		Status:           status.Status,
		Final:            rec.Final,
		Answered:         rec.Totals.Answered,
		TotalQuestions:   rec.Totals.Total,
		FinalGrade:       rec.Totals.FinalGrade,
		Passed:           rec.Totals.Passed,
		ViolationCount:   rec.ViolationCount,
		ExtraTimeMinutes: status.ExtraTimeMinutes,
		UpdatedAt:        rec.ScoredAt,
	}
}

// MonitorEventType tags a message on the proctor monitor feed.
type MonitorEventType string

const (
	MonitorResult  MonitorEventType = "result"
	MonitorSession MonitorEventType = "session"
	MonitorCommand MonitorEventType = "command"
)

// MonitorEvent is one message on a session's monitor feed. Exactly one of
// the payload fields is set, matching Type.
type MonitorEvent struct {
	Type    MonitorEventType     `json:"type"`
	Result  *ResultSummary       `json:"result,omitempty"`
	Session *SessionStatusRecord `json:"session,omitempty"`
	Command *Command             `json:"command,omitempty"`
}
