package model

import (
	"time"

	"github.com/google/uuid"
)

// ClosingStatus tags how a session ended.
type ClosingStatus string

const (
	ClosingCompleted        ClosingStatus = "completed"
	ClosingAutoSubmitted    ClosingStatus = "auto-submitted-on-timeout"
	ClosingForcedTerminated ClosingStatus = "forced-terminated"
)

// ResultStatus is the status column of the remote per-candidate result record.
type ResultStatus string

const (
	ResultStatusInProgress    ResultStatus = "in_progress"
	ResultStatusCompleted     ResultStatus = "completed"
	ResultStatusAutoSubmitted ResultStatus = "auto_submitted"
	ResultStatusBlocked       ResultStatus = "blocked"
)

// Valid reports whether s is a known remote status.
func (s ResultStatus) Valid() bool {
	switch s {
	case ResultStatusInProgress, ResultStatusCompleted, ResultStatusAutoSubmitted, ResultStatusBlocked:
		return true
	}
	return false
}

// Finished reports whether the status closes the record.
func (s ResultStatus) Finished() bool {
	return s != ResultStatusInProgress
}

// Totals are the scoring aggregates shared by provisional and final results.
type Totals struct {
	Answered   int     `json:"answered"`
	Correct    int     `json:"correct"`
	Incorrect  int     `json:"incorrect"`
	Total      int     `json:"total"`
	MaxScore   float64 `json:"max_score"`
	Score      float64 `json:"score"`
	FinalGrade float64 `json:"final_grade"`
	Passed     bool    `json:"passed"`
}

// ResultAnswer is one answer line of a result record, in question order.
type ResultAnswer struct {
	QuestionID      string       `json:"question_id"`
	Value           *AnswerValue `json:"answer"`
	MarkedForReview bool         `json:"marked_for_review"`
	Correct         bool         `json:"correct"`
}

// ResultRecord is the snapshot pushed to the authority. With Final set it is
// the terminal record of the session and is never modified again.
type ResultRecord struct {
	ID               string              `json:"id"`
	CandidateID      string              `json:"candidate_id"`
	SessionID        string              `json:"session_id"`
	PackageID        string              `json:"package_id"`
	CandidateName    string              `json:"candidate_name,omitempty"`
	CandidateNumber  string              `json:"candidate_number,omitempty"`
	Totals           Totals              `json:"totals"`
	PassingGrade     float64             `json:"passing_grade"`
	Answers          []ResultAnswer      `json:"answers"`
	ViolationCount   int                 `json:"violation_count"`
	ViolationLog     []ViolationLogEntry `json:"violation_log"`
	ExtraTimeMinutes int                 `json:"extra_time_minutes"`
	Status           ResultStatus        `json:"status"`
	ClosingStatus    ClosingStatus       `json:"closing_status,omitempty"`
	Final            bool                `json:"final"`
	ScoredAt         time.Time           `json:"scored_at"`
}

// Clone returns a deep copy of r.
func (r *ResultRecord) Clone() *ResultRecord {
	if r == nil {
		return nil
	}
	out := *r
	out.Answers = make([]ResultAnswer, len(r.Answers))
	for i, a := range r.Answers {
		a.Value = a.Value.Clone()
		out.Answers[i] = a
	}
	out.ViolationLog = append([]ViolationLogEntry{}, r.ViolationLog...)
	return &out
}

// StatusFor maps a closing status to the remote record status.
func StatusFor(c ClosingStatus, blocked bool) ResultStatus {
	if blocked {
		return ResultStatusBlocked
	}
	switch c {
	case ClosingCompleted:
		return ResultStatusCompleted
	case ClosingAutoSubmitted, ClosingForcedTerminated:
		return ResultStatusAutoSubmitted
	}
	return ResultStatusInProgress
}

var resultNamespace = uuid.MustParse("6f1c9a52-3d0e-5b8e-9a47-2c1f0e8d4b71")

// ResultID derives the deterministic id of the result record for a candidate
// in a session. Repeated pushes with the same id overwrite each other.
func ResultID(candidateID, sessionID string) string {
	return uuid.NewSHA1(resultNamespace, []byte(candidateID+"/"+sessionID)).String()
}
