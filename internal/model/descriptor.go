package model

import (
	"errors"
	"time"
)

// SessionDescriptor is supplied by the enrolling system when a session starts.
// The engine never mutates it.
type SessionDescriptor struct {
	CandidateID     string    `json:"candidate_id" validate:"required"`
	SessionID       string    `json:"session_id" validate:"required"`
	PackageID       string    `json:"package_id" validate:"required"`
	Expiry          time.Time `json:"expiry" validate:"required"`
	PassingGrade    float64   `json:"passing_grade" validate:"gte=0,lte=100"`
	CandidateName   string    `json:"candidate_name,omitempty"`
	CandidateNumber string    `json:"candidate_number,omitempty"`
	SessionName     string    `json:"session_name,omitempty"`
}

// ExamPackage is what the device harness loads from disk: the descriptor and
// the ordered question list.
type ExamPackage struct {
	Descriptor SessionDescriptor `json:"descriptor" validate:"required"`
	Questions  []QuestionSpec    `json:"questions" validate:"required,min=1,dive"`
}

// Validate checks the identifiers needed to key local and remote records.
func (d SessionDescriptor) Validate() error {
	if d.CandidateID == "" {
		return errors.New("descriptor: candidate id is required")
	}
	if d.SessionID == "" {
		return errors.New("descriptor: session id is required")
	}
	if d.Expiry.IsZero() {
		return errors.New("descriptor: expiry is required")
	}
	return nil
}
