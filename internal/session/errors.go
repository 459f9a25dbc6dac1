package session

import (
	"errors"
	"fmt"

	"github.com/stemsi/exstem-engine/internal/model"
)

var (
	ErrNotStarted       = errors.New("session not started")
	ErrAlreadyStarted   = errors.New("session already started")
	ErrSessionBlocked   = errors.New("session blocked by proctor")
	ErrUnknownQuestion  = errors.New("unknown question")
	ErrAlreadyFinalized = errors.New("session already finalized")
	ErrClosed           = errors.New("session controller closed")
)

// AlreadyFinalizedError is returned by Start when the device already holds a
// final result for the candidate session. It matches ErrAlreadyFinalized.
type AlreadyFinalizedError struct {
	Result *model.ResultRecord
}

func (e *AlreadyFinalizedError) Error() string {
	return fmt.Sprintf("session %s already finalized for candidate %s (%s)",
		e.Result.SessionID, e.Result.CandidateID, e.Result.ClosingStatus)
}

func (e *AlreadyFinalizedError) Is(target error) bool {
	return target == ErrAlreadyFinalized
}
