// Package authority is the device side of the remote contract: pushing result
// snapshots and reading session and candidate status back.
package authority

import (
	"context"
	"errors"

	"github.com/stemsi/exstem-engine/internal/model"
)

var (
	// ErrUnavailable wraps every transport failure. Callers retry on the
	// next sync tick.
	ErrUnavailable = errors.New("authority unavailable")
	// ErrNotFound means the authority has no record for the key yet.
	ErrNotFound = errors.New("authority record not found")
)

// Authority is the remote system of record.
type Authority interface {
	// PushResult upserts the record under rec.ID and returns the remote
	// status fields as they stand after the write.
	PushResult(ctx context.Context, rec *model.ResultRecord) (model.CandidateStatusRecord, error)
	SessionStatus(ctx context.Context, sessionID string) (model.SessionStatusRecord, error)
	CandidateStatus(ctx context.Context, resultID string) (model.CandidateStatusRecord, error)
	// Ping is a cheap reachability probe.
	Ping(ctx context.Context) error
}

// CommandSource delivers fast-path commands. The channel closes when the
// source stops.
type CommandSource interface {
	Commands() <-chan model.Command
}
