package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stemsi/exstem-engine/internal/repository"
)

// Session errors.
var (
	ErrSessionNotFound   = errors.New("session not found")
	ErrSessionEnded      = errors.New("session already ended")
	ErrCandidateFinished = errors.New("candidate already finished")
)

// SessionService carries out proctor actions on a session and its candidates.
type SessionService struct {
	statusRepo *repository.SessionStatusRepository
	resultRepo *repository.ResultRepository
	bus        *Broadcaster
}

// NewSessionService creates a new SessionService.
func NewSessionService(
	statusRepo *repository.SessionStatusRepository,
	resultRepo *repository.ResultRepository,
	bus *Broadcaster,
) *SessionService {
	return &SessionService{statusRepo: statusRepo, resultRepo: resultRepo, bus: bus}
}

// Status returns the session record read by devices on every pull.
func (s *SessionService) Status(ctx context.Context, sessionID string) (*model.SessionStatusRecord, error) {
	rec, err := s.statusRepo.Get(ctx, sessionID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	return rec, err
}

// SetStatus moves the session to status. Ending a session is final and
// broadcasts an end-session command to every device.
func (s *SessionService) SetStatus(ctx context.Context, sessionID string, status model.SessionStatus, proctorID int) (*model.SessionStatusRecord, error) {
	current, err := s.statusRepo.Get(ctx, sessionID)
	switch {
	case err == nil:
		if current.Status == model.SessionStatusEnded && status != model.SessionStatusEnded {
			return nil, ErrSessionEnded
		}
	case errors.Is(err, pgx.ErrNoRows):
	default:
		return nil, err
	}

	rec, err := s.statusRepo.SetStatus(ctx, sessionID, status, proctorID)
	if err != nil {
		return nil, fmt.Errorf("set session status: %w", err)
	}

	s.bus.Monitor(ctx, sessionID, model.MonitorEvent{Type: model.MonitorSession, Session: rec})
	if status == model.SessionStatusEnded {
		s.bus.Command(ctx, model.Command{
			Kind:      model.CommandEndSession,
			SessionID: sessionID,
			IssuedAt:  time.Now(),
		})
	}
	return rec, nil
}

// End ends the session for every candidate.
func (s *SessionService) End(ctx context.Context, sessionID string, proctorID int) (*model.SessionStatusRecord, error) {
	return s.SetStatus(ctx, sessionID, model.SessionStatusEnded, proctorID)
}

// Announce replaces the session announcement and pushes it to devices.
func (s *SessionService) Announce(ctx context.Context, sessionID, text string, proctorID int) (*model.SessionStatusRecord, error) {
	rec, err := s.statusRepo.SetAnnouncement(ctx, sessionID, text, proctorID)
	if err != nil {
		return nil, fmt.Errorf("set announcement: %w", err)
	}

	s.bus.Monitor(ctx, sessionID, model.MonitorEvent{Type: model.MonitorSession, Session: rec})
	s.bus.Command(ctx, model.Command{
		Kind:         model.CommandAnnouncement,
		SessionID:    sessionID,
		Announcement: text,
		IssuedAt:     time.Now(),
	})
	return rec, nil
}

// GrantExtraTime adds minutes to a candidate's allowance. The broadcast
// carries the new total so a device that saw an earlier grant applies it once.
func (s *SessionService) GrantExtraTime(ctx context.Context, sessionID, candidateID string, minutes int) (model.CandidateStatusRecord, error) {
	id := model.ResultID(candidateID, sessionID)
	st, err := s.resultRepo.AddExtraTime(ctx, id, sessionID, candidateID, minutes)
	if err != nil {
		return model.CandidateStatusRecord{}, fmt.Errorf("add extra time: %w", err)
	}

	s.bus.Command(ctx, model.Command{
		Kind:             model.CommandExtraTime,
		SessionID:        sessionID,
		CandidateID:      candidateID,
		ExtraTimeMinutes: st.ExtraTimeMinutes,
		IssuedAt:         time.Now(),
	})
	return st, nil
}

// Block terminates a candidate's session. Blocking is sticky: later device
// pushes keep the blocked status.
func (s *SessionService) Block(ctx context.Context, sessionID, candidateID, note string) (model.CandidateStatusRecord, error) {
	id := model.ResultID(candidateID, sessionID)

	st, err := s.resultRepo.GetStatus(ctx, id)
	switch {
	case err == nil:
		if st.Status == model.ResultStatusCompleted || st.Status == model.ResultStatusAutoSubmitted {
			return st, ErrCandidateFinished
		}
	case errors.Is(err, pgx.ErrNoRows):
	default:
		return model.CandidateStatusRecord{}, err
	}

	st, err = s.resultRepo.Block(ctx, id, sessionID, candidateID)
	if err != nil {
		return model.CandidateStatusRecord{}, fmt.Errorf("block candidate: %w", err)
	}

	s.bus.Command(ctx, model.Command{
		Kind:        model.CommandBlock,
		SessionID:   sessionID,
		CandidateID: candidateID,
		Note:        note,
		IssuedAt:    time.Now(),
	})
	return st, nil
}

// ListResults returns the proctor view of every candidate in the session.
func (s *SessionService) ListResults(ctx context.Context, sessionID string) ([]model.ResultSummary, error) {
	return s.resultRepo.ListBySession(ctx, sessionID)
}
