package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-engine/internal/model"
)

// SessionStatusRepository stores the proctor-controlled state of a session.
type SessionStatusRepository struct {
	pool *pgxpool.Pool
}

// NewSessionStatusRepository creates a new SessionStatusRepository.
func NewSessionStatusRepository(pool *pgxpool.Pool) *SessionStatusRepository {
	return &SessionStatusRepository{pool: pool}
}

// Get returns the session record, or pgx.ErrNoRows if the session was never opened.
func (r *SessionStatusRepository) Get(ctx context.Context, sessionID string) (*model.SessionStatusRecord, error) {
	s := &model.SessionStatusRecord{}
	err := r.pool.QueryRow(ctx,
		`SELECT session_id, status, announcement, updated_at
		 FROM exam_session_status WHERE session_id = $1`, sessionID,
	).Scan(&s.SessionID, &s.Status, &s.Announcement, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// SetStatus creates the session if needed and sets its status.
func (r *SessionStatusRepository) SetStatus(ctx context.Context, sessionID string, status model.SessionStatus, proctorID int) (*model.SessionStatusRecord, error) {
	s := &model.SessionStatusRecord{}
	err := r.pool.QueryRow(ctx,
		`INSERT INTO exam_session_status (session_id, status, updated_by)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (session_id) DO UPDATE
		 SET status = EXCLUDED.status, updated_by = EXCLUDED.updated_by, updated_at = NOW()
		 RETURNING session_id, status, announcement, updated_at`,
		sessionID, status, proctorID,
	).Scan(&s.SessionID, &s.Status, &s.Announcement, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// SetAnnouncement replaces the session announcement. An unknown session is
// created in the preparing state.
func (r *SessionStatusRepository) SetAnnouncement(ctx context.Context, sessionID, text string, proctorID int) (*model.SessionStatusRecord, error) {
	s := &model.SessionStatusRecord{}
	err := r.pool.QueryRow(ctx,
		`INSERT INTO exam_session_status (session_id, announcement, updated_by)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (session_id) DO UPDATE
		 SET announcement = EXCLUDED.announcement, updated_by = EXCLUDED.updated_by, updated_at = NOW()
		 RETURNING session_id, status, announcement, updated_at`,
		sessionID, text, proctorID,
	).Scan(&s.SessionID, &s.Status, &s.Announcement, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return s, nil
}
