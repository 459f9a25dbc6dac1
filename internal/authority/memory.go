package authority

import (
	"context"
	"sync"
	"time"

	"github.com/stemsi/exstem-engine/internal/model"
)

// Memory is an in-process authority with the same upsert rules as proctord.
// It doubles as the proctor console in tests.
type Memory struct {
	mu       sync.Mutex
	sessions map[string]model.SessionStatusRecord
	results  map[string]*model.ResultRecord
	status   map[string]model.CandidateStatusRecord
	subs     map[string][]chan model.Command

	offline  bool
	failPush bool
	failPull bool
	pushes   int
}

func NewMemory() *Memory {
	return &Memory{
		sessions: make(map[string]model.SessionStatusRecord),
		results:  make(map[string]*model.ResultRecord),
		status:   make(map[string]model.CandidateStatusRecord),
		subs:     make(map[string][]chan model.Command),
	}
}

// SetOffline makes every call fail with ErrUnavailable.
func (m *Memory) SetOffline(offline bool) {
	m.mu.Lock()
	m.offline = offline
	m.mu.Unlock()
}

// FailPush and FailPull break one direction only.
func (m *Memory) FailPush(fail bool) {
	m.mu.Lock()
	m.failPush = fail
	m.mu.Unlock()
}

func (m *Memory) FailPull(fail bool) {
	m.mu.Lock()
	m.failPull = fail
	m.mu.Unlock()
}

// Pushes reports how many pushes were accepted.
func (m *Memory) Pushes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pushes
}

// Result returns a copy of the stored record.
func (m *Memory) Result(resultID string) (*model.ResultRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.results[resultID]
	return rec.Clone(), ok
}

// Results counts stored records.
func (m *Memory) Results() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.results)
}

func (m *Memory) PushResult(_ context.Context, rec *model.ResultRecord) (model.CandidateStatusRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.offline || m.failPush {
		return model.CandidateStatusRecord{}, ErrUnavailable
	}

	m.pushes++
	m.results[rec.ID] = rec.Clone()

	st, ok := m.status[rec.ID]
	if !ok {
		st = model.CandidateStatusRecord{ResultID: rec.ID, Status: model.ResultStatusInProgress}
	}
	// A device never lifts a block, and extra time is proctor-owned.
	if st.Status != model.ResultStatusBlocked {
		st.Status = rec.Status
	}
	m.status[rec.ID] = st
	return st, nil
}

func (m *Memory) SessionStatus(_ context.Context, sessionID string) (model.SessionStatusRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.offline || m.failPull {
		return model.SessionStatusRecord{}, ErrUnavailable
	}
	s, ok := m.sessions[sessionID]
	if !ok {
		return model.SessionStatusRecord{}, ErrNotFound
	}
	return s, nil
}

func (m *Memory) CandidateStatus(_ context.Context, resultID string) (model.CandidateStatusRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.offline || m.failPull {
		return model.CandidateStatusRecord{}, ErrUnavailable
	}
	st, ok := m.status[resultID]
	if !ok {
		return model.CandidateStatusRecord{}, ErrNotFound
	}
	return st, nil
}

func (m *Memory) Ping(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.offline {
		return ErrUnavailable
	}
	return nil
}

// ─── Proctor side ───────────────────────────────────────────────────

// OpenSession creates or resets a session record.
func (m *Memory) OpenSession(sessionID string, status model.SessionStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.sessions[sessionID]
	s.SessionID = sessionID
	s.Status = status
	s.UpdatedAt = time.Now()
	m.sessions[sessionID] = s
}

// Announce sets the session announcement and broadcasts it.
func (m *Memory) Announce(sessionID, text string) {
	m.mu.Lock()
	s := m.sessions[sessionID]
	s.SessionID = sessionID
	s.Announcement = text
	s.UpdatedAt = time.Now()
	m.sessions[sessionID] = s
	m.mu.Unlock()

	m.publish(model.Command{Kind: model.CommandAnnouncement, SessionID: sessionID, Announcement: text, IssuedAt: time.Now()})
}

// EndSession marks the session ended and broadcasts the end command.
func (m *Memory) EndSession(sessionID string) {
	m.OpenSession(sessionID, model.SessionStatusEnded)
	m.publish(model.Command{Kind: model.CommandEndSession, SessionID: sessionID, IssuedAt: time.Now()})
}

// GrantExtraTime adds minutes to the candidate's total and broadcasts the
// new absolute total.
func (m *Memory) GrantExtraTime(sessionID, candidateID string, minutes int) int {
	id := model.ResultID(candidateID, sessionID)

	m.mu.Lock()
	st := m.candidate(id)
	st.ExtraTimeMinutes += minutes
	m.status[id] = st
	total := st.ExtraTimeMinutes
	m.mu.Unlock()

	m.publish(model.Command{
		Kind:             model.CommandExtraTime,
		SessionID:        sessionID,
		CandidateID:      candidateID,
		ExtraTimeMinutes: total,
		IssuedAt:         time.Now(),
	})
	return total
}

// Block marks the candidate blocked and broadcasts the block command.
func (m *Memory) Block(sessionID, candidateID, note string) {
	id := model.ResultID(candidateID, sessionID)

	m.mu.Lock()
	st := m.candidate(id)
	st.Status = model.ResultStatusBlocked
	m.status[id] = st
	m.mu.Unlock()

	m.publish(model.Command{Kind: model.CommandBlock, SessionID: sessionID, CandidateID: candidateID, Note: note, IssuedAt: time.Now()})
}

func (m *Memory) candidate(id string) model.CandidateStatusRecord {
	st, ok := m.status[id]
	if !ok {
		st = model.CandidateStatusRecord{ResultID: id, Status: model.ResultStatusInProgress}
	}
	return st
}

// Subscribe returns a fast-path command source for a session. Receivers
// filter candidate commands with Command.Targets.
func (m *Memory) Subscribe(sessionID string) CommandSource {
	ch := make(chan model.Command, 16)
	m.mu.Lock()
	m.subs[sessionID] = append(m.subs[sessionID], ch)
	m.mu.Unlock()
	return memorySub(ch)
}

// publish fans out without blocking; a full subscriber misses the command
// and picks the state up on the next pull.
func (m *Memory) publish(cmd model.Command) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.subs[cmd.SessionID] {
		select {
		case ch <- cmd:
		default:
		}
	}
}

type memorySub chan model.Command

func (s memorySub) Commands() <-chan model.Command { return s }
