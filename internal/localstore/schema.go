package localstore

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/stemsi/exstem-engine/internal/model"
)

// SchemaVersion is the envelope version written by this package.
const SchemaVersion = 2

const (
	kindState  = "state"
	kindResult = "result"
)

var (
	// ErrNotFound means nothing was persisted under the key.
	ErrNotFound = errors.New("local entry not found")
	// ErrCorrupt means an entry exists but cannot be trusted.
	ErrCorrupt = errors.New("local entry is corrupt")
)

// envelope wraps every persisted document. The checksum covers the exact
// payload bytes so a torn or hand-edited write is detected instead of read.
type envelope struct {
	SchemaVersion int             `json:"schema_version"`
	Kind          string          `json:"kind"`
	SavedAt       time.Time       `json:"saved_at"`
	Checksum      string          `json:"checksum"`
	Payload       json.RawMessage `json:"payload"`
}

func checksum(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func encode(kind string, v any, at time.Time) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", kind, err)
	}
	return json.Marshal(envelope{
		SchemaVersion: SchemaVersion,
		Kind:          kind,
		SavedAt:       at.UTC(),
		Checksum:      checksum(payload),
		Payload:       payload,
	})
}

// open verifies the envelope and returns its payload.
func open(kind string, data []byte) (json.RawMessage, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if env.SchemaVersion != SchemaVersion {
		return nil, fmt.Errorf("%w: unsupported schema version %d", ErrCorrupt, env.SchemaVersion)
	}
	if env.Kind != kind {
		return nil, fmt.Errorf("%w: expected %s entry, found %q", ErrCorrupt, kind, env.Kind)
	}
	if env.Checksum != checksum(env.Payload) {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}
	return env.Payload, nil
}

// isLegacy reports whether data is the unversioned layout written by the
// browser client before envelopes existed.
func isLegacy(data []byte) bool {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return false
	}
	if _, ok := probe["schema_version"]; ok {
		return false
	}
	_, hasAnswers := probe["answers"]
	_, hasIdx := probe["currentIdx"]
	return hasAnswers || hasIdx
}

type legacyAnswer struct {
	QuestionID string             `json:"question_id"`
	Answer     *model.AnswerValue `json:"answer"`
	IsDoubtful bool               `json:"is_doubtful"`
	UpdatedAt  time.Time          `json:"updated_at"`
}

type legacyState struct {
	Answers     map[string]legacyAnswer `json:"answers"`
	CurrentIdx  int                     `json:"currentIdx"`
	Violations  int                     `json:"violations"`
	Logs        []string                `json:"logs"`
	ExtraTime   int                     `json:"extraTime"`
	LastReadMsg *string                 `json:"lastReadMsg"`
}

func migrateLegacy(data []byte) (*model.SessionState, error) {
	var old legacyState
	if err := json.Unmarshal(data, &old); err != nil {
		return nil, fmt.Errorf("%w: legacy layout: %v", ErrCorrupt, err)
	}

	st := model.NewSessionState()
	st.Cursor = old.CurrentIdx
	st.ViolationCount = old.Violations
	st.ExtraTimeMinutes = old.ExtraTime
	if old.LastReadMsg != nil {
		st.LastAcknowledgedAnnouncement = *old.LastReadMsg
	}
	for id, a := range old.Answers {
		qid := a.QuestionID
		if qid == "" {
			qid = id
		}
		st.Answers[qid] = model.AnswerRecord{
			QuestionID:      qid,
			Value:           a.Answer,
			MarkedForReview: a.IsDoubtful,
			UpdatedAt:       a.UpdatedAt,
		}
	}
	// Legacy lines are free text without a category or parseable time.
	for _, line := range old.Logs {
		st.ViolationLog = append(st.ViolationLog, model.ViolationLogEntry{
			Category: model.ViolationRemoteNote,
			Note:     line,
		})
	}
	return st, checkState(st)
}

// EncodeState serializes st into a versioned envelope.
func EncodeState(st *model.SessionState, at time.Time) ([]byte, error) {
	if st == nil {
		return nil, errors.New("encode state: nil state")
	}
	return encode(kindState, st, at)
}

// DecodeState parses an envelope or a legacy document into a session state.
func DecodeState(data []byte) (*model.SessionState, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%w: empty entry", ErrCorrupt)
	}
	if isLegacy(data) {
		return migrateLegacy(data)
	}

	payload, err := open(kindState, data)
	if err != nil {
		return nil, err
	}
	st := model.NewSessionState()
	if err := json.Unmarshal(payload, st); err != nil {
		return nil, fmt.Errorf("%w: state payload: %v", ErrCorrupt, err)
	}
	if st.Answers == nil {
		st.Answers = make(model.AnswerMap)
	}
	if st.ViolationLog == nil {
		st.ViolationLog = []model.ViolationLogEntry{}
	}
	return st, checkState(st)
}

func checkState(st *model.SessionState) error {
	switch {
	case st.Cursor < 0:
		return fmt.Errorf("%w: negative cursor", ErrCorrupt)
	case st.ViolationCount < 0:
		return fmt.Errorf("%w: negative violation count", ErrCorrupt)
	case st.ExtraTimeMinutes < 0:
		return fmt.Errorf("%w: negative extra time", ErrCorrupt)
	}
	counted := 0
	for _, e := range st.ViolationLog {
		if e.Category.Counts() {
			counted++
		}
	}
	if counted > st.ViolationCount {
		return fmt.Errorf("%w: violation log has %d entries but count is %d", ErrCorrupt, counted, st.ViolationCount)
	}
	return nil
}

// EncodeResult serializes a terminal result record.
func EncodeResult(rec *model.ResultRecord, at time.Time) ([]byte, error) {
	if rec == nil {
		return nil, errors.New("encode result: nil record")
	}
	return encode(kindResult, rec, at)
}

// DecodeResult parses a result envelope.
func DecodeResult(data []byte) (*model.ResultRecord, error) {
	payload, err := open(kindResult, data)
	if err != nil {
		return nil, err
	}
	var rec model.ResultRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		return nil, fmt.Errorf("%w: result payload: %v", ErrCorrupt, err)
	}
	if rec.ID == "" || !rec.Final {
		return nil, fmt.Errorf("%w: result slot holds a non-final record", ErrCorrupt)
	}
	return &rec, nil
}
