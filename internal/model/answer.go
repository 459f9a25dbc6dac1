package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ValueKind identifies the shape carried by an AnswerValue.
type ValueKind string

const (
	ValueLabel      ValueKind = "label"
	ValueSet        ValueKind = "set"
	ValueStatements ValueKind = "statements"
	ValuePairs      ValueKind = "pairs"
)

// AnswerValue is the candidate's answer to one question. On the wire it is a
// bare JSON string, array or object, matching what the exam client sends.
type AnswerValue struct {
	Kind       ValueKind
	Label      string
	Labels     []string
	Statements map[string]bool
	Pairs      map[string]string
}

// LabelAnswer builds a single-label answer.
func LabelAnswer(label string) *AnswerValue {
	return &AnswerValue{Kind: ValueLabel, Label: label}
}

// SetAnswer builds a label-set answer.
func SetAnswer(labels ...string) *AnswerValue {
	return &AnswerValue{Kind: ValueSet, Labels: append([]string{}, labels...)}
}

// StatementsAnswer builds a true/false-set answer.
func StatementsAnswer(m map[string]bool) *AnswerValue {
	cp := make(map[string]bool, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return &AnswerValue{Kind: ValueStatements, Statements: cp}
}

// PairsAnswer builds a matching-set answer.
func PairsAnswer(m map[string]string) *AnswerValue {
	cp := make(map[string]string, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return &AnswerValue{Kind: ValuePairs, Pairs: cp}
}

// IsEmpty reports whether the value counts as unanswered: null, an empty set
// or an empty map. Every completion check goes through this method.
func (v *AnswerValue) IsEmpty() bool {
	if v == nil {
		return true
	}
	switch v.Kind {
	case ValueSet:
		return len(v.Labels) == 0
	case ValueStatements:
		return len(v.Statements) == 0
	case ValuePairs:
		return len(v.Pairs) == 0
	case ValueLabel:
		return false
	}
	return true
}

// Clone returns a deep copy of v.
func (v *AnswerValue) Clone() *AnswerValue {
	if v == nil {
		return nil
	}
	out := &AnswerValue{Kind: v.Kind, Label: v.Label}
	if v.Labels != nil {
		out.Labels = append([]string{}, v.Labels...)
	}
	if v.Statements != nil {
		out.Statements = make(map[string]bool, len(v.Statements))
		for k, b := range v.Statements {
			out.Statements[k] = b
		}
	}
	if v.Pairs != nil {
		out.Pairs = make(map[string]string, len(v.Pairs))
		for k, s := range v.Pairs {
			out.Pairs[k] = s
		}
	}
	return out
}

// ToggleLabel flips membership of label in the selected set, keeping the
// order in which labels were picked.
func ToggleLabel(selected []string, label string) []string {
	out := make([]string, 0, len(selected)+1)
	removed := false
	for _, l := range selected {
		if l == label {
			removed = true
			continue
		}
		out = append(out, l)
	}
	if !removed {
		out = append(out, label)
	}
	return out
}

// MarshalJSON encodes the value as a bare JSON string, array or object.
func (v AnswerValue) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case ValueLabel:
		return json.Marshal(v.Label)
	case ValueSet:
		if v.Labels == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.Labels)
	case ValueStatements:
		if v.Statements == nil {
			return []byte("{}"), nil
		}
		return json.Marshal(v.Statements)
	case ValuePairs:
		if v.Pairs == nil {
			return []byte("{}"), nil
		}
		return json.Marshal(v.Pairs)
	}
	return nil, fmt.Errorf("answer value: unknown kind %q", v.Kind)
}

// UnmarshalJSON infers the kind from the JSON shape. Objects of booleans are
// statement answers, objects of strings are matching pairs.
func (v *AnswerValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return errors.New("answer value: empty input")
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = AnswerValue{Kind: ValueLabel, Label: s}
		return nil

	case '[':
		var labels []string
		if err := json.Unmarshal(data, &labels); err != nil {
			return fmt.Errorf("answer value: %w", err)
		}
		*v = AnswerValue{Kind: ValueSet, Labels: labels}
		return nil

	case '{':
		var statements map[string]bool
		if err := json.Unmarshal(data, &statements); err == nil {
			*v = AnswerValue{Kind: ValueStatements, Statements: statements}
			return nil
		}
		var pairs map[string]string
		if err := json.Unmarshal(data, &pairs); err != nil {
			return fmt.Errorf("answer value: object is neither statements nor pairs: %w", err)
		}
		*v = AnswerValue{Kind: ValuePairs, Pairs: pairs}
		return nil
	}

	return fmt.Errorf("answer value: unsupported JSON %q", string(data))
}

// AnswerRecord is the stored answer for one question.
type AnswerRecord struct {
	QuestionID      string       `json:"question_id"`
	Value           *AnswerValue `json:"answer"`
	MarkedForReview bool         `json:"marked_for_review"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// Empty applies the unanswered rule to the record's value.
func (r AnswerRecord) Empty() bool {
	return r.Value.IsEmpty()
}

// AnswerMap indexes answer records by question id.
type AnswerMap map[string]AnswerRecord

// Clone returns a deep copy of m.
func (m AnswerMap) Clone() AnswerMap {
	out := make(AnswerMap, len(m))
	for id, rec := range m {
		rec.Value = rec.Value.Clone()
		out[id] = rec
	}
	return out
}

// ValidationError reports an answer whose shape does not match its question.
// It never results in a state change.
type ValidationError struct {
	QuestionID string
	Reason     string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid answer for question %s: %s", e.QuestionID, e.Reason)
}
