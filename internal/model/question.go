package model

import (
	"errors"
	"fmt"
)

// QuestionType enumerates the item formats the engine can score.
type QuestionType string

const (
	QuestionTypeSingleChoice QuestionType = "single_choice"
	QuestionTypeMultiChoice  QuestionType = "multi_choice"
	QuestionTypeTrueFalseSet QuestionType = "true_false_set"
	QuestionTypeMatchingSet  QuestionType = "matching_set"
)

// Valid reports whether t is one of the known question types.
func (t QuestionType) Valid() bool {
	switch t {
	case QuestionTypeSingleChoice, QuestionTypeMultiChoice, QuestionTypeTrueFalseSet, QuestionTypeMatchingSet:
		return true
	}
	return false
}

// QuestionSpec is a single item of an exam package as delivered to the device.
// Options, Statements, LeftItems and RightItems describe what a candidate may
// answer with; Key is only read by the scoring package.
type QuestionSpec struct {
	ID         string       `json:"id" validate:"required"`
	Type       QuestionType `json:"type" validate:"required"`
	Weight     float64      `json:"weight" validate:"gte=0"`
	Options    []string     `json:"options,omitempty"`
	Statements []string     `json:"statements,omitempty"`
	LeftItems  []string     `json:"left_items,omitempty"`
	RightItems []string     `json:"right_items,omitempty"`
	Key        AnswerKey    `json:"key"`
}

// AnswerKey holds the type-specific correct answer of a question.
type AnswerKey struct {
	Label      string            `json:"label,omitempty"`
	Labels     []string          `json:"labels,omitempty"`
	Statements map[string]bool   `json:"statements,omitempty"`
	Pairs      map[string]string `json:"pairs,omitempty"`
}

// ErrNegativeWeight is returned for questions with a weight below zero.
var ErrNegativeWeight = errors.New("question weight must not be negative")

// Validate checks the structural invariants of a question.
func (q QuestionSpec) Validate() error {
	if q.ID == "" {
		return errors.New("question id is required")
	}
	if !q.Type.Valid() {
		return fmt.Errorf("question %s: unknown type %q", q.ID, q.Type)
	}
	if q.Weight < 0 {
		return fmt.Errorf("question %s: %w", q.ID, ErrNegativeWeight)
	}
	return nil
}

// CheckAnswer validates the shape of v against the question type. A nil value
// is always accepted and clears the answer.
func (q QuestionSpec) CheckAnswer(v *AnswerValue) error {
	if v == nil {
		return nil
	}

	switch q.Type {
	case QuestionTypeSingleChoice:
		if v.Kind != ValueLabel {
			return q.invalid("single choice expects one label, got %s", v.Kind)
		}
		if v.Label == "" {
			return q.invalid("label is empty")
		}
		if !q.knownOption(v.Label) {
			return q.invalid("unknown option %q", v.Label)
		}

	case QuestionTypeMultiChoice:
		switch v.Kind {
		case ValueLabel:
			if v.Label == "" {
				return q.invalid("label is empty")
			}
			if !q.knownOption(v.Label) {
				return q.invalid("unknown option %q", v.Label)
			}
		case ValueSet:
			seen := make(map[string]struct{}, len(v.Labels))
			for _, l := range v.Labels {
				if !q.knownOption(l) {
					return q.invalid("unknown option %q", l)
				}
				if _, dup := seen[l]; dup {
					return q.invalid("option %q selected twice", l)
				}
				seen[l] = struct{}{}
			}
		default:
			return q.invalid("multi choice expects a label or a label set, got %s", v.Kind)
		}

	case QuestionTypeTrueFalseSet:
		if v.Kind != ValueStatements {
			return q.invalid("true/false set expects statement answers, got %s", v.Kind)
		}
		for id := range v.Statements {
			if !q.knownStatement(id) {
				return q.invalid("unknown statement %q", id)
			}
		}

	case QuestionTypeMatchingSet:
		if v.Kind != ValuePairs {
			return q.invalid("matching set expects pairs, got %s", v.Kind)
		}
		for left, right := range v.Pairs {
			if !q.knownLeft(left) {
				return q.invalid("unknown left item %q", left)
			}
			if !q.knownRight(right) {
				return q.invalid("unknown right item %q", right)
			}
		}

	default:
		return q.invalid("unknown question type %q", q.Type)
	}

	return nil
}

func (q QuestionSpec) invalid(format string, args ...any) error {
	return &ValidationError{QuestionID: q.ID, Reason: fmt.Sprintf(format, args...)}
}

// knownOption accepts any label when the package did not ship an option list.
func (q QuestionSpec) knownOption(label string) bool {
	if len(q.Options) == 0 {
		return true
	}
	return contains(q.Options, label)
}

func (q QuestionSpec) knownStatement(id string) bool {
	if len(q.Statements) == 0 && len(q.Key.Statements) == 0 {
		return true
	}
	if contains(q.Statements, id) {
		return true
	}
	_, ok := q.Key.Statements[id]
	return ok
}

func (q QuestionSpec) knownLeft(item string) bool {
	if len(q.LeftItems) == 0 && len(q.Key.Pairs) == 0 {
		return true
	}
	if contains(q.LeftItems, item) {
		return true
	}
	_, ok := q.Key.Pairs[item]
	return ok
}

func (q QuestionSpec) knownRight(item string) bool {
	if len(q.RightItems) == 0 && len(q.Key.Pairs) == 0 {
		return true
	}
	if contains(q.RightItems, item) {
		return true
	}
	for _, r := range q.Key.Pairs {
		if r == item {
			return true
		}
	}
	return false
}

func contains(items []string, s string) bool {
	for _, it := range items {
		if it == s {
			return true
		}
	}
	return false
}
