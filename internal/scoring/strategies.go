package scoring

import "github.com/stemsi/exstem-engine/internal/model"

type singleChoice struct{}

func (singleChoice) Correct(q model.QuestionSpec, v *model.AnswerValue) bool {
	return v.Kind == model.ValueLabel && q.Key.Label != "" && v.Label == q.Key.Label
}

// multiChoice awards no partial credit: the selected set must equal the key.
type multiChoice struct{}

func (multiChoice) Correct(q model.QuestionSpec, v *model.AnswerValue) bool {
	var selected []string
	switch v.Kind {
	case model.ValueSet:
		selected = v.Labels
	case model.ValueLabel:
		selected = []string{v.Label}
	default:
		return false
	}

	key := toSet(q.Key.Labels)
	got := toSet(selected)
	if len(key) == 0 || len(key) != len(got) {
		return false
	}
	for l := range got {
		if _, ok := key[l]; !ok {
			return false
		}
	}
	return true
}

// trueFalseSet requires every statement answered and matching.
type trueFalseSet struct{}

func (trueFalseSet) Correct(q model.QuestionSpec, v *model.AnswerValue) bool {
	if v.Kind != model.ValueStatements || len(q.Key.Statements) == 0 {
		return false
	}
	if len(v.Statements) != len(q.Key.Statements) {
		return false
	}
	for id, want := range q.Key.Statements {
		got, ok := v.Statements[id]
		if !ok || got != want {
			return false
		}
	}
	return true
}

// matchingSet requires every left item mapped to its key partner.
type matchingSet struct{}

func (matchingSet) Correct(q model.QuestionSpec, v *model.AnswerValue) bool {
	if v.Kind != model.ValuePairs || len(q.Key.Pairs) == 0 {
		return false
	}
	if len(v.Pairs) != len(q.Key.Pairs) {
		return false
	}
	for left, want := range q.Key.Pairs {
		if got, ok := v.Pairs[left]; !ok || got != want {
			return false
		}
	}
	return true
}

func toSet(items []string) map[string]struct{} {
	m := make(map[string]struct{}, len(items))
	for _, it := range items {
		m[it] = struct{}{}
	}
	return m
}
