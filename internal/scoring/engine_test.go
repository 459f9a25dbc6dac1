package scoring

import (
	"reflect"
	"testing"
	"time"

	"github.com/stemsi/exstem-engine/internal/model"
)

func samplePackage() []model.QuestionSpec {
	return []model.QuestionSpec{
		{ID: "q1", Type: model.QuestionTypeSingleChoice, Weight: 1, Options: []string{"A", "B", "C"},
			Key: model.AnswerKey{Label: "B"}},
		{ID: "q2", Type: model.QuestionTypeMultiChoice, Weight: 2, Options: []string{"A", "B", "C", "D"},
			Key: model.AnswerKey{Labels: []string{"A", "C"}}},
		{ID: "q3", Type: model.QuestionTypeTrueFalseSet, Weight: 3, Statements: []string{"s1", "s2", "s3"},
			Key: model.AnswerKey{Statements: map[string]bool{"s1": true, "s2": false, "s3": true}}},
		{ID: "q4", Type: model.QuestionTypeMatchingSet, Weight: 4, LeftItems: []string{"l1", "l2"}, RightItems: []string{"r1", "r2"},
			Key: model.AnswerKey{Pairs: map[string]string{"l1": "r2", "l2": "r1"}}},
	}
}

// perfectAnswers derives the all-correct answer map from the keys.
func perfectAnswers(t *testing.T, qs []model.QuestionSpec) model.AnswerMap {
	t.Helper()
	m := make(model.AnswerMap, len(qs))
	for _, q := range qs {
		var v *model.AnswerValue
		switch q.Type {
		case model.QuestionTypeSingleChoice:
			v = model.LabelAnswer(q.Key.Label)
		case model.QuestionTypeMultiChoice:
			// reversed order to prove set comparison
			labels := make([]string, 0, len(q.Key.Labels))
			for i := len(q.Key.Labels) - 1; i >= 0; i-- {
				labels = append(labels, q.Key.Labels[i])
			}
			v = model.SetAnswer(labels...)
		case model.QuestionTypeTrueFalseSet:
			v = model.StatementsAnswer(q.Key.Statements)
		case model.QuestionTypeMatchingSet:
			v = model.PairsAnswer(q.Key.Pairs)
		default:
			t.Fatalf("no perfect answer for type %s", q.Type)
		}
		m[q.ID] = model.AnswerRecord{QuestionID: q.ID, Value: v}
	}
	return m
}

func TestScorePerfectAnswersGrade100(t *testing.T) {
	qs := samplePackage()
	totals, _ := Score(qs, perfectAnswers(t, qs), 75)

	if totals.FinalGrade != 100 {
		t.Fatalf("FinalGrade = %v, want 100", totals.FinalGrade)
	}
	if totals.Correct != totals.Total || totals.Total != len(qs) {
		t.Fatalf("Correct = %d, Total = %d", totals.Correct, totals.Total)
	}
	if !totals.Passed {
		t.Fatal("perfect score should pass")
	}
	if totals.MaxScore != 10 || totals.Score != 10 {
		t.Fatalf("MaxScore = %v, Score = %v", totals.MaxScore, totals.Score)
	}
}

func TestScoreIsIdempotent(t *testing.T) {
	qs := samplePackage()
	answers := perfectAnswers(t, qs)
	answers["q2"] = model.AnswerRecord{QuestionID: "q2", Value: model.SetAnswer("A")}

	first, _ := Score(qs, answers, 50)
	second, _ := Score(qs, answers, 50)
	if first != second {
		t.Fatalf("totals differ between calls: %+v vs %+v", first, second)
	}
}

func TestScoreAllOrNothingRules(t *testing.T) {
	qs := samplePackage()

	cases := []struct {
		name  string
		qid   string
		value *model.AnswerValue
	}{
		{"multi superset", "q2", model.SetAnswer("A", "B", "C")},
		{"multi subset", "q2", model.SetAnswer("A")},
		{"tf one omitted", "q3", model.StatementsAnswer(map[string]bool{"s1": true, "s2": false})},
		{"tf one wrong", "q3", model.StatementsAnswer(map[string]bool{"s1": true, "s2": true, "s3": true})},
		{"matching partial", "q4", model.PairsAnswer(map[string]string{"l1": "r2"})},
		{"matching swapped", "q4", model.PairsAnswer(map[string]string{"l1": "r1", "l2": "r2"})},
		{"single wrong", "q1", model.LabelAnswer("A")},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			answers := model.AnswerMap{tc.qid: {QuestionID: tc.qid, Value: tc.value}}
			totals, outcomes := Score(qs, answers, 0)
			if totals.Correct != 0 || totals.Score != 0 {
				t.Fatalf("expected no credit, got %+v", totals)
			}
			if totals.Answered != 1 || totals.Incorrect != 1 {
				t.Fatalf("answered/incorrect = %d/%d, want 1/1", totals.Answered, totals.Incorrect)
			}
			for _, o := range outcomes {
				if o.Correct {
					t.Fatalf("question %s marked correct", o.QuestionID)
				}
			}
		})
	}
}

func TestScoreEmptyAnswersNeverCorrect(t *testing.T) {
	qs := []model.QuestionSpec{
		{ID: "q1", Type: model.QuestionTypeMultiChoice, Weight: 1, Key: model.AnswerKey{}},
		{ID: "q2", Type: model.QuestionTypeTrueFalseSet, Weight: 1, Key: model.AnswerKey{}},
	}
	answers := model.AnswerMap{
		"q1": {QuestionID: "q1", Value: model.SetAnswer()},
		"q2": {QuestionID: "q2", Value: model.StatementsAnswer(nil)},
	}
	totals, _ := Score(qs, answers, 0)
	if totals.Answered != 0 || totals.Correct != 0 {
		t.Fatalf("empty answers counted: %+v", totals)
	}
}

func TestScoreZeroWeightGradeIsZero(t *testing.T) {
	qs := []model.QuestionSpec{
		{ID: "q1", Type: model.QuestionTypeSingleChoice, Weight: 0, Key: model.AnswerKey{Label: "A"}},
	}
	answers := model.AnswerMap{"q1": {QuestionID: "q1", Value: model.LabelAnswer("A")}}

	totals, _ := Score(qs, answers, 0)
	if totals.FinalGrade != 0 {
		t.Fatalf("FinalGrade = %v, want 0", totals.FinalGrade)
	}
	if totals.Correct != 1 {
		t.Fatalf("Correct = %d, want 1", totals.Correct)
	}
}

func TestFinalRecordOnTimeoutWithNoAnswers(t *testing.T) {
	qs := make([]model.QuestionSpec, 10)
	for i := range qs {
		qs[i] = model.QuestionSpec{ID: string(rune('a' + i)), Type: model.QuestionTypeSingleChoice, Weight: 1, Key: model.AnswerKey{Label: "A"}}
	}
	at := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	in := Input{
		Descriptor: model.SessionDescriptor{CandidateID: "c1", SessionID: "s1", PassingGrade: 70},
		Questions:  qs,
		State:      model.NewSessionState(),
		At:         at,
	}

	rec := Final(in, model.ClosingAutoSubmitted, false)
	if rec.Totals.Answered != 0 || rec.Totals.FinalGrade != 0 || rec.Totals.Passed {
		t.Fatalf("unexpected totals %+v", rec.Totals)
	}
	if rec.Status != model.ResultStatusAutoSubmitted || !rec.Final {
		t.Fatalf("status = %s final = %v", rec.Status, rec.Final)
	}
	if rec.ID != model.ResultID("c1", "s1") {
		t.Fatalf("record id = %s", rec.ID)
	}
	if len(rec.Answers) != 10 {
		t.Fatalf("answers = %d, want one line per question", len(rec.Answers))
	}
}

func TestProvisionalAndFinalShareTotals(t *testing.T) {
	qs := samplePackage()
	st := model.NewSessionState()
	st.Answers = perfectAnswers(t, qs)
	st.ViolationCount = 2
	in := Input{
		Descriptor: model.SessionDescriptor{CandidateID: "c1", SessionID: "s1", PassingGrade: 60},
		Questions:  qs,
		State:      st,
		At:         time.Unix(1700000000, 0).UTC(),
	}

	p := Provisional(in)
	f := Final(in, model.ClosingCompleted, false)
	if !reflect.DeepEqual(p.Totals, f.Totals) {
		t.Fatalf("provisional %+v vs final %+v", p.Totals, f.Totals)
	}
	if p.Status != model.ResultStatusInProgress || p.Final {
		t.Fatalf("provisional status = %s final = %v", p.Status, p.Final)
	}
	if f.Status != model.ResultStatusCompleted || f.ViolationCount != 2 {
		t.Fatalf("final status = %s violations = %d", f.Status, f.ViolationCount)
	}

	blocked := Final(in, model.ClosingForcedTerminated, true)
	if blocked.Status != model.ResultStatusBlocked {
		t.Fatalf("blocked status = %s", blocked.Status)
	}
}
