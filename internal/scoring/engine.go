// Package scoring grades an answer map against an exam package. Provisional
// and final results come out of the same algorithm; final results are merely
// frozen into a terminal record by the caller.
package scoring

import (
	"time"

	"github.com/stemsi/exstem-engine/internal/model"
)

// Strategy decides whether a non-empty answer is correct for one question type.
type Strategy interface {
	Correct(q model.QuestionSpec, v *model.AnswerValue) bool
}

var strategies = map[model.QuestionType]Strategy{
	model.QuestionTypeSingleChoice: singleChoice{},
	model.QuestionTypeMultiChoice:  multiChoice{},
	model.QuestionTypeTrueFalseSet: trueFalseSet{},
	model.QuestionTypeMatchingSet:  matchingSet{},
}

// Outcome is the per-question grading result.
type Outcome struct {
	QuestionID string
	Answered   bool
	Correct    bool
	Weight     float64
}

// Grade scores a single question. Unanswered items and unknown types are
// never correct.
func Grade(q model.QuestionSpec, rec model.AnswerRecord, ok bool) Outcome {
	out := Outcome{QuestionID: q.ID, Weight: q.Weight}
	if !ok || rec.Empty() {
		return out
	}
	out.Answered = true

	s, known := strategies[q.Type]
	if !known {
		return out
	}
	out.Correct = s.Correct(q, rec.Value)
	return out
}

// Score computes the totals over the question list. Questions are the
// denominator; answers to ids outside the list are ignored.
func Score(questions []model.QuestionSpec, answers model.AnswerMap, passingGrade float64) (model.Totals, []Outcome) {
	totals := model.Totals{Total: len(questions)}
	outcomes := make([]Outcome, 0, len(questions))

	for _, q := range questions {
		rec, ok := answers[q.ID]
		o := Grade(q, rec, ok)
		outcomes = append(outcomes, o)

		totals.MaxScore += q.Weight
		if !o.Answered {
			continue
		}
		totals.Answered++
		if o.Correct {
			totals.Correct++
			totals.Score += q.Weight
		} else {
			totals.Incorrect++
		}
	}

	if totals.MaxScore > 0 {
		totals.FinalGrade = 100 * totals.Score / totals.MaxScore
	}
	totals.Passed = totals.FinalGrade >= passingGrade

	return totals, outcomes
}

// Input bundles everything a result record is built from.
type Input struct {
	Descriptor model.SessionDescriptor
	Questions  []model.QuestionSpec
	State      *model.SessionState
	At         time.Time
}

// Provisional builds the snapshot pushed on every sync tick.
func Provisional(in Input) *model.ResultRecord {
	rec := build(in)
	rec.Status = model.ResultStatusInProgress
	return rec
}

// Final builds the terminal record for the given closing status. blocked marks
// an authority-issued block, which keeps the remote status at blocked.
func Final(in Input, closing model.ClosingStatus, blocked bool) *model.ResultRecord {
	rec := build(in)
	rec.ClosingStatus = closing
	rec.Status = model.StatusFor(closing, blocked)
	rec.Final = true
	return rec
}

func build(in Input) *model.ResultRecord {
	d := in.Descriptor
	st := in.State
	if st == nil {
		st = model.NewSessionState()
	}

	totals, outcomes := Score(in.Questions, st.Answers, d.PassingGrade)

	answers := make([]model.ResultAnswer, len(in.Questions))
	for i, q := range in.Questions {
		rec := st.Answers[q.ID]
		answers[i] = model.ResultAnswer{
			QuestionID:      q.ID,
			Value:           rec.Value.Clone(),
			MarkedForReview: rec.MarkedForReview,
			Correct:         outcomes[i].Correct,
		}
	}

	return &model.ResultRecord{
		ID:               model.ResultID(d.CandidateID, d.SessionID),
		CandidateID:      d.CandidateID,
		SessionID:        d.SessionID,
		PackageID:        d.PackageID,
		CandidateName:    d.CandidateName,
		CandidateNumber:  d.CandidateNumber,
		Totals:           totals,
		PassingGrade:     d.PassingGrade,
		Answers:          answers,
		ViolationCount:   st.ViolationCount,
		ViolationLog:     append([]model.ViolationLogEntry{}, st.ViolationLog...),
		ExtraTimeMinutes: st.ExtraTimeMinutes,
		ScoredAt:         in.At,
	}
}
