// Package scoring turns a session's questions and submitted answers into
// statistics. Everything here is pure: no I/O and no clock reads.
package scoring

import (
	"fmt"
	"time"

	"github.com/stemsi/psytest-backend/internal/apperror"
	"github.com/stemsi/psytest-backend/internal/model"
)

// outcome is the classification of one question.
type outcome int

const (
	notAttempted outcome = iota
	attemptedUngraded
	correct
	wrong
)

// indexAnswers validates answers against the question set and returns them
// keyed by question id.
func indexAnswers(questions []model.Question, answers []model.Answer) (map[string]model.Answer, apperror.ValidationErrors) {
	byID := make(map[string]model.Question, len(questions))
	for _, q := range questions {
		byID[q.ID] = q
	}

	var ve apperror.ValidationErrors
	indexed := make(map[string]model.Answer, len(answers))
	for i, a := range answers {
		field := fmt.Sprintf("answers[%d]", i)
		q, ok := byID[a.QuestionID]
		if !ok {
			ve.Add(field+".question_id", "references an unknown question", a.QuestionID)
			continue
		}
		if _, dup := indexed[a.QuestionID]; dup {
			ve.Add(field+".question_id", "duplicate answer for question", a.QuestionID)
			continue
		}
		if a.SelectedOption != nil && !q.ValidOption(*a.SelectedOption) {
			ve.Add(field+".selected_option", fmt.Sprintf("must be between 0 and %d", len(q.Options)-1), *a.SelectedOption)
			continue
		}
		indexed[a.QuestionID] = a
	}
	return indexed, ve
}

func classify(q model.Question, a model.Answer, answered bool) outcome {
	if !answered || a.Empty() {
		return notAttempted
	}
	if !q.Objective() {
		return attemptedUngraded
	}
	if a.SelectedOption != nil && *a.SelectedOption == *q.CorrectOption {
		return correct
	}
	return wrong
}

// Score computes TestResults for a submission. Correct and wrong counts are
// always re-derived; review marks, warning count and submitter are taken
// from the draft. Totals in the draft must match the recomputed ones.
func Score(questions []model.Question, answers []model.Answer, draft model.ResultsDraft, submittedAt time.Time) (model.TestResults, error) {
	indexed, ve := indexAnswers(questions, answers)

	res := model.TestResults{
		Total:                      len(questions),
		MarkedForReview:            draft.MarkedForReview,
		AnsweredAndMarkedForReview: draft.AnsweredAndMarkedForReview,
		WarningCount:               draft.WarningCount,
		SubmittedBy:                draft.SubmittedBy,
		SubmittedAt:                submittedAt,
	}
	if res.SubmittedBy == "" {
		res.SubmittedBy = model.SubmittedByUser
	}

	for _, q := range questions {
		a, ok := indexed[q.ID]
		switch classify(q, a, ok) {
		case notAttempted:
			res.NotAttempted++
		case attemptedUngraded:
			res.Attempted++
		case correct:
			res.Attempted++
			res.Correct++
		case wrong:
			res.Attempted++
			res.Wrong++
		}
	}

	if draft.Total != res.Total {
		ve.Add("results.total", fmt.Sprintf("does not match question count %d", res.Total), draft.Total)
	}
	if draft.Attempted != res.Attempted {
		ve.Add("results.attempted", fmt.Sprintf("does not match recomputed value %d", res.Attempted), draft.Attempted)
	}
	if draft.NotAttempted != res.NotAttempted {
		ve.Add("results.not_attempted", fmt.Sprintf("does not match recomputed value %d", res.NotAttempted), draft.NotAttempted)
	}
	if draft.MarkedForReview < 0 || draft.MarkedForReview > res.Total {
		ve.Add("results.marked_for_review", fmt.Sprintf("must be between 0 and %d", res.Total), draft.MarkedForReview)
	}
	if draft.AnsweredAndMarkedForReview < 0 || draft.AnsweredAndMarkedForReview > res.Attempted {
		ve.Add("results.answered_and_marked_for_review", fmt.Sprintf("must be between 0 and %d", res.Attempted), draft.AnsweredAndMarkedForReview)
	}
	if draft.WarningCount < 0 {
		ve.Add("results.warning_count", "must not be negative", draft.WarningCount)
	}
	if !res.SubmittedBy.Valid() {
		ve.Add("results.submitted_by", "must be one of: user timer proctor", draft.SubmittedBy)
	}

	if err := ve.Err(); err != nil {
		return model.TestResults{}, err
	}
	return res, nil
}
