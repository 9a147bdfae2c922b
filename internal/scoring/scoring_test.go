package scoring

import (
	"fmt"
	"testing"
	"time"

	"github.com/stemsi/psytest-backend/internal/apperror"
	"github.com/stemsi/psytest-backend/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var submittedAt = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func objective(id string, sec model.Section, key int) model.Question {
	return model.Question{
		ID:            id,
		Section:       sec,
		Prompt:        "Q " + id,
		Options:       []string{"a", "b", "c", "d"},
		CorrectOption: model.IntPtr(key),
	}
}

func tenQuestions() []model.Question {
	qs := make([]model.Question, 10)
	for i := range qs {
		qs[i] = objective(fmt.Sprintf("apt-%02d", i+1), model.SectionAptitude, 1)
	}
	return qs
}

// 5 correct, 2 wrong, 3 untouched.
func sevenAnswers() []model.Answer {
	var answers []model.Answer
	for i := 1; i <= 5; i++ {
		answers = append(answers, model.Answer{QuestionID: fmt.Sprintf("apt-%02d", i), SelectedOption: model.IntPtr(1)})
	}
	answers = append(answers,
		model.Answer{QuestionID: "apt-06", SelectedOption: model.IntPtr(0)},
		model.Answer{QuestionID: "apt-07", SelectedOption: model.IntPtr(3)},
		model.Answer{QuestionID: "apt-08"},
	)
	return answers
}

func TestScoreCountsOutcomes(t *testing.T) {
	draft := model.ResultsDraft{Total: 10, Attempted: 7, NotAttempted: 3, Correct: 99, Wrong: 99, MarkedForReview: 2, AnsweredAndMarkedForReview: 1, WarningCount: 3}

	res, err := Score(tenQuestions(), sevenAnswers(), draft, submittedAt)
	require.NoError(t, err)

	assert.Equal(t, 10, res.Total)
	assert.Equal(t, 7, res.Attempted)
	assert.Equal(t, 3, res.NotAttempted)
	assert.Equal(t, 5, res.Correct)
	assert.Equal(t, 2, res.Wrong)
	assert.Equal(t, 2, res.MarkedForReview)
	assert.Equal(t, 1, res.AnsweredAndMarkedForReview)
	assert.Equal(t, 3, res.WarningCount)
	assert.Equal(t, model.SubmittedByUser, res.SubmittedBy)
	assert.Equal(t, submittedAt, res.SubmittedAt)
	assert.Equal(t, res.Total, res.Attempted+res.NotAttempted)
	assert.LessOrEqual(t, res.Correct+res.Wrong, res.Attempted)
}

func TestScoreIsDeterministic(t *testing.T) {
	draft := model.ResultsDraft{Total: 10, Attempted: 7, NotAttempted: 3}
	first, err := Score(tenQuestions(), sevenAnswers(), draft, submittedAt)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := Score(tenQuestions(), sevenAnswers(), draft, submittedAt)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestScoreUngradedItemsAreAttemptedOnly(t *testing.T) {
	qs := []model.Question{
		objective("apt-01", model.SectionAptitude, 0),
		{ID: "beh-01", Section: model.SectionBehavioral, Prompt: "p", Options: []string{"x", "y"}},
		{ID: "beh-02", Section: model.SectionBehavioral, Prompt: "p", Options: []string{"x", "y"}},
	}
	answers := []model.Answer{
		{QuestionID: "apt-01", SelectedOption: model.IntPtr(0)},
		{QuestionID: "beh-01", SelectedOption: model.IntPtr(1)},
		{QuestionID: "beh-02", Text: "I would talk to them first."},
	}
	res, err := Score(qs, answers, model.ResultsDraft{Total: 3, Attempted: 3}, submittedAt)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Attempted)
	assert.Equal(t, 1, res.Correct)
	assert.Equal(t, 0, res.Wrong)
}

func TestScoreTextOnlyAnswerToObjectiveQuestionIsWrong(t *testing.T) {
	qs := []model.Question{objective("apt-01", model.SectionAptitude, 2)}
	res, err := Score(qs, []model.Answer{{QuestionID: "apt-01", Text: "c"}}, model.ResultsDraft{Total: 1, Attempted: 1}, submittedAt)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Wrong)
}

func TestScoreRejectsMalformedSubmissions(t *testing.T) {
	cases := []struct {
		name    string
		answers []model.Answer
		draft   model.ResultsDraft
		field   string
	}{
		{
			name:    "unknown question",
			answers: []model.Answer{{QuestionID: "nope", SelectedOption: model.IntPtr(0)}},
			draft:   model.ResultsDraft{Total: 10, NotAttempted: 10},
			field:   "answers[0].question_id",
		},
		{
			name: "duplicate answer",
			answers: []model.Answer{
				{QuestionID: "apt-01", SelectedOption: model.IntPtr(0)},
				{QuestionID: "apt-01", SelectedOption: model.IntPtr(1)},
			},
			draft: model.ResultsDraft{Total: 10, Attempted: 1, NotAttempted: 9},
			field: "answers[1].question_id",
		},
		{
			name:    "option out of range",
			answers: []model.Answer{{QuestionID: "apt-01", SelectedOption: model.IntPtr(4)}},
			draft:   model.ResultsDraft{Total: 10, NotAttempted: 10},
			field:   "answers[0].selected_option",
		},
		{
			name:    "total mismatch",
			answers: sevenAnswers(),
			draft:   model.ResultsDraft{Total: 12, Attempted: 7, NotAttempted: 3},
			field:   "results.total",
		},
		{
			name:    "attempted mismatch",
			answers: sevenAnswers(),
			draft:   model.ResultsDraft{Total: 10, Attempted: 8, NotAttempted: 2},
			field:   "results.attempted",
		},
		{
			name:    "answered and marked exceeds attempted",
			answers: sevenAnswers(),
			draft:   model.ResultsDraft{Total: 10, Attempted: 7, NotAttempted: 3, AnsweredAndMarkedForReview: 8},
			field:   "results.answered_and_marked_for_review",
		},
		{
			name:    "unknown submitter",
			answers: sevenAnswers(),
			draft:   model.ResultsDraft{Total: 10, Attempted: 7, NotAttempted: 3, SubmittedBy: "robot"},
			field:   "results.submitted_by",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Score(tenQuestions(), tc.answers, tc.draft, submittedAt)
			require.Error(t, err)
			assert.True(t, apperror.IsValidation(err))
			ve, _ := apperror.AsValidation(err)
			assert.Contains(t, ve.Fields(), tc.field)
		})
	}
}

func TestBreakdownAndBucket(t *testing.T) {
	qs := append(tenQuestions(),
		objective("dom-01", model.SectionDomain, 0),
		objective("dom-02", model.SectionDomain, 0),
		model.Question{ID: "beh-01", Section: model.SectionBehavioral, Prompt: "p", Options: []string{"x", "y"}},
		model.Question{ID: "beh-02", Section: model.SectionBehavioral, Prompt: "p", Options: []string{"x", "y"}},
	)
	answers := append(sevenAnswers(),
		model.Answer{QuestionID: "dom-01", SelectedOption: model.IntPtr(0)},
		model.Answer{QuestionID: "dom-02", SelectedOption: model.IntPtr(0)},
		model.Answer{QuestionID: "beh-01", SelectedOption: model.IntPtr(1)},
	)

	sections := Breakdown(qs, answers)
	assert.Equal(t, 5, sections[model.SectionAptitude].Correct)
	assert.Equal(t, 3, sections[model.SectionAptitude].Skipped)

	b := ScoreBreakdown(sections)
	assert.Equal(t, 50.0, b.Aptitude)
	assert.Equal(t, 100.0, b.Domain)
	assert.Equal(t, 50.0, b.Behavioral)
	assert.Equal(t, 66.7, b.Overall)
	assert.Equal(t, model.BucketAverage, Bucket(b.Overall))

	charts := Charts(sections, nil)
	require.Len(t, charts.Sections, 3)
	assert.Equal(t, "aptitude", charts.Sections[0].Section)
	assert.Empty(t, charts.Traits)
}

func TestTraitProfileOmitsTraitsWithoutEvidence(t *testing.T) {
	q := model.Question{
		ID: "beh-01", Section: model.SectionBehavioral, Prompt: "p",
		Options: []string{"plan ahead", "improvise"},
		TraitImpacts: []model.OptionImpact{
			{Traits: map[model.Trait]int{model.TraitConscientiousness: 5, model.TraitOpenness: -1}},
			{Traits: map[model.Trait]int{model.TraitOpenness: 4}},
		},
	}
	q2 := q
	q2.ID = "beh-02"

	profile := TraitProfile([]model.Question{q, q2}, []model.Answer{
		{QuestionID: "beh-01", SelectedOption: model.IntPtr(0)},
		{QuestionID: "beh-02", SelectedOption: model.IntPtr(1)},
	})

	assert.Equal(t, 100, profile[model.TraitConscientiousness])
	assert.Equal(t, 65, profile[model.TraitOpenness])
	_, hasExtraversion := profile[model.TraitExtraversion]
	assert.False(t, hasExtraversion)
}

func TestPercentile(t *testing.T) {
	assert.Equal(t, 50.0, Percentile(60, DefaultNorm))
	assert.Greater(t, Percentile(90, DefaultNorm), 95.0)
	assert.Less(t, Percentile(20, DefaultNorm), 1.0)
	assert.Equal(t, 50.0, Percentile(60, Norm{}))
}
