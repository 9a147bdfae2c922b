package model

import (
	"testing"
	"time"

	"github.com/stemsi/psytest-backend/internal/apperror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleQuestions(sec Section, n int) []Question {
	qs := make([]Question, n)
	for i := range qs {
		qs[i] = Question{
			ID:            sec.Prefix() + "-" + string(rune('a'+i)),
			Section:       sec,
			Prompt:        "prompt",
			Options:       []string{"a", "b", "c"},
			CorrectOption: IntPtr(1),
		}
	}
	return qs
}

func generatingSession() *Session {
	s := NewSession("s-1", "u-1", UserInfo{Name: "Ana", Email: "ana@example.com", Domain: "software"}, time.Now())
	s.Status = StatusGenerating
	return s
}

func TestMergeSectionAdvancesStatus(t *testing.T) {
	s := generatingSession()

	require.True(t, s.MergeSection(SectionAptitude, sampleQuestions(SectionAptitude, 2)))
	assert.Equal(t, StatusPartialReady, s.Status)
	assert.Equal(t, Readiness{Aptitude: true}, s.Readiness())

	require.True(t, s.MergeSection(SectionDomain, sampleQuestions(SectionDomain, 1)))
	assert.Equal(t, StatusPartialReady, s.Status)

	require.True(t, s.MergeSection(SectionBehavioral, sampleQuestions(SectionBehavioral, 1)))
	assert.Equal(t, StatusReady, s.Status)
	assert.Len(t, s.Questions, 4)
}

func TestMergeSectionIsAppliedOnce(t *testing.T) {
	s := generatingSession()
	require.True(t, s.MergeSection(SectionAptitude, sampleQuestions(SectionAptitude, 2)))

	assert.False(t, s.MergeSection(SectionAptitude, sampleQuestions(SectionAptitude, 5)))
	assert.Len(t, s.Questions, 2)
}

func TestMergeSectionIgnoredAfterFailure(t *testing.T) {
	s := generatingSession()
	require.True(t, s.MergeSection(SectionAptitude, sampleQuestions(SectionAptitude, 1)))
	require.NoError(t, s.Fail("domain section exhausted retries"))

	assert.False(t, s.MergeSection(SectionDomain, sampleQuestions(SectionDomain, 1)))
	assert.Equal(t, StatusFailed, s.Status)
	assert.True(t, s.AptitudeReady)
	assert.False(t, s.DomainReady)
	assert.Len(t, s.Questions, 1)
}

func TestTransitionRules(t *testing.T) {
	cases := []struct {
		from, to Status
		ok       bool
	}{
		{StatusCreated, StatusGenerating, true},
		{StatusCreated, StatusReady, false},
		{StatusGenerating, StatusReady, true},
		{StatusPartialReady, StatusFailed, true},
		{StatusReady, StatusInProgress, true},
		{StatusReady, StatusCompleted, true},
		{StatusInProgress, StatusCompleted, true},
		{StatusCompleted, StatusFailed, false},
		{StatusCompleted, StatusCompleted, false},
		{StatusFailed, StatusGenerating, false},
	}
	for _, tc := range cases {
		t.Run(tc.from.String()+"->"+tc.to.String(), func(t *testing.T) {
			s := &Session{Status: tc.from}
			err := s.TransitionTo(tc.to)
			if tc.ok {
				assert.NoError(t, err)
				assert.Equal(t, tc.to, s.Status)
				return
			}
			assert.True(t, apperror.IsInvalidState(err))
			assert.Equal(t, tc.from, s.Status)
		})
	}
}

func TestStatusNames(t *testing.T) {
	assert.Equal(t, "PARTIAL_READY", StatusPartialReady.String())
	assert.Equal(t, "partial_ready", StatusPartialReady.WireName())

	st, err := ParseStatus("partial_ready")
	require.NoError(t, err)
	assert.Equal(t, StatusPartialReady, st)

	_, err = ParseStatus("archived")
	assert.Error(t, err)
}

func TestCloneIsDeep(t *testing.T) {
	s := generatingSession()
	s.MergeSection(SectionAptitude, sampleQuestions(SectionAptitude, 1))
	s.UpsertAnswer(Answer{QuestionID: "apt-a", SelectedOption: IntPtr(2)})

	c := s.Clone()
	*c.Questions[0].CorrectOption = 0
	*c.Answers[0].SelectedOption = 0
	c.AptitudeReady = false

	assert.Equal(t, 1, *s.Questions[0].CorrectOption)
	assert.Equal(t, 2, *s.Answers[0].SelectedOption)
	assert.True(t, s.AptitudeReady)
}

func TestUpsertAnswerReplaces(t *testing.T) {
	s := generatingSession()
	s.UpsertAnswer(Answer{QuestionID: "q1", SelectedOption: IntPtr(0)})
	s.UpsertAnswer(Answer{QuestionID: "q1", SelectedOption: IntPtr(2)})
	s.UpsertAnswer(Answer{QuestionID: "q2", Text: "free text"})

	require.Len(t, s.Answers, 2)
	assert.Equal(t, 2, *s.Answers[0].SelectedOption)
}

func TestQuestionValidate(t *testing.T) {
	q := Question{
		ID: "beh-01", Section: SectionBehavioral, Prompt: "A teammate misses a deadline.",
		Options: []string{"Escalate", "Help them"},
		TraitImpacts: []OptionImpact{
			{Traits: map[Trait]int{TraitConscientiousness: 3}},
		},
	}
	err := q.Validate()
	require.Error(t, err)
	ve, ok := apperror.AsValidation(err)
	require.True(t, ok)
	assert.Contains(t, ve.Fields(), "trait_impacts")

	q.TraitImpacts = append(q.TraitImpacts, OptionImpact{Traits: map[Trait]int{TraitAgreeableness: 9}})
	ve, _ = apperror.AsValidation(q.Validate())
	assert.Contains(t, ve.Fields(), "trait_impacts[1].agreeableness")

	q.TraitImpacts[1].Traits[TraitAgreeableness] = 4
	assert.NoError(t, q.Validate())

	q.CorrectOption = IntPtr(5)
	assert.Error(t, q.Validate())
}
