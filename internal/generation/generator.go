// Package generation produces the three question sections of a session in
// parallel and merges each into the session as soon as it is ready.
package generation

import (
	"context"
	"errors"
	"fmt"

	"github.com/stemsi/psytest-backend/internal/apperror"
	"github.com/stemsi/psytest-backend/internal/model"
)

// ContentGenerator produces the questions of one section for a candidate.
type ContentGenerator interface {
	GenerateSection(ctx context.Context, section model.Section, info model.UserInfo) ([]model.Question, error)
}

// GeneratorFunc adapts a function to ContentGenerator.
type GeneratorFunc func(ctx context.Context, section model.Section, info model.UserInfo) ([]model.Question, error)

func (f GeneratorFunc) GenerateSection(ctx context.Context, section model.Section, info model.UserInfo) ([]model.Question, error) {
	return f(ctx, section, info)
}

var errEmptySection = errors.New("generator returned no questions")

// Normalize stamps section and stable ids onto generated questions and
// rejects anything that would break scoring later. Aptitude and domain
// questions need an answer key; behavioral ones are scored by trait impact
// and never carry one.
func Normalize(section model.Section, questions []model.Question) ([]model.Question, error) {
	if len(questions) == 0 {
		return nil, errEmptySection
	}
	out := make([]model.Question, len(questions))
	var ve apperror.ValidationErrors
	for i, q := range questions {
		q = q.Clone()
		q.Section = section
		q.ID = fmt.Sprintf("%s-%02d", section.Prefix(), i+1)
		if section == model.SectionBehavioral {
			q.CorrectOption = nil
		} else if q.CorrectOption == nil {
			ve.Add(fmt.Sprintf("questions[%d].correct_option", i), "is required", nil)
		}
		if err := q.Validate(); err != nil {
			if fields, ok := apperror.AsValidation(err); ok {
				for _, fe := range fields {
					ve.Add(fmt.Sprintf("questions[%d].%s", i, fe.Field), fe.Message, fe.Value)
				}
			}
		}
		out[i] = q
	}
	if err := ve.Err(); err != nil {
		return nil, fmt.Errorf("malformed %s section: %w", section, err)
	}
	return out, nil
}
