package llm

import (
	"context"
	"fmt"

	"github.com/stemsi/psytest-backend/internal/model"
)

// QuestionGenerator generates a section of questions with the LLM.
type QuestionGenerator struct {
	client *Client
	count  int
}

func NewQuestionGenerator(client *Client, questionsPerSection int) *QuestionGenerator {
	if questionsPerSection <= 0 {
		questionsPerSection = 10
	}
	return &QuestionGenerator{client: client, count: questionsPerSection}
}

type questionsResponse struct {
	Questions []model.Question `json:"questions"`
}

func (g *QuestionGenerator) GenerateSection(ctx context.Context, sec model.Section, info model.UserInfo) ([]model.Question, error) {
	data := sectionPromptData{Section: sec.String(), Count: g.count, Info: info, Traits: model.BigFive}
	system, err := render("section_system", data)
	if err != nil {
		return nil, fmt.Errorf("render prompt: %w", err)
	}
	user, err := render("section_user", data)
	if err != nil {
		return nil, fmt.Errorf("render prompt: %w", err)
	}

	var resp questionsResponse
	if err := g.client.completeJSON(ctx, system, user, 0.7, &resp); err != nil {
		return nil, err
	}
	if len(resp.Questions) > g.count {
		resp.Questions = resp.Questions[:g.count]
	}
	return resp.Questions, nil
}
