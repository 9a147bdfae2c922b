package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/stemsi/psytest-backend/internal/model"
	"github.com/stemsi/psytest-backend/internal/report"
	"github.com/stemsi/psytest-backend/internal/scoring"
)

// ReportSynthesizer asks the LLM for the narrative only. Every number in
// the report is computed locally.
type ReportSynthesizer struct {
	client *Client
	norm   scoring.Norm
	now    func() time.Time
}

func NewReportSynthesizer(client *Client, norm scoring.Norm) *ReportSynthesizer {
	return &ReportSynthesizer{client: client, norm: norm, now: time.Now}
}

func (r *ReportSynthesizer) Synthesize(ctx context.Context, s *model.Session) (*model.Report, error) {
	m, err := report.BuildMetrics(s, r.norm)
	if err != nil {
		return nil, err
	}
	data := reportPromptData{Info: s.UserInfo, M: m, Results: m.Results}
	system, err := render("report_system", data)
	if err != nil {
		return nil, fmt.Errorf("render prompt: %w", err)
	}
	user, err := render("report_user", data)
	if err != nil {
		return nil, fmt.Errorf("render prompt: %w", err)
	}

	var n report.Narrative
	if err := r.client.completeJSON(ctx, system, user, 0.4, &n); err != nil {
		return nil, err
	}
	return report.Assemble(s.UserInfo, m, n, r.now().UTC()), nil
}
