// Package report builds the candidate report for a completed session and
// memoizes it on the session record.
package report

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/stemsi/psytest-backend/internal/apperror"
	"github.com/stemsi/psytest-backend/internal/model"
	"github.com/stemsi/psytest-backend/internal/scoring"
)

// Synthesizer produces a complete report for a COMPLETED session.
type Synthesizer interface {
	Synthesize(ctx context.Context, s *model.Session) (*model.Report, error)
}

// Metrics are the deterministic, score-derived parts of a report.
type Metrics struct {
	Sections   map[model.Section]scoring.SectionScore
	Scores     model.ScoreBreakdown
	BigFive    map[model.Trait]int
	Percentile float64
	Bucket     model.PerformanceBucket
	Charts     model.Charts
	Results    model.TestResults
}

// Narrative is the prose part of a report.
type Narrative struct {
	Bio                string     `json:"bio"`
	SWOT               model.SWOT `json:"swot"`
	CareerFit          string     `json:"career_fit"`
	BehavioralAnalysis string     `json:"behavioral_analysis"`
	DomainAnalysis     string     `json:"domain_analysis"`
	Recommendations    []string   `json:"recommendations"`
}

// BuildMetrics derives every numeric report field from the session.
func BuildMetrics(s *model.Session, norm scoring.Norm) (Metrics, error) {
	if s.Results == nil {
		return Metrics{}, apperror.InvalidState("session %s has no results", s.ID)
	}
	sections := scoring.Breakdown(s.Questions, s.Answers)
	scores := scoring.ScoreBreakdown(sections)
	traits := scoring.TraitProfile(s.Questions, s.Answers)
	return Metrics{
		Sections:   sections,
		Scores:     scores,
		BigFive:    traits,
		Percentile: scoring.Percentile(scores.Overall, norm),
		Bucket:     scoring.Bucket(scores.Overall),
		Charts:     scoring.Charts(sections, traits),
		Results:    *s.Results,
	}, nil
}

// Assemble joins metrics and narrative into a report.
func Assemble(info model.UserInfo, m Metrics, n Narrative, at time.Time) *model.Report {
	return &model.Report{
		UserInfo:           info,
		Bio:                strings.TrimSpace(n.Bio),
		SWOT:               n.SWOT,
		CareerFit:          strings.TrimSpace(n.CareerFit),
		BehavioralAnalysis: strings.TrimSpace(n.BehavioralAnalysis),
		DomainAnalysis:     strings.TrimSpace(n.DomainAnalysis),
		Recommendations:    n.Recommendations,
		BigFive:            m.BigFive,
		Scores:             m.Scores,
		Percentile:         m.Percentile,
		PerformanceBucket:  m.Bucket,
		Charts:             m.Charts,
		GeneratedAt:        at,
	}
}

// Validate rejects reports that must not be stored.
func Validate(r *model.Report) error {
	var ve apperror.ValidationErrors
	if r.Bio == "" {
		ve.Add("bio", "is required", nil)
	}
	for name, v := range map[string]float64{
		"scores.aptitude":   r.Scores.Aptitude,
		"scores.behavioral": r.Scores.Behavioral,
		"scores.domain":     r.Scores.Domain,
		"scores.overall":    r.Scores.Overall,
		"percentile":        r.Percentile,
	} {
		if v < 0 || v > 100 {
			ve.Add(name, "must be between 0 and 100", v)
		}
	}
	for trait, v := range r.BigFive {
		if !trait.Valid() {
			ve.Add("big_five", "unknown trait "+string(trait), trait)
		} else if v < 0 || v > 100 {
			ve.Add(fmt.Sprintf("big_five.%s", trait), "must be between 0 and 100", v)
		}
	}
	if !r.PerformanceBucket.Valid() {
		ve.Add("performance_bucket", "is invalid", r.PerformanceBucket)
	}
	if r.GeneratedAt.IsZero() {
		ve.Add("generated_at", "is required", nil)
	}
	return ve.Err()
}
