package model

import "time"

// PerformanceBucket is a coarse band for the overall score.
type PerformanceBucket string

const (
	BucketExcellent        PerformanceBucket = "excellent"
	BucketGood             PerformanceBucket = "good"
	BucketAverage          PerformanceBucket = "average"
	BucketNeedsImprovement PerformanceBucket = "needs_improvement"
)

func (b PerformanceBucket) Valid() bool {
	switch b {
	case BucketExcellent, BucketGood, BucketAverage, BucketNeedsImprovement:
		return true
	}
	return false
}

// SWOT is the narrative strengths/weaknesses/opportunities/threats matrix.
type SWOT struct {
	Strengths     []string `json:"strengths"`
	Weaknesses    []string `json:"weaknesses"`
	Opportunities []string `json:"opportunities"`
	Threats       []string `json:"threats"`
}

// ScoreBreakdown holds per-section percentages.
type ScoreBreakdown struct {
	Aptitude   float64 `json:"aptitude"`
	Behavioral float64 `json:"behavioral"`
	Domain     float64 `json:"domain"`
	Overall    float64 `json:"overall"`
}

// SectionChart summarizes answer outcomes for one section.
type SectionChart struct {
	Section   string `json:"section"`
	Total     int    `json:"total"`
	Attempted int    `json:"attempted"`
	Correct   int    `json:"correct"`
	Wrong     int    `json:"wrong"`
	Skipped   int    `json:"skipped"`
}

// TraitBar is one bar of the personality chart.
type TraitBar struct {
	Trait Trait `json:"trait"`
	Score int   `json:"score"`
}

// Charts carries the data the report renderer plots.
type Charts struct {
	Sections []SectionChart `json:"sections"`
	Traits   []TraitBar     `json:"traits"`
}

// Report is synthesized once per completed session and then served verbatim.
type Report struct {
	UserInfo           UserInfo          `json:"user_info"`
	Bio                string            `json:"bio"`
	SWOT               SWOT              `json:"swot"`
	CareerFit          string            `json:"career_fit"`
	BehavioralAnalysis string            `json:"behavioral_analysis"`
	DomainAnalysis     string            `json:"domain_analysis"`
	Recommendations    []string          `json:"recommendations"`
	BigFive            map[Trait]int     `json:"big_five"`
	Scores             ScoreBreakdown    `json:"scores"`
	Percentile         float64           `json:"percentile"`
	PerformanceBucket  PerformanceBucket `json:"performance_bucket"`
	Charts             Charts            `json:"charts"`
	GeneratedAt        time.Time         `json:"generated_at"`
}

// Clone returns a deep copy.
func (r *Report) Clone() *Report {
	if r == nil {
		return nil
	}
	out := *r
	out.UserInfo.Skills = append([]string(nil), r.UserInfo.Skills...)
	out.SWOT = SWOT{
		Strengths:     append([]string(nil), r.SWOT.Strengths...),
		Weaknesses:    append([]string(nil), r.SWOT.Weaknesses...),
		Opportunities: append([]string(nil), r.SWOT.Opportunities...),
		Threats:       append([]string(nil), r.SWOT.Threats...),
	}
	out.Recommendations = append([]string(nil), r.Recommendations...)
	if r.BigFive != nil {
		out.BigFive = make(map[Trait]int, len(r.BigFive))
		for k, v := range r.BigFive {
			out.BigFive[k] = v
		}
	}
	out.Charts = Charts{
		Sections: append([]SectionChart(nil), r.Charts.Sections...),
		Traits:   append([]TraitBar(nil), r.Charts.Traits...),
	}
	return &out
}
