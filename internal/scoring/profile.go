package scoring

import (
	"math"

	"github.com/stemsi/psytest-backend/internal/model"
)

// SectionScore tallies outcomes for one section.
type SectionScore struct {
	Section   model.Section
	Total     int
	Graded    int
	Attempted int
	Correct   int
	Wrong     int
	Skipped   int
}

// Percent is correct/graded for sections with an answer key and
// attempted/total for ungraded (behavioral) sections.
func (s SectionScore) Percent() float64 {
	if s.Graded > 0 {
		return round1(float64(s.Correct) / float64(s.Graded) * 100)
	}
	if s.Total > 0 {
		return round1(float64(s.Attempted) / float64(s.Total) * 100)
	}
	return 0
}

// Breakdown computes per-section tallies. Invalid answers are ignored; call
// Score first to reject them.
func Breakdown(questions []model.Question, answers []model.Answer) map[model.Section]SectionScore {
	indexed, _ := indexAnswers(questions, answers)
	out := make(map[model.Section]SectionScore, len(model.AllSections))
	for _, sec := range model.AllSections {
		out[sec] = SectionScore{Section: sec}
	}
	for _, q := range questions {
		s := out[q.Section]
		s.Section = q.Section
		s.Total++
		if q.Objective() {
			s.Graded++
		}
		a, ok := indexed[q.ID]
		switch classify(q, a, ok) {
		case notAttempted:
			s.Skipped++
		case attemptedUngraded:
			s.Attempted++
		case correct:
			s.Attempted++
			s.Correct++
		case wrong:
			s.Attempted++
			s.Wrong++
		}
		out[q.Section] = s
	}
	return out
}

// ScoreBreakdown converts section tallies to percentages. Overall is the mean
// over sections that have questions.
func ScoreBreakdown(sections map[model.Section]SectionScore) model.ScoreBreakdown {
	b := model.ScoreBreakdown{
		Aptitude:   sections[model.SectionAptitude].Percent(),
		Behavioral: sections[model.SectionBehavioral].Percent(),
		Domain:     sections[model.SectionDomain].Percent(),
	}
	sum, n := 0.0, 0
	for _, sec := range model.AllSections {
		if sections[sec].Total > 0 {
			sum += sections[sec].Percent()
			n++
		}
	}
	if n > 0 {
		b.Overall = round1(sum / float64(n))
	}
	return b
}

// TraitProfile folds the trait impacts of the selected options into Big-Five
// scores on a 0–100 scale. Traits without any evidence are omitted.
func TraitProfile(questions []model.Question, answers []model.Answer) map[model.Trait]int {
	indexed, _ := indexAnswers(questions, answers)
	sums := make(map[model.Trait]int)
	counts := make(map[model.Trait]int)
	for _, q := range questions {
		if len(q.TraitImpacts) == 0 {
			continue
		}
		a, ok := indexed[q.ID]
		if !ok || a.SelectedOption == nil || *a.SelectedOption >= len(q.TraitImpacts) {
			continue
		}
		for trait, v := range q.TraitImpacts[*a.SelectedOption].Traits {
			sums[trait] += v
			counts[trait]++
		}
	}

	profile := make(map[model.Trait]int, len(counts))
	for trait, n := range counts {
		mean := float64(sums[trait]) / float64(n)
		// [-5, 5] → [0, 100]
		score := int(math.Round((mean - model.MinTraitImpact) * 100 / (model.MaxTraitImpact - model.MinTraitImpact)))
		profile[trait] = clamp(score, 0, 100)
	}
	return profile
}

// Norm is the reference distribution used for percentile ranks.
type Norm struct {
	Mean   float64
	StdDev float64
}

// DefaultNorm is used when no norm is configured.
var DefaultNorm = Norm{Mean: 60, StdDev: 15}

// Percentile ranks an overall percentage against the norm.
func Percentile(overall float64, norm Norm) float64 {
	if norm.StdDev <= 0 {
		norm = DefaultNorm
	}
	z := (overall - norm.Mean) / norm.StdDev
	p := 0.5 * (1 + math.Erf(z/math.Sqrt2)) * 100
	return round1(math.Max(0, math.Min(100, p)))
}

// Bucket maps an overall percentage to a performance band.
func Bucket(overall float64) model.PerformanceBucket {
	switch {
	case overall >= 85:
		return model.BucketExcellent
	case overall >= 70:
		return model.BucketGood
	case overall >= 50:
		return model.BucketAverage
	default:
		return model.BucketNeedsImprovement
	}
}

// Charts builds the plotted summary.
func Charts(sections map[model.Section]SectionScore, traits map[model.Trait]int) model.Charts {
	var c model.Charts
	for _, sec := range model.AllSections {
		s := sections[sec]
		c.Sections = append(c.Sections, model.SectionChart{
			Section:   sec.String(),
			Total:     s.Total,
			Attempted: s.Attempted,
			Correct:   s.Correct,
			Wrong:     s.Wrong,
			Skipped:   s.Skipped,
		})
	}
	for _, trait := range model.BigFive {
		if v, ok := traits[trait]; ok {
			c.Traits = append(c.Traits, model.TraitBar{Trait: trait, Score: v})
		}
	}
	return c
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
