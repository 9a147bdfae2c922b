package report

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"sort"
	"strings"
	"text/template"
	"time"

	"github.com/stemsi/psytest-backend/internal/model"
	"github.com/stemsi/psytest-backend/internal/scoring"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var narrativeTemplates = template.Must(template.New("").Funcs(template.FuncMap{
	"pct":   func(v float64) string { return fmt.Sprintf("%.1f%%", v) },
	"title": func(s string) string { return strings.ToUpper(s[:1]) + s[1:] },
	"join":  strings.Join,
}).ParseFS(templateFS, "templates/*.tmpl"))

// TemplateSynthesizer writes the narrative from fixed templates driven by
// the metrics. It needs no external service and is fully deterministic.
type TemplateSynthesizer struct {
	norm scoring.Norm
	now  func() time.Time
}

func NewTemplateSynthesizer(norm scoring.Norm) *TemplateSynthesizer {
	return &TemplateSynthesizer{norm: norm, now: time.Now}
}

type narrativeData struct {
	Info     model.UserInfo
	M        Metrics
	Domain   scoring.SectionScore
	Strong   []string
	Weak     []string
	TopTrait string
	LowTrait string
}

func (t *TemplateSynthesizer) Synthesize(ctx context.Context, s *model.Session) (*model.Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m, err := BuildMetrics(s, t.norm)
	if err != nil {
		return nil, err
	}
	data := newNarrativeData(s.UserInfo, m)

	n := Narrative{SWOT: swot(data), Recommendations: recommendations(data)}
	for name, dst := range map[string]*string{
		"bio":        &n.Bio,
		"career_fit": &n.CareerFit,
		"behavioral": &n.BehavioralAnalysis,
		"domain":     &n.DomainAnalysis,
	} {
		var buf bytes.Buffer
		if err := narrativeTemplates.ExecuteTemplate(&buf, name, data); err != nil {
			return nil, fmt.Errorf("render %s: %w", name, err)
		}
		*dst = strings.Join(strings.Fields(buf.String()), " ")
	}
	return Assemble(s.UserInfo, m, n, t.now().UTC()), nil
}

func newNarrativeData(info model.UserInfo, m Metrics) narrativeData {
	d := narrativeData{Info: info, M: m, Domain: m.Sections[model.SectionDomain]}
	for _, sec := range []model.Section{model.SectionAptitude, model.SectionDomain} {
		sc := m.Sections[sec]
		if sc.Total == 0 {
			continue
		}
		if sc.Percent() >= 70 {
			d.Strong = append(d.Strong, sec.String())
		} else if sc.Percent() < 50 {
			d.Weak = append(d.Weak, sec.String())
		}
	}

	traits := make([]model.Trait, 0, len(m.BigFive))
	for tr := range m.BigFive {
		traits = append(traits, tr)
	}
	sort.Slice(traits, func(i, j int) bool {
		if m.BigFive[traits[i]] != m.BigFive[traits[j]] {
			return m.BigFive[traits[i]] > m.BigFive[traits[j]]
		}
		return traits[i] < traits[j]
	})
	if len(traits) > 0 {
		d.TopTrait = string(traits[0])
		d.LowTrait = string(traits[len(traits)-1])
	}
	return d
}

func swot(d narrativeData) model.SWOT {
	out := model.SWOT{Strengths: []string{}, Weaknesses: []string{}, Opportunities: []string{}, Threats: []string{}}
	for _, s := range d.Strong {
		out.Strengths = append(out.Strengths, fmt.Sprintf("Strong %s performance", s))
	}
	if d.TopTrait != "" {
		out.Strengths = append(out.Strengths, fmt.Sprintf("High %s", d.TopTrait))
	}
	for _, w := range d.Weak {
		out.Weaknesses = append(out.Weaknesses, fmt.Sprintf("%s score below expectations", strings.ToUpper(w[:1])+w[1:]))
	}
	if d.M.Results.NotAttempted > 0 {
		out.Weaknesses = append(out.Weaknesses, fmt.Sprintf("%d questions left unanswered", d.M.Results.NotAttempted))
	}
	if d.Info.TargetRole != "" {
		out.Opportunities = append(out.Opportunities, fmt.Sprintf("Grow toward the %s role", d.Info.TargetRole))
	}
	out.Opportunities = append(out.Opportunities, fmt.Sprintf("Deepen expertise in %s", d.Info.Domain))
	if d.M.Results.WarningCount > 0 {
		out.Threats = append(out.Threats, fmt.Sprintf("%d proctoring warnings recorded", d.M.Results.WarningCount))
	}
	if d.M.Bucket == model.BucketNeedsImprovement {
		out.Threats = append(out.Threats, "Overall score in the lowest band")
	}
	return out
}

func recommendations(d narrativeData) []string {
	var out []string
	for _, w := range d.Weak {
		out = append(out, fmt.Sprintf("Practice %s questions regularly", w))
	}
	if d.LowTrait != "" && d.LowTrait != d.TopTrait {
		out = append(out, fmt.Sprintf("Reflect on situations that call for %s", d.LowTrait))
	}
	if d.Info.TargetRole != "" {
		out = append(out, fmt.Sprintf("Seek projects that build skills for %s", d.Info.TargetRole))
	}
	if len(out) == 0 {
		out = append(out, "Keep building on current strengths")
	}
	return out
}
