package model

import (
	"fmt"
	"strings"

	"github.com/stemsi/psytest-backend/internal/apperror"
)

// Section identifies one of the independently generated question groups.
type Section int

const (
	SectionAptitude   Section = 1
	SectionBehavioral Section = 2
	SectionDomain     Section = 3
)

// AllSections lists sections in presentation order.
var AllSections = []Section{SectionAptitude, SectionBehavioral, SectionDomain}

func (s Section) String() string {
	switch s {
	case SectionAptitude:
		return "aptitude"
	case SectionBehavioral:
		return "behavioral"
	case SectionDomain:
		return "domain"
	default:
		return fmt.Sprintf("section(%d)", int(s))
	}
}

// Prefix is used to build stable question ids within a session.
func (s Section) Prefix() string {
	switch s {
	case SectionAptitude:
		return "apt"
	case SectionBehavioral:
		return "beh"
	case SectionDomain:
		return "dom"
	default:
		return "sec"
	}
}

func (s Section) Valid() bool {
	return s >= SectionAptitude && s <= SectionDomain
}

// ParseSection accepts a section name or number.
func ParseSection(raw string) (Section, error) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	for _, s := range AllSections {
		if raw == s.String() || raw == fmt.Sprint(int(s)) {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown section %q", raw)
}

// Trait is a Big-Five personality dimension.
type Trait string

const (
	TraitOpenness          Trait = "openness"
	TraitConscientiousness Trait = "conscientiousness"
	TraitExtraversion      Trait = "extraversion"
	TraitAgreeableness     Trait = "agreeableness"
	TraitNeuroticism       Trait = "neuroticism"
)

var BigFive = []Trait{TraitOpenness, TraitConscientiousness, TraitExtraversion, TraitAgreeableness, TraitNeuroticism}

func (t Trait) Valid() bool {
	for _, b := range BigFive {
		if t == b {
			return true
		}
	}
	return false
}

const (
	MinTraitImpact = -5
	MaxTraitImpact = 5
)

// OptionImpact scores how choosing one option reflects on personality traits.
type OptionImpact struct {
	Traits    map[Trait]int `json:"traits" yaml:"traits"`
	Rationale string        `json:"rationale,omitempty" yaml:"rationale,omitempty"`
}

// Question is a single generated assessment item.
type Question struct {
	ID            string         `json:"id" yaml:"id"`
	Section       Section        `json:"section" yaml:"-"`
	Category      string         `json:"category" yaml:"category"`
	Prompt        string         `json:"prompt" yaml:"prompt"`
	Scenario      string         `json:"scenario,omitempty" yaml:"scenario,omitempty"`
	Options       []string       `json:"options" yaml:"options"`
	CorrectOption *int           `json:"correct_option,omitempty" yaml:"correct_option,omitempty"`
	TraitImpacts  []OptionImpact `json:"trait_impacts,omitempty" yaml:"trait_impacts,omitempty"`
}

// Objective reports whether the question has an answer key.
func (q Question) Objective() bool {
	return q.CorrectOption != nil
}

// ValidOption reports whether idx addresses one of the options.
func (q Question) ValidOption(idx int) bool {
	return idx >= 0 && idx < len(q.Options)
}

// Validate checks the structural invariants of a generated question.
func (q Question) Validate() error {
	var ve apperror.ValidationErrors
	if strings.TrimSpace(q.ID) == "" {
		ve.Add("id", "is required", nil)
	}
	if !q.Section.Valid() {
		ve.Add("section", "must be 1, 2 or 3", int(q.Section))
	}
	if strings.TrimSpace(q.Prompt) == "" {
		ve.Add("prompt", "is required", nil)
	}
	if len(q.Options) < 2 {
		ve.Add("options", "must contain at least 2 options", len(q.Options))
	}
	for i, opt := range q.Options {
		if strings.TrimSpace(opt) == "" {
			ve.Add(fmt.Sprintf("options[%d]", i), "must not be blank", nil)
		}
	}
	if q.CorrectOption != nil && !q.ValidOption(*q.CorrectOption) {
		ve.Add("correct_option", "must index into options", *q.CorrectOption)
	}
	if len(q.TraitImpacts) > 0 {
		if len(q.TraitImpacts) != len(q.Options) {
			ve.Add("trait_impacts", "must have one entry per option", len(q.TraitImpacts))
		}
		for i, impact := range q.TraitImpacts {
			for trait, v := range impact.Traits {
				if !trait.Valid() {
					ve.Add(fmt.Sprintf("trait_impacts[%d]", i), "unknown trait "+string(trait), trait)
				}
				if v < MinTraitImpact || v > MaxTraitImpact {
					ve.Add(fmt.Sprintf("trait_impacts[%d].%s", i, trait), "must be between -5 and 5", v)
				}
			}
		}
	}
	return ve.Err()
}

// Clone returns a deep copy.
func (q Question) Clone() Question {
	out := q
	out.Options = append([]string(nil), q.Options...)
	if q.CorrectOption != nil {
		idx := *q.CorrectOption
		out.CorrectOption = &idx
	}
	if q.TraitImpacts != nil {
		out.TraitImpacts = make([]OptionImpact, len(q.TraitImpacts))
		for i, impact := range q.TraitImpacts {
			traits := make(map[Trait]int, len(impact.Traits))
			for k, v := range impact.Traits {
				traits[k] = v
			}
			out.TraitImpacts[i] = OptionImpact{Traits: traits, Rationale: impact.Rationale}
		}
	}
	return out
}

// CandidateQuestion is a question as shown during the test, without the
// answer key or trait scoring.
type CandidateQuestion struct {
	ID       string   `json:"id"`
	Section  Section  `json:"section"`
	Category string   `json:"category"`
	Prompt   string   `json:"prompt"`
	Scenario string   `json:"scenario,omitempty"`
	Options  []string `json:"options"`
}

func (q Question) ForCandidate() CandidateQuestion {
	return CandidateQuestion{
		ID:       q.ID,
		Section:  q.Section,
		Category: q.Category,
		Prompt:   q.Prompt,
		Scenario: q.Scenario,
		Options:  append([]string(nil), q.Options...),
	}
}

// Answer is the candidate's response to one question. Both fields empty means
// the question was not attempted.
type Answer struct {
	QuestionID     string `json:"question_id" binding:"required"`
	SelectedOption *int   `json:"selected_option,omitempty" binding:"omitempty,min=0"`
	Text           string `json:"text,omitempty" binding:"max=5000"`
}

// Empty reports whether the answer carries no response.
func (a Answer) Empty() bool {
	return a.SelectedOption == nil && strings.TrimSpace(a.Text) == ""
}

func (a Answer) Clone() Answer {
	out := a
	if a.SelectedOption != nil {
		idx := *a.SelectedOption
		out.SelectedOption = &idx
	}
	return out
}

// IntPtr is a small helper for optional indexes.
func IntPtr(v int) *int { return &v }
