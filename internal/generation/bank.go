package generation

import (
	"context"
	"embed"
	"fmt"
	"hash/fnv"
	"math/rand"
	"strings"

	"github.com/stemsi/psytest-backend/internal/model"
	"gopkg.in/yaml.v3"
)

//go:embed banks/*.yaml
var bankFS embed.FS

type bankItem struct {
	model.Question `yaml:",inline"`
	// Domains restricts an item to candidates whose domain matches one of
	// these keywords. Empty means the item suits everyone.
	Domains []string `yaml:"domains,omitempty"`
}

type bankFile struct {
	Section string     `yaml:"section"`
	Items   []bankItem `yaml:"questions"`
}

// BankGenerator serves sections from curated YAML question banks. Selection
// is a deterministic shuffle seeded by the candidate, so retries return the
// same set.
type BankGenerator struct {
	banks   map[model.Section][]bankItem
	perSize int
}

// NewBankGenerator loads the embedded banks.
func NewBankGenerator(questionsPerSection int) (*BankGenerator, error) {
	if questionsPerSection <= 0 {
		questionsPerSection = 10
	}
	b := &BankGenerator{banks: make(map[model.Section][]bankItem), perSize: questionsPerSection}

	entries, err := bankFS.ReadDir("banks")
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		raw, err := bankFS.ReadFile("banks/" + e.Name())
		if err != nil {
			return nil, err
		}
		var f bankFile
		if err := yaml.Unmarshal(raw, &f); err != nil {
			return nil, fmt.Errorf("parse bank %s: %w", e.Name(), err)
		}
		sec, err := model.ParseSection(f.Section)
		if err != nil {
			return nil, fmt.Errorf("bank %s: %w", e.Name(), err)
		}
		b.banks[sec] = append(b.banks[sec], f.Items...)
	}
	for _, sec := range model.AllSections {
		if len(b.banks[sec]) == 0 {
			return nil, fmt.Errorf("no bank for %s section", sec)
		}
	}
	return b, nil
}

func (b *BankGenerator) GenerateSection(ctx context.Context, sec model.Section, info model.UserInfo) ([]model.Question, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	items, ok := b.banks[sec]
	if !ok {
		return nil, fmt.Errorf("no bank for %s section", sec)
	}

	var matched, general []model.Question
	for _, it := range items {
		switch {
		case len(it.Domains) == 0:
			general = append(general, it.Question.Clone())
		case matchesDomain(it.Domains, info.Domain):
			matched = append(matched, it.Question.Clone())
		}
	}

	rng := rand.New(rand.NewSource(seedFor(sec, info)))
	rng.Shuffle(len(matched), func(i, j int) { matched[i], matched[j] = matched[j], matched[i] })
	rng.Shuffle(len(general), func(i, j int) { general[i], general[j] = general[j], general[i] })

	// Domain-specific items first, general ones fill the rest.
	picked := append(matched, general...)
	if len(picked) > b.perSize {
		picked = picked[:b.perSize]
	}
	return picked, nil
}

func matchesDomain(keywords []string, domain string) bool {
	domain = strings.ToLower(domain)
	for _, k := range keywords {
		if strings.Contains(domain, strings.ToLower(k)) {
			return true
		}
	}
	return false
}

func seedFor(sec model.Section, info model.UserInfo) int64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%d|%s|%s|%s", sec, strings.ToLower(info.Email), strings.ToLower(info.Domain), info.TargetRole)
	return int64(h.Sum64())
}
