package generation

import (
	"context"
	"testing"

	"github.com/stemsi/psytest-backend/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBankGeneratorProducesValidSections(t *testing.T) {
	b, err := NewBankGenerator(8)
	require.NoError(t, err)
	info := model.UserInfo{Email: "ayu@example.com", Domain: "Backend Software Engineering"}

	for _, sec := range model.AllSections {
		qs, err := b.GenerateSection(context.Background(), sec, info)
		require.NoError(t, err)
		require.NotEmpty(t, qs)
		assert.LessOrEqual(t, len(qs), 8)

		normalized, err := Normalize(sec, qs)
		require.NoError(t, err, sec.String())
		assert.Len(t, normalized, len(qs))
	}
}

func TestBankGeneratorPrefersCandidateDomain(t *testing.T) {
	b, err := NewBankGenerator(3)
	require.NoError(t, err)

	qs, err := b.GenerateSection(context.Background(), model.SectionDomain, model.UserInfo{Email: "x@example.com", Domain: "finance"})
	require.NoError(t, err)
	require.Len(t, qs, 3)
	assert.Equal(t, "finance", qs[0].Category)
	assert.Equal(t, "finance", qs[1].Category)
	assert.Equal(t, "workplace", qs[2].Category)
}

func TestBankGeneratorIsDeterministicPerCandidate(t *testing.T) {
	b, err := NewBankGenerator(5)
	require.NoError(t, err)
	info := model.UserInfo{Email: "ayu@example.com", Domain: "data"}

	first, err := b.GenerateSection(context.Background(), model.SectionAptitude, info)
	require.NoError(t, err)
	second, err := b.GenerateSection(context.Background(), model.SectionAptitude, info)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
