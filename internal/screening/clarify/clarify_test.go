package clarify

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hiregate/screening/internal/domain"
)

func mismatch(cat domain.Category, desc string) domain.Mismatch {
	return domain.Mismatch{Category: cat, Description: desc, Severity: domain.SeverityMissing}
}

func TestQuestionsCapAndPriority(t *testing.T) {
	t.Parallel()
	ms := []domain.Mismatch{
		mismatch(domain.CategoryComp, "candidate expects at least 9000, job ceiling is 5000"),
		mismatch(domain.CategoryLangs, `required language en B2 not stated`),
		mismatch(domain.CategoryLocation, "job is in Астана, candidate is in Алматы"),
		mismatch(domain.CategoryExperience, "job requires 5+ years, candidate has 2"),
		mismatch(domain.CategorySkills, `must-have skill "kubernetes" not found`),
	}
	qs := Questions(ms)
	require.Len(t, qs, MaxQuestions, "never more than three questions")
	assert.Equal(t, domain.CategorySkills, qs[0].Category)
	assert.Equal(t, domain.CategoryExperience, qs[1].Category)
	assert.Equal(t, domain.CategoryLocation, qs[2].Category)
	for i, q := range qs {
		assert.Equal(t, i+1, q.PriorityRank)
		assert.NotEmpty(t, q.Text)
	}
}

func TestQuestionsDeduplicatesCategory(t *testing.T) {
	t.Parallel()
	ms := []domain.Mismatch{
		mismatch(domain.CategorySkills, `must-have skill "go" not found`),
		mismatch(domain.CategorySkills, `must-have skill "postgresql" not found`),
	}
	qs := Questions(ms)
	require.Len(t, qs, 1, "one question per category")
	assert.Contains(t, qs[0].Text, "go")
	assert.Contains(t, qs[0].Text, "postgresql")
	assert.Equal(t, domain.AnswerYesNo, qs[0].AnswerKind)
}

func TestQuestionsNeverPadded(t *testing.T) {
	t.Parallel()
	qs := Questions([]domain.Mismatch{mismatch(domain.CategoryExperience, "job requires 3+ years, experience not stated")})
	require.Len(t, qs, 1)
	assert.Equal(t, domain.AnswerYears, qs[0].AnswerKind)

	assert.Empty(t, Questions(nil), "no mismatches, no questions")
}

func TestQuestionsSingleSentence(t *testing.T) {
	t.Parallel()
	ms := []domain.Mismatch{
		mismatch(domain.CategorySkills, `must-have skill "rust" not found`),
		mismatch(domain.CategoryLangs, "required language en C1 not stated"),
		mismatch(domain.CategoryComp, "candidate expects at least 9000, job ceiling is 5000"),
	}
	for _, q := range Questions(ms) {
		assert.Equal(t, 1, strings.Count(q.Text, "?"), "question %q should be one sentence", q.Text)
	}
}

func TestAnswerKindsPerCategory(t *testing.T) {
	t.Parallel()
	kinds := map[domain.Category]domain.AnswerKind{
		domain.CategorySkills:     domain.AnswerYesNo,
		domain.CategoryExperience: domain.AnswerYears,
		domain.CategoryLocation:   domain.AnswerYesNo,
		domain.CategoryLangs:      domain.AnswerLevel,
		domain.CategoryComp:       domain.AnswerSalary,
	}
	for cat, want := range kinds {
		qs := Questions([]domain.Mismatch{mismatch(cat, "x")})
		require.Len(t, qs, 1, "category %s", cat)
		assert.Equal(t, want, qs[0].AnswerKind, "category %s", cat)
	}
}
