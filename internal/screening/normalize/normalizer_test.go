package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hiregate/screening/internal/domain"
)

func TestCandidateProfileSkillsAndExperience(t *testing.T) {
	t.Parallel()
	n := MustNew()
	p := n.CandidateProfile("Backend developer, 4 years with Python, Flask and PostgreSQL. Some Golang on side projects.")
	assert.Contains(t, p.Skills, "python")
	assert.Contains(t, p.Skills, "flask")
	assert.Contains(t, p.Skills, "postgresql", "alias postgres family should canonicalize")
	assert.Contains(t, p.Skills, "go", "golang alias canonicalizes to go")
	require.NotNil(t, p.ExperienceYears)
	assert.InDelta(t, 4.0, *p.ExperienceYears, 0.01)
}

func TestCandidateProfileLanguagesAndLocation(t *testing.T) {
	t.Parallel()
	n := MustNew()
	p := n.CandidateProfile("Based in Almaty. English B2, Russian native.")
	require.NotNil(t, p.Location)
	assert.Equal(t, "Almaty", *p.Location)
	assert.Equal(t, domain.CEFRLevel("B2"), p.Languages["en"])
	assert.Equal(t, domain.CEFRC2, p.Languages["ru"], "native maps to C2")
}

func TestJobProfileHintsOverrideText(t *testing.T) {
	t.Parallel()
	n := MustNew()
	hints := domain.Hints{
		MustHaveSkills:      []string{"Kubernetes"},
		LangRequirement:     "EN C1",
		LocationRequirement: "Astana",
		SalaryRange:         &domain.SalaryRange{Min: 3000, Max: 5000, Currency: "USD"},
	}
	p := n.JobProfile("Go developer in Almaty, английский B1. We value Kubernetes experience.", hints)
	require.NotNil(t, p.Location)
	assert.Equal(t, "Astana", *p.Location, "hint wins over text")
	assert.Equal(t, domain.CEFRLevel("C1"), p.Languages["en"], "hint wins over text")
	require.NotNil(t, p.Salary)
	assert.Equal(t, 5000, p.Salary.Max)
	assert.Contains(t, p.Skills, "kubernetes")
}

func TestJobProfileEmployment(t *testing.T) {
	t.Parallel()
	n := MustNew()
	p := n.JobProfile("Fully remote Go role, 3+ years required.", domain.Hints{})
	require.NotNil(t, p.Employment)
	assert.Equal(t, domain.EmploymentRemote, *p.Employment)
	require.NotNil(t, p.ExperienceYears)
	assert.InDelta(t, 3.0, *p.ExperienceYears, 0.01)
}

func TestProfileEmptyInput(t *testing.T) {
	t.Parallel()
	n := MustNew()
	p := n.CandidateProfile("   ")
	assert.Empty(t, p.Skills)
	assert.Empty(t, p.Languages)
	assert.Nil(t, p.ExperienceYears)
	assert.Nil(t, p.Location)
	assert.Nil(t, p.Salary)
}

func TestExperiencePicksLargest(t *testing.T) {
	t.Parallel()
	n := MustNew()
	p := n.CandidateProfile("2 years at startup, then 6 years at bank")
	require.NotNil(t, p.ExperienceYears)
	assert.InDelta(t, 6.0, *p.ExperienceYears, 0.01)
}

func TestRussianExperiencePhrase(t *testing.T) {
	t.Parallel()
	n := MustNew()
	p := n.CandidateProfile("Опыт разработки 5 лет, Python и SQLite")
	require.NotNil(t, p.ExperienceYears)
	assert.InDelta(t, 5.0, *p.ExperienceYears, 0.01)
	assert.Contains(t, p.Skills, "python")
}

func TestSalaryRangeFromText(t *testing.T) {
	t.Parallel()
	n := MustNew()
	p := n.CandidateProfile("Expecting 4000-6000 USD")
	require.NotNil(t, p.Salary)
	assert.Equal(t, 4000, p.Salary.Min)
	assert.Equal(t, 6000, p.Salary.Max)
	assert.Equal(t, "USD", p.Salary.Currency)
}

func TestVocabularyAliases(t *testing.T) {
	t.Parallel()
	v, err := LoadVocabulary()
	require.NoError(t, err)
	canon, ok := v.CanonicalSkill("k8s")
	require.True(t, ok)
	assert.Equal(t, "kubernetes", canon)
	code, ok := v.LangCode("english")
	require.True(t, ok)
	assert.Equal(t, "en", code)
}
