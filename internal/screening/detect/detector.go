// Package detect compares normalized job and candidate profiles and emits
// typed mismatches with verbatim evidence.
package detect

import (
	"fmt"
	"sort"
	"sync"

	"github.com/hiregate/screening/internal/domain"
	"github.com/hiregate/screening/internal/screening/normalize"
	"github.com/hiregate/screening/pkg/textx"
)

// EvidenceMaxWords caps every evidence snippet. Evidence is always a verbatim
// substring of the relevant source text; when no supporting text exists the
// snippet stays empty and the mismatch is flagged low-confidence.
const EvidenceMaxWords = 12

// Input carries everything the detector compares. Raw CV text backs the
// exact-token fallback for must-have skills mentioned only in prose.
type Input struct {
	Job       domain.NormalizedProfile
	Candidate domain.NormalizedProfile
	RawCV     string
	Hints     domain.Hints
}

// Detect runs the rule chain in a fixed order: must-have skills, experience,
// languages, location, salary. The returned list order is deterministic.
func Detect(in Input) []domain.Mismatch {
	var out []domain.Mismatch
	out = append(out, skillMismatches(in)...)
	if m, ok := experienceMismatch(in); ok {
		out = append(out, m)
	}
	out = append(out, langMismatches(in)...)
	if m, ok := locationMismatch(in); ok {
		out = append(out, m)
	}
	if m, ok := salaryMismatch(in); ok {
		out = append(out, m)
	}
	return out
}

var (
	vocabOnce sync.Once
	vocab     *normalize.Vocabulary
)

// skillKey resolves a must-have hint to the same canonical token the
// normalizer stores, so "postgres" matches a profile holding "postgresql".
func skillKey(skill string) string {
	vocabOnce.Do(func() { vocab, _ = normalize.LoadVocabulary() })
	if vocab != nil {
		if canon, ok := vocab.CanonicalSkill(skill); ok {
			return textx.Fold(canon)
		}
	}
	return textx.Fold(skill)
}

func skillMismatches(in Input) []domain.Mismatch {
	var out []domain.Mismatch
	for _, skill := range in.Hints.MustHaveSkills {
		if in.Candidate.HasSkill(skillKey(skill)) {
			continue
		}
		if textx.ContainsToken(in.RawCV, skill) {
			// Present in prose only: low structured confidence, not absent.
			out = append(out, withEvidence(domain.Mismatch{
				Category:    domain.CategorySkills,
				Description: fmt.Sprintf("must-have skill %q found only in free text", skill),
				Severity:    domain.SeverityPartial,
			}, in.RawCV, skill))
			continue
		}
		out = append(out, domain.Mismatch{
			Category:      domain.CategorySkills,
			Description:   fmt.Sprintf("must-have skill %q not found", skill),
			Severity:      domain.SeverityMissing,
			LowConfidence: true,
		})
	}
	return out
}

func experienceMismatch(in Input) (domain.Mismatch, bool) {
	req := in.Job.ExperienceYears
	if req == nil || *req <= 0 {
		return domain.Mismatch{}, false
	}
	got := in.Candidate.ExperienceYears
	if got == nil {
		return domain.Mismatch{
			Category:      domain.CategoryExperience,
			Description:   fmt.Sprintf("job requires %.0f+ years, experience not stated", *req),
			Severity:      domain.SeverityMissing,
			LowConfidence: true,
		}, true
	}
	if *got >= *req {
		return domain.Mismatch{}, false
	}
	return withEvidence(domain.Mismatch{
		Category:    domain.CategoryExperience,
		Description: fmt.Sprintf("job requires %.0f+ years, candidate has %.0f", *req, *got),
		Severity:    domain.SeverityConflict,
	}, in.RawCV, yearsNeedle(in.RawCV)), true
}

func langMismatches(in Input) []domain.Mismatch {
	var out []domain.Mismatch
	codes := make([]string, 0, len(in.Job.Languages))
	for code := range in.Job.Languages {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	for _, code := range codes {
		reqLevel := in.Job.Languages[code]
		gotLevel, ok := in.Candidate.Languages[code]
		if !ok {
			out = append(out, domain.Mismatch{
				Category:      domain.CategoryLangs,
				Description:   fmt.Sprintf("required language %s %s not stated", code, reqLevel),
				Severity:      domain.SeverityMissing,
				LowConfidence: true,
			})
			continue
		}
		if domain.CEFRRank(gotLevel) >= domain.CEFRRank(reqLevel) {
			continue
		}
		out = append(out, withEvidence(domain.Mismatch{
			Category:    domain.CategoryLangs,
			Description: fmt.Sprintf("language %s is %s, job requires %s", code, gotLevel, reqLevel),
			Severity:    domain.SeverityConflict,
		}, in.RawCV, string(gotLevel)))
	}
	return out
}

func locationMismatch(in Input) (domain.Mismatch, bool) {
	if in.Job.Location == nil {
		return domain.Mismatch{}, false
	}
	// A fully remote job puts no constraint on the candidate's city.
	if in.Job.Employment != nil && *in.Job.Employment == domain.EmploymentRemote {
		return domain.Mismatch{}, false
	}
	if in.Candidate.Location == nil {
		return domain.Mismatch{
			Category:      domain.CategoryLocation,
			Description:   fmt.Sprintf("job is located in %s, candidate location not stated", *in.Job.Location),
			Severity:      domain.SeverityMissing,
			LowConfidence: true,
		}, true
	}
	if textx.Fold(*in.Candidate.Location) == textx.Fold(*in.Job.Location) {
		return domain.Mismatch{}, false
	}
	return withEvidence(domain.Mismatch{
		Category:    domain.CategoryLocation,
		Description: fmt.Sprintf("job is in %s, candidate is in %s", *in.Job.Location, *in.Candidate.Location),
		Severity:    domain.SeverityConflict,
	}, in.RawCV, *in.Candidate.Location), true
}

func salaryMismatch(in Input) (domain.Mismatch, bool) {
	if in.Job.Salary == nil || in.Candidate.Salary == nil {
		return domain.Mismatch{}, false
	}
	if in.Job.Salary.Max <= 0 || in.Candidate.Salary.Min <= 0 {
		return domain.Mismatch{}, false
	}
	if in.Candidate.Salary.Min <= in.Job.Salary.Max {
		return domain.Mismatch{}, false
	}
	return withEvidence(domain.Mismatch{
		Category:    domain.CategoryComp,
		Description: fmt.Sprintf("candidate expects at least %d, job ceiling is %d", in.Candidate.Salary.Min, in.Job.Salary.Max),
		Severity:    domain.SeverityConflict,
	}, in.RawCV, fmt.Sprintf("%d", in.Candidate.Salary.Min)), true
}

// withEvidence attaches a verbatim snippet around needle when it occurs in
// source text. Absence of evidence marks the mismatch low-confidence rather
// than inventing a quote.
func withEvidence(m domain.Mismatch, source, needle string) domain.Mismatch {
	if needle != "" {
		if snip := textx.Snippet(source, needle, EvidenceMaxWords); snip != "" {
			m.Evidence = snip
			return m
		}
	}
	m.LowConfidence = true
	return m
}

// yearsNeedle picks the experience phrase from the CV, if any, to quote.
func yearsNeedle(raw string) string {
	for _, w := range []string{"years", "year", "лет", "года", "год"} {
		if snip := textx.Snippet(raw, w, 1); snip != "" {
			return w
		}
	}
	return ""
}
