// Package score computes the weighted relevance breakdown and verdict from
// normalized profiles, mismatches, and dialogue findings. Given the same
// inputs it always produces the same output.
package score

import (
	"fmt"
	"math"
	"sort"

	"github.com/hiregate/screening/internal/domain"
	"github.com/hiregate/screening/pkg/textx"
)

// Per-mismatch penalties, graduated by severity.
const (
	PenaltyMissing  = 60
	PenaltyConflict = 45
	PenaltyPartial  = 20
	// FindingCredit is added back when an accepted dialogue finding resolves
	// the category's concern.
	FindingCredit = 40
)

// Verdict thresholds, inclusive.
const (
	NotFitMax       = 30
	QuestionableMax = 50
)

const maxBullets = 3

// baseWeights mirror the relative importance of each category before
// requirement-driven zeroing and renormalization.
var baseWeights = map[domain.Category]float64{
	domain.CategorySkills:     0.35,
	domain.CategoryExperience: 0.30,
	domain.CategoryLangs:      0.10,
	domain.CategoryLocation:   0.10,
	domain.CategoryEducation:  0.05,
	domain.CategoryDomain:     0.05,
	domain.CategoryComp:       0.05,
}

var categoryOrder = []domain.Category{
	domain.CategorySkills,
	domain.CategoryExperience,
	domain.CategoryLangs,
	domain.CategoryLocation,
	domain.CategoryComp,
	domain.CategoryEducation,
	domain.CategoryDomain,
}

// Input is everything the scorer reads.
type Input struct {
	Job        domain.NormalizedProfile
	Candidate  domain.NormalizedProfile
	Mismatches []domain.Mismatch
	Findings   []domain.DialogueFinding
	MustHave   []string
}

// Compute builds a fresh ScoreBreakdown. A category the job states no
// requirement for gets weight zero and does not affect the average; an
// all-zero weight vector yields an overall score of zero rather than a
// division error.
func Compute(in Input) domain.ScoreBreakdown {
	in = backfillSkills(in)
	weights := deriveWeights(in.Job, in.MustHave)

	scores := map[domain.Category]int{}
	for _, cat := range categoryOrder {
		scores[cat] = categoryScore(cat, in)
	}

	var sum, totalW float64
	for _, cat := range categoryOrder {
		w := weights[cat]
		if w <= 0 {
			continue
		}
		sum += float64(scores[cat]) * w
		totalW += w
	}
	overall := 0
	if totalW > 0 {
		overall = int(math.Round(sum / totalW))
	}

	return domain.ScoreBreakdown{
		ScoresPct:       scores,
		OverallMatchPct: overall,
		Verdict:         VerdictFor(overall),
		Positives:       bullets(scores, weights, true),
		Risks:           bullets(scores, weights, false),
	}
}

// VerdictFor maps an overall percentage to the three-tier outcome.
func VerdictFor(overall int) domain.Verdict {
	switch {
	case overall <= NotFitMax:
		return domain.VerdictNotFit
	case overall <= QuestionableMax:
		return domain.VerdictQuestionable
	}
	return domain.VerdictFit
}

// backfillSkills fills an empty structured candidate skill set from free-text
// notes and dialogue answers so an unfilled profile is not penalized to zero.
func backfillSkills(in Input) Input {
	if len(in.Candidate.Skills) > 0 {
		return in
	}
	texts := []string{in.Candidate.Notes}
	for _, f := range in.Findings {
		texts = append(texts, f.RawAnswer)
	}
	filled := map[string]struct{}{}
	wanted := append([]string{}, in.MustHave...)
	wanted = append(wanted, in.Job.SkillList...)
	for _, skill := range wanted {
		for _, t := range texts {
			if textx.ContainsToken(t, skill) {
				filled[textx.Fold(skill)] = struct{}{}
				break
			}
		}
	}
	if len(filled) == 0 {
		return in
	}
	cand := in.Candidate
	cand.Skills = filled
	cand.SkillList = make([]string, 0, len(filled))
	for s := range filled {
		cand.SkillList = append(cand.SkillList, s)
	}
	sort.Strings(cand.SkillList)
	in.Candidate = cand
	return in
}

// deriveWeights zeroes categories the job states no requirement for and
// renormalizes the remainder to sum to one.
func deriveWeights(job domain.NormalizedProfile, mustHave []string) map[domain.Category]float64 {
	stated := map[domain.Category]bool{
		domain.CategorySkills:     len(mustHave) > 0 || len(job.Skills) > 0,
		domain.CategoryExperience: job.ExperienceYears != nil && *job.ExperienceYears > 0,
		domain.CategoryLangs:      len(job.Languages) > 0,
		domain.CategoryLocation:   job.Location != nil,
		domain.CategoryComp:       job.Salary != nil,
		// Education and domain requirements are not derivable from free text
		// today; their weight stays zero until a job states them.
		domain.CategoryEducation: false,
		domain.CategoryDomain:    false,
	}
	out := map[domain.Category]float64{}
	var total float64
	for cat, w := range baseWeights {
		if stated[cat] {
			out[cat] = w
			total += w
		}
	}
	if total == 0 {
		return out
	}
	for cat := range out {
		out[cat] /= total
	}
	return out
}

func categoryScore(cat domain.Category, in Input) int {
	s := 100
	unresolved := 0
	for _, m := range in.Mismatches {
		if m.Category != cat {
			continue
		}
		if stillRelevant(m, in) {
			s -= penalty(m.Severity)
			unresolved++
		}
	}
	if s < 0 {
		s = 0
	}
	if unresolved > 0 {
		if f, ok := findingFor(in.Findings, cat); ok && f.Accepted && resolves(cat, f, in.Job) {
			s += FindingCredit
			if s > 100 {
				s = 100
			}
		}
	}
	return s
}

// stillRelevant drops skill mismatches whose skill turned up via backfill.
func stillRelevant(m domain.Mismatch, in Input) bool {
	if m.Category != domain.CategorySkills || m.Severity != domain.SeverityMissing {
		return true
	}
	item := quotedItem(m.Description)
	if item == "" {
		return true
	}
	return !in.Candidate.HasSkill(textx.Fold(item))
}

func penalty(sev domain.Severity) int {
	switch sev {
	case domain.SeverityMissing:
		return PenaltyMissing
	case domain.SeverityConflict:
		return PenaltyConflict
	case domain.SeverityPartial:
		return PenaltyPartial
	}
	return PenaltyPartial
}

// resolves decides whether an accepted finding removes the category concern.
func resolves(cat domain.Category, f domain.DialogueFinding, job domain.NormalizedProfile) bool {
	switch cat {
	case domain.CategorySkills, domain.CategoryLocation:
		b, ok := f.ParsedValue.(bool)
		return ok && b
	case domain.CategoryExperience:
		years, ok := f.ParsedValue.(float64)
		if !ok {
			return false
		}
		return job.ExperienceYears == nil || years >= *job.ExperienceYears
	case domain.CategoryLangs:
		// Findings loaded from storage carry the level as a plain string.
		var lvl domain.CEFRLevel
		switch v := f.ParsedValue.(type) {
		case domain.CEFRLevel:
			lvl = v
		case string:
			lvl = domain.CEFRLevel(v)
		default:
			return false
		}
		for _, req := range job.Languages {
			if domain.CEFRRank(lvl) < domain.CEFRRank(req) {
				return false
			}
		}
		return true
	case domain.CategoryComp:
		switch v := f.ParsedValue.(type) {
		case string:
			return v == "negotiable"
		case int:
			return job.Salary == nil || job.Salary.Max <= 0 || v <= job.Salary.Max
		case float64:
			return job.Salary == nil || job.Salary.Max <= 0 || int(v) <= job.Salary.Max
		}
	}
	return false
}

func findingFor(fs []domain.DialogueFinding, cat domain.Category) (domain.DialogueFinding, bool) {
	for _, f := range fs {
		if f.Category == cat {
			return f, true
		}
	}
	return domain.DialogueFinding{}, false
}

// bullets lists the strongest or weakest weighted categories, capped.
func bullets(scores map[domain.Category]int, weights map[domain.Category]float64, positive bool) []string {
	type cs struct {
		cat domain.Category
		pct int
	}
	var picked []cs
	for _, cat := range categoryOrder {
		if weights[cat] <= 0 {
			continue
		}
		pct := scores[cat]
		if positive && pct >= 70 {
			picked = append(picked, cs{cat, pct})
		}
		if !positive && pct <= 50 {
			picked = append(picked, cs{cat, pct})
		}
	}
	sort.SliceStable(picked, func(i, j int) bool {
		if positive {
			return picked[i].pct > picked[j].pct
		}
		return picked[i].pct < picked[j].pct
	})
	if len(picked) > maxBullets {
		picked = picked[:maxBullets]
	}
	out := make([]string, 0, len(picked))
	for _, p := range picked {
		if positive {
			out = append(out, fmt.Sprintf("strong %s match (%d%%)", p.cat, p.pct))
		} else {
			out = append(out, fmt.Sprintf("weak %s match (%d%%)", p.cat, p.pct))
		}
	}
	return out
}

func quotedItem(desc string) string {
	start := -1
	for i := 0; i < len(desc); i++ {
		if desc[i] == '"' {
			start = i
			break
		}
	}
	if start < 0 {
		return ""
	}
	for j := start + 1; j < len(desc); j++ {
		if desc[j] == '"' {
			return desc[start+1 : j]
		}
	}
	return ""
}
