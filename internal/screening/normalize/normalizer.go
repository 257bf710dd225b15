// Package normalize canonicalizes job and resume free text into comparable
// structured profiles. It never fails on malformed input; the worst case is
// an empty profile.
package normalize

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/hiregate/screening/internal/domain"
	"github.com/hiregate/screening/pkg/textx"
)

// Normalizer extracts NormalizedProfiles from raw text using the embedded
// skill and language vocabulary plus caller-supplied hints.
type Normalizer struct {
	vocab *Vocabulary
}

// New constructs a Normalizer from the embedded vocabulary.
func New() (*Normalizer, error) {
	v, err := LoadVocabulary()
	if err != nil {
		return nil, err
	}
	return &Normalizer{vocab: v}, nil
}

// MustNew is New for wiring paths where the embedded vocabulary is known good.
func MustNew() *Normalizer {
	n, err := New()
	if err != nil {
		panic(err)
	}
	return n
}

var (
	reYears = regexp.MustCompile(`(\d{1,2}(?:[.,]\d)?)\s*\+?\s*(?:years?|yrs?|лет|год(?:а|у)?|жыл)`)
	// "from Astana", "in Almaty", "город Алматы", "г. Астана"
	reLocation = regexp.MustCompile(`(?:\bfrom\b|\bin\b|\bbased in\b|город|г\.)\s+([\p{Lu}][\p{L}-]+)`)
	reSalary   = regexp.MustCompile(`(\d{3,9})(?:\s*[-–—]\s*(\d{3,9}))?\s*(usd|kzt|eur|rub|тг|₸|\$)`)
)

// CandidateProfile normalizes resume text.
func (n *Normalizer) CandidateProfile(raw string) domain.NormalizedProfile {
	return n.profile(raw, domain.Hints{})
}

// JobProfile normalizes job description text. Explicit hints override or
// supplement whatever the text yields; normalization itself never guesses.
func (n *Normalizer) JobProfile(raw string, hints domain.Hints) domain.NormalizedProfile {
	return n.profile(raw, hints)
}

func (n *Normalizer) profile(raw string, hints domain.Hints) domain.NormalizedProfile {
	text := textx.SanitizeText(raw)
	p := domain.NormalizedProfile{
		Skills:    map[string]struct{}{},
		Languages: map[string]domain.CEFRLevel{},
		Notes:     text,
	}
	if text == "" && len(hints.MustHaveSkills) == 0 && hints.LangRequirement == "" &&
		hints.LocationRequirement == "" && hints.SalaryRange == nil {
		return p
	}

	n.extractSkills(text, hints.MustHaveSkills, &p)
	n.extractExperience(text, &p)
	n.extractLanguages(text, &p)
	n.extractLocation(text, &p)
	n.extractSalary(text, &p)

	// Hint overrides win over best-effort text extraction.
	if hints.LocationRequirement != "" {
		loc := hints.LocationRequirement
		p.Location = &loc
	}
	if hints.SalaryRange != nil {
		sr := *hints.SalaryRange
		p.Salary = &sr
	}
	if hints.LangRequirement != "" {
		if code, level, ok := n.parseLangRequirement(hints.LangRequirement); ok {
			p.Languages[code] = level
		}
	}

	p.SkillList = make([]string, 0, len(p.Skills))
	for s := range p.Skills {
		p.SkillList = append(p.SkillList, s)
	}
	sort.Strings(p.SkillList)
	return p
}

// extractSkills tokenizes against the vocabulary plus hint-provided must-have
// terms. Must-have terms count as present on an exact token match anywhere in
// the text, which covers skills mentioned only in narrative sentences.
func (n *Normalizer) extractSkills(text string, mustHave []string, p *domain.NormalizedProfile) {
	tokens := textx.Tokens(text)
	// Vocabulary terms span up to three tokens (e.g. "ci/cd" folds to two).
	for i := range tokens {
		for width := 3; width >= 1; width-- {
			if i+width > len(tokens) {
				continue
			}
			candidate := strings.Join(tokens[i:i+width], " ")
			if canon, ok := n.vocab.CanonicalSkill(candidate); ok {
				p.Skills[textx.Fold(canon)] = struct{}{}
			}
		}
	}
	for _, mh := range mustHave {
		if textx.ContainsToken(text, mh) {
			p.Skills[textx.Fold(mh)] = struct{}{}
		}
	}
}

func (n *Normalizer) extractExperience(text string, p *domain.NormalizedProfile) {
	best := -1.0
	for _, m := range reYears.FindAllStringSubmatch(strings.ToLower(text), -1) {
		v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", "."), 64)
		if err != nil {
			continue
		}
		if v > best {
			best = v
		}
	}
	if best >= 0 {
		p.ExperienceYears = &best
	}
}

// extractLanguages maps "<language> <level>" pairs onto the CEFR scale.
// A language with no stated level stays absent from the map.
func (n *Normalizer) extractLanguages(text string, p *domain.NormalizedProfile) {
	tokens := textx.Tokens(text)
	for i, tok := range tokens {
		code, ok := n.vocab.LangCode(tok)
		if !ok {
			continue
		}
		// Level must appear within the next couple of tokens.
		for j := i + 1; j < len(tokens) && j <= i+3; j++ {
			if lvl, ok := parseCEFR(tokens[j]); ok {
				p.Languages[code] = lvl
				break
			}
		}
	}
}

func (n *Normalizer) extractLocation(text string, p *domain.NormalizedProfile) {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "hybrid") || strings.Contains(lower, "гибрид"):
		et := domain.EmploymentHybrid
		p.Employment = &et
	case strings.Contains(lower, "remote") || strings.Contains(lower, "удален") || strings.Contains(lower, "удалён"):
		et := domain.EmploymentRemote
		p.Employment = &et
	case strings.Contains(lower, "office") || strings.Contains(lower, "on-site") || strings.Contains(lower, "onsite") || strings.Contains(lower, "офис"):
		et := domain.EmploymentOffice
		p.Employment = &et
	}
	if m := reLocation.FindStringSubmatch(text); m != nil {
		loc := m[1]
		p.Location = &loc
	}
}

func (n *Normalizer) extractSalary(text string, p *domain.NormalizedProfile) {
	m := reSalary.FindStringSubmatch(strings.ToLower(text))
	if m == nil {
		return
	}
	minV, err := strconv.Atoi(m[1])
	if err != nil {
		return
	}
	maxV := minV
	if m[2] != "" {
		if v, err := strconv.Atoi(m[2]); err == nil {
			maxV = v
		}
	}
	p.Salary = &domain.SalaryRange{Min: minV, Max: maxV, Currency: canonicalCurrency(m[3])}
}

// parseLangRequirement understands hint strings like "EN B2" or "english C1".
func (n *Normalizer) parseLangRequirement(req string) (string, domain.CEFRLevel, bool) {
	parts := textx.Tokens(req)
	code := ""
	level := domain.CEFRLevel("")
	for _, p := range parts {
		if lvl, ok := parseCEFR(p); ok {
			level = lvl
			continue
		}
		if c, ok := n.vocab.LangCode(p); ok {
			code = c
		}
	}
	if code == "" || level == "" {
		return "", "", false
	}
	return code, level, true
}

func parseCEFR(tok string) (domain.CEFRLevel, bool) {
	up := strings.ToUpper(strings.TrimSpace(tok))
	switch up {
	case "A1", "A2", "B1", "B2", "C1", "C2":
		return domain.CEFRLevel(up), true
	}
	switch strings.ToLower(tok) {
	case "native", "родной":
		return domain.CEFRC2, true
	case "fluent", "advanced", "свободно":
		return domain.CEFRC1, true
	case "upper-intermediate":
		return domain.CEFRB2, true
	case "intermediate", "средний":
		return domain.CEFRB1, true
	case "basic", "beginner", "базовый":
		return domain.CEFRA2, true
	}
	return "", false
}

func canonicalCurrency(c string) string {
	switch c {
	case "$", "usd":
		return "USD"
	case "тг", "₸", "kzt":
		return "KZT"
	case "eur":
		return "EUR"
	case "rub":
		return "RUB"
	}
	return strings.ToUpper(c)
}
