package dialogue

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/hiregate/screening/internal/domain"
)

var (
	reAnswerYears  = regexp.MustCompile(`(\d{1,2}(?:[.,]\d)?)`)
	reAnswerLevel  = regexp.MustCompile(`(?i)\b([abc][12])\b`)
	reAnswerNumber = regexp.MustCompile(`(\d[\d\s]{2,12})`)
)

var yesWords = []string{"yes", "yep", "sure", "да", "ага", "готов", "готова", "иә", "of course", "конечно"}
var noWords = []string{"no", "nope", "нет", "не готов", "жоқ"}

// ParseAnswer turns a raw candidate reply into a DialogueFinding for the
// question's category. An unparseable reply is still recorded, with
// Accepted=false and a nil parsed value, so the orchestrator can decide
// whether to re-prompt or move on.
func ParseAnswer(q domain.ClarifyingQuestion, raw string) domain.DialogueFinding {
	f := domain.DialogueFinding{Category: q.Category, RawAnswer: raw}
	text := strings.ToLower(strings.TrimSpace(raw))
	if text == "" {
		return f
	}
	switch q.AnswerKind {
	case domain.AnswerYesNo:
		if v, ok := parseYesNo(text); ok {
			f.ParsedValue = v
			f.Accepted = true
		}
	case domain.AnswerYears:
		if m := reAnswerYears.FindStringSubmatch(text); m != nil {
			if v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", "."), 64); err == nil {
				f.ParsedValue = v
				f.Accepted = true
			}
		}
	case domain.AnswerLevel:
		if m := reAnswerLevel.FindStringSubmatch(text); m != nil {
			f.ParsedValue = domain.CEFRLevel(strings.ToUpper(m[1]))
			f.Accepted = true
		}
	case domain.AnswerSalary:
		if strings.Contains(text, "negotiable") || strings.Contains(text, "обсуждаем") || strings.Contains(text, "гибко") {
			f.ParsedValue = "negotiable"
			f.Accepted = true
			break
		}
		if m := reAnswerNumber.FindStringSubmatch(text); m != nil {
			digits := strings.ReplaceAll(strings.TrimSpace(m[1]), " ", "")
			if v, err := strconv.Atoi(digits); err == nil {
				f.ParsedValue = v
				f.Accepted = true
			}
		}
	case domain.AnswerFreeText:
		f.ParsedValue = strings.TrimSpace(raw)
		f.Accepted = true
	}
	return f
}

func parseYesNo(text string) (bool, bool) {
	for _, w := range noWords {
		if strings.Contains(text, w) {
			return false, true
		}
	}
	for _, w := range yesWords {
		if strings.Contains(text, w) {
			return true, true
		}
	}
	return false, false
}
