// Package clarify turns a mismatch list into at most three short clarifying
// questions ordered by a fixed category priority.
package clarify

import (
	"fmt"
	"strings"

	"github.com/hiregate/screening/internal/domain"
)

// MaxQuestions caps questions per session.
const MaxQuestions = 3

// priority is the fixed category ordering. Categories outside this list never
// produce questions.
var priority = []domain.Category{
	domain.CategorySkills,
	domain.CategoryExperience,
	domain.CategoryLocation,
	domain.CategoryLangs,
	domain.CategoryComp,
}

// Questions deduplicates mismatches by category, keeps the top three by
// priority, and renders one single-sentence question per category. Fewer
// mismatched categories mean fewer questions; the list is never padded.
func Questions(mismatches []domain.Mismatch) []domain.ClarifyingQuestion {
	byCat := map[domain.Category][]domain.Mismatch{}
	for _, m := range mismatches {
		byCat[m.Category] = append(byCat[m.Category], m)
	}
	var out []domain.ClarifyingQuestion
	for _, cat := range priority {
		ms, ok := byCat[cat]
		if !ok {
			continue
		}
		q := render(cat, ms)
		q.PriorityRank = len(out) + 1
		out = append(out, q)
		if len(out) == MaxQuestions {
			break
		}
	}
	return out
}

func render(cat domain.Category, ms []domain.Mismatch) domain.ClarifyingQuestion {
	switch cat {
	case domain.CategorySkills:
		return domain.ClarifyingQuestion{
			Category:   cat,
			Text:       fmt.Sprintf("Do you have hands-on experience with %s?", itemList(ms)),
			AnswerKind: domain.AnswerYesNo,
		}
	case domain.CategoryExperience:
		return domain.ClarifyingQuestion{
			Category:   cat,
			Text:       "How many years of relevant professional experience do you have?",
			AnswerKind: domain.AnswerYears,
		}
	case domain.CategoryLocation:
		return domain.ClarifyingQuestion{
			Category:   cat,
			Text:       "Are you ready to relocate or work from the job's location?",
			AnswerKind: domain.AnswerYesNo,
		}
	case domain.CategoryLangs:
		return domain.ClarifyingQuestion{
			Category:   cat,
			Text:       "What is your current language level on the A1-C2 scale?",
			AnswerKind: domain.AnswerLevel,
		}
	case domain.CategoryComp:
		return domain.ClarifyingQuestion{
			Category:   cat,
			Text:       "What are your salary expectations, and are they negotiable?",
			AnswerKind: domain.AnswerSalary,
		}
	}
	return domain.ClarifyingQuestion{Category: cat, Text: "Could you clarify this part of your application?", AnswerKind: domain.AnswerFreeText}
}

// itemList names the missing or conflicting items from the category's
// mismatch descriptions, quoted item first.
func itemList(ms []domain.Mismatch) string {
	var items []string
	for _, m := range ms {
		if i := quotedItem(m.Description); i != "" {
			items = append(items, i)
		}
		if len(items) == 3 {
			break
		}
	}
	if len(items) == 0 {
		return "the required skills"
	}
	return strings.Join(items, ", ")
}

func quotedItem(desc string) string {
	start := strings.IndexByte(desc, '"')
	if start < 0 {
		return ""
	}
	end := strings.IndexByte(desc[start+1:], '"')
	if end < 0 {
		return ""
	}
	return desc[start+1 : start+1+end]
}
