// Package domain defines the core entities and ports of the screening service.
package domain

import (
	"context"
	"errors"
	"time"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrSessionBusy     = errors.New("session busy")
	ErrTerminalState   = errors.New("session in terminal state")
	ErrRateLimited     = errors.New("rate limited")
	ErrInternal        = errors.New("internal error")
)

// Category identifies a screening comparison axis.
type Category string

const (
	CategorySkills     Category = "skills"
	CategoryExperience Category = "experience"
	CategoryLangs      Category = "langs"
	CategoryLocation   Category = "location"
	CategoryComp       Category = "comp"
	CategoryEducation  Category = "education"
	CategoryDomain     Category = "domain"
)

// EmploymentType is the declared work arrangement.
type EmploymentType string

const (
	EmploymentOffice EmploymentType = "office"
	EmploymentRemote EmploymentType = "remote"
	EmploymentHybrid EmploymentType = "hybrid"
)

// CEFRLevel is a language proficiency on the A1..C2 ladder.
type CEFRLevel string

const (
	CEFRA1 CEFRLevel = "A1"
	CEFRA2 CEFRLevel = "A2"
	CEFRB1 CEFRLevel = "B1"
	CEFRB2 CEFRLevel = "B2"
	CEFRC1 CEFRLevel = "C1"
	CEFRC2 CEFRLevel = "C2"
)

// CEFRRank maps a level to its position on the ladder; unknown levels rank 0.
func CEFRRank(l CEFRLevel) int {
	switch l {
	case CEFRA1:
		return 1
	case CEFRA2:
		return 2
	case CEFRB1:
		return 3
	case CEFRB2:
		return 4
	case CEFRC1:
		return 5
	case CEFRC2:
		return 6
	}
	return 0
}

// SalaryRange is a bounded compensation expectation or offer.
type SalaryRange struct {
	Min      int    `json:"min"`
	Max      int    `json:"max"`
	Currency string `json:"currency"`
}

// NormalizedProfile is the comparable structured form of a job description or
// resume. It is immutable once produced from a text snapshot; a changed source
// text yields a fresh profile.
type NormalizedProfile struct {
	Skills          map[string]struct{} `json:"-"`
	SkillList       []string            `json:"skills"`
	ExperienceYears *float64            `json:"experience_years,omitempty"`
	Languages       map[string]CEFRLevel `json:"languages,omitempty"`
	Location        *string             `json:"location,omitempty"`
	Employment      *EmploymentType     `json:"employment_type,omitempty"`
	Salary          *SalaryRange        `json:"salary_range,omitempty"`
	Notes           string              `json:"-"`
}

// HasSkill reports structured-set membership for an already-normalized token.
func (p NormalizedProfile) HasSkill(skill string) bool {
	_, ok := p.Skills[skill]
	return ok
}

// Severity grades how badly a requirement is unmet.
type Severity string

const (
	SeverityMissing  Severity = "missing"
	SeverityPartial  Severity = "partial"
	SeverityConflict Severity = "conflict"
)

// Mismatch is a detected gap between a job requirement and a candidate
// attribute. Evidence, when present, is a verbatim substring of the source
// text and at most twelve words; it is never fabricated.
type Mismatch struct {
	Category      Category `json:"category"`
	Description   string   `json:"description"`
	Evidence      string   `json:"evidence"`
	Severity      Severity `json:"severity"`
	LowConfidence bool     `json:"low_confidence"`
}

// AnswerKind tells the dialogue layer how to parse a candidate reply.
type AnswerKind string

const (
	AnswerYesNo    AnswerKind = "yes_no"
	AnswerYears    AnswerKind = "years_number"
	AnswerLevel    AnswerKind = "level_select"
	AnswerSalary   AnswerKind = "salary_number"
	AnswerFreeText AnswerKind = "free_text_short"
)

// ClarifyingQuestion is one interview prompt produced from the mismatch list.
type ClarifyingQuestion struct {
	Category     Category   `json:"category"`
	Text         string     `json:"text"`
	PriorityRank int        `json:"priority_rank"`
	AnswerKind   AnswerKind `json:"answer_kind"`
}

// DialogueFinding records a candidate answer for one question category.
// A later answer for the same category overwrites the earlier one.
type DialogueFinding struct {
	Category    Category `json:"category"`
	RawAnswer   string   `json:"raw_answer"`
	ParsedValue any      `json:"parsed_value"`
	Accepted    bool     `json:"accepted"`
}

// Verdict is the three-tier screening outcome.
type Verdict string

const (
	VerdictNotFit       Verdict = "not_fit"
	VerdictQuestionable Verdict = "questionable"
	VerdictFit          Verdict = "fit"
)

// ScoreBreakdown is the derived screening result. It is recomputed on demand
// and replaced whole, never mutated in place.
type ScoreBreakdown struct {
	ScoresPct       map[Category]int `json:"scores_pct"`
	OverallMatchPct int              `json:"overall_match_pct"`
	Verdict         Verdict          `json:"verdict"`
	Positives       []string         `json:"positives"`
	Risks           []string         `json:"risks"`
}

// SessionState is the orchestrator state machine position.
type SessionState string

const (
	SessionPending   SessionState = "pending"
	SessionActive    SessionState = "active"
	SessionPaused    SessionState = "paused"
	SessionCompleted SessionState = "completed"
	SessionCancelled SessionState = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (s SessionState) Terminal() bool {
	return s == SessionCompleted || s == SessionCancelled
}

// Sender identifies who produced a transcript message.
type Sender string

const (
	SenderBot       Sender = "bot"
	SenderCandidate Sender = "candidate"
)

// TranscriptMessage is one durable chat line. The transcript is append-only.
type TranscriptMessage struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Sender    Sender    `json:"sender"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Session is one candidate-vacancy screening dialogue instance. It is mutated
// exclusively through the dialogue transition function.
type Session struct {
	ID           string
	ScreeningID  string
	State        SessionState
	Questions    []ClarifyingQuestion
	CurrentIndex int
	Findings     []DialogueFinding
	FinalScore   *ScoreBreakdown
	CancelReason string
	Reprompts    int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// FindingFor returns the recorded finding for a category, if any.
func (s Session) FindingFor(c Category) (DialogueFinding, bool) {
	for _, f := range s.Findings {
		if f.Category == c {
			return f, true
		}
	}
	return DialogueFinding{}, false
}

// CurrentQuestion returns the question awaiting an answer, if any remain.
func (s Session) CurrentQuestion() (ClarifyingQuestion, bool) {
	if s.CurrentIndex < 0 || s.CurrentIndex >= len(s.Questions) {
		return ClarifyingQuestion{}, false
	}
	return s.Questions[s.CurrentIndex], true
}

// ScreeningStatus tracks the asynchronous analysis pipeline.
type ScreeningStatus string

const (
	ScreeningQueued     ScreeningStatus = "queued"
	ScreeningProcessing ScreeningStatus = "processing"
	ScreeningReady      ScreeningStatus = "ready"
	ScreeningFailed     ScreeningStatus = "failed"
)

// Hints are optional, independently-nullable requirement overrides supplied
// by the employer alongside the raw texts.
type Hints struct {
	MustHaveSkills      []string     `json:"must_have_skills,omitempty"`
	LangRequirement     string       `json:"lang_requirement,omitempty"`
	LocationRequirement string       `json:"location_requirement,omitempty"`
	SalaryRange         *SalaryRange `json:"salary_range,omitempty"`
}

// Screening is one job/CV pair under evaluation plus its analysis artifacts.
type Screening struct {
	ID         string
	Status     ScreeningStatus
	JobText    string
	CVText     string
	Hints      Hints
	JobProfile *NormalizedProfile
	CVProfile  *NormalizedProfile
	Mismatches []Mismatch
	Error      string
	IdemKey    *string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Context is an alias so ports read uniformly; adapters pass context.Context.
type Context = context.Context
