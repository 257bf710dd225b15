package usecase

import (
	"context"
	"errors"

	"github.com/hiregate/screening/internal/domain"
	"github.com/hiregate/screening/internal/screening/score"
)

// ResultService assembles the read-side view of a screening: pipeline status,
// analysis artifacts, and the dialogue outcome with its session state so a
// best-effort (cancelled) score is distinguishable from a completed one.
type ResultService struct {
	Screenings domain.ScreeningRepository
	Sessions   domain.SessionRepository
	Transcript domain.TranscriptRepository
}

// NewResultService constructs a ResultService with the given repositories.
func NewResultService(s domain.ScreeningRepository, sess domain.SessionRepository, t domain.TranscriptRepository) ResultService {
	return ResultService{Screenings: s, Sessions: sess, Transcript: t}
}

// ScreeningView is the API-facing aggregate for one screening.
type ScreeningView struct {
	ID           string                    `json:"id"`
	Status       domain.ScreeningStatus    `json:"status"`
	Error        string                    `json:"error,omitempty"`
	JobProfile   *domain.NormalizedProfile `json:"job_profile,omitempty"`
	CVProfile    *domain.NormalizedProfile `json:"cv_profile,omitempty"`
	Mismatches   []domain.Mismatch         `json:"mismatches,omitempty"`
	SessionState domain.SessionState       `json:"session_state,omitempty"`
	Questions    []domain.ClarifyingQuestion `json:"questions,omitempty"`
	Findings     []domain.DialogueFinding  `json:"findings,omitempty"`
	FinalScore   *domain.ScoreBreakdown    `json:"final_score,omitempty"`
	CancelReason string                    `json:"cancel_reason,omitempty"`
}

// Fetch returns the aggregate view for one screening id.
func (s ResultService) Fetch(ctx domain.Context, id string) (ScreeningView, error) {
	sc, err := s.Screenings.Get(ctx, id)
	if err != nil {
		return ScreeningView{}, err
	}
	v := ScreeningView{
		ID:         sc.ID,
		Status:     sc.Status,
		Error:      sc.Error,
		JobProfile: sc.JobProfile,
		CVProfile:  sc.CVProfile,
		Mismatches: sc.Mismatches,
	}
	sess, err := s.Sessions.GetByScreeningID(ctx, sc.ID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return v, nil
		}
		return ScreeningView{}, err
	}
	v.SessionState = sess.State
	v.Questions = sess.Questions
	v.Findings = sess.Findings
	v.FinalScore = sess.FinalScore
	v.CancelReason = sess.CancelReason
	return v, nil
}

// TranscriptFor lists the durable transcript for a screening's session.
func (s ResultService) TranscriptFor(ctx domain.Context, screeningID string) ([]domain.TranscriptMessage, error) {
	sess, err := s.Sessions.GetByScreeningID(ctx, screeningID)
	if err != nil {
		return nil, err
	}
	return s.Transcript.List(ctx, sess.ID)
}

// ScoringService adapts the relevance scorer to the dialogue manager. When a
// session finishes (or is cancelled with findings), it recomputes the
// breakdown from the stored analysis plus dialogue findings.
type ScoringService struct {
	Screenings domain.ScreeningRepository
}

// NewScoringService constructs a ScoringService.
func NewScoringService(s domain.ScreeningRepository) ScoringService {
	return ScoringService{Screenings: s}
}

// Score computes a fresh breakdown for the session's screening.
func (s ScoringService) Score(ctx context.Context, sess domain.Session) (domain.ScoreBreakdown, error) {
	sc, err := s.Screenings.Get(ctx, sess.ScreeningID)
	if err != nil {
		return domain.ScoreBreakdown{}, err
	}
	in := score.Input{
		Mismatches: sc.Mismatches,
		Findings:   sess.Findings,
		MustHave:   sc.Hints.MustHaveSkills,
	}
	if sc.JobProfile != nil {
		in.Job = *sc.JobProfile
	}
	if sc.CVProfile != nil {
		in.Candidate = *sc.CVProfile
	}
	return score.Compute(in), nil
}
