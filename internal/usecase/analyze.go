package usecase

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/hiregate/screening/internal/adapter/observability"
	"github.com/hiregate/screening/internal/domain"
	"github.com/hiregate/screening/internal/screening/clarify"
	"github.com/hiregate/screening/internal/screening/detect"
	"github.com/hiregate/screening/internal/screening/normalize"
)

// AnalysisService runs the screening pipeline for one queued job: normalize
// both texts, detect mismatches, generate clarifying questions, and open a
// pending dialogue session. It runs in the worker process.
type AnalysisService struct {
	Screenings domain.ScreeningRepository
	Sessions   domain.SessionRepository
	Normalizer *normalize.Normalizer
}

// NewAnalysisService constructs an AnalysisService.
func NewAnalysisService(s domain.ScreeningRepository, sess domain.SessionRepository, n *normalize.Normalizer) AnalysisService {
	return AnalysisService{Screenings: s, Sessions: sess, Normalizer: n}
}

// Process handles one analysis task end to end. It is idempotent for
// redelivered tasks: an existing session for the screening is kept as is.
func (s AnalysisService) Process(ctx domain.Context, payload domain.ScreeningTaskPayload) error {
	tracer := otel.Tracer("usecase.analysis")
	ctx, span := tracer.Start(ctx, "analysis.Process")
	defer span.End()

	observability.StartProcessingScreening()
	if err := s.Screenings.UpdateStatus(ctx, payload.ScreeningID, domain.ScreeningProcessing, nil); err != nil {
		observability.FailScreening()
		return err
	}

	jobProfile := s.Normalizer.JobProfile(payload.JobText, payload.Hints)
	cvProfile := s.Normalizer.CandidateProfile(payload.CVText)
	mismatches := detect.Detect(detect.Input{
		Job:       jobProfile,
		Candidate: cvProfile,
		RawCV:     payload.CVText,
		Hints:     payload.Hints,
	})

	if err := s.Screenings.SaveAnalysis(ctx, payload.ScreeningID, jobProfile, cvProfile, mismatches); err != nil {
		msg := "analysis persist failed"
		_ = s.Screenings.UpdateStatus(ctx, payload.ScreeningID, domain.ScreeningFailed, &msg)
		observability.FailScreening()
		return fmt.Errorf("op=analysis.save: %w", err)
	}

	if err := s.ensureSession(ctx, payload.ScreeningID, clarify.Questions(mismatches)); err != nil {
		msg := "session create failed"
		_ = s.Screenings.UpdateStatus(ctx, payload.ScreeningID, domain.ScreeningFailed, &msg)
		observability.FailScreening()
		return err
	}

	if err := s.Screenings.UpdateStatus(ctx, payload.ScreeningID, domain.ScreeningReady, nil); err != nil {
		observability.FailScreening()
		return err
	}
	observability.CompleteScreening()
	slog.Info("screening analyzed",
		slog.String("screening_id", payload.ScreeningID),
		slog.Int("mismatches", len(mismatches)))
	return nil
}

func (s AnalysisService) ensureSession(ctx domain.Context, screeningID string, questions []domain.ClarifyingQuestion) error {
	if _, err := s.Sessions.GetByScreeningID(ctx, screeningID); err == nil {
		return nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	_, err := s.Sessions.Create(ctx, domain.Session{
		ScreeningID: screeningID,
		State:       domain.SessionPending,
		Questions:   questions,
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("op=analysis.session: %w", err)
	}
	return nil
}
