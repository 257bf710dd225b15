// Package usecase contains application business logic services.
package usecase

import (
	"fmt"
	"time"

	"github.com/hiregate/screening/internal/adapter/observability"
	"github.com/hiregate/screening/internal/domain"
	"github.com/hiregate/screening/pkg/textx"
)

// ScreeningService accepts job/CV pairs and queues them for analysis.
type ScreeningService struct {
	Screenings domain.ScreeningRepository
	Sessions   domain.SessionRepository
	Queue      domain.Queue
}

// NewScreeningService constructs a ScreeningService with its dependencies.
func NewScreeningService(s domain.ScreeningRepository, sess domain.SessionRepository, q domain.Queue) ScreeningService {
	return ScreeningService{Screenings: s, Sessions: sess, Queue: q}
}

// Submit validates inputs, creates a screening, and enqueues the analysis
// task. Empty CV text is allowed: extraction failures degrade to an empty CV
// and surface downstream as missing must-haves.
func (s ScreeningService) Submit(ctx domain.Context, jobText, cvText string, hints domain.Hints, idemKey string) (string, error) {
	jobText = textx.SanitizeText(jobText)
	cvText = textx.SanitizeText(cvText)
	if jobText == "" {
		return "", fmt.Errorf("%w: job text required", domain.ErrInvalidArgument)
	}
	if idemKey != "" {
		if sc, err := s.Screenings.FindByIdempotencyKey(ctx, idemKey); err == nil && sc.ID != "" {
			return sc.ID, nil
		}
	}
	sc := domain.Screening{
		Status:    domain.ScreeningQueued,
		JobText:   jobText,
		CVText:    cvText,
		Hints:     hints,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	if idemKey != "" {
		sc.IdemKey = &idemKey
	}
	id, err := s.Screenings.Create(ctx, sc)
	if err != nil {
		return "", err
	}
	payload := domain.ScreeningTaskPayload{ScreeningID: id, JobText: jobText, CVText: cvText, Hints: hints}
	if _, err := s.Queue.EnqueueScreening(ctx, payload); err != nil {
		msg := "enqueue failed"
		_ = s.Screenings.UpdateStatus(ctx, id, domain.ScreeningFailed, &msg)
		return "", err
	}
	observability.EnqueueScreening()
	return id, nil
}

// ReadinessCheck represents a single readiness probe result used by handlers.
type ReadinessCheck struct {
	Name    string `json:"name"`
	OK      bool   `json:"ok"`
	Details string `json:"details"`
}
