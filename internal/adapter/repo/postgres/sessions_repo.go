package postgres

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"

	"github.com/hiregate/screening/internal/domain"
)

// SessionRepo persists dialogue sessions. Questions, findings and the
// final score are JSONB columns so the session row is self-contained.
type SessionRepo struct{ Pool PgxPool }

// NewSessionRepo constructs a SessionRepo with the given pool.
func NewSessionRepo(p PgxPool) *SessionRepo { return &SessionRepo{Pool: p} }

// Create inserts a new session and returns its id.
func (r *SessionRepo) Create(ctx domain.Context, s domain.Session) (string, error) {
	tracer := otel.Tracer("repo.sessions")
	ctx, span := tracer.Start(ctx, "sessions.Create")
	defer span.End()
	id := s.ID
	if id == "" {
		id = uuid.New().String()
	}
	questions, findings, score, err := marshalSessionBlobs(s)
	if err != nil {
		return "", fmt.Errorf("op=session.create: %w", err)
	}
	q := `INSERT INTO sessions (id, screening_id, state, questions, current_index, findings, final_score, cancel_reason, reprompts, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`
	now := time.Now().UTC()
	_, err = r.Pool.Exec(ctx, q, id, s.ScreeningID, s.State, questions, s.CurrentIndex, findings, score, s.CancelReason, s.Reprompts, now, now)
	if err != nil {
		return "", fmt.Errorf("op=session.create: %w", err)
	}
	return id, nil
}

// Get loads a session by id.
func (r *SessionRepo) Get(ctx domain.Context, id string) (domain.Session, error) {
	tracer := otel.Tracer("repo.sessions")
	ctx, span := tracer.Start(ctx, "sessions.Get")
	defer span.End()
	q := sessionSelect + ` WHERE id=$1`
	return scanSession("session.get", r.Pool.QueryRow(ctx, q, id))
}

// GetByScreeningID loads the session attached to a screening.
func (r *SessionRepo) GetByScreeningID(ctx domain.Context, screeningID string) (domain.Session, error) {
	tracer := otel.Tracer("repo.sessions")
	ctx, span := tracer.Start(ctx, "sessions.GetByScreeningID")
	defer span.End()
	q := sessionSelect + ` WHERE screening_id=$1 LIMIT 1`
	return scanSession("session.get_by_screening", r.Pool.QueryRow(ctx, q, screeningID))
}

// Update persists the full mutable state of a session.
func (r *SessionRepo) Update(ctx domain.Context, s domain.Session) error {
	tracer := otel.Tracer("repo.sessions")
	ctx, span := tracer.Start(ctx, "sessions.Update")
	defer span.End()
	questions, findings, score, err := marshalSessionBlobs(s)
	if err != nil {
		return fmt.Errorf("op=session.update: %w", err)
	}
	q := `UPDATE sessions SET state=$2, questions=$3, current_index=$4, findings=$5, final_score=$6, cancel_reason=$7, reprompts=$8, updated_at=$9 WHERE id=$1`
	tag, err := r.Pool.Exec(ctx, q, s.ID, s.State, questions, s.CurrentIndex, findings, score, s.CancelReason, s.Reprompts, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("op=session.update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=session.update: %w", domain.ErrNotFound)
	}
	return nil
}

const sessionSelect = `SELECT id, screening_id, state, questions, current_index, findings, final_score, COALESCE(cancel_reason,''), reprompts, created_at, updated_at FROM sessions`

func marshalSessionBlobs(s domain.Session) (questions, findings, score []byte, err error) {
	qs := s.Questions
	if qs == nil {
		qs = []domain.ClarifyingQuestion{}
	}
	if questions, err = json.Marshal(qs); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal questions: %w", err)
	}
	fs := s.Findings
	if fs == nil {
		fs = []domain.DialogueFinding{}
	}
	if findings, err = json.Marshal(fs); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal findings: %w", err)
	}
	if s.FinalScore != nil {
		if score, err = json.Marshal(s.FinalScore); err != nil {
			return nil, nil, nil, fmt.Errorf("marshal final score: %w", err)
		}
	}
	return questions, findings, score, nil
}

func scanSession(op string, row pgx.Row) (domain.Session, error) {
	var s domain.Session
	var questions, findings, score []byte
	err := row.Scan(&s.ID, &s.ScreeningID, &s.State, &questions, &s.CurrentIndex, &findings, &score, &s.CancelReason, &s.Reprompts, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Session{}, fmt.Errorf("op=%s: %w", op, domain.ErrNotFound)
		}
		return domain.Session{}, fmt.Errorf("op=%s: %w", op, err)
	}
	if len(questions) > 0 {
		if err := json.Unmarshal(questions, &s.Questions); err != nil {
			return domain.Session{}, fmt.Errorf("op=%s: unmarshal questions: %w", op, err)
		}
	}
	if len(findings) > 0 {
		if err := json.Unmarshal(findings, &s.Findings); err != nil {
			return domain.Session{}, fmt.Errorf("op=%s: unmarshal findings: %w", op, err)
		}
	}
	if len(score) > 0 {
		s.FinalScore = &domain.ScoreBreakdown{}
		if err := json.Unmarshal(score, s.FinalScore); err != nil {
			return domain.Session{}, fmt.Errorf("op=%s: unmarshal final score: %w", op, err)
		}
	}
	return s, nil
}
