package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"

	"github.com/hiregate/screening/internal/domain"
)

// PgxPool is the subset of pgxpool.Pool the repositories need. Tests
// substitute a mock implementing this interface.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// ScreeningRepo persists and loads screenings from PostgreSQL.
// Parsed profiles and mismatch lists are stored as JSONB columns.
type ScreeningRepo struct{ Pool PgxPool }

// NewScreeningRepo constructs a ScreeningRepo with the given pool.
func NewScreeningRepo(p PgxPool) *ScreeningRepo { return &ScreeningRepo{Pool: p} }

// Create inserts a new screening and returns its id.
func (r *ScreeningRepo) Create(ctx domain.Context, s domain.Screening) (string, error) {
	tracer := otel.Tracer("repo.screenings")
	ctx, span := tracer.Start(ctx, "screenings.Create")
	defer span.End()
	id := s.ID
	if id == "" {
		id = uuid.New().String()
	}
	hints, err := json.Marshal(s.Hints)
	if err != nil {
		return "", fmt.Errorf("op=screening.create: marshal hints: %w", err)
	}
	q := `INSERT INTO screenings (id, status, error, job_text, cv_text, hints, idempotency_key, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`
	now := time.Now().UTC()
	_, err = r.Pool.Exec(ctx, q, id, s.Status, s.Error, s.JobText, s.CVText, hints, s.IdemKey, now, now)
	if err != nil {
		return "", fmt.Errorf("op=screening.create: %w", err)
	}
	return id, nil
}

// UpdateStatus updates a screening's status and optional error message.
func (r *ScreeningRepo) UpdateStatus(ctx domain.Context, id string, status domain.ScreeningStatus, errMsg *string) error {
	tracer := otel.Tracer("repo.screenings")
	ctx, span := tracer.Start(ctx, "screenings.UpdateStatus")
	defer span.End()
	errVal := ""
	if errMsg != nil {
		errVal = *errMsg
	}
	q := `UPDATE screenings SET status=$2, error=$3, updated_at=$4 WHERE id=$1`
	tag, err := r.Pool.Exec(ctx, q, id, status, errVal, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("op=screening.update_status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=screening.update_status: %w", domain.ErrNotFound)
	}
	return nil
}

// SaveAnalysis stores the normalized profiles and detected mismatches
// produced by the worker pipeline.
func (r *ScreeningRepo) SaveAnalysis(ctx domain.Context, id string, job, cv domain.NormalizedProfile, mismatches []domain.Mismatch) error {
	tracer := otel.Tracer("repo.screenings")
	ctx, span := tracer.Start(ctx, "screenings.SaveAnalysis")
	defer span.End()
	jobJSON, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("op=screening.save_analysis: marshal job profile: %w", err)
	}
	cvJSON, err := json.Marshal(cv)
	if err != nil {
		return fmt.Errorf("op=screening.save_analysis: marshal cv profile: %w", err)
	}
	if mismatches == nil {
		mismatches = []domain.Mismatch{}
	}
	misJSON, err := json.Marshal(mismatches)
	if err != nil {
		return fmt.Errorf("op=screening.save_analysis: marshal mismatches: %w", err)
	}
	q := `UPDATE screenings SET job_profile=$2, cv_profile=$3, mismatches=$4, updated_at=$5 WHERE id=$1`
	tag, err := r.Pool.Exec(ctx, q, id, jobJSON, cvJSON, misJSON, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("op=screening.save_analysis: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=screening.save_analysis: %w", domain.ErrNotFound)
	}
	return nil
}

// Get loads a screening by id.
func (r *ScreeningRepo) Get(ctx domain.Context, id string) (domain.Screening, error) {
	tracer := otel.Tracer("repo.screenings")
	ctx, span := tracer.Start(ctx, "screenings.Get")
	defer span.End()
	q := `SELECT id, status, COALESCE(error,''), job_text, cv_text, hints, job_profile, cv_profile, mismatches, idempotency_key, created_at, updated_at
		FROM screenings WHERE id=$1`
	return r.scanOne(ctx, "screening.get", r.Pool.QueryRow(ctx, q, id))
}

// FindByIdempotencyKey loads a screening by idempotency key.
func (r *ScreeningRepo) FindByIdempotencyKey(ctx domain.Context, key string) (domain.Screening, error) {
	tracer := otel.Tracer("repo.screenings")
	ctx, span := tracer.Start(ctx, "screenings.FindByIdempotencyKey")
	defer span.End()
	q := `SELECT id, status, COALESCE(error,''), job_text, cv_text, hints, job_profile, cv_profile, mismatches, idempotency_key, created_at, updated_at
		FROM screenings WHERE idempotency_key=$1 LIMIT 1`
	return r.scanOne(ctx, "screening.find_idem", r.Pool.QueryRow(ctx, q, key))
}

func (r *ScreeningRepo) scanOne(_ domain.Context, op string, row pgx.Row) (domain.Screening, error) {
	var s domain.Screening
	var hints, jobProfile, cvProfile, mismatches []byte
	var idem *string
	err := row.Scan(&s.ID, &s.Status, &s.Error, &s.JobText, &s.CVText, &hints, &jobProfile, &cvProfile, &mismatches, &idem, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Screening{}, fmt.Errorf("op=%s: %w", op, domain.ErrNotFound)
		}
		return domain.Screening{}, fmt.Errorf("op=%s: %w", op, err)
	}
	s.IdemKey = idem
	if len(hints) > 0 {
		if err := json.Unmarshal(hints, &s.Hints); err != nil {
			return domain.Screening{}, fmt.Errorf("op=%s: unmarshal hints: %w", op, err)
		}
	}
	if len(jobProfile) > 0 {
		s.JobProfile = &domain.NormalizedProfile{}
		if err := json.Unmarshal(jobProfile, s.JobProfile); err != nil {
			return domain.Screening{}, fmt.Errorf("op=%s: unmarshal job profile: %w", op, err)
		}
	}
	if len(cvProfile) > 0 {
		s.CVProfile = &domain.NormalizedProfile{}
		if err := json.Unmarshal(cvProfile, s.CVProfile); err != nil {
			return domain.Screening{}, fmt.Errorf("op=%s: unmarshal cv profile: %w", op, err)
		}
	}
	if len(mismatches) > 0 {
		if err := json.Unmarshal(mismatches, &s.Mismatches); err != nil {
			return domain.Screening{}, fmt.Errorf("op=%s: unmarshal mismatches: %w", op, err)
		}
	}
	return s, nil
}
