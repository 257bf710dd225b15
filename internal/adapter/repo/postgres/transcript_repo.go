package postgres

import (
	"fmt"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/hiregate/screening/internal/domain"
)

// TranscriptRepo stores chat messages. It only inserts and lists;
// transcript rows are never updated or deleted.
type TranscriptRepo struct{ Pool PgxPool }

// NewTranscriptRepo constructs a TranscriptRepo with the given pool.
func NewTranscriptRepo(p PgxPool) *TranscriptRepo { return &TranscriptRepo{Pool: p} }

// Append inserts one chat message.
func (r *TranscriptRepo) Append(ctx domain.Context, m domain.TranscriptMessage) error {
	tracer := otel.Tracer("repo.transcript")
	ctx, span := tracer.Start(ctx, "transcript.Append")
	defer span.End()
	created := m.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	q := `INSERT INTO chat_messages (id, session_id, sender, text, created_at) VALUES ($1,$2,$3,$4,$5)`
	_, err := r.Pool.Exec(ctx, q, m.ID, m.SessionID, m.Sender, m.Text, created)
	if err != nil {
		return fmt.Errorf("op=transcript.append: %w", err)
	}
	return nil
}

// List returns all messages of a session in insertion order. Message ids
// are ULIDs, so ordering by id matches ordering by time.
func (r *TranscriptRepo) List(ctx domain.Context, sessionID string) ([]domain.TranscriptMessage, error) {
	tracer := otel.Tracer("repo.transcript")
	ctx, span := tracer.Start(ctx, "transcript.List")
	defer span.End()
	q := `SELECT id, session_id, sender, text, created_at FROM chat_messages WHERE session_id=$1 ORDER BY id ASC`
	rows, err := r.Pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("op=transcript.list: %w", err)
	}
	defer rows.Close()
	var out []domain.TranscriptMessage
	for rows.Next() {
		var m domain.TranscriptMessage
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Sender, &m.Text, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("op=transcript.list: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=transcript.list: %w", err)
	}
	return out, nil
}
