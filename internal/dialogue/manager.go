package dialogue

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hiregate/screening/internal/adapter/observability"
	"github.com/hiregate/screening/internal/domain"
)

// Conn abstracts a live outbound channel to one candidate. The core is
// agnostic to the underlying transport protocol.
type Conn interface {
	Send(ctx context.Context, f Frame) error
	Close() error
}

// SessionScorer produces a score breakdown for a session's findings. The
// manager persists the result; it never interprets it.
type SessionScorer interface {
	Score(ctx context.Context, sess domain.Session) (domain.ScoreBreakdown, error)
}

// Manager owns the live-connection registry and drives each session's
// orchestration loop. Event processing is serialized per session: exactly one
// message at a time, in arrival order, with the answer durably recorded
// before the next question goes out.
type Manager struct {
	sessions   domain.SessionRepository
	transcript domain.TranscriptRepository
	registry   domain.ConnectionRegistry
	scorer     SessionScorer
	pol        Policy
	takeover   bool

	mu   sync.Mutex
	live map[string]*Handle
}

// NewManager wires a Manager. takeover enables replace-on-reconnect instead
// of rejecting a second connection for an already-connected session.
func NewManager(sessions domain.SessionRepository, transcript domain.TranscriptRepository, registry domain.ConnectionRegistry, scorer SessionScorer, pol Policy, takeover bool) *Manager {
	return &Manager{
		sessions:   sessions,
		transcript: transcript,
		registry:   registry,
		scorer:     scorer,
		pol:        pol,
		takeover:   takeover,
		live:       map[string]*Handle{},
	}
}

// Handle represents one accepted connection bound to a session.
type Handle struct {
	m         *Manager
	sessionID string
	holderID  string
	conn      Conn

	mu sync.Mutex
}

// Connect admits a connection for the session, enforcing at most one live
// connection per session id. With takeover disabled a second connection fails
// with ErrSessionBusy; with takeover enabled it displaces the previous one.
func (m *Manager) Connect(ctx context.Context, sessionID string, conn Conn) (*Handle, error) {
	if _, err := m.sessions.Get(ctx, sessionID); err != nil {
		return nil, err
	}
	holderID := ulid.MustNew(ulid.Timestamp(time.Now().UTC()), rand.Reader).String()
	if err := m.registry.Acquire(ctx, sessionID, holderID); err != nil {
		if !errors.Is(err, domain.ErrSessionBusy) || !m.takeover {
			return nil, err
		}
		if _, err := m.registry.Steal(ctx, sessionID, holderID); err != nil {
			return nil, err
		}
		m.displace(ctx, sessionID)
	}

	h := &Handle{m: m, sessionID: sessionID, holderID: holderID, conn: conn}
	m.mu.Lock()
	m.live[sessionID] = h
	m.mu.Unlock()
	observability.SessionConnected()

	if err := h.Dispatch(ctx, Event{Type: EventConnect}); err != nil {
		m.release(ctx, h)
		return nil, err
	}
	return h, nil
}

// displace closes the locally-held previous connection, telling the client
// the chat was opened elsewhere.
func (m *Manager) displace(ctx context.Context, sessionID string) {
	m.mu.Lock()
	prev := m.live[sessionID]
	delete(m.live, sessionID)
	m.mu.Unlock()
	if prev == nil {
		return
	}
	_ = prev.conn.Send(ctx, Frame{Type: FrameDisconnected, Text: "This chat was opened on another device."})
	_ = prev.conn.Close()
	observability.SessionDisplaced()
}

// RefreshLease extends the connection's registry lease. Transports call it
// from their keepalive loop so an idle candidate never loses the session to a
// lapsed TTL mid-conversation.
func (h *Handle) RefreshLease(ctx context.Context) error {
	return h.m.ensureLease(ctx, h)
}

// ensureLease confirms the handle still owns the session. A lapsed lease that
// nobody claimed is taken back; a lease another holder took over fails with
// ErrSessionBusy so a displaced handle cannot keep advancing the session.
func (m *Manager) ensureLease(ctx context.Context, h *Handle) error {
	err := m.registry.Refresh(ctx, h.sessionID, h.holderID)
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrNotFound) {
		return m.registry.Acquire(ctx, h.sessionID, h.holderID)
	}
	return err
}

// Dispatch feeds one event through the transition function and applies its
// effects in order. Calls for the same handle are serialized, and the lease
// is re-verified first so only the current holder can move the session.
func (h *Handle) Dispatch(ctx context.Context, ev Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.m.ensureLease(ctx, h); err != nil {
		return err
	}
	sess, err := h.m.sessions.Get(ctx, h.sessionID)
	if err != nil {
		return err
	}
	next, effects, err := Transition(sess, ev, h.m.pol)
	if err != nil {
		return err
	}
	observability.SessionEvent(string(ev.Type))
	if err := h.m.apply(ctx, h.conn, &next, effects); err != nil {
		return err
	}
	return nil
}

// apply executes effects sequentially. The session record is persisted before
// the first outbound frame so a crash never loses an already-processed
// answer, only the in-flight message.
func (m *Manager) apply(ctx context.Context, conn Conn, sess *domain.Session, effects []Effect) error {
	persisted := false
	persist := func() error {
		if persisted {
			return nil
		}
		sess.UpdatedAt = time.Now().UTC()
		if err := m.sessions.Update(ctx, *sess); err != nil {
			return err
		}
		persisted = true
		return nil
	}
	for _, eff := range effects {
		switch e := eff.(type) {
		case AppendCandidate:
			if err := m.append(ctx, sess.ID, domain.SenderCandidate, e.Text); err != nil {
				return err
			}
		case ComputeScore:
			breakdown, err := m.scorer.Score(ctx, *sess)
			if err != nil {
				if !e.BestEffort {
					return fmt.Errorf("op=dialogue.score: %w", err)
				}
				slog.Warn("best-effort scoring failed", slog.String("session_id", sess.ID), slog.Any("error", err))
				continue
			}
			sess.FinalScore = &breakdown
			persisted = false
			if err := persist(); err != nil {
				return err
			}
			observability.ObserveScreeningScore(breakdown.OverallMatchPct, string(breakdown.Verdict))
		case Send:
			if err := persist(); err != nil {
				return err
			}
			if e.Persist {
				if err := m.append(ctx, sess.ID, domain.SenderBot, e.Frame.Text); err != nil {
					return err
				}
			}
			if err := conn.Send(ctx, e.Frame); err != nil {
				return err
			}
		case SendEnded:
			if err := persist(); err != nil {
				return err
			}
			if err := conn.Send(ctx, endedFrame(*sess)); err != nil {
				return err
			}
		case Replay:
			msgs, err := m.transcript.List(ctx, sess.ID)
			if err != nil {
				return err
			}
			if err := conn.Send(ctx, Frame{Type: FrameHistory, History: msgs}); err != nil {
				return err
			}
		}
	}
	return persist()
}

func (m *Manager) append(ctx context.Context, sessionID string, sender domain.Sender, text string) error {
	msg := domain.TranscriptMessage{
		ID:        ulid.MustNew(ulid.Timestamp(time.Now().UTC()), rand.Reader).String(),
		SessionID: sessionID,
		Sender:    sender,
		Text:      text,
		CreatedAt: time.Now().UTC(),
	}
	if err := m.transcript.Append(ctx, msg); err != nil {
		return fmt.Errorf("op=dialogue.append: %w", err)
	}
	observability.TranscriptAppended(string(sender))
	return nil
}

// Disconnect releases the connection without changing session state; the
// session stays resumable at the same question index.
func (m *Manager) Disconnect(ctx context.Context, h *Handle) {
	_ = h.Dispatch(ctx, Event{Type: EventDisconnect})
	m.release(ctx, h)
}

func (m *Manager) release(ctx context.Context, h *Handle) {
	m.mu.Lock()
	if cur, ok := m.live[h.sessionID]; ok && cur == h {
		delete(m.live, h.sessionID)
	}
	m.mu.Unlock()
	if err := m.registry.Release(ctx, h.sessionID, h.holderID); err != nil {
		slog.Warn("connection lease release failed", slog.String("session_id", h.sessionID), slog.Any("error", err))
	}
	observability.SessionDisconnected()
}
