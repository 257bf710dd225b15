package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/hiregate/screening/internal/dialogue"
	"github.com/hiregate/screening/internal/domain"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 25 * time.Second
)

// clientMessage is the inbound wire shape on the chat socket.
type clientMessage struct {
	Type   string `json:"type"`
	Text   string `json:"text,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// wsConn adapts a gorilla websocket connection to dialogue.Conn.
// Writes are serialized; gorilla connections allow one concurrent writer.
type wsConn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *wsConn) Send(_ context.Context, f dialogue.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.ws.WriteJSON(f)
}

func (c *wsConn) Close() error { return c.ws.Close() }

func (c *wsConn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
}

func (s *Server) wsUpgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			allowed := s.Cfg.CORSAllowOrigins
			if allowed == "" || allowed == "*" {
				return true
			}
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			for _, o := range strings.Split(allowed, ",") {
				if strings.TrimSpace(o) == origin {
					return true
				}
			}
			return false
		},
	}
}

// ChatHandler upgrades to a websocket and drives the clarification dialogue
// for the screening's session. At most one live connection per session: a
// second connect either fails with 409 or displaces the first, depending on
// the takeover setting.
func (s *Server) ChatHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if id == "" {
			writeError(w, r, fmt.Errorf("%w: id missing", domain.ErrInvalidArgument), nil)
			return
		}
		sess, err := s.Sessions.GetByScreeningID(r.Context(), id)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}

		ws, err := s.wsUpgrader().Upgrade(w, r, nil)
		if err != nil {
			// Upgrade already wrote the handshake error.
			LoggerFrom(r).Warn("websocket upgrade failed", slog.Any("error", err))
			return
		}
		conn := &wsConn{ws: ws}

		// The socket outlives the HTTP request context.
		ctx := context.Background()
		handle, err := s.Dialogue.Connect(ctx, sess.ID, conn)
		if err != nil {
			frame := dialogue.Frame{Type: dialogue.FrameError, Text: err.Error()}
			if errors.Is(err, domain.ErrSessionBusy) {
				frame.Text = "This chat is already open elsewhere."
			}
			_ = conn.Send(ctx, frame)
			_ = ws.Close()
			return
		}

		s.readLoop(ctx, sess.ID, handle, conn)
	}
}

// readLoop pumps inbound messages into the dialogue manager until the peer
// goes away. A plain disconnect leaves the session resumable.
func (s *Server) readLoop(ctx context.Context, sessionID string, handle *dialogue.Handle, conn *wsConn) {
	defer s.Dialogue.Disconnect(ctx, handle)

	_ = conn.ws.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.ws.SetPongHandler(func(string) error {
		return conn.ws.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(wsPingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := conn.ping(); err != nil {
					return
				}
				// Keep the session lease alive while the candidate idles. A
				// busy error means another connection took the session over.
				if err := handle.RefreshLease(ctx); err != nil {
					if errors.Is(err, domain.ErrSessionBusy) {
						_ = conn.Send(ctx, dialogue.Frame{Type: dialogue.FrameDisconnected, Text: "This chat was opened on another device."})
						_ = conn.Close()
						return
					}
					slog.Warn("lease refresh failed", slog.String("session_id", sessionID), slog.Any("error", err))
				}
			case <-done:
				return
			}
		}
	}()

	for {
		_, data, err := conn.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Info("websocket closed", slog.String("session_id", sessionID), slog.Any("error", err))
			}
			return
		}
		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			// Bare text is treated as an answer for lenient clients.
			msg = clientMessage{Type: "answer", Text: string(data)}
		}
		ev, ok := eventFor(msg)
		if !ok {
			_ = conn.Send(ctx, dialogue.Frame{Type: dialogue.FrameError, Text: "unknown message type"})
			continue
		}
		if err := handle.Dispatch(ctx, ev); err != nil {
			slog.Warn("dialogue event failed",
				slog.String("session_id", sessionID),
				slog.String("event", string(ev.Type)),
				slog.Any("error", err))
			_ = conn.Send(ctx, dialogue.Frame{Type: dialogue.FrameError, Text: "could not process message"})
		}
	}
}

func eventFor(msg clientMessage) (dialogue.Event, bool) {
	switch msg.Type {
	case "answer", "message", "":
		return dialogue.Event{Type: dialogue.EventAnswer, Text: msg.Text}, true
	case "pause":
		return dialogue.Event{Type: dialogue.EventPause}, true
	case "resume":
		return dialogue.Event{Type: dialogue.EventResume}, true
	case "cancel":
		return dialogue.Event{Type: dialogue.EventCancel, Reason: msg.Reason}, true
	}
	return dialogue.Event{}, false
}
