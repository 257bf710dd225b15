// Package dialogue owns the screening session state machine and the manager
// that drives live conversations over a persistent connection.
package dialogue

import "github.com/hiregate/screening/internal/domain"

// EventType enumerates everything that can happen to a session.
type EventType string

const (
	EventConnect    EventType = "connect"
	EventAnswer     EventType = "answer"
	EventPause      EventType = "pause"
	EventResume     EventType = "resume"
	EventCancel     EventType = "cancel"
	EventDisconnect EventType = "disconnect"
)

// Event is one inbound occurrence consumed by the transition function.
type Event struct {
	Type   EventType
	Text   string
	Reason string
}

// Frame is an outbound message shape, independent of the wire transport.
type Frame struct {
	Type           string                     `json:"type"`
	Text           string                     `json:"text,omitempty"`
	QuestionIndex  *int                       `json:"question_index,omitempty"`
	TotalQuestions *int                       `json:"total_questions,omitempty"`
	Verdict        string                     `json:"verdict,omitempty"`
	FinalScore     *int                       `json:"final_score,omitempty"`
	Reason         string                     `json:"reason,omitempty"`
	History        []domain.TranscriptMessage `json:"history,omitempty"`
}

// Frame type tags.
const (
	FrameBotMessage   = "bot_message"
	FrameHistory      = "history"
	FrameInfo         = "info"
	FramePaused       = "chat_paused"
	FrameResumed      = "chat_resumed"
	FrameCancelled    = "chat_cancelled"
	FrameEnded        = "chat_ended"
	FrameDisconnected = "disconnected"
	FrameError        = "error"
)

// Effect is a side effect the manager must apply, in order. The transition
// function itself stays pure so the machine is testable without a transport.
type Effect interface{ isEffect() }

// AppendCandidate durably records an inbound candidate message before any
// further processing.
type AppendCandidate struct{ Text string }

// Send delivers a frame to the live connection. When Persist is set the
// frame's text is appended to the durable transcript first.
type Send struct {
	Frame   Frame
	Persist bool
}

// Replay streams the stored transcript to a (re)connected client without
// appending anything; replay never re-triggers side effects.
type Replay struct{}

// ComputeScore invokes the relevance scorer with the session's findings and
// persists the resulting breakdown. BestEffort marks a cancellation-time run
// on incomplete data.
type ComputeScore struct{ BestEffort bool }

// SendEnded delivers the chat_ended frame rendered from the session as it
// stands after any preceding ComputeScore effect, so the frame carries the
// freshly computed verdict.
type SendEnded struct{}

func (AppendCandidate) isEffect() {}
func (Send) isEffect()            {}
func (Replay) isEffect()          {}
func (ComputeScore) isEffect()    {}
func (SendEnded) isEffect()       {}

// Policy carries the orchestrator knobs that affect transitions.
type Policy struct {
	// MaxReprompts bounds re-asking after an unparseable answer.
	MaxReprompts int
}
