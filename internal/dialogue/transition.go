package dialogue

import (
	"fmt"

	"github.com/hiregate/screening/internal/domain"
)

// Transition is the pure state machine step: (session, event) -> (session,
// effects). It never touches storage or the network; the manager applies the
// returned effects in order. Terminal sessions accept connects (read-only
// replay) and reject everything else.
func Transition(sess domain.Session, ev Event, pol Policy) (domain.Session, []Effect, error) {
	switch ev.Type {
	case EventConnect:
		return onConnect(sess)
	case EventAnswer:
		return onAnswer(sess, ev, pol)
	case EventPause:
		return onPause(sess)
	case EventResume:
		return onResume(sess)
	case EventCancel:
		return onCancel(sess, ev)
	case EventDisconnect:
		// Absence of a connection is not a state. The session stays where it
		// was and a later connect resumes at the same index.
		return sess, nil, nil
	}
	return sess, nil, fmt.Errorf("op=dialogue.transition: %w: event %q", domain.ErrInvalidArgument, ev.Type)
}

func onConnect(sess domain.Session) (domain.Session, []Effect, error) {
	switch sess.State {
	case domain.SessionPending:
		sess.State = domain.SessionActive
		if len(sess.Questions) == 0 {
			// Nothing to clarify; the interview completes immediately.
			sess.State = domain.SessionCompleted
			return sess, []Effect{
				Send{Frame: Frame{Type: FrameBotMessage, Text: completeNoQuestionsText}, Persist: true},
				ComputeScore{},
				SendEnded{},
			}, nil
		}
		q, _ := sess.CurrentQuestion()
		return sess, []Effect{
			Send{Frame: questionFrame(sess, q), Persist: true},
		}, nil
	case domain.SessionActive, domain.SessionPaused:
		// Reconnect: replay history, then re-present the pending question
		// without appending it again.
		effects := []Effect{Replay{}}
		if q, ok := sess.CurrentQuestion(); ok {
			effects = append(effects, Send{Frame: questionFrame(sess, q)})
		}
		return sess, effects, nil
	case domain.SessionCompleted:
		return sess, []Effect{Replay{}, SendEnded{}}, nil
	case domain.SessionCancelled:
		return sess, []Effect{Replay{}, Send{Frame: Frame{Type: FrameCancelled, Reason: sess.CancelReason}}}, nil
	}
	return sess, nil, fmt.Errorf("op=dialogue.connect: %w: state %q", domain.ErrInternal, sess.State)
}

func onAnswer(sess domain.Session, ev Event, pol Policy) (domain.Session, []Effect, error) {
	if sess.State.Terminal() {
		return sess, nil, domain.ErrTerminalState
	}
	if sess.State == domain.SessionPending {
		return sess, nil, fmt.Errorf("op=dialogue.answer: %w: session not connected", domain.ErrInvalidArgument)
	}
	// Any candidate activity while paused resumes the dialogue.
	if sess.State == domain.SessionPaused {
		sess.State = domain.SessionActive
	}
	q, ok := sess.CurrentQuestion()
	if !ok {
		// No question outstanding; record nothing, acknowledge politely.
		return sess, []Effect{
			AppendCandidate{Text: ev.Text},
			Send{Frame: Frame{Type: FrameInfo, Text: awaitingDecisionText}},
		}, nil
	}

	effects := []Effect{AppendCandidate{Text: ev.Text}}
	finding := ParseAnswer(q, ev.Text)

	if !finding.Accepted && sess.Reprompts < pol.MaxReprompts {
		sess.Reprompts++
		sess = upsertFinding(sess, finding)
		effects = append(effects, Send{Frame: repromptFrame(sess, q), Persist: true})
		return sess, effects, nil
	}

	sess = upsertFinding(sess, finding)
	sess.Reprompts = 0
	sess.CurrentIndex++

	if next, ok := sess.CurrentQuestion(); ok {
		effects = append(effects, Send{Frame: questionFrame(sess, next), Persist: true})
		return sess, effects, nil
	}

	sess.State = domain.SessionCompleted
	effects = append(effects,
		Send{Frame: Frame{Type: FrameBotMessage, Text: closingText}, Persist: true},
		ComputeScore{},
		SendEnded{},
	)
	return sess, effects, nil
}

func onPause(sess domain.Session) (domain.Session, []Effect, error) {
	if sess.State.Terminal() {
		return sess, nil, domain.ErrTerminalState
	}
	if sess.State != domain.SessionActive {
		return sess, nil, fmt.Errorf("op=dialogue.pause: %w: state %q", domain.ErrInvalidArgument, sess.State)
	}
	sess.State = domain.SessionPaused
	return sess, []Effect{Send{Frame: Frame{Type: FramePaused, Text: pausedText}}}, nil
}

func onResume(sess domain.Session) (domain.Session, []Effect, error) {
	if sess.State.Terminal() {
		return sess, nil, domain.ErrTerminalState
	}
	if sess.State != domain.SessionPaused {
		return sess, nil, fmt.Errorf("op=dialogue.resume: %w: state %q", domain.ErrInvalidArgument, sess.State)
	}
	sess.State = domain.SessionActive
	effects := []Effect{Send{Frame: Frame{Type: FrameResumed, Text: resumedText}}}
	if q, ok := sess.CurrentQuestion(); ok {
		effects = append(effects, Send{Frame: questionFrame(sess, q)})
	}
	return sess, effects, nil
}

func onCancel(sess domain.Session, ev Event) (domain.Session, []Effect, error) {
	if sess.State.Terminal() {
		return sess, nil, domain.ErrTerminalState
	}
	if sess.State == domain.SessionPending {
		return sess, nil, fmt.Errorf("op=dialogue.cancel: %w: session not connected", domain.ErrInvalidArgument)
	}
	sess.State = domain.SessionCancelled
	sess.CancelReason = ev.Reason
	if sess.CancelReason == "" {
		sess.CancelReason = "cancelled by candidate"
	}
	effects := []Effect{}
	// With recorded findings a best-effort breakdown is still worth keeping;
	// an untouched session is finalized without invoking the scorer at all.
	if len(sess.Findings) > 0 {
		effects = append(effects, ComputeScore{BestEffort: true})
	}
	effects = append(effects, Send{Frame: Frame{Type: FrameCancelled, Reason: sess.CancelReason, Text: cancelledText}})
	return sess, effects, nil
}

// upsertFinding overwrites any earlier finding for the same category.
func upsertFinding(sess domain.Session, f domain.DialogueFinding) domain.Session {
	findings := make([]domain.DialogueFinding, 0, len(sess.Findings)+1)
	for _, old := range sess.Findings {
		if old.Category != f.Category {
			findings = append(findings, old)
		}
	}
	sess.Findings = append(findings, f)
	return sess
}

func questionFrame(sess domain.Session, q domain.ClarifyingQuestion) Frame {
	idx, total := sess.CurrentIndex, len(sess.Questions)
	return Frame{Type: FrameBotMessage, Text: q.Text, QuestionIndex: &idx, TotalQuestions: &total}
}

func repromptFrame(sess domain.Session, q domain.ClarifyingQuestion) Frame {
	idx, total := sess.CurrentIndex, len(sess.Questions)
	return Frame{
		Type:           FrameBotMessage,
		Text:           "Sorry, I could not make that out. " + q.Text,
		QuestionIndex:  &idx,
		TotalQuestions: &total,
	}
}

func endedFrame(sess domain.Session) Frame {
	f := Frame{Type: FrameEnded}
	if sess.FinalScore != nil {
		f.Verdict = string(sess.FinalScore.Verdict)
		pct := sess.FinalScore.OverallMatchPct
		f.FinalScore = &pct
	}
	return f
}

const (
	completeNoQuestionsText = "Everything in your application checks out, no questions from our side. We will get back to you with a decision."
	closingText             = "Thank you for your answers! We will review your application and get back to you shortly."
	awaitingDecisionText    = "The interview is already finished. We are waiting for the employer's decision."
	pausedText              = "The interview is paused. Send any message whenever you are ready to continue."
	resumedText             = "Welcome back, let's continue."
	cancelledText           = "The interview was cancelled. You can apply again later."
)
