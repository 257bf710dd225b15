package dialogue

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hiregate/screening/internal/domain"
)

// oplog records the order of storage writes and outbound sends so tests can
// assert persistence happens before delivery.
type oplog struct {
	mu      sync.Mutex
	entries []string
}

func (l *oplog) add(e string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, e)
}

func (l *oplog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string{}, l.entries...)
}

type fakeSessions struct {
	mu   sync.Mutex
	byID map[string]domain.Session
	log  *oplog
}

func (f *fakeSessions) Create(_ context.Context, s domain.Session) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byID[s.ID] = s
	return s.ID, nil
}

func (f *fakeSessions) Get(_ context.Context, id string) (domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.byID[id]
	if !ok {
		return domain.Session{}, domain.ErrNotFound
	}
	return s, nil
}

func (f *fakeSessions) GetByScreeningID(_ context.Context, screeningID string) (domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.byID {
		if s.ScreeningID == screeningID {
			return s, nil
		}
	}
	return domain.Session{}, domain.ErrNotFound
}

func (f *fakeSessions) Update(_ context.Context, s domain.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byID[s.ID] = s
	f.log.add("persist-session")
	return nil
}

type fakeTranscript struct {
	mu   sync.Mutex
	msgs []domain.TranscriptMessage
	log  *oplog
}

func (f *fakeTranscript) Append(_ context.Context, m domain.TranscriptMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, m)
	f.log.add("append:" + string(m.Sender))
	return nil
}

func (f *fakeTranscript) List(_ context.Context, sessionID string) ([]domain.TranscriptMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.TranscriptMessage
	for _, m := range f.msgs {
		if m.SessionID == sessionID {
			out = append(out, m)
		}
	}
	return out, nil
}

type fakeRegistry struct {
	mu      sync.Mutex
	holders map[string]string
}

func (f *fakeRegistry) Acquire(_ context.Context, sessionID, holderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cur, ok := f.holders[sessionID]; ok && cur != holderID {
		return domain.ErrSessionBusy
	}
	f.holders[sessionID] = holderID
	return nil
}

func (f *fakeRegistry) Steal(_ context.Context, sessionID, holderID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	prev := f.holders[sessionID]
	f.holders[sessionID] = holderID
	if prev == holderID {
		return "", nil
	}
	return prev, nil
}

func (f *fakeRegistry) Release(_ context.Context, sessionID, holderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.holders[sessionID] != holderID {
		return domain.ErrNotFound
	}
	delete(f.holders, sessionID)
	return nil
}

func (f *fakeRegistry) Refresh(_ context.Context, sessionID, holderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.holders[sessionID]
	if !ok {
		return domain.ErrNotFound
	}
	if cur != holderID {
		return domain.ErrSessionBusy
	}
	return nil
}

// expire drops the lease as a lapsed TTL would.
func (f *fakeRegistry) expire(sessionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.holders, sessionID)
}

type fakeScorer struct {
	breakdown domain.ScoreBreakdown
	err       error
	calls     int
}

func (f *fakeScorer) Score(_ context.Context, _ domain.Session) (domain.ScoreBreakdown, error) {
	f.calls++
	return f.breakdown, f.err
}

type fakeConn struct {
	mu     sync.Mutex
	frames []Frame
	closed bool
	log    *oplog
}

func (f *fakeConn) Send(_ context.Context, fr Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, fr)
	if f.log != nil {
		f.log.add("send:" + fr.Type)
	}
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.frames))
	for _, fr := range f.frames {
		out = append(out, fr.Type)
	}
	return out
}

type fixture struct {
	mgr        *Manager
	sessions   *fakeSessions
	transcript *fakeTranscript
	registry   *fakeRegistry
	scorer     *fakeScorer
	log        *oplog
}

func newFixture(t *testing.T, takeover bool, sess domain.Session) *fixture {
	t.Helper()
	log := &oplog{}
	f := &fixture{
		sessions:   &fakeSessions{byID: map[string]domain.Session{sess.ID: sess}, log: log},
		transcript: &fakeTranscript{log: log},
		registry:   &fakeRegistry{holders: map[string]string{}},
		scorer:     &fakeScorer{breakdown: domain.ScoreBreakdown{OverallMatchPct: 72, Verdict: domain.VerdictFit}},
		log:        log,
	}
	f.mgr = NewManager(f.sessions, f.transcript, f.registry, f.scorer, Policy{MaxReprompts: 1}, takeover)
	return f
}

func TestConnectPersistsBeforeFirstFrame(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, false, pendingSession(testQuestions...))
	conn := &fakeConn{log: fx.log}

	h, err := fx.mgr.Connect(context.Background(), "s1", conn)
	require.NoError(t, err)
	defer fx.mgr.Disconnect(context.Background(), h)

	entries := fx.log.all()
	require.NotEmpty(t, entries)
	var persistAt, sendAt = -1, -1
	for i, e := range entries {
		if e == "persist-session" && persistAt < 0 {
			persistAt = i
		}
		if e == "send:"+FrameBotMessage && sendAt < 0 {
			sendAt = i
		}
	}
	require.GreaterOrEqual(t, persistAt, 0)
	require.GreaterOrEqual(t, sendAt, 0)
	assert.Less(t, persistAt, sendAt, "the session record lands before the frame goes out")

	stored, err := fx.sessions.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.SessionActive, stored.State)
}

func TestSecondConnectionRejectedWithoutTakeover(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, false, pendingSession(testQuestions...))

	h, err := fx.mgr.Connect(context.Background(), "s1", &fakeConn{})
	require.NoError(t, err)
	defer fx.mgr.Disconnect(context.Background(), h)

	_, err = fx.mgr.Connect(context.Background(), "s1", &fakeConn{})
	assert.ErrorIs(t, err, domain.ErrSessionBusy)
}

func TestTakeoverDisplacesPreviousConnection(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, true, pendingSession(testQuestions...))
	first := &fakeConn{}

	_, err := fx.mgr.Connect(context.Background(), "s1", first)
	require.NoError(t, err)

	second := &fakeConn{}
	h2, err := fx.mgr.Connect(context.Background(), "s1", second)
	require.NoError(t, err)
	defer fx.mgr.Disconnect(context.Background(), h2)

	assert.Contains(t, first.types(), FrameDisconnected)
	assert.True(t, first.closed)
	assert.Contains(t, second.types(), FrameHistory, "the new connection gets the replay")
}

func TestDisconnectFreesTheLease(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, false, pendingSession(testQuestions...))

	h, err := fx.mgr.Connect(context.Background(), "s1", &fakeConn{})
	require.NoError(t, err)
	fx.mgr.Disconnect(context.Background(), h)

	h2, err := fx.mgr.Connect(context.Background(), "s1", &fakeConn{})
	require.NoError(t, err)
	fx.mgr.Disconnect(context.Background(), h2)
}

func TestFullInterviewEndsWithVerdict(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, false, pendingSession(testQuestions...))
	conn := &fakeConn{}

	h, err := fx.mgr.Connect(context.Background(), "s1", conn)
	require.NoError(t, err)
	defer fx.mgr.Disconnect(context.Background(), h)

	require.NoError(t, h.Dispatch(context.Background(), Event{Type: EventAnswer, Text: "yes"}))
	require.NoError(t, h.Dispatch(context.Background(), Event{Type: EventAnswer, Text: "6 years"}))

	assert.Equal(t, 1, fx.scorer.calls)
	last := conn.frames[len(conn.frames)-1]
	assert.Equal(t, FrameEnded, last.Type)
	assert.Equal(t, string(domain.VerdictFit), last.Verdict)
	require.NotNil(t, last.FinalScore)
	assert.Equal(t, 72, *last.FinalScore)

	stored, err := fx.sessions.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.SessionCompleted, stored.State)
	require.NotNil(t, stored.FinalScore)
	assert.Equal(t, domain.VerdictFit, stored.FinalScore.Verdict)
}

func TestTranscriptRecordsBothSides(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, false, pendingSession(testQuestions...))

	h, err := fx.mgr.Connect(context.Background(), "s1", &fakeConn{})
	require.NoError(t, err)
	defer fx.mgr.Disconnect(context.Background(), h)

	require.NoError(t, h.Dispatch(context.Background(), Event{Type: EventAnswer, Text: "yes"}))

	msgs, err := fx.transcript.List(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, msgs, 3, "first question, answer, second question")
	assert.Equal(t, domain.SenderBot, msgs[0].Sender)
	assert.Equal(t, domain.SenderCandidate, msgs[1].Sender)
	assert.Equal(t, "yes", msgs[1].Text)
	assert.Equal(t, domain.SenderBot, msgs[2].Sender)
	for i, m := range msgs {
		assert.NotEmpty(t, m.ID, "message %d", i)
	}
}

func TestLapsedLeaseDoesNotAdmitTwoLoops(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, false, pendingSession(testQuestions...))
	first := &fakeConn{}

	h1, err := fx.mgr.Connect(context.Background(), "s1", first)
	require.NoError(t, err)

	// The first holder idles past the TTL and the lease lapses.
	fx.registry.expire("s1")

	second := &fakeConn{}
	h2, err := fx.mgr.Connect(context.Background(), "s1", second)
	require.NoError(t, err, "a lapsed lease is free to claim")
	defer fx.mgr.Disconnect(context.Background(), h2)

	err = h1.Dispatch(context.Background(), Event{Type: EventAnswer, Text: "yes"})
	assert.ErrorIs(t, err, domain.ErrSessionBusy, "the stale handle may not advance the session")

	require.NoError(t, h2.Dispatch(context.Background(), Event{Type: EventAnswer, Text: "yes"}))
	stored, err := fx.sessions.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, 1, stored.CurrentIndex, "only the current holder advanced the session")
}

func TestDisplacedHandleIsFenced(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, true, pendingSession(testQuestions...))
	first := &fakeConn{}

	h1, err := fx.mgr.Connect(context.Background(), "s1", first)
	require.NoError(t, err)

	h2, err := fx.mgr.Connect(context.Background(), "s1", &fakeConn{})
	require.NoError(t, err)
	defer fx.mgr.Disconnect(context.Background(), h2)

	err = h1.Dispatch(context.Background(), Event{Type: EventAnswer, Text: "yes"})
	assert.ErrorIs(t, err, domain.ErrSessionBusy)

	stored, err := fx.sessions.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, 0, stored.CurrentIndex, "the displaced handle recorded nothing")
}

func TestRefreshLeaseKeepsIdleSessionAlive(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, false, pendingSession(testQuestions...))

	h, err := fx.mgr.Connect(context.Background(), "s1", &fakeConn{})
	require.NoError(t, err)
	defer fx.mgr.Disconnect(context.Background(), h)

	require.NoError(t, h.RefreshLease(context.Background()))

	// A lapse with nobody else connected is recovered transparently.
	fx.registry.expire("s1")
	require.NoError(t, h.RefreshLease(context.Background()))
	_, err = fx.mgr.Connect(context.Background(), "s1", &fakeConn{})
	assert.ErrorIs(t, err, domain.ErrSessionBusy, "the reclaimed lease still guards the session")
}

func TestConnectUnknownSessionFails(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, false, pendingSession(testQuestions...))
	_, err := fx.mgr.Connect(context.Background(), "nope", &fakeConn{})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestBestEffortScoreFailureStillCancels(t *testing.T) {
	t.Parallel()
	sess := pendingSession(testQuestions...)
	sess.State = domain.SessionActive
	sess.Findings = []domain.DialogueFinding{{Category: domain.CategorySkills, RawAnswer: "yes", ParsedValue: true, Accepted: true}}
	fx := newFixture(t, false, sess)
	fx.scorer.err = fmt.Errorf("scorer down")
	conn := &fakeConn{}

	h, err := fx.mgr.Connect(context.Background(), "s1", conn)
	require.NoError(t, err)
	defer fx.mgr.Disconnect(context.Background(), h)

	require.NoError(t, h.Dispatch(context.Background(), Event{Type: EventCancel}))

	stored, err := fx.sessions.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.SessionCancelled, stored.State)
	assert.Nil(t, stored.FinalScore)
	assert.Contains(t, conn.types(), FrameCancelled)
}
