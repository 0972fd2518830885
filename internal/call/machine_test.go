package call

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carelink-backend/internal/domain"
	"carelink-backend/internal/media"
)

// ---- fakes -------------------------------------------------------------------

// fakeChannel broadcasts every published signal to all subscriptions, the
// sender's included, mimicking the pub/sub fan-out.
type fakeChannel struct {
	mu        sync.Mutex
	subs      []*fakeSub
	published []domain.CallSignal
}

type fakeSub struct {
	ch   chan domain.CallSignal
	once sync.Once
}

func (s *fakeSub) Signals() <-chan domain.CallSignal { return s.ch }
func (s *fakeSub) Unsubscribe()                      { s.once.Do(func() { close(s.ch) }) }

func newFakeChannel() *fakeChannel { return &fakeChannel{} }

func (c *fakeChannel) Subscribe(_ context.Context, _ uuid.UUID) (Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sub := &fakeSub{ch: make(chan domain.CallSignal, 64)}
	c.subs = append(c.subs, sub)
	return sub, nil
}

func (c *fakeChannel) Publish(_ context.Context, sig *domain.CallSignal) error {
	sig.ID = uuid.New()
	sig.CreatedAt = time.Now()
	c.mu.Lock()
	c.published = append(c.published, *sig)
	subs := append([]*fakeSub(nil), c.subs...)
	c.mu.Unlock()
	for _, s := range subs {
		select {
		case s.ch <- *sig:
		default:
		}
	}
	return nil
}

// inject delivers a signal as if a remote party published it.
func (c *fakeChannel) inject(sig domain.CallSignal) {
	sig.ID = uuid.New()
	sig.CreatedAt = time.Now()
	c.mu.Lock()
	subs := append([]*fakeSub(nil), c.subs...)
	c.mu.Unlock()
	for _, s := range subs {
		select {
		case s.ch <- sig:
		default:
		}
	}
}

func (c *fakeChannel) publishedOfType(t domain.SignalType) []domain.CallSignal {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []domain.CallSignal
	for _, sig := range c.published {
		if sig.Type == t {
			out = append(out, sig)
		}
	}
	return out
}

// fakeStore is an in-memory SessionStore with the same set-once and monotonic
// semantics as the SQL implementation.
type fakeStore struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*domain.CallSession
}

func newFakeStore() *fakeStore {
	return &fakeStore{sessions: make(map[uuid.UUID]*domain.CallSession)}
}

func (s *fakeStore) Create(_ context.Context, sess *domain.CallSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sess
	s.sessions[sess.ID] = &cp
	return nil
}

func (s *fakeStore) MarkConnected(_ context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return fmt.Errorf("session not found")
	}
	if sess.Status == domain.CallStatusRinging {
		sess.Status = domain.CallStatusConnected
		if sess.StartedAt == nil {
			sess.StartedAt = &at
		}
	}
	return nil
}

func (s *fakeStore) End(_ context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return fmt.Errorf("session not found")
	}
	if sess.Status != domain.CallStatusEnded {
		sess.Status = domain.CallStatusEnded
		if sess.EndedAt == nil {
			sess.EndedAt = &at
		}
	}
	return nil
}

func (s *fakeStore) Get(_ context.Context, id uuid.UUID) (*domain.CallSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session not found")
	}
	cp := *sess
	return &cp, nil
}

func (s *fakeStore) status(id uuid.UUID) domain.CallStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		return sess.Status
	}
	return ""
}

func (s *fakeStore) startedAt(id uuid.UUID) *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		return sess.StartedAt
	}
	return nil
}

// fakeChat records system messages.
type fakeChat struct {
	mu     sync.Mutex
	bodies []string
}

func (c *fakeChat) AppendSystemMessage(_ context.Context, _ uuid.UUID, body string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bodies = append(c.bodies, body)
	return nil
}

func (c *fakeChat) messages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.bodies...)
}

// fakeEngine produces scripted media sessions.
type fakeEngine struct {
	mu       sync.Mutex
	sessions []*fakeSession
}

func (e *fakeEngine) NewSession(_ context.Context) (media.Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := &fakeSession{events: make(chan media.Event, 32)}
	e.sessions = append(e.sessions, s)
	return s, nil
}

func (e *fakeEngine) session(i int) *fakeSession {
	e.mu.Lock()
	defer e.mu.Unlock()
	if i >= len(e.sessions) {
		return nil
	}
	return e.sessions[i]
}

type fakeSession struct {
	mu             sync.Mutex
	events         chan media.Event
	closed         bool
	remoteDescs    []media.Description
	candidates     []domain.ICECandidate
	offersCreated  int
	answersCreated int
	audioToggles   []bool
}

func (s *fakeSession) CreateOffer(_ context.Context) (media.Description, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offersCreated++
	return media.Description{Type: "offer", SDP: "v=0 offer"}, nil
}

func (s *fakeSession) CreateAnswer(_ context.Context) (media.Description, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.answersCreated++
	return media.Description{Type: "answer", SDP: "v=0 answer"}, nil
}

func (s *fakeSession) SetRemoteDescription(_ context.Context, desc media.Description) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remoteDescs = append(s.remoteDescs, desc)
	return nil
}

func (s *fakeSession) AddICECandidate(cand domain.ICECandidate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.candidates = append(s.candidates, cand)
	return nil
}

func (s *fakeSession) SetAudioEnabled(enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audioToggles = append(s.audioToggles, enabled)
	return nil
}

func (s *fakeSession) SetVideoEnabled(bool) error { return nil }

func (s *fakeSession) Events() <-chan media.Event { return s.events }

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
	return nil
}

func (s *fakeSession) emit(ev media.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.events <- ev
}

func (s *fakeSession) connect() {
	s.emit(media.Event{Kind: media.EventConnectionState, State: media.ConnStateConnected})
}

func (s *fakeSession) remoteDescCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.remoteDescs)
}

func (s *fakeSession) candidateList() []domain.ICECandidate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.ICECandidate(nil), s.candidates...)
}

// hookRec records hook invocations.
type hookRec struct {
	mu       sync.Mutex
	states   []State
	incoming chan IncomingCall
	canceled chan uuid.UUID
	notices  []string
}

func newHookRec() *hookRec {
	return &hookRec{
		incoming: make(chan IncomingCall, 8),
		canceled: make(chan uuid.UUID, 8),
	}
}

func (r *hookRec) hooks() Hooks {
	return Hooks{
		OnStateChange: func(_ uuid.UUID, s State) {
			r.mu.Lock()
			r.states = append(r.states, s)
			r.mu.Unlock()
		},
		OnIncomingCall:         func(inc IncomingCall) { r.incoming <- inc },
		OnIncomingCallCanceled: func(id uuid.UUID) { r.canceled <- id },
		OnNotice: func(msg string) {
			r.mu.Lock()
			r.notices = append(r.notices, msg)
			r.mu.Unlock()
		},
	}
}

func (r *hookRec) stateList() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.states...)
}

// ---- fixture -----------------------------------------------------------------

type party struct {
	machine *Machine
	engine  *fakeEngine
	chat    *fakeChat
	rec     *hookRec
	userID  uuid.UUID
}

type fixture struct {
	channel *fakeChannel
	store   *fakeStore
	convID  uuid.UUID
}

func newFixture() *fixture {
	return &fixture{
		channel: newFakeChannel(),
		store:   newFakeStore(),
		convID:  uuid.New(),
	}
}

func (f *fixture) newParty(t *testing.T, name string, override func(*Config)) *party {
	t.Helper()
	p := &party{
		engine: &fakeEngine{},
		chat:   &fakeChat{},
		rec:    newHookRec(),
		userID: uuid.New(),
	}
	cfg := Config{
		UserID:         p.userID,
		DisplayName:    name,
		ConversationID: f.convID,
		RingTimeout:    time.Hour,
		PollInterval:   time.Hour,
		OpTimeout:      2 * time.Second,
	}
	if override != nil {
		override(&cfg)
	}
	m, err := NewMachine(context.Background(), cfg, f.channel, f.store, p.chat, p.engine, p.rec.hooks())
	require.NoError(t, err)
	t.Cleanup(m.Close)
	p.machine = m
	return p
}

func waitState(t *testing.T, m *Machine, want State) {
	t.Helper()
	require.Eventually(t, func() bool {
		snap, err := m.Status(context.Background())
		return err == nil && snap.State == want
	}, 2*time.Second, 5*time.Millisecond, "machine never reached %s", want)
}

func waitIncoming(t *testing.T, p *party) IncomingCall {
	t.Helper()
	select {
	case inc := <-p.rec.incoming:
		return inc
	case <-time.After(2 * time.Second):
		t.Fatal("incoming call never rang")
		return IncomingCall{}
	}
}

// ---- full call flows -----------------------------------------------------------

func TestCallConnectsAndHangsUp(t *testing.T) {
	f := newFixture()
	caller := f.newParty(t, "Dr. Reyes", nil)
	callee := f.newParty(t, "Sam", nil)

	sessionID, err := caller.machine.StartCall(context.Background())
	require.NoError(t, err)
	waitState(t, caller.machine, StateRinging)

	inc := waitIncoming(t, callee)
	assert.Equal(t, sessionID, inc.SessionID)
	assert.Equal(t, caller.userID, inc.CallerID)
	assert.Equal(t, "Dr. Reyes", inc.CallerName)

	require.NoError(t, callee.machine.Accept(context.Background(), inc.SessionID))

	// The caller applies the answer exactly once.
	require.Eventually(t, func() bool {
		return caller.engine.session(0).remoteDescCount() == 1
	}, 2*time.Second, 5*time.Millisecond)

	caller.engine.session(0).connect()
	callee.engine.session(0).connect()
	waitState(t, caller.machine, StateConnected)
	waitState(t, callee.machine, StateConnected)

	assert.Equal(t, domain.CallStatusConnected, f.store.status(sessionID))
	require.NotNil(t, f.store.startedAt(sessionID))

	require.NoError(t, caller.machine.HangUp(context.Background()))
	waitState(t, caller.machine, StateIdle)
	waitState(t, callee.machine, StateIdle)

	assert.Equal(t, domain.CallStatusEnded, f.store.status(sessionID))
	assert.Equal(t, []State{StateRinging, StateConnected, StateEnded}, caller.rec.stateList())
	assert.Equal(t, []State{StateRinging, StateConnected, StateEnded}, callee.rec.stateList())

	msgs := caller.chat.messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "Call started", msgs[0])
	assert.Contains(t, msgs[1], "Call ended")
	assert.Empty(t, callee.chat.messages(), "only the hanging-up party writes the transcript line")
}

func TestCalleeDeclines(t *testing.T) {
	f := newFixture()
	caller := f.newParty(t, "Dr. Reyes", nil)
	callee := f.newParty(t, "Sam", nil)

	sessionID, err := caller.machine.StartCall(context.Background())
	require.NoError(t, err)
	inc := waitIncoming(t, callee)

	require.NoError(t, callee.machine.Decline(context.Background(), inc.SessionID))
	waitState(t, callee.machine, StateIdle)
	waitState(t, caller.machine, StateIdle)

	// The caller, not the decliner, patches the session and writes the line.
	assert.Equal(t, domain.CallStatusEnded, f.store.status(sessionID))
	assert.Equal(t, []string{"Call declined"}, caller.chat.messages())
	assert.Empty(t, callee.chat.messages())

	assert.Len(t, f.channel.publishedOfType(domain.SignalDeclined), 1)
}

func TestRingTimeoutCancelsCall(t *testing.T) {
	f := newFixture()
	caller := f.newParty(t, "Dr. Reyes", func(c *Config) { c.RingTimeout = 80 * time.Millisecond })
	callee := f.newParty(t, "Sam", nil)

	sessionID, err := caller.machine.StartCall(context.Background())
	require.NoError(t, err)
	inc := waitIncoming(t, callee)

	waitState(t, caller.machine, StateIdle)
	assert.Equal(t, domain.CallStatusEnded, f.store.status(sessionID))
	assert.Equal(t, []string{"Missed call"}, caller.chat.messages())
	assert.Len(t, f.channel.publishedOfType(domain.SignalCancel), 1)

	// The CANCEL withdraws the incoming prompt on the callee.
	select {
	case id := <-callee.rec.canceled:
		assert.Equal(t, inc.SessionID, id)
	case <-time.After(2 * time.Second):
		t.Fatal("incoming call never withdrawn")
	}
	waitState(t, callee.machine, StateIdle)
}

func TestRingTimeoutIsNoOpAfterAnswer(t *testing.T) {
	f := newFixture()
	caller := f.newParty(t, "Dr. Reyes", func(c *Config) { c.RingTimeout = 80 * time.Millisecond })
	callee := f.newParty(t, "Sam", nil)

	sessionID, err := caller.machine.StartCall(context.Background())
	require.NoError(t, err)
	inc := waitIncoming(t, callee)
	require.NoError(t, callee.machine.Accept(context.Background(), inc.SessionID))

	require.Eventually(t, func() bool {
		return caller.engine.session(0).remoteDescCount() == 1
	}, 2*time.Second, 5*time.Millisecond)

	caller.engine.session(0).connect()
	waitState(t, caller.machine, StateConnected)

	// Wait past the ring timeout; the answered call must survive it.
	time.Sleep(150 * time.Millisecond)
	snap, err := caller.machine.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateConnected, snap.State)
	assert.Empty(t, f.channel.publishedOfType(domain.SignalCancel))
	assert.Equal(t, domain.CallStatusConnected, f.store.status(sessionID))
}

// ---- ICE handling ----------------------------------------------------------------

func TestICEBeforeAnswerIsQueuedInOrder(t *testing.T) {
	f := newFixture()
	caller := f.newParty(t, "Dr. Reyes", nil)
	peerID := uuid.New()

	sessionID, err := caller.machine.StartCall(context.Background())
	require.NoError(t, err)
	waitState(t, caller.machine, StateRinging)

	// Candidates arrive before the ANSWER they belong with.
	for i := 0; i < 3; i++ {
		payload, err := encodeICE(domain.ICECandidate{Candidate: fmt.Sprintf("candidate:%d", i)})
		require.NoError(t, err)
		f.channel.inject(domain.CallSignal{
			ConversationID: f.convID,
			CallSessionID:  sessionID,
			SenderID:       peerID,
			Type:           domain.SignalICE,
			Payload:        payload,
		})
	}

	answer, err := encodeAnswer(media.Description{Type: "answer", SDP: "v=0 answer"})
	require.NoError(t, err)
	f.channel.inject(domain.CallSignal{
		ConversationID: f.convID,
		CallSessionID:  sessionID,
		SenderID:       peerID,
		Type:           domain.SignalAnswer,
		Payload:        answer,
	})

	sess := caller.engine.session(0)
	require.Eventually(t, func() bool {
		return len(sess.candidateList()) == 3
	}, 2*time.Second, 5*time.Millisecond)

	require.Equal(t, 1, sess.remoteDescCount(), "remote description before any candidate")
	got := sess.candidateList()
	for i, cand := range got {
		assert.Equal(t, fmt.Sprintf("candidate:%d", i), cand.Candidate, "queued candidates flush in arrival order")
	}
}

func TestICEQueueIsBounded(t *testing.T) {
	f := newFixture()
	caller := f.newParty(t, "Dr. Reyes", func(c *Config) { c.MaxQueuedICE = 2 })
	peerID := uuid.New()

	sessionID, err := caller.machine.StartCall(context.Background())
	require.NoError(t, err)
	waitState(t, caller.machine, StateRinging)

	for i := 0; i < 5; i++ {
		payload, err := encodeICE(domain.ICECandidate{Candidate: fmt.Sprintf("candidate:%d", i)})
		require.NoError(t, err)
		f.channel.inject(domain.CallSignal{
			ConversationID: f.convID,
			CallSessionID:  sessionID,
			SenderID:       peerID,
			Type:           domain.SignalICE,
			Payload:        payload,
		})
	}

	answer, _ := encodeAnswer(media.Description{Type: "answer", SDP: "v=0 answer"})
	f.channel.inject(domain.CallSignal{
		ConversationID: f.convID,
		CallSessionID:  sessionID,
		SenderID:       peerID,
		Type:           domain.SignalAnswer,
		Payload:        answer,
	})

	sess := caller.engine.session(0)
	require.Eventually(t, func() bool {
		return sess.remoteDescCount() == 1
	}, 2*time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		return len(sess.candidateList()) == 2
	}, 2*time.Second, 5*time.Millisecond, "only the first MaxQueuedICE candidates survive")
}

func TestLocalCandidatesArePublished(t *testing.T) {
	f := newFixture()
	caller := f.newParty(t, "Dr. Reyes", nil)

	sessionID, err := caller.machine.StartCall(context.Background())
	require.NoError(t, err)
	waitState(t, caller.machine, StateRinging)

	caller.engine.session(0).emit(media.Event{
		Kind:      media.EventICECandidate,
		Candidate: domain.ICECandidate{Candidate: "candidate:local"},
	})

	require.Eventually(t, func() bool {
		return len(f.channel.publishedOfType(domain.SignalICE)) == 1
	}, 2*time.Second, 5*time.Millisecond)

	sig := f.channel.publishedOfType(domain.SignalICE)[0]
	assert.Equal(t, sessionID, sig.CallSessionID)
	assert.Equal(t, caller.userID, sig.SenderID)
}

// ---- idempotency and duplicates ----------------------------------------------------

func TestDuplicateAnswerAppliedOnce(t *testing.T) {
	f := newFixture()
	caller := f.newParty(t, "Dr. Reyes", nil)
	peerID := uuid.New()

	sessionID, err := caller.machine.StartCall(context.Background())
	require.NoError(t, err)
	waitState(t, caller.machine, StateRinging)

	answer, _ := encodeAnswer(media.Description{Type: "answer", SDP: "v=0 answer"})
	sig := domain.CallSignal{
		ConversationID: f.convID,
		CallSessionID:  sessionID,
		SenderID:       peerID,
		Type:           domain.SignalAnswer,
		Payload:        answer,
	}
	f.channel.inject(sig)
	f.channel.inject(sig)
	f.channel.inject(sig)

	sess := caller.engine.session(0)
	require.Eventually(t, func() bool {
		return sess.remoteDescCount() >= 1
	}, 2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, sess.remoteDescCount())
}

func TestDuplicateOfferRingsOnce(t *testing.T) {
	f := newFixture()
	callee := f.newParty(t, "Sam", nil)
	peerID := uuid.New()
	sessionID := uuid.New()

	offer, err := encodeOffer(media.Description{Type: "offer", SDP: "v=0 offer"}, peerID, "Dr. Reyes")
	require.NoError(t, err)
	sig := domain.CallSignal{
		ConversationID: f.convID,
		CallSessionID:  sessionID,
		SenderID:       peerID,
		Type:           domain.SignalOffer,
		Payload:        offer,
	}
	f.channel.inject(sig)
	f.channel.inject(sig)

	waitIncoming(t, callee)
	select {
	case <-callee.rec.incoming:
		t.Fatal("duplicate offer rang twice")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestAcceptPublishesExactlyOneAnswer(t *testing.T) {
	f := newFixture()
	caller := f.newParty(t, "Dr. Reyes", nil)
	callee := f.newParty(t, "Sam", nil)

	_, err := caller.machine.StartCall(context.Background())
	require.NoError(t, err)
	inc := waitIncoming(t, callee)

	require.NoError(t, callee.machine.Accept(context.Background(), inc.SessionID))
	assert.ErrorIs(t, callee.machine.Accept(context.Background(), inc.SessionID), ErrAlreadyAnswered)
	assert.ErrorIs(t, callee.machine.Accept(context.Background(), inc.SessionID), ErrAlreadyAnswered)

	assert.Len(t, f.channel.publishedOfType(domain.SignalAnswer), 1)
}

func TestHangUpIsIdempotent(t *testing.T) {
	f := newFixture()
	caller := f.newParty(t, "Dr. Reyes", nil)
	callee := f.newParty(t, "Sam", nil)

	sessionID, err := caller.machine.StartCall(context.Background())
	require.NoError(t, err)
	inc := waitIncoming(t, callee)
	require.NoError(t, callee.machine.Accept(context.Background(), inc.SessionID))

	require.Eventually(t, func() bool {
		return caller.engine.session(0).remoteDescCount() == 1
	}, 2*time.Second, 5*time.Millisecond)
	caller.engine.session(0).connect()
	callee.engine.session(0).connect()
	waitState(t, callee.machine, StateConnected)

	require.NoError(t, callee.machine.HangUp(context.Background()))
	waitState(t, callee.machine, StateIdle)
	assert.ErrorIs(t, callee.machine.HangUp(context.Background()), ErrNoActiveCall)

	assert.Len(t, f.channel.publishedOfType(domain.SignalBye), 1)
	assert.Equal(t, domain.CallStatusEnded, f.store.status(sessionID))
}

func TestDuplicateByeTornDownOnce(t *testing.T) {
	f := newFixture()
	caller := f.newParty(t, "Dr. Reyes", nil)
	peerID := uuid.New()

	sessionID, err := caller.machine.StartCall(context.Background())
	require.NoError(t, err)
	waitState(t, caller.machine, StateRinging)

	bye := domain.CallSignal{
		ConversationID: f.convID,
		CallSessionID:  sessionID,
		SenderID:       peerID,
		Type:           domain.SignalBye,
		Payload:        encodeTerminal(domain.ReasonEnded, time.Now()),
	}
	f.channel.inject(bye)
	f.channel.inject(bye)

	waitState(t, caller.machine, StateIdle)
	time.Sleep(50 * time.Millisecond)

	var ended int
	for _, s := range caller.rec.stateList() {
		if s == StateEnded {
			ended++
		}
	}
	assert.Equal(t, 1, ended)
}

func TestStartedAtSetOnce(t *testing.T) {
	f := newFixture()
	caller := f.newParty(t, "Dr. Reyes", nil)
	callee := f.newParty(t, "Sam", nil)

	sessionID, err := caller.machine.StartCall(context.Background())
	require.NoError(t, err)
	inc := waitIncoming(t, callee)
	require.NoError(t, callee.machine.Accept(context.Background(), inc.SessionID))

	require.Eventually(t, func() bool {
		return caller.engine.session(0).remoteDescCount() == 1
	}, 2*time.Second, 5*time.Millisecond)

	sess := caller.engine.session(0)
	sess.connect()
	waitState(t, caller.machine, StateConnected)
	first := f.store.startedAt(sessionID)
	require.NotNil(t, first)

	// A flapping connection must not move startedAt.
	sess.emit(media.Event{Kind: media.EventConnectionState, State: media.ConnStateDisconnected})
	sess.connect()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, *first, *f.store.startedAt(sessionID))
}

// ---- busy and error states ------------------------------------------------------

func TestStartCallWhileBusyFails(t *testing.T) {
	f := newFixture()
	caller := f.newParty(t, "Dr. Reyes", nil)

	_, err := caller.machine.StartCall(context.Background())
	require.NoError(t, err)

	_, err = caller.machine.StartCall(context.Background())
	assert.ErrorIs(t, err, ErrCallInProgress)
}

func TestStartCallWhileIncomingRingsFails(t *testing.T) {
	f := newFixture()
	callee := f.newParty(t, "Sam", nil)
	peerID := uuid.New()

	offer, _ := encodeOffer(media.Description{Type: "offer", SDP: "v=0 offer"}, peerID, "Dr. Reyes")
	f.channel.inject(domain.CallSignal{
		ConversationID: f.convID,
		CallSessionID:  uuid.New(),
		SenderID:       peerID,
		Type:           domain.SignalOffer,
		Payload:        offer,
	})
	waitIncoming(t, callee)

	_, err := callee.machine.StartCall(context.Background())
	assert.ErrorIs(t, err, ErrCallInProgress)
}

func TestOfferWhileBusyIsIgnored(t *testing.T) {
	f := newFixture()
	caller := f.newParty(t, "Dr. Reyes", nil)
	peerID := uuid.New()

	_, err := caller.machine.StartCall(context.Background())
	require.NoError(t, err)
	waitState(t, caller.machine, StateRinging)

	offer, _ := encodeOffer(media.Description{Type: "offer", SDP: "v=0 offer"}, peerID, "Third Party")
	f.channel.inject(domain.CallSignal{
		ConversationID: f.convID,
		CallSessionID:  uuid.New(),
		SenderID:       peerID,
		Type:           domain.SignalOffer,
		Payload:        offer,
	})

	select {
	case <-caller.rec.incoming:
		t.Fatal("offer must not ring while a call is active")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestDeclineUnknownSessionFails(t *testing.T) {
	f := newFixture()
	callee := f.newParty(t, "Sam", nil)
	assert.ErrorIs(t, callee.machine.Decline(context.Background(), uuid.New()), ErrNoIncomingCall)
}

func TestMuteRequiresActiveCall(t *testing.T) {
	f := newFixture()
	p := f.newParty(t, "Sam", nil)
	assert.ErrorIs(t, p.machine.SetMuted(context.Background(), true), ErrNoActiveCall)
}

func TestMuteTogglesAudioTrack(t *testing.T) {
	f := newFixture()
	caller := f.newParty(t, "Dr. Reyes", nil)

	_, err := caller.machine.StartCall(context.Background())
	require.NoError(t, err)
	waitState(t, caller.machine, StateRinging)

	require.NoError(t, caller.machine.SetMuted(context.Background(), true))
	require.NoError(t, caller.machine.SetMuted(context.Background(), false))

	sess := caller.engine.session(0)
	sess.mu.Lock()
	toggles := append([]bool(nil), sess.audioToggles...)
	sess.mu.Unlock()
	assert.Equal(t, []bool{false, true}, toggles)
}

// ---- signal loss recovery ---------------------------------------------------------

func TestPollNoticesRemotelyEndedSession(t *testing.T) {
	f := newFixture()
	caller := f.newParty(t, "Dr. Reyes", func(c *Config) { c.PollInterval = 20 * time.Millisecond })

	sessionID, err := caller.machine.StartCall(context.Background())
	require.NoError(t, err)
	waitState(t, caller.machine, StateRinging)

	// The decline signal is lost; only the session record reflects it.
	require.NoError(t, f.store.End(context.Background(), sessionID, time.Now()))

	waitState(t, caller.machine, StateIdle)
}

func TestMediaFailureEndsCall(t *testing.T) {
	f := newFixture()
	caller := f.newParty(t, "Dr. Reyes", nil)
	callee := f.newParty(t, "Sam", nil)

	sessionID, err := caller.machine.StartCall(context.Background())
	require.NoError(t, err)
	inc := waitIncoming(t, callee)
	require.NoError(t, callee.machine.Accept(context.Background(), inc.SessionID))

	require.Eventually(t, func() bool {
		return caller.engine.session(0).remoteDescCount() == 1
	}, 2*time.Second, 5*time.Millisecond)
	caller.engine.session(0).connect()
	waitState(t, caller.machine, StateConnected)

	caller.engine.session(0).emit(media.Event{Kind: media.EventConnectionState, State: media.ConnStateFailed})
	waitState(t, caller.machine, StateIdle)

	assert.Equal(t, domain.CallStatusEnded, f.store.status(sessionID))
	require.NotEmpty(t, f.channel.publishedOfType(domain.SignalBye))
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "42s", formatDuration(42*time.Second))
	assert.Equal(t, "1m 5s", formatDuration(65*time.Second))
	assert.Equal(t, "10m 0s", formatDuration(10*time.Minute))
	assert.Equal(t, "0s", formatDuration(300*time.Millisecond))
}
