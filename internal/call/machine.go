package call

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"carelink-backend/internal/domain"
	"carelink-backend/internal/media"
	"carelink-backend/pkg/logger"
	"carelink-backend/pkg/metrics"
)

// Config configures one Machine.
type Config struct {
	UserID         uuid.UUID
	DisplayName    string
	ConversationID uuid.UUID

	// Participants are the conversation members recorded on sessions this
	// machine creates. Defaults to just UserID when empty.
	Participants []uuid.UUID

	// RingTimeout is how long an unanswered outbound call rings before the
	// machine cancels it. Defaults to 30s.
	RingTimeout time.Duration

	// PollInterval is how often a ringing caller re-reads the session
	// record to notice a remote end it never got a signal for.
	PollInterval time.Duration

	// OpTimeout bounds each store or publish call made from the loop.
	OpTimeout time.Duration

	// MaxQueuedICE bounds candidates buffered per session before the
	// remote description is known. Excess candidates are dropped.
	MaxQueuedICE int
}

func (c *Config) applyDefaults() {
	if c.RingTimeout == 0 {
		c.RingTimeout = 30 * time.Second
	}
	if c.PollInterval == 0 {
		c.PollInterval = 3 * time.Second
	}
	if c.OpTimeout == 0 {
		c.OpTimeout = 5 * time.Second
	}
	if c.MaxQueuedICE == 0 {
		c.MaxQueuedICE = 32
	}
	if len(c.Participants) == 0 {
		c.Participants = []uuid.UUID{c.UserID}
	}
}

// activeCall is the loop-owned state of the call in progress.
type activeCall struct {
	sessionID     uuid.UUID
	role          Role
	peer          media.Session
	remoteDescSet bool
	connectedOnce bool
	ending        bool
	startedAt     time.Time
	ringTimer     *time.Timer
	eventsClosed  bool
}

// Snapshot is a point-in-time view of the machine for status queries.
type Snapshot struct {
	State     State
	SessionID uuid.UUID
	Role      Role
	StartedAt time.Time
}

// Machine is the call state machine. All state lives on a single goroutine;
// public methods post commands into it and wait for the reply, so they are
// safe to call from anywhere.
type Machine struct {
	cfg     Config
	channel SignalChannel
	store   SessionStore
	chat    ChatHistory
	engine  media.Engine
	hooks   Hooks
	log     *zap.Logger

	sub Subscription

	cmds         chan func()
	ringTimeouts chan uuid.UUID
	closing      chan struct{}
	done         chan struct{}
	closeOnce    sync.Once

	// loop-owned state below; never touched outside run().
	state      State
	active     *activeCall
	slot       *incomingSlot
	answered   map[uuid.UUID]struct{}
	finished   map[uuid.UUID]struct{}
	pendingICE map[uuid.UUID][]domain.ICECandidate
}

// NewMachine subscribes to the conversation's signals and starts the loop.
func NewMachine(ctx context.Context, cfg Config, channel SignalChannel, store SessionStore, chat ChatHistory, engine media.Engine, hooks Hooks) (*Machine, error) {
	cfg.applyDefaults()

	sub, err := channel.Subscribe(ctx, cfg.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to call signals: %w", err)
	}

	m := &Machine{
		cfg:          cfg,
		channel:      channel,
		store:        store,
		chat:         chat,
		engine:       engine,
		hooks:        hooks,
		log:          logger.Named("call").With(zap.String("conversation_id", cfg.ConversationID.String())),
		sub:          sub,
		cmds:         make(chan func()),
		ringTimeouts: make(chan uuid.UUID, 4),
		closing:      make(chan struct{}),
		done:         make(chan struct{}),
		state:        StateIdle,
		slot:         newIncomingSlot(),
		answered:     make(map[uuid.UUID]struct{}),
		finished:     make(map[uuid.UUID]struct{}),
		pendingICE:   make(map[uuid.UUID][]domain.ICECandidate),
	}

	go m.run()
	return m, nil
}

// Close stops the machine. An active call is ended with a BYE first.
func (m *Machine) Close() {
	m.closeOnce.Do(func() { close(m.closing) })
	<-m.done
}

func (m *Machine) run() {
	poll := time.NewTicker(m.cfg.PollInterval)
	defer func() {
		poll.Stop()
		m.sub.Unsubscribe()
		close(m.done)
	}()

	for {
		var mediaEvents <-chan media.Event
		if m.active != nil && !m.active.eventsClosed {
			mediaEvents = m.active.peer.Events()
		}

		select {
		case fn := <-m.cmds:
			fn()

		case sig, ok := <-m.sub.Signals():
			if !ok {
				m.hooks.notice("signal channel lost")
				if m.active != nil {
					m.teardown(domain.ReasonEnded)
				}
				return
			}
			m.handleInboundSignal(sig)

		case ev, ok := <-mediaEvents:
			if !ok {
				m.active.eventsClosed = true
				continue
			}
			m.handleMediaEvent(ev)

		case sessionID := <-m.ringTimeouts:
			m.onRingTimeout(sessionID)

		case <-poll.C:
			m.onPoll()

		case <-m.closing:
			if m.active != nil {
				m.endActiveCall()
			}
			return
		}
	}
}

// do posts fn into the loop and waits for its result.
func (m *Machine) do(ctx context.Context, fn func() error) error {
	errc := make(chan error, 1)
	select {
	case m.cmds <- func() { errc <- fn() }:
	case <-ctx.Done():
		return ctx.Err()
	case <-m.done:
		return ErrMachineClosed
	}
	select {
	case err := <-errc:
		return err
	case <-m.done:
		return ErrMachineClosed
	}
}

// opCtx bounds one blocking collaborator call made from the loop.
func (m *Machine) opCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), m.cfg.OpTimeout)
}

// ---- public operations -----------------------------------------------------

// StartCall places an outbound call and returns its session id. Fails with
// ErrCallInProgress unless the machine is idle.
func (m *Machine) StartCall(ctx context.Context) (uuid.UUID, error) {
	var sessionID uuid.UUID
	err := m.do(ctx, func() error {
		id, err := m.startCall()
		sessionID = id
		return err
	})
	return sessionID, err
}

// Accept answers the ringing incoming call. At most one ANSWER is ever
// published per session, no matter how often Accept is called.
func (m *Machine) Accept(ctx context.Context, sessionID uuid.UUID) error {
	return m.do(ctx, func() error { return m.accept(sessionID) })
}

// Decline rejects the ringing incoming call by publishing DECLINED. The
// session record is left to the caller to patch, so a decline still works
// when the callee's network is about to vanish.
func (m *Machine) Decline(ctx context.Context, sessionID uuid.UUID) error {
	return m.do(ctx, func() error { return m.decline(sessionID) })
}

// HangUp ends the active call. Idempotent.
func (m *Machine) HangUp(ctx context.Context) error {
	return m.do(ctx, func() error {
		if m.active == nil {
			return ErrNoActiveCall
		}
		if m.active.ending {
			return nil
		}
		m.endActiveCall()
		return nil
	})
}

// SetMuted toggles the local microphone on the active call.
func (m *Machine) SetMuted(ctx context.Context, muted bool) error {
	return m.do(ctx, func() error {
		if m.active == nil {
			return ErrNoActiveCall
		}
		return m.active.peer.SetAudioEnabled(!muted)
	})
}

// SetVideoEnabled toggles the local camera on the active call.
func (m *Machine) SetVideoEnabled(ctx context.Context, enabled bool) error {
	return m.do(ctx, func() error {
		if m.active == nil {
			return ErrNoActiveCall
		}
		return m.active.peer.SetVideoEnabled(enabled)
	})
}

// Status reports the machine's current state.
func (m *Machine) Status(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := m.do(ctx, func() error {
		snap.State = m.state
		if m.active != nil {
			snap.SessionID = m.active.sessionID
			snap.Role = m.active.role
			snap.StartedAt = m.active.startedAt
		} else if inc, ok := m.slot.peek(); ok {
			snap.SessionID = inc.SessionID
			snap.Role = RoleCallee
		}
		return nil
	})
	return snap, err
}

// ---- caller flow -----------------------------------------------------------

func (m *Machine) startCall() (uuid.UUID, error) {
	if m.state != StateIdle {
		return uuid.Nil, ErrCallInProgress
	}

	sessionID := uuid.New()
	sess := &domain.CallSession{
		ID:             sessionID,
		ConversationID: m.cfg.ConversationID,
		ParticipantIDs: m.cfg.Participants,
		CreatedBy:      m.cfg.UserID,
		Status:         domain.CallStatusRinging,
	}

	ctx, cancel := m.opCtx()
	defer cancel()
	if err := m.store.Create(ctx, sess); err != nil {
		return uuid.Nil, fmt.Errorf("failed to create call session: %w", err)
	}

	peer, err := m.engine.NewSession(ctx)
	if err != nil {
		m.patchEnded(sessionID)
		return uuid.Nil, fmt.Errorf("failed to start media: %w", err)
	}

	offer, err := peer.CreateOffer(ctx)
	if err != nil {
		_ = peer.Close()
		m.patchEnded(sessionID)
		return uuid.Nil, fmt.Errorf("failed to create offer: %w", err)
	}

	payload, err := encodeOffer(offer, m.cfg.UserID, m.cfg.DisplayName)
	if err != nil {
		_ = peer.Close()
		m.patchEnded(sessionID)
		return uuid.Nil, err
	}

	if err := m.publish(sessionID, domain.SignalOffer, payload); err != nil {
		_ = peer.Close()
		m.patchEnded(sessionID)
		return uuid.Nil, err
	}

	m.active = &activeCall{
		sessionID: sessionID,
		role:      RoleCaller,
		peer:      peer,
	}
	m.active.ringTimer = time.AfterFunc(m.cfg.RingTimeout, func() {
		select {
		case m.ringTimeouts <- sessionID:
		default:
		}
	})

	metrics.CallsStartedTotal.Inc()
	m.setState(sessionID, StateRinging)
	m.log.Info("call started", zap.String("session_id", sessionID.String()))
	return sessionID, nil
}

func (m *Machine) onRingTimeout(sessionID uuid.UUID) {
	// Late fires after an answer or teardown are no-ops.
	if m.active == nil || m.active.sessionID != sessionID {
		return
	}
	if m.active.role != RoleCaller || m.active.remoteDescSet || m.active.ending {
		return
	}

	m.log.Info("call rang out", zap.String("session_id", sessionID.String()))
	m.active.ending = true

	if err := m.publish(sessionID, domain.SignalCancel, encodeTerminal(domain.ReasonMissed, time.Now())); err != nil {
		m.hooks.notice("could not notify the other party the call timed out")
	}
	m.patchEnded(sessionID)
	m.appendSystem("Missed call")
	m.teardown(domain.ReasonMissed)
}

// onPoll covers the signal-loss case: a ringing caller re-reads the session
// record so a decline or end patched by the other side is noticed even when
// the corresponding signal never arrived.
func (m *Machine) onPoll() {
	if m.active == nil || m.active.role != RoleCaller || m.state != StateRinging || m.active.ending {
		return
	}

	ctx, cancel := m.opCtx()
	defer cancel()
	sess, err := m.store.Get(ctx, m.active.sessionID)
	if err != nil {
		return
	}
	if sess.Status == domain.CallStatusEnded {
		m.log.Info("session ended remotely while ringing",
			zap.String("session_id", m.active.sessionID.String()))
		m.active.ending = true
		m.teardown(domain.ReasonCanceled)
	}
}

// ---- callee flow -----------------------------------------------------------

func (m *Machine) accept(sessionID uuid.UUID) error {
	if _, dup := m.answered[sessionID]; dup {
		return ErrAlreadyAnswered
	}
	inc, ok := m.slot.take(sessionID)
	if !ok {
		return ErrNoIncomingCall
	}
	if m.active != nil {
		return ErrCallInProgress
	}
	m.answered[sessionID] = struct{}{}

	ctx, cancel := m.opCtx()
	defer cancel()

	peer, err := m.engine.NewSession(ctx)
	if err != nil {
		m.finishSession(sessionID)
		m.setState(sessionID, StateEnded)
		m.state = StateIdle
		return fmt.Errorf("failed to start media: %w", err)
	}

	if err := peer.SetRemoteDescription(ctx, media.Description{Type: "offer", SDP: inc.SDP}); err != nil {
		_ = peer.Close()
		m.finishSession(sessionID)
		m.setState(sessionID, StateEnded)
		m.state = StateIdle
		return fmt.Errorf("failed to apply offer: %w", err)
	}

	m.active = &activeCall{
		sessionID:     sessionID,
		role:          RoleCallee,
		peer:          peer,
		remoteDescSet: true,
	}
	m.flushPendingICE(sessionID)

	answer, err := peer.CreateAnswer(ctx)
	if err != nil {
		m.teardown(domain.ReasonEnded)
		return fmt.Errorf("failed to create answer: %w", err)
	}

	payload, err := encodeAnswer(answer)
	if err != nil {
		m.teardown(domain.ReasonEnded)
		return err
	}
	if err := m.publish(sessionID, domain.SignalAnswer, payload); err != nil {
		m.teardown(domain.ReasonEnded)
		return err
	}

	m.log.Info("call accepted", zap.String("session_id", sessionID.String()))
	return nil
}

func (m *Machine) decline(sessionID uuid.UUID) error {
	if _, ok := m.slot.take(sessionID); !ok {
		return ErrNoIncomingCall
	}

	// The caller patches the session to ENDED when it receives DECLINED;
	// publishing is all the callee owes.
	if err := m.publish(sessionID, domain.SignalDeclined, encodeTerminal(domain.ReasonDeclined, time.Now())); err != nil {
		m.hooks.notice("could not deliver the decline, the caller will ring out")
	}

	m.finishSession(sessionID)
	metrics.CallsEndedTotal.WithLabelValues(domain.ReasonDeclined).Inc()
	m.setState(sessionID, StateEnded)
	m.state = StateIdle
	m.log.Info("call declined", zap.String("session_id", sessionID.String()))
	return nil
}

// ---- inbound signals ---------------------------------------------------------

func (m *Machine) handleInboundSignal(sig domain.CallSignal) {
	// Pub/sub echoes our own signals back; everything self-sent is skipped.
	if sig.SenderID == m.cfg.UserID {
		return
	}

	switch sig.Type {
	case domain.SignalOffer:
		m.onOffer(sig)
	case domain.SignalAnswer:
		m.onAnswer(sig)
	case domain.SignalICE:
		m.onICE(sig)
	case domain.SignalDeclined, domain.SignalBye, domain.SignalCancel:
		m.onTerminal(sig)
	default:
		m.log.Warn("ignoring signal of unexpected type", zap.String("type", string(sig.Type)))
	}
}

func (m *Machine) onOffer(sig domain.CallSignal) {
	if _, done := m.finished[sig.CallSessionID]; done {
		return
	}
	if m.active != nil {
		m.log.Info("ignoring offer while busy", zap.String("session_id", sig.CallSessionID.String()))
		return
	}

	payload, err := decodeOffer(sig.Payload)
	if err != nil {
		m.log.Warn("dropping malformed offer", zap.Error(err))
		return
	}

	callerID := sig.SenderID
	if callerID == uuid.Nil {
		callerID = payload.CallerID
	}

	inc := IncomingCall{
		SessionID:      sig.CallSessionID,
		ConversationID: sig.ConversationID,
		CallerID:       callerID,
		CallerName:     payload.CallerName,
		SDP:            payload.SDP,
		ReceivedAt:     time.Now(),
	}
	if !m.slot.ring(inc) {
		return
	}

	m.setState(inc.SessionID, StateRinging)
	m.hooks.incomingCall(inc)
	m.log.Info("incoming call",
		zap.String("session_id", inc.SessionID.String()),
		zap.String("caller_id", inc.CallerID.String()))
}

func (m *Machine) onAnswer(sig domain.CallSignal) {
	if m.active == nil || m.active.sessionID != sig.CallSessionID || m.active.role != RoleCaller {
		return
	}
	// A duplicated ANSWER must not touch the peer connection twice.
	if m.active.remoteDescSet {
		return
	}

	payload, err := decodeAnswer(sig.Payload)
	if err != nil {
		m.log.Warn("dropping malformed answer", zap.Error(err))
		return
	}

	ctx, cancel := m.opCtx()
	defer cancel()
	if err := m.active.peer.SetRemoteDescription(ctx, media.Description{Type: "answer", SDP: payload.SDP}); err != nil {
		m.log.Error("failed to apply answer", zap.Error(err))
		m.endActiveCall()
		return
	}

	m.active.remoteDescSet = true
	m.stopRingTimer()
	m.flushPendingICE(sig.CallSessionID)
	m.log.Info("answer applied", zap.String("session_id", sig.CallSessionID.String()))
}

func (m *Machine) onICE(sig domain.CallSignal) {
	if _, done := m.finished[sig.CallSessionID]; done {
		return
	}

	payload, err := decodeICE(sig.Payload)
	if err != nil {
		m.log.Warn("dropping malformed ice candidate", zap.Error(err))
		return
	}

	// Candidates may arrive before the offer or answer they belong to.
	// Queue them until the remote description is in place.
	if m.active == nil || m.active.sessionID != sig.CallSessionID || !m.active.remoteDescSet {
		m.queueICE(sig.CallSessionID, payload.Candidate)
		return
	}

	if err := m.active.peer.AddICECandidate(payload.Candidate); err != nil {
		m.log.Warn("failed to add ice candidate", zap.Error(err))
	}
}

func (m *Machine) queueICE(sessionID uuid.UUID, cand domain.ICECandidate) {
	queue := m.pendingICE[sessionID]
	if len(queue) >= m.cfg.MaxQueuedICE {
		m.log.Warn("ice queue full, dropping candidate",
			zap.String("session_id", sessionID.String()))
		return
	}
	m.pendingICE[sessionID] = append(queue, cand)
}

// flushPendingICE applies queued candidates in arrival order.
func (m *Machine) flushPendingICE(sessionID uuid.UUID) {
	for _, cand := range m.pendingICE[sessionID] {
		if err := m.active.peer.AddICECandidate(cand); err != nil {
			m.log.Warn("failed to add queued ice candidate", zap.Error(err))
		}
	}
	delete(m.pendingICE, sessionID)
}

func (m *Machine) onTerminal(sig domain.CallSignal) {
	if _, done := m.finished[sig.CallSessionID]; done {
		return
	}

	// A terminal signal for the ringing incoming call dismisses the prompt.
	if m.slot.clear(sig.CallSessionID) {
		m.finishSession(sig.CallSessionID)
		m.hooks.incomingCanceled(sig.CallSessionID)
		m.setState(sig.CallSessionID, StateEnded)
		m.state = StateIdle
		m.log.Info("incoming call withdrawn",
			zap.String("session_id", sig.CallSessionID.String()),
			zap.String("type", string(sig.Type)))
		return
	}

	if m.active == nil || m.active.sessionID != sig.CallSessionID {
		return
	}

	m.active.ending = true
	reason := domain.ReasonEnded
	switch sig.Type {
	case domain.SignalDeclined:
		reason = domain.ReasonDeclined
		// Decliners do not patch the session; that is on us.
		m.patchEnded(sig.CallSessionID)
		m.appendSystem("Call declined")
	case domain.SignalCancel:
		reason = decodeTerminal(sig.Payload).Reason
		if reason == "" {
			reason = domain.ReasonCanceled
		}
	case domain.SignalBye:
		// The party that hung up patches the session and writes the
		// transcript message.
	}

	m.log.Info("call ended by remote",
		zap.String("session_id", sig.CallSessionID.String()),
		zap.String("type", string(sig.Type)))
	m.teardown(reason)
}

// ---- media events ------------------------------------------------------------

func (m *Machine) handleMediaEvent(ev media.Event) {
	if m.active == nil {
		return
	}

	switch ev.Kind {
	case media.EventICECandidate:
		payload, err := encodeICE(ev.Candidate)
		if err != nil {
			return
		}
		if err := m.publish(m.active.sessionID, domain.SignalICE, payload); err != nil {
			m.hooks.notice("failed to send a connectivity candidate")
		}

	case media.EventConnectionState:
		m.onConnState(ev.State)

	case media.EventRemoteTrack:
		m.log.Debug("remote track", zap.String("kind", ev.TrackKind))
	}
}

func (m *Machine) onConnState(state media.ConnState) {
	switch state {
	case media.ConnStateConnected:
		// startedAt is set exactly once; later reconnects keep the
		// original timestamp.
		if m.active.connectedOnce {
			return
		}
		m.active.connectedOnce = true
		m.active.startedAt = time.Now()
		m.stopRingTimer()

		ctx, cancel := m.opCtx()
		if err := m.store.MarkConnected(ctx, m.active.sessionID, m.active.startedAt); err != nil {
			m.log.Warn("failed to mark session connected", zap.Error(err))
		}
		cancel()

		metrics.CallsConnectedTotal.Inc()
		if m.active.role == RoleCaller {
			m.appendSystem("Call started")
		}
		m.setState(m.active.sessionID, StateConnected)
		m.log.Info("call connected", zap.String("session_id", m.active.sessionID.String()))

	case media.ConnStateDisconnected:
		m.hooks.notice("connection interrupted, trying to recover")

	case media.ConnStateFailed:
		m.log.Warn("media connection failed", zap.String("session_id", m.active.sessionID.String()))
		m.endActiveCall()

	case media.ConnStateClosed:
		if !m.active.ending {
			m.active.ending = true
			m.teardown(domain.ReasonEnded)
		}
	}
}

// ---- teardown ----------------------------------------------------------------

// endActiveCall is the local end path: publish BYE, patch the record, write
// the transcript line, then tear down. Used by HangUp, media failure and
// machine shutdown.
func (m *Machine) endActiveCall() {
	if m.active == nil || m.active.ending {
		return
	}
	m.active.ending = true
	sessionID := m.active.sessionID

	if err := m.publish(sessionID, domain.SignalBye, encodeTerminal(domain.ReasonEnded, time.Now())); err != nil {
		m.hooks.notice("could not notify the other party the call ended")
	}
	m.patchEnded(sessionID)

	if m.active.connectedOnce {
		m.appendSystem(fmt.Sprintf("Call ended (%s)", formatDuration(time.Since(m.active.startedAt))))
	} else {
		m.appendSystem("Call ended")
	}

	m.log.Info("call ended locally", zap.String("session_id", sessionID.String()))
	m.teardown(domain.ReasonEnded)
}

// teardown releases the active call. Safe to reach from any state; callers
// decide what was published and written beforehand.
func (m *Machine) teardown(reason string) {
	if m.active == nil {
		return
	}
	sessionID := m.active.sessionID

	m.stopRingTimer()
	if err := m.active.peer.Close(); err != nil {
		m.log.Debug("peer close", zap.Error(err))
	}

	if m.active.connectedOnce {
		metrics.CallDurationSeconds.Observe(time.Since(m.active.startedAt).Seconds())
	}
	metrics.CallsEndedTotal.WithLabelValues(reason).Inc()

	m.finishSession(sessionID)
	m.active = nil

	m.setState(sessionID, StateEnded)
	m.state = StateIdle
}

func (m *Machine) stopRingTimer() {
	if m.active != nil && m.active.ringTimer != nil {
		m.active.ringTimer.Stop()
		m.active.ringTimer = nil
	}
}

// finishSession marks a session as done with so that stragglers for it are
// dropped, and frees anything queued on its behalf.
func (m *Machine) finishSession(sessionID uuid.UUID) {
	if len(m.finished) >= rungHistory {
		m.finished = make(map[uuid.UUID]struct{})
	}
	m.finished[sessionID] = struct{}{}
	delete(m.pendingICE, sessionID)
}

// ---- helpers -------------------------------------------------------------------

func (m *Machine) publish(sessionID uuid.UUID, t domain.SignalType, payload string) error {
	ctx, cancel := m.opCtx()
	defer cancel()

	err := m.channel.Publish(ctx, &domain.CallSignal{
		ConversationID: m.cfg.ConversationID,
		CallSessionID:  sessionID,
		SenderID:       m.cfg.UserID,
		Type:           t,
		Payload:        payload,
	})
	if err != nil {
		m.log.Error("failed to publish signal",
			zap.String("type", string(t)),
			zap.String("session_id", sessionID.String()),
			zap.Error(err))
		return fmt.Errorf("failed to publish %s: %w", t, err)
	}
	return nil
}

func (m *Machine) patchEnded(sessionID uuid.UUID) {
	ctx, cancel := m.opCtx()
	defer cancel()
	if err := m.store.End(ctx, sessionID, time.Now()); err != nil {
		m.log.Warn("failed to patch session ended",
			zap.String("session_id", sessionID.String()),
			zap.Error(err))
	}
}

func (m *Machine) appendSystem(body string) {
	ctx, cancel := m.opCtx()
	defer cancel()
	if err := m.chat.AppendSystemMessage(ctx, m.cfg.ConversationID, body); err != nil {
		m.log.Warn("failed to append system message", zap.Error(err))
	}
}

func (m *Machine) setState(sessionID uuid.UUID, state State) {
	m.state = state
	m.hooks.stateChange(sessionID, state)
}

// formatDuration renders a call duration for the transcript, like "1m 5s".
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	mins := int(d.Minutes())
	secs := int(d.Seconds()) - mins*60
	return fmt.Sprintf("%dm %ds", mins, secs)
}
