package client

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"heartlink/internal/core/domain"

	"go.uber.org/zap"
)

// ErrBusy means a call is already in progress. One active session per
// client; concurrent invitations are rejected, not queued.
var ErrBusy = errors.New("a call is already in progress")

// IncomingCall is handed to the UI layer when a call-request arrives. The
// session is already ringing; the UI answers via Accept or Decline.
type IncomingCall struct {
	Session  *Session
	From     domain.UserID
	FromUser *domain.User
}

// SpeedRollNotice is a coordinator push surfaced to the UI layer.
type SpeedRollNotice struct {
	Type     domain.MessageType
	RollID   string
	FromUser *domain.User
	Score    float64
}

// Receiver is the inbound side of the signaling connection.
type Receiver interface {
	Receive() <-chan domain.Envelope
}

// Manager owns the active call session and bridges relay envelopes to it.
// Coupling to the connection is via Signaler + Receiver, so tests drive it
// with channels.
type Manager struct {
	self domain.UserID
	sig  Signaler
	recv Receiver

	perms        *PermissionManager
	newTransport TransportFactory
	logger       *zap.SugaredLogger

	mu       sync.RWMutex
	sessions map[domain.UserID]*Session

	handlersMu sync.RWMutex
	onIncoming []func(*IncomingCall)
	onRoll     []func(SpeedRollNotice)

	closeOnce sync.Once
	done      chan struct{}
}

// NewManager attaches to the signaling connection and starts dispatching
// immediately.
func NewManager(
	self domain.UserID,
	sig Signaler,
	recv Receiver,
	perms *PermissionManager,
	newTransport TransportFactory,
	logger *zap.SugaredLogger,
) *Manager {
	m := &Manager{
		self:         self,
		sig:          sig,
		recv:         recv,
		perms:        perms,
		newTransport: newTransport,
		logger:       logger,
		sessions:     make(map[domain.UserID]*Session),
		done:         make(chan struct{}),
	}
	go m.dispatchLoop()
	return m
}

// OnIncoming registers a handler fired for each incoming call-request.
func (m *Manager) OnIncoming(fn func(*IncomingCall)) {
	m.handlersMu.Lock()
	m.onIncoming = append(m.onIncoming, fn)
	m.handlersMu.Unlock()
}

// OnSpeedRoll registers a handler for coordinator pushes (incoming,
// accepted, declined, expired).
func (m *Manager) OnSpeedRoll(fn func(SpeedRollNotice)) {
	m.handlersMu.Lock()
	m.onRoll = append(m.onRoll, fn)
	m.handlersMu.Unlock()
}

// Call starts an outbound call to peer. Fails with ErrBusy while any
// session is active.
func (m *Manager) Call(ctx context.Context, peer domain.UserID) (*Session, error) {
	if peer == m.self {
		return nil, errors.New("cannot call yourself")
	}

	m.mu.Lock()
	if m.activeLocked() != nil {
		m.mu.Unlock()
		return nil, ErrBusy
	}
	sess := newSession(m.self, peer, RoleInitiator, m.sessionDeps())
	m.sessions[peer] = sess
	m.mu.Unlock()

	if err := sess.Start(ctx); err != nil {
		m.removeSession(sess)
		return nil, err
	}
	return sess, nil
}

// ActiveSession returns the session currently occupying the call slot, if
// any.
func (m *Manager) ActiveSession() *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeLocked()
}

// Close stops dispatching and ends any active call.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		close(m.done)
	})

	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[domain.UserID]*Session)
	m.mu.Unlock()

	for _, sess := range sessions {
		sess.End()
	}
}

func (m *Manager) activeLocked() *Session {
	for _, sess := range m.sessions {
		if sess.Active() {
			return sess
		}
	}
	return nil
}

func (m *Manager) sessionDeps() sessionDeps {
	return sessionDeps{
		sig:          m.sig,
		perms:        m.perms,
		newTransport: m.newTransport,
		logger:       m.logger,
		onClose:      m.removeSession,
	}
}

func (m *Manager) removeSession(sess *Session) {
	m.mu.Lock()
	if current, ok := m.sessions[sess.Peer]; ok && current == sess {
		delete(m.sessions, sess.Peer)
	}
	m.mu.Unlock()
}

func (m *Manager) dispatchLoop() {
	for {
		select {
		case <-m.done:
			return
		case env, ok := <-m.recv.Receive():
			if !ok {
				m.logger.Infow("signaling connection closed, stopping dispatch")
				return
			}
			m.dispatch(env)
		}
	}
}

func (m *Manager) dispatch(env domain.Envelope) {
	switch env.Type {
	case domain.TypeCallRequest:
		m.handleCallRequest(env)

	case domain.TypeCallResponse, domain.TypeOffer, domain.TypeAnswer,
		domain.TypeICECandidate, domain.TypeHangUp:
		m.routeToSession(env.From, env)

	case domain.TypeSpeedRollIncoming, domain.TypeSpeedRollAccepted,
		domain.TypeSpeedRollDeclined, domain.TypeSpeedRollExpired:
		m.handleSpeedRoll(env)

	case domain.TypeError:
		m.handleRelayError(env)

	default:
		m.logger.Debugw("ignoring envelope", "type", env.Type, "from", env.From)
	}
}

// handleCallRequest rings a new receiver session, or rejects with "busy"
// when a call is already in progress. Ringing costs nothing: no media, no
// transport until the user accepts.
func (m *Manager) handleCallRequest(env domain.Envelope) {
	m.mu.Lock()
	if m.activeLocked() != nil {
		m.mu.Unlock()
		m.rejectBusy(env.From)
		return
	}
	sess := newSession(m.self, env.From, RoleReceiver, m.sessionDeps())
	m.sessions[env.From] = sess
	m.mu.Unlock()

	var payload domain.CallRequestPayload
	if len(env.Payload) > 0 {
		_ = json.Unmarshal(env.Payload, &payload)
	}

	sess.emit(Event{Type: EventRinging, Peer: env.From})
	call := &IncomingCall{Session: sess, From: env.From, FromUser: payload.FromUser}

	m.handlersMu.RLock()
	handlers := m.onIncoming
	m.handlersMu.RUnlock()
	for _, fn := range handlers {
		fn(call)
	}
}

func (m *Manager) rejectBusy(peer domain.UserID) {
	env, err := domain.NewEnvelope(domain.TypeCallResponse, m.self, peer,
		domain.CallResponsePayload{Accepted: false, Reason: "busy"})
	if err != nil {
		return
	}
	if err := m.sig.Send(env); err != nil {
		m.logger.Debugw("busy reply failed", "peer", peer, "error", err)
	}
}

func (m *Manager) routeToSession(peer domain.UserID, env domain.Envelope) {
	m.mu.RLock()
	sess, ok := m.sessions[peer]
	m.mu.RUnlock()

	if !ok {
		m.logger.Debugw("no session for envelope", "type", env.Type, "from", peer)
		return
	}
	sess.HandleSignal(context.Background(), env)
}

func (m *Manager) handleSpeedRoll(env domain.Envelope) {
	notice := SpeedRollNotice{Type: env.Type}

	switch env.Type {
	case domain.TypeSpeedRollIncoming:
		var payload domain.SpeedRollIncomingPayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			m.logger.Warnw("malformed speed roll push", "error", err)
			return
		}
		notice.RollID = payload.RollID
		notice.FromUser = payload.FromUser
		notice.Score = payload.CompatibilityScore

	case domain.TypeSpeedRollAccepted:
		var payload domain.SpeedRollAcceptedPayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			return
		}
		notice.RollID = payload.RollID
		notice.FromUser = payload.TargetUser

	default:
		var payload domain.SpeedRollDeclinedPayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			return
		}
		notice.RollID = payload.RollID
	}

	m.handlersMu.RLock()
	handlers := m.onRoll
	m.handlersMu.RUnlock()
	for _, fn := range handlers {
		fn(notice)
	}
}

// handleRelayError forwards the relay's synthetic error to the session it
// concerns, if any.
func (m *Manager) handleRelayError(env domain.Envelope) {
	var payload domain.ErrorPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return
	}

	if payload.Target != "" {
		m.mu.RLock()
		sess, ok := m.sessions[payload.Target]
		m.mu.RUnlock()
		if ok {
			sess.HandleSignal(context.Background(), env)
			return
		}
	}
	m.logger.Warnw("relay error", "message", payload.Message, "target", payload.Target)
}
