package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"heartlink/internal/core/domain"

	"go.uber.org/zap"
)

// Session is one call with one peer, initiating or receiving. Every pion
// callback and every inbound envelope is translated into a guarded state
// transition under the session mutex; nothing mutates state from a callback
// directly.
//
// Lifecycle: idle → requesting (initiator) or ringing (receiver) →
// negotiating → connected → ended, with failed absorbing faults from any
// non-idle state.
type Session struct {
	Self domain.UserID
	Peer domain.UserID

	role   Role
	sig    Signaler
	perms  *PermissionManager
	newTransport TransportFactory
	logger *zap.SugaredLogger

	mu        sync.Mutex
	state     State
	media     *LocalMedia
	transport Transport
	// Candidates that arrived before the transport existed. Order
	// independent, duplicates tolerated.
	pendingCandidates []json.RawMessage
	ended             bool

	events  chan Event
	onClose func(*Session)
}

type sessionDeps struct {
	sig          Signaler
	perms        *PermissionManager
	newTransport TransportFactory
	logger       *zap.SugaredLogger
	onClose      func(*Session)
}

func newSession(self, peer domain.UserID, role Role, deps sessionDeps) *Session {
	state := StateIdle
	if role == RoleReceiver {
		state = StateRinging
	}
	return &Session{
		Self:         self,
		Peer:         peer,
		role:         role,
		sig:          deps.sig,
		perms:        deps.perms,
		newTransport: deps.newTransport,
		logger:       deps.logger,
		state:        state,
		events:       make(chan Event, 16),
		onClose:      deps.onClose,
	}
}

// Events is the session's outbound event stream for the UI layer.
func (s *Session) Events() <-chan Event {
	return s.events
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Active reports whether the session still occupies the one-call-at-a-time
// slot.
func (s *Session) Active() bool {
	switch s.State() {
	case StateRequesting, StateRinging, StateNegotiating, StateConnected:
		return true
	}
	return false
}

// Start sends the call-request. Initiator only; no media or transport is
// touched until the peer accepts.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.role != RoleInitiator {
		s.mu.Unlock()
		return errors.New("only the initiator starts a call")
	}
	if s.state != StateIdle {
		s.mu.Unlock()
		return fmt.Errorf("cannot start a call from state %s", s.state)
	}
	s.state = StateRequesting
	s.mu.Unlock()

	env, err := domain.NewEnvelope(domain.TypeCallRequest, s.Self, s.Peer, nil)
	if err != nil {
		return err
	}
	if err := s.sig.Send(env); err != nil {
		s.fail("could not reach the relay")
		return err
	}
	return nil
}

// Accept takes the ringing call. The permission gate runs before any accept
// is signaled: a denial blocks the call outright and the initiator sees a
// decline.
func (s *Session) Accept(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateRinging {
		s.mu.Unlock()
		return fmt.Errorf("cannot accept from state %s", s.state)
	}
	s.mu.Unlock()

	media, err := s.acquireMedia(ctx)
	if err != nil {
		s.sendResponse(false, "unavailable")
		s.fail("media unavailable")
		return err
	}

	s.mu.Lock()
	if s.state != StateRinging {
		s.mu.Unlock()
		media.Close()
		return errors.New("call ended while acquiring media")
	}
	s.state = StateNegotiating
	s.media = media
	s.mu.Unlock()

	if err := s.sendResponse(true, ""); err != nil {
		s.fail("could not reach the relay")
		return err
	}
	return nil
}

// Decline rejects the ringing call. Cheap: no media was acquired while
// ringing.
func (s *Session) Decline(reason string) error {
	s.mu.Lock()
	if s.state != StateRinging {
		s.mu.Unlock()
		return fmt.Errorf("cannot decline from state %s", s.state)
	}
	s.mu.Unlock()

	err := s.sendResponse(false, reason)
	s.teardown(EventEnded, "declined", false)
	return err
}

// End hangs up. Callable from any non-idle state; the second call and any
// racing transport callback are no-ops.
func (s *Session) End() {
	s.teardown(EventEnded, "hang up", true)
}

// ToggleAudio flips the microphone. No-op before media exists.
func (s *Session) ToggleAudio() bool {
	s.mu.Lock()
	media := s.media
	s.mu.Unlock()
	if media == nil {
		return false
	}
	return media.ToggleAudio()
}

// ToggleVideo flips the camera. No-op before media exists.
func (s *Session) ToggleVideo() bool {
	s.mu.Lock()
	media := s.media
	s.mu.Unlock()
	if media == nil {
		return false
	}
	return media.ToggleVideo()
}

// HandleSignal feeds one envelope from the relay into the state machine.
func (s *Session) HandleSignal(ctx context.Context, env domain.Envelope) {
	switch env.Type {
	case domain.TypeCallResponse:
		var payload domain.CallResponsePayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			s.logger.Warnw("malformed call-response", "peer", s.Peer, "error", err)
			return
		}
		s.handleResponse(ctx, payload)

	case domain.TypeOffer:
		s.handleOffer(ctx, env.Payload)

	case domain.TypeAnswer:
		s.handleAnswer(ctx, env.Payload)

	case domain.TypeICECandidate:
		s.handleCandidate(env.Payload)

	case domain.TypeHangUp:
		s.teardown(EventEnded, "peer hung up", false)

	case domain.TypeError:
		var payload domain.ErrorPayload
		_ = json.Unmarshal(env.Payload, &payload)
		s.fail(payload.Message)

	default:
		s.logger.Debugw("session ignoring envelope", "type", env.Type, "peer", s.Peer)
	}
}

// handleResponse moves the initiator out of requesting. Accept starts the
// negotiation pipeline; rejection drops back to idle with a rejected event
// and no resources to release.
func (s *Session) handleResponse(ctx context.Context, payload domain.CallResponsePayload) {
	s.mu.Lock()
	if s.state != StateRequesting {
		s.mu.Unlock()
		return
	}
	if !payload.Accepted {
		s.state = StateIdle
		s.mu.Unlock()
		s.emit(Event{Type: EventRejected, Peer: s.Peer, Reason: payload.Reason})
		return
	}
	s.state = StateNegotiating
	s.mu.Unlock()

	media, err := s.acquireMedia(ctx)
	if err != nil {
		s.fail("media unavailable")
		return
	}

	transport, err := s.createTransport(media)
	if err != nil {
		media.Close()
		s.fail("transport setup failed")
		return
	}

	sdp, err := transport.CreateOffer(ctx)
	if err != nil {
		s.fail("offer creation failed")
		return
	}

	env, err := domain.NewEnvelope(domain.TypeOffer, s.Self, s.Peer, sdpPayload{SDP: sdp})
	if err != nil {
		s.fail("offer encoding failed")
		return
	}
	if err := s.sig.Send(env); err != nil {
		s.fail("could not reach the relay")
	}
}

// handleOffer is the receiver's negotiation step: remote description in,
// transport up, answer out.
func (s *Session) handleOffer(ctx context.Context, raw json.RawMessage) {
	s.mu.Lock()
	if s.state != StateNegotiating || s.transport != nil {
		s.mu.Unlock()
		return
	}
	media := s.media
	s.mu.Unlock()

	var payload sdpPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		s.logger.Warnw("malformed offer", "peer", s.Peer, "error", err)
		return
	}

	transport, err := s.createTransport(media)
	if err != nil {
		s.fail("transport setup failed")
		return
	}

	answer, err := transport.AcceptOffer(ctx, payload.SDP)
	if err != nil {
		s.fail("negotiation failed")
		return
	}

	env, err := domain.NewEnvelope(domain.TypeAnswer, s.Self, s.Peer, sdpPayload{SDP: answer})
	if err != nil {
		s.fail("answer encoding failed")
		return
	}
	if err := s.sig.Send(env); err != nil {
		s.fail("could not reach the relay")
	}
}

func (s *Session) handleAnswer(ctx context.Context, raw json.RawMessage) {
	s.mu.Lock()
	transport := s.transport
	state := s.state
	s.mu.Unlock()

	if state != StateNegotiating || transport == nil {
		return
	}

	var payload sdpPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		s.logger.Warnw("malformed answer", "peer", s.Peer, "error", err)
		return
	}
	if err := transport.AcceptAnswer(ctx, payload.SDP); err != nil {
		s.fail("negotiation failed")
	}
}

// handleCandidate applies a remote candidate, buffering it if the transport
// does not exist yet. Bad or duplicate candidates are logged and dropped;
// they never kill the session.
func (s *Session) handleCandidate(raw json.RawMessage) {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	if s.transport == nil {
		s.pendingCandidates = append(s.pendingCandidates, raw)
		s.mu.Unlock()
		return
	}
	transport := s.transport
	s.mu.Unlock()

	if err := transport.AddICECandidate(raw); err != nil {
		s.logger.Debugw("dropping ice candidate", "peer", s.Peer, "error", err)
	}
}

// acquireMedia runs the permission gate and converts failures into the
// matching signal for the UI layer.
func (s *Session) acquireMedia(ctx context.Context) (*LocalMedia, error) {
	media, err := s.perms.Ensure(ctx)
	if err != nil {
		if errors.Is(err, ErrPermissionDenied) {
			s.emit(Event{Type: EventPermissionDenied, Peer: s.Peer,
				Reason: "camera and microphone access is required for calls"})
		} else {
			s.emit(Event{Type: EventMediaError, Peer: s.Peer, Reason: err.Error()})
		}
		return nil, err
	}
	return media, nil
}

// createTransport builds the peer connection, attaches the local tracks and
// wires its callbacks into the state machine, then flushes any buffered
// candidates.
func (s *Session) createTransport(media *LocalMedia) (Transport, error) {
	transport, err := s.newTransport()
	if err != nil {
		return nil, err
	}

	for _, track := range media.Tracks() {
		if err := transport.AddTrack(track); err != nil {
			transport.Close()
			return nil, err
		}
	}

	transport.OnICECandidate(func(candidate json.RawMessage) {
		env, err := domain.NewEnvelope(domain.TypeICECandidate, s.Self, s.Peer, candidate)
		if err != nil {
			return
		}
		if err := s.sig.Send(env); err != nil {
			s.logger.Debugw("candidate send failed", "peer", s.Peer, "error", err)
		}
	})
	transport.OnStateChange(s.onTransportState)

	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		transport.Close()
		return nil, errors.New("session already ended")
	}
	s.media = media
	s.transport = transport
	pending := s.pendingCandidates
	s.pendingCandidates = nil
	s.mu.Unlock()

	for _, candidate := range pending {
		if err := transport.AddICECandidate(candidate); err != nil {
			s.logger.Debugw("dropping buffered ice candidate", "peer", s.Peer, "error", err)
		}
	}
	return transport, nil
}

// onTransportState translates pion connection states into session
// transitions.
func (s *Session) onTransportState(state TransportState) {
	switch state {
	case TransportConnected:
		s.mu.Lock()
		if s.state != StateNegotiating {
			s.mu.Unlock()
			return
		}
		s.state = StateConnected
		s.mu.Unlock()
		s.emit(Event{Type: EventConnected, Peer: s.Peer})

	case TransportFailed:
		s.fail("peer connection failed")

	case TransportDisconnected, TransportClosed:
		s.teardown(EventEnded, "peer connection closed", false)
	}
}

func (s *Session) fail(reason string) {
	s.teardown(EventFailed, reason, true)
}

// teardown is the single exit path. The ended flag settles every race: the
// first caller wins, later calls and transport callbacks are no-ops, and
// exactly one terminal event is emitted.
func (s *Session) teardown(eventType EventType, reason string, sendHangUp bool) {
	s.mu.Lock()
	if s.ended || s.state == StateIdle {
		s.mu.Unlock()
		return
	}
	s.ended = true
	previous := s.state
	if eventType == EventFailed {
		s.state = StateFailed
	} else {
		s.state = StateEnded
	}
	transport := s.transport
	media := s.media
	s.transport = nil
	s.media = nil
	s.mu.Unlock()

	if sendHangUp && previous != StateEnded && previous != StateFailed {
		if env, err := domain.NewEnvelope(domain.TypeHangUp, s.Self, s.Peer, nil); err == nil {
			// Best effort: the relay may already be gone.
			_ = s.sig.Send(env)
		}
	}

	if transport != nil {
		transport.Close()
	}
	if media != nil {
		media.Close()
	}

	s.emit(Event{Type: eventType, Peer: s.Peer, Reason: reason})
	s.logger.Infow("call ended", "peer", s.Peer, "from_state", previous, "reason", reason)

	if s.onClose != nil {
		s.onClose(s)
	}
}

func (s *Session) sendResponse(accepted bool, reason string) error {
	env, err := domain.NewEnvelope(domain.TypeCallResponse, s.Self, s.Peer,
		domain.CallResponsePayload{Accepted: accepted, Reason: reason})
	if err != nil {
		return err
	}
	return s.sig.Send(env)
}

// emit never blocks: a UI that stopped draining loses events, not the call.
func (s *Session) emit(event Event) {
	select {
	case s.events <- event:
	default:
	}
}
