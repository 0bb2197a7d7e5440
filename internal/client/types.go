// Package client is the peer-side call library: the signaling connection,
// the device permission manager, local media with mute toggles, and the
// call session state machine. It is coupled to the relay via the Signaler
// interface only, so every piece is testable with fakes.
package client

import (
	"context"
	"encoding/json"
	"errors"

	"heartlink/internal/core/domain"
)

// State is the call session lifecycle state.
type State string

const (
	StateIdle        State = "idle"
	StateRequesting  State = "requesting"
	StateRinging     State = "ringing"
	StateNegotiating State = "negotiating"
	StateConnected   State = "connected"
	StateEnded       State = "ended"
	StateFailed      State = "failed"
)

// Role distinguishes who dialed.
type Role string

const (
	RoleInitiator Role = "initiator"
	RoleReceiver  Role = "receiver"
)

// PermissionState tracks device-capability consent for camera/microphone.
// It only moves via explicit checks or grant attempts and never regresses
// from granted automatically.
type PermissionState string

const (
	PermissionUnknown PermissionState = "unknown"
	PermissionPrompt  PermissionState = "prompt"
	PermissionGranted PermissionState = "granted"
	PermissionDenied  PermissionState = "denied"
)

// EventType labels session events surfaced to the notification/UI layer.
type EventType string

const (
	EventRinging          EventType = "ringing"
	EventRejected         EventType = "rejected"
	EventConnected        EventType = "connected"
	EventEnded            EventType = "ended"
	EventFailed           EventType = "failed"
	EventPermissionDenied EventType = "permission-denied"
	EventMediaError       EventType = "media-error"
)

// Event is what the session emits instead of rendering anything itself.
type Event struct {
	Type   EventType
	Peer   domain.UserID
	Reason string
}

// Device acquisition failure classes. Denial moves the permission state to
// denied; the others leave it untouched.
var (
	ErrPermissionDenied = errors.New("device permission denied")
	ErrDeviceNotFound   = errors.New("capture device not found")
	ErrDeviceBusy       = errors.New("capture device busy")
)

// Signaler sends envelopes to the relay. Conn is the production
// implementation.
type Signaler interface {
	Send(env domain.Envelope) error
}

// Track is one local media track the session can mute or unmute.
type Track interface {
	Kind() string
	SetEnabled(enabled bool)
}

// MediaDevices is the platform capture layer. Check reports consent without
// prompting; Acquire opens microphone and camera, prompting if the platform
// requires it.
type MediaDevices interface {
	Check(ctx context.Context) PermissionState
	Acquire(ctx context.Context) ([]Track, error)
}

// TransportState mirrors the peer connection lifecycle.
type TransportState string

const (
	TransportConnecting   TransportState = "connecting"
	TransportConnected    TransportState = "connected"
	TransportDisconnected TransportState = "disconnected"
	TransportFailed       TransportState = "failed"
	TransportClosed       TransportState = "closed"
)

// Transport is the media peer connection. Candidates travel as raw JSON so
// the session never parses ICE internals.
type Transport interface {
	AddTrack(t Track) error
	CreateOffer(ctx context.Context) (string, error)
	// AcceptOffer sets the remote offer and returns the local answer SDP.
	AcceptOffer(ctx context.Context, sdp string) (string, error)
	AcceptAnswer(ctx context.Context, sdp string) error
	AddICECandidate(candidate json.RawMessage) error
	OnICECandidate(fn func(candidate json.RawMessage))
	OnStateChange(fn func(state TransportState))
	Close() error
}

// TransportFactory builds one transport per negotiation attempt.
type TransportFactory func() (Transport, error)

// sdpPayload is the offer/answer wire payload. The relay forwards it
// verbatim and never sees this type.
type sdpPayload struct {
	SDP string `json:"sdp"`
}
