package domain

import "encoding/json"

// MessageType tags a signaling envelope. Unknown types are rejected at the
// relay boundary, never forwarded.
type MessageType string

const (
	TypeRegister     MessageType = "register"
	TypeCallRequest  MessageType = "call-request"
	TypeCallResponse MessageType = "call-response"
	TypeOffer        MessageType = "offer"
	TypeAnswer       MessageType = "answer"
	TypeICECandidate MessageType = "ice-candidate"
	TypeHangUp       MessageType = "hang-up"

	TypeSpeedRollIncoming MessageType = "speed-roll-incoming"
	TypeSpeedRollAccepted MessageType = "speed-roll-accepted"
	TypeSpeedRollDeclined MessageType = "speed-roll-declined"
	TypeSpeedRollExpired  MessageType = "speed-roll-expired"

	TypeError MessageType = "error"
)

// Envelope is the wire format for every signaling message. Payload stays
// opaque for the negotiation types (offer, answer, ice-candidate): the relay
// forwards those bytes untouched.
type Envelope struct {
	Type    MessageType     `json:"type"`
	From    UserID          `json:"from,omitempty"`
	To      UserID          `json:"to,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope builds an envelope with a marshalled payload. Marshalling a
// payload type defined in this package cannot fail; the error return exists
// for callers passing arbitrary values.
func NewEnvelope(t MessageType, from, to UserID, payload interface{}) (Envelope, error) {
	env := Envelope{Type: t, From: from, To: to}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, err
		}
		env.Payload = data
	}
	return env, nil
}

// CallRequestPayload rides on a forwarded call-request so the receiver can
// render the inviter without a directory round-trip.
type CallRequestPayload struct {
	FromUser *User `json:"fromUser"`
}

// CallResponsePayload is the receiver's accept/decline answer.
type CallResponsePayload struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

// ErrorPayload is the relay's synthetic reply when routing fails.
type ErrorPayload struct {
	Message string `json:"message"`
	Target  UserID `json:"target,omitempty"`
}

type SpeedRollIncomingPayload struct {
	RollID             string  `json:"rollId"`
	FromUser           *User   `json:"fromUser"`
	CompatibilityScore float64 `json:"compatibilityScore"`
}

type SpeedRollAcceptedPayload struct {
	RollID     string `json:"rollId"`
	TargetUser *User  `json:"targetUser"`
}

type SpeedRollDeclinedPayload struct {
	RollID string `json:"rollId"`
}

type SpeedRollExpiredPayload struct {
	RollID string `json:"rollId"`
}
