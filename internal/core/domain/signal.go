package domain

type SignalType string

const (
	SignalOffer        SignalType = "offer"
	SignalAnswer       SignalType = "answer"
	SignalICECandidate SignalType = "iceCandidate"
	SignalHangup       SignalType = "hangup"
	SignalAuth         SignalType = "auth"
)

// SignalMessage is the JSON frame exchanged over the signaling socket. The
// type tag dispatches handling; there is no version field. Messages are
// transient and never persisted.
type SignalMessage struct {
	Type      SignalType        `json:"type"`
	From      UserID            `json:"from"`
	To        UserID            `json:"to,omitempty"`
	CallID    CallID            `json:"callId,omitempty"`
	Kind      MediaKind         `json:"kind,omitempty"`
	Offer     *SessionPayload   `json:"offer,omitempty"`
	Answer    *SessionPayload   `json:"answer,omitempty"`
	Candidate *CandidatePayload `json:"candidate,omitempty"`
	Hangup    *HangupPayload    `json:"hangup,omitempty"`
	Auth      *AuthPayload      `json:"auth,omitempty"`
}

// SessionPayload carries an SDP blob in the browser's RTCSessionDescription
// JSON shape.
type SessionPayload struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// CandidatePayload mirrors RTCIceCandidateInit.
type CandidatePayload struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

type HangupPayload struct {
	Reason EndReason `json:"reason,omitempty"`
}

type AuthPayload struct {
	Token string `json:"token,omitempty"`
}
