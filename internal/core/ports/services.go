package ports

import (
	"context"

	"quickchat/internal/core/domain"

	"github.com/pion/webrtc/v3"
)

// SignalEvent names the observable channel events.
type SignalEvent string

const (
	EventOpen         SignalEvent = "open"
	EventClose        SignalEvent = "close"
	EventError        SignalEvent = "error"
	EventOffer        SignalEvent = "offer"
	EventAnswer       SignalEvent = "answer"
	EventICECandidate SignalEvent = "iceCandidate"
	EventHangup       SignalEvent = "hangup"
)

// SignalHandler receives inbound frames for offer/answer/iceCandidate/hangup
// events. For open the message is nil; for close and error the message is nil
// and Err carries the cause on error.
type SignalHandler func(msg *domain.SignalMessage, err error)

// SignalingChannel transports call signaling over one persistent socket.
// Sends require the socket to be open; the caller checks or queues.
type SignalingChannel interface {
	Connect(ctx context.Context, user domain.UserID) error
	Disconnect() error
	Connected() bool

	SendOffer(to domain.UserID, callID domain.CallID, kind domain.MediaKind, offer webrtc.SessionDescription) error
	SendAnswer(to domain.UserID, callID domain.CallID, answer webrtc.SessionDescription) error
	SendICECandidate(to domain.UserID, callID domain.CallID, candidate webrtc.ICECandidateInit) error
	SendHangup(to domain.UserID, callID domain.CallID, reason domain.EndReason) error

	On(event SignalEvent, h SignalHandler) int
	Once(event SignalEvent, h SignalHandler) int
	Off(event SignalEvent, id int)
}

// LocalStream is a set of locally produced media tracks. Implementations own
// the underlying capture resources until Close.
type LocalStream interface {
	ID() string
	Tracks() []webrtc.TrackLocal
	AudioTrack() webrtc.TrackLocal
	VideoTrack() webrtc.TrackLocal

	AudioEnabled() bool
	VideoEnabled() bool
	SetAudioEnabled(enabled bool)
	SetVideoEnabled(enabled bool)

	StopKind(kind string)
	Close()
}

// MediaProvider acquires local media. It replaces the browser's scattered
// getUserMedia probing with one injected seam so tests can supply fakes.
type MediaProvider interface {
	Acquire(ctx context.Context, constraints domain.MediaConstraints) (LocalStream, error)
}

// PlatformProbe reports native API and codec availability for capability
// detection.
type PlatformProbe interface {
	HasPeerConnection() bool
	HasMediaDevices() bool
	HasMediaRecorder() bool
	HasScreenCapture() bool
	HasDataChannel() bool
	HasInsertableStreams() bool
	LogicalCores() int
	SupportedCodecs() domain.CodecSupport
}

// ConnectionFactory constructs peer connections with the capability-derived
// configuration applied. Pooled connections are never reconfigured afterwards.
type ConnectionFactory interface {
	NewPeerConnection(kind domain.MediaKind) (*webrtc.PeerConnection, error)
}

// CallObserver receives typed session lifecycle notifications. It replaces
// the original string-keyed event bus between the call layer and its
// consumers (UI, notifications).
type CallObserver interface {
	CallStarted(call *domain.Call)
	CallRinging(call *domain.Call)
	CallAccepted(call *domain.Call)
	CallRejected(call *domain.Call)
	CallEnded(record *domain.CallRecord)
	ConnectionStateChanged(callID domain.CallID, state webrtc.PeerConnectionState)
}

// CallService is the public API surface consumed by the UI layer.
type CallService interface {
	StartCall(ctx context.Context, peer domain.UserID, kind domain.MediaKind) (*domain.Call, error)
	AcceptCall(ctx context.Context, callID domain.CallID) error
	RejectCall(ctx context.Context, callID domain.CallID) error
	EndCall(ctx context.Context, reason domain.EndReason) error
	ToggleAudio() bool
	ToggleVideo() bool
	ChangeDevice(ctx context.Context, deviceID string) error
	Status() domain.CallStatus
	History(ctx context.Context, limit int) ([]*domain.CallRecord, error)
}
