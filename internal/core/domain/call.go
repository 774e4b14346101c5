package domain

import "time"

type CallID string
type UserID string

type MediaKind string

const (
	MediaKindAudio      MediaKind = "audio"
	MediaKindVideo      MediaKind = "video"
	MediaKindGroupVideo MediaKind = "group-video"
)

// HasVideo reports whether the kind carries a video track.
func (k MediaKind) HasVideo() bool {
	return k == MediaKindVideo || k == MediaKindGroupVideo
}

type CallDirection string

const (
	DirectionOutgoing CallDirection = "outgoing"
	DirectionIncoming CallDirection = "incoming"
)

type CallState string

const (
	CallStateIdle       CallState = "idle"
	CallStateConnecting CallState = "connecting"
	CallStateRinging    CallState = "ringing"
	CallStateConnected  CallState = "connected"
	CallStateEnded      CallState = "ended"
)

type EndReason string

const (
	EndReasonUserEnded      EndReason = "user-ended"
	EndReasonRemoteEnded    EndReason = "remote-ended"
	EndReasonRejected       EndReason = "rejected"
	EndReasonConnectionLost EndReason = "connection-lost"
	EndReasonError          EndReason = "error"
)

// Call describes one call owned by the session manager. It is mutated only
// through session transitions and discarded after teardown.
type Call struct {
	ID        CallID
	Direction CallDirection
	Peer      UserID
	Kind      MediaKind
	State     CallState
	StartedAt time.Time
	EndedAt   time.Time
	EndReason EndReason
}

// CallRecord is the history entry produced once per ended call.
type CallRecord struct {
	CallID    CallID        `json:"call_id"`
	Direction CallDirection `json:"direction"`
	Peer      UserID        `json:"peer"`
	Kind      MediaKind     `json:"kind"`
	StartedAt time.Time     `json:"started_at"`
	EndedAt   time.Time     `json:"ended_at"`
	Duration  time.Duration `json:"duration"`
	EndReason EndReason     `json:"end_reason"`
}

// NewCallRecord builds the history entry for an ended call. The duration is
// clamped to zero when the call never reached connected and has no start time.
func NewCallRecord(call *Call, endedAt time.Time, reason EndReason) *CallRecord {
	var duration time.Duration
	if !call.StartedAt.IsZero() {
		duration = endedAt.Sub(call.StartedAt)
		if duration < 0 {
			duration = 0
		}
	}
	return &CallRecord{
		CallID:    call.ID,
		Direction: call.Direction,
		Peer:      call.Peer,
		Kind:      call.Kind,
		StartedAt: call.StartedAt,
		EndedAt:   endedAt,
		Duration:  duration,
		EndReason: reason,
	}
}

// CallStatus is the read-only descriptor exposed to the UI layer.
type CallStatus struct {
	Active          bool
	AudioEnabled    bool
	VideoEnabled    bool
	HasLocalMedia   bool
	HasRemoteMedia  bool
	RecordingActive bool
	Call            *Call
}

type MediaConstraints struct {
	Audio    bool
	Video    bool
	DeviceID string
	// MaxHeight caps the requested video resolution. Zero means no cap.
	MaxHeight int
}
