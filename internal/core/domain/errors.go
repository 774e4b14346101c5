package domain

import "errors"

var (
	ErrCallActive        = errors.New("already in a call")
	ErrCallNotFound      = errors.New("call not found")
	ErrNotRinging        = errors.New("no incoming call to answer")
	ErrWebRTCUnsupported = errors.New("webrtc is not supported on this platform")
	ErrChannelClosed     = errors.New("signaling channel is not open")
	ErrConnectionClosed  = errors.New("peer connection is closed")
	ErrPoolClosed        = errors.New("connection pool is closed")
	ErrRecorderActive    = errors.New("recording already in progress")
	ErrNoStreams         = errors.New("no streams supplied")
	ErrUserOffline       = errors.New("user is not connected")
)
