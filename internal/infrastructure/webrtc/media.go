package webrtc

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync"

	"quickchat/internal/core/domain"
	"quickchat/internal/core/ports"
	"quickchat/pkg/utils"

	"github.com/pion/webrtc/v3"
)

// localStream owns the locally produced tracks for the lifetime of a call.
type localStream struct {
	id    string
	audio webrtc.TrackLocal
	video webrtc.TrackLocal

	mu           sync.RWMutex
	audioEnabled bool
	videoEnabled bool
	closed       bool
}

func (s *localStream) ID() string { return s.id }

func (s *localStream) Tracks() []webrtc.TrackLocal {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var tracks []webrtc.TrackLocal
	if s.audio != nil {
		tracks = append(tracks, s.audio)
	}
	if s.video != nil {
		tracks = append(tracks, s.video)
	}
	return tracks
}

func (s *localStream) AudioTrack() webrtc.TrackLocal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.audio
}

func (s *localStream) VideoTrack() webrtc.TrackLocal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.video
}

func (s *localStream) AudioEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.audioEnabled && s.audio != nil
}

func (s *localStream) VideoEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.videoEnabled && s.video != nil
}

func (s *localStream) SetAudioEnabled(enabled bool) {
	s.mu.Lock()
	s.audioEnabled = enabled
	s.mu.Unlock()
}

func (s *localStream) SetVideoEnabled(enabled bool) {
	s.mu.Lock()
	s.videoEnabled = enabled
	s.mu.Unlock()
}

// StopKind drops one track kind, used when downgrading video calls to audio.
func (s *localStream) StopKind(kind string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch kind {
	case "audio":
		s.audio = nil
		s.audioEnabled = false
	case "video":
		s.video = nil
		s.videoEnabled = false
	}
}

func (s *localStream) Close() {
	s.mu.Lock()
	s.audio = nil
	s.video = nil
	s.audioEnabled = false
	s.videoEnabled = false
	s.closed = true
	s.mu.Unlock()
}

// SampleMediaProvider builds sample-fed local tracks sourced from the host
// capture pipeline. The negotiated video codec follows the capability policy.
type SampleMediaProvider struct {
	policy domain.FallbackPolicy
}

func NewSampleMediaProvider(policy domain.FallbackPolicy) *SampleMediaProvider {
	return &SampleMediaProvider{policy: policy}
}

// Acquire implements ports.MediaProvider. Video requests are refused outright
// when the policy disables video rather than silently degraded.
func (p *SampleMediaProvider) Acquire(ctx context.Context, constraints domain.MediaConstraints) (ports.LocalStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !constraints.Audio && !constraints.Video {
		return nil, domain.ErrNoStreams
	}
	if constraints.Video && p.policy.DisableVideo {
		return nil, fmt.Errorf("video capture disabled by capability policy: %w", domain.ErrWebRTCUnsupported)
	}

	stream := &localStream{id: utils.GenerateStreamID()}

	if constraints.Audio {
		track, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
			"audio", stream.id,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create audio track: %w", err)
		}
		stream.audio = track
		stream.audioEnabled = true
	}

	if constraints.Video {
		track, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: p.videoMimeType()},
			"video", stream.id,
		)
		if err != nil {
			stream.Close()
			return nil, fmt.Errorf("failed to create video track: %w", err)
		}
		stream.video = track
		stream.videoEnabled = true
	}

	return stream, nil
}

func (p *SampleMediaProvider) videoMimeType() string {
	switch strings.ToUpper(p.policy.PreferredCodec) {
	case "H264":
		return webrtc.MimeTypeH264
	case "VP9":
		return webrtc.MimeTypeVP9
	default:
		return webrtc.MimeTypeVP8
	}
}

var _ ports.MediaProvider = (*SampleMediaProvider)(nil)

// RuntimeProbe answers capability questions for a native host running the
// full media stack. Everything the engine implements reports true; codec
// support mirrors the registered default codecs.
type RuntimeProbe struct{}

func NewRuntimeProbe() *RuntimeProbe { return &RuntimeProbe{} }

func (RuntimeProbe) HasPeerConnection() bool    { return true }
func (RuntimeProbe) HasMediaDevices() bool      { return true }
func (RuntimeProbe) HasMediaRecorder() bool     { return true }
func (RuntimeProbe) HasScreenCapture() bool     { return false }
func (RuntimeProbe) HasDataChannel() bool       { return true }
func (RuntimeProbe) HasInsertableStreams() bool { return false }
func (RuntimeProbe) LogicalCores() int          { return runtime.NumCPU() }

func (RuntimeProbe) SupportedCodecs() domain.CodecSupport {
	return domain.CodecSupport{
		H264: true,
		VP8:  true,
		VP9:  true,
		Opus: true,
	}
}

var _ ports.PlatformProbe = (*RuntimeProbe)(nil)
