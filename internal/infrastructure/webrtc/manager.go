package webrtc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"quickchat/internal/core/domain"
	"quickchat/internal/core/ports"
	"quickchat/pkg/utils"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// HistoryRecorder persists one entry per ended call and serves history reads.
type HistoryRecorder interface {
	Record(ctx context.Context, record *domain.CallRecord) error
	List(ctx context.Context, limit int) ([]*domain.CallRecord, error)
}

// ManagerConfig carries the session manager tunables.
type ManagerConfig struct {
	ChunkInterval time.Duration
}

// CallSessionManager owns at most one call session at a time and is the
// single consumer of the signaling channel. It implements ports.CallService.
type CallSessionManager struct {
	profile domain.CapabilityProfile
	channel ports.SignalingChannel
	pool    *ConnectionPool
	media   ports.MediaProvider
	history HistoryRecorder
	config  ManagerConfig
	logger  *zap.SugaredLogger
	zlogger *zap.Logger

	mu        sync.Mutex
	session   *CallSession
	observers []ports.CallObserver
	started   bool
}

func NewCallSessionManager(
	profile domain.CapabilityProfile,
	channel ports.SignalingChannel,
	pool *ConnectionPool,
	media ports.MediaProvider,
	history HistoryRecorder,
	config ManagerConfig,
	log *zap.Logger,
) *CallSessionManager {
	return &CallSessionManager{
		profile: profile,
		channel: channel,
		pool:    pool,
		media:   media,
		history: history,
		config:  config,
		logger:  log.Sugar(),
		zlogger: log,
	}
}

// AddObserver registers a lifecycle observer. Observers added after Init
// still receive events for subsequent calls.
func (m *CallSessionManager) AddObserver(o ports.CallObserver) {
	m.mu.Lock()
	m.observers = append(m.observers, o)
	m.mu.Unlock()
}

// Init validates platform support, connects the signaling channel and
// registers the inbound handlers. WebRTC being unavailable is fatal: there is
// no degraded call mode, only the messaging fallback outside this subsystem.
func (m *CallSessionManager) Init(ctx context.Context, user domain.UserID) error {
	if !m.profile.WebRTC {
		return domain.ErrWebRTCUnsupported
	}

	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = true
	m.mu.Unlock()

	m.channel.On(ports.EventOffer, func(msg *domain.SignalMessage, _ error) {
		m.handleOffer(msg)
	})
	m.channel.On(ports.EventAnswer, func(msg *domain.SignalMessage, _ error) {
		m.handleAnswer(msg)
	})
	m.channel.On(ports.EventICECandidate, func(msg *domain.SignalMessage, _ error) {
		m.handleCandidate(msg)
	})
	m.channel.On(ports.EventHangup, func(msg *domain.SignalMessage, _ error) {
		m.handleHangup(msg)
	})
	m.channel.On(ports.EventError, func(_ *domain.SignalMessage, err error) {
		m.handleChannelDown(err)
	})

	if err := m.channel.Connect(ctx, user); err != nil {
		return fmt.Errorf("failed to connect signaling channel: %w", err)
	}

	m.logger.Infow("call subsystem initialized",
		"user", user,
		"browser", m.profile.Browser,
		"force_relay", m.profile.Policy.ForceRelay,
		"video_disabled", m.profile.Policy.DisableVideo,
	)
	return nil
}

// StartCall begins an outgoing call. The busy check happens before any media
// acquisition so a second call attempt never touches capture devices.
func (m *CallSessionManager) StartCall(ctx context.Context, peer domain.UserID, kind domain.MediaKind) (*domain.Call, error) {
	if kind.HasVideo() && m.profile.Policy.DisableVideo {
		kind = domain.MediaKindAudio
	}

	m.mu.Lock()
	if m.session != nil {
		m.mu.Unlock()
		return nil, domain.ErrCallActive
	}
	session := newOutgoingSession(m.deps(), domain.CallID(utils.GenerateCallID()), peer, kind)
	m.session = session
	m.mu.Unlock()

	if err := session.start(ctx); err != nil {
		return nil, err
	}

	call := session.Call()
	return &call, nil
}

// AcceptCall answers the ringing incoming call.
func (m *CallSessionManager) AcceptCall(ctx context.Context, callID domain.CallID) error {
	session := m.current()
	if session == nil || session.Call().ID != callID {
		return domain.ErrCallNotFound
	}
	return session.accept(ctx)
}

// RejectCall declines the ringing incoming call.
func (m *CallSessionManager) RejectCall(ctx context.Context, callID domain.CallID) error {
	session := m.current()
	if session == nil || session.Call().ID != callID {
		return domain.ErrCallNotFound
	}
	return session.reject(ctx)
}

// EndCall hangs up the current call. Calling it with no active call is a
// no-op, matching the idempotent teardown contract.
func (m *CallSessionManager) EndCall(ctx context.Context, reason domain.EndReason) error {
	session := m.current()
	if session == nil {
		return nil
	}
	session.end(ctx, reason)
	return nil
}

func (m *CallSessionManager) ToggleAudio() bool {
	if session := m.current(); session != nil {
		return session.toggleAudio()
	}
	return false
}

func (m *CallSessionManager) ToggleVideo() bool {
	if session := m.current(); session != nil {
		return session.toggleVideo()
	}
	return false
}

func (m *CallSessionManager) ChangeDevice(ctx context.Context, deviceID string) error {
	session := m.current()
	if session == nil {
		return domain.ErrCallNotFound
	}
	return session.changeDevice(ctx, deviceID)
}

// StartRecording begins capturing the current call's remote media.
func (m *CallSessionManager) StartRecording() error {
	session := m.current()
	if session == nil {
		return domain.ErrCallNotFound
	}
	recorder := session.ensureRecorder()
	if recorder == nil {
		return domain.ErrCallNotFound
	}
	return recorder.Start()
}

// StopRecording ends the in-progress recording and returns the channel that
// delivers the final blob.
func (m *CallSessionManager) StopRecording() (<-chan *domain.RecordingResult, error) {
	session := m.current()
	if session == nil {
		return nil, domain.ErrCallNotFound
	}
	recorder := session.ensureRecorder()
	if recorder == nil {
		return nil, domain.ErrCallNotFound
	}
	return recorder.Stop(), nil
}

func (m *CallSessionManager) Status() domain.CallStatus {
	if session := m.current(); session != nil {
		return session.status()
	}
	return domain.CallStatus{}
}

func (m *CallSessionManager) History(ctx context.Context, limit int) ([]*domain.CallRecord, error) {
	if m.history == nil {
		return nil, nil
	}
	return m.history.List(ctx, limit)
}

// Profile exposes the capability profile the manager was built with.
func (m *CallSessionManager) Profile() domain.CapabilityProfile {
	return m.profile
}

// Shutdown ends any active call and disconnects signaling.
func (m *CallSessionManager) Shutdown(ctx context.Context) {
	if session := m.current(); session != nil {
		session.end(ctx, domain.EndReasonUserEnded)
	}
	if err := m.channel.Disconnect(); err != nil {
		m.logger.Warnw("error disconnecting signaling channel", "error", err)
	}
	m.pool.Close()
}

func (m *CallSessionManager) current() *CallSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

func (m *CallSessionManager) deps() sessionDeps {
	return sessionDeps{
		pool:          m.pool,
		media:         m.media,
		channel:       m.channel,
		observers:     m.observers,
		onEnded:       m.onSessionEnded,
		chunkInterval: m.config.ChunkInterval,
		logger:        m.zlogger,
	}
}

// onSessionEnded clears the active session slot and persists the record.
// Exactly one record per session reaches here because finalize runs once.
func (m *CallSessionManager) onSessionEnded(record *domain.CallRecord) {
	m.mu.Lock()
	m.session = nil
	m.mu.Unlock()

	if m.history != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.history.Record(ctx, record); err != nil {
			m.logger.Warnw("failed to persist call record", "call_id", record.CallID, "error", err)
		}
	}
}

// handleOffer creates a ringing incoming session. A second offer while busy
// is auto-rejected without disturbing the active call.
func (m *CallSessionManager) handleOffer(msg *domain.SignalMessage) {
	if msg == nil || msg.Offer == nil || msg.CallID == "" {
		return
	}

	m.mu.Lock()
	if m.session != nil {
		m.mu.Unlock()
		m.logger.Infow("busy, auto-rejecting incoming call", "call_id", msg.CallID, "from", msg.From)
		if err := m.channel.SendHangup(msg.From, msg.CallID, domain.EndReasonRejected); err != nil {
			m.logger.Warnw("failed to auto-reject", "call_id", msg.CallID, "error", err)
		}
		return
	}

	kind := msg.Kind
	if kind == "" {
		kind = domain.MediaKindAudio
	}
	if kind.HasVideo() && m.profile.Policy.DisableVideo {
		kind = domain.MediaKindAudio
	}

	offer := webrtc.SessionDescription{
		Type: webrtc.NewSDPType(msg.Offer.Type),
		SDP:  msg.Offer.SDP,
	}
	session := newIncomingSession(m.deps(), msg.CallID, msg.From, kind, offer)
	m.session = session
	m.mu.Unlock()

	m.logger.Infow("incoming call", "call_id", msg.CallID, "from", msg.From, "kind", kind)
	call := session.snapshot()
	for _, o := range m.observersCopy() {
		o.CallRinging(call)
	}
}

func (m *CallSessionManager) handleAnswer(msg *domain.SignalMessage) {
	if msg == nil || msg.Answer == nil {
		return
	}
	session := m.current()
	if session == nil || session.Call().ID != msg.CallID {
		m.logger.Debugw("dropping answer for unknown call", "call_id", msg.CallID)
		return
	}

	answer := webrtc.SessionDescription{
		Type: webrtc.NewSDPType(msg.Answer.Type),
		SDP:  msg.Answer.SDP,
	}
	if err := session.handleAnswer(answer); err != nil {
		m.logger.Debugw("failed to apply answer", "call_id", msg.CallID, "error", err)
	}
}

func (m *CallSessionManager) handleCandidate(msg *domain.SignalMessage) {
	if msg == nil || msg.Candidate == nil {
		return
	}
	session := m.current()
	if session == nil || session.Call().ID != msg.CallID {
		return
	}

	candidate := webrtc.ICECandidateInit{
		Candidate:     msg.Candidate.Candidate,
		SDPMid:        msg.Candidate.SDPMid,
		SDPMLineIndex: msg.Candidate.SDPMLineIndex,
	}
	if err := session.handleCandidate(candidate); err != nil {
		m.logger.Debugw("failed to apply candidate", "call_id", msg.CallID, "error", err)
	}
}

func (m *CallSessionManager) handleHangup(msg *domain.SignalMessage) {
	if msg == nil {
		return
	}
	session := m.current()
	if session == nil || session.Call().ID != msg.CallID {
		return
	}

	reason := domain.EndReasonRemoteEnded
	if msg.Hangup != nil && msg.Hangup.Reason == domain.EndReasonRejected {
		reason = domain.EndReasonRejected
		call := session.snapshot()
		for _, o := range m.observersCopy() {
			o.CallRejected(call)
		}
	}
	session.end(context.Background(), reason)
}

// handleChannelDown fires when the channel exhausted its reconnect budget.
// An in-flight call cannot survive without signaling, so it ends as lost.
func (m *CallSessionManager) handleChannelDown(err error) {
	m.logger.Warnw("signaling channel down", "error", err)
	if session := m.current(); session != nil {
		session.end(context.Background(), domain.EndReasonConnectionLost)
	}
}

func (m *CallSessionManager) observersCopy() []ports.CallObserver {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ports.CallObserver, len(m.observers))
	copy(out, m.observers)
	return out
}

var _ ports.CallService = (*CallSessionManager)(nil)
