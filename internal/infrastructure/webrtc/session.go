package webrtc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"quickchat/internal/core/domain"
	"quickchat/internal/core/ports"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// CallSession drives one call through its lifecycle. All transitions happen
// under the session mutex; async completions (media acquisition, negotiation,
// connection callbacks) re-check the epoch they started under and drop their
// result when the session moved on in the meantime.
type CallSession struct {
	pool      *ConnectionPool
	media     ports.MediaProvider
	channel   ports.SignalingChannel
	observers []ports.CallObserver
	onEnded   func(record *domain.CallRecord)
	logger    *zap.SugaredLogger

	chunkInterval time.Duration

	mu    sync.Mutex
	call  *domain.Call
	epoch uint64
	ended bool

	conn     *PooledConnection
	stream   ports.LocalStream
	recorder *CallRecorder

	remoteOffer       *webrtc.SessionDescription
	remoteSet         bool
	pendingCandidates []webrtc.ICECandidateInit
	hasRemoteMedia    bool
}

type sessionDeps struct {
	pool          *ConnectionPool
	media         ports.MediaProvider
	channel       ports.SignalingChannel
	observers     []ports.CallObserver
	onEnded       func(record *domain.CallRecord)
	chunkInterval time.Duration
	logger        *zap.Logger
}

func newOutgoingSession(deps sessionDeps, callID domain.CallID, peer domain.UserID, kind domain.MediaKind) *CallSession {
	return &CallSession{
		pool:          deps.pool,
		media:         deps.media,
		channel:       deps.channel,
		observers:     deps.observers,
		onEnded:       deps.onEnded,
		chunkInterval: deps.chunkInterval,
		logger:        deps.logger.Sugar(),
		call: &domain.Call{
			ID:        callID,
			Direction: domain.DirectionOutgoing,
			Peer:      peer,
			Kind:      kind,
			State:     domain.CallStateIdle,
		},
	}
}

func newIncomingSession(deps sessionDeps, callID domain.CallID, peer domain.UserID, kind domain.MediaKind, offer webrtc.SessionDescription) *CallSession {
	return &CallSession{
		pool:          deps.pool,
		media:         deps.media,
		channel:       deps.channel,
		observers:     deps.observers,
		onEnded:       deps.onEnded,
		chunkInterval: deps.chunkInterval,
		logger:        deps.logger.Sugar(),
		remoteOffer:   &offer,
		call: &domain.Call{
			ID:        callID,
			Direction: domain.DirectionIncoming,
			Peer:      peer,
			Kind:      kind,
			State:     domain.CallStateRinging,
		},
	}
}

// Call returns a copy of the session's call descriptor.
func (s *CallSession) Call() domain.Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.call
}

func (s *CallSession) state() domain.CallState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.call.State
}

// start runs the outgoing flow: acquire media, acquire a connection, attach
// tracks, negotiate the offer and send it to the peer.
func (s *CallSession) start(ctx context.Context) error {
	s.mu.Lock()
	if s.call.State != domain.CallStateIdle {
		s.mu.Unlock()
		return fmt.Errorf("cannot start call in state %s", s.call.State)
	}
	s.call.State = domain.CallStateConnecting
	s.epoch++
	epoch := s.epoch
	s.mu.Unlock()

	stream, err := s.media.Acquire(ctx, s.constraints())
	if err != nil {
		s.end(ctx, domain.EndReasonError)
		return fmt.Errorf("failed to acquire local media: %w", err)
	}

	s.mu.Lock()
	if s.ended || s.epoch != epoch {
		s.mu.Unlock()
		stream.Close()
		return domain.ErrCallNotFound
	}
	s.stream = stream
	s.mu.Unlock()

	conn, err := s.attachConnection()
	if err != nil {
		s.end(ctx, domain.EndReasonError)
		return err
	}

	offer, err := conn.PC().CreateOffer(nil)
	if err != nil {
		s.end(ctx, domain.EndReasonError)
		return fmt.Errorf("failed to create offer: %w", err)
	}
	if err := conn.PC().SetLocalDescription(offer); err != nil {
		s.end(ctx, domain.EndReasonError)
		return fmt.Errorf("failed to set local description: %w", err)
	}

	if err := s.channel.SendOffer(s.call.Peer, s.call.ID, s.call.Kind, offer); err != nil {
		s.end(ctx, domain.EndReasonError)
		return fmt.Errorf("failed to send offer: %w", err)
	}

	// Observers learn about the call only once its offer is on the wire;
	// starts that fail before that point never announce themselves.
	s.notify(func(o ports.CallObserver) { o.CallStarted(s.snapshot()) })

	s.logger.Infow("call offer sent", "call_id", s.call.ID, "peer", s.call.Peer, "kind", s.call.Kind)
	return nil
}

// accept runs the incoming flow after the user picks up.
func (s *CallSession) accept(ctx context.Context) error {
	s.mu.Lock()
	if s.call.State != domain.CallStateRinging {
		s.mu.Unlock()
		return domain.ErrNotRinging
	}
	s.call.State = domain.CallStateConnecting
	s.epoch++
	epoch := s.epoch
	offer := s.remoteOffer
	s.mu.Unlock()

	stream, err := s.media.Acquire(ctx, s.constraints())
	if err != nil {
		s.end(ctx, domain.EndReasonError)
		return fmt.Errorf("failed to acquire local media: %w", err)
	}

	s.mu.Lock()
	if s.ended || s.epoch != epoch {
		s.mu.Unlock()
		stream.Close()
		return domain.ErrCallNotFound
	}
	s.stream = stream
	s.mu.Unlock()

	conn, err := s.attachConnection()
	if err != nil {
		s.end(ctx, domain.EndReasonError)
		return err
	}

	if err := conn.PC().SetRemoteDescription(*offer); err != nil {
		s.end(ctx, domain.EndReasonError)
		return fmt.Errorf("failed to set remote offer: %w", err)
	}
	s.markRemoteSet(conn)

	answer, err := conn.PC().CreateAnswer(nil)
	if err != nil {
		s.end(ctx, domain.EndReasonError)
		return fmt.Errorf("failed to create answer: %w", err)
	}
	if err := conn.PC().SetLocalDescription(answer); err != nil {
		s.end(ctx, domain.EndReasonError)
		return fmt.Errorf("failed to set local description: %w", err)
	}

	if err := s.channel.SendAnswer(s.call.Peer, s.call.ID, answer); err != nil {
		s.end(ctx, domain.EndReasonError)
		return fmt.Errorf("failed to send answer: %w", err)
	}

	s.notify(func(o ports.CallObserver) { o.CallAccepted(s.snapshot()) })
	s.logger.Infow("call accepted", "call_id", s.call.ID, "peer", s.call.Peer)
	return nil
}

// reject declines a ringing incoming call without acquiring any media.
func (s *CallSession) reject(ctx context.Context) error {
	s.mu.Lock()
	if s.call.State != domain.CallStateRinging {
		s.mu.Unlock()
		return domain.ErrNotRinging
	}
	s.mu.Unlock()

	if err := s.channel.SendHangup(s.call.Peer, s.call.ID, domain.EndReasonRejected); err != nil {
		s.logger.Warnw("failed to send reject", "call_id", s.call.ID, "error", err)
	}

	s.notify(func(o ports.CallObserver) { o.CallRejected(s.snapshot()) })
	s.finalize(domain.EndReasonRejected)
	return nil
}

// end tears the session down. It is idempotent: the first call wins, later
// calls are no-ops, and exactly one history record is produced.
func (s *CallSession) end(ctx context.Context, reason domain.EndReason) {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	notifyPeer := s.call.State == domain.CallStateConnecting || s.call.State == domain.CallStateConnected ||
		(s.call.State == domain.CallStateRinging && reason == domain.EndReasonUserEnded)
	s.mu.Unlock()

	if notifyPeer && reason != domain.EndReasonRemoteEnded && s.channel.Connected() {
		if err := s.channel.SendHangup(s.call.Peer, s.call.ID, reason); err != nil {
			s.logger.Warnw("failed to send hangup", "call_id", s.call.ID, "error", err)
		}
	}

	s.finalize(reason)
}

// finalize performs the single teardown: recorder drain, media release,
// connection return, history record, observer notification.
func (s *CallSession) finalize(reason domain.EndReason) {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	s.epoch++
	s.call.State = domain.CallStateEnded
	s.call.EndedAt = time.Now()
	s.call.EndReason = reason

	conn := s.conn
	stream := s.stream
	recorder := s.recorder
	s.conn = nil
	s.stream = nil
	s.recorder = nil
	s.pendingCandidates = nil
	record := domain.NewCallRecord(s.call, s.call.EndedAt, reason)
	s.mu.Unlock()

	if recorder != nil && recorder.Active() {
		// Drain the pending blob so stop-at-hangup still delivers a result.
		<-recorder.Stop()
	}
	if stream != nil {
		stream.Close()
	}
	if conn != nil {
		s.pool.Release(conn)
	}

	if s.onEnded != nil {
		s.onEnded(record)
	}
	s.notify(func(o ports.CallObserver) { o.CallEnded(record) })

	s.logger.Infow("call ended",
		"call_id", record.CallID,
		"peer", record.Peer,
		"reason", record.EndReason,
		"duration", record.Duration,
	)
}

// attachConnection acquires the pooled connection and wires its callbacks.
// Caller must have stored the local stream first.
func (s *CallSession) attachConnection() (*PooledConnection, error) {
	conn, err := s.pool.Acquire(s.call.Kind, s.call.Peer)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}

	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		s.pool.Release(conn)
		return nil, domain.ErrCallNotFound
	}
	s.conn = conn
	stream := s.stream
	epoch := s.epoch
	s.mu.Unlock()

	pc := conn.PC()

	for _, track := range stream.Tracks() {
		if _, err := pc.AddTrack(track); err != nil {
			return nil, fmt.Errorf("failed to add local track: %w", err)
		}
	}

	pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			return
		}
		if s.isStale(epoch) {
			return
		}
		if err := s.channel.SendICECandidate(s.call.Peer, s.call.ID, candidate.ToJSON()); err != nil {
			s.logger.Debugw("failed to send ice candidate", "call_id", s.call.ID, "error", err)
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		if s.isStale(epoch) {
			return
		}
		s.handleConnectionState(state)
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if s.isStale(epoch) {
			return
		}
		s.handleRemoteTrack(track)
	})

	return conn, nil
}

func (s *CallSession) handleConnectionState(state webrtc.PeerConnectionState) {
	s.notify(func(o ports.CallObserver) { o.ConnectionStateChanged(s.call.ID, state) })

	switch state {
	case webrtc.PeerConnectionStateConnected:
		s.mu.Lock()
		if s.ended || s.call.State == domain.CallStateConnected {
			s.mu.Unlock()
			return
		}
		s.call.State = domain.CallStateConnected
		s.call.StartedAt = time.Now()
		s.mu.Unlock()
		s.logger.Infow("call connected", "call_id", s.call.ID, "peer", s.call.Peer)

	case webrtc.PeerConnectionStateFailed:
		s.end(context.Background(), domain.EndReasonConnectionLost)
	}
}

func (s *CallSession) handleRemoteTrack(track *webrtc.TrackRemote) {
	s.mu.Lock()
	s.hasRemoteMedia = true
	recorder := s.recorder
	s.mu.Unlock()

	s.logger.Debugw("remote track received",
		"call_id", s.call.ID,
		"track", track.ID(),
		"kind", track.Kind().String(),
	)

	if recorder != nil {
		recorder.AddTrack(NewRemoteRecordTrack(track))
	}
}

// handleAnswer completes the outgoing negotiation. Stale answers for a call
// the session no longer runs are dropped.
func (s *CallSession) handleAnswer(answer webrtc.SessionDescription) error {
	s.mu.Lock()
	if s.ended || s.call.State != domain.CallStateConnecting || s.conn == nil {
		s.mu.Unlock()
		return domain.ErrCallNotFound
	}
	conn := s.conn
	s.mu.Unlock()

	if err := conn.PC().SetRemoteDescription(answer); err != nil {
		s.end(context.Background(), domain.EndReasonError)
		return fmt.Errorf("failed to set remote answer: %w", err)
	}

	s.markRemoteSet(conn)
	return nil
}

// handleCandidate applies a remote candidate, buffering it when the remote
// description has not been set yet.
func (s *CallSession) handleCandidate(candidate webrtc.ICECandidateInit) error {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return nil
	}
	if !s.remoteSet || s.conn == nil {
		s.pendingCandidates = append(s.pendingCandidates, candidate)
		s.mu.Unlock()
		return nil
	}
	conn := s.conn
	s.mu.Unlock()

	if err := conn.PC().AddICECandidate(candidate); err != nil {
		return fmt.Errorf("failed to add ice candidate: %w", err)
	}
	return nil
}

// markRemoteSet flushes candidates buffered before the remote description
// arrived.
func (s *CallSession) markRemoteSet(conn *PooledConnection) {
	s.mu.Lock()
	s.remoteSet = true
	pending := s.pendingCandidates
	s.pendingCandidates = nil
	s.mu.Unlock()

	for _, candidate := range pending {
		if err := conn.PC().AddICECandidate(candidate); err != nil {
			s.logger.Debugw("failed to add buffered candidate", "call_id", s.call.ID, "error", err)
		}
	}
}

func (s *CallSession) toggleAudio() bool {
	s.mu.Lock()
	stream := s.stream
	s.mu.Unlock()
	if stream == nil {
		return false
	}
	next := !stream.AudioEnabled()
	stream.SetAudioEnabled(next)
	return next
}

func (s *CallSession) toggleVideo() bool {
	s.mu.Lock()
	stream := s.stream
	s.mu.Unlock()
	if stream == nil || !s.call.Kind.HasVideo() {
		return false
	}
	next := !stream.VideoEnabled()
	stream.SetVideoEnabled(next)
	return next
}

// changeDevice swaps the capture source mid-call by acquiring a new stream
// and replacing the sender tracks in place, so no renegotiation is needed.
func (s *CallSession) changeDevice(ctx context.Context, deviceID string) error {
	s.mu.Lock()
	if s.ended || s.conn == nil {
		s.mu.Unlock()
		return domain.ErrCallNotFound
	}
	conn := s.conn
	old := s.stream
	epoch := s.epoch
	s.mu.Unlock()

	constraints := s.constraints()
	constraints.DeviceID = deviceID

	stream, err := s.media.Acquire(ctx, constraints)
	if err != nil {
		return fmt.Errorf("failed to acquire media from device %q: %w", deviceID, err)
	}

	s.mu.Lock()
	if s.ended || s.epoch != epoch {
		s.mu.Unlock()
		stream.Close()
		return domain.ErrCallNotFound
	}
	s.stream = stream
	s.mu.Unlock()

	for _, sender := range conn.PC().GetSenders() {
		current := sender.Track()
		if current == nil {
			continue
		}
		var replacement webrtc.TrackLocal
		switch current.Kind() {
		case webrtc.RTPCodecTypeAudio:
			replacement = stream.AudioTrack()
		case webrtc.RTPCodecTypeVideo:
			replacement = stream.VideoTrack()
		}
		if replacement == nil {
			continue
		}
		if err := sender.ReplaceTrack(replacement); err != nil {
			return fmt.Errorf("failed to replace track: %w", err)
		}
	}

	if old != nil {
		old.Close()
	}

	s.logger.Infow("capture device changed", "call_id", s.call.ID, "device", deviceID)
	return nil
}

// ensureRecorder lazily creates the recorder bound to this session's
// connection.
func (s *CallSession) ensureRecorder() *CallRecorder {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ended {
		return nil
	}
	if s.recorder == nil {
		var writer RTCPWriter
		if s.conn != nil {
			pc := s.conn.PC()
			writer = func(pkts []rtcp.Packet) error { return pc.WriteRTCP(pkts) }
		}
		s.recorder = NewCallRecorder(s.call.ID, s.chunkInterval, writer, s.logger.Desugar())
	}
	return s.recorder
}

func (s *CallSession) status() domain.CallStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	call := *s.call
	status := domain.CallStatus{
		Active:         !s.ended,
		HasLocalMedia:  s.stream != nil,
		HasRemoteMedia: s.hasRemoteMedia,
		Call:           &call,
	}
	if s.stream != nil {
		status.AudioEnabled = s.stream.AudioEnabled()
		status.VideoEnabled = s.stream.VideoEnabled()
	}
	if s.recorder != nil {
		status.RecordingActive = s.recorder.Active()
	}
	return status
}

func (s *CallSession) constraints() domain.MediaConstraints {
	return domain.MediaConstraints{
		Audio: true,
		Video: s.call.Kind.HasVideo(),
	}
}

func (s *CallSession) isStale(epoch uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended || s.epoch != epoch
}

func (s *CallSession) snapshot() *domain.Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	call := *s.call
	return &call
}

func (s *CallSession) notify(fn func(o ports.CallObserver)) {
	for _, o := range s.observers {
		fn(o)
	}
}
