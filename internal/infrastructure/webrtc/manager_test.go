package webrtc

import (
	"context"
	"sync"
	"testing"
	"time"

	"quickchat/internal/core/domain"
	"quickchat/internal/core/ports"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type sentFrame struct {
	frameType string
	to        domain.UserID
	callID    domain.CallID
	kind      domain.MediaKind
	offer     webrtc.SessionDescription
	reason    domain.EndReason
}

// fakeChannel captures outbound frames and lets tests inject inbound ones
// through the registered handlers.
type fakeChannel struct {
	mu           sync.Mutex
	connected    bool
	disconnected bool
	handlers     map[ports.SignalEvent][]ports.SignalHandler
	frames       []sentFrame
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{handlers: make(map[ports.SignalEvent][]ports.SignalHandler)}
}

func (c *fakeChannel) Connect(ctx context.Context, user domain.UserID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = true
	return nil
}

func (c *fakeChannel) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	c.disconnected = true
	return nil
}

func (c *fakeChannel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeChannel) record(frame sentFrame) {
	c.mu.Lock()
	c.frames = append(c.frames, frame)
	c.mu.Unlock()
}

func (c *fakeChannel) SendOffer(to domain.UserID, callID domain.CallID, kind domain.MediaKind, offer webrtc.SessionDescription) error {
	c.record(sentFrame{frameType: "offer", to: to, callID: callID, kind: kind, offer: offer})
	return nil
}

func (c *fakeChannel) SendAnswer(to domain.UserID, callID domain.CallID, answer webrtc.SessionDescription) error {
	c.record(sentFrame{frameType: "answer", to: to, callID: callID, offer: answer})
	return nil
}

func (c *fakeChannel) SendICECandidate(to domain.UserID, callID domain.CallID, candidate webrtc.ICECandidateInit) error {
	c.record(sentFrame{frameType: "candidate", to: to, callID: callID})
	return nil
}

func (c *fakeChannel) SendHangup(to domain.UserID, callID domain.CallID, reason domain.EndReason) error {
	c.record(sentFrame{frameType: "hangup", to: to, callID: callID, reason: reason})
	return nil
}

func (c *fakeChannel) On(event ports.SignalEvent, h ports.SignalHandler) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[event] = append(c.handlers[event], h)
	return len(c.handlers[event])
}

func (c *fakeChannel) Once(event ports.SignalEvent, h ports.SignalHandler) int {
	return c.On(event, h)
}

func (c *fakeChannel) Off(event ports.SignalEvent, id int) {}

func (c *fakeChannel) emit(event ports.SignalEvent, msg *domain.SignalMessage, err error) {
	c.mu.Lock()
	handlers := append([]ports.SignalHandler(nil), c.handlers[event]...)
	c.mu.Unlock()
	for _, h := range handlers {
		h(msg, err)
	}
}

func (c *fakeChannel) sentFrames(frameType string) []sentFrame {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []sentFrame
	for _, f := range c.frames {
		if f.frameType == frameType {
			out = append(out, f)
		}
	}
	return out
}

// fakeStream carries one real audio track so AddTrack works against a live
// peer connection.
type fakeStream struct {
	audio   webrtc.TrackLocal
	mu      sync.Mutex
	audioOn bool
	videoOn bool
	closed  bool
}

func newFakeStream(t *testing.T) *fakeStream {
	t.Helper()
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio", "local",
	)
	require.NoError(t, err)
	return &fakeStream{audio: track, audioOn: true, videoOn: true}
}

func (s *fakeStream) ID() string                    { return "local" }
func (s *fakeStream) Tracks() []webrtc.TrackLocal   { return []webrtc.TrackLocal{s.audio} }
func (s *fakeStream) AudioTrack() webrtc.TrackLocal { return s.audio }
func (s *fakeStream) VideoTrack() webrtc.TrackLocal { return nil }

func (s *fakeStream) AudioEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audioOn
}

func (s *fakeStream) VideoEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.videoOn
}

func (s *fakeStream) SetAudioEnabled(enabled bool) {
	s.mu.Lock()
	s.audioOn = enabled
	s.mu.Unlock()
}

func (s *fakeStream) SetVideoEnabled(enabled bool) {
	s.mu.Lock()
	s.videoOn = enabled
	s.mu.Unlock()
}

func (s *fakeStream) StopKind(kind string) {}

func (s *fakeStream) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func (s *fakeStream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type fakeMedia struct {
	t        *testing.T
	mu       sync.Mutex
	acquires int
	fail     bool
	streams  []*fakeStream
}

func (m *fakeMedia) Acquire(ctx context.Context, constraints domain.MediaConstraints) (ports.LocalStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acquires++
	if m.fail {
		return nil, assert.AnError
	}
	stream := newFakeStream(m.t)
	m.streams = append(m.streams, stream)
	return stream, nil
}

func (m *fakeMedia) acquireCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.acquires
}

// gatedMedia blocks Acquire until the test releases it, so teardown can race
// an in-flight start deterministically.
type gatedMedia struct {
	inner   *fakeMedia
	entered chan struct{}
	release chan struct{}
}

func (m *gatedMedia) Acquire(ctx context.Context, constraints domain.MediaConstraints) (ports.LocalStream, error) {
	m.entered <- struct{}{}
	<-m.release
	return m.inner.Acquire(ctx, constraints)
}

type historyStub struct {
	mu      sync.Mutex
	records []*domain.CallRecord
}

func (h *historyStub) Record(ctx context.Context, record *domain.CallRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, record)
	return nil
}

func (h *historyStub) List(ctx context.Context, limit int) ([]*domain.CallRecord, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*domain.CallRecord(nil), h.records...), nil
}

func (h *historyStub) all() []*domain.CallRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*domain.CallRecord(nil), h.records...)
}

type eventObserver struct {
	mu       sync.Mutex
	started  []domain.CallID
	ringing  []domain.CallID
	accepted []domain.CallID
	rejected []domain.CallID
	ended    []*domain.CallRecord
}

func (o *eventObserver) CallStarted(call *domain.Call) {
	o.mu.Lock()
	o.started = append(o.started, call.ID)
	o.mu.Unlock()
}

func (o *eventObserver) CallRinging(call *domain.Call) {
	o.mu.Lock()
	o.ringing = append(o.ringing, call.ID)
	o.mu.Unlock()
}

func (o *eventObserver) CallAccepted(call *domain.Call) {
	o.mu.Lock()
	o.accepted = append(o.accepted, call.ID)
	o.mu.Unlock()
}

func (o *eventObserver) CallRejected(call *domain.Call) {
	o.mu.Lock()
	o.rejected = append(o.rejected, call.ID)
	o.mu.Unlock()
}

func (o *eventObserver) CallEnded(record *domain.CallRecord) {
	o.mu.Lock()
	o.ended = append(o.ended, record)
	o.mu.Unlock()
}

func (o *eventObserver) ConnectionStateChanged(callID domain.CallID, state webrtc.PeerConnectionState) {}

type managerFixture struct {
	manager  *CallSessionManager
	channel  *fakeChannel
	media    *fakeMedia
	history  *historyStub
	observer *eventObserver
}

func capableProfile() domain.CapabilityProfile {
	return domain.CapabilityProfile{
		Browser:       domain.BrowserChrome,
		WebRTC:        true,
		MediaDevices:  true,
		MediaRecorder: true,
		DataChannel:   true,
		Codecs:        domain.CodecSupport{VP8: true, Opus: true},
	}
}

func newManagerFixture(t *testing.T, profile domain.CapabilityProfile) *managerFixture {
	t.Helper()

	channel := newFakeChannel()
	media := &fakeMedia{t: t}
	history := &historyStub{}
	observer := &eventObserver{}

	pool := NewConnectionPool(&countingFactory{}, testPoolConfig(), zap.NewNop())

	manager := NewCallSessionManager(profile, channel, pool, media, history,
		ManagerConfig{ChunkInterval: 10 * time.Millisecond}, zap.NewNop())
	manager.AddObserver(observer)

	t.Cleanup(func() { manager.Shutdown(context.Background()) })

	return &managerFixture{
		manager:  manager,
		channel:  channel,
		media:    media,
		history:  history,
		observer: observer,
	}
}

func initManager(t *testing.T, f *managerFixture) {
	t.Helper()
	require.NoError(t, f.manager.Init(context.Background(), "alice"))
}

// remoteOffer builds a real SDP offer from a scratch peer connection.
func remoteOffer(t *testing.T) webrtc.SessionDescription {
	t.Helper()
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	require.NoError(t, err)
	defer pc.Close()

	_, err = pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio)
	require.NoError(t, err)

	offer, err := pc.CreateOffer(nil)
	require.NoError(t, err)
	return offer
}

func offerMessage(t *testing.T, from domain.UserID, callID domain.CallID, kind domain.MediaKind) *domain.SignalMessage {
	t.Helper()
	offer := remoteOffer(t)
	return &domain.SignalMessage{
		Type:   domain.SignalOffer,
		From:   from,
		CallID: callID,
		Kind:   kind,
		Offer:  &domain.SessionPayload{Type: offer.Type.String(), SDP: offer.SDP},
	}
}

func TestInitFailsWithoutWebRTC(t *testing.T) {
	profile := capableProfile()
	profile.WebRTC = false
	f := newManagerFixture(t, profile)

	err := f.manager.Init(context.Background(), "alice")
	assert.ErrorIs(t, err, domain.ErrWebRTCUnsupported)
	assert.False(t, f.channel.Connected())
}

func TestInitConnectsChannel(t *testing.T) {
	f := newManagerFixture(t, capableProfile())
	initManager(t, f)

	assert.True(t, f.channel.Connected())
}

func TestStartCallSendsOffer(t *testing.T) {
	f := newManagerFixture(t, capableProfile())
	initManager(t, f)

	call, err := f.manager.StartCall(context.Background(), "bob", domain.MediaKindAudio)
	require.NoError(t, err)
	require.NotNil(t, call)
	assert.Equal(t, domain.UserID("bob"), call.Peer)
	assert.Equal(t, domain.CallStateConnecting, call.State)
	assert.Equal(t, 1, f.media.acquireCount())

	offers := f.channel.sentFrames("offer")
	require.Len(t, offers, 1)
	assert.Equal(t, domain.UserID("bob"), offers[0].to)
	assert.Equal(t, call.ID, offers[0].callID)
	assert.Equal(t, domain.MediaKindAudio, offers[0].kind)
	assert.NotEmpty(t, offers[0].offer.SDP)

	assert.Equal(t, []domain.CallID{call.ID}, f.observer.started)

	status := f.manager.Status()
	assert.True(t, status.Active)
	assert.True(t, status.HasLocalMedia)
}

// orderObserver records how many offers were already on the wire when
// CallStarted fired.
type orderObserver struct {
	eventObserver
	channel       *fakeChannel
	offersAtStart int
}

func (o *orderObserver) CallStarted(call *domain.Call) {
	o.offersAtStart = len(o.channel.sentFrames("offer"))
	o.eventObserver.CallStarted(call)
}

func TestCallStartedFollowsOfferEmission(t *testing.T) {
	f := newManagerFixture(t, capableProfile())
	ordered := &orderObserver{channel: f.channel}
	f.manager.AddObserver(ordered)
	initManager(t, f)

	call, err := f.manager.StartCall(context.Background(), "bob", domain.MediaKindAudio)
	require.NoError(t, err)

	assert.Equal(t, 1, ordered.offersAtStart)
	assert.Equal(t, []domain.CallID{call.ID}, ordered.started)
}

func TestCallStartedNotEmittedWhenMediaFails(t *testing.T) {
	f := newManagerFixture(t, capableProfile())
	initManager(t, f)
	f.media.fail = true

	_, err := f.manager.StartCall(context.Background(), "bob", domain.MediaKindAudio)
	require.Error(t, err)
	assert.Empty(t, f.observer.started)
}

func TestStartCallWhileBusyFailsBeforeMedia(t *testing.T) {
	f := newManagerFixture(t, capableProfile())
	initManager(t, f)

	_, err := f.manager.StartCall(context.Background(), "bob", domain.MediaKindAudio)
	require.NoError(t, err)

	_, err = f.manager.StartCall(context.Background(), "carol", domain.MediaKindAudio)
	assert.ErrorIs(t, err, domain.ErrCallActive)
	assert.Equal(t, 1, f.media.acquireCount())
}

func TestStartCallDowngradesVideoWhenDisabled(t *testing.T) {
	profile := capableProfile()
	profile.Policy.DisableVideo = true
	f := newManagerFixture(t, profile)
	initManager(t, f)

	call, err := f.manager.StartCall(context.Background(), "bob", domain.MediaKindVideo)
	require.NoError(t, err)
	assert.Equal(t, domain.MediaKindAudio, call.Kind)
}

func TestStartCallMediaFailureTearsDown(t *testing.T) {
	f := newManagerFixture(t, capableProfile())
	initManager(t, f)
	f.media.fail = true

	_, err := f.manager.StartCall(context.Background(), "bob", domain.MediaKindAudio)
	require.Error(t, err)

	// The slot is free again and the failure produced one history record.
	records := f.history.all()
	require.Len(t, records, 1)
	assert.Equal(t, domain.EndReasonError, records[0].EndReason)

	f.media.fail = false
	_, err = f.manager.StartCall(context.Background(), "carol", domain.MediaKindAudio)
	assert.NoError(t, err)
}

func TestEndCallIsIdempotent(t *testing.T) {
	f := newManagerFixture(t, capableProfile())
	initManager(t, f)

	call, err := f.manager.StartCall(context.Background(), "bob", domain.MediaKindAudio)
	require.NoError(t, err)

	require.NoError(t, f.manager.EndCall(context.Background(), domain.EndReasonUserEnded))
	require.NoError(t, f.manager.EndCall(context.Background(), domain.EndReasonUserEnded))

	records := f.history.all()
	require.Len(t, records, 1)
	assert.Equal(t, call.ID, records[0].CallID)
	assert.Equal(t, domain.EndReasonUserEnded, records[0].EndReason)

	hangups := f.channel.sentFrames("hangup")
	assert.Len(t, hangups, 1)

	require.Len(t, f.media.streams, 1)
	assert.True(t, f.media.streams[0].isClosed())
	assert.False(t, f.manager.Status().Active)
	require.Len(t, f.observer.ended, 1)
}

func TestHangupDuringMediaAcquisitionDiscardsStaleResult(t *testing.T) {
	channel := newFakeChannel()
	media := &gatedMedia{
		inner:   &fakeMedia{t: t},
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	history := &historyStub{}
	factory := &countingFactory{}
	pool := NewConnectionPool(factory, testPoolConfig(), zap.NewNop())

	manager := NewCallSessionManager(capableProfile(), channel, pool, media, history,
		ManagerConfig{ChunkInterval: 10 * time.Millisecond}, zap.NewNop())
	t.Cleanup(func() { manager.Shutdown(context.Background()) })
	require.NoError(t, manager.Init(context.Background(), "alice"))

	startErr := make(chan error, 1)
	go func() {
		_, err := manager.StartCall(context.Background(), "bob", domain.MediaKindAudio)
		startErr <- err
	}()

	// Hang up while the start is parked inside media acquisition.
	<-media.entered
	require.NoError(t, manager.EndCall(context.Background(), domain.EndReasonUserEnded))
	close(media.release)

	assert.ErrorIs(t, <-startErr, domain.ErrCallNotFound)

	// The stream that resolved after teardown was closed and no connection
	// was acquired for the superseded start.
	require.Len(t, media.inner.streams, 1)
	assert.True(t, media.inner.streams[0].isClosed())
	assert.Equal(t, 0, factory.constructed)
	active, _ := pool.Stats()
	assert.Equal(t, 0, active)

	assert.Empty(t, channel.sentFrames("offer"))
	require.Len(t, history.all(), 1)
	assert.False(t, manager.Status().Active)
}

func TestIncomingOfferRingsObservers(t *testing.T) {
	f := newManagerFixture(t, capableProfile())
	initManager(t, f)

	f.channel.emit(ports.EventOffer, offerMessage(t, "bob", "call-in-1", domain.MediaKindAudio), nil)

	assert.Equal(t, []domain.CallID{"call-in-1"}, f.observer.ringing)
	status := f.manager.Status()
	assert.True(t, status.Active)
	assert.Equal(t, domain.CallStateRinging, status.Call.State)
	assert.Equal(t, domain.DirectionIncoming, status.Call.Direction)
}

func TestIncomingOfferDefaultsToAudioKind(t *testing.T) {
	f := newManagerFixture(t, capableProfile())
	initManager(t, f)

	f.channel.emit(ports.EventOffer, offerMessage(t, "bob", "call-in-1", ""), nil)

	assert.Equal(t, domain.MediaKindAudio, f.manager.Status().Call.Kind)
}

func TestIncomingOfferWhileBusyAutoRejects(t *testing.T) {
	f := newManagerFixture(t, capableProfile())
	initManager(t, f)

	call, err := f.manager.StartCall(context.Background(), "bob", domain.MediaKindAudio)
	require.NoError(t, err)

	f.channel.emit(ports.EventOffer, offerMessage(t, "carol", "call-in-2", domain.MediaKindAudio), nil)

	hangups := f.channel.sentFrames("hangup")
	require.Len(t, hangups, 1)
	assert.Equal(t, domain.UserID("carol"), hangups[0].to)
	assert.Equal(t, domain.CallID("call-in-2"), hangups[0].callID)
	assert.Equal(t, domain.EndReasonRejected, hangups[0].reason)

	// The active call is untouched.
	assert.Equal(t, call.ID, f.manager.Status().Call.ID)
	assert.Empty(t, f.observer.ringing)
}

func TestAcceptCall(t *testing.T) {
	f := newManagerFixture(t, capableProfile())
	initManager(t, f)

	f.channel.emit(ports.EventOffer, offerMessage(t, "bob", "call-in-1", domain.MediaKindAudio), nil)

	require.NoError(t, f.manager.AcceptCall(context.Background(), "call-in-1"))

	answers := f.channel.sentFrames("answer")
	require.Len(t, answers, 1)
	assert.Equal(t, domain.UserID("bob"), answers[0].to)
	assert.NotEmpty(t, answers[0].offer.SDP)

	assert.Equal(t, []domain.CallID{"call-in-1"}, f.observer.accepted)
	assert.Equal(t, 1, f.media.acquireCount())
}

func TestAcceptCallUnknownID(t *testing.T) {
	f := newManagerFixture(t, capableProfile())
	initManager(t, f)

	err := f.manager.AcceptCall(context.Background(), "no-such-call")
	assert.ErrorIs(t, err, domain.ErrCallNotFound)
}

func TestAcceptCallNotRinging(t *testing.T) {
	f := newManagerFixture(t, capableProfile())
	initManager(t, f)

	call, err := f.manager.StartCall(context.Background(), "bob", domain.MediaKindAudio)
	require.NoError(t, err)

	err = f.manager.AcceptCall(context.Background(), call.ID)
	assert.ErrorIs(t, err, domain.ErrNotRinging)
}

func TestRejectCall(t *testing.T) {
	f := newManagerFixture(t, capableProfile())
	initManager(t, f)

	f.channel.emit(ports.EventOffer, offerMessage(t, "bob", "call-in-1", domain.MediaKindAudio), nil)

	require.NoError(t, f.manager.RejectCall(context.Background(), "call-in-1"))

	hangups := f.channel.sentFrames("hangup")
	require.Len(t, hangups, 1)
	assert.Equal(t, domain.EndReasonRejected, hangups[0].reason)

	// No media was ever acquired for the declined call.
	assert.Equal(t, 0, f.media.acquireCount())
	assert.Equal(t, []domain.CallID{"call-in-1"}, f.observer.rejected)

	records := f.history.all()
	require.Len(t, records, 1)
	assert.Equal(t, domain.EndReasonRejected, records[0].EndReason)
	assert.False(t, f.manager.Status().Active)
}

func TestRemoteHangupEndsCall(t *testing.T) {
	f := newManagerFixture(t, capableProfile())
	initManager(t, f)

	call, err := f.manager.StartCall(context.Background(), "bob", domain.MediaKindAudio)
	require.NoError(t, err)

	f.channel.emit(ports.EventHangup, &domain.SignalMessage{
		Type:   domain.SignalHangup,
		From:   "bob",
		CallID: call.ID,
	}, nil)

	records := f.history.all()
	require.Len(t, records, 1)
	assert.Equal(t, domain.EndReasonRemoteEnded, records[0].EndReason)

	// A remote hangup is never echoed back.
	assert.Empty(t, f.channel.sentFrames("hangup"))
}

func TestRemoteRejectNotifiesObservers(t *testing.T) {
	f := newManagerFixture(t, capableProfile())
	initManager(t, f)

	call, err := f.manager.StartCall(context.Background(), "bob", domain.MediaKindAudio)
	require.NoError(t, err)

	f.channel.emit(ports.EventHangup, &domain.SignalMessage{
		Type:   domain.SignalHangup,
		From:   "bob",
		CallID: call.ID,
		Hangup: &domain.HangupPayload{Reason: domain.EndReasonRejected},
	}, nil)

	assert.Equal(t, []domain.CallID{call.ID}, f.observer.rejected)

	records := f.history.all()
	require.Len(t, records, 1)
	assert.Equal(t, domain.EndReasonRejected, records[0].EndReason)
}

func TestHangupForUnknownCallIgnored(t *testing.T) {
	f := newManagerFixture(t, capableProfile())
	initManager(t, f)

	call, err := f.manager.StartCall(context.Background(), "bob", domain.MediaKindAudio)
	require.NoError(t, err)

	f.channel.emit(ports.EventHangup, &domain.SignalMessage{
		Type:   domain.SignalHangup,
		From:   "carol",
		CallID: "some-other-call",
	}, nil)

	assert.True(t, f.manager.Status().Active)
	assert.Equal(t, call.ID, f.manager.Status().Call.ID)
}

func TestEarlyCandidatesAreBuffered(t *testing.T) {
	f := newManagerFixture(t, capableProfile())
	initManager(t, f)

	call, err := f.manager.StartCall(context.Background(), "bob", domain.MediaKindAudio)
	require.NoError(t, err)

	mid := "0"
	f.channel.emit(ports.EventICECandidate, &domain.SignalMessage{
		Type:      domain.SignalICECandidate,
		From:      "bob",
		CallID:    call.ID,
		Candidate: &domain.CandidatePayload{Candidate: "candidate:1 1 UDP 1 127.0.0.1 9 typ host", SDPMid: &mid},
	}, nil)

	session := f.manager.current()
	require.NotNil(t, session)
	session.mu.Lock()
	buffered := len(session.pendingCandidates)
	remoteSet := session.remoteSet
	session.mu.Unlock()

	assert.Equal(t, 1, buffered)
	assert.False(t, remoteSet)
}

func TestAnswerFlushesBufferedCandidates(t *testing.T) {
	f := newManagerFixture(t, capableProfile())
	initManager(t, f)

	call, err := f.manager.StartCall(context.Background(), "bob", domain.MediaKindAudio)
	require.NoError(t, err)

	mid := "0"
	f.channel.emit(ports.EventICECandidate, &domain.SignalMessage{
		Type:      domain.SignalICECandidate,
		From:      "bob",
		CallID:    call.ID,
		Candidate: &domain.CandidatePayload{Candidate: "candidate:1 1 UDP 1 127.0.0.1 9 typ host", SDPMid: &mid},
	}, nil)

	// Answer the sent offer from a scratch peer.
	offers := f.channel.sentFrames("offer")
	require.Len(t, offers, 1)

	peer, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	require.NoError(t, err)
	defer peer.Close()
	require.NoError(t, peer.SetRemoteDescription(offers[0].offer))
	answer, err := peer.CreateAnswer(nil)
	require.NoError(t, err)

	f.channel.emit(ports.EventAnswer, &domain.SignalMessage{
		Type:   domain.SignalAnswer,
		From:   "bob",
		CallID: call.ID,
		Answer: &domain.SessionPayload{Type: answer.Type.String(), SDP: answer.SDP},
	}, nil)

	session := f.manager.current()
	require.NotNil(t, session)
	session.mu.Lock()
	buffered := len(session.pendingCandidates)
	remoteSet := session.remoteSet
	session.mu.Unlock()

	assert.True(t, remoteSet)
	assert.Equal(t, 0, buffered)
}

func TestChannelDownEndsCallAsConnectionLost(t *testing.T) {
	f := newManagerFixture(t, capableProfile())
	initManager(t, f)

	_, err := f.manager.StartCall(context.Background(), "bob", domain.MediaKindAudio)
	require.NoError(t, err)

	f.channel.emit(ports.EventError, nil, assert.AnError)

	records := f.history.all()
	require.Len(t, records, 1)
	assert.Equal(t, domain.EndReasonConnectionLost, records[0].EndReason)
	assert.False(t, f.manager.Status().Active)
}

func TestToggleAudio(t *testing.T) {
	f := newManagerFixture(t, capableProfile())
	initManager(t, f)

	assert.False(t, f.manager.ToggleAudio())

	_, err := f.manager.StartCall(context.Background(), "bob", domain.MediaKindAudio)
	require.NoError(t, err)

	// Audio starts enabled, so the first toggle mutes.
	assert.False(t, f.manager.ToggleAudio())
	assert.True(t, f.manager.ToggleAudio())
}

func TestToggleVideoOnAudioCall(t *testing.T) {
	f := newManagerFixture(t, capableProfile())
	initManager(t, f)

	_, err := f.manager.StartCall(context.Background(), "bob", domain.MediaKindAudio)
	require.NoError(t, err)

	assert.False(t, f.manager.ToggleVideo())
}

func TestStartRecordingWithoutCall(t *testing.T) {
	f := newManagerFixture(t, capableProfile())
	initManager(t, f)

	assert.ErrorIs(t, f.manager.StartRecording(), domain.ErrCallNotFound)
}

func TestStartRecordingWithoutRemoteMedia(t *testing.T) {
	f := newManagerFixture(t, capableProfile())
	initManager(t, f)

	_, err := f.manager.StartCall(context.Background(), "bob", domain.MediaKindAudio)
	require.NoError(t, err)

	assert.ErrorIs(t, f.manager.StartRecording(), domain.ErrNoStreams)
}

func TestHistoryPassesThrough(t *testing.T) {
	f := newManagerFixture(t, capableProfile())
	initManager(t, f)

	_, err := f.manager.StartCall(context.Background(), "bob", domain.MediaKindAudio)
	require.NoError(t, err)
	require.NoError(t, f.manager.EndCall(context.Background(), domain.EndReasonUserEnded))

	records, err := f.manager.History(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestShutdownEndsCallAndDisconnects(t *testing.T) {
	f := newManagerFixture(t, capableProfile())
	initManager(t, f)

	_, err := f.manager.StartCall(context.Background(), "bob", domain.MediaKindAudio)
	require.NoError(t, err)

	f.manager.Shutdown(context.Background())

	assert.False(t, f.channel.Connected())
	assert.True(t, f.channel.disconnected)
	require.Len(t, f.history.all(), 1)
}
