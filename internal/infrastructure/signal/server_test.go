package signal

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"quickchat/internal/core/domain"
	"quickchat/internal/core/ports"
	"quickchat/internal/core/services"
	"quickchat/internal/infrastructure/repositories/memory"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type serverFixture struct {
	relay    *Server
	auth     services.AuthService
	presence ports.PresenceRepository
	srv      *httptest.Server
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()

	auth := services.NewAuthService("test-secret", time.Hour)
	presence := memory.NewMemoryPresenceRepository()

	cfg := DefaultServerConfig()
	cfg.AuthTimeout = 2 * time.Second
	relay := NewServer(cfg, auth, presence, zap.NewNop())

	srv := httptest.NewServer(http.HandlerFunc(relay.HandleWebSocket))
	t.Cleanup(func() {
		relay.CloseAll()
		srv.Close()
	})

	return &serverFixture{relay: relay, auth: auth, presence: presence, srv: srv}
}

func (f *serverFixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	endpoint := "ws" + strings.TrimPrefix(f.srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(endpoint, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func (f *serverFixture) connectAs(t *testing.T, user domain.UserID) *websocket.Conn {
	t.Helper()
	conn := f.dial(t)

	token, err := f.auth.GenerateToken(user)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(&domain.SignalMessage{
		Type: domain.SignalAuth,
		Auth: &domain.AuthPayload{Token: token},
	}))

	require.Eventually(t, func() bool {
		return f.relay.IsConnected(user)
	}, 2*time.Second, 10*time.Millisecond)
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) *domain.SignalMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg domain.SignalMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return &msg
}

const offerSDP = "v=0\r\no=- 0 0 IN IP4 127.0.0.1\r\ns=-\r\nt=0 0\r\n"

func TestNonAuthFirstFrameDropsSocket(t *testing.T) {
	f := newServerFixture(t)
	conn := f.dial(t)

	require.NoError(t, conn.WriteJSON(&domain.SignalMessage{
		Type:   domain.SignalOffer,
		To:     "bob",
		CallID: "call-1",
		Offer:  &domain.SessionPayload{Type: "offer", SDP: offerSDP},
	}))

	frame := readFrame(t, conn)
	assert.Equal(t, domain.SignalType("error"), frame.Type)

	conn.SetReadDeadline(time.Now().Add(time.Second))
	var discard domain.SignalMessage
	assert.Error(t, conn.ReadJSON(&discard))
}

func TestInvalidTokenRejected(t *testing.T) {
	f := newServerFixture(t)
	conn := f.dial(t)

	require.NoError(t, conn.WriteJSON(&domain.SignalMessage{
		Type: domain.SignalAuth,
		Auth: &domain.AuthPayload{Token: "garbage"},
	}))

	frame := readFrame(t, conn)
	assert.Equal(t, domain.SignalType("error"), frame.Type)
	assert.False(t, f.relay.IsConnected("alice"))
}

func TestAuthenticatedUserIsTrackedOnline(t *testing.T) {
	f := newServerFixture(t)
	f.connectAs(t, "alice")

	online, err := f.presence.IsOnline(context.Background(), "alice")
	require.NoError(t, err)
	assert.True(t, online)
	assert.ElementsMatch(t, []domain.UserID{"alice"}, f.relay.ConnectedUsers())
}

func TestRoutingOverwritesSenderIdentity(t *testing.T) {
	f := newServerFixture(t)
	alice := f.connectAs(t, "alice")
	bob := f.connectAs(t, "bob")

	require.NoError(t, alice.WriteJSON(&domain.SignalMessage{
		Type:   domain.SignalOffer,
		From:   "mallory", // spoofed; the relay must replace it
		To:     "bob",
		CallID: "call-1",
		Kind:   domain.MediaKindAudio,
		Offer:  &domain.SessionPayload{Type: "offer", SDP: offerSDP},
	}))

	frame := readFrame(t, bob)
	assert.Equal(t, domain.SignalOffer, frame.Type)
	assert.Equal(t, domain.UserID("alice"), frame.From)
	assert.Equal(t, domain.CallID("call-1"), frame.CallID)
	require.NotNil(t, frame.Offer)
	assert.Equal(t, offerSDP, frame.Offer.SDP)
}

func TestHangupRoutesToAddressee(t *testing.T) {
	f := newServerFixture(t)
	alice := f.connectAs(t, "alice")
	bob := f.connectAs(t, "bob")

	require.NoError(t, alice.WriteJSON(&domain.SignalMessage{
		Type:   domain.SignalHangup,
		To:     "bob",
		CallID: "call-1",
		Hangup: &domain.HangupPayload{Reason: domain.EndReasonUserEnded},
	}))

	frame := readFrame(t, bob)
	assert.Equal(t, domain.SignalHangup, frame.Type)
	require.NotNil(t, frame.Hangup)
	assert.Equal(t, domain.EndReasonUserEnded, frame.Hangup.Reason)
}

func TestOfflineTargetReturnsError(t *testing.T) {
	f := newServerFixture(t)
	alice := f.connectAs(t, "alice")

	require.NoError(t, alice.WriteJSON(&domain.SignalMessage{
		Type:   domain.SignalOffer,
		To:     "ghost",
		CallID: "call-1",
		Offer:  &domain.SessionPayload{Type: "offer", SDP: offerSDP},
	}))

	frame := readFrame(t, alice)
	assert.Equal(t, domain.SignalType("error"), frame.Type)
}

func TestMalformedSDPRejected(t *testing.T) {
	f := newServerFixture(t)
	alice := f.connectAs(t, "alice")
	f.connectAs(t, "bob")

	require.NoError(t, alice.WriteJSON(&domain.SignalMessage{
		Type:   domain.SignalOffer,
		To:     "bob",
		CallID: "call-1",
		Offer:  &domain.SessionPayload{Type: "offer", SDP: "not sdp at all"},
	}))

	frame := readFrame(t, alice)
	assert.Equal(t, domain.SignalType("error"), frame.Type)
}

func TestUnknownFrameTypeRejected(t *testing.T) {
	f := newServerFixture(t)
	alice := f.connectAs(t, "alice")

	require.NoError(t, alice.WriteJSON(map[string]interface{}{
		"type": "telemetry",
		"to":   "bob",
	}))

	frame := readFrame(t, alice)
	assert.Equal(t, domain.SignalType("error"), frame.Type)
}

func TestRepeatedAuthFrameIgnored(t *testing.T) {
	f := newServerFixture(t)
	alice := f.connectAs(t, "alice")
	bob := f.connectAs(t, "bob")

	token, err := f.auth.GenerateToken("alice")
	require.NoError(t, err)
	require.NoError(t, alice.WriteJSON(&domain.SignalMessage{
		Type: domain.SignalAuth,
		Auth: &domain.AuthPayload{Token: token},
	}))

	// The connection stays usable afterwards.
	require.NoError(t, alice.WriteJSON(&domain.SignalMessage{
		Type:   domain.SignalHangup,
		To:     "bob",
		CallID: "call-1",
	}))

	frame := readFrame(t, bob)
	assert.Equal(t, domain.SignalHangup, frame.Type)
}

func TestDisconnectMarksUserOffline(t *testing.T) {
	f := newServerFixture(t)
	alice := f.connectAs(t, "alice")

	alice.Close()

	require.Eventually(t, func() bool {
		return !f.relay.IsConnected("alice")
	}, 2*time.Second, 10*time.Millisecond)

	online, err := f.presence.IsOnline(context.Background(), "alice")
	require.NoError(t, err)
	assert.False(t, online)
}

func TestReconnectReplacesStaleSocket(t *testing.T) {
	f := newServerFixture(t)
	f.connectAs(t, "alice")
	second := f.connectAs(t, "alice")

	// Still exactly one registration and the user stays online.
	assert.ElementsMatch(t, []domain.UserID{"alice"}, f.relay.ConnectedUsers())

	online, err := f.presence.IsOnline(context.Background(), "alice")
	require.NoError(t, err)
	assert.True(t, online)

	// The replacement socket is the live one.
	bob := f.connectAs(t, "bob")
	require.NoError(t, second.WriteJSON(&domain.SignalMessage{
		Type:   domain.SignalHangup,
		To:     "bob",
		CallID: "call-1",
	}))
	frame := readFrame(t, bob)
	assert.Equal(t, domain.SignalHangup, frame.Type)
}

func TestCloseAllDisconnectsEveryone(t *testing.T) {
	f := newServerFixture(t)
	alice := f.connectAs(t, "alice")

	f.relay.CloseAll()

	assert.Empty(t, f.relay.ConnectedUsers())

	alice.SetReadDeadline(time.Now().Add(time.Second))
	var msg domain.SignalMessage
	assert.Error(t, alice.ReadJSON(&msg))
}
