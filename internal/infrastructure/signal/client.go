package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"quickchat/internal/core/domain"
	"quickchat/internal/core/ports"
	"quickchat/pkg/retry"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// ClientConfig holds the channel endpoint and reconnect budget.
type ClientConfig struct {
	Endpoint     string
	Token        string
	WriteTimeout time.Duration
	PongTimeout  time.Duration
	PingInterval time.Duration
	// ReconnectAttempts retries after an unexpected disconnect; exhausting
	// the budget emits one terminal error event and the channel stays closed.
	ReconnectAttempts int
	ReconnectDelay    time.Duration
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		WriteTimeout:      10 * time.Second,
		PongTimeout:       60 * time.Second,
		PingInterval:      30 * time.Second,
		ReconnectAttempts: 3,
		ReconnectDelay:    2 * time.Second,
	}
}

type handlerEntry struct {
	id   int
	fn   ports.SignalHandler
	once bool
}

// Channel is the websocket signaling client. The first frame after every
// (re)connect is the auth frame; the server drops sockets that send anything
// else first.
type Channel struct {
	config ClientConfig
	logger *zap.SugaredLogger

	mu        sync.Mutex
	conn      *websocket.Conn
	user      domain.UserID
	connected bool
	closing   bool
	failed    bool
	gen       int

	writeMu sync.Mutex

	handlerMu sync.Mutex
	handlers  map[ports.SignalEvent][]handlerEntry
	nextID    int
}

func NewChannel(config ClientConfig, log *zap.Logger) *Channel {
	return &Channel{
		config:   config,
		logger:   log.Sugar(),
		handlers: make(map[ports.SignalEvent][]handlerEntry),
	}
}

// Connect dials the endpoint, authenticates and starts the read loop. A
// channel that already exhausted its reconnect budget must be replaced, not
// reconnected.
func (c *Channel) Connect(ctx context.Context, user domain.UserID) error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return nil
	}
	if c.failed {
		c.mu.Unlock()
		return domain.ErrChannelClosed
	}
	c.user = user
	c.closing = false
	c.mu.Unlock()

	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}

	c.startConn(conn)
	c.emit(ports.EventOpen, nil, nil)
	return nil
}

func (c *Channel) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.config.Endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial signaling endpoint: %w", err)
	}

	auth := &domain.SignalMessage{
		Type: domain.SignalAuth,
		From: c.userID(),
		Auth: &domain.AuthPayload{Token: c.config.Token},
	}
	conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	if err := conn.WriteJSON(auth); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to send auth frame: %w", err)
	}

	return conn, nil
}

func (c *Channel) startConn(conn *websocket.Conn) {
	conn.SetReadDeadline(time.Now().Add(c.config.PongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(c.config.PongTimeout))
		return nil
	})

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	go c.readLoop(conn, gen)
	go c.pingLoop(conn, gen)
}

func (c *Channel) readLoop(conn *websocket.Conn, gen int) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleDisconnect(conn, gen, err)
			return
		}
		conn.SetReadDeadline(time.Now().Add(c.config.PongTimeout))

		// A frame that fails to decode is the sender's protocol fault, not
		// a transport failure: drop it and keep the connection up.
		var msg domain.SignalMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Warnw("dropping malformed signaling frame", "error", err)
			continue
		}
		c.dispatch(&msg)
	}
}

func (c *Channel) pingLoop(conn *websocket.Conn, gen int) {
	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for range ticker.C {
		c.mu.Lock()
		stale := c.gen != gen || !c.connected
		c.mu.Unlock()
		if stale {
			return
		}

		c.writeMu.Lock()
		conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
		err := conn.WriteMessage(websocket.PingMessage, nil)
		c.writeMu.Unlock()
		if err != nil {
			return
		}
	}
}

// handleDisconnect runs the reconnect budget after an unexpected close. The
// terminal error event fires at most once over the channel's lifetime.
func (c *Channel) handleDisconnect(conn *websocket.Conn, gen int, cause error) {
	conn.Close()

	c.mu.Lock()
	if c.gen != gen {
		// A newer connection took over.
		c.mu.Unlock()
		return
	}
	c.connected = false
	c.conn = nil
	closing := c.closing
	c.mu.Unlock()

	if closing {
		c.emit(ports.EventClose, nil, nil)
		return
	}

	c.logger.Warnw("signaling connection lost, reconnecting", "error", cause)

	cfg := retry.FixedDelay(c.config.ReconnectAttempts, c.config.ReconnectDelay)
	// The drop itself consumed the first try; the budget counts redials.
	cfg.MaxAttempts--
	if cfg.MaxAttempts < 0 {
		cfg.MaxAttempts = 0
	}

	next, err := retry.DoWithResult(context.Background(), cfg, func() (*websocket.Conn, error) {
		c.mu.Lock()
		aborted := c.closing
		c.mu.Unlock()
		if aborted {
			return nil, domain.ErrChannelClosed
		}
		return c.dial(context.Background())
	})
	if err != nil {
		c.mu.Lock()
		alreadyFailed := c.failed
		c.failed = true
		c.mu.Unlock()

		if !alreadyFailed {
			c.logger.Errorw("signaling reconnect budget exhausted", "error", err)
			c.emit(ports.EventError, nil, fmt.Errorf("signaling reconnect failed: %w", err))
		}
		return
	}

	c.startConn(next)
	c.logger.Infow("signaling connection reestablished")
	c.emit(ports.EventOpen, nil, nil)
}

// Disconnect closes the socket deliberately; no reconnect follows.
func (c *Channel) Disconnect() error {
	c.mu.Lock()
	c.closing = true
	conn := c.conn
	c.conn = nil
	c.connected = false
	c.mu.Unlock()

	if conn == nil {
		return nil
	}

	c.writeMu.Lock()
	conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()

	return conn.Close()
}

func (c *Channel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Channel) SendOffer(to domain.UserID, callID domain.CallID, kind domain.MediaKind, offer webrtc.SessionDescription) error {
	return c.send(&domain.SignalMessage{
		Type:   domain.SignalOffer,
		From:   c.userID(),
		To:     to,
		CallID: callID,
		Kind:   kind,
		Offer:  &domain.SessionPayload{Type: offer.Type.String(), SDP: offer.SDP},
	})
}

func (c *Channel) SendAnswer(to domain.UserID, callID domain.CallID, answer webrtc.SessionDescription) error {
	return c.send(&domain.SignalMessage{
		Type:   domain.SignalAnswer,
		From:   c.userID(),
		To:     to,
		CallID: callID,
		Answer: &domain.SessionPayload{Type: answer.Type.String(), SDP: answer.SDP},
	})
}

func (c *Channel) SendICECandidate(to domain.UserID, callID domain.CallID, candidate webrtc.ICECandidateInit) error {
	return c.send(&domain.SignalMessage{
		Type:   domain.SignalICECandidate,
		From:   c.userID(),
		To:     to,
		CallID: callID,
		Candidate: &domain.CandidatePayload{
			Candidate:     candidate.Candidate,
			SDPMid:        candidate.SDPMid,
			SDPMLineIndex: candidate.SDPMLineIndex,
		},
	})
}

func (c *Channel) SendHangup(to domain.UserID, callID domain.CallID, reason domain.EndReason) error {
	return c.send(&domain.SignalMessage{
		Type:   domain.SignalHangup,
		From:   c.userID(),
		To:     to,
		CallID: callID,
		Hangup: &domain.HangupPayload{Reason: reason},
	})
}

func (c *Channel) send(msg *domain.SignalMessage) error {
	c.mu.Lock()
	conn := c.conn
	connected := c.connected
	c.mu.Unlock()

	if !connected || conn == nil {
		return domain.ErrChannelClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	if err := conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("failed to send %s: %w", msg.Type, err)
	}
	return nil
}

// On registers a persistent handler and returns its subscription id.
func (c *Channel) On(event ports.SignalEvent, h ports.SignalHandler) int {
	return c.subscribe(event, h, false)
}

// Once registers a handler removed after its first invocation.
func (c *Channel) Once(event ports.SignalEvent, h ports.SignalHandler) int {
	return c.subscribe(event, h, true)
}

// Off removes a subscription. Unknown ids are ignored.
func (c *Channel) Off(event ports.SignalEvent, id int) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()

	entries := c.handlers[event]
	for i, entry := range entries {
		if entry.id == id {
			c.handlers[event] = append(entries[:i], entries[i+1:]...)
			return
		}
	}
}

func (c *Channel) subscribe(event ports.SignalEvent, h ports.SignalHandler, once bool) int {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()

	c.nextID++
	c.handlers[event] = append(c.handlers[event], handlerEntry{id: c.nextID, fn: h, once: once})
	return c.nextID
}

func (c *Channel) dispatch(msg *domain.SignalMessage) {
	var event ports.SignalEvent
	switch msg.Type {
	case domain.SignalOffer:
		event = ports.EventOffer
	case domain.SignalAnswer:
		event = ports.EventAnswer
	case domain.SignalICECandidate:
		event = ports.EventICECandidate
	case domain.SignalHangup:
		event = ports.EventHangup
	default:
		c.logger.Debugw("dropping frame with unknown type", "type", msg.Type)
		return
	}
	c.emit(event, msg, nil)
}

func (c *Channel) emit(event ports.SignalEvent, msg *domain.SignalMessage, err error) {
	c.handlerMu.Lock()
	entries := c.handlers[event]
	fns := make([]ports.SignalHandler, 0, len(entries))
	kept := entries[:0]
	for _, entry := range entries {
		fns = append(fns, entry.fn)
		if !entry.once {
			kept = append(kept, entry)
		}
	}
	c.handlers[event] = kept
	c.handlerMu.Unlock()

	for _, fn := range fns {
		fn(msg, err)
	}
}

func (c *Channel) userID() domain.UserID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.user
}

var _ ports.SignalingChannel = (*Channel)(nil)
