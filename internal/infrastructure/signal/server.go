package signal

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"quickchat/internal/core/domain"
	"quickchat/internal/core/ports"
	"quickchat/internal/core/services"
	"quickchat/pkg/tracing"
	"quickchat/pkg/validation"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ServerConfig tunes the relay's socket handling.
type ServerConfig struct {
	PingInterval time.Duration
	PongTimeout  time.Duration
	WriteTimeout time.Duration
	// AuthTimeout bounds how long a fresh socket may take to send its auth
	// frame before being dropped.
	AuthTimeout time.Duration

	AllowedOrigins []string

	RateLimit struct {
		Enabled           bool
		MessagesPerSecond float64
		Burst             int
		MaxMessageSize    int64
	}
}

func DefaultServerConfig() ServerConfig {
	cfg := ServerConfig{
		PingInterval: 30 * time.Second,
		PongTimeout:  60 * time.Second,
		WriteTimeout: 10 * time.Second,
		AuthTimeout:  10 * time.Second,
	}
	return cfg
}

type client struct {
	conn    *websocket.Conn
	user    domain.UserID
	writeMu sync.Mutex
	limiter *rate.Limiter
}

func (c *client) writeJSON(v interface{}, timeout time.Duration) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(timeout))
	return c.conn.WriteJSON(v)
}

// Server is the signaling relay. It authenticates each socket with the first
// frame, tracks presence, and forwards call frames to the addressed user
// verbatim apart from overwriting From with the authenticated identity.
type Server struct {
	config   ServerConfig
	auth     services.AuthService
	presence ports.PresenceRepository
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[domain.UserID]*client

	logger *zap.SugaredLogger
}

func NewServer(config ServerConfig, auth services.AuthService, presence ports.PresenceRepository, log *zap.Logger) *Server {
	s := &Server{
		config:   config,
		auth:     auth,
		presence: presence,
		clients:  make(map[domain.UserID]*client),
		logger:   log.Sugar(),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.config.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, allowed := range s.config.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// HandleWebSocket upgrades the connection and runs it until disconnect.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	if s.config.RateLimit.Enabled && s.config.RateLimit.MaxMessageSize > 0 {
		conn.SetReadLimit(s.config.RateLimit.MaxMessageSize)
	}

	user, err := s.authenticate(conn)
	if err != nil {
		s.logger.Warnw("socket authentication failed", "remote", r.RemoteAddr, "error", err)
		s.writeError(conn, "unauthorized")
		return
	}

	cl := &client{conn: conn, user: user}
	if s.config.RateLimit.Enabled {
		cl.limiter = rate.NewLimiter(rate.Limit(s.config.RateLimit.MessagesPerSecond), s.config.RateLimit.Burst)
	}

	s.register(cl)
	defer s.unregister(cl)

	s.logger.Infow("user connected", "user", user, "remote", r.RemoteAddr)
	s.serve(cl)
}

// authenticate requires the first frame to be a valid auth frame. Anything
// else terminates the socket.
func (s *Server) authenticate(conn *websocket.Conn) (domain.UserID, error) {
	conn.SetReadDeadline(time.Now().Add(s.config.AuthTimeout))

	var msg domain.SignalMessage
	if err := conn.ReadJSON(&msg); err != nil {
		return "", fmt.Errorf("failed to read auth frame: %w", err)
	}
	if msg.Type != domain.SignalAuth || msg.Auth == nil {
		return "", fmt.Errorf("first frame must be auth, got %q", msg.Type)
	}

	claims, err := s.auth.ValidateToken(msg.Auth.Token)
	if err != nil {
		return "", fmt.Errorf("token rejected: %w", err)
	}
	return claims.UserID, nil
}

func (s *Server) register(cl *client) {
	s.mu.Lock()
	old, reconnect := s.clients[cl.user]
	s.clients[cl.user] = cl
	s.mu.Unlock()

	if reconnect && old != nil {
		old.conn.Close()
		s.logger.Infow("replacing stale connection", "user", cl.user)
	}

	if s.presence != nil {
		if err := s.presence.SetOnline(context.Background(), cl.user); err != nil {
			s.logger.Warnw("failed to mark user online", "user", cl.user, "error", err)
		}
	}
}

func (s *Server) unregister(cl *client) {
	s.mu.Lock()
	if current, ok := s.clients[cl.user]; ok && current == cl {
		delete(s.clients, cl.user)
	} else {
		// A reconnect already replaced this socket; presence stays.
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	if s.presence != nil {
		if err := s.presence.SetOffline(context.Background(), cl.user); err != nil {
			s.logger.Warnw("failed to mark user offline", "user", cl.user, "error", err)
		}
	}
	s.logger.Infow("user disconnected", "user", cl.user)
}

func (s *Server) serve(cl *client) {
	conn := cl.conn
	conn.SetReadDeadline(time.Now().Add(s.config.PongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.config.PongTimeout))
		return nil
	})

	pingTicker := time.NewTicker(s.config.PingInterval)
	defer pingTicker.Stop()

	messages := make(chan *domain.SignalMessage, 10)
	errs := make(chan error, 1)

	go func() {
		for {
			var msg domain.SignalMessage
			if err := conn.ReadJSON(&msg); err != nil {
				errs <- err
				return
			}
			conn.SetReadDeadline(time.Now().Add(s.config.PongTimeout))
			messages <- &msg
		}
	}()

	for {
		select {
		case msg := <-messages:
			if cl.limiter != nil && !cl.limiter.Allow() {
				s.logger.Warnw("rate limit exceeded, dropping frame", "user", cl.user, "type", msg.Type)
				continue
			}
			if err := s.route(cl, msg); err != nil {
				s.logger.Infow("frame not routed", "user", cl.user, "type", msg.Type, "error", err)
				s.writeError(conn, err.Error())
			}

		case <-pingTicker.C:
			cl.writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			cl.writeMu.Unlock()
			if err != nil {
				return
			}

		case err := <-errs:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Infow("read error", "user", cl.user, "error", err)
			}
			return
		}
	}
}

// route forwards a call frame to its addressee. Malformed frames and frames
// for offline users are rejected back to the sender; nothing is queued.
func (s *Server) route(from *client, msg *domain.SignalMessage) error {
	ctx, span := tracing.TraceSignalMessage(context.Background(), string(msg.Type), string(from.user))
	defer span.End()

	switch msg.Type {
	case domain.SignalOffer, domain.SignalAnswer, domain.SignalICECandidate, domain.SignalHangup:
	case domain.SignalAuth:
		// Already authenticated; repeated auth frames are ignored.
		return nil
	default:
		return fmt.Errorf("unknown frame type %q", msg.Type)
	}

	if msg.To == "" {
		return fmt.Errorf("frame has no addressee")
	}
	if err := validation.ValidateCallID(string(msg.CallID)); err != nil {
		return err
	}
	if msg.Offer != nil {
		if err := validation.ValidateSDP(msg.Offer.SDP); err != nil {
			return fmt.Errorf("offer rejected: %w", err)
		}
	}
	if msg.Answer != nil {
		if err := validation.ValidateSDP(msg.Answer.SDP); err != nil {
			return fmt.Errorf("answer rejected: %w", err)
		}
	}

	// The sender identity always comes from authentication, never the frame.
	msg.From = from.user

	s.mu.RLock()
	target, online := s.clients[msg.To]
	s.mu.RUnlock()

	if !online {
		tracing.RecordError(ctx, domain.ErrUserOffline)
		return fmt.Errorf("user %s: %w", msg.To, domain.ErrUserOffline)
	}

	s.logger.Debugw("routing frame",
		"type", msg.Type,
		"from", msg.From,
		"to", msg.To,
		"call_id", msg.CallID,
	)
	return target.writeJSON(msg, s.config.WriteTimeout)
}

func (s *Server) writeError(conn *websocket.Conn, message string) {
	conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	conn.WriteJSON(map[string]interface{}{
		"type":    "error",
		"message": message,
	})
}

// ConnectedUsers lists currently attached users, used by health checks.
func (s *Server) ConnectedUsers() []domain.UserID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserID, 0, len(s.clients))
	for user := range s.clients {
		users = append(users, user)
	}
	return users
}

// IsConnected reports whether a user has an attached socket.
func (s *Server) IsConnected(user domain.UserID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.clients[user]
	return ok
}

// CloseAll disconnects every client, used during shutdown.
func (s *Server) CloseAll() {
	s.mu.Lock()
	clients := make([]*client, 0, len(s.clients))
	for _, cl := range s.clients {
		clients = append(clients, cl)
	}
	s.clients = make(map[domain.UserID]*client)
	s.mu.Unlock()

	for _, cl := range clients {
		cl.writeMu.Lock()
		cl.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"))
		cl.writeMu.Unlock()
		cl.conn.Close()
	}
}
