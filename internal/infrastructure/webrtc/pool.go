package webrtc

import (
	"fmt"
	"sync"
	"time"

	"quickchat/internal/core/domain"
	"quickchat/internal/core/ports"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

type connState int

const (
	connActive connState = iota
	connIdle
	connClosed
)

// PooledConnection wraps one peer connection handle together with its pool
// bookkeeping. It is held by the pool while idle and by exactly one call
// session while active; never both.
type PooledConnection struct {
	pc        *webrtc.PeerConnection
	kind      domain.MediaKind
	peer      domain.UserID
	createdAt time.Time

	mu       sync.Mutex
	state    connState
	lastUsed time.Time
}

func (c *PooledConnection) PC() *webrtc.PeerConnection { return c.pc }
func (c *PooledConnection) Kind() domain.MediaKind     { return c.kind }
func (c *PooledConnection) Peer() domain.UserID        { return c.peer }
func (c *PooledConnection) CreatedAt() time.Time       { return c.createdAt }

func (c *PooledConnection) setState(s connState) {
	c.mu.Lock()
	c.state = s
	c.lastUsed = time.Now()
	c.mu.Unlock()
}

func (c *PooledConnection) getState() connState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *PooledConnection) idleSince() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastUsed
}

type poolKey struct {
	peer domain.UserID
	kind domain.MediaKind
}

// StateChange carries an ICE state transition of a pooled connection to the
// pool's observer.
type StateChange struct {
	Peer  domain.UserID
	Kind  domain.MediaKind
	State webrtc.ICEConnectionState
}

// PoolConfig tunes pooling behavior.
type PoolConfig struct {
	// MaxIdlePerKind caps the idle pool for each media kind.
	MaxIdlePerKind int
	// CleanupInterval is the background sweep period.
	CleanupInterval time.Duration
	// IdleTimeout evicts idle connections unused for longer than this.
	IdleTimeout time.Duration
}

func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxIdlePerKind:  5,
		CleanupInterval: 60 * time.Second,
		IdleTimeout:     5 * time.Minute,
	}
}

// ConnectionPool allocates, reuses and retires peer connections keyed by
// (peer, media kind). Construction failures propagate to the caller; retry
// policy belongs to the session layer.
type ConnectionPool struct {
	factory ports.ConnectionFactory
	config  PoolConfig

	mu     sync.Mutex
	active map[poolKey]*PooledConnection
	idle   map[domain.MediaKind][]*PooledConnection
	closed bool

	onStateChange func(StateChange)

	stopSweep chan struct{}
	sweepOnce sync.Once

	logger *zap.SugaredLogger
}

func NewConnectionPool(factory ports.ConnectionFactory, config PoolConfig, log *zap.Logger) *ConnectionPool {
	p := &ConnectionPool{
		factory:   factory,
		config:    config,
		active:    make(map[poolKey]*PooledConnection),
		idle:      make(map[domain.MediaKind][]*PooledConnection),
		stopSweep: make(chan struct{}),
		logger:    log.Sugar(),
	}
	go p.sweep()
	return p
}

// OnStateChange registers the observer for ICE transitions on any connection
// owned by the pool. Must be called before the first Acquire.
func (p *ConnectionPool) OnStateChange(fn func(StateChange)) {
	p.onStateChange = fn
}

// Acquire returns the existing active connection for (peer, kind) when one
// exists, so renegotiation paths can call it idempotently. Otherwise it pops
// an idle connection of the same kind, or constructs a new one.
func (p *ConnectionPool) Acquire(kind domain.MediaKind, peer domain.UserID) (*PooledConnection, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, domain.ErrPoolClosed
	}

	key := poolKey{peer: peer, kind: kind}
	if conn, ok := p.active[key]; ok {
		p.mu.Unlock()
		return conn, nil
	}

	if pooled := p.idle[kind]; len(pooled) > 0 {
		conn := pooled[len(pooled)-1]
		p.idle[kind] = pooled[:len(pooled)-1]
		conn.peer = peer
		conn.setState(connActive)
		p.active[key] = conn
		p.mu.Unlock()

		p.logger.Debugw("reusing pooled connection", "peer", peer, "kind", kind)
		return conn, nil
	}
	p.mu.Unlock()

	pc, err := p.factory.NewPeerConnection(kind)
	if err != nil {
		return nil, fmt.Errorf("failed to construct peer connection: %w", err)
	}

	conn := &PooledConnection{
		pc:        pc,
		kind:      kind,
		peer:      peer,
		createdAt: time.Now(),
		state:     connActive,
		lastUsed:  time.Now(),
	}

	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		p.handleICEState(conn, state)
	})

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		pc.Close()
		return nil, domain.ErrPoolClosed
	}
	p.active[key] = conn
	p.mu.Unlock()

	p.logger.Debugw("constructed peer connection", "peer", peer, "kind", kind)
	return conn, nil
}

// Release returns a connection to the idle pool or closes it. Healthy
// connections are stripped of their senders and given an ICE restart before
// pooling; connections whose ICE state is closed or failed are closed
// unconditionally. Release is idempotent so re-entrant teardown is safe.
func (p *ConnectionPool) Release(conn *PooledConnection) {
	if conn == nil {
		return
	}

	p.mu.Lock()
	key := poolKey{peer: conn.peer, kind: conn.kind}
	if existing, ok := p.active[key]; ok && existing == conn {
		delete(p.active, key)
	} else if conn.getState() != connActive {
		p.mu.Unlock()
		// Already released or swept. An idle connection whose transport
		// died is still evicted so a later Acquire cannot hand it out.
		p.evictIdle(conn, conn.pc.ICEConnectionState())
		return
	}
	closed := p.closed
	p.mu.Unlock()

	iceState := conn.pc.ICEConnectionState()
	if closed || iceState == webrtc.ICEConnectionStateClosed || iceState == webrtc.ICEConnectionStateFailed {
		p.close(conn)
		return
	}

	p.recycle(conn)

	p.mu.Lock()
	if !p.closed && len(p.idle[conn.kind]) < p.config.MaxIdlePerKind {
		conn.setState(connIdle)
		conn.peer = ""
		p.idle[conn.kind] = append(p.idle[conn.kind], conn)
		p.mu.Unlock()
		p.logger.Debugw("connection returned to pool", "kind", conn.kind)
		return
	}
	p.mu.Unlock()

	p.close(conn)
}

// recycle strips session state so the connection can be reused: all senders
// are removed and a fresh ICE restart offer resets the transport.
func (p *ConnectionPool) recycle(conn *PooledConnection) {
	for _, sender := range conn.pc.GetSenders() {
		if err := conn.pc.RemoveTrack(sender); err != nil {
			p.logger.Debugw("failed to remove sender during recycle", "error", err)
		}
	}

	offer, err := conn.pc.CreateOffer(&webrtc.OfferOptions{ICERestart: true})
	if err != nil {
		p.logger.Debugw("ice restart offer failed during recycle", "error", err)
		return
	}
	if err := conn.pc.SetLocalDescription(offer); err != nil {
		p.logger.Debugw("ice restart local description failed during recycle", "error", err)
	}
}

func (p *ConnectionPool) close(conn *PooledConnection) {
	if conn.getState() == connClosed {
		return
	}
	conn.setState(connClosed)
	if err := conn.pc.Close(); err != nil {
		p.logger.Debugw("error closing peer connection", "error", err)
	}
}

// handleICEState forwards transitions to the observer and releases
// connections whose transport died underneath them.
func (p *ConnectionPool) handleICEState(conn *PooledConnection, state webrtc.ICEConnectionState) {
	p.logger.Debugw("ice connection state changed",
		"peer", conn.peer,
		"kind", conn.kind,
		"state", state.String(),
	)

	if p.onStateChange != nil {
		p.onStateChange(StateChange{Peer: conn.peer, Kind: conn.kind, State: state})
	}

	switch state {
	case webrtc.ICEConnectionStateFailed, webrtc.ICEConnectionStateClosed, webrtc.ICEConnectionStateDisconnected:
		if conn.getState() == connIdle {
			p.evictIdle(conn, state)
			return
		}
		p.Release(conn)
	}
}

// evictIdle removes an idle connection from the pool and closes it when the
// given transport state is dead. Healthy idle connections stay pooled.
func (p *ConnectionPool) evictIdle(conn *PooledConnection, state webrtc.ICEConnectionState) {
	switch state {
	case webrtc.ICEConnectionStateFailed, webrtc.ICEConnectionStateClosed, webrtc.ICEConnectionStateDisconnected:
	default:
		return
	}
	if conn.getState() != connIdle {
		return
	}

	p.mu.Lock()
	pooled := p.idle[conn.kind]
	for i, c := range pooled {
		if c == conn {
			p.idle[conn.kind] = append(pooled[:i], pooled[i+1:]...)
			break
		}
	}
	p.mu.Unlock()

	p.logger.Debugw("evicting idle connection with dead transport",
		"kind", conn.kind,
		"state", state.String(),
	)
	p.close(conn)
}

// sweep evicts idle connections that have been unused past the idle timeout.
func (p *ConnectionPool) sweep() {
	ticker := time.NewTicker(p.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.evictStale()
		case <-p.stopSweep:
			return
		}
	}
}

func (p *ConnectionPool) evictStale() {
	cutoff := time.Now().Add(-p.config.IdleTimeout)

	var stale []*PooledConnection
	p.mu.Lock()
	for kind, pooled := range p.idle {
		kept := pooled[:0]
		for _, conn := range pooled {
			if conn.idleSince().Before(cutoff) {
				stale = append(stale, conn)
			} else {
				kept = append(kept, conn)
			}
		}
		p.idle[kind] = kept
	}
	p.mu.Unlock()

	for _, conn := range stale {
		p.logger.Debugw("evicting stale pooled connection", "kind", conn.kind)
		p.close(conn)
	}
}

// Stats reports the current pool occupancy, used by the metrics collector.
func (p *ConnectionPool) Stats() (active int, idle map[domain.MediaKind]int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	idle = make(map[domain.MediaKind]int, len(p.idle))
	for kind, pooled := range p.idle {
		idle[kind] = len(pooled)
	}
	return len(p.active), idle
}

// Close shuts the pool down and closes every connection it owns.
func (p *ConnectionPool) Close() {
	p.sweepOnce.Do(func() { close(p.stopSweep) })

	p.mu.Lock()
	p.closed = true
	conns := make([]*PooledConnection, 0, len(p.active))
	for _, conn := range p.active {
		conns = append(conns, conn)
	}
	p.active = make(map[poolKey]*PooledConnection)
	for _, pooled := range p.idle {
		conns = append(conns, pooled...)
	}
	p.idle = make(map[domain.MediaKind][]*PooledConnection)
	p.mu.Unlock()

	for _, conn := range conns {
		p.close(conn)
	}
}
