package signal

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/dkeye/vrrtc/internal/core"
	"github.com/dkeye/vrrtc/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

type RelayOptions struct {
	ReadLimit    int64
	PingPeriod   time.Duration
	SendQueue    int
	RateLimit    int
	RateInterval time.Duration
}

func DefaultRelayOptions() RelayOptions {
	return RelayOptions{
		ReadLimit:    32768,
		PingPeriod:   54 * time.Second,
		SendQueue:    32,
		RateLimit:    50,
		RateInterval: time.Second,
	}
}

// SignalWSController relays frames between the roles connected to it.
// Each connection announces its role with its first frame; every later frame
// is forwarded verbatim to the counterpart role.
type SignalWSController struct {
	opts    RelayOptions
	limiter *FrameLimiter

	mu    sync.RWMutex
	peers map[domain.Role]*relayPeer
}

type relayPeer struct {
	meta *domain.Peer
	conn *WsSignalConn
}

func NewSignalWSController(opts RelayOptions) *SignalWSController {
	return &SignalWSController{
		opts:    opts,
		limiter: NewFrameLimiter(opts.RateLimit, opts.RateInterval),
		peers:   make(map[domain.Role]*relayPeer),
	}
}

type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return core.ErrClosed
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	if ctl.opts.ReadLimit > 0 {
		ws.SetReadLimit(ctl.opts.ReadLimit)
	}

	queue := ctl.opts.SendQueue
	if queue <= 0 {
		queue = 32
	}
	conn := &WsSignalConn{
		conn: ws,
		send: make(chan core.Frame, queue),
	}
	log.Info().Str("module", "signal").Str("remote", c.Request.RemoteAddr).Msg("new WS connection")

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cancel, conn)
}

// register binds a peer to its role, replacing a previous holder of the role.
func (ctl *SignalWSController) register(p *relayPeer) {
	ctl.mu.Lock()
	old, ok := ctl.peers[p.meta.Role]
	ctl.peers[p.meta.Role] = p
	ctl.mu.Unlock()

	if ok {
		log.Info().Str("module", "signal").Str("role", string(p.meta.Role)).Str("peer", string(old.meta.ID)).Msg("replacing peer")
		old.conn.Close()
	}
	log.Info().Str("module", "signal").Str("role", string(p.meta.Role)).Str("peer", string(p.meta.ID)).Msg("peer registered")
}

func (ctl *SignalWSController) unregister(p *relayPeer) {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	if cur, ok := ctl.peers[p.meta.Role]; ok && cur == p {
		delete(ctl.peers, p.meta.Role)
		log.Info().Str("module", "signal").Str("role", string(p.meta.Role)).Str("peer", string(p.meta.ID)).Msg("peer disconnected")
	}
}

func (ctl *SignalWSController) peer(role domain.Role) (*relayPeer, bool) {
	ctl.mu.RLock()
	defer ctl.mu.RUnlock()
	p, ok := ctl.peers[role]
	return p, ok
}

// Rooms lists the connected publishers, oldest first.
func (ctl *SignalWSController) Rooms() []domain.Room {
	ctl.mu.RLock()
	out := make([]domain.Room, 0, len(ctl.peers))
	for role, p := range ctl.peers {
		if role == domain.RoleBrowser {
			continue
		}
		out = append(out, domain.Room{ID: domain.RoomID(role), CreatedAt: p.meta.JoinedAt})
	}
	ctl.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
