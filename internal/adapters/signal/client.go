package signal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/vrrtc/internal/core"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var ErrBackpressure = errors.New("backpressure")

const writeWait = 5 * time.Second

type ClientOptions struct {
	ReadLimit        int64
	SendQueue        int
	HandshakeTimeout time.Duration
}

func DefaultClientOptions() ClientOptions {
	return ClientOptions{
		ReadLimit:        1 << 20,
		SendQueue:        32,
		HandshakeTimeout: 10 * time.Second,
	}
}

// Client is the receiving side of a push-mode signaling channel over a websocket.
type Client struct {
	conn    *websocket.Conn
	send    chan core.Frame
	inbound chan core.Frame
	done    chan struct{}
	logger  zerolog.Logger

	mu     sync.RWMutex
	closed bool
	err    error
}

// NewDialer returns a core.SignalDialer opening websocket channels.
func NewDialer(opts ClientOptions) core.SignalDialer {
	return func(ctx context.Context, address string) (core.SignalTransport, error) {
		return Dial(ctx, address, opts)
	}
}

func Dial(ctx context.Context, address string, opts ClientOptions) (*Client, error) {
	d := websocket.Dialer{HandshakeTimeout: opts.HandshakeTimeout}
	ws, _, err := d.DialContext(ctx, address, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", core.ErrTransport, address, err)
	}
	if opts.ReadLimit > 0 {
		ws.SetReadLimit(opts.ReadLimit)
	}
	queue := opts.SendQueue
	if queue <= 0 {
		queue = 32
	}

	c := &Client{
		conn:    ws,
		send:    make(chan core.Frame, queue),
		inbound: make(chan core.Frame, queue),
		done:    make(chan struct{}),
		logger:  log.With().Str("module", "signal.client").Str("addr", address).Logger(),
	}
	go c.writePump()
	go c.readPump()
	c.logger.Info().Msg("signal channel open")
	return c, nil
}

func (c *Client) Inbound() <-chan core.Frame { return c.inbound }

func (c *Client) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.err
}

func (c *Client) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return fmt.Errorf("%w: connection closed", core.ErrTransport)
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *Client) Close() {
	c.closeWith(nil)
}

func (c *Client) closeWith(cause error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.err = cause
	close(c.send)
	close(c.done)
	c.mu.Unlock()

	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	_ = c.conn.Close()
	if cause != nil {
		c.logger.Warn().Err(cause).Msg("signal channel lost")
	} else {
		c.logger.Info().Msg("signal channel closed")
	}
}

func (c *Client) writePump() {
	for data := range c.send {
		if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
			c.closeWith(fmt.Errorf("%w: set write deadline: %v", core.ErrTransport, err))
			return
		}
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			c.closeWith(fmt.Errorf("%w: write: %v", core.ErrTransport, err))
			return
		}
	}
}

func (c *Client) readPump() {
	defer close(c.inbound)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.closeWith(fmt.Errorf("%w: read: %v", core.ErrTransport, err))
			return
		}
		select {
		case c.inbound <- data:
		case <-c.done:
			return
		}
	}
}
