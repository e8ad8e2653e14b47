package signal

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/dkeye/vrrtc/internal/core"
	"github.com/dkeye/vrrtc/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) pongWait() time.Duration {
	if ctl.opts.PingPeriod <= 0 {
		return 0
	}
	return ctl.opts.PingPeriod * 10 / 9
}

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	var ping <-chan time.Time
	if ctl.opts.PingPeriod > 0 {
		ticker := time.NewTicker(ctl.opts.PingPeriod)
		defer ticker.Stop()
		ping = ticker.C
	}
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Msg("writePump ctx done")
			return
		case <-ping:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump ping")
				c.Close()
				return
			}
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				c.Close()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				c.Close()
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(ctx context.Context, cancel context.CancelFunc, c *WsSignalConn) {
	var p *relayPeer
	defer func() {
		if p != nil {
			ctl.unregister(p)
			ctl.limiter.Forget(p.meta.ID)
		}
		c.Close()
		cancel()
		log.Info().Str("module", "signal").Msg("readPump closing")
	}()

	if wait := ctl.pongWait(); wait > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(wait))
		c.conn.SetPongHandler(func(string) error {
			return c.conn.SetReadDeadline(time.Now().Add(wait))
		})
	}

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Msg("readPump ctx done")
			return
		default:
		}
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Error().Err(err).Str("module", "signal").Msg("readPump read error")
			}
			return
		}
		if p == nil {
			meta, err := domain.NewPeer(strings.TrimSpace(string(data)))
			if err != nil {
				log.Warn().Err(err).Str("module", "signal").Msg("bad role announcement")
				return
			}
			p = &relayPeer{meta: meta, conn: c}
			ctl.register(p)
			continue
		}
		ctl.handleSignal(p, data)
	}
}

func (ctl *SignalWSController) handleSignal(from *relayPeer, data []byte) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "signal").Str("role", string(from.meta.Role)).Msg("bad json")
		return
	}
	if core.FrameType(env.Type) == core.FramePing {
		ctl.sendJSON(from.conn, struct {
			Type core.FrameType `json:"type"`
		}{core.FramePong})
		return
	}
	if !ctl.limiter.Allow(from.meta.ID) {
		log.Warn().Str("module", "signal").Str("role", string(from.meta.Role)).Msg("rate limited, frame dropped")
		return
	}

	target := from.meta.Role.Counterpart()
	to, ok := ctl.peer(target)
	if !ok {
		log.Warn().Str("module", "signal").Str("from", string(from.meta.Role)).Str("to", string(target)).Str("type", env.Type).Msg("target not connected")
		return
	}
	if err := to.conn.TrySend(core.Frame(data)); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("to", string(target)).Msg("forward failed")
		return
	}
	log.Debug().Str("module", "signal").Str("from", string(from.meta.Role)).Str("to", string(target)).Str("type", env.Type).Msg("forwarded")
}

func (ctl *SignalWSController) sendJSON(c *WsSignalConn, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	_ = c.TrySend(b)
}
