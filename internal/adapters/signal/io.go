package signal

import (
	"context"
	"time"

	"github.com/dkeye/Remote/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	ticker := time.NewTicker(ctl.cfg.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Str("conn", c.id).Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "signal").Str("conn", c.id).Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.cfg.WriteWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Str("conn", c.id).Msg("writePump set deadline")
				c.Close()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Str("conn", c.id).Msg("writePump write error")
				c.Close()
				return
			}
		case <-ticker.C:
			deadline := time.Now().Add(ctl.cfg.WriteWait)
			if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				log.Error().Err(err).Str("module", "signal").Str("conn", c.id).Msg("writePump ping error")
				c.Close()
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(ctx context.Context, cancel context.CancelFunc, c *WsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("sid", c.sid).Str("conn", c.id).Msg("readPump closing")
		ctl.Registry.Disconnect(c)
		ctl.limiter.Forget(c.id)
		c.Close()
		cancel()
	}()

	c.conn.SetReadLimit(ctl.cfg.ReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(ctl.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(ctl.cfg.PongWait))
	})

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("conn", c.id).Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Error().Err(err).Str("module", "signal").Str("conn", c.id).Msg("readPump read error")
				}
				return
			}
			_ = c.conn.SetReadDeadline(time.Now().Add(ctl.cfg.PongWait))
			ctl.handleSignal(c, data)
		}
	}
}

// handleSignal parses at the boundary; anything malformed is logged and
// dropped without touching the connection.
func (ctl *SignalWSController) handleSignal(c *WsSignalConn, data []byte) {
	if !ctl.limiter.Allow(c.id) {
		log.Warn().Str("module", "signal").Str("conn", c.id).Msg("rate limited, message dropped")
		return
	}

	msg, err := protocol.Parse(data)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("conn", c.id).Msg("bad message")
		return
	}

	switch msg.(type) {
	case protocol.Ping:
		ctl.handlePing(c)
	default:
		ctl.Registry.Handle(c, msg)
	}
}

func (ctl *SignalWSController) sendJSON(c *WsSignalConn, m protocol.Message) {
	b, err := protocol.Marshal(m)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	if err := c.TrySend(b); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("conn", c.id).Str("type", string(m.MessageType())).Msg("sendJSON dropped")
	}
}
