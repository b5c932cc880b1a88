package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/dkeye/Remote/internal/app"
	"github.com/dkeye/Remote/internal/config"
	"github.com/dkeye/Remote/internal/core"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrClosed       = errors.New("connection closed")
)

type SignalWSController struct {
	Registry *app.Registry
	cfg      *config.Config
	limiter  *RateLimiter
}

func NewSignalWSController(reg *app.Registry, cfg *config.Config) *SignalWSController {
	return &SignalWSController{
		Registry: reg,
		cfg:      cfg,
		limiter:  NewRateLimiter(cfg.RateLimit, cfg.RateInterval),
	}
}

// WsSignalConn is the server end of one participant's websocket.
type WsSignalConn struct {
	id   string
	sid  string
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) ID() string { return c.id }

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
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
	sid := c.GetString("client_token")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("sid", sid).Msg("ws upgrade")
		return
	}

	conn := &WsSignalConn{
		id:   uuid.NewString(),
		sid:  sid,
		conn: ws,
		send: make(chan core.Frame, ctl.cfg.SendBuffer),
	}
	log.Info().Str("module", "signal").Str("sid", sid).Str("conn", conn.id).Msg("new WS connection")

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cancel, conn)
}
