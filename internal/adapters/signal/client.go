package signal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/Remote/internal/core"
	"github.com/dkeye/Remote/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type ClientOptions struct {
	PingPeriod time.Duration
	PongWait   time.Duration
	WriteWait  time.Duration
	ReadLimit  int64
	Buffer     int
}

func (o ClientOptions) withDefaults() ClientOptions {
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.PingPeriod <= 0 || o.PingPeriod >= o.PongWait {
		o.PingPeriod = o.PongWait * 9 / 10
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 5 * time.Second
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = 65536
	}
	if o.Buffer <= 0 {
		o.Buffer = 128
	}
	return o
}

// Client is the participant end of the signaling websocket. Parsed
// messages arrive on Inbound, which is closed once the connection drops.
type Client struct {
	conn    *websocket.Conn
	opts    ClientOptions
	inbound chan protocol.Message
	send    chan core.Frame
	done    chan struct{}
	logger  zerolog.Logger

	mu     sync.RWMutex
	closed bool
}

func Dial(ctx context.Context, url string, opts ClientOptions) (*Client, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	opts = opts.withDefaults()
	c := &Client{
		conn:    ws,
		opts:    opts,
		inbound: make(chan protocol.Message, opts.Buffer),
		send:    make(chan core.Frame, opts.Buffer),
		done:    make(chan struct{}),
		logger:  log.With().Str("module", "signal.client").Str("url", url).Logger(),
	}
	go c.writePump()
	go c.readPump()
	c.logger.Info().Msg("connected")
	return c, nil
}

func (c *Client) Inbound() <-chan protocol.Message { return c.inbound }

// Done is closed when the connection is gone.
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) Send(m protocol.Message) error {
	b, err := protocol.Marshal(m)
	if err != nil {
		return err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	select {
	case c.send <- b:
		return nil
	default:
		return ErrBackpressure
	}
}

func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.done)
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(c.opts.WriteWait))
	_ = c.conn.Close()
	c.mu.Unlock()
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.opts.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait)); err != nil {
				c.logger.Error().Err(err).Msg("writePump set deadline")
				c.Close()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Error().Err(err).Msg("writePump write error")
				c.Close()
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.WriteWait)); err != nil {
				c.logger.Error().Err(err).Msg("writePump ping error")
				c.Close()
				return
			}
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.Close()
		close(c.inbound)
		c.logger.Info().Msg("readPump closing")
	}()

	c.conn.SetReadLimit(c.opts.ReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				c.logger.Warn().Err(err).Msg("readPump read error")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))

		msg, err := protocol.Parse(data)
		if err != nil {
			c.logger.Warn().Err(err).Msg("bad message")
			continue
		}
		if _, ok := msg.(protocol.Pong); ok {
			continue
		}
		select {
		case c.inbound <- msg:
		case <-c.done:
			return
		}
	}
}
