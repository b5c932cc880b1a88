// Package control implements the host-side gate for remote input and the
// client-side encoder for control channel messages.
package control

import (
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/Remote/internal/core"
	"github.com/dkeye/Remote/internal/domain"
	"github.com/dkeye/Remote/internal/protocol"
	"github.com/rs/zerolog/log"
)

var ErrNotControl = errors.New("not a control message")

// Dispatcher routes control messages received by the host. Input events
// reach the sink only from granted peers; cursor telemetry always reaches
// the cursor callback.
type Dispatcher struct {
	sink core.InputSink

	mu       sync.RWMutex
	granted  map[domain.ClientID]struct{}
	onCursor func(domain.ClientID, protocol.CursorPosition)
}

func NewDispatcher(sink core.InputSink) *Dispatcher {
	return &Dispatcher{
		sink:    sink,
		granted: make(map[domain.ClientID]struct{}),
	}
}

func (d *Dispatcher) OnCursor(fn func(domain.ClientID, protocol.CursorPosition)) {
	d.mu.Lock()
	d.onCursor = fn
	d.mu.Unlock()
}

func (d *Dispatcher) Grant(id domain.ClientID) {
	d.mu.Lock()
	d.granted[id] = struct{}{}
	d.mu.Unlock()
	log.Info().Str("module", "app.control").Str("client", string(id)).Msg("control granted")
}

func (d *Dispatcher) Revoke(id domain.ClientID) {
	d.mu.Lock()
	_, had := d.granted[id]
	delete(d.granted, id)
	d.mu.Unlock()
	if had {
		log.Info().Str("module", "app.control").Str("client", string(id)).Msg("control revoked")
	}
}

func (d *Dispatcher) Granted(id domain.ClientID) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.granted[id]
	return ok
}

// Clear revokes every grant.
func (d *Dispatcher) Clear() {
	d.mu.Lock()
	clear(d.granted)
	d.mu.Unlock()
}

// Handle processes one raw message from peer id. A nil error with an
// ungranted sender means the input was discarded.
func (d *Dispatcher) Handle(from domain.ClientID, data []byte) error {
	msg, err := protocol.ParseControl(data)
	if err != nil {
		return err
	}

	switch m := msg.(type) {
	case protocol.CursorPosition:
		d.mu.RLock()
		fn := d.onCursor
		d.mu.RUnlock()
		if fn != nil {
			fn(from, m)
		}
		return nil
	case protocol.InputEvent:
		if !d.Granted(from) {
			log.Debug().Str("module", "app.control").Str("client", string(from)).Str("type", string(m.MessageType())).Msg("input from ungranted peer discarded")
			return nil
		}
		if d.sink == nil {
			return nil
		}
		if err := d.sink.Inject(m); err != nil {
			return fmt.Errorf("inject %s: %w", m.MessageType(), err)
		}
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrNotControl, msg.MessageType())
	}
}
