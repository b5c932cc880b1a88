// Package orch drives one participant's peer negotiation. All state is
// owned by the goroutine running Run; signaling input, library callbacks
// and public commands are all funneled into it.
package orch

import (
	"context"
	"errors"
	"time"

	"github.com/dkeye/Remote/internal/app/control"
	"github.com/dkeye/Remote/internal/core"
	"github.com/dkeye/Remote/internal/domain"
	"github.com/dkeye/Remote/internal/protocol"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	DefaultNegotiationTimeout = 30 * time.Second
	defaultEventBuffer        = 32
	commandBuffer             = 256
)

var (
	ErrNotHost         = errors.New("only the host can do this")
	ErrNotClient       = errors.New("only a client can do this")
	ErrNotReady        = errors.New("session not ready")
	ErrNoCaptureSource = errors.New("no capture source attached")
	ErrStopped         = errors.New("orchestrator stopped")
	ErrInvalidConfig   = errors.New("invalid orchestrator config")
)

// Sender delivers signaling messages to the relay server.
type Sender interface {
	Send(protocol.Message) error
}

type Config struct {
	Role domain.Role
	// Inbound carries parsed signaling messages; closing it means the
	// signaling transport is gone.
	Inbound <-chan protocol.Message
	Signal  Sender
	Peers   core.PeerFactory
	// Capture and Input are host-only and may be nil.
	Capture core.CaptureSource
	Input   core.InputSink
	// NegotiationTimeout bounds how long a client may stay negotiating.
	NegotiationTimeout time.Duration
	EventBuffer        int
}

type Orchestrator struct {
	role     domain.Role
	inbound  <-chan protocol.Message
	signal   Sender
	peers    core.PeerFactory
	capture  core.CaptureSource
	timeout  time.Duration
	control  *control.Dispatcher

	cmds    chan func()
	events  chan Event
	stopped chan struct{}
	logger  zerolog.Logger

	// Owned by the Run goroutine.
	ready       bool
	session     domain.SessionCode
	self        domain.ClientID
	queue       []protocol.Message
	conns       map[domain.ClientID]*peer
	candidates  map[domain.ClientID][]webrtc.ICECandidateInit
	remoteTrack *webrtc.TrackRemote
	backlog     []Event

	// offerWait bounds the time between session-joined and the first offer.
	offerWait    *time.Timer
	offerWaitGen uint64
}

func New(cfg Config) (*Orchestrator, error) {
	if !cfg.Role.Valid() || cfg.Inbound == nil || cfg.Signal == nil || cfg.Peers == nil {
		return nil, ErrInvalidConfig
	}
	if cfg.NegotiationTimeout <= 0 {
		cfg.NegotiationTimeout = DefaultNegotiationTimeout
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = defaultEventBuffer
	}

	o := &Orchestrator{
		role:       cfg.Role,
		inbound:    cfg.Inbound,
		signal:     cfg.Signal,
		peers:      cfg.Peers,
		capture:    cfg.Capture,
		timeout:    cfg.NegotiationTimeout,
		cmds:       make(chan func(), commandBuffer),
		events:     make(chan Event, cfg.EventBuffer),
		stopped:    make(chan struct{}),
		logger:     log.With().Str("module", "app.orch").Str("role", string(cfg.Role)).Logger(),
		conns:      make(map[domain.ClientID]*peer),
		candidates: make(map[domain.ClientID][]webrtc.ICECandidateInit),
	}
	if cfg.Role == domain.RoleHost {
		o.control = control.NewDispatcher(cfg.Input)
		o.control.OnCursor(func(from domain.ClientID, pos protocol.CursorPosition) {
			o.post(func() {
				o.emit(Event{Kind: EventCursor, ClientID: from, Cursor: pos})
			})
		})
	}
	return o, nil
}

// Events delivers notifications in order. Events are never dropped; they
// wait in memory until read.
func (o *Orchestrator) Events() <-chan Event { return o.events }

// Run owns the orchestrator state until ctx is done. Every connection is
// closed on return.
func (o *Orchestrator) Run(ctx context.Context) error {
	defer close(o.stopped)
	o.logger.Info().Msg("orchestrator started")

	inbound := o.inbound
	for {
		var out chan<- Event
		var next Event
		if len(o.backlog) > 0 {
			out = o.events
			next = o.backlog[0]
		}

		select {
		case <-ctx.Done():
			o.reset()
			o.logger.Info().Msg("orchestrator stopped")
			return nil
		case fn := <-o.cmds:
			fn()
		case msg, ok := <-inbound:
			if !ok {
				inbound = nil
				o.logger.Warn().Msg("signaling lost")
				o.reset()
				o.emit(Event{Kind: EventSignalingLost})
				continue
			}
			o.handle(msg)
		case out <- next:
			o.backlog[0] = Event{}
			o.backlog = o.backlog[1:]
		}
	}
}

// post schedules fn on the Run goroutine. Used by library callbacks.
func (o *Orchestrator) post(fn func()) {
	select {
	case o.cmds <- fn:
	case <-o.stopped:
	}
}

// do runs fn on the Run goroutine and waits for it.
func (o *Orchestrator) do(ctx context.Context, fn func() error) error {
	var err error
	done := make(chan struct{})
	task := func() {
		err = fn()
		close(done)
	}
	select {
	case o.cmds <- task:
	case <-ctx.Done():
		return ctx.Err()
	case <-o.stopped:
		return ErrStopped
	}
	select {
	case <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-o.stopped:
		return ErrStopped
	}
}

func (o *Orchestrator) emit(ev Event) {
	o.backlog = append(o.backlog, ev)
}

// CreateSession asks the relay for a new session with this host in it.
func (o *Orchestrator) CreateSession(ctx context.Context) error {
	if o.role != domain.RoleHost {
		return ErrNotHost
	}
	return o.do(ctx, func() error {
		o.reset()
		return o.signal.Send(protocol.CreateSession{})
	})
}

// JoinSession starts from a clean state and asks to join code.
func (o *Orchestrator) JoinSession(ctx context.Context, raw string) error {
	if o.role != domain.RoleClient {
		return ErrNotClient
	}
	code, err := domain.ParseSessionCode(raw)
	if err != nil {
		return err
	}
	return o.do(ctx, func() error {
		o.reset()
		return o.signal.Send(protocol.JoinSession{SessionID: code})
	})
}

// Approve admits a pending client. Without a capture source the approval
// is refused locally.
func (o *Orchestrator) Approve(ctx context.Context, id domain.ClientID) error {
	if o.role != domain.RoleHost {
		return ErrNotHost
	}
	if o.capture == nil {
		return ErrNoCaptureSource
	}
	return o.do(ctx, func() error {
		if !o.ready {
			return ErrNotReady
		}
		return o.signal.Send(protocol.ApproveClient{ClientID: id, SessionID: o.session})
	})
}

func (o *Orchestrator) Reject(ctx context.Context, id domain.ClientID) error {
	if o.role != domain.RoleHost {
		return ErrNotHost
	}
	return o.do(ctx, func() error {
		if !o.ready {
			return ErrNotReady
		}
		return o.signal.Send(protocol.RejectClient{ClientID: id, SessionID: o.session})
	})
}

// Grant lets id drive the local input sink. Takes effect immediately.
func (o *Orchestrator) Grant(id domain.ClientID) error {
	if o.control == nil {
		return ErrNotHost
	}
	o.control.Grant(id)
	return nil
}

func (o *Orchestrator) Revoke(id domain.ClientID) error {
	if o.control == nil {
		return ErrNotHost
	}
	o.control.Revoke(id)
	return nil
}

// SendControl sends one control message to the host. Pointer coordinates
// are clamped into [0,1].
func (o *Orchestrator) SendControl(ctx context.Context, m protocol.Message) error {
	if o.role != domain.RoleClient {
		return ErrNotClient
	}
	data, err := control.Encode(m)
	if err != nil {
		return err
	}
	return o.do(ctx, func() error {
		p := o.conns[domain.HostID]
		if p == nil || p.control == nil || !p.control.IsOpen() {
			return core.ErrChannelClosed
		}
		return p.control.Send(data)
	})
}

// Reset closes every connection and returns to the initial empty state.
func (o *Orchestrator) Reset(ctx context.Context) error {
	return o.do(ctx, func() error {
		o.reset()
		return nil
	})
}

func (o *Orchestrator) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := o.do(ctx, func() error {
		snap = Snapshot{
			Role:              o.role,
			Ready:             o.ready,
			SessionID:         o.session,
			Self:              o.self,
			Queued:            len(o.queue),
			Peers:             make(map[domain.ClientID]State, len(o.conns)),
			PendingCandidates: make(map[domain.ClientID]int, len(o.candidates)),
			HasRemoteTrack:    o.remoteTrack != nil,
		}
		for id, p := range o.conns {
			snap.Peers[id] = p.state
			if p.control != nil {
				snap.ControlChannels++
			}
		}
		for id, c := range o.candidates {
			snap.PendingCandidates[id] = len(c)
		}
		return nil
	})
	return snap, err
}
