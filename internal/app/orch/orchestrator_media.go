package orch

import (
	"time"

	"github.com/dkeye/Remote/internal/core"
	"github.com/dkeye/Remote/internal/domain"
	"github.com/dkeye/Remote/internal/protocol"
	"github.com/pion/webrtc/v4"
)

type peer struct {
	id        domain.ClientID
	conn      core.PeerConn
	state     State
	hasRemote bool
	control   core.ControlChannel
	timer     *time.Timer
}

// newPeer replaces any connection to id with a fresh one. Callbacks of a
// replaced connection are ignored.
func (o *Orchestrator) newPeer(id domain.ClientID) (*peer, error) {
	if _, ok := o.conns[id]; ok {
		o.closePeer(id)
	}
	conn, err := o.peers.NewPeer(id)
	if err != nil {
		return nil, err
	}
	p := &peer{id: id, conn: conn, state: StateNegotiating}
	o.conns[id] = p

	current := func() bool { return o.conns[id] == p }

	conn.OnICECandidate(func(c webrtc.ICECandidateInit) {
		o.post(func() {
			if !current() {
				return
			}
			if err := o.signal.Send(protocol.Candidate{SessionID: o.session, TargetID: id, Signal: c}); err != nil {
				o.logger.Warn().Err(err).Str("peer", string(id)).Msg("send candidate")
			}
		})
	})
	conn.OnStateChange(func(s webrtc.PeerConnectionState) {
		o.post(func() {
			if current() {
				o.onPeerState(p, s)
			}
		})
	})
	conn.OnTrack(func(track *webrtc.TrackRemote) {
		o.post(func() {
			if !current() {
				return
			}
			o.remoteTrack = track
			o.emit(Event{Kind: EventRemoteTrack, ClientID: id, Track: track})
		})
	})
	conn.OnControlChannel(func(ch core.ControlChannel) {
		o.post(func() {
			if !current() {
				_ = ch.Close()
				return
			}
			o.bindControl(p, ch)
		})
	})

	if o.role == domain.RoleClient {
		o.stopOfferWait()
		p.timer = time.AfterFunc(o.timeout, func() {
			o.post(func() { o.onTimeout(p) })
		})
	}
	o.logger.Info().Str("peer", string(id)).Msg("peer connection created")
	return p, nil
}

// startOffer opens a connection to a freshly approved client. Any local
// failure evicts that client only.
func (o *Orchestrator) startOffer(id domain.ClientID) {
	if o.capture == nil {
		o.logger.Error().Str("peer", string(id)).Msg("approved without capture source")
		o.evict(id)
		return
	}
	p, err := o.newPeer(id)
	if err != nil {
		o.logger.Error().Err(err).Str("peer", string(id)).Msg("create peer connection")
		o.evict(id)
		return
	}
	ch, err := p.conn.CreateControlChannel()
	if err != nil {
		o.logger.Error().Err(err).Str("peer", string(id)).Msg("create control channel")
		o.evict(id)
		return
	}
	o.bindControl(p, ch)
	for _, t := range o.capture.Tracks() {
		if err := p.conn.AddLocalTrack(t); err != nil {
			o.logger.Error().Err(err).Str("peer", string(id)).Msg("add local track")
			o.evict(id)
			return
		}
	}
	sdp, err := p.conn.CreateOffer()
	if err != nil {
		o.logger.Error().Err(err).Str("peer", string(id)).Msg("create offer")
		o.evict(id)
		return
	}
	if err := o.signal.Send(protocol.Offer{SessionID: o.session, TargetID: id, Signal: sdp}); err != nil {
		o.logger.Warn().Err(err).Str("peer", string(id)).Msg("send offer")
	}
}

func (o *Orchestrator) applyAnswer(id domain.ClientID, m protocol.Answer) {
	p := o.conns[id]
	if p == nil {
		o.logger.Warn().Str("peer", string(id)).Msg("answer for unknown peer")
		return
	}
	if p.hasRemote {
		o.logger.Warn().Str("peer", string(id)).Msg("duplicate answer ignored")
		return
	}
	if err := p.conn.ApplyAnswer(m.Signal); err != nil {
		o.logger.Error().Err(err).Str("peer", string(id)).Msg("apply answer")
		o.evict(id)
		return
	}
	p.hasRemote = true
	o.flushCandidates(p)
}

// applyOffer answers the host. A failure here is fatal for the session.
func (o *Orchestrator) applyOffer(m protocol.Offer) {
	p, err := o.newPeer(domain.HostID)
	if err != nil {
		o.fail(err, "create peer connection")
		return
	}
	answer, err := p.conn.ApplyOffer(m.Signal)
	if err != nil {
		o.fail(err, "apply offer")
		return
	}
	p.hasRemote = true
	o.flushCandidates(p)
	if err := o.signal.Send(protocol.Answer{SessionID: o.session, TargetID: domain.HostID, Signal: answer}); err != nil {
		o.logger.Warn().Err(err).Msg("send answer")
	}
}

// addCandidate applies c once the remote description is known, buffering
// it until then. The host creates every connection before its client can
// send candidates, so on the host a candidate for an unknown id is stale.
func (o *Orchestrator) addCandidate(id domain.ClientID, c webrtc.ICECandidateInit) {
	p := o.conns[id]
	if p == nil && o.role == domain.RoleHost {
		o.logger.Debug().Str("peer", string(id)).Msg("candidate for unknown peer dropped")
		return
	}
	if p == nil || !p.hasRemote {
		o.candidates[id] = append(o.candidates[id], c)
		return
	}
	if err := p.conn.AddICECandidate(c); err != nil {
		o.logger.Warn().Err(err).Str("peer", string(id)).Msg("add ice candidate")
	}
}

func (o *Orchestrator) flushCandidates(p *peer) {
	buffered := o.candidates[p.id]
	delete(o.candidates, p.id)
	for _, c := range buffered {
		if err := p.conn.AddICECandidate(c); err != nil {
			o.logger.Warn().Err(err).Str("peer", string(p.id)).Msg("add buffered ice candidate")
		}
	}
}

// markConnected records a client's own report that its side is connected.
func (o *Orchestrator) markConnected(id domain.ClientID) {
	p := o.conns[id]
	if p == nil || p.state != StateNegotiating {
		return
	}
	p.state = StateConnected
	o.emit(Event{Kind: EventPeerConnected, ClientID: id})
}

func (o *Orchestrator) onPeerState(p *peer, s webrtc.PeerConnectionState) {
	o.logger.Debug().Str("peer", string(p.id)).Str("state", s.String()).Msg("peer state")
	switch s {
	case webrtc.PeerConnectionStateConnected:
		if p.state != StateNegotiating {
			return
		}
		p.state = StateConnected
		if p.timer != nil {
			p.timer.Stop()
		}
		if o.role == domain.RoleClient {
			msg := protocol.ClientConnected{SessionID: o.session, TargetID: domain.HostID, Status: protocol.StatusConnected}
			if err := o.signal.Send(msg); err != nil {
				o.logger.Warn().Err(err).Msg("send client-connected")
			}
		}
		o.emit(Event{Kind: EventPeerConnected, ClientID: p.id})
	case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
		if o.role == domain.RoleHost {
			o.evict(p.id)
			return
		}
		o.reset()
		o.emit(Event{Kind: EventConnectionLost})
	case webrtc.PeerConnectionStateDisconnected:
		o.logger.Info().Str("peer", string(p.id)).Msg("peer connectivity interrupted")
	}
}

// armOfferWait starts the stall guard for a joined client that has no
// connection yet. The first offer replaces it with the peer's own timer.
func (o *Orchestrator) armOfferWait() {
	o.stopOfferWait()
	gen := o.offerWaitGen
	o.offerWait = time.AfterFunc(o.timeout, func() {
		o.post(func() { o.onOfferWaitTimeout(gen) })
	})
}

func (o *Orchestrator) stopOfferWait() {
	if o.offerWait != nil {
		o.offerWait.Stop()
		o.offerWait = nil
	}
	o.offerWaitGen++
}

func (o *Orchestrator) onOfferWaitTimeout(gen uint64) {
	if o.offerWait == nil || gen != o.offerWaitGen {
		return
	}
	o.offerWait = nil
	o.logger.Warn().Dur("timeout", o.timeout).Msg("no offer from host")
	o.reset()
	o.emit(Event{Kind: EventNegotiationTimeout})
}

func (o *Orchestrator) onTimeout(p *peer) {
	if o.conns[p.id] != p || p.state != StateNegotiating {
		return
	}
	o.logger.Warn().Dur("timeout", o.timeout).Msg("negotiation timed out")
	o.reset()
	o.emit(Event{Kind: EventNegotiationTimeout})
}

// fail ends a client session after a local error.
func (o *Orchestrator) fail(err error, what string) {
	o.logger.Error().Err(err).Msg(what)
	o.reset()
	o.emit(Event{Kind: EventConnectionLost, Err: err})
}

// evict drops one client on the host side and tells the relay to forget
// it. Other peers are untouched.
func (o *Orchestrator) evict(id domain.ClientID) {
	if _, ok := o.conns[id]; ok {
		o.closePeer(id)
	}
	delete(o.candidates, id)
	o.control.Revoke(id)
	if err := o.signal.Send(protocol.PeerDisconnected{ClientID: id}); err != nil {
		o.logger.Warn().Err(err).Str("peer", string(id)).Msg("send peer-disconnected")
	}
	o.logger.Info().Str("peer", string(id)).Msg("peer evicted")
	o.emit(Event{Kind: EventPeerDisconnected, ClientID: id})
}

func (o *Orchestrator) closePeer(id domain.ClientID) {
	p := o.conns[id]
	delete(o.conns, id)
	delete(o.candidates, id)
	if p == nil {
		return
	}
	if p.timer != nil {
		p.timer.Stop()
	}
	if p.control != nil {
		_ = p.control.Close()
	}
	if err := p.conn.Close(); err != nil {
		o.logger.Debug().Err(err).Str("peer", string(id)).Msg("close peer connection")
	}
	p.state = StateClosed
}

// reset closes everything and forgets the session. Safe to call twice.
func (o *Orchestrator) reset() {
	o.stopOfferWait()
	for id := range o.conns {
		o.closePeer(id)
	}
	o.queue = nil
	clear(o.candidates)
	o.remoteTrack = nil
	o.ready = false
	o.session = ""
	o.self = ""
	if o.control != nil {
		o.control.Clear()
	}
}

func (o *Orchestrator) bindControl(p *peer, ch core.ControlChannel) {
	if p.control != nil && p.control != ch {
		_ = p.control.Close()
	}
	p.control = ch
	id := p.id

	ch.OnOpen(func() {
		o.post(func() {
			if o.conns[id] == p {
				o.emit(Event{Kind: EventControlOpen, ClientID: id})
			}
		})
	})
	ch.OnClose(func() {
		o.logger.Debug().Str("peer", string(id)).Msg("control channel closed")
	})
	if o.role != domain.RoleHost {
		return
	}
	ch.OnMessage(func(data []byte) {
		if err := o.control.Handle(id, data); err != nil {
			o.logger.Warn().Err(err).Str("peer", string(id)).Msg("control message dropped")
		}
	})
}
