package orch

import (
	"github.com/dkeye/Remote/internal/domain"
	"github.com/dkeye/Remote/internal/protocol"
)

// handle processes one inbound signaling message. Lifecycle messages are
// applied immediately; everything else waits in the queue until the
// session is established.
func (o *Orchestrator) handle(msg protocol.Message) {
	switch m := msg.(type) {
	case protocol.SessionCreated:
		if o.role != domain.RoleHost {
			o.ignore(msg)
			return
		}
		o.session, o.ready = m.SessionID, true
		o.logger.Info().Str("session", string(m.SessionID)).Msg("session created")
		o.emit(Event{Kind: EventSessionCreated, SessionID: m.SessionID})
		o.drainQueue()
	case protocol.SessionJoined:
		if o.role != domain.RoleClient {
			o.ignore(msg)
			return
		}
		o.session, o.self, o.ready = m.SessionID, m.ClientID, true
		o.logger.Info().Str("session", string(m.SessionID)).Str("client_id", string(m.ClientID)).Msg("session joined")
		o.armOfferWait()
		o.emit(Event{Kind: EventSessionJoined, SessionID: m.SessionID, ClientID: m.ClientID})
		o.drainQueue()
	case protocol.SessionNotFound:
		o.reset()
		o.emit(Event{Kind: EventSessionNotFound})
	case protocol.SessionRejected:
		o.reset()
		o.emit(Event{Kind: EventSessionRejected, SessionID: m.SessionID})
	case protocol.HostDisconnected:
		o.reset()
		o.emit(Event{Kind: EventHostDisconnected})
	default:
		if !o.ready {
			o.queue = append(o.queue, msg)
			return
		}
		o.dispatch(msg)
	}
}

// drainQueue replays queued messages in arrival order. A message may end
// the session, in which case the rest is discarded by reset.
func (o *Orchestrator) drainQueue() {
	for o.ready && len(o.queue) > 0 {
		msg := o.queue[0]
		o.queue = o.queue[1:]
		o.dispatch(msg)
	}
}

func (o *Orchestrator) dispatch(msg protocol.Message) {
	if o.role == domain.RoleHost {
		o.dispatchHost(msg)
		return
	}
	o.dispatchClient(msg)
}

func (o *Orchestrator) dispatchHost(msg protocol.Message) {
	switch m := msg.(type) {
	case protocol.ClientRequestJoin:
		o.emit(Event{Kind: EventJoinRequested, SessionID: m.SessionID, ClientID: m.ClientID})
	case protocol.PeerApproved:
		o.startOffer(m.ClientID)
	case protocol.Answer:
		o.applyAnswer(m.SenderID, m)
	case protocol.Candidate:
		o.addCandidate(m.SenderID, m.Signal)
	case protocol.ClientConnected:
		o.markConnected(m.SenderID)
	case protocol.PeerDisconnected:
		if _, ok := o.conns[m.ClientID]; ok {
			o.closePeer(m.ClientID)
		}
		delete(o.candidates, m.ClientID)
		o.control.Revoke(m.ClientID)
		o.emit(Event{Kind: EventPeerDisconnected, ClientID: m.ClientID})
	case protocol.ClientDisconnected:
		o.emit(Event{Kind: EventClientLeft, ClientID: m.ClientID})
	default:
		o.ignore(msg)
	}
}

func (o *Orchestrator) dispatchClient(msg protocol.Message) {
	switch m := msg.(type) {
	case protocol.Offer:
		o.applyOffer(m)
	case protocol.Candidate:
		o.addCandidate(domain.HostID, m.Signal)
	default:
		o.ignore(msg)
	}
}

func (o *Orchestrator) ignore(msg protocol.Message) {
	o.logger.Debug().Str("type", string(msg.MessageType())).Msg("message ignored")
}
